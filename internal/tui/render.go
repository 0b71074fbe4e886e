package tui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/felixgeelhaar/meetdash/internal/ui"
)

// Renderer writes styled output for the CLI.
type Renderer struct {
	w      io.Writer
	styles Styles
}

// NewRenderer creates a renderer writing to w.
func NewRenderer(w io.Writer, noColor bool) *Renderer {
	return &Renderer{w: w, styles: StylesFor(noColor)}
}

// Styles returns the active styles.
func (r *Renderer) Styles() Styles { return r.styles }

func (r *Renderer) kindStyle(k ui.Kind) (lipgloss.Style, string) {
	switch k {
	case ui.KindSuccess:
		return r.styles.Success, "✓"
	case ui.KindError:
		return r.styles.Error, "✗"
	case ui.KindWarning:
		return r.styles.Warning, "!"
	default:
		return r.styles.Info, "i"
	}
}

// Toast renders a single notification line.
func (r *Renderer) Toast(n ui.Notification) string {
	style, icon := r.kindStyle(n.Kind)
	title := n.Title
	if title == "" {
		title = n.Kind.Title()
	}
	return style.Render(icon+" "+title+":") + " " + n.Message
}

// Sink echoes notifications as toasts.
func (r *Renderer) Sink() ui.Sink {
	return func(n ui.Notification) {
		fmt.Fprintln(r.w, r.Toast(n))
	}
}

// Title writes a heading.
func (r *Renderer) Title(s string) {
	fmt.Fprintln(r.w, r.styles.Title.Render(s))
}

// Line writes plain text.
func (r *Renderer) Line(format string, args ...any) {
	fmt.Fprintf(r.w, format+"\n", args...)
}

// Muted writes de-emphasised text.
func (r *Renderer) Muted(s string) {
	fmt.Fprintln(r.w, r.styles.Muted.Render(s))
}

// KeyValues writes aligned label/value pairs. Empty values are skipped.
func (r *Renderer) KeyValues(pairs [][2]string) {
	width := 0
	for _, p := range pairs {
		if p[1] != "" && len(p[0]) > width {
			width = len(p[0])
		}
	}
	for _, p := range pairs {
		if p[1] == "" {
			continue
		}
		label := r.styles.Label.Render(p[0] + ":")
		fmt.Fprintf(r.w, "%s%s %s\n", label, strings.Repeat(" ", width-len(p[0])), p[1])
	}
}

// Table writes rows under headers. An empty table prints empty instead.
func (r *Renderer) Table(headers []string, rows [][]string, empty string) {
	if len(rows) == 0 {
		r.Muted(empty)
		return
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(r.styles.Muted).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return r.styles.Header
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
	fmt.Fprintln(r.w, t.Render())
}

// Codes writes one-time codes in a bordered two-column block.
func (r *Renderer) Codes(title string, codes []string) {
	var b strings.Builder
	for i, c := range codes {
		b.WriteString(r.styles.Code.Render(c))
		if i%2 == 0 && i < len(codes)-1 {
			b.WriteString("  ")
		} else if i < len(codes)-1 {
			b.WriteString("\n")
		}
	}
	r.Title(title)
	fmt.Fprintln(r.w, r.styles.Border.Render(b.String()))
}
