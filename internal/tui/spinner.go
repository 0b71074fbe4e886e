package tui

import (
	"context"
	"io"
	"os"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

type doneMsg struct{}

// spinModel animates a spinner until the work reports done.
type spinModel struct {
	spinner spinner.Model
	title   string
	done    bool
}

func newSpinModel(title string) spinModel {
	return spinModel{
		spinner: spinner.New(
			spinner.WithSpinner(spinner.MiniDot),
			spinner.WithStyle(DefaultStyles().Title),
		),
		title: title,
	}
}

func (m spinModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m spinModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if _, ok := msg.(doneMsg); ok {
		m.done = true
		return m, tea.Quit
	}
	var cmd tea.Cmd
	m.spinner, cmd = m.spinner.Update(msg)
	return m, cmd
}

func (m spinModel) View() string {
	if m.done {
		return ""
	}
	return m.spinner.View() + " " + m.title
}

// Spin runs fn while a spinner titled title animates on stderr. Without a
// terminal fn just runs.
func Spin(ctx context.Context, title string, fn func(context.Context) error) error {
	if !ShouldPrompt() {
		return fn(ctx)
	}
	return spin(ctx, os.Stderr, title, fn)
}

func spin(ctx context.Context, w io.Writer, title string, fn func(context.Context) error) error {
	p := tea.NewProgram(newSpinModel(title),
		tea.WithContext(ctx),
		tea.WithOutput(w),
		tea.WithInput(nil),
		tea.WithoutSignalHandler(),
	)
	errc := make(chan error, 1)
	go func() {
		errc <- fn(ctx)
		// Send returns once the program has stopped, so a failed Run never
		// leaves this goroutine behind.
		p.Send(doneMsg{})
	}()
	// a spinner that cannot draw is not worth failing the command for
	_, _ = p.Run()
	return <-errc
}
