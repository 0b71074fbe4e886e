// Package ui keeps the user-facing notification feed: toasts raised by the
// orchestrators and errors handed over by the API client.
package ui

import (
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/meetdash/internal/errors"
	"github.com/felixgeelhaar/meetdash/internal/log"
)

// MaxNotifications bounds the feed; older entries are dropped.
const MaxNotifications = 50

// Kind is the notification tone.
type Kind string

const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
	KindWarning Kind = "warning"
	KindInfo    Kind = "info"
)

// Title returns the default heading for the kind.
func (k Kind) Title() string {
	switch k {
	case KindSuccess:
		return "Success"
	case KindError:
		return "Error"
	case KindWarning:
		return "Warning"
	default:
		return "Info"
	}
}

// Notification is one feed entry.
type Notification struct {
	ID        string    `json:"id" yaml:"id"`
	Kind      Kind      `json:"type" yaml:"type"`
	Title     string    `json:"title" yaml:"title"`
	Message   string    `json:"message" yaml:"message"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Read      bool      `json:"read" yaml:"read"`
}

// Sink receives each notification as it is added.
type Sink func(Notification)

// Store holds notifications newest first.
type Store struct {
	mu     sync.Mutex
	items  []Notification
	sink   Sink
	logger *log.Logger
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithSink echoes every new notification, e.g. as a terminal toast.
func WithSink(s Sink) Option {
	return func(st *Store) { st.sink = s }
}

// WithLogger logs presented errors.
func WithLogger(l *log.Logger) Option {
	return func(st *Store) { st.logger = l }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = log.OrDiscard(s.logger)
	return s
}

// Add prepends a notification and trims the feed to MaxNotifications.
func (s *Store) Add(kind Kind, title, message string) Notification {
	if title == "" {
		title = kind.Title()
	}
	n := Notification{
		ID:        uuid.NewString(),
		Kind:      kind,
		Title:     title,
		Message:   message,
		Timestamp: s.now().UTC(),
	}

	s.mu.Lock()
	s.items = append([]Notification{n}, s.items...)
	if len(s.items) > MaxNotifications {
		s.items = s.items[:MaxNotifications]
	}
	sink := s.sink
	s.mu.Unlock()

	if sink != nil {
		sink(n)
	}
	return n
}

// Success raises a success toast.
func (s *Store) Success(message string) { s.Add(KindSuccess, "", message) }

// Info raises an informational toast.
func (s *Store) Info(message string) { s.Add(KindInfo, "", message) }

// Warning raises a warning toast.
func (s *Store) Warning(message string) { s.Add(KindWarning, "", message) }

// Error raises an error toast.
func (s *Store) Error(message string) { s.Add(KindError, "", message) }

// PresentError shows a remote failure as an error toast and logs it.
func (s *Store) PresentError(err error) {
	if err == nil {
		return
	}
	msg := err.Error()
	var de *errors.DashError
	if errors.As(err, &de) {
		msg = de.Message
	}
	s.logger.WithError(err).Warn("request failed")
	s.Add(KindError, "", msg)
}

// MarkRead flags a notification as read. It reports whether id was found.
func (s *Store) MarkRead(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == id {
			s.items[i].Read = true
			return true
		}
	}
	return false
}

// MarkAllRead flags every notification as read.
func (s *Store) MarkAllRead() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		s.items[i].Read = true
	}
}

// Clear empties the feed.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = nil
}

// Notifications returns a copy of the feed, newest first.
func (s *Store) Notifications() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Notification(nil), s.items...)
}

// Unread counts unread notifications.
func (s *Store) Unread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, it := range s.items {
		if !it.Read {
			n++
		}
	}
	return n
}

// FileName is the feed file inside the home directory.
const FileName = "notifications.json"

// Load replaces the feed with the one stored at path. A missing file leaves
// the feed empty.
func (s *Store) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return errors.Wrap(errors.ErrCodeFileReadFailed, "failed to read notifications", err)
	}
	var items []Notification
	if err := json.Unmarshal(data, &items); err != nil {
		return errors.NewFileUnmarshalError(path, "JSON", err)
	}
	if len(items) > MaxNotifications {
		items = items[:MaxNotifications]
	}
	s.mu.Lock()
	s.items = items
	s.mu.Unlock()
	return nil
}

// Save writes the feed to path.
func (s *Store) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return errors.Wrap(errors.ErrCodeDirectoryFailed, "failed to create notifications directory", err)
	}
	data, err := json.MarshalIndent(s.Notifications(), "", "  ")
	if err != nil {
		return errors.Wrap(errors.ErrCodeFileMarshal, "failed to encode notifications", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.Wrap(errors.ErrCodeFileWriteFailed, "failed to write notifications", err)
	}
	return nil
}
