// Package session owns the client's authentication state: who is logged in,
// with which token, and whether that is still being resolved.
//
// A Store is an explicit object; there is no package-level instance. Every
// mutation replaces the whole State under a lock, so a Snapshot taken after a
// mutation returns always observes it. Subscribers are called synchronously
// after each mutation with the new snapshot, in mutation order.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/felixgeelhaar/meetdash/internal/domain"
	"github.com/felixgeelhaar/meetdash/internal/errors"
	"github.com/felixgeelhaar/meetdash/internal/log"
)

// State is an immutable view of the session.
type State struct {
	User          *domain.User `json:"user" yaml:"user"`
	Token         string       `json:"-" yaml:"-"`
	Authenticated bool         `json:"is_authenticated" yaml:"is_authenticated"`
	Loading       bool         `json:"is_loading" yaml:"is_loading"`
}

// Listener receives the state produced by a mutation. Listeners run one at a
// time and must not mutate the store that calls them.
type Listener func(State)

// Store holds the session state.
type Store struct {
	// notifyMu is held from a replacement until its listeners return, so
	// snapshots are delivered in the order they were produced.
	notifyMu sync.Mutex

	mu        sync.Mutex
	state     State
	listeners map[int]Listener
	nextID    int
	persister Persister
	logger    *log.Logger
	saveTO    time.Duration
	closed    bool
}

// Option configures a Store.
type Option func(*Store)

// WithPersister saves every authentication change to p and clears it on logout.
func WithPersister(p Persister) Option {
	return func(s *Store) { s.persister = p }
}

// WithLogger sets the logger used for persistence failures.
func WithLogger(l *log.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithSaveTimeout bounds each persistence write.
func WithSaveTimeout(d time.Duration) Option {
	return func(s *Store) { s.saveTO = d }
}

// New creates a logged-out store.
func New(opts ...Option) *Store {
	s := &Store{
		listeners: make(map[int]Listener),
		saveTO:    5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = log.OrDiscard(s.logger)
	return s
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Subscribe registers fn and returns a function that removes it.
func (s *Store) Subscribe(fn Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return func() {}
	}
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Login installs user and token and clears the loading flag.
func (s *Store) Login(user *domain.User, token string) {
	st := s.replace(func(st *State) {
		st.User = user.Clone()
		st.Token = token
		st.Loading = false
	})
	s.save(st)
}

// Logout resets to the logged-out state and clears persisted credentials.
func (s *Store) Logout() {
	s.replace(func(st *State) {
		*st = State{}
	})
	s.clearPersisted()
}

// SetToken replaces the token and keeps the user.
func (s *Store) SetToken(token string) {
	st := s.replace(func(st *State) {
		st.Token = token
	})
	s.save(st)
}

// UpdateUser applies fn to a copy of the current user and installs the result.
// It is a no-op when nobody is logged in.
func (s *Store) UpdateUser(fn func(*domain.User)) {
	applied := false
	st := s.replace(func(st *State) {
		if st.User == nil {
			return
		}
		u := st.User.Clone()
		fn(u)
		st.User = u
		applied = true
	})
	if applied {
		s.save(st)
	}
}

// SetLoading toggles the loading flag. It is never persisted.
func (s *Store) SetLoading(loading bool) {
	s.replace(func(st *State) {
		st.Loading = loading
	})
}

// Restore loads persisted credentials. The store reports Loading until it
// returns. Persisted JWTs that have already expired are discarded.
func (s *Store) Restore(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	s.SetLoading(true)

	p, err := s.persister.Load(ctx)
	if err != nil {
		s.SetLoading(false)
		return errors.Wrap(errors.ErrCodeSessionLoad, "failed to load saved session", err).
			WithSuggestion("Run 'meetdash auth logout' to discard the saved session")
	}
	if p == nil || p.Token == "" || p.User == nil {
		s.SetLoading(false)
		return nil
	}
	if exp, ok := TokenExpiry(p.Token); ok && !exp.After(time.Now()) {
		s.logger.Info("discarding expired session", "expired_at", exp)
		if err := s.persister.Clear(ctx); err != nil {
			s.logger.WithError(err).Warn("failed to clear expired session")
		}
		s.SetLoading(false)
		return nil
	}

	s.replace(func(st *State) {
		st.User = p.User.Clone()
		st.Token = p.Token
		st.Loading = false
	})
	return nil
}

// Close drops all subscribers and detaches the persister. Mutations after
// Close still update the state but notify nobody.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.listeners = make(map[int]Listener)
	s.persister = nil
}

func (s *Store) replace(mutate func(*State)) State {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	next := s.state.clone()
	mutate(&next)
	next.Authenticated = next.User != nil && next.Token != ""
	s.state = next
	snap := next.clone()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(snap.clone())
	}
	return snap
}

func (s *Store) currentPersister() Persister {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persister
}

func (s *Store) save(st State) {
	p := s.currentPersister()
	if p == nil || !st.Authenticated {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.saveTO)
	defer cancel()
	if err := p.Save(ctx, Persisted{Token: st.Token, User: st.User, SavedAt: time.Now().UTC()}); err != nil {
		s.logger.WithError(err).Warn("failed to persist session")
	}
}

func (s *Store) clearPersisted() {
	p := s.currentPersister()
	if p == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.saveTO)
	defer cancel()
	if err := p.Clear(ctx); err != nil {
		s.logger.WithError(err).Warn("failed to clear persisted session")
	}
}

func (st State) clone() State {
	st.User = st.User.Clone()
	return st
}
