// Package auth drives the account flows of the dashboard: login, registration,
// logout, profile and password management. It validates forms locally, calls
// the backend through the API client and writes results to the session store.
//
// Remote failures have already been presented by the API client when they
// reach this package, so the orchestrator only returns them.
package auth

import (
	"context"
	"sync"

	"github.com/felixgeelhaar/meetdash/internal/api"
	"github.com/felixgeelhaar/meetdash/internal/cache"
	"github.com/felixgeelhaar/meetdash/internal/domain"
	"github.com/felixgeelhaar/meetdash/internal/errors"
	"github.com/felixgeelhaar/meetdash/internal/log"
	"github.com/felixgeelhaar/meetdash/internal/metrics"
	"github.com/felixgeelhaar/meetdash/internal/session"
	"github.com/felixgeelhaar/meetdash/internal/validate"
)

// Toast messages raised on success.
const (
	MsgWelcomeBack       = "Welcome back!"
	MsgRegistered        = "Registration successful!"
	MsgLoggedOut         = "Logged out successfully"
	MsgProfileUpdated    = "Profile updated successfully"
	MsgPasswordChanged   = "Password changed successfully"
	MsgEmailVerified     = "Email verified successfully"
	MsgVerificationSent  = "Verification email sent"
	MsgResetRequested    = "If an account with this email exists, a password reset link has been sent."
	MsgPasswordResetDone = "Password reset successfully"
)

// Notifier receives success toasts.
type Notifier interface {
	Success(message string)
}

type nopNotifier struct{}

func (nopNotifier) Success(string) {}

// Backend is the subset of the API client the orchestrator uses.
type Backend interface {
	Login(ctx context.Context, cr api.Credentials) (*api.AuthResponse, error)
	Register(ctx context.Context, r api.Registration) (*api.AuthResponse, error)
	Logout(ctx context.Context) error
	Profile(ctx context.Context) (*domain.Profile, error)
	UpdateProfile(ctx context.Context, u api.ProfileUpdate) (*domain.Profile, error)
	ChangePassword(ctx context.Context, pc api.PasswordChange) (*api.TokenResponse, error)
	ForcePasswordChange(ctx context.Context, fc api.ForcedPasswordChange) (*api.TokenResponse, error)
	VerifyEmail(ctx context.Context, token string) (*api.MessageResponse, error)
	ResendVerification(ctx context.Context, email string) (*api.MessageResponse, error)
	RequestPasswordReset(ctx context.Context, email string) (*api.MessageResponse, error)
	ConfirmPasswordReset(ctx context.Context, r api.PasswordResetConfirm) (*api.MessageResponse, error)
}

// Orchestrator coordinates the account flows.
type Orchestrator struct {
	backend  Backend
	store    *session.Store
	cache    *cache.Cache
	notifier Notifier
	logger   *log.Logger
	metrics  *metrics.Metrics

	mu          sync.Mutex
	owner       string
	unsubscribe func()
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCache shares the query cache with other components.
func WithCache(c *cache.Cache) Option {
	return func(o *Orchestrator) { o.cache = c }
}

// WithNotifier sets where success toasts go.
func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithMetrics records auth outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New creates an orchestrator writing to store.
func New(backend Backend, store *session.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{backend: backend, store: store}
	for _, opt := range opts {
		opt(o)
	}
	if o.cache == nil {
		o.cache = cache.New()
	}
	if o.notifier == nil {
		o.notifier = nopNotifier{}
	}
	o.logger = log.OrDiscard(o.logger).WithGroup("auth")
	o.owner = owner(store.Snapshot())
	o.unsubscribe = store.Subscribe(o.watch)
	return o
}

// Close stops watching the session store.
func (o *Orchestrator) Close() {
	o.unsubscribe()
}

func owner(st session.State) string {
	if !st.Authenticated || st.User == nil {
		return ""
	}
	return st.User.ID
}

// watch clears cached queries whenever the session stops belonging to the
// user they were fetched for, including a logout forced by a rejected token.
func (o *Orchestrator) watch(st session.State) {
	id := owner(st)
	o.mu.Lock()
	changed := id != o.owner
	o.owner = id
	o.mu.Unlock()
	if changed {
		o.logger.Debug("session owner changed, clearing query cache")
		o.cache.Clear()
	}
}

// Store returns the session store the orchestrator writes to.
func (o *Orchestrator) Store() *session.Store { return o.store }

// Cache returns the query cache.
func (o *Orchestrator) Cache() *cache.Cache { return o.cache }

// Login signs the user in. On failure the session is left untouched.
func (o *Orchestrator) Login(ctx context.Context, cr api.Credentials) (*domain.User, error) {
	if err := validate.Struct(cr); err != nil {
		return nil, o.done("login", err)
	}
	resp, err := o.backend.Login(ctx, cr)
	if err != nil {
		return nil, o.done("login", err)
	}
	if resp.User == nil || resp.Token == "" {
		return nil, o.done("login", errors.New(errors.ErrCodeAPIDecode, "login response is missing the user or token"))
	}
	o.cache.Clear()
	o.store.Login(resp.User, resp.Token)
	o.notifier.Success(MsgWelcomeBack)
	o.logger.Info("logged in", "user_id", resp.User.ID)
	return resp.User, o.done("login", nil)
}

// Register creates an account and signs it in with whatever the backend
// returned. Without a token the user stays signed out.
func (o *Orchestrator) Register(ctx context.Context, r api.Registration) (*domain.User, error) {
	if err := validate.Struct(r); err != nil {
		return nil, o.done("register", err)
	}
	resp, err := o.backend.Register(ctx, r)
	if err != nil {
		return nil, o.done("register", err)
	}
	if resp.User != nil {
		o.cache.Clear()
		o.store.Login(resp.User, resp.Token)
	}
	msg := resp.Message
	if msg == "" {
		msg = MsgRegistered
	}
	o.notifier.Success(msg)
	return resp.User, o.done("register", nil)
}

// Logout ends the session. Local state and the query cache are always
// cleared; a failed remote call is only logged.
func (o *Orchestrator) Logout(ctx context.Context) {
	err := o.backend.Logout(ctx)
	o.store.Logout()
	o.cache.Clear()
	if err != nil {
		o.logger.WithError(err).Warn("remote logout failed, cleared local session")
		o.metrics.RecordAuth("logout", err)
		return
	}
	o.notifier.Success(MsgLoggedOut)
	o.metrics.RecordAuth("logout", nil)
}

// CurrentUser returns a copy of the signed-in user, or nil.
func (o *Orchestrator) CurrentUser() *domain.User {
	st := o.store.Snapshot()
	if !st.Authenticated {
		return nil
	}
	return st.User
}

// HasRole reports whether the signed-in user holds the named role.
func (o *Orchestrator) HasRole(name string) bool {
	u := o.CurrentUser()
	return u != nil && u.HasRole(name)
}

// HasPermission reports whether any role of the signed-in user grants codename.
func (o *Orchestrator) HasPermission(codename string) bool {
	u := o.CurrentUser()
	return u != nil && u.HasPermission(codename)
}

// Permissions lists the signed-in user's permissions without duplicates.
func (o *Orchestrator) Permissions() []domain.Permission {
	u := o.CurrentUser()
	if u == nil {
		return nil
	}
	return u.Permissions()
}

// FetchProfile loads the profile, serving it from cache when fresh, and
// merges it into the session user.
func (o *Orchestrator) FetchProfile(ctx context.Context) (*domain.Profile, error) {
	if !o.store.Snapshot().Authenticated {
		return nil, errors.NewNotAuthenticatedError()
	}
	p, err := cache.Fetch(ctx, o.cache, cache.KeyProfile, o.backend.Profile)
	if err != nil {
		return nil, err
	}
	profile := p.Clone()
	o.store.UpdateUser(func(u *domain.User) { u.Profile = profile })
	out := profile.Clone()
	return &out, nil
}

// UpdateProfile applies a partial update and merges the result.
func (o *Orchestrator) UpdateProfile(ctx context.Context, u api.ProfileUpdate) (*domain.Profile, error) {
	if !o.store.Snapshot().Authenticated {
		return nil, o.done("update_profile", errors.NewNotAuthenticatedError())
	}
	if err := validate.Struct(u); err != nil {
		return nil, o.done("update_profile", err)
	}
	if u.IsEmpty() {
		return nil, o.done("update_profile", errors.NewValidationError(map[string]string{"profile": "no changes given"}))
	}
	p, err := o.backend.UpdateProfile(ctx, u)
	if err != nil {
		return nil, o.done("update_profile", err)
	}
	profile := *p
	o.store.UpdateUser(func(usr *domain.User) { usr.Profile = profile })
	o.cache.Invalidate(cache.KeyProfile)
	o.notifier.Success(MsgProfileUpdated)
	return p, o.done("update_profile", nil)
}

// ChangePassword changes the password and installs a rotated token.
func (o *Orchestrator) ChangePassword(ctx context.Context, pc api.PasswordChange) error {
	if err := validate.Struct(pc); err != nil {
		return o.done("change_password", err)
	}
	resp, err := o.backend.ChangePassword(ctx, pc)
	if err != nil {
		return o.done("change_password", err)
	}
	if resp.Token != "" {
		o.store.SetToken(resp.Token)
	}
	o.notifier.Success(orDefault(resp.Message, MsgPasswordChanged))
	return o.done("change_password", nil)
}

// ForcePasswordChange replaces an expired password and reactivates the
// account in the session.
func (o *Orchestrator) ForcePasswordChange(ctx context.Context, fc api.ForcedPasswordChange) error {
	if err := validate.Struct(fc); err != nil {
		return o.done("force_password_change", err)
	}
	resp, err := o.backend.ForcePasswordChange(ctx, fc)
	if err != nil {
		return o.done("force_password_change", err)
	}
	if resp.Token != "" {
		o.store.SetToken(resp.Token)
	}
	o.store.UpdateUser(func(u *domain.User) { u.AccountStatus = domain.StatusActive })
	o.notifier.Success(orDefault(resp.Message, MsgPasswordChanged))
	return o.done("force_password_change", nil)
}

// VerifyEmail confirms an address. A signed-in user pending verification
// becomes active.
func (o *Orchestrator) VerifyEmail(ctx context.Context, token string) error {
	if token == "" {
		return o.done("verify_email", errors.NewValidationError(map[string]string{"token": "is required"}))
	}
	resp, err := o.backend.VerifyEmail(ctx, token)
	if err != nil {
		return o.done("verify_email", err)
	}
	o.store.UpdateUser(func(u *domain.User) {
		u.IsEmailVerified = true
		if u.AccountStatus == domain.StatusPendingVerification {
			u.AccountStatus = domain.StatusActive
		}
	})
	o.notifier.Success(orDefault(resp.Message, MsgEmailVerified))
	return o.done("verify_email", nil)
}

// ResendVerification mails a new verification link.
func (o *Orchestrator) ResendVerification(ctx context.Context, email string) error {
	if err := checkEmail(email); err != nil {
		return o.done("resend_verification", err)
	}
	resp, err := o.backend.ResendVerification(ctx, email)
	if err != nil {
		return o.done("resend_verification", err)
	}
	o.notifier.Success(orDefault(resp.Message, MsgVerificationSent))
	return o.done("resend_verification", nil)
}

// RequestPasswordReset mails a reset link.
func (o *Orchestrator) RequestPasswordReset(ctx context.Context, email string) error {
	if err := checkEmail(email); err != nil {
		return o.done("request_password_reset", err)
	}
	resp, err := o.backend.RequestPasswordReset(ctx, email)
	if err != nil {
		return o.done("request_password_reset", err)
	}
	o.notifier.Success(orDefault(resp.Message, MsgResetRequested))
	return o.done("request_password_reset", nil)
}

// ConfirmPasswordReset sets a new password from a mailed token.
func (o *Orchestrator) ConfirmPasswordReset(ctx context.Context, r api.PasswordResetConfirm) error {
	if err := validate.Struct(r); err != nil {
		return o.done("confirm_password_reset", err)
	}
	resp, err := o.backend.ConfirmPasswordReset(ctx, r)
	if err != nil {
		return o.done("confirm_password_reset", err)
	}
	o.notifier.Success(orDefault(resp.Message, MsgPasswordResetDone))
	return o.done("confirm_password_reset", nil)
}

func (o *Orchestrator) done(op string, err error) error {
	o.metrics.RecordAuth(op, err)
	if err != nil && errors.HasCode(err, errors.ErrCodeValidationFailed) {
		o.logger.Debug("form rejected", "operation", op, "error", err)
	}
	return err
}

func checkEmail(email string) error {
	if email == "" {
		return errors.NewValidationError(map[string]string{"email": "is required"})
	}
	if !validate.IsEmail(email) {
		return errors.NewValidationError(map[string]string{"email": "must be a valid email address"})
	}
	return nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
