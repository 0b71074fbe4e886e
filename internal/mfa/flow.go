// Package mfa implements second-factor enrollment as an explicit state
// machine, plus the disable, backup-code and device-listing operations.
//
// Setup material (QR payload and manual entry key) lives only in the Flow
// and is dropped on verification, cancellation or Close.
package mfa

import (
	"context"
	"strings"
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

// State is an enrollment state.
type State string

const (
	// StateIdle means no enrollment is underway
	StateIdle State = "idle"
	// StateRequesting means setup was sent and no answer arrived yet
	StateRequesting State = "requesting"
	// StateAwaitingVerification means setup material is held and a code is expected
	StateAwaitingVerification State = "awaiting_verification"
	// StateVerified means the device was activated
	StateVerified State = "verified"
	// StateFailed means the setup request was rejected
	StateFailed State = "failed"
)

// Sentinel errors, matched with errors.Is by code.
var (
	ErrBusy                 = errors.New(errors.ErrCodeMFABusy, "an MFA setup request is already in progress")
	ErrNoPendingSetup       = errors.New(errors.ErrCodeMFANoPendingSetup, "no MFA setup is awaiting verification")
	ErrInvalidCode          = errors.New(errors.ErrCodeMFAInvalidCode, "verification code must be exactly 6 digits")
	ErrConfirmationRequired = errors.New(errors.ErrCodeMFAConfirmationRequired, "this action must be confirmed explicitly")
	ErrClosed               = errors.New(errors.ErrCodeMFAClosed, "the MFA flow has been closed")
)

// Toast messages.
const (
	MsgEnabled          = "MFA enabled successfully"
	MsgDisabled         = "MFA disabled successfully"
	MsgCodesRegenerated = "Backup codes regenerated"
	MsgSMSSent          = "SMS verification code sent"
)

// SetupRequest starts enrolling a device.
type SetupRequest struct {
	DeviceType  domain.DeviceType
	DeviceName  string
	PhoneNumber string
}

// SetupMaterial is what the user needs to finish enrollment. SMS devices
// carry no QR code or key.
type SetupMaterial struct {
	DeviceID       string `json:"device_id,omitempty" yaml:"device_id,omitempty"`
	QRCode         string `json:"qr_code,omitempty" yaml:"qr_code,omitempty"`
	ManualEntryKey string `json:"manual_entry_key,omitempty" yaml:"manual_entry_key,omitempty"`
	Message        string `json:"message,omitempty" yaml:"message,omitempty"`
}

// Snapshot is a copy of the flow state.
type Snapshot struct {
	State       State             `json:"state" yaml:"state"`
	DeviceType  domain.DeviceType `json:"device_type,omitempty" yaml:"device_type,omitempty"`
	DeviceName  string            `json:"device_name,omitempty" yaml:"device_name,omitempty"`
	PhoneNumber string            `json:"phone_number,omitempty" yaml:"phone_number,omitempty"`
	Material    *SetupMaterial    `json:"material,omitempty" yaml:"material,omitempty"`
	BackupCodes []string          `json:"backup_codes,omitempty" yaml:"backup_codes,omitempty"`
	Err         error             `json:"-" yaml:"-"`
}

// Backend is the subset of the API client the flow uses.
type Backend interface {
	SetupMFA(ctx context.Context, s api.MFASetup) (*api.MFASetupResponse, error)
	VerifyMFA(ctx context.Context, v api.MFAVerify) (*api.BackupCodesResponse, error)
	DisableMFA(ctx context.Context, password string) (*api.MessageResponse, error)
	MFADevices(ctx context.Context) ([]domain.MFADevice, error)
	RegenerateBackupCodes(ctx context.Context, password string) (*api.BackupCodesResponse, error)
	ResendSMS(ctx context.Context) (*api.MessageResponse, error)
	SendSMSCode(ctx context.Context, deviceID string) (*api.MessageResponse, error)
}

// Notifier receives success toasts.
type Notifier interface {
	Success(message string)
}

// Flow is one enrollment. It is safe for concurrent use.
type Flow struct {
	backend  Backend
	store    *session.Store
	cache    *cache.Cache
	notifier Notifier
	logger   *log.Logger
	metrics  *metrics.Metrics

	mu        sync.Mutex
	state     State
	req       SetupRequest
	material  *SetupMaterial
	codes     []string
	lastErr   error
	verifying bool
	closed    bool
	// gen changes whenever pending work must be discarded; responses
	// carrying an older value are dropped.
	gen uint64
}

// Option configures a Flow.
type Option func(*Flow)

// WithCache shares the query cache holding the device list.
func WithCache(c *cache.Cache) Option {
	return func(f *Flow) { f.cache = c }
}

// WithNotifier sets where success toasts go.
func WithNotifier(n Notifier) Option {
	return func(f *Flow) { f.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(f *Flow) { f.logger = l }
}

// WithMetrics records state transitions.
func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Flow) { f.metrics = m }
}

// New creates an idle flow.
func New(backend Backend, store *session.Store, opts ...Option) *Flow {
	f := &Flow{backend: backend, store: store, state: StateIdle}
	for _, opt := range opts {
		opt(f)
	}
	if f.cache == nil {
		f.cache = cache.New()
	}
	f.logger = log.OrDiscard(f.logger).WithGroup("mfa")
	return f
}

// Snapshot returns the current state.
func (f *Flow) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshotLocked()
}

// State returns the current state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Setup asks the backend for enrollment material. It is accepted from Idle,
// Failed and Verified. If the flow is cancelled or closed before the answer
// arrives the answer is dropped and the returned snapshot reflects that.
func (f *Flow) Setup(ctx context.Context, req SetupRequest) (Snapshot, error) {
	req.DeviceName = strings.TrimSpace(req.DeviceName)
	req.PhoneNumber = strings.TrimSpace(req.PhoneNumber)
	if err := checkSetup(req); err != nil {
		return f.Snapshot(), err
	}

	f.mu.Lock()
	switch {
	case f.closed:
		f.mu.Unlock()
		return Snapshot{State: StateIdle}, ErrClosed
	case f.state == StateRequesting:
		f.mu.Unlock()
		return f.Snapshot(), ErrBusy
	case f.state == StateAwaitingVerification:
		f.mu.Unlock()
		return f.Snapshot(), errors.New(errors.ErrCodeMFABusy, "an MFA setup is awaiting verification").
			WithSuggestion("cancel the pending setup before starting a new one")
	}
	if f.state != StateIdle {
		f.transitionLocked(StateIdle)
	}
	f.gen++
	gen := f.gen
	f.req = req
	f.material = nil
	f.codes = nil
	f.lastErr = nil
	f.transitionLocked(StateRequesting)
	f.mu.Unlock()

	resp, err := f.backend.SetupMFA(ctx, api.MFASetup{
		DeviceType:  req.DeviceType,
		DeviceName:  req.DeviceName,
		PhoneNumber: req.PhoneNumber,
	})

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gen != gen {
		f.logger.Debug("dropped stale setup response")
		return f.snapshotLocked(), nil
	}
	if err != nil {
		f.lastErr = err
		f.transitionLocked(StateFailed)
		return f.snapshotLocked(), err
	}
	f.material = &SetupMaterial{
		DeviceID:       resp.DeviceID,
		QRCode:         resp.QRCode,
		ManualEntryKey: resp.ManualEntryKey,
		Message:        resp.Message,
	}
	f.transitionLocked(StateAwaitingVerification)
	return f.snapshotLocked(), nil
}

// Verify submits the one-time code. A rejected code keeps the flow awaiting
// verification with its material so the user can retry.
func (f *Flow) Verify(ctx context.Context, code string) (Snapshot, error) {
	code = strings.TrimSpace(code)

	f.mu.Lock()
	switch {
	case f.closed:
		f.mu.Unlock()
		return Snapshot{State: StateIdle}, ErrClosed
	case f.state != StateAwaitingVerification:
		f.mu.Unlock()
		return f.Snapshot(), ErrNoPendingSetup
	case !validate.IsOTPCode(code):
		f.mu.Unlock()
		return f.Snapshot(), ErrInvalidCode
	case f.verifying:
		f.mu.Unlock()
		return f.Snapshot(), ErrBusy
	}
	f.verifying = true
	gen := f.gen
	deviceID := f.material.DeviceID
	f.mu.Unlock()

	resp, err := f.backend.VerifyMFA(ctx, api.MFAVerify{OTPCode: code, DeviceID: deviceID})

	f.mu.Lock()
	if f.gen != gen {
		// verifying was already reset by Cancel or Close.
		snap := f.snapshotLocked()
		f.mu.Unlock()
		f.logger.Debug("dropped stale verification response")
		return snap, nil
	}
	f.verifying = false
	if err != nil {
		f.lastErr = err
		snap := f.snapshotLocked()
		f.mu.Unlock()
		f.metrics.RecordError(err)
		return snap, err
	}
	f.material = nil
	f.lastErr = nil
	f.codes = append([]string(nil), resp.BackupCodes...)
	f.transitionLocked(StateVerified)
	snap := f.snapshotLocked()
	f.mu.Unlock()

	f.cache.Invalidate(cache.KeyMFADevices)
	f.store.UpdateUser(func(u *domain.User) { u.IsMFAEnabled = true })
	f.notify(resp.Message, MsgEnabled)
	return snap, nil
}

// Cancel discards pending setup material and any in-flight answer and
// returns to Idle without contacting the backend.
func (f *Flow) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.resetLocked()
	if f.state != StateIdle {
		f.transitionLocked(StateIdle)
	}
}

// Close tears the flow down. In-flight answers are dropped and every later
// enrollment call fails with ErrClosed.
func (f *Flow) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	f.resetLocked()
	f.state = StateIdle
}

// ResendSMS asks for a new code for the SMS device awaiting verification.
func (f *Flow) ResendSMS(ctx context.Context) error {
	f.mu.Lock()
	closed := f.closed
	pending := f.state == StateAwaitingVerification && f.req.DeviceType == domain.DeviceSMS
	f.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if !pending {
		return errors.New(errors.ErrCodeMFANoPendingSetup, "no SMS device is awaiting verification").
			WithSuggestion("meetdash mfa setup --type sms")
	}
	resp, err := f.backend.ResendSMS(ctx)
	if err != nil {
		return err
	}
	f.notify(resp.Message, MsgSMSSent)
	return nil
}

// SendSMSCode sends a login code to an enrolled SMS device.
func (f *Flow) SendSMSCode(ctx context.Context, deviceID string) error {
	if strings.TrimSpace(deviceID) == "" {
		return errors.NewValidationError(map[string]string{"device_id": "is required"})
	}
	resp, err := f.backend.SendSMSCode(ctx, deviceID)
	if err != nil {
		return err
	}
	f.notify(resp.Message, MsgSMSSent)
	return nil
}

// Disable turns MFA off. It needs explicit confirmation and the current
// password; a failure changes nothing locally.
func (f *Flow) Disable(ctx context.Context, password string, confirmed bool) error {
	if !confirmed {
		return ErrConfirmationRequired
	}
	if password == "" {
		return errors.NewValidationError(map[string]string{"password": "is required"})
	}
	resp, err := f.backend.DisableMFA(ctx, password)
	if err != nil {
		return err
	}
	f.cache.Invalidate(cache.KeyMFADevices)
	f.store.UpdateUser(func(u *domain.User) { u.IsMFAEnabled = false })
	f.notify(resp.Message, MsgDisabled)
	return nil
}

// RegenerateBackupCodes replaces the backup codes and returns the new ones.
func (f *Flow) RegenerateBackupCodes(ctx context.Context, password string, confirmed bool) ([]string, error) {
	if !confirmed {
		return nil, ErrConfirmationRequired
	}
	if password == "" {
		return nil, errors.NewValidationError(map[string]string{"password": "is required"})
	}
	resp, err := f.backend.RegenerateBackupCodes(ctx, password)
	if err != nil {
		return nil, err
	}
	f.cache.Invalidate(cache.KeyMFADevices)
	f.notify(resp.Message, MsgCodesRegenerated)
	return resp.BackupCodes, nil
}

// Devices lists enrolled devices. The list is cached and only ever replaced
// by a fresh fetch.
func (f *Flow) Devices(ctx context.Context) ([]domain.MFADevice, error) {
	devices, err := cache.Fetch(ctx, f.cache, cache.KeyMFADevices, f.backend.MFADevices)
	if err != nil {
		return nil, err
	}
	return append([]domain.MFADevice(nil), devices...), nil
}

func (f *Flow) notify(msg, fallback string) {
	if f.notifier == nil {
		return
	}
	if msg == "" {
		msg = fallback
	}
	f.notifier.Success(msg)
}

func (f *Flow) resetLocked() {
	f.gen++
	f.req = SetupRequest{}
	f.material = nil
	f.codes = nil
	f.lastErr = nil
	f.verifying = false
}

func (f *Flow) transitionLocked(to State) {
	from := f.state
	f.state = to
	f.metrics.RecordMFATransition(string(from), string(to))
	f.logger.Debug("state changed", "from", from, "to", to)
}

func (f *Flow) snapshotLocked() Snapshot {
	s := Snapshot{
		State:       f.state,
		DeviceType:  f.req.DeviceType,
		DeviceName:  f.req.DeviceName,
		PhoneNumber: f.req.PhoneNumber,
		BackupCodes: append([]string(nil), f.codes...),
		Err:         f.lastErr,
	}
	if f.material != nil {
		m := *f.material
		s.Material = &m
	}
	return s
}

func checkSetup(req SetupRequest) error {
	fields := make(map[string]string)
	switch req.DeviceType {
	case domain.DeviceTOTP:
	case domain.DeviceSMS:
		if req.PhoneNumber == "" {
			fields["phone_number"] = "is required for SMS devices"
		} else if !validate.IsPhoneNumber(req.PhoneNumber) {
			fields["phone_number"] = "must be a valid phone number"
		}
	default:
		fields["device_type"] = "must be one of: totp sms"
	}
	if req.DeviceName == "" {
		fields["device_name"] = "is required"
	}
	if len(fields) > 0 {
		return errors.NewValidationError(fields)
	}
	return nil
}
