package mfa

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/meetdash/internal/api"
	"github.com/felixgeelhaar/meetdash/internal/apitest"
	"github.com/felixgeelhaar/meetdash/internal/cache"
	"github.com/felixgeelhaar/meetdash/internal/domain"
	"github.com/felixgeelhaar/meetdash/internal/errors"
	"github.com/felixgeelhaar/meetdash/internal/metrics"
	"github.com/felixgeelhaar/meetdash/internal/session"
	"github.com/felixgeelhaar/meetdash/internal/ui"
)

const (
	email    = "katherine@example.com"
	password = "Orbit123!"

	setupPath  = "/users/mfa/setup/"
	verifyPath = "/users/mfa/verify/"
)

type harness struct {
	backend *apitest.Backend
	store   *session.Store
	feed    *ui.Store
	cache   *cache.Cache
	metrics *metrics.Metrics
	flow    *Flow
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		backend: apitest.New(t),
		store:   session.New(),
		feed:    ui.New(),
		cache:   cache.New(),
	}
	t.Cleanup(h.store.Close)
	_, h.metrics = metrics.NewRegistry()

	token := h.backend.AddUser(domain.User{Email: email, FirstName: "Katherine"}, password)
	u, _ := h.backend.User(email)
	h.store.Login(&u, token)

	cfg := api.DefaultConfig()
	cfg.BaseURL = h.backend.URL()
	client := api.New(cfg, api.WithSession(h.store), api.WithPresenter(h.feed))
	h.flow = New(client, h.store,
		WithCache(h.cache),
		WithNotifier(h.feed),
		WithMetrics(h.metrics),
	)
	t.Cleanup(h.flow.Close)
	return h
}

func totp() SetupRequest {
	return SetupRequest{DeviceType: domain.DeviceTOTP, DeviceName: "Phone"}
}

func TestTOTPEnrollment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	snap, err := h.flow.Setup(ctx, totp())
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingVerification, snap.State)
	require.NotNil(t, snap.Material)
	assert.NotEmpty(t, snap.Material.QRCode)
	assert.Equal(t, "JBSWY3DPEHPK3PXP", snap.Material.ManualEntryKey)

	snap, err = h.flow.Verify(ctx, apitest.ValidOTP)
	require.NoError(t, err)
	assert.Equal(t, StateVerified, snap.State)
	assert.Nil(t, snap.Material, "material discarded after verification")
	assert.Len(t, snap.BackupCodes, 8)
	assert.True(t, h.store.Snapshot().User.IsMFAEnabled)

	devices, err := h.flow.Devices(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.True(t, devices[0].IsPrimary)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.MFATransitions.WithLabelValues("idle", "requesting")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.MFATransitions.WithLabelValues("awaiting_verification", "verified")))
}

func TestSMSEnrollmentHasNoMaterial(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	snap, err := h.flow.Setup(ctx, SetupRequest{DeviceType: domain.DeviceSMS, DeviceName: "Work", PhoneNumber: "+1 (555) 123-4567"})
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingVerification, snap.State)
	require.NotNil(t, snap.Material)
	assert.Empty(t, snap.Material.QRCode)
	assert.Empty(t, snap.Material.ManualEntryKey)

	require.NoError(t, h.flow.ResendSMS(ctx))
	assert.Equal(t, 1, h.backend.Calls(http.MethodPost, "/users/mfa/resend-sms/"))
}

func TestSetupValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		req   SetupRequest
		field string
	}{
		{"missing name", SetupRequest{DeviceType: domain.DeviceTOTP, DeviceName: "  "}, "device_name"},
		{"sms without phone", SetupRequest{DeviceType: domain.DeviceSMS, DeviceName: "Work"}, "phone_number"},
		{"sms bad phone", SetupRequest{DeviceType: domain.DeviceSMS, DeviceName: "Work", PhoneNumber: "12345"}, "phone_number"},
		{"backup is not enrollable", SetupRequest{DeviceType: domain.DeviceBackup, DeviceName: "x"}, "device_type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, err := h.flow.Setup(ctx, tt.req)
			var de *errors.DashError
			require.True(t, errors.As(err, &de))
			assert.Contains(t, de.Fields, tt.field)
			assert.Equal(t, StateIdle, snap.State)
		})
	}
	assert.Zero(t, h.backend.Calls(http.MethodPost, setupPath))
}

func TestSetupRejectedWhileRequesting(t *testing.T) {
	h := newHarness(t)
	release := h.backend.Block(http.MethodPost, setupPath)

	done := make(chan error, 1)
	go func() {
		_, err := h.flow.Setup(context.Background(), totp())
		done <- err
	}()
	require.Eventually(t, func() bool { return h.flow.State() == StateRequesting }, time.Second, 5*time.Millisecond)

	_, err := h.flow.Setup(context.Background(), totp())
	assert.ErrorIs(t, err, ErrBusy)

	release()
	require.NoError(t, <-done)
	assert.Equal(t, StateAwaitingVerification, h.flow.State())
	assert.Equal(t, 1, h.backend.Calls(http.MethodPost, setupPath), "no duplicate in-flight request")
}

func TestSetupFailure(t *testing.T) {
	h := newHarness(t)
	h.backend.Fail(http.MethodPost, setupPath, http.StatusBadRequest, map[string]string{"error": "Device limit reached"})

	snap, err := h.flow.Setup(context.Background(), totp())
	require.Error(t, err)
	assert.Equal(t, StateFailed, snap.State)
	assert.Equal(t, err, snap.Err)
	assert.Nil(t, snap.Material)

	snap, err = h.flow.Setup(context.Background(), totp())
	require.NoError(t, err, "retry from failed")
	assert.Equal(t, StateAwaitingVerification, snap.State)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.MFATransitions.WithLabelValues("failed", "idle")))
}

func TestVerifyCodeFormat(t *testing.T) {
	h := newHarness(t)
	_, err := h.flow.Setup(context.Background(), totp())
	require.NoError(t, err)

	for _, code := range []string{"12345", "1234567", "12a456", ""} {
		_, err := h.flow.Verify(context.Background(), code)
		assert.ErrorIs(t, err, ErrInvalidCode, code)
	}
	assert.Zero(t, h.backend.Calls(http.MethodPost, verifyPath))
	assert.Equal(t, StateAwaitingVerification, h.flow.State())
}

func TestWrongCodeKeepsMaterial(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first, err := h.flow.Setup(ctx, totp())
	require.NoError(t, err)

	snap, err := h.flow.Verify(ctx, "654321")
	require.Error(t, err)
	assert.Equal(t, StateAwaitingVerification, snap.State)
	require.NotNil(t, snap.Material)
	assert.Equal(t, first.Material.ManualEntryKey, snap.Material.ManualEntryKey)

	snap, err = h.flow.Verify(ctx, apitest.ValidOTP)
	require.NoError(t, err)
	assert.Equal(t, StateVerified, snap.State)
}

func TestVerifyWithoutSetup(t *testing.T) {
	h := newHarness(t)
	_, err := h.flow.Verify(context.Background(), apitest.ValidOTP)
	assert.ErrorIs(t, err, ErrNoPendingSetup)
}

func TestCancelDiscardsMaterial(t *testing.T) {
	h := newHarness(t)
	_, err := h.flow.Setup(context.Background(), totp())
	require.NoError(t, err)

	h.flow.Cancel()
	snap := h.flow.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.Nil(t, snap.Material)

	_, err = h.flow.Verify(context.Background(), apitest.ValidOTP)
	assert.ErrorIs(t, err, ErrNoPendingSetup)
	assert.Zero(t, h.backend.Calls(http.MethodPost, verifyPath))
}

func TestSetupWhileAwaitingNeedsCancel(t *testing.T) {
	h := newHarness(t)
	_, err := h.flow.Setup(context.Background(), totp())
	require.NoError(t, err)

	_, err = h.flow.Setup(context.Background(), totp())
	assert.True(t, errors.HasCode(err, errors.ErrCodeMFABusy))
}

func TestCancelDropsInFlightSetup(t *testing.T) {
	h := newHarness(t)
	release := h.backend.Block(http.MethodPost, setupPath)

	type result struct {
		snap Snapshot
		err  error
	}
	done := make(chan result, 1)
	go func() {
		snap, err := h.flow.Setup(context.Background(), totp())
		done <- result{snap, err}
	}()
	require.Eventually(t, func() bool { return h.flow.State() == StateRequesting }, time.Second, 5*time.Millisecond)

	h.flow.Cancel()
	release()

	res := <-done
	require.NoError(t, res.err, "stale answers are dropped without error")
	assert.Equal(t, StateIdle, res.snap.State)
	assert.Nil(t, h.flow.Snapshot().Material)
}

func TestCloseDropsInFlightVerify(t *testing.T) {
	h := newHarness(t)
	_, err := h.flow.Setup(context.Background(), totp())
	require.NoError(t, err)
	release := h.backend.Block(http.MethodPost, verifyPath)

	done := make(chan error, 1)
	go func() {
		_, err := h.flow.Verify(context.Background(), apitest.ValidOTP)
		done <- err
	}()
	require.Eventually(t, func() bool { return h.backend.Calls(http.MethodPost, verifyPath) == 1 }, time.Second, 5*time.Millisecond)

	h.flow.Close()
	release()

	require.NoError(t, <-done)
	assert.False(t, h.store.Snapshot().User.IsMFAEnabled, "closed flow does not touch the session")
	assert.Empty(t, messages(h.feed))

	_, err = h.flow.Setup(context.Background(), totp())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDisable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.backend.AddDevice(email, domain.MFADevice{ID: "d1", DeviceType: domain.DeviceTOTP, Name: "Phone", IsActive: true})
	h.store.UpdateUser(func(u *domain.User) { u.IsMFAEnabled = true })

	devices, err := h.flow.Devices(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 1)

	assert.ErrorIs(t, h.flow.Disable(ctx, password, false), ErrConfirmationRequired)
	assert.True(t, errors.HasCode(h.flow.Disable(ctx, "", true), errors.ErrCodeValidationFailed))

	require.Error(t, h.flow.Disable(ctx, "wrong", true))
	assert.True(t, h.store.Snapshot().User.IsMFAEnabled, "failure changes nothing")

	require.NoError(t, h.flow.Disable(ctx, password, true))
	assert.False(t, h.store.Snapshot().User.IsMFAEnabled)

	devices, err = h.flow.Devices(ctx)
	require.NoError(t, err)
	assert.Empty(t, devices, "device list refetched after disable")
	assert.Equal(t, 2, h.backend.Calls(http.MethodGet, "/users/mfa/devices/"))
	assert.Contains(t, messages(h.feed), MsgDisabled)
}

func TestDevicesCached(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.flow.Devices(ctx)
	require.NoError(t, err)
	_, err = h.flow.Devices(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, h.backend.Calls(http.MethodGet, "/users/mfa/devices/"))
}

func TestRegenerateBackupCodes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.flow.RegenerateBackupCodes(ctx, password, false)
	assert.ErrorIs(t, err, ErrConfirmationRequired)

	codes, err := h.flow.RegenerateBackupCodes(ctx, password, true)
	require.NoError(t, err)
	assert.Len(t, codes, 8)
}

func TestSMSCodes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	err := h.flow.ResendSMS(ctx)
	assert.True(t, errors.HasCode(err, errors.ErrCodeMFANoPendingSetup))

	h.backend.AddDevice(email, domain.MFADevice{ID: "sms1", DeviceType: domain.DeviceSMS, Name: "Work", PhoneNumber: "+15551234567"})
	require.NoError(t, h.flow.SendSMSCode(ctx, "sms1"))
	assert.True(t, errors.HasCode(h.flow.SendSMSCode(ctx, ""), errors.ErrCodeValidationFailed))
	assert.Error(t, h.flow.SendSMSCode(ctx, "missing"))
}

func messages(feed *ui.Store) []string {
	var out []string
	for _, n := range feed.Notifications() {
		out = append(out, n.Message)
	}
	return out
}
