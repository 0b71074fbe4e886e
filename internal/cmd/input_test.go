package cmd

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/meetdash/internal/domain"
	"github.com/felixgeelhaar/meetdash/internal/errors"
	"github.com/felixgeelhaar/meetdash/internal/guard"
	"github.com/felixgeelhaar/meetdash/internal/session"
)

func TestRedirectError(t *testing.T) {
	active := &domain.User{Email: "a@example.com", AccountStatus: domain.StatusActive}
	grace := &domain.User{Email: "a@example.com", AccountStatus: domain.StatusPasswordExpiredGracePeriod}
	suspended := &domain.User{Email: "a@example.com", AccountStatus: domain.StatusSuspended}

	tests := []struct {
		name       string
		user       *domain.User
		decision   guard.Decision
		code       errors.ErrorCode
		message    string
		suggestion string
	}{
		{"signed out", nil, guard.Decision{Kind: guard.KindRedirect, Target: guard.PathLogin},
			errors.ErrCodeNotAuthenticated, "not logged in", "meetdash auth login"},
		{"grace period", grace, guard.Decision{Kind: guard.KindRedirect, Target: guard.PathLogin},
			errors.ErrCodeForbidden, "account is password expired (grace period)", "change-password"},
		{"suspended", suspended, guard.Decision{Kind: guard.KindRedirect, Target: guard.PathLogin},
			errors.ErrCodeForbidden, "account is suspended", "administrator"},
		{"unverified", active, guard.Decision{Kind: guard.KindRedirect, Target: guard.PathVerifyEmail},
			errors.ErrCodeForbidden, "email address is not verified", "verify-email"},
		{"expired password", active, guard.Decision{Kind: guard.KindRedirect, Target: guard.PathChangePassword},
			errors.ErrCodeForbidden, "password has expired", "force-password-change"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := redirectError(tt.user, tt.decision)
			var de *errors.DashError
			require.True(t, errors.As(err, &de))
			assert.Equal(t, tt.code, de.Code)
			assert.Equal(t, tt.message, de.Message)
			require.NotEmpty(t, de.Suggestions)
			assert.Contains(t, de.Suggestions[0], tt.suggestion)
		})
	}

	t.Run("unauthorized names the permission", func(t *testing.T) {
		err := redirectError(active, guard.Decision{
			Kind: guard.KindRedirect, Target: guard.PathUnauthorized, Reason: "missing permission can_edit_users",
		})
		var de *errors.DashError
		require.True(t, errors.As(err, &de))
		assert.Equal(t, errors.ErrCodeForbidden, de.Code)
		assert.Contains(t, de.Fields["permission"], domain.PermEditUsers)
	})
}

func TestBuildStatus(t *testing.T) {
	st := buildStatus(session.State{}, "file", "http://api")
	assert.False(t, st.Authenticated)
	assert.Empty(t, st.Email)
	assert.Equal(t, "file", st.Backend)

	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": exp.Unix()}).
		SignedString([]byte("test-key"))
	require.NoError(t, err)

	st = buildStatus(session.State{
		User:          &domain.User{Email: "ada@example.com", AccountStatus: domain.StatusActive},
		Token:         token,
		Authenticated: true,
	}, "redis", "http://api")
	assert.True(t, st.Authenticated)
	assert.Equal(t, "ada@example.com", st.Email)
	assert.Equal(t, "active", st.AccountStatus)
	require.NotNil(t, st.ExpiresAt)
	assert.True(t, exp.Equal(*st.ExpiresAt))

	st = buildStatus(session.State{
		User:          &domain.User{Email: "ada@example.com"},
		Token:         "opaque",
		Authenticated: true,
	}, "file", "http://api")
	assert.Nil(t, st.ExpiresAt)
}

func TestDecisionLine(t *testing.T) {
	assert.Equal(t, "ALLOW", decisionLine(guard.Decision{Kind: guard.KindAllow}))
	assert.Equal(t, "WAIT", decisionLine(guard.Decision{Kind: guard.KindWait}))
	assert.Equal(t, "NOT FOUND", decisionLine(guard.Decision{Kind: guard.KindNotFound}))
	assert.Equal(t, "REDIRECT /login (from /users/team): not signed in", decisionLine(guard.Decision{
		Kind: guard.KindRedirect, Target: "/login", From: "/users/team", Reason: "not signed in",
	}))
}

func TestProfileUpdateFromFlags(t *testing.T) {
	newFlags := func() *pflag.FlagSet {
		f := pflag.NewFlagSet("update", pflag.ContinueOnError)
		for _, sf := range profileStringFlags {
			f.String(sf.flag, "", sf.usage)
		}
		for _, bf := range profileBoolFlags {
			f.Bool(bf.flag, false, bf.usage)
		}
		for _, nf := range profileIntFlags {
			f.Int(nf.flag, 0, nf.usage)
		}
		f.String("picture", "", "")
		f.String("logo", "", "")
		return f
	}

	t.Run("only changed flags are sent", func(t *testing.T) {
		f := newFlags()
		require.NoError(t, f.Parse([]string{"--bio", "", "--show-email", "--hours-start", "8"}))

		u, err := profileUpdateFromFlags(f)
		require.NoError(t, err)
		require.NotNil(t, u.Bio)
		assert.Equal(t, "", *u.Bio)
		require.NotNil(t, u.ShowEmail)
		assert.True(t, *u.ShowEmail)
		require.NotNil(t, u.ReasonableHoursStart)
		assert.Equal(t, 8, *u.ReasonableHoursStart)
		assert.Nil(t, u.DisplayName)
		assert.Nil(t, u.ReasonableHoursEnd)
		assert.Nil(t, u.ProfilePicture)
	})

	t.Run("picture is read from disk", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ada.png")
		require.NoError(t, os.WriteFile(path, []byte("png"), 0o600))
		f := newFlags()
		require.NoError(t, f.Set("picture", path))

		u, err := profileUpdateFromFlags(f)
		require.NoError(t, err)
		require.NotNil(t, u.ProfilePicture)
		assert.Equal(t, "ada.png", u.ProfilePicture.Name)
		assert.Equal(t, []byte("png"), u.ProfilePicture.Data)
		assert.False(t, u.IsEmpty())
	})

	t.Run("missing picture", func(t *testing.T) {
		f := newFlags()
		require.NoError(t, f.Set("picture", filepath.Join(t.TempDir(), "missing.png")))

		_, err := profileUpdateFromFlags(f)
		assert.True(t, errors.HasCode(err, errors.ErrCodeFileNotFound))
	})
}

func TestWriteQRCode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qr.png")
	payload := base64.StdEncoding.EncodeToString([]byte("image"))

	require.NoError(t, writeQRCode(path, "data:image/png;base64,"+payload))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("image"), data)

	err = writeQRCode(path, "not base64!")
	assert.True(t, errors.HasCode(err, errors.ErrCodeAPIDecode))
}
