package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/meetdash/internal/config"
	"github.com/felixgeelhaar/meetdash/internal/domain"
	"github.com/felixgeelhaar/meetdash/internal/session"
)

func TestConfigChecker(t *testing.T) {
	home := t.TempDir()
	r := (&ConfigChecker{Home: home}).Check(context.Background())
	assert.Equal(t, StatusHealthy, r.Status)
	assert.Contains(t, r.Message, "defaults")

	require.NoError(t, os.WriteFile(config.Path(home), []byte("session:\n  backend: floppy\n"), 0o600))
	r = (&ConfigChecker{Home: home}).Check(context.Background())
	assert.Equal(t, StatusUnhealthy, r.Status)
}

func TestHomeChecker(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "home")
	r := (&HomeChecker{Dir: dir}).Check(context.Background())
	assert.Equal(t, StatusHealthy, r.Status)
	assert.DirExists(t, dir)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAPIChecker(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusUnauthorized)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	c := &APIChecker{URL: srv.URL}
	r := c.Check(context.Background())
	assert.Equal(t, StatusHealthy, r.Status)
	assert.Equal(t, http.StatusUnauthorized, r.Details["status"])

	status.Store(http.StatusBadGateway)
	assert.Equal(t, StatusDegraded, c.Check(context.Background()).Status)

	srv.Close()
	r = c.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, r.Status)
	assert.Contains(t, r.Details, "error")
}

func TestSessionChecker(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := session.NewRedisStore(client, "test", 0)
	c := &SessionChecker{Backend: config.BackendRedis, Store: store}

	r := c.Check(ctx)
	assert.Equal(t, StatusHealthy, r.Status)
	assert.Equal(t, "no saved session", r.Message)

	user := &domain.User{Email: "ada@example.com", AccountStatus: domain.StatusActive}
	require.NoError(t, store.Save(ctx, session.Persisted{Token: "opaque", User: user, SavedAt: time.Now()}))
	r = c.Check(ctx)
	assert.Equal(t, StatusHealthy, r.Status)
	assert.Contains(t, r.Message, "ada@example.com")

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": time.Now().Add(-time.Hour).Unix()}).
		SignedString([]byte("k"))
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, session.Persisted{Token: expired, User: user, SavedAt: time.Now()}))
	r = c.Check(ctx)
	assert.Equal(t, StatusDegraded, r.Status)
	assert.Contains(t, r.Details, "expires_at")

	mr.Close()
	assert.Equal(t, StatusUnhealthy, c.Check(ctx).Status)
}

func TestStandard(t *testing.T) {
	home := t.TempDir()
	names := func(cs []Checker) []string {
		out := make([]string, len(cs))
		for i, c := range cs {
			out[i] = c.Name()
		}
		return out
	}

	assert.Equal(t, []string{"config", "home"}, names(Standard(home, nil, nil)))
	assert.Equal(t, []string{"config", "home", "api", "session-store"},
		names(Standard(home, config.Default(), session.NewFileStore(home))))
}
