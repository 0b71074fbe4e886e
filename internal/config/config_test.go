package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/meetdash/internal/api"
	"github.com/felixgeelhaar/meetdash/internal/errors"
	"github.com/felixgeelhaar/meetdash/internal/guard"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, api.DefaultBaseURL, cfg.API.URL)
	assert.Equal(t, "Token", cfg.API.AuthScheme)
	assert.Equal(t, 30*time.Second, cfg.API.Timeout)
	assert.Equal(t, BackendFile, cfg.Session.Backend)
	assert.Equal(t, GraceLogin, cfg.Guard.GracePeriod)
	assert.Equal(t, "text", cfg.Output.Format)
}

func TestLoad_FileThenEnv(t *testing.T) {
	home := t.TempDir()
	yml := `
api:
  url: https://meet.example.com/api/v1
  timeout: 5s
session:
  backend: redis
  redis_addr: cache:6379
guard:
  grace_period: change-password
`
	require.NoError(t, os.WriteFile(Path(home), []byte(yml), 0o600))
	t.Setenv("MEETDASH_AUTH_SCHEME", "Bearer")
	t.Setenv("MEETDASH_MAX_RETRIES", "4")
	t.Setenv("MEETDASH_GUARD_INHERIT", "true")

	cfg, err := Load(home)
	require.NoError(t, err)

	assert.Equal(t, "https://meet.example.com/api/v1", cfg.API.URL)
	assert.Equal(t, 5*time.Second, cfg.API.Timeout)
	assert.Equal(t, "Bearer", cfg.API.AuthScheme)
	assert.Equal(t, 4, cfg.API.MaxRetries)
	assert.Equal(t, BackendRedis, cfg.Session.Backend)
	assert.Equal(t, "cache:6379", cfg.Session.RedisAddr)
	assert.Equal(t, "default", cfg.Session.Profile, "unset keys keep defaults")

	p := cfg.GuardPolicy()
	assert.Equal(t, guard.PathChangePassword, p.GracePeriodTarget)
	assert.True(t, p.InheritParentPermissions)

	cc := cfg.ClientConfig()
	assert.Equal(t, "Bearer", cc.AuthScheme)
	assert.Equal(t, 5*time.Second, cc.Timeout)
	assert.Equal(t, 4, cc.MaxRetries)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, os.WriteFile(Path(home), []byte("api:\n  url: http://file.example\n"), 0o600))
	t.Setenv("MEETDASH_API_URL", "http://env.example")

	cfg, err := Load(home)
	require.NoError(t, err)
	assert.Equal(t, "http://env.example", cfg.API.URL)
}

func TestLoad_Invalid(t *testing.T) {
	t.Run("bad yaml", func(t *testing.T) {
		home := t.TempDir()
		require.NoError(t, os.WriteFile(Path(home), []byte("api: [unclosed"), 0o600))
		_, err := Load(home)
		assert.True(t, errors.HasCode(err, errors.ErrCodeFileUnmarshal))
	})

	t.Run("bad value", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv("MEETDASH_SESSION_BACKEND", "memcached")
		_, err := Load(home)
		var de *errors.DashError
		require.True(t, errors.As(err, &de))
		assert.Equal(t, errors.ErrCodeConfigInvalid, de.Code)
		assert.Contains(t, de.Fields, "backend")
	})

	t.Run("bad env type", func(t *testing.T) {
		t.Setenv("MEETDASH_MAX_RETRIES", "lots")
		_, err := Load(t.TempDir())
		assert.True(t, errors.HasCode(err, errors.ErrCodeConfigInvalid))
	})
}

func TestGetSet(t *testing.T) {
	cfg := Default()

	v, err := cfg.Get("api.url")
	require.NoError(t, err)
	assert.Equal(t, api.DefaultBaseURL, v)

	require.NoError(t, cfg.Set("api.timeout", "10s"))
	v, _ = cfg.Get("api.timeout")
	assert.Equal(t, "10s", v)

	require.NoError(t, cfg.Set("output.no_color", "true"))
	assert.True(t, cfg.Output.NoColor)

	require.NoError(t, cfg.Set("guard.grace_period", GraceChangePassword))

	assert.True(t, errors.HasCode(cfg.Set("api.max_retries", "x"), errors.ErrCodeConfigInvalid))
	assert.True(t, errors.HasCode(cfg.Set("output.format", "xml"), errors.ErrCodeConfigInvalid))

	_, err = cfg.Get("nope")
	assert.True(t, errors.HasCode(err, errors.ErrCodeConfigKey))
	assert.True(t, errors.HasCode(cfg.Set("nope", "1"), errors.ErrCodeConfigKey))
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", FileName)
	cfg := Default()
	require.NoError(t, cfg.Set("api.url", "https://meet.example.com/api/v1"))
	require.NoError(t, cfg.Set("session.ttl", "12h"))
	require.NoError(t, Save(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestHome(t *testing.T) {
	t.Setenv("MEETDASH_HOME", "/tmp/meetdash-test")
	h, err := Home()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/meetdash-test", h)
	assert.Equal(t, "/tmp/meetdash-test/config.yaml", Path(h))
}

func TestKeysSorted(t *testing.T) {
	keys := Keys()
	assert.Contains(t, keys, "api.url")
	assert.IsIncreasing(t, keys)
}
