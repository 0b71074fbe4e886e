// Package config loads meetdash settings from ~/.meetdash/config.yaml and
// overlays MEETDASH_* environment variables.
package config

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/meetdash/internal/api"
	"github.com/felixgeelhaar/meetdash/internal/errors"
	"github.com/felixgeelhaar/meetdash/internal/guard"
	"github.com/felixgeelhaar/meetdash/internal/validate"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MEETDASH_"

// FileName is the config file inside the home directory.
const FileName = "config.yaml"

// Session backends.
const (
	BackendFile  = "file"
	BackendRedis = "redis"
)

// Grace-period policies for the route guard.
const (
	GraceLogin          = "login"
	GraceChangePassword = "change-password"
)

// Config is the full meetdash configuration.
type Config struct {
	API     APIConfig     `yaml:"api" json:"api"`
	Session SessionConfig `yaml:"session" json:"session"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Guard   GuardConfig   `yaml:"guard" json:"guard"`
	Output  OutputConfig  `yaml:"output" json:"output"`
}

// APIConfig points the client at the backend.
type APIConfig struct {
	URL        string        `yaml:"url" json:"url" env:"API_URL" validate:"required,url"`
	AuthScheme string        `yaml:"auth_scheme" json:"auth_scheme" env:"AUTH_SCHEME" validate:"oneof=Token Bearer"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout" env:"TIMEOUT" validate:"gte=0"`
	MaxRetries int           `yaml:"max_retries" json:"max_retries" env:"MAX_RETRIES" validate:"gte=0,lte=10"`
}

// SessionConfig selects where the signed-in session is kept.
type SessionConfig struct {
	Backend   string        `yaml:"backend" json:"backend" env:"SESSION_BACKEND" validate:"oneof=file redis"`
	RedisAddr string        `yaml:"redis_addr,omitempty" json:"redis_addr,omitempty" env:"REDIS_ADDR"`
	RedisDB   int           `yaml:"redis_db,omitempty" json:"redis_db,omitempty" env:"REDIS_DB" validate:"gte=0"`
	Profile   string        `yaml:"profile,omitempty" json:"profile,omitempty" env:"PROFILE"`
	TTL       time.Duration `yaml:"ttl,omitempty" json:"ttl,omitempty" env:"SESSION_TTL" validate:"gte=0"`
}

// LoggingConfig mirrors the log package settings.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level" env:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" json:"format" env:"LOG_FORMAT" validate:"oneof=text json"`
}

// GuardConfig holds the route-guard policy choices.
type GuardConfig struct {
	GracePeriod              string `yaml:"grace_period" json:"grace_period" env:"GUARD_GRACE_PERIOD" validate:"oneof=login change-password"`
	InheritParentPermissions bool   `yaml:"inherit_parent_permissions" json:"inherit_parent_permissions" env:"GUARD_INHERIT"`
}

// OutputConfig holds CLI rendering defaults.
type OutputConfig struct {
	Format  string `yaml:"format" json:"format" env:"FORMAT" validate:"oneof=text json yaml"`
	NoColor bool   `yaml:"no_color" json:"no_color" env:"NO_COLOR"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		API: APIConfig{
			URL:        api.DefaultBaseURL,
			AuthScheme: "Token",
			Timeout:    30 * time.Second,
			MaxRetries: 2,
		},
		Session: SessionConfig{
			Backend:   BackendFile,
			RedisAddr: "localhost:6379",
			Profile:   "default",
		},
		Logging: LoggingConfig{Level: "warn", Format: "text"},
		Guard:   GuardConfig{GracePeriod: GraceLogin},
		Output:  OutputConfig{Format: "text"},
	}
}

// Home returns the meetdash directory: $MEETDASH_HOME or ~/.meetdash.
func Home() (string, error) {
	if h := os.Getenv(EnvPrefix + "HOME"); h != "" {
		return h, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeDirectoryFailed, "failed to get home directory", err)
	}
	return filepath.Join(home, ".meetdash"), nil
}

// Path returns the config file path inside home.
func Path(home string) string {
	return filepath.Join(home, FileName)
}

// Load reads the file in home (a missing file means defaults), applies the
// environment overlay and validates the result.
func Load(home string) (*Config, error) {
	cfg, err := ReadFile(Path(home))
	if err != nil {
		return nil, err
	}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, errors.Wrap(errors.ErrCodeConfigInvalid, "failed to parse environment", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ReadFile reads path over the defaults without the environment overlay.
func ReadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, errors.Wrap(errors.ErrCodeFileReadFailed, "failed to read config", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.NewFileUnmarshalError(path, "YAML", err)
	}
	return cfg, nil
}

// Save writes cfg to path, creating the directory.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return errors.Wrap(errors.ErrCodeDirectoryFailed, "failed to create config directory", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(errors.ErrCodeFileMarshal, "failed to marshal config", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.Wrap(errors.ErrCodeFileWriteFailed, "failed to write config", err)
	}
	return nil
}

// Validate checks every setting.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	out := errors.New(errors.ErrCodeConfigInvalid, "invalid configuration")
	var de *errors.DashError
	if errors.As(err, &de) {
		out.Fields = de.Fields
	} else {
		out.Cause = err
	}
	return out.WithSuggestion("meetdash config view")
}

// ClientConfig converts the settings into an API client configuration.
func (c *Config) ClientConfig() api.Config {
	cfg := api.DefaultConfig()
	cfg.BaseURL = c.API.URL
	cfg.AuthScheme = c.API.AuthScheme
	if c.API.Timeout > 0 {
		cfg.Timeout = c.API.Timeout
	}
	cfg.MaxRetries = c.API.MaxRetries
	return cfg
}

// GuardPolicy converts the settings into a route-guard policy.
func (c *Config) GuardPolicy() guard.Policy {
	p := guard.DefaultPolicy()
	if c.Guard.GracePeriod == GraceChangePassword {
		p.GracePeriodTarget = guard.PathChangePassword
	}
	p.InheritParentPermissions = c.Guard.InheritParentPermissions
	return p
}

type field struct {
	get func(*Config) string
	set func(*Config, string) error
}

func stringField(p func(*Config) *string) field {
	return field{
		get: func(c *Config) string { return *p(c) },
		set: func(c *Config, v string) error { *p(c) = v; return nil },
	}
}

func boolField(p func(*Config) *bool) field {
	return field{
		get: func(c *Config) string { return strconv.FormatBool(*p(c)) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%q is not a boolean", v)
			}
			*p(c) = b
			return nil
		},
	}
}

func intField(p func(*Config) *int) field {
	return field{
		get: func(c *Config) string { return strconv.Itoa(*p(c)) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%q is not an integer", v)
			}
			*p(c) = n
			return nil
		},
	}
}

func durationField(p func(*Config) *time.Duration) field {
	return field{
		get: func(c *Config) string { return p(c).String() },
		set: func(c *Config, v string) error {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%q is not a duration", v)
			}
			*p(c) = d
			return nil
		},
	}
}

var fields = map[string]field{
	"api.url":                          stringField(func(c *Config) *string { return &c.API.URL }),
	"api.auth_scheme":                  stringField(func(c *Config) *string { return &c.API.AuthScheme }),
	"api.timeout":                      durationField(func(c *Config) *time.Duration { return &c.API.Timeout }),
	"api.max_retries":                  intField(func(c *Config) *int { return &c.API.MaxRetries }),
	"session.backend":                  stringField(func(c *Config) *string { return &c.Session.Backend }),
	"session.redis_addr":               stringField(func(c *Config) *string { return &c.Session.RedisAddr }),
	"session.redis_db":                 intField(func(c *Config) *int { return &c.Session.RedisDB }),
	"session.profile":                  stringField(func(c *Config) *string { return &c.Session.Profile }),
	"session.ttl":                      durationField(func(c *Config) *time.Duration { return &c.Session.TTL }),
	"logging.level":                    stringField(func(c *Config) *string { return &c.Logging.Level }),
	"logging.format":                   stringField(func(c *Config) *string { return &c.Logging.Format }),
	"guard.grace_period":               stringField(func(c *Config) *string { return &c.Guard.GracePeriod }),
	"guard.inherit_parent_permissions": boolField(func(c *Config) *bool { return &c.Guard.InheritParentPermissions }),
	"output.format":                    stringField(func(c *Config) *string { return &c.Output.Format }),
	"output.no_color":                  boolField(func(c *Config) *bool { return &c.Output.NoColor }),
}

// Keys lists the settable keys in order.
func Keys() []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns the value at a dotted key.
func (c *Config) Get(key string) (string, error) {
	f, ok := fields[strings.ToLower(key)]
	if !ok {
		return "", unknownKey(key)
	}
	return f.get(c), nil
}

// Set parses value into the dotted key and re-validates.
func (c *Config) Set(key, value string) error {
	f, ok := fields[strings.ToLower(key)]
	if !ok {
		return unknownKey(key)
	}
	if err := f.set(c, value); err != nil {
		return errors.Wrap(errors.ErrCodeConfigInvalid, "invalid value for "+key, err)
	}
	return c.Validate()
}

func unknownKey(key string) error {
	return errors.New(errors.ErrCodeConfigKey, "unknown configuration key: "+key).
		WithSuggestion("known keys: " + strings.Join(Keys(), ", "))
}
