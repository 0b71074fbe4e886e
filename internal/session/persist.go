package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/felixgeelhaar/meetdash/internal/domain"
	"github.com/felixgeelhaar/meetdash/internal/errors"
)

// Persisted is what survives between CLI invocations: the token plus enough
// identity to render the shell before the profile is refetched.
type Persisted struct {
	Token   string       `json:"token"`
	User    *domain.User `json:"user"`
	SavedAt time.Time    `json:"saved_at"`
}

// validate rejects a user that could not be decoded again. Account statuses
// are a closed set on the wire, the zero value included.
func (p Persisted) validate() error {
	if p.User != nil && !p.User.AccountStatus.Valid() {
		return errors.New(errors.ErrCodeSessionSave,
			fmt.Sprintf("refusing to save session: unknown account status %q", p.User.AccountStatus))
	}
	return nil
}

// Persister stores a session outside the process. Load returns nil, nil when
// nothing is stored.
type Persister interface {
	Load(ctx context.Context) (*Persisted, error)
	Save(ctx context.Context, p Persisted) error
	Clear(ctx context.Context) error
}

// FileName is the session file inside the home directory.
const FileName = "session.json"

// FileStore keeps the session in a JSON file readable only by its owner.
type FileStore struct {
	path string
}

// NewFileStore stores the session at <home>/session.json.
func NewFileStore(home string) *FileStore {
	return &FileStore{path: filepath.Join(home, FileName)}
}

// Path returns the session file location.
func (f *FileStore) Path() string {
	return f.path
}

// Load reads the session file.
func (f *FileStore) Load(_ context.Context) (*Persisted, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Wrap(errors.ErrCodeFileReadFailed, "failed to read session file", err).
			WithField("path", f.path)
	}

	var p Persisted
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, errors.NewFileUnmarshalError(f.path, "JSON", err)
	}
	return &p, nil
}

// Save writes the session file with mode 0600.
func (f *FileStore) Save(_ context.Context, p Persisted) error {
	if err := p.validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return errors.Wrap(errors.ErrCodeDirectoryFailed, "failed to create session directory", err)
	}

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return errors.Wrap(errors.ErrCodeFileMarshal, "failed to encode session", err)
	}

	if err := os.WriteFile(f.path, data, 0o600); err != nil {
		return errors.Wrap(errors.ErrCodeSessionSave, "failed to write session file", err).
			WithField("path", f.path)
	}
	return nil
}

// Clear removes the session file. A missing file is not an error.
func (f *FileStore) Clear(_ context.Context) error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.Wrap(errors.ErrCodeSessionClear, "failed to remove session file", err)
	}
	return nil
}

const redisKeyPrefix = "meetdash:session:"

// RedisStore keeps the session in redis under meetdash:session:<profile>.
type RedisStore struct {
	client redis.Cmdable
	key    string
	ttl    time.Duration
}

// NewRedisStore creates a redis-backed persister. A zero ttl never expires.
func NewRedisStore(client redis.Cmdable, profile string, ttl time.Duration) *RedisStore {
	if profile == "" {
		profile = "default"
	}
	return &RedisStore{
		client: client,
		key:    redisKeyPrefix + profile,
		ttl:    ttl,
	}
}

// Key returns the redis key in use.
func (r *RedisStore) Key() string {
	return r.key
}

// Load fetches the session.
func (r *RedisStore) Load(ctx context.Context) (*Persisted, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, errors.Wrap(errors.ErrCodeSessionLoad, "redis get session", err)
	}

	var p Persisted
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, errors.Wrap(errors.ErrCodeSessionLoad, "decode session", err)
	}
	return &p, nil
}

// Save stores the session with the configured TTL.
func (r *RedisStore) Save(ctx context.Context, p Persisted) error {
	if err := p.validate(); err != nil {
		return err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(errors.ErrCodeSessionSave, "encode session", err)
	}
	if err := r.client.Set(ctx, r.key, data, r.ttl).Err(); err != nil {
		return errors.Wrap(errors.ErrCodeSessionSave, "redis set session", err)
	}
	return nil
}

// Clear deletes the session key.
func (r *RedisStore) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return errors.Wrap(errors.ErrCodeSessionClear, "redis del session", err)
	}
	return nil
}
