package credstore

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/basecamp/authgate/internal/logging"
)

// ErrNotFound is returned by Backend.Load when a key is absent.
var ErrNotFound = errors.New("credstore: key not found")

// Backend is a simple persistent key-value store. Implementations may fail;
// the Store treats every backend as unreliable.
type Backend interface {
	Load(key string) (string, error)
	Save(key, value string) error
	Delete(key string) error
}

// Backend kinds accepted by NewBackend.
const (
	KindKeyring = "keyring"
	KindFile    = "file"
	KindRedis   = "redis"
	KindMemory  = "memory"
)

// BackendOptions selects and configures a backend.
type BackendOptions struct {
	Kind     string
	Dir      string // file backend directory, also the keyring fallback
	RedisURL string
}

// NewBackend returns the backend named by opts.Kind. The keyring backend falls
// back to the file backend when the system keyring is unavailable, or when
// AUTHGATE_NO_KEYRING is set.
func NewBackend(opts BackendOptions) (Backend, error) {
	switch opts.Kind {
	case "", KindKeyring:
		if os.Getenv("AUTHGATE_NO_KEYRING") == "" {
			if kb, err := NewKeyringBackend(); err == nil {
				return kb, nil
			}
		}
		logging.For("store").WithField("dir", opts.Dir).
			Warn("system keyring unavailable, credentials stored in plaintext")
		return NewFileBackend(opts.Dir), nil
	case KindFile:
		return NewFileBackend(opts.Dir), nil
	case KindRedis:
		rb, err := NewRedisBackend(opts.RedisURL)
		if err != nil {
			return nil, err
		}
		return rb, nil
	case KindMemory:
		return NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("unknown credential store %q (want keyring, file, redis or memory)", opts.Kind)
	}
}

// MemoryBackend keeps values in process memory. It is used for tests and for
// sessions that should not outlive the process.
type MemoryBackend struct {
	mu     sync.Mutex
	values map[string]string
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{values: make(map[string]string)}
}

func (m *MemoryBackend) Load(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *MemoryBackend) Save(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MemoryBackend) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}
