package credstore

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/basecamp/authgate/internal/logging"
)

// Key suffixes under which the session is persisted.
const (
	credentialsKey = "credentials"
	csrfKey        = "csrf"
)

// Store holds the current credential and anti-forgery token in memory and
// mirrors every change to a Backend.
//
// Reads never touch the backend, and neither do writes: each change is queued
// and a single writer goroutine persists the queue in the order the changes
// were applied. Persistence failures are logged and otherwise ignored, because
// the backend is treated as unreliable. Call Flush to wait for pending writes
// and Close before exit.
type Store struct {
	mu   sync.RWMutex
	cred *Credential
	csrf string
	// seq counts queued writes; Reload uses it to detect writes that raced
	// its backend read.
	seq uint64

	qmu     sync.Mutex
	qcond   *sync.Cond
	queue   []persistOp
	closed  bool
	stopped chan struct{}

	backend   Backend
	namespace string
	log       *log.Entry
}

// persistOp is one queued backend write. An op with done set is a flush
// barrier.
type persistOp struct {
	field  string
	value  string
	delete bool
	done   chan struct{}
}

// NewStore creates a store for the given namespace (normally the API origin)
// and loads any previously persisted session from the backend.
// A nil backend keeps the session in memory only.
func NewStore(backend Backend, namespace string) *Store {
	if backend == nil {
		backend = NewMemoryBackend()
	}
	s := &Store{
		backend:   backend,
		namespace: namespace,
		stopped:   make(chan struct{}),
		log:       logging.For("store"),
	}
	s.qcond = sync.NewCond(&s.qmu)
	s.cred, s.csrf = s.load()
	go s.persistLoop()
	return s
}

// key returns the backend key for a session field.
func (s *Store) key(field string) string {
	return "authgate::" + s.namespace + "::" + field
}

// Get returns a copy of the current credential, or false if there is none.
func (s *Store) Get() (Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cred == nil {
		return Credential{}, false
	}
	return *s.cred, true
}

// Set replaces the current credential.
func (s *Store) Set(c Credential) {
	data, err := json.Marshal(c)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = &c
	if err != nil {
		s.log.WithError(err).Warn("failed to encode credentials")
		return
	}
	s.enqueueLocked(persistOp{field: credentialsKey, value: string(data)})
}

// Clear removes the credential and the anti-forgery token. It is idempotent;
// clearing an empty store does not touch the backend.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cred == nil && s.csrf == "" {
		return
	}
	s.cred = nil
	s.csrf = ""
	s.enqueueLocked(
		persistOp{field: credentialsKey, delete: true},
		persistOp{field: csrfKey, delete: true},
	)
}

// AntiForgeryToken returns the session's anti-forgery token, generating and
// persisting a new random one on first use.
func (s *Store) AntiForgeryToken() string {
	s.mu.RLock()
	token := s.csrf
	s.mu.RUnlock()
	if token != "" {
		return token
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.csrf == "" {
		s.csrf = uuid.NewString()
		s.enqueueLocked(persistOp{field: csrfKey, value: s.csrf})
	}
	return s.csrf
}

// Reload re-reads the session from the backend, picking up changes written by
// another process. It reports whether the credential changed. A local write
// made while the backend was being read wins over what was read.
func (s *Store) Reload() bool {
	s.mu.RLock()
	seq := s.seq
	s.mu.RUnlock()

	s.Flush()
	cred, csrf := s.load()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seq != seq {
		return false
	}

	changed := !sameCredential(s.cred, cred)
	s.cred = cred
	if csrf != "" || cred == nil {
		s.csrf = csrf
	}
	return changed
}

// Flush blocks until every write queued before the call has reached the
// backend.
func (s *Store) Flush() {
	done := make(chan struct{})
	s.qmu.Lock()
	if s.closed {
		s.qmu.Unlock()
		return
	}
	s.queue = append(s.queue, persistOp{done: done})
	s.qcond.Signal()
	s.qmu.Unlock()
	<-done
}

// Close persists pending writes and stops the writer. Writes made after Close
// are applied to the backend synchronously.
func (s *Store) Close() {
	s.qmu.Lock()
	if s.closed {
		s.qmu.Unlock()
		return
	}
	s.closed = true
	s.qcond.Signal()
	s.qmu.Unlock()
	<-s.stopped
}

// enqueueLocked queues writes for the writer goroutine. s.mu must be held so
// that queue order matches the order changes were applied in memory.
func (s *Store) enqueueLocked(ops ...persistOp) {
	s.seq++
	s.qmu.Lock()
	if s.closed {
		s.qmu.Unlock()
		<-s.stopped
		for _, op := range ops {
			s.persist(op)
		}
		return
	}
	s.queue = append(s.queue, ops...)
	s.qcond.Signal()
	s.qmu.Unlock()
}

// persistLoop drains the queue until Close.
func (s *Store) persistLoop() {
	defer close(s.stopped)
	for {
		s.qmu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.qcond.Wait()
		}
		ops := s.queue
		s.queue = nil
		closed := s.closed
		s.qmu.Unlock()

		for _, op := range ops {
			s.persist(op)
		}
		if closed && len(ops) == 0 {
			return
		}
	}
}

func (s *Store) persist(op persistOp) {
	switch {
	case op.done != nil:
		close(op.done)
	case op.delete:
		if err := s.backend.Delete(s.key(op.field)); err != nil && !errors.Is(err, ErrNotFound) {
			s.log.WithError(err).WithField("key", op.field).Warn("failed to delete persisted session")
		}
	default:
		if err := s.backend.Save(s.key(op.field), op.value); err != nil {
			s.log.WithError(err).WithField("key", op.field).Warn("failed to persist session")
		}
	}
}

// load reads the persisted session. Absent or unreadable values yield nil/"".
func (s *Store) load() (*Credential, string) {
	var cred *Credential
	if data, err := s.backend.Load(s.key(credentialsKey)); err == nil {
		var c Credential
		if err := json.Unmarshal([]byte(data), &c); err == nil && c.AccessToken != "" {
			cred = &c
		} else if err != nil {
			s.log.WithError(err).Warn("ignoring unreadable persisted credentials")
		}
	} else if !errors.Is(err, ErrNotFound) {
		s.log.WithError(err).Warn("failed to load persisted credentials")
	}

	csrf, err := s.backend.Load(s.key(csrfKey))
	if err != nil {
		csrf = ""
	}
	return cred, csrf
}

func sameCredential(a, b *Credential) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.AccessToken == b.AccessToken &&
		a.RefreshToken == b.RefreshToken &&
		a.TokenType == b.TokenType &&
		a.ExpiresAt.Equal(b.ExpiresAt)
}
