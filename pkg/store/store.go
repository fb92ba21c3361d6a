package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

// DefaultSessionTTL is the fixed lifetime of a session measured from its first write.
const DefaultSessionTTL = 24 * time.Hour

var (
	// ErrSessionExpired is returned by every access to a session older than its TTL.
	ErrSessionExpired = errors.New("session expired")
	// ErrSessionIDRequired is returned when opening a session with a blank id.
	ErrSessionIDRequired = errors.New("session id required")
)

// Stored field names. They double as Redis hash fields and map onto
// columns in the Postgres backend.
const (
	fieldCreatedAt    = "createdAt"
	fieldDocumentText = "documentText"
	fieldDocument     = "document"
	fieldSummary      = "summary"
	fieldFlashcards   = "flashcards"
	fieldQuiz         = "quiz"
)

var contentFields = []string{fieldSummary, fieldFlashcards, fieldQuiz}

// record is what a backend returns for one session.
type record struct {
	values    map[string]string
	createdAt time.Time
	expired   bool
}

// backend is the raw per-session key-value layer. Expiry policy lives in
// SessionState; backends only persist what they are told.
type backend interface {
	load(ctx context.Context, id string, fields []string) (record, error)
	// save writes values and sets createdAt only if the session has none yet.
	save(ctx context.Context, id string, values map[string]string, createdAt time.Time) error
	remove(ctx context.Context, id string, fields []string) error
	// expire drops all data and leaves a tombstone that lives for ttl.
	expire(ctx context.Context, id string, ttl time.Duration) error
	clear(ctx context.Context, id string) error
	close() error
}

// Options tune session lifetime.
type Options struct {
	TTL time.Duration
	Now func() time.Time
}

func (o Options) normalize() Options {
	if o.TTL <= 0 {
		o.TTL = DefaultSessionTTL
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// SessionStore hands out handles scoped to a single session id.
type SessionStore struct {
	backend backend
	ttl     time.Duration
	now     func() time.Time
}

func newSessionStore(b backend, opts Options) *SessionStore {
	opts = opts.normalize()
	return &SessionStore{backend: b, ttl: opts.TTL, now: opts.Now}
}

// Open returns the handle for one session. No I/O happens until the handle is used.
func (s *SessionStore) Open(sessionID string) (*SessionState, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, ErrSessionIDRequired
	}
	return &SessionState{id: sessionID, store: s}, nil
}

// TTL reports the configured session lifetime.
func (s *SessionStore) TTL() time.Duration {
	return s.ttl
}

// Close releases backend connections.
func (s *SessionStore) Close() error {
	return s.backend.close()
}
