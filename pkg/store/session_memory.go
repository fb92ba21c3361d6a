package store

import (
	"context"
	"sync"
	"time"
)

// NewMemorySessionStore keeps sessions in-process. Intended for local runs and tests.
func NewMemorySessionStore(opts Options) *SessionStore {
	opts = opts.normalize()
	return newSessionStore(&memoryBackend{
		sessions: make(map[string]*memorySession),
		now:      opts.Now,
		ttl:      opts.TTL,
	}, opts)
}

const memorySweepInterval = time.Minute

// memorySession is owned by one session id and guarded by its own lock.
type memorySession struct {
	mu             sync.Mutex
	values         map[string]string
	createdAt      time.Time
	tombstoneUntil time.Time
}

// memoryBackend frees abandoned sessions when new ones are created, using
// the same 2×TTL horizon as the Redis key expiry.
type memoryBackend struct {
	mu        sync.Mutex
	sessions  map[string]*memorySession
	now       func() time.Time
	ttl       time.Duration
	lastSweep time.Time
}

func (b *memoryBackend) session(id string, create bool) *memorySession {
	b.mu.Lock()
	defer b.mu.Unlock()
	sess, ok := b.sessions[id]
	if !ok && create {
		b.sweepLocked()
		sess = &memorySession{values: make(map[string]string)}
		b.sessions[id] = sess
	}
	return sess
}

// sweepLocked drops dead tombstones and sessions past the GC horizon.
// Caller holds b.mu.
func (b *memoryBackend) sweepLocked() {
	now := b.now()
	if !b.lastSweep.IsZero() && now.Sub(b.lastSweep) < memorySweepInterval {
		return
	}
	b.lastSweep = now
	for id, sess := range b.sessions {
		sess.mu.Lock()
		dead := (!sess.tombstoneUntil.IsZero() && !now.Before(sess.tombstoneUntil)) ||
			(!sess.createdAt.IsZero() && now.Sub(sess.createdAt) > 2*b.ttl)
		sess.mu.Unlock()
		if dead {
			delete(b.sessions, id)
		}
	}
}

func (b *memoryBackend) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

func (b *memoryBackend) drop(id string) {
	b.mu.Lock()
	delete(b.sessions, id)
	b.mu.Unlock()
}

func (b *memoryBackend) load(_ context.Context, id string, fields []string) (record, error) {
	sess := b.session(id, false)
	if sess == nil {
		return record{}, nil
	}
	sess.mu.Lock()
	if !sess.tombstoneUntil.IsZero() {
		alive := b.now().Before(sess.tombstoneUntil)
		sess.mu.Unlock()
		if !alive {
			b.drop(id)
			return record{}, nil
		}
		return record{expired: true}, nil
	}
	defer sess.mu.Unlock()
	rec := record{values: make(map[string]string, len(fields)), createdAt: sess.createdAt}
	for _, field := range fields {
		if v, ok := sess.values[field]; ok {
			rec.values[field] = v
		}
	}
	return rec, nil
}

func (b *memoryBackend) save(_ context.Context, id string, values map[string]string, createdAt time.Time) error {
	sess := b.session(id, true)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.createdAt.IsZero() {
		sess.createdAt = createdAt
	}
	for k, v := range values {
		sess.values[k] = v
	}
	return nil
}

func (b *memoryBackend) remove(_ context.Context, id string, fields []string) error {
	sess := b.session(id, false)
	if sess == nil {
		return nil
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	for _, field := range fields {
		delete(sess.values, field)
	}
	return nil
}

func (b *memoryBackend) expire(_ context.Context, id string, ttl time.Duration) error {
	sess := b.session(id, true)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.values = make(map[string]string)
	sess.createdAt = time.Time{}
	sess.tombstoneUntil = b.now().Add(ttl)
	return nil
}

func (b *memoryBackend) clear(_ context.Context, id string) error {
	b.drop(id)
	return nil
}

func (b *memoryBackend) close() error {
	return nil
}
