package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"handoff/cmd/internal/clock"
)

// cacheFetchTimeout bounds a shared store read so one caller's cancellation
// does not fail every waiter coalesced onto it.
const cacheFetchTimeout = 5 * time.Second

type cacheEntry struct {
	sess     Session
	cachedAt time.Time
}

// CachedStore is a read-through cache in front of a Store.
//
// Sessions are immutable once written, so a cached entry can only go stale by
// expiring or being deleted. Entries are served for at most ttl and never past
// the session's own ExpiresAt. Misses are not cached.
type CachedStore struct {
	next    Store
	ttl     time.Duration
	size    int
	clock   clock.Clock
	metrics *Metrics

	mu      sync.Mutex
	entries map[string]cacheEntry

	group singleflight.Group
}

// CacheOption configures CachedStore.
type CacheOption func(*CachedStore)

// WithCacheClock overrides the time source used for entry freshness.
func WithCacheClock(c clock.Clock) CacheOption {
	return func(cs *CachedStore) {
		if c != nil {
			cs.clock = c
		}
	}
}

// WithCacheMetrics enables hit/miss counters.
func WithCacheMetrics(m *Metrics) CacheOption {
	return func(cs *CachedStore) { cs.metrics = m }
}

// NewCachedStore wraps next. A zero ttl or size disables caching but keeps
// miss coalescing.
func NewCachedStore(next Store, ttl time.Duration, size int, opts ...CacheOption) (*CachedStore, error) {
	if next == nil || ttl < 0 || size < 0 {
		return nil, ErrInvalidInput
	}
	cs := &CachedStore{
		next:    next,
		ttl:     ttl,
		size:    size,
		clock:   clock.System{},
		entries: make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(cs)
	}
	return cs, nil
}

// Create writes through to the backing store.
func (c *CachedStore) Create(ctx context.Context, s Session) error {
	return c.next.Create(ctx, s)
}

// Get serves a fresh cached entry or reads the backing store.
func (c *CachedStore) Get(ctx context.Context, sessionID string) (Session, error) {
	if s, ok := c.lookup(sessionID); ok {
		c.metrics.cacheResult("hit")
		return s, nil
	}
	c.metrics.cacheResult("miss")

	ch := c.group.DoChan(sessionID, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheFetchTimeout)
		defer cancel()

		s, err := c.next.Get(fctx, sessionID)
		if err != nil {
			return Session{}, err
		}
		c.store(s)
		return s, nil
	})

	select {
	case <-ctx.Done():
		return Session{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Session{}, res.Err
		}
		s, ok := res.Val.(Session)
		if !ok {
			return Session{}, errCacheTypes
		}
		return s, nil
	}
}

// Delete removes the entry from the cache and the backing store.
func (c *CachedStore) Delete(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	delete(c.entries, sessionID)
	c.mu.Unlock()
	c.group.Forget(sessionID)
	return c.next.Delete(ctx, sessionID)
}

// DeleteExpired purges the backing store and drops expired cache entries.
func (c *CachedStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	c.mu.Lock()
	for id, e := range c.entries {
		if e.sess.Expired(before) {
			delete(c.entries, id)
		}
	}
	c.mu.Unlock()
	return c.next.DeleteExpired(ctx, before)
}

// Len returns the number of cached entries.
func (c *CachedStore) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *CachedStore) lookup(sessionID string) (Session, bool) {
	if c.ttl == 0 || c.size == 0 {
		return Session{}, false
	}
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[sessionID]
	if !ok {
		return Session{}, false
	}
	if now.Sub(e.cachedAt) >= c.ttl || e.sess.Expired(now) {
		delete(c.entries, sessionID)
		return Session{}, false
	}
	return e.sess, true
}

func (c *CachedStore) store(s Session) {
	if c.ttl == 0 || c.size == 0 {
		return
	}
	now := c.clock.Now()
	if s.Expired(now) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[s.ID]; !ok && len(c.entries) >= c.size {
		c.evictLocked(now)
	}
	c.entries[s.ID] = cacheEntry{sess: s, cachedAt: now}
}

// evictLocked drops stale entries, or one arbitrary entry if none are stale.
func (c *CachedStore) evictLocked(now time.Time) {
	for id, e := range c.entries {
		if now.Sub(e.cachedAt) >= c.ttl || e.sess.Expired(now) {
			delete(c.entries, id)
		}
	}
	if len(c.entries) < c.size {
		return
	}
	for id := range c.entries {
		delete(c.entries, id)
		return
	}
}

var _ Store = (*CachedStore)(nil)
var _ Store = (*MemoryStore)(nil)
var _ Store = (*PostgresStore)(nil)
var _ Store = (*SQLiteStore)(nil)

// errCacheTypes guards the type assertion in Get.
var errCacheTypes = errors.New("session cache: unexpected value type")
