package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"handoff/cmd/internal/clock"
)

// countingStore counts backing reads and can hold them until released.
type countingStore struct {
	*MemoryStore
	gets    atomic.Int64
	release chan struct{}
}

func (c *countingStore) Get(ctx context.Context, id string) (Session, error) {
	c.gets.Add(1)
	if c.release != nil {
		<-c.release
	}
	return c.MemoryStore.Get(ctx, id)
}

func seedSession(t *testing.T, store Store, now time.Time, ttl time.Duration) Session {
	t.Helper()
	s := Session{
		ID:        "sess-" + now.Format("150405.000000000"),
		UserID:    alice.UserID,
		UserEmail: alice.UserEmail,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		Source:    SourceQRPairing,
	}
	require.NoError(t, store.Create(context.Background(), s))
	return s
}

func TestCachedStore_HitAfterMiss(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(testStart)
	backing := &countingStore{MemoryStore: NewMemoryStore()}
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	cs, err := NewCachedStore(backing, 30*time.Second, 10, WithCacheClock(clk), WithCacheMetrics(m))
	require.NoError(t, err)

	s := seedSession(t, cs, testStart, time.Hour)

	for range 3 {
		got, err := cs.Get(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	assert.EqualValues(t, 1, backing.gets.Load())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.cache.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cache.WithLabelValues("miss")))
}

func TestCachedStore_EntryTTL(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(testStart)
	backing := &countingStore{MemoryStore: NewMemoryStore()}
	cs, err := NewCachedStore(backing, 30*time.Second, 10, WithCacheClock(clk))
	require.NoError(t, err)

	s := seedSession(t, cs, testStart, time.Hour)

	_, err = cs.Get(ctx, s.ID)
	require.NoError(t, err)
	clk.Advance(31 * time.Second)
	_, err = cs.Get(ctx, s.ID)
	require.NoError(t, err)

	assert.EqualValues(t, 2, backing.gets.Load())
}

// The cache must never outlive the session itself, even when the cache TTL
// would still allow the entry.
func TestCachedStore_NeverServesPastSessionExpiry(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(testStart)
	backing := &countingStore{MemoryStore: NewMemoryStore()}
	cs, err := NewCachedStore(backing, time.Hour, 10, WithCacheClock(clk))
	require.NoError(t, err)

	svc, err := NewService(DefaultConfig(), cs, WithClock(clk))
	require.NoError(t, err)

	s := seedSession(t, cs, testStart, 10*time.Second)

	_, err = svc.VerifySession(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, 1, cs.Len())

	clk.Advance(10 * time.Second)
	_, err = svc.VerifySession(ctx, s.ID)
	require.ErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, 0, cs.Len())
	assert.Equal(t, 0, backing.Len())
}

func TestCachedStore_DeleteInvalidates(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(testStart)
	cs, err := NewCachedStore(NewMemoryStore(), time.Minute, 10, WithCacheClock(clk))
	require.NoError(t, err)

	s := seedSession(t, cs, testStart, time.Hour)
	_, err = cs.Get(ctx, s.ID)
	require.NoError(t, err)

	require.NoError(t, cs.Delete(ctx, s.ID))
	_, err = cs.Get(ctx, s.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestCachedStore_MissesNotCached(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(testStart)
	backing := &countingStore{MemoryStore: NewMemoryStore()}
	cs, err := NewCachedStore(backing, time.Minute, 10, WithCacheClock(clk))
	require.NoError(t, err)

	_, err = cs.Get(ctx, "late")
	require.ErrorIs(t, err, ErrSessionNotFound)

	// A session created right after a miss is visible immediately.
	s := Session{ID: "late", UserID: "u", UserEmail: "u@example.com", CreatedAt: testStart, ExpiresAt: testStart.Add(time.Hour), Source: SourceQRPairing}
	require.NoError(t, cs.Create(ctx, s))

	got, err := cs.Get(ctx, "late")
	require.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestCachedStore_BoundedSize(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(testStart)
	cs, err := NewCachedStore(NewMemoryStore(), time.Minute, 3, WithCacheClock(clk))
	require.NoError(t, err)

	for range 10 {
		s := seedSession(t, cs, clk.Now(), time.Hour)
		_, err := cs.Get(ctx, s.ID)
		require.NoError(t, err)
		clk.Advance(time.Millisecond)
	}
	assert.LessOrEqual(t, cs.Len(), 3)
}

func TestCachedStore_CoalescesConcurrentMisses(t *testing.T) {
	ctx := context.Background()
	backing := &countingStore{MemoryStore: NewMemoryStore(), release: make(chan struct{})}
	cs, err := NewCachedStore(backing, time.Minute, 10)
	require.NoError(t, err)

	now := time.Now().UTC()
	s := Session{ID: "hot", UserID: "u", UserEmail: "u@example.com", CreatedAt: now, ExpiresAt: now.Add(time.Hour), Source: SourceQRPairing}
	require.NoError(t, backing.Create(ctx, s))

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cs.Get(ctx, "hot")
			errs <- err
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(backing.release)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, backing.gets.Load())
}

func TestCachedStore_WaiterCancellation(t *testing.T) {
	backing := &countingStore{MemoryStore: NewMemoryStore(), release: make(chan struct{})}
	defer close(backing.release)

	cs, err := NewCachedStore(backing, time.Minute, 10)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = cs.Get(ctx, "slow")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCachedStore_ZeroTTLPassesThrough(t *testing.T) {
	ctx := context.Background()
	backing := &countingStore{MemoryStore: NewMemoryStore()}
	cs, err := NewCachedStore(backing, 0, 10)
	require.NoError(t, err)

	s := seedSession(t, cs, time.Now().UTC(), time.Hour)
	for range 3 {
		_, err := cs.Get(ctx, s.ID)
		require.NoError(t, err)
	}
	assert.EqualValues(t, 3, backing.gets.Load())
	assert.Equal(t, 0, cs.Len())
}
