package quota

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jmehdipour/innbot/internal/model"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var msk = time.FixedZone("MSK", 3*60*60)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return mr, client
}

func newTestLedger(t *testing.T, limit int, failOpen bool) (*Ledger, *miniredis.Miniredis, *time.Time) {
	mr, client := setupTestRedis(t)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, msk)
	l := New(NewRedisCounter(client), Options{DailyLimit: limit, FailOpen: failOpen, Location: msk}, nil)
	l.now = func() time.Time { return now }
	return l, mr, &now
}

func freeUser(id int64) model.User {
	return model.User{ID: id, Plan: model.PlanFree}
}

func TestExactlyLimitReservationsSucceed(t *testing.T) {
	l, _, _ := newTestLedger(t, 3, false)
	ctx := context.Background()

	for i, want := range []int{2, 1, 0} {
		r, err := l.CheckAndReserve(ctx, freeUser(1))
		require.NoError(t, err)
		require.True(t, r.Allowed, "check %d", i+1)
		assert.Equal(t, want, r.Remaining)
		assert.NotEmpty(t, r.ID)
		require.NoError(t, l.Capture(ctx, r))
	}

	r, err := l.CheckAndReserve(ctx, freeUser(1))
	require.NoError(t, err)
	assert.False(t, r.Allowed)
	assert.Equal(t, 0, r.Remaining)
	assert.Empty(t, r.ID)

	other, err := l.CheckAndReserve(ctx, freeUser(2))
	require.NoError(t, err)
	assert.True(t, other.Allowed, "counters are per user")
}

func TestReleaseReturnsTheUnitOnce(t *testing.T) {
	l, _, _ := newTestLedger(t, 1, false)
	ctx := context.Background()

	r, err := l.CheckAndReserve(ctx, freeUser(1))
	require.NoError(t, err)
	require.True(t, r.Allowed)

	released, err := l.Release(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, 1, released.Remaining)

	// a second release of the same reservation must not credit again
	_, err = l.Release(ctx, r)
	require.NoError(t, err)

	r2, err := l.CheckAndReserve(ctx, freeUser(1))
	require.NoError(t, err)
	require.True(t, r2.Allowed)

	r3, err := l.CheckAndReserve(ctx, freeUser(1))
	require.NoError(t, err)
	assert.False(t, r3.Allowed)
}

func TestReleaseAfterCaptureIsNoop(t *testing.T) {
	l, _, _ := newTestLedger(t, 2, false)
	ctx := context.Background()

	r, err := l.CheckAndReserve(ctx, freeUser(1))
	require.NoError(t, err)
	require.NoError(t, l.Capture(ctx, r))

	after, err := l.Release(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, 1, after.Remaining)
	assert.Equal(t, 1, l.Status(ctx, freeUser(1)).Remaining)
}

func TestProUserIsNeverLimited(t *testing.T) {
	l, mr, now := newTestLedger(t, 1, false)
	ctx := context.Background()

	until := now.Add(24 * time.Hour)
	pro := model.User{ID: 7, Plan: model.PlanPro, ProUntil: &until}

	for range 10 {
		r, err := l.CheckAndReserve(ctx, pro)
		require.NoError(t, err)
		assert.True(t, r.Allowed)
		assert.True(t, r.Unlimited)
		require.NoError(t, l.Capture(ctx, r))
	}
	assert.False(t, mr.Exists(counterKey(7, "2025-03-01")), "counter untouched")

	forever := model.User{ID: 8, Plan: model.PlanPro}
	r, err := l.CheckAndReserve(ctx, forever)
	require.NoError(t, err)
	assert.True(t, r.Unlimited)

	st := l.Status(ctx, pro)
	assert.True(t, st.Unlimited)
	assert.Equal(t, &until, st.ProUntil)
}

func TestExpiredProBehavesAsFree(t *testing.T) {
	l, _, now := newTestLedger(t, 1, false)
	ctx := context.Background()

	past := now.Add(-time.Minute)
	expired := model.User{ID: 9, Plan: model.PlanPro, ProUntil: &past}

	r, err := l.CheckAndReserve(ctx, expired)
	require.NoError(t, err)
	assert.True(t, r.Allowed)
	assert.False(t, r.Unlimited)

	r, err = l.CheckAndReserve(ctx, expired)
	require.NoError(t, err)
	assert.False(t, r.Allowed)
}

func TestConcurrentReservationsRespectRemaining(t *testing.T) {
	l, _, _ := newTestLedger(t, 5, false)
	ctx := context.Background()

	for range 2 {
		r, err := l.CheckAndReserve(ctx, freeUser(1))
		require.NoError(t, err)
		require.True(t, r.Allowed)
	}

	const k = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	wg.Add(k)
	for range k {
		go func() {
			defer wg.Done()
			r, err := l.CheckAndReserve(ctx, freeUser(1))
			if err != nil || !r.Allowed {
				return
			}
			mu.Lock()
			allowed++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, allowed)
	assert.Equal(t, 0, l.Status(ctx, freeUser(1)).Remaining)
}

func TestNewDayResetsCounter(t *testing.T) {
	l, mr, now := newTestLedger(t, 1, false)
	ctx := context.Background()

	r, err := l.CheckAndReserve(ctx, freeUser(1))
	require.NoError(t, err)
	require.True(t, r.Allowed)
	assert.Equal(t, keyTTL, mr.TTL(counterKey(1, "2025-03-01")))

	// 23:30 UTC is already the next day in Moscow
	*now = time.Date(2025, 3, 1, 23, 30, 0, 0, time.UTC)
	r, err = l.CheckAndReserve(ctx, freeUser(1))
	require.NoError(t, err)
	assert.True(t, r.Allowed)
	assert.Equal(t, "2025-03-02", r.Day)
}

func TestZeroLimitRejectsFreeUsers(t *testing.T) {
	l, _, _ := newTestLedger(t, 0, false)

	r, err := l.CheckAndReserve(context.Background(), freeUser(1))
	require.NoError(t, err)
	assert.False(t, r.Allowed)
}

func TestStoreFailureFailOpen(t *testing.T) {
	l, mr, _ := newTestLedger(t, 3, true)
	mr.Close()

	r, err := l.CheckAndReserve(context.Background(), freeUser(1))
	require.NoError(t, err)
	assert.True(t, r.Allowed)
	assert.Equal(t, -1, r.Remaining)

	// nothing was counted, so there is nothing to settle
	require.NoError(t, l.Capture(context.Background(), r))
	assert.Equal(t, -1, l.Status(context.Background(), freeUser(1)).Remaining)
}

func TestStoreFailureFailClosed(t *testing.T) {
	l, mr, _ := newTestLedger(t, 3, false)
	mr.Close()

	_, err := l.CheckAndReserve(context.Background(), freeUser(1))
	require.ErrorIs(t, err, ErrUnavailable)
}
