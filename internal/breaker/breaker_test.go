package breaker

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(clock *fakeClock) *Breaker {
	return New(Config{Name: "test", FailureThreshold: 5, RecoveryTimeout: time.Minute}).WithClock(clock.Now)
}

func failN(t *testing.T, b *Breaker, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		ticket, err := b.Allow()
		require.NoError(t, err)
		b.Failure(ticket)
	}
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)

	failN(t, b, 4)
	assert.Equal(t, StateClosed, b.State())

	failN(t, b, 1)
	assert.Equal(t, StateOpen, b.State())

	_, err := b.Allow()
	assert.ErrorIs(t, err, ErrOpen)
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)

	failN(t, b, 4)
	ticket, err := b.Allow()
	require.NoError(t, err)
	b.Success(ticket)

	failN(t, b, 4)
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 4, b.Snapshot().Failures)
}

func TestBreaker_HalfOpenAfterRecoveryTimeout(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)
	failN(t, b, 5)

	clock.Advance(59 * time.Second)
	_, err := b.Allow()
	assert.ErrorIs(t, err, ErrOpen)

	clock.Advance(time.Second)
	assert.Equal(t, StateHalfOpen, b.State())

	trial, err := b.Allow()
	require.NoError(t, err)
	assert.True(t, trial.Trial())

	// a second caller during the trial is rejected
	_, err = b.Allow()
	assert.ErrorIs(t, err, ErrOpen)
	assert.True(t, b.Snapshot().TrialInFlight)
}

func TestBreaker_TrialOutcomes(t *testing.T) {
	tests := []struct {
		name      string
		succeed   bool
		wantState State
	}{
		{name: "trial_success_closes", succeed: true, wantState: StateClosed},
		{name: "trial_failure_reopens", succeed: false, wantState: StateOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			b := newTestBreaker(clock)
			failN(t, b, 5)
			clock.Advance(time.Minute)

			trial, err := b.Allow()
			require.NoError(t, err)
			if tt.succeed {
				b.Success(trial)
			} else {
				b.Failure(trial)
			}

			st := b.Snapshot()
			assert.Equal(t, tt.wantState, st.State)
			if tt.succeed {
				assert.Equal(t, 0, st.Failures)
				_, err := b.Allow()
				assert.NoError(t, err)
				return
			}
			// fresh openedAt: still open just before another full timeout
			assert.Equal(t, clock.Now(), st.OpenedAt)
			clock.Advance(59 * time.Second)
			_, err = b.Allow()
			assert.ErrorIs(t, err, ErrOpen)
			clock.Advance(time.Second)
			_, err = b.Allow()
			assert.NoError(t, err)
		})
	}
}

func TestBreaker_ReleaseReturnsTrialPermit(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)
	failN(t, b, 5)
	clock.Advance(time.Minute)

	trial, err := b.Allow()
	require.NoError(t, err)
	b.Release(trial)
	assert.Equal(t, StateHalfOpen, b.State())

	again, err := b.Allow()
	require.NoError(t, err)
	assert.True(t, again.Trial())
}

func TestBreaker_LateResultsIgnoredWhileOpen(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)

	early, err := b.Allow()
	require.NoError(t, err)
	failN(t, b, 5)
	openedAt := b.Snapshot().OpenedAt

	clock.Advance(30 * time.Second)
	b.Failure(early)
	b.Success(early)

	st := b.Snapshot()
	assert.Equal(t, StateOpen, st.State)
	assert.Equal(t, openedAt, st.OpenedAt)
}

func TestBreaker_SingleTrialUnderConcurrency(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)
	failN(t, b, 5)
	clock.Advance(time.Minute)

	var admitted, rejected int64
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := b.Allow(); err != nil {
				atomic.AddInt64(&rejected, 1)
				return
			}
			atomic.AddInt64(&admitted, 1)
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(1), admitted)
	assert.Equal(t, int64(63), rejected)
}

func TestNew_Defaults(t *testing.T) {
	b := New(Config{})
	assert.Equal(t, 60*time.Second, b.RecoveryTimeout())
	assert.Equal(t, 5, b.Snapshot().FailureThreshold)
	assert.Equal(t, StateClosed, b.State())
}
