package breaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finpulse/corebank/internal/domain"
)

var errBoom = errors.New("boom")

func newTestRegistry(threshold int, cooldown time.Duration, clock *fakeClock) *Registry {
	r := NewRegistry(threshold, cooldown)
	r.now = clock.Now
	return r
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func failing(calls *int) func(context.Context) (string, error) {
	return func(context.Context) (string, error) {
		*calls++
		return "", errBoom
	}
}

func succeeding(calls *int) func(context.Context) (string, error) {
	return func(context.Context) (string, error) {
		*calls++
		return "ok", nil
	}
}

func TestDo_ClosedPassesThrough(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	r := newTestRegistry(3, 30*time.Second, clock)
	ctx := context.Background()

	var calls int
	v, err := Do(ctx, r, "bank_api", time.Second, succeeding(&calls), nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 1, calls)
	assert.Equal(t, ModeClosed, r.Mode("bank_api"))
}

func TestDo_TripsOpenAfterConsecutiveFailures(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	r := newTestRegistry(3, 30*time.Second, clock)
	ctx := context.Background()

	var calls int
	for range 3 {
		_, err := Do(ctx, r, "bank_api", time.Second, failing(&calls), nil)
		require.ErrorIs(t, err, errBoom)
	}
	assert.Equal(t, ModeOpen, r.Mode("bank_api"))

	// short-circuits: primary must not run, circuit_open comes back
	_, err := Do(ctx, r, "bank_api", time.Second, failing(&calls), nil)
	require.ErrorIs(t, err, domain.ErrCircuitOpen)
	assert.True(t, domain.IsRetryable(err))
	assert.Equal(t, 3, calls)
}

func TestDo_OpenInvokesFallbackWithoutPrimary(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	r := newTestRegistry(2, 30*time.Second, clock)
	ctx := context.Background()

	var calls int
	for range 2 {
		Do(ctx, r, "bank_api", time.Second, failing(&calls), nil)
	}
	require.Equal(t, ModeOpen, r.Mode("bank_api"))

	v, err := Do(ctx, r, "bank_api", time.Second, failing(&calls),
		func() (string, error) { return "degraded", nil })
	require.NoError(t, err)
	assert.Equal(t, "degraded", v)
	assert.Equal(t, 2, calls, "primary must not be attempted while open")
}

func TestDo_HalfOpenSingleTrialThenCloses(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	r := newTestRegistry(2, 30*time.Second, clock)
	ctx := context.Background()

	var calls int
	for range 2 {
		Do(ctx, r, "bank_api", time.Second, failing(&calls), nil)
	}
	require.Equal(t, ModeOpen, r.Mode("bank_api"))

	clock.Advance(31 * time.Second)

	// exactly one trial is attempted after cooldown
	var trialCalls int
	v, err := Do(ctx, r, "bank_api", time.Second, succeeding(&trialCalls), nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 1, trialCalls)
	assert.Equal(t, ModeClosed, r.Mode("bank_api"))
}

func TestDo_HalfOpenTrialFailureReopens(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	r := newTestRegistry(2, 30*time.Second, clock)
	ctx := context.Background()

	var calls int
	for range 2 {
		Do(ctx, r, "bank_api", time.Second, failing(&calls), nil)
	}
	clock.Advance(31 * time.Second)

	_, err := Do(ctx, r, "bank_api", time.Second, failing(&calls), nil)
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, ModeOpen, r.Mode("bank_api"))

	// cooldown restarts after the failed trial
	_, err = Do(ctx, r, "bank_api", time.Second, failing(&calls), nil)
	require.ErrorIs(t, err, domain.ErrCircuitOpen)
}

func TestDo_HalfOpenConcurrentCallersShortCircuit(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	r := newTestRegistry(1, 10*time.Second, clock)
	ctx := context.Background()

	var calls int
	Do(ctx, r, "bank_api", time.Second, failing(&calls), nil)
	require.Equal(t, ModeOpen, r.Mode("bank_api"))
	clock.Advance(11 * time.Second)

	// first caller after cooldown becomes the trial and blocks in primary;
	// a second caller meanwhile must short-circuit, not pile on
	trialStarted := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := Do(ctx, r, "bank_api", time.Minute, func(context.Context) (string, error) {
			close(trialStarted)
			<-release
			return "ok", nil
		}, nil)
		done <- err
	}()

	<-trialStarted
	_, err := Do(ctx, r, "bank_api", time.Second, succeeding(&calls), nil)
	require.ErrorIs(t, err, domain.ErrCircuitOpen)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, ModeClosed, r.Mode("bank_api"))
}

func TestDo_SuccessResetsFailureCount(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	r := newTestRegistry(3, 30*time.Second, clock)
	ctx := context.Background()

	var fails, oks int
	Do(ctx, r, "bank_api", time.Second, failing(&fails), nil)
	Do(ctx, r, "bank_api", time.Second, failing(&fails), nil)
	Do(ctx, r, "bank_api", time.Second, succeeding(&oks), nil)
	Do(ctx, r, "bank_api", time.Second, failing(&fails), nil)
	Do(ctx, r, "bank_api", time.Second, failing(&fails), nil)

	// never saw three consecutive failures
	assert.Equal(t, ModeClosed, r.Mode("bank_api"))
}

func TestDo_TimeoutCountsAsFailure(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	r := newTestRegistry(1, 30*time.Second, clock)
	ctx := context.Background()

	_, err := Do(ctx, r, "bank_api", 10*time.Millisecond, func(c context.Context) (string, error) {
		<-c.Done()
		return "", c.Err()
	}, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, ModeOpen, r.Mode("bank_api"))
}

func TestDo_KeysAreIndependent(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	r := newTestRegistry(1, 30*time.Second, clock)
	ctx := context.Background()

	var calls int
	Do(ctx, r, "bank_api", time.Second, failing(&calls), nil)
	require.Equal(t, ModeOpen, r.Mode("bank_api"))

	v, err := Do(ctx, r, "other_api", time.Second, succeeding(&calls), nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}
