package circuit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(opts ...Option) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)}
	return New("redis", append([]Option{WithClock(clock.now)}, opts...)...), clock
}

func TestBreakerStartsClosed(t *testing.T) {
	b, _ := newTestBreaker()
	assert.Equal(t, "redis", b.Name())
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, "closed", b.State().String())
	assert.True(t, b.Allow())
}

func TestBreakerOpensOnConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(WithFailureThreshold(3))

	for i := range 2 {
		useFallback, change := b.RecordFailure()
		assert.False(t, useFallback, "failure %d", i+1)
		assert.False(t, change.Opened)
	}
	useFallback, change := b.RecordFailure()
	assert.True(t, useFallback)
	assert.True(t, change.Opened)
	assert.Equal(t, "open", b.State().String())

	t.Run("further failures do not report a second opening", func(t *testing.T) {
		useFallback, change := b.RecordFailure()
		assert.True(t, useFallback)
		assert.False(t, change.Opened)
	})
}

func TestBreakerSuccessClearsFailureStreak(t *testing.T) {
	b, _ := newTestBreaker(WithFailureThreshold(2))

	b.RecordFailure()
	usePrimary, change := b.RecordSuccess()
	assert.True(t, usePrimary)
	assert.False(t, change.Closed)

	b.RecordFailure()
	assert.False(t, b.IsOpen(), "streak restarted after the success")
}

func TestBreakerClosesAfterSuccessThreshold(t *testing.T) {
	b, _ := newTestBreaker(WithFailureThreshold(1), WithSuccessThreshold(2))
	b.RecordFailure()
	require.True(t, b.IsOpen())

	usePrimary, change := b.RecordSuccess()
	assert.False(t, usePrimary)
	assert.False(t, change.Closed)

	t.Run("a failure while recovering restarts the count", func(t *testing.T) {
		b.RecordFailure()
		usePrimary, _ := b.RecordSuccess()
		assert.False(t, usePrimary)
	})

	usePrimary, change = b.RecordSuccess()
	assert.True(t, usePrimary)
	assert.True(t, change.Closed)
	assert.False(t, b.IsOpen())
}

func TestBreakerAllowProbesAfterCooldown(t *testing.T) {
	b, clock := newTestBreaker(WithFailureThreshold(1), WithCooldown(10*time.Second))
	b.RecordFailure()
	assert.False(t, b.Allow())

	clock.advance(9 * time.Second)
	assert.False(t, b.Allow())

	clock.advance(time.Second)
	assert.True(t, b.Allow())

	t.Run("a failed probe restarts the cooldown", func(t *testing.T) {
		b.RecordFailure()
		assert.False(t, b.Allow())
	})
}

func TestBreakerReset(t *testing.T) {
	b, _ := newTestBreaker(WithFailureThreshold(1))
	b.RecordFailure()
	b.Reset()
	assert.False(t, b.IsOpen())
	assert.True(t, b.Allow())
}

func TestBreakerConcurrentUse(t *testing.T) {
	b, _ := newTestBreaker(WithFailureThreshold(50))
	var wg sync.WaitGroup
	for range 100 {
		wg.Go(func() { b.RecordFailure() })
	}
	wg.Wait()
	assert.True(t, b.IsOpen())
}
