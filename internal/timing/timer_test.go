package timing

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestTimerElapsed(t *testing.T) {
	t.Parallel()

	clock := &stepClock{now: time.Unix(100, 0)}
	timer := Start(clock)
	clock.advance(1500 * time.Millisecond)

	require.Equal(t, 1500*time.Millisecond, timer.Elapsed())
	require.Equal(t, time.Unix(100, 0), timer.Started())
}

func TestTimerNeverNegative(t *testing.T) {
	t.Parallel()

	clock := &stepClock{now: time.Unix(100, 0)}
	timer := Start(clock)
	clock.advance(-time.Second)
	require.Zero(t, timer.Elapsed())
	require.Zero(t, Timer{}.Elapsed())
}
