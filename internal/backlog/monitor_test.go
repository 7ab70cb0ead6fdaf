package backlog

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlguard/internal/notify"
)

// stepClock is a manually advanced clock. After registers a waiter that fires
// only when the test advances time, so the 60s confirm delay is simulated.
type stepClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []chan time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Unix(1700000000, 0).UTC()}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	c.mu.Lock()
	c.waiters = append(c.waiters, ch)
	c.mu.Unlock()
	return ch
}

func (c *stepClock) waiterCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// advance moves the clock and releases every pending waiter.
func (c *stepClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	waiters := c.waiters
	c.waiters = nil
	now := c.now
	c.mu.Unlock()
	for _, ch := range waiters {
		ch <- now
	}
}

// fakeAccessor serves a settable waiting count.
type fakeAccessor struct {
	waiting atomic.Int64
	err     atomic.Value // error
}

func (a *fakeAccessor) WaitingCount(context.Context) (int64, error) {
	if err, ok := a.err.Load().(error); ok && err != nil {
		return 0, err
	}
	return a.waiting.Load(), nil
}

func newTestMonitor(accessor *fakeAccessor, notifier notify.Notifier, clk *stepClock) *Monitor {
	return NewMonitor(accessor, notifier, clk, Config{
		QueueName:      "crawl",
		Threshold:      10,
		ConfirmDelay:   time.Minute,
		DebounceWindow: 15 * time.Minute,
	}, zap.NewNop())
}

func TestWatchBelowThresholdSchedulesNothing(t *testing.T) {
	t.Parallel()

	clk := newStepClock()
	accessor := &fakeAccessor{}
	accessor.waiting.Store(3)
	sink := notify.NewMemoryNotifier()
	m := newTestMonitor(accessor, sink, clk)

	sample, err := m.Watch(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(3), sample.Waiting)
	require.Zero(t, clk.waiterCount())
	require.Empty(t, sink.Alerts())
}

func TestBreachClearedBeforeConfirmSendsNothing(t *testing.T) {
	t.Parallel()

	clk := newStepClock()
	accessor := &fakeAccessor{}
	accessor.waiting.Store(15)
	sink := notify.NewMemoryNotifier()
	m := newTestMonitor(accessor, sink, clk)

	_, err := m.Watch(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return clk.waiterCount() == 1 },
		time.Second, time.Millisecond, "confirm timer should be armed")

	// Backlog drains before the confirmation check fires.
	accessor.waiting.Store(0)
	clk.advance(time.Minute)

	// The breach must be re-armable once the pending confirmation resolves,
	// proving it concluded without notifying.
	accessor.waiting.Store(15)
	require.Eventually(t, func() bool {
		_, werr := m.Watch(context.Background())
		require.NoError(t, werr)
		return clk.waiterCount() == 1
	}, time.Second, time.Millisecond)

	require.Empty(t, sink.Alerts())
	require.True(t, m.State().LastNotifiedAt.IsZero())
}

func TestSustainedBreachSendsExactlyOneAlert(t *testing.T) {
	t.Parallel()

	clk := newStepClock()
	accessor := &fakeAccessor{}
	accessor.waiting.Store(25)
	sink := notify.NewMemoryNotifier()
	m := newTestMonitor(accessor, sink, clk)

	_, err := m.Watch(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return clk.waiterCount() == 1 },
		time.Second, time.Millisecond)

	clk.advance(time.Minute)
	require.Eventually(t, func() bool { return len(sink.Alerts()) == 1 },
		time.Second, time.Millisecond)

	alert := sink.Alerts()[0]
	require.Equal(t, "crawl", alert.Queue)
	require.Equal(t, int64(25), alert.WaitingJobs)
	require.Equal(t, int64(10), alert.Threshold)

	// A second sustained breach inside the open debounce window stays silent.
	_, err = m.Watch(context.Background())
	require.NoError(t, err)
	require.Zero(t, clk.waiterCount(), "no new confirmation inside the debounce window")
	require.Len(t, sink.Alerts(), 1)
}

func TestConcurrentWatchSchedulesSingleConfirmation(t *testing.T) {
	t.Parallel()

	clk := newStepClock()
	accessor := &fakeAccessor{}
	accessor.waiting.Store(50)
	sink := notify.NewMemoryNotifier()
	m := newTestMonitor(accessor, sink, clk)

	for i := 0; i < 5; i++ {
		_, err := m.Watch(context.Background())
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool { return clk.waiterCount() == 1 },
		time.Second, time.Millisecond)
	require.Equal(t, 1, clk.waiterCount(), "repeat breaches share one pending confirmation")

	clk.advance(time.Minute)
	require.Eventually(t, func() bool { return len(sink.Alerts()) == 1 },
		time.Second, time.Millisecond)
	require.Len(t, sink.Alerts(), 1)
}

func TestNotifyFailureIsLoggedNotRetried(t *testing.T) {
	t.Parallel()

	clk := newStepClock()
	accessor := &fakeAccessor{}
	accessor.waiting.Store(25)
	sink := notify.NewMemoryNotifier()
	sink.FailWith(errors.New("webhook down"))
	m := newTestMonitor(accessor, sink, clk)

	_, err := m.Watch(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return clk.waiterCount() == 1 },
		time.Second, time.Millisecond)
	clk.advance(time.Minute)

	// The state still records the notification moment: the window opens even
	// when delivery fails, and nothing retries.
	require.Eventually(t, func() bool { return !m.State().LastNotifiedAt.IsZero() },
		time.Second, time.Millisecond)
	require.Empty(t, sink.Alerts())
	require.Zero(t, clk.waiterCount())
}

func TestSampleSurfacesAccessorError(t *testing.T) {
	t.Parallel()

	clk := newStepClock()
	accessor := &fakeAccessor{}
	accessor.err.Store(errors.New("redis unavailable"))
	m := newTestMonitor(accessor, notify.NewMemoryNotifier(), clk)

	_, err := m.Sample(context.Background())
	require.Error(t, err)
}

func TestNilNotifierDisablesAlertingSilently(t *testing.T) {
	t.Parallel()

	clk := newStepClock()
	accessor := &fakeAccessor{}
	accessor.waiting.Store(25)
	m := newTestMonitor(accessor, nil, clk)

	_, err := m.Watch(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return clk.waiterCount() == 1 },
		time.Second, time.Millisecond)
	clk.advance(time.Minute)

	require.Eventually(t, func() bool { return !m.State().LastNotifiedAt.IsZero() },
		time.Second, time.Millisecond)
}
