package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// recordingSink captures consumed events and can simulate slow persistence.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
	delay  time.Duration
	closed bool
}

func (s *recordingSink) Consume(ctx context.Context, batch []Event) error {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, batch...)
	return nil
}

func (s *recordingSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

func TestHubDeliversAllSixKindsDespiteSlowSink(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{delay: 20 * time.Millisecond}
	hub := NewHub(Config{MaxBatchWait: 5 * time.Millisecond}, sink)

	now := time.Unix(1700000000, 0).UTC()
	for i, kind := range Kinds() {
		hub.Emit(Event{JobID: "job-1", Kind: kind, TS: now.Add(time.Duration(i) * time.Second)})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, hub.Close(ctx))

	got := sink.snapshot()
	require.Len(t, got, len(Kinds()))
	for i, kind := range Kinds() {
		require.Equal(t, kind, got[i].Kind)
		require.Equal(t, "job-1", got[i].JobID)
	}
	require.True(t, sink.closed)
}

func TestHubPreservesArrivalOrderPerSink(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(Config{MaxBatchEvents: 4, MaxBatchWait: 5 * time.Millisecond}, sink)

	now := time.Unix(1700000000, 0).UTC()
	for i := 0; i < 20; i++ {
		hub.Emit(Event{JobID: "job-ordered", Kind: KindWaiting, TS: now.Add(time.Duration(i) * time.Millisecond)})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, hub.Close(ctx))

	got := sink.snapshot()
	require.Len(t, got, 20)
	for i := 1; i < len(got); i++ {
		require.False(t, got[i].TS.Before(got[i-1].TS), "events reordered at index %d", i)
	}
}

func TestHubDiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(Config{MaxBatchWait: 5 * time.Millisecond}, sink)

	hub.Emit(Event{Kind: KindWaiting, TS: time.Now()})                // missing job id
	hub.Emit(Event{JobID: "job-2", Kind: "stalled", TS: time.Now()}) // unknown kind

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, hub.Close(ctx))

	require.Empty(t, sink.snapshot())
}

func TestHubEmitAfterCloseIsNoop(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(Config{}, sink)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, hub.Close(ctx))

	require.NotPanics(t, func() {
		hub.Emit(Event{JobID: "late", Kind: KindRemoved, TS: time.Now()})
	})
}
