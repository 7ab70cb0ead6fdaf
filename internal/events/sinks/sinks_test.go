package sinks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlguard/internal/events"
	"github.com/JakeFAU/crawlguard/internal/store"
)

type fakeRepo struct {
	records []store.EventRecord
	err     error
}

func (r *fakeRepo) AppendEvents(_ context.Context, records []store.EventRecord) error {
	if r.err != nil {
		return r.err
	}
	r.records = append(r.records, records...)
	return nil
}

func TestStoreSinkAppendsOneRecordPerEvent(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{}
	sink := NewStoreSink(repo, zap.NewNop())

	now := time.Unix(1700000000, 0).UTC()
	batch := []events.Event{
		{JobID: "job-1", Kind: events.KindWaiting, TS: now},
		{JobID: "job-2", Kind: events.KindRemoved, TS: now.Add(time.Second)},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Len(t, repo.records, 2)
	require.Equal(t, "job-1", repo.records[0].JobID)
	require.Equal(t, "waiting", repo.records[0].Kind)
	require.Equal(t, "job-2", repo.records[1].JobID)
	require.Equal(t, "removed", repo.records[1].Kind)
	require.NotEqual(t, repo.records[0].ID, repo.records[1].ID)
}

func TestStoreSinkSurfacesRepositoryError(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{err: errors.New("disk full")}
	sink := NewStoreSink(repo, zap.NewNop())

	err := sink.Consume(context.Background(), []events.Event{
		{JobID: "job-3", Kind: events.KindActive, TS: time.Now()},
	})
	require.Error(t, err)
}

func TestPrometheusSinkCountsByKind(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	batch := []events.Event{
		{JobID: "job-1", Kind: events.KindCompleted, TS: now},
		{JobID: "job-2", Kind: events.KindCompleted, TS: now},
		{JobID: "job-3", Kind: events.KindPaused, TS: now},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	completed := sink.eventsTotal.WithLabelValues("completed")
	require.Equal(t, float64(2), testutil.ToFloat64(completed))
	paused := sink.eventsTotal.WithLabelValues("paused")
	require.Equal(t, float64(1), testutil.ToFloat64(paused))
}

func TestLogSinkHandlesBatch(t *testing.T) {
	t.Parallel()

	sink := NewLogSink(zap.NewNop())
	require.NoError(t, sink.Consume(context.Background(), []events.Event{
		{JobID: "job-1", Kind: events.KindResumed, TS: time.Now()},
	}))
	require.NoError(t, sink.Close(context.Background()))
}
