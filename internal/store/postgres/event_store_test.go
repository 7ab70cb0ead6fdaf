package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawlguard/internal/store"
)

func TestAppendEventsInsertsRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	es, err := NewEventStoreWithPool(mock, "queue_events")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	records := []store.EventRecord{
		{ID: uuid.MustParse("11111111-1111-1111-1111-111111111111"), JobID: "job-1", Kind: "waiting", TS: now},
		{ID: uuid.MustParse("22222222-2222-2222-2222-222222222222"), JobID: "job-1", Kind: "active", TS: now.Add(time.Second)},
	}

	for _, rec := range records {
		mock.ExpectExec("INSERT INTO queue_events").
			WithArgs(rec.ID, rec.JobID, rec.Kind, rec.TS).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}

	require.NoError(t, es.AppendEvents(context.Background(), records))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendEventsSurfacesError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	es, err := NewEventStoreWithPool(mock, "queue_events")
	require.NoError(t, err)

	rec := store.EventRecord{
		ID:    uuid.MustParse("33333333-3333-3333-3333-333333333333"),
		JobID: "job-2",
		Kind:  "completed",
		TS:    time.Unix(1700000000, 0).UTC(),
	}
	mock.ExpectExec("INSERT INTO queue_events").
		WithArgs(rec.ID, rec.JobID, rec.Kind, rec.TS).
		WillReturnError(errors.New("connection reset"))

	err = es.AppendEvents(context.Background(), []store.EventRecord{rec})
	require.Error(t, err)
	require.Contains(t, err.Error(), "job-2")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewEventStoreWithPoolRejectsBadTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewEventStoreWithPool(mock, "queue_events; DROP TABLE jobs")
	require.Error(t, err)
}
