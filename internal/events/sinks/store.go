package sinks

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlguard/internal/events"
	"github.com/JakeFAU/crawlguard/internal/store"
)

// StoreSink appends lifecycle events to a store.EventRepository, one durable
// record per event, preserving batch order.
type StoreSink struct {
	repo   store.EventRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.EventRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume converts the batch to records and forwards them to the repository.
// Repository errors are returned verbatim so the hub can count the failure.
func (s *StoreSink) Consume(ctx context.Context, batch []events.Event) error {
	if s == nil || s.repo == nil || len(batch) == 0 {
		return nil
	}
	records := make([]store.EventRecord, 0, len(batch))
	for _, evt := range batch {
		records = append(records, store.EventRecord{
			ID:    uuid.New(),
			JobID: evt.JobID,
			Kind:  string(evt.Kind),
			TS:    evt.TS,
		})
	}
	if err := s.repo.AppendEvents(ctx, records); err != nil {
		return fmt.Errorf("append lifecycle events: %w", err)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
