// Package store declares interfaces for persisting queue lifecycle events.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventRecord models one durable row in the lifecycle event log.
type EventRecord struct {
	// ID is the primary key assigned at append time.
	ID uuid.UUID
	// JobID is the queue job identifier as delivered by the engine.
	JobID string
	// Kind is the lifecycle transition name (waiting, active, ...).
	Kind string
	// TS is the transition timestamp recorded by the emitter.
	TS time.Time
}

// EventRepository appends lifecycle events to durable storage. Records are
// append-only; the repository never updates or reorders them.
type EventRepository interface {
	// AppendEvents inserts one row per record, in slice order.
	AppendEvents(ctx context.Context, records []EventRecord) error
}
