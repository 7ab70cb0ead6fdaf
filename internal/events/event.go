// Package events defines the queue lifecycle events recorded by the service
// and the hub that fans them out to durable sinks.
package events

import (
	"errors"
	"fmt"
	"time"
)

// Kind names one of the queue lifecycle transitions.
type Kind string

// The six lifecycle kinds emitted by the job queue engine.
const (
	KindWaiting   Kind = "waiting"
	KindActive    Kind = "active"
	KindCompleted Kind = "completed"
	KindPaused    Kind = "paused"
	KindResumed   Kind = "resumed"
	KindRemoved   Kind = "removed"
)

// Kinds lists every lifecycle kind in a stable order.
func Kinds() []Kind {
	return []Kind{KindWaiting, KindActive, KindCompleted, KindPaused, KindResumed, KindRemoved}
}

// Event captures a single queue lifecycle transition. Events are append-only:
// the logger records them as delivered and never mutates or reorders them.
type Event struct {
	// JobID identifies the queue job the transition belongs to.
	JobID string
	// Kind is one of the six lifecycle kinds.
	Kind Kind
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Kind {
	case KindWaiting, KindActive, KindCompleted, KindPaused, KindResumed, KindRemoved:
		return nil
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
}

// ParseKind maps a queue engine event name onto a Kind.
func ParseKind(name string) (Kind, error) {
	switch Kind(name) {
	case KindWaiting, KindActive, KindCompleted, KindPaused, KindResumed, KindRemoved:
		return Kind(name), nil
	default:
		return "", fmt.Errorf("unknown event kind %q", name)
	}
}
