// Package queue abstracts the job queue engine. The engine itself is external;
// this service only reads its waiting-job depth and subscribes to the
// lifecycle events it emits.
package queue

import "context"

// Accessor exposes the queue backlog depth.
type Accessor interface {
	// WaitingCount returns the number of jobs queued but not yet started.
	WaitingCount(ctx context.Context) (int64, error)
}
