// Package notify delivers backlog alerts to outward sinks. Delivery is
// best-effort: failures are logged by callers, never retried, never escalated.
package notify

import (
	"context"
	"time"
)

// Alert describes one confirmed backlog breach.
type Alert struct {
	Queue       string    `json:"queue"`
	WaitingJobs int64     `json:"waitingJobs"`
	Threshold   int64     `json:"threshold"`
	ConfirmedAt time.Time `json:"confirmedAt"`
	Message     string    `json:"message"`
}

// Notifier delivers one alert. Implementations must honor ctx deadlines.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// Multi fans an alert out to several notifiers, returning the first error
// after attempting all of them.
type Multi []Notifier

// Notify delivers the alert to every wrapped notifier.
func (m Multi) Notify(ctx context.Context, alert Alert) error {
	var firstErr error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, alert); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
