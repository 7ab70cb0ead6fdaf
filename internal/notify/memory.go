package notify

import (
	"context"
	"sync"
)

// MemoryNotifier records alerts for inspection in tests.
type MemoryNotifier struct {
	mu     sync.RWMutex
	alerts []Alert
	err    error
}

// NewMemoryNotifier returns an empty MemoryNotifier.
func NewMemoryNotifier() *MemoryNotifier {
	return &MemoryNotifier{}
}

// FailWith makes subsequent Notify calls return err.
func (n *MemoryNotifier) FailWith(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.err = err
}

// Notify records the alert.
func (n *MemoryNotifier) Notify(_ context.Context, alert Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.alerts = append(n.alerts, alert)
	return nil
}

// Alerts returns the recorded alerts.
func (n *MemoryNotifier) Alerts() []Alert {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]Alert, len(n.alerts))
	copy(out, n.alerts)
	return out
}
