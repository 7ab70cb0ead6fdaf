package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/crawlguard/internal/events"
)

// PrometheusSink exports lifecycle event counts via Prometheus. It owns its
// collectors so tests can register against a private registry.
type PrometheusSink struct {
	eventsTotal *prometheus.CounterVec
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawlguard_lifecycle_events_total",
			Help: "Queue lifecycle events observed, partitioned by kind.",
		}, []string{"kind"}),
	}
	if err := reg.Register(s.eventsTotal); err != nil {
		return nil, fmt.Errorf("register lifecycle collector: %w", err)
	}
	return s, nil
}

// Consume updates the collectors using the provided batch. It is safe for
// concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		s.eventsTotal.WithLabelValues(string(evt.Kind)).Inc()
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
