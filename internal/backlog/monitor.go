// Package backlog samples the job-queue depth and raises edge-triggered
// alerts when the backlog stays above threshold through a confirmation delay.
package backlog

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawlguard/internal/clock"
	"github.com/JakeFAU/crawlguard/internal/metrics"
	"github.com/JakeFAU/crawlguard/internal/notify"
	"github.com/JakeFAU/crawlguard/internal/queue"
)

// Sample is one observation of the queue backlog.
type Sample struct {
	// Waiting is the number of jobs queued but not yet started.
	Waiting int64 `json:"waitingJobs"`
	// SampledAt is when the observation was taken.
	SampledAt time.Time `json:"sampledAt"`
}

// AlertState tracks the debounce bookkeeping for one monitored queue. It is
// process-local: concurrent workers each hold their own copy, so a sustained
// breach may produce up to pool-size duplicate alerts. That imprecision is
// accepted; global deduplication is explicitly not guaranteed.
type AlertState struct {
	// BreachConfirmedAt is the time of the most recent confirmed breach.
	BreachConfirmedAt time.Time
	// LastNotifiedAt opens the debounce window; zero means never notified.
	LastNotifiedAt time.Time
	// DebounceWindow is how long after a notification further confirmed
	// breaches stay silent.
	DebounceWindow time.Duration
}

// windowOpen reports whether the debounce window is still open at now.
func (s AlertState) windowOpen(now time.Time) bool {
	if s.LastNotifiedAt.IsZero() || s.DebounceWindow <= 0 {
		return false
	}
	return now.Before(s.LastNotifiedAt.Add(s.DebounceWindow))
}

// Config controls Monitor behavior.
type Config struct {
	// QueueName labels alerts and logs.
	QueueName string
	// Threshold is the waiting-count at or above which a breach begins.
	Threshold int64
	// ConfirmDelay is the wait before the breach is re-checked (default 60s).
	ConfirmDelay time.Duration
	// DebounceWindow suppresses repeat notifications after one fires.
	DebounceWindow time.Duration
	// BaseContext governs the deferred confirmation check. It must outlive
	// individual requests: the timer is cancelable only by process exit.
	BaseContext context.Context
}

// Monitor owns backlog sampling and the confirm-then-alert cycle for one
// queue. All methods are safe for concurrent use.
type Monitor struct {
	accessor queue.Accessor
	notifier notify.Notifier
	clk      clock.Clock
	logger   *zap.Logger
	cfg      Config

	// confirmCh serializes confirm scheduling: it holds one token while a
	// deferred re-check is pending.
	confirmCh chan struct{}
	stateCh   chan AlertState
}

// NewMonitor constructs a Monitor. A nil notifier disables outward alerting
// while keeping sampling and logging intact.
func NewMonitor(accessor queue.Accessor, notifier notify.Notifier, clk clock.Clock, cfg Config, logger *zap.Logger) *Monitor {
	if cfg.ConfirmDelay <= 0 {
		cfg.ConfirmDelay = time.Minute
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Monitor{
		accessor:  accessor,
		notifier:  notifier,
		clk:       clk,
		logger:    logger,
		cfg:       cfg,
		confirmCh: make(chan struct{}, 1),
		stateCh:   make(chan AlertState, 1),
	}
	m.stateCh <- AlertState{DebounceWindow: cfg.DebounceWindow}
	return m
}

// Sample reads the current waiting-job count.
func (m *Monitor) Sample(ctx context.Context) (Sample, error) {
	waiting, err := m.accessor.WaitingCount(ctx)
	if err != nil {
		return Sample{}, fmt.Errorf("sample backlog: %w", err)
	}
	metrics.SetBacklogWaiting(waiting)
	return Sample{Waiting: waiting, SampledAt: m.clk.Now()}, nil
}

// Watch samples the backlog and, when the threshold is breached, schedules a
// deferred confirmation without blocking the caller. The confirmation runs on
// the monitor's base context so an in-flight HTTP request ending does not
// cancel it.
func (m *Monitor) Watch(ctx context.Context) (Sample, error) {
	sample, err := m.Sample(ctx)
	if err != nil {
		return Sample{}, err
	}
	m.evaluate(sample)
	return sample, nil
}

// State returns a copy of the current alert state.
func (m *Monitor) State() AlertState {
	state := <-m.stateCh
	m.stateCh <- state
	return state
}

func (m *Monitor) evaluate(sample Sample) {
	if sample.Waiting < m.cfg.Threshold {
		return
	}
	state := m.State()
	if state.windowOpen(sample.SampledAt) {
		m.logger.Debug("backlog breach inside debounce window, staying silent",
			zap.Int64("waiting", sample.Waiting))
		return
	}
	select {
	case m.confirmCh <- struct{}{}:
	default:
		// A confirmation is already pending for this breach.
		return
	}
	m.logger.Info("backlog threshold breached, scheduling confirmation",
		zap.String("queue", m.cfg.QueueName),
		zap.Int64("waiting", sample.Waiting),
		zap.Int64("threshold", m.cfg.Threshold),
		zap.Duration("confirm_delay", m.cfg.ConfirmDelay),
	)
	go m.confirm(sample)
}

// confirm waits the confirmation delay, re-samples, and notifies exactly once
// if the breach held. It releases the pending token on every path.
func (m *Monitor) confirm(first Sample) {
	defer func() { <-m.confirmCh }()

	ctx := m.cfg.BaseContext
	select {
	case <-ctx.Done():
		return
	case <-m.clk.After(m.cfg.ConfirmDelay):
	}

	sample, err := m.Sample(ctx)
	if err != nil {
		m.logger.Warn("backlog confirmation sample failed", zap.Error(err))
		return
	}
	if sample.Waiting < m.cfg.Threshold {
		m.logger.Info("backlog breach cleared before confirmation",
			zap.String("queue", m.cfg.QueueName),
			zap.Int64("waiting", sample.Waiting),
			zap.Int64("initial", first.Waiting),
		)
		metrics.ObserveBacklogAlert("cleared")
		return
	}

	now := m.clk.Now()
	state := <-m.stateCh
	state.BreachConfirmedAt = now
	state.LastNotifiedAt = now
	m.stateCh <- state

	m.logger.Warn("backlog breach confirmed",
		zap.String("queue", m.cfg.QueueName),
		zap.Int64("waiting", sample.Waiting),
		zap.Int64("threshold", m.cfg.Threshold),
	)

	if m.notifier == nil {
		return
	}
	alert := notify.Alert{
		Queue:       m.cfg.QueueName,
		WaitingJobs: sample.Waiting,
		Threshold:   m.cfg.Threshold,
		ConfirmedAt: now,
		Message: fmt.Sprintf("queue %q backlog at %d (threshold %d) sustained through confirmation delay",
			m.cfg.QueueName, sample.Waiting, m.cfg.Threshold),
	}
	// Best-effort delivery: log and count the failure, never retry.
	if err := m.notifier.Notify(ctx, alert); err != nil {
		m.logger.Error("backlog alert delivery failed", zap.Error(err))
		metrics.ObserveBacklogAlert("failed")
		return
	}
	metrics.ObserveBacklogAlert("sent")
}
