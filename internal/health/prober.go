// Package health implements the synthetic round-trip probe used to verify the
// external key-value stores.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawlguard/internal/clock"
	"github.com/JakeFAU/crawlguard/internal/kv"
	"github.com/JakeFAU/crawlguard/internal/metrics"
)

// Target names one of the probed stores.
type Target string

// Probed dependency targets.
const (
	TargetPrimaryStore   Target = "primaryStore"
	TargetRateLimitStore Target = "rateLimitStore"
)

// Status is the probe outcome for one target.
type Status string

// Probe outcomes.
const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// Result captures one probe call. Results are ephemeral and never persisted.
type Result struct {
	Target Target `json:"target"`
	Status Status `json:"status"`
	// AttemptsUsed is the largest attempt count any single operation consumed.
	AttemptsUsed int       `json:"attemptsUsed"`
	Timestamp    time.Time `json:"timestamp"`
	// Detail carries the failure reason when Status is unhealthy.
	Detail string `json:"detail,omitempty"`
}

// Report aggregates the probe results for all targets.
type Report struct {
	Healthy bool              `json:"healthy"`
	Results map[Target]Result `json:"results"`
}

// Config controls probe behavior.
type Config struct {
	// Attempts is the per-operation retry budget (default 3).
	Attempts int
	// Delay is the fixed wait between attempts (default 2s). Fixed rather
	// than exponential: the store either recovers within the window or the
	// probe should conclude.
	Delay time.Duration
	// Key and Value form the fixed test pair written during the round trip.
	Key   string
	Value string
}

// Prober runs write/read/delete round trips against the configured stores.
type Prober struct {
	stores map[Target]kv.Store
	cfg    Config
	clk    clock.Clock
	logger *zap.Logger
}

// NewProber constructs a Prober over the given stores.
func NewProber(stores map[Target]kv.Store, cfg Config, clk clock.Clock, logger *zap.Logger) *Prober {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.Delay <= 0 {
		cfg.Delay = 2 * time.Second
	}
	if cfg.Key == "" {
		cfg.Key = "crawlguard:probe"
	}
	if cfg.Value == "" {
		cfg.Value = "ok"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{stores: stores, cfg: cfg, clk: clk, logger: logger}
}

// Probe runs one write->read->delete round trip against the target. The three
// operations run strictly in order; each is retried independently up to the
// attempt budget with the fixed inter-attempt delay.
func (p *Prober) Probe(ctx context.Context, target Target) Result {
	res := Result{
		Target:    target,
		Status:    StatusUnhealthy,
		Timestamp: p.clk.Now(),
	}
	store, ok := p.stores[target]
	if !ok || store == nil {
		res.AttemptsUsed = 0
		res.Detail = "no store configured"
		p.concludeUnhealthy(target, res.Detail)
		return res
	}

	attempts, err := p.retry(ctx, target, "set", func(ctx context.Context) error {
		return store.Set(ctx, p.cfg.Key, p.cfg.Value)
	})
	res.AttemptsUsed = attempts
	if err != nil {
		res.Detail = fmt.Sprintf("set failed after %d attempts: %v", attempts, err)
		p.concludeUnhealthy(target, res.Detail)
		return res
	}

	var got string
	attempts, err = p.retry(ctx, target, "get", func(ctx context.Context) error {
		val, getErr := store.Get(ctx, p.cfg.Key)
		if getErr != nil {
			return getErr
		}
		got = val
		return nil
	})
	res.AttemptsUsed = max(res.AttemptsUsed, attempts)
	if err != nil {
		res.Detail = fmt.Sprintf("get failed after %d attempts: %v", attempts, err)
		p.concludeUnhealthy(target, res.Detail)
		return res
	}

	attempts, err = p.retry(ctx, target, "del", func(ctx context.Context) error {
		return store.Del(ctx, p.cfg.Key)
	})
	res.AttemptsUsed = max(res.AttemptsUsed, attempts)
	if err != nil {
		res.Detail = fmt.Sprintf("del failed after %d attempts: %v", attempts, err)
		p.concludeUnhealthy(target, res.Detail)
		return res
	}

	if got != p.cfg.Value {
		res.Detail = fmt.Sprintf("probe value mismatch: wrote %q, read %q", p.cfg.Value, got)
		p.concludeUnhealthy(target, res.Detail)
		return res
	}

	res.Status = StatusHealthy
	return res
}

// ProbeAll probes every configured target concurrently. Operations within one
// target stay strictly ordered; only the targets run in parallel.
func (p *Prober) ProbeAll(ctx context.Context) Report {
	targets := []Target{TargetPrimaryStore, TargetRateLimitStore}
	results := make([]Result, len(targets))

	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func(i int, target Target) {
			defer wg.Done()
			results[i] = p.Probe(ctx, target)
		}(i, target)
	}
	wg.Wait()

	report := Report{Healthy: true, Results: make(map[Target]Result, len(targets))}
	for _, res := range results {
		report.Results[res.Target] = res
		if res.Status != StatusHealthy {
			report.Healthy = false
		}
	}
	if !report.Healthy {
		p.logger.Error("dependency probe unhealthy",
			zap.Any("results", report.Results))
	}
	return report
}

// retry invokes fn up to the attempt budget, sleeping the fixed delay between
// attempts. It returns the number of attempts consumed and the last error.
func (p *Prober) retry(ctx context.Context, target Target, op string, fn func(context.Context) error) (int, error) {
	var err error
	for attempt := 1; attempt <= p.cfg.Attempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return attempt, nil
		}
		p.logger.Warn("probe operation failed",
			zap.String("target", string(target)),
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		metrics.ObserveProbeAttemptFailure(string(target), op)
		if attempt < p.cfg.Attempts {
			select {
			case <-ctx.Done():
				return attempt, fmt.Errorf("probe canceled: %w", ctx.Err())
			case <-p.clk.After(p.cfg.Delay):
			}
		}
	}
	return p.cfg.Attempts, err
}

// concludeUnhealthy records the per-target verdict. Warn level: the single
// error-level line per failed call belongs to the aggregate in ProbeAll.
func (p *Prober) concludeUnhealthy(target Target, detail string) {
	metrics.ObserveProbeUnhealthy(string(target))
	p.logger.Warn("store probe unhealthy",
		zap.String("target", string(target)),
		zap.String("detail", detail),
	)
}
