// Package supervisor keeps a fixed-size pool of worker processes alive,
// respawning any worker that exits regardless of cause.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawlguard/internal/clock"
	"github.com/JakeFAU/crawlguard/internal/metrics"
)

// State describes a worker slot.
type State string

// Worker slot states.
const (
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateExited   State = "exited"
)

// ExitStatus describes how a worker process ended. Signal is the signal name
// when the process was killed, empty otherwise.
type ExitStatus struct {
	Code   int
	Signal string
}

// Cause labels the exit for logs and metrics.
func (e ExitStatus) Cause() string {
	switch {
	case e.Signal != "":
		return "signal"
	case e.Code != 0:
		return "error"
	default:
		return "clean"
	}
}

// Process is a running worker as seen by the supervisor.
type Process interface {
	PID() int
	// Wait blocks until the process exits.
	Wait() ExitStatus
	// Signal delivers sig best-effort; errors after exit are ignored.
	Signal(sig string) error
}

// Spawner launches one worker process for the given slot.
type Spawner interface {
	Spawn(ctx context.Context, workerID int) (Process, error)
}

// WorkerSlot is a snapshot of one pool slot.
type WorkerSlot struct {
	ID             int
	PID            int
	State          State
	Restarts       int
	LastExitCode   int
	LastExitSignal string
}

// Config controls the Supervisor.
type Config struct {
	// Workers is the pool size; every slot is kept occupied.
	Workers int
	// SpawnRetryDelay is the fixed wait before retrying a failed spawn.
	SpawnRetryDelay time.Duration
}

// Supervisor owns the worker pool. Every exit, clean or not, triggers an
// immediate respawn into the same slot; only shutdown stops the cycle.
type Supervisor struct {
	spawner Spawner
	clk     clock.Clock
	logger  *zap.Logger
	cfg     Config

	mu       sync.Mutex
	slots    map[int]*WorkerSlot
	procs    map[int]Process
	stopping bool
	wg       sync.WaitGroup
}

// New constructs a Supervisor.
func New(spawner Spawner, clk clock.Clock, cfg Config, logger *zap.Logger) *Supervisor {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.SpawnRetryDelay <= 0 {
		cfg.SpawnRetryDelay = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		spawner: spawner,
		clk:     clk,
		logger:  logger,
		cfg:     cfg,
		slots:   make(map[int]*WorkerSlot, cfg.Workers),
		procs:   make(map[int]Process, cfg.Workers),
	}
}

// Run fills the pool and supervises it until ctx is canceled, then signals
// every worker to terminate and waits for them to exit.
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.Info("starting worker pool", zap.Int("workers", s.cfg.Workers))
	for id := 0; id < s.cfg.Workers; id++ {
		s.mu.Lock()
		s.slots[id] = &WorkerSlot{ID: id, State: StateStarting}
		s.mu.Unlock()
		s.wg.Add(1)
		go s.supervise(ctx, id)
	}

	<-ctx.Done()
	s.logger.Info("shutting down worker pool")
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()
	s.signalAll("SIGTERM")
	s.wg.Wait()
	return nil
}

// supervise owns one slot: spawn, wait, record the exit, respawn. Spawn
// failures retry forever at a fixed interval; the loop ends only when ctx is
// done.
func (s *Supervisor) supervise(ctx context.Context, id int) {
	defer s.wg.Done()
	logger := s.logger.With(zap.Int("worker_id", id))

	for {
		proc, err := s.spawn(ctx, id, logger)
		if err != nil {
			// ctx canceled during spawn retry.
			return
		}

		status := proc.Wait()
		s.recordExit(id, status)
		s.logExit(logger, proc.PID(), status)
		metrics.ObserveWorkerRestart(status.Cause())

		select {
		case <-ctx.Done():
			return
		default:
		}
		logger.Info("respawning worker", zap.String("cause", status.Cause()))
	}
}

func (s *Supervisor) spawn(ctx context.Context, id int, logger *zap.Logger) (Process, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("spawn worker %d: %w", id, err)
		}
		proc, err := s.spawner.Spawn(ctx, id)
		if err == nil {
			s.recordRunning(id, proc)
			logger.Info("worker started", zap.Int("pid", proc.PID()))
			return proc, nil
		}
		logger.Error("worker spawn failed, retrying",
			zap.Error(err),
			zap.Duration("retry_delay", s.cfg.SpawnRetryDelay),
		)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("spawn worker %d: %w", id, ctx.Err())
		case <-s.clk.After(s.cfg.SpawnRetryDelay):
		}
	}
}

func (s *Supervisor) logExit(logger *zap.Logger, pid int, status ExitStatus) {
	switch status.Cause() {
	case "signal":
		logger.Warn("worker killed by signal",
			zap.Int("pid", pid),
			zap.String("signal", status.Signal),
		)
	case "error":
		logger.Warn("worker exited with error",
			zap.Int("pid", pid),
			zap.Int("exit_code", status.Code),
		)
	default:
		logger.Info("worker exited cleanly", zap.Int("pid", pid))
	}
}

func (s *Supervisor) recordRunning(id int, proc Process) {
	s.mu.Lock()
	slot := s.slots[id]
	slot.PID = proc.PID()
	slot.State = StateRunning
	s.procs[id] = proc
	stopping := s.stopping
	metrics.SetWorkersRunning(s.runningLocked())
	s.mu.Unlock()

	// A spawn that completes after shutdown began has already missed the
	// pool-wide signal; deliver it here so the process exits and gets reaped.
	if stopping {
		if err := proc.Signal("SIGTERM"); err != nil {
			s.logger.Warn("signal late worker failed",
				zap.Int("worker_id", id),
				zap.Error(err),
			)
		}
	}
}

func (s *Supervisor) recordExit(id int, status ExitStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot := s.slots[id]
	slot.State = StateExited
	slot.PID = 0
	slot.Restarts++
	slot.LastExitCode = status.Code
	slot.LastExitSignal = status.Signal
	delete(s.procs, id)
	metrics.SetWorkersRunning(s.runningLocked())
}

func (s *Supervisor) runningLocked() int {
	n := 0
	for _, slot := range s.slots {
		if slot.State == StateRunning {
			n++
		}
	}
	return n
}

func (s *Supervisor) signalAll(sig string) {
	s.mu.Lock()
	procs := make(map[int]Process, len(s.procs))
	for id, proc := range s.procs {
		procs[id] = proc
	}
	s.mu.Unlock()

	for id, proc := range procs {
		if err := proc.Signal(sig); err != nil {
			s.logger.Warn("signal worker failed",
				zap.Int("worker_id", id),
				zap.String("signal", sig),
				zap.Error(err),
			)
		}
	}
}

// Snapshot returns a copy of every slot's state.
func (s *Supervisor) Snapshot() []WorkerSlot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]WorkerSlot, 0, len(s.slots))
	for _, slot := range s.slots {
		out = append(out, *slot)
	}
	return out
}

// LiveWorkers reports how many slots currently hold a running process.
func (s *Supervisor) LiveWorkers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runningLocked()
}
