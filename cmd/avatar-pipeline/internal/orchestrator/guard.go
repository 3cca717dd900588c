package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrBusy is returned when a run is requested while another is active.
var ErrBusy = errors.New("a pipeline run is already in progress")

// Runner runs the pipeline once.
type Runner interface {
	Run(ctx context.Context) (*RunResult, error)
}

// GuardStatus is a snapshot of the guard.
type GuardStatus struct {
	Busy         bool       `json:"busy"`
	Runs         int        `json:"runs"`
	LastResult   *RunResult `json:"last_result,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	LastFinished time.Time  `json:"last_finished,omitempty"`
}

// RunGuard lets at most one pipeline run touch the working tree at a time.
// Requests that arrive while a run is active are refused, not queued.
type RunGuard struct {
	runner Runner
	sem    *semaphore.Weighted

	mu     sync.Mutex
	status GuardStatus
}

// NewRunGuard creates a RunGuard around runner.
func NewRunGuard(runner Runner) *RunGuard {
	return &RunGuard{
		runner: runner,
		sem:    semaphore.NewWeighted(1),
	}
}

// TryRun runs the pipeline synchronously, or returns ErrBusy.
func (g *RunGuard) TryRun(ctx context.Context) (*RunResult, error) {
	if !g.acquire() {
		return nil, ErrBusy
	}
	defer g.sem.Release(1)
	return g.run(ctx)
}

// TryStart runs the pipeline in the background, or returns ErrBusy. done,
// when non-nil, is called with the outcome before the guard is released.
func (g *RunGuard) TryStart(ctx context.Context, done func(*RunResult, error)) error {
	if !g.acquire() {
		return ErrBusy
	}
	go func() {
		defer g.sem.Release(1)
		res, err := g.run(ctx)
		if done != nil {
			done(res, err)
		}
	}()
	return nil
}

// Wait blocks until no run is active, including the done callback of a run
// started with TryStart.
func (g *RunGuard) Wait() {
	_ = g.sem.Acquire(context.Background(), 1)
	g.sem.Release(1)
}

// Status returns a snapshot of the guard state.
func (g *RunGuard) Status() GuardStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status
}

func (g *RunGuard) acquire() bool {
	if !g.sem.TryAcquire(1) {
		return false
	}
	g.mu.Lock()
	g.status.Busy = true
	g.mu.Unlock()
	return true
}

// run must be called with the semaphore held; the caller releases it.
func (g *RunGuard) run(ctx context.Context) (*RunResult, error) {
	res, err := g.runner.Run(ctx)

	g.mu.Lock()
	g.status.Busy = false
	g.status.Runs++
	g.status.LastFinished = time.Now()
	if err != nil {
		g.status.LastError = err.Error()
	} else {
		g.status.LastResult = res
		g.status.LastError = ""
	}
	g.mu.Unlock()

	return res, err
}
