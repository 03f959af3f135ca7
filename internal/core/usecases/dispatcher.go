package usecases

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/samirrijal/trailkit/internal/core/ports"
)

// ErrDispatcherClosed is returned by Dispatch after Shutdown.
var ErrDispatcherClosed = errors.New("dispatcher is shut down")

// JobRunner executes one enrichment job to completion.
type JobRunner interface {
	RunEnrichment(ctx context.Context, job ports.EnrichmentJob) error
}

// LocalDispatcher runs every job on its own goroutine. Runs are detached from
// the caller's context, bounded by the run timeout and cancelled on Shutdown.
type LocalDispatcher struct {
	runner  JobRunner
	timeout time.Duration

	mu     sync.Mutex
	closed bool
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLocalDispatcher creates a LocalDispatcher. A non-positive timeout
// means runs are only bounded by Shutdown.
func NewLocalDispatcher(runner JobRunner, timeout time.Duration) *LocalDispatcher {
	base, cancel := context.WithCancel(context.Background())
	return &LocalDispatcher{runner: runner, timeout: timeout, base: base, cancel: cancel}
}

// Dispatch starts job in the background and returns immediately.
func (d *LocalDispatcher) Dispatch(ctx context.Context, job ports.EnrichmentJob) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDispatcherClosed
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		runCtx, cancel := d.base, context.CancelFunc(func() {})
		if d.timeout > 0 {
			runCtx, cancel = context.WithTimeout(d.base, d.timeout)
		}
		defer cancel()

		if err := d.runner.RunEnrichment(runCtx, job); err != nil {
			slog.Warn("enrichment run ended with error", "session", job.SessionID, "error", err)
		}
	}()
	return nil
}

// Shutdown stops accepting jobs, cancels the running ones and waits for them
// to record their outcome or for ctx to expire.
func (d *LocalDispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every dispatched job has finished.
func (d *LocalDispatcher) Wait() {
	d.wg.Wait()
}
