package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"finlens/internal/amqp"
	"finlens/internal/services"
)

// Runner performs one materialization pass.
type Runner interface {
	Run(ctx context.Context, userID string) (services.MaterializeResult, error)
}

// MaterializeWorker runs rollup passes on a fixed interval and on demand
// from queued requests. Passes never overlap within one process.
type MaterializeWorker struct {
	runner   Runner
	interval time.Duration

	passMu   sync.Mutex
	running  atomic.Bool
	stop     chan struct{}
	stopOnce *sync.Once
	done     chan struct{}
}

func NewMaterializeWorker(runner Runner, interval time.Duration) *MaterializeWorker {
	return &MaterializeWorker{runner: runner, interval: interval}
}

// Start runs one pass immediately, then one every interval until Stop is
// called or ctx is cancelled.
func (w *MaterializeWorker) Start(ctx context.Context) error {
	if w.runner == nil {
		return errors.New("materialize worker not properly initialized")
	}
	if w.interval <= 0 {
		return fmt.Errorf("invalid interval %v", w.interval)
	}
	if !w.running.CompareAndSwap(false, true) {
		return errors.New("materialize worker already running")
	}
	w.stop = make(chan struct{})
	w.stopOnce = &sync.Once{}
	w.done = make(chan struct{})

	slog.InfoContext(ctx, "Materialize worker started", "interval", w.interval)
	go w.loop(ctx)
	return nil
}

func (w *MaterializeWorker) loop(ctx context.Context) {
	defer close(w.done)
	defer w.running.Store(false)

	w.runScheduled(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Materialize worker stopping", "reason", ctx.Err())
			return
		case <-w.stop:
			slog.InfoContext(ctx, "Materialize worker stopped")
			return
		case <-ticker.C:
			w.runScheduled(ctx)
		}
	}
}

func (w *MaterializeWorker) runScheduled(ctx context.Context) {
	if _, err := w.RunOnce(ctx, ""); err != nil {
		// the next tick retries from scratch
		slog.ErrorContext(ctx, "Scheduled materialization failed", "error", err)
		return
	}
	slog.InfoContext(ctx, "Scheduled materialization complete",
		"next_run", time.Now().Add(w.interval).Format(time.RFC3339))
}

// Stop ends the loop and waits for an in-flight pass to finish.
func (w *MaterializeWorker) Stop() {
	if !w.running.Load() {
		return
	}
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.done
}

// IsRunning reports whether the periodic loop is active.
func (w *MaterializeWorker) IsRunning() bool {
	return w.running.Load()
}

// RunOnce performs a single pass, waiting for any pass already in progress.
func (w *MaterializeWorker) RunOnce(ctx context.Context, userID string) (services.MaterializeResult, error) {
	w.passMu.Lock()
	defer w.passMu.Unlock()
	if err := ctx.Err(); err != nil {
		return services.MaterializeResult{}, err
	}
	return w.runner.Run(ctx, userID)
}

// HandleRequest is the queue consumer callback for materialize requests.
func (w *MaterializeWorker) HandleRequest(ctx context.Context, msg *amqp.MaterializeRequest) error {
	slog.InfoContext(ctx, "Processing materialize request",
		"request_id", msg.RequestID,
		"user_id", msg.UserID,
		"queued_for", time.Since(msg.Timestamp).Round(time.Millisecond))

	if _, err := w.RunOnce(ctx, msg.UserID); err != nil {
		return fmt.Errorf("materialize for request %s: %w", msg.RequestID, err)
	}
	return nil
}
