package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/feedloom/curator/internal/adapter/observability"
	"github.com/feedloom/curator/internal/domain"
)

// Supervisor owns the worker lifecycles. It arms every worker at startup,
// restarts any worker that exits with an error or panics, and on
// cancellation waits for all of them to stop. The store schema must be
// initialised before Run is called.
type Supervisor struct {
	workers      []Worker
	restartDelay time.Duration
}

// NewSupervisor builds a supervisor over the given workers.
func NewSupervisor(workers ...Worker) *Supervisor {
	return &Supervisor{workers: workers, restartDelay: 5 * time.Second}
}

// Run blocks until ctx is cancelled and every worker has returned.
func (s *Supervisor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range s.workers {
		wg.Add(1)
		go func(w Worker) {
			defer wg.Done()
			s.supervise(ctx, w)
		}(w)
	}
	wg.Wait()
	slog.Info("all pipeline workers stopped")
}

// supervise runs one worker in a restart loop. A clean nil return (the
// worker observed cancellation) ends the loop; errors and panics are logged
// and the worker is restarted after a short delay.
func (s *Supervisor) supervise(ctx context.Context, w Worker) {
	for {
		// A fresh run id per attempt correlates all log lines of one
		// incarnation of the worker.
		runID := uuid.NewString()
		slog.Info("worker starting", slog.String("worker", w.Name()), slog.String("run_id", runID))
		err := s.runOnce(ctx, w)
		if err == nil {
			slog.Info("worker stopped", slog.String("worker", w.Name()), slog.String("run_id", runID))
			return
		}
		slog.Error("worker crashed, restarting",
			slog.String("worker", w.Name()),
			slog.String("run_id", runID),
			slog.Duration("delay", s.restartDelay),
			slog.Any("error", err))
		if !sleepCtx(ctx, s.restartDelay) {
			return
		}
	}
}

func (s *Supervisor) runOnce(ctx context.Context, w Worker) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &panicError{worker: w.Name(), value: rec}
		}
	}()
	return w.Run(ctx)
}

type panicError struct {
	worker string
	value  any
}

func (e *panicError) Error() string { return "worker panic" }

// QueueDepthSampler periodically reads queue sizes out of the store and
// publishes them as gauges. It is a fourth, read-only worker.
type QueueDepthSampler struct {
	store    domain.Store
	interval time.Duration
}

// NewQueueDepthSampler builds the sampler; interval defaults to 30s when
// non-positive.
func NewQueueDepthSampler(store domain.Store, interval time.Duration) *QueueDepthSampler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &QueueDepthSampler{store: store, interval: interval}
}

// Name identifies the worker in logs.
func (q *QueueDepthSampler) Name() string { return "queue-depth-sampler" }

// Run samples until cancellation. Sampling failures are logged and skipped;
// stale gauges are better than a dead sampler.
func (q *QueueDepthSampler) Run(ctx context.Context) error {
	for {
		if !sleepCtx(ctx, q.interval) {
			return nil
		}
		err := q.store.WithTx(ctx, func(tx domain.Tx) error {
			st, err := tx.Stats(ctx)
			if err != nil {
				return err
			}
			for queue, depth := range st.QueueSizes {
				observability.SetQueueDepth(string(queue), depth)
			}
			return nil
		})
		if err != nil && ctx.Err() == nil {
			slog.Warn("queue depth sample failed", slog.Any("error", err))
		}
	}
}
