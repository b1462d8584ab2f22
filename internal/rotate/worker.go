package rotate

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Worker periodically auto-threshold-rotates every registered project's
// configured log types. Grounded on the teacher's internal/sync/worker.go
// Start/Stop/Running/LastSync/SyncNow skeleton, generalized from
// "sync Linear issues" to "check rotation thresholds".
type Worker struct {
	engine   *Engine
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
	mu       sync.RWMutex
	running  bool
	lastRun  time.Time
	log      *zap.SugaredLogger
}

// NewWorker returns a background rotation checker running every interval
// (default 2 minutes, matching the teacher's sync worker default).
func NewWorker(engine *Engine, interval time.Duration, logger *zap.SugaredLogger) *Worker {
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Worker{engine: engine, interval: interval, stopCh: make(chan struct{}), doneCh: make(chan struct{}), log: logger}
}

// Start begins the background checking loop.
func (w *Worker) Start(ctx context.Context, projects func(context.Context) ([]string, error)) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	go w.run(ctx, projects)
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()
	close(w.stopCh)
	<-w.doneCh
}

// Running reports whether the worker's loop is active.
func (w *Worker) Running() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// LastRun returns the time of the last completed check cycle.
func (w *Worker) LastRun() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastRun
}

// CheckNow triggers an immediate check cycle across all projects.
func (w *Worker) CheckNow(ctx context.Context, projects func(context.Context) ([]string, error)) error {
	return w.checkAll(ctx, projects)
}

func (w *Worker) run(ctx context.Context, projects func(context.Context) ([]string, error)) {
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		close(w.doneCh)
	}()

	if err := w.checkAll(ctx, projects); err != nil {
		w.log.Errorw("initial rotation check failed", "error", err)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			if err := w.checkAll(ctx, projects); err != nil {
				w.log.Errorw("rotation check failed", "error", err)
			}
		}
	}
}

func (w *Worker) checkAll(ctx context.Context, projects func(context.Context) ([]string, error)) error {
	names, err := projects(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		for logType, ltCfg := range w.engine.cfg.LogTypes {
			p, err := w.engine.registry.GetProject(ctx, name)
			if err != nil || p == nil {
				continue
			}
			path := filepath.Join(p.Root, ltCfg.PathTemplate)
			res, err := w.engine.Rotate(ctx, Options{Project: name, LogType: logType, Path: path, Confirm: true, AutoThreshold: true})
			if err != nil {
				w.log.Errorw("auto-rotation failed", "project", name, "log_type", logType, "error", err)
				continue
			}
			if res.RotationSkipped {
				continue
			}
			w.log.Infow("auto-rotated", "project", name, "log_type", logType, "archive", res.ArchivePath)
		}
	}

	w.mu.Lock()
	w.lastRun = time.Now()
	w.mu.Unlock()
	return nil
}
