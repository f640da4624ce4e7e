package correlate

import (
	"context"
	"sync"
	"time"

	"vigil/util/goroutine"

	"go.uber.org/zap"
)

// Runner is the part of the Engine the scheduler drives.
type Runner interface {
	RunBatch(ctx context.Context) (RunResult, error)
	CorrelateAlert(ctx context.Context, alertID string) (RunResult, error)
}

// DefaultInterval is the batch correlation period.
const DefaultInterval = 5 * time.Minute

// Scheduler runs batch correlation periodically and per-alert correlation for
// alerts queued with Notify.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	queue    chan string
	logger   *zap.SugaredLogger

	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewScheduler creates a scheduler. queueSize bounds pending per-alert triggers.
func NewScheduler(runner Runner, interval time.Duration, queueSize int, logger *zap.SugaredLogger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Scheduler{
		runner:   runner,
		interval: interval,
		queue:    make(chan string, queueSize),
		logger:   logger,
	}
}

// Start launches the batch loop and the per-alert worker. It is a no-op if
// the scheduler is already running.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(2)
	go s.batchLoop(ctx)
	go s.alertLoop(ctx)
	s.logger.Infow("Correlation scheduler started", "interval", s.interval)
}

// Stop cancels in-flight runs and waits for the loops to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	s.logger.Info("Correlation scheduler stopped")
}

// Notify queues a per-alert correlation. It never blocks; when the queue is
// full the alert is left for the next batch run and false is returned.
func (s *Scheduler) Notify(alertID string) bool {
	select {
	case s.queue <- alertID:
		return true
	default:
		s.logger.Warnw("Correlation queue full, deferring alert to next batch run", "alert_id", alertID)
		return false
	}
}

func (s *Scheduler) batchLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runBatch(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) alertLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case id := <-s.queue:
			s.correlateAlert(ctx, id)
		case <-ctx.Done():
			return
		}
	}
}

// runBatch runs one batch; a panicking run is logged and the loop continues.
func (s *Scheduler) runBatch(ctx context.Context) {
	defer goroutine.Recover("correlation-batch", s.logger)
	if _, err := s.runner.RunBatch(ctx); err != nil && ctx.Err() == nil {
		s.logger.Errorw("Scheduled correlation run failed", "error", err)
	}
}

func (s *Scheduler) correlateAlert(ctx context.Context, id string) {
	defer goroutine.Recover("correlation-alert", s.logger)
	if _, err := s.runner.CorrelateAlert(ctx, id); err != nil && ctx.Err() == nil {
		s.logger.Errorw("Alert correlation failed", "alert_id", id, "error", err)
	}
}
