package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"crosspost/domain/dto"
	"crosspost/domain/failure"
	"crosspost/domain/model"
	"crosspost/domain/repository"
	"crosspost/infrastructure/logger"
	"crosspost/infrastructure/queue"
)

type SchedulerConfig struct {
	Topic     string
	Interval  time.Duration
	Tolerance time.Duration
	// StaleAfter fails tasks left in Publishing longer than this. Zero
	// disables the sweep.
	StaleAfter time.Duration
}

const staleMessage = "publish did not complete; publish again to retry"

// Scheduler periodically enqueues unpublished tasks whose publish time falls
// within the tolerance window around now. Enqueueing a task twice is safe
// because only one dispatch can claim it.
type Scheduler struct {
	tasks     repository.IPublishTask
	queue     queue.Queue
	cfg       SchedulerConfig
	now       func() time.Time
	broadcast Broadcaster

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(tasks repository.IPublishTask, q queue.Queue, cfg SchedulerConfig) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Scheduler{tasks: tasks, queue: q, cfg: cfg, now: time.Now}
}

// WithBroadcaster reports tasks failed by the stale sweep.
func (s *Scheduler) WithBroadcaster(b Broadcaster) *Scheduler {
	s.broadcast = b
	return s
}

// Start runs the scan loop in the background.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return errors.New("scheduler already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		_ = s.Run(ctx)
	}(s.done)
	return nil
}

// Stop cancels the loop started by Start and waits for the current scan.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Run scans once immediately, then every interval, until ctx is done.
// Scan errors are logged and never stop the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	logger.GetLogger().
		WithField("interval", s.cfg.Interval).
		WithField("tolerance", s.cfg.Tolerance).
		WithField("stale_after", s.cfg.StaleAfter).
		Info("scheduler started")
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
			logger.GetLogger().WithField("error", err).Error("scheduler scan failed")
		}
		select {
		case <-ctx.Done():
			logger.GetLogger().Info("scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick performs one scan and returns how many tasks were enqueued. It also
// fails tasks stuck in Publishing past StaleAfter.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	now := s.now().UTC()
	sweepErr := s.sweep(ctx, now)

	from, to := now.Add(-s.cfg.Tolerance), now.Add(s.cfg.Tolerance)
	due, err := s.tasks.FindDue(ctx, from, to, model.StatusUnpublished)
	if err != nil {
		return 0, errors.Join(sweepErr, err)
	}
	if len(due) == 0 {
		logger.GetLogger().Debug("no due tasks")
		return 0, sweepErr
	}

	var (
		enqueued int
		errs     = []error{sweepErr}
	)
	for _, task := range due {
		if err := queue.PublishJSON(ctx, s.queue, s.cfg.Topic, dto.DispatchRequest{TaskID: task.ID}); err != nil {
			errs = append(errs, err)
			continue
		}
		enqueued++
	}
	logger.GetLogger().WithField("due", len(due)).WithField("enqueued", enqueued).Info("due tasks enqueued")
	return enqueued, errors.Join(errs...)
}

// sweep fails tasks whose dispatcher died after the claim. The failure is
// retryable so a manual publish can pick them up again.
func (s *Scheduler) sweep(ctx context.Context, now time.Time) error {
	if s.cfg.StaleAfter <= 0 {
		return nil
	}
	stale, err := s.tasks.FindStale(ctx, model.StatusPublishing, now.Add(-s.cfg.StaleAfter))
	if err != nil {
		return err
	}
	var errs []error
	for _, task := range stale {
		log := logger.GetLogger().
			WithField("task_id", task.ID).
			WithField("platform", task.Platform).
			WithField("updated_at", task.UpdatedAt)
		ok, err := s.tasks.MarkFailed(ctx, task.ID, string(failure.TransientNetwork), staleMessage, true)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !ok {
			continue
		}
		log.Warn("stale publishing task failed")
		task.Status = model.StatusFailed
		task.ErrorCode, task.ErrorMessage, task.Retryable = string(failure.TransientNetwork), staleMessage, true
		if s.broadcast != nil {
			s.broadcast(task)
		}
	}
	return errors.Join(errs...)
}
