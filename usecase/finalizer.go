package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"crosspost/domain/dto"
	"crosspost/domain/failure"
	"crosspost/domain/model"
	"crosspost/domain/platform"
	"crosspost/domain/repository"
	"crosspost/infrastructure/logger"
	"crosspost/infrastructure/queue"
)

type FinalizerConfig struct {
	Topic        string
	Workers      int
	PollInterval time.Duration
	MaxAttempts  int
	CallTimeout  time.Duration
}

// Finalizer completes publishes that platforms accept asynchronously,
// polling each one until it finishes, fails or runs out of attempts.
type Finalizer struct {
	outcomes
	registry *platform.Registry
	queue    queue.Queue
	cfg      FinalizerConfig
	after    func(time.Duration, func())
}

func NewFinalizer(
	tasks repository.IPublishTask,
	records repository.IPublishRecord,
	credentials ICredentialStore,
	stager IMediaStager,
	registry *platform.Registry,
	q queue.Queue,
	broadcast Broadcaster,
	cfg FinalizerConfig,
) *Finalizer {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = time.Minute
	}
	return &Finalizer{
		outcomes: outcomes{tasks: tasks, records: records, credentials: credentials, staging: stager, broadcast: broadcast},
		registry: registry,
		queue:    q,
		cfg:      cfg,
		after:    func(d time.Duration, f func()) { time.AfterFunc(d, f) },
	}
}

func (f *Finalizer) Run(ctx context.Context) error {
	logger.GetLogger().WithField("topic", f.cfg.Topic).WithField("workers", f.cfg.Workers).Info("finalizer started")
	return f.queue.Consume(ctx, f.cfg.Topic, f.cfg.Workers, f.HandleMessage)
}

func (f *Finalizer) HandleMessage(ctx context.Context, payload []byte) error {
	var req dto.FinalizeRequest
	if err := json.Unmarshal(payload, &req); err != nil || req.TaskID == "" {
		logger.GetLogger().WithField("payload", string(payload)).Error("malformed finalize request dropped")
		return nil
	}
	return f.Finalize(ctx, req)
}

func (f *Finalizer) Finalize(ctx context.Context, req dto.FinalizeRequest) error {
	ctx = context.WithoutCancel(ctx)
	task, err := f.tasks.GetByID(ctx, req.TaskID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if task.Status != model.StatusPublishing {
		logger.GetLogger().WithField("task_id", task.ID).WithField("status", task.Status).Debug("finalize request for settled task dropped")
		return nil
	}

	adapter, err := f.registry.Resolve(task.Platform)
	if err != nil {
		return f.fail(ctx, task, err)
	}
	fin, ok := adapter.(platform.Finalizer)
	if !ok {
		return f.fail(ctx, task, failure.New(failure.ConfigurationError, task.Platform, "platform cannot finalize asynchronous publishes"))
	}
	cred, err := f.credentials.Get(ctx, task.AccountID, task.Platform)
	if errors.Is(err, ErrCredentialNotFound) {
		return f.fail(ctx, task, failure.New(failure.AuthInvalid, task.Platform, "no credential linked for account"))
	}
	if err != nil {
		return f.fail(ctx, task, failure.Wrap(failure.TransientNetwork, task.Platform, err))
	}
	if err := f.registry.Wait(ctx, task.Platform); err != nil {
		return f.fail(ctx, task, failure.Wrap(failure.TransientNetwork, task.Platform, err))
	}

	callCtx, cancel := context.WithTimeout(ctx, f.cfg.CallTimeout)
	result, err := fin.Finalize(callCtx, &platform.FinalizeRequest{Task: task, Credential: cred, Ref: req.Ref, Attempt: req.Attempt})
	cancel()
	if err != nil {
		return f.fail(ctx, task, err)
	}
	if result != nil && result.Pending {
		return f.poll(ctx, task, req)
	}
	return f.release(ctx, task, result)
}

func (f *Finalizer) poll(ctx context.Context, task *model.PublishTask, req dto.FinalizeRequest) error {
	if req.Attempt >= f.cfg.MaxAttempts {
		return f.fail(ctx, task, failure.New(failure.TransientNetwork, task.Platform, "finalize timed out"))
	}
	next := dto.FinalizeRequest{TaskID: req.TaskID, Ref: req.Ref, Attempt: req.Attempt + 1}
	logger.GetLogger().
		WithField("task_id", task.ID).
		WithField("attempt", next.Attempt).
		Debug("platform still processing, finalize rescheduled")
	f.after(f.cfg.PollInterval, func() {
		if err := queue.PublishJSON(context.Background(), f.queue, f.cfg.Topic, next); err != nil {
			logger.GetLogger().WithField("task_id", task.ID).WithField("error", err).Error("finalize reschedule failed")
			_ = f.fail(context.Background(), task, failure.Wrap(failure.TransientNetwork, task.Platform, err))
		}
	})
	return nil
}
