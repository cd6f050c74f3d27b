package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"crosspost/domain/dto"
	"crosspost/domain/failure"
	"crosspost/domain/model"
	"crosspost/domain/platform"
	"crosspost/domain/repository"
	"crosspost/infrastructure/logger"
	"crosspost/infrastructure/queue"
)

type DispatcherConfig struct {
	Topic         string
	FinalizeTopic string
	Workers       int
	CallTimeout   time.Duration
}

// Dispatcher consumes dispatch requests and drives one task through the
// claim, stage, publish and persist steps.
type Dispatcher struct {
	outcomes
	stager   IMediaStager
	registry *platform.Registry
	queue    queue.Queue
	cfg      DispatcherConfig
}

func NewDispatcher(
	tasks repository.IPublishTask,
	records repository.IPublishRecord,
	credentials ICredentialStore,
	stager IMediaStager,
	registry *platform.Registry,
	q queue.Queue,
	broadcast Broadcaster,
	cfg DispatcherConfig,
) *Dispatcher {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = time.Minute
	}
	return &Dispatcher{
		outcomes: outcomes{tasks: tasks, records: records, credentials: credentials, staging: stager, broadcast: broadcast},
		stager:   stager,
		registry: registry,
		queue:    q,
		cfg:      cfg,
	}
}

// Run consumes the dispatch topic until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	logger.GetLogger().WithField("topic", d.cfg.Topic).WithField("workers", d.cfg.Workers).Info("dispatcher started")
	return d.queue.Consume(ctx, d.cfg.Topic, d.cfg.Workers, d.HandleMessage)
}

func (d *Dispatcher) HandleMessage(ctx context.Context, payload []byte) error {
	var req dto.DispatchRequest
	if err := json.Unmarshal(payload, &req); err != nil || req.TaskID == "" {
		// Poison message; redelivery would not help.
		logger.GetLogger().WithField("payload", string(payload)).Error("malformed dispatch request dropped")
		return nil
	}
	return d.Dispatch(ctx, req)
}

// Dispatch processes one request. A request whose claim fails is a
// duplicate or stale delivery and is dropped without side effects.
func (d *Dispatcher) Dispatch(ctx context.Context, req dto.DispatchRequest) error {
	log := logger.GetLogger().WithField("task_id", req.TaskID).WithField("manual", req.Manual)

	claimed, err := d.tasks.Claim(ctx, req.TaskID, req.Manual, req.Attempt)
	if err != nil {
		return fmt.Errorf("claim task %s: %w", req.TaskID, err)
	}
	if !claimed {
		log.Debug("task not claimable, dropping dispatch request")
		return nil
	}

	// Past the claim the task must always reach a terminal state or the
	// finalize queue, so nothing below honours cancellation of ctx.
	ctx = context.WithoutCancel(ctx)

	task, err := d.tasks.GetByID(ctx, req.TaskID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			log.Warn("claimed task disappeared")
			return nil
		}
		_, markErr := d.tasks.MarkFailed(ctx, req.TaskID, string(failure.Unknown), "task could not be loaded", false)
		return errors.Join(fmt.Errorf("load task %s: %w", req.TaskID, err), markErr)
	}
	log = log.WithField("platform", task.Platform).WithField("account_id", task.AccountID)
	log.Info("dispatching task")
	d.notify(task)

	adapter, err := d.registry.Resolve(task.Platform)
	if err != nil {
		return d.fail(ctx, task, err)
	}

	cred, err := d.credential(ctx, task)
	if err != nil {
		return d.fail(ctx, task, err)
	}
	staged, err := d.stager.Stage(ctx, task, cred, adapter)
	if err != nil {
		return d.fail(ctx, task, err)
	}

	// Staging can take long enough for a refresh or revocation to land.
	cred, err = d.credential(ctx, task)
	if err != nil {
		return d.fail(ctx, task, err)
	}

	if err := d.registry.Wait(ctx, task.Platform); err != nil {
		return d.fail(ctx, task, failure.Wrap(failure.TransientNetwork, task.Platform, err))
	}

	callCtx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
	result, err := adapter.Publish(callCtx, &platform.PublishRequest{Task: task, Credential: cred, Staged: staged})
	cancel()
	if err != nil {
		return d.fail(ctx, task, err)
	}

	if result != nil && result.Async {
		return d.awaitFinalize(ctx, task, result)
	}
	return d.release(ctx, task, result)
}

func (d *Dispatcher) credential(ctx context.Context, task *model.PublishTask) (*model.OAuth2Credential, error) {
	cred, err := d.credentials.Get(ctx, task.AccountID, task.Platform)
	if errors.Is(err, ErrCredentialNotFound) {
		return nil, failure.New(failure.AuthInvalid, task.Platform, "no credential linked for account")
	}
	if err != nil {
		return nil, failure.Wrap(failure.TransientNetwork, task.Platform, err)
	}
	return cred, nil
}

// awaitFinalize leaves the task in publishing and hands it to the finalizer.
func (d *Dispatcher) awaitFinalize(ctx context.Context, task *model.PublishTask, result *model.PublishResult) error {
	ref := result.FinalizeRef
	if ref == "" {
		ref = result.ExternalID
	}
	if ref == "" {
		return d.fail(ctx, task, failure.New(failure.Unknown, task.Platform, "asynchronous publish returned no reference"))
	}
	req := dto.FinalizeRequest{TaskID: task.ID, Ref: ref, Attempt: 1}
	if err := queue.PublishJSON(ctx, d.queue, d.cfg.FinalizeTopic, req); err != nil {
		return d.fail(ctx, task, failure.Wrap(failure.TransientNetwork, task.Platform, fmt.Errorf("schedule finalize: %w", err)))
	}
	logger.GetLogger().WithField("task_id", task.ID).WithField("ref", ref).Info("publish accepted, awaiting finalize")
	return nil
}
