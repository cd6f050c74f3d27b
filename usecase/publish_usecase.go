package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"crosspost/domain/dto"
	"crosspost/domain/model"
	"crosspost/domain/platform"
	"crosspost/domain/repository"
	"crosspost/infrastructure/logger"
	"crosspost/infrastructure/queue"

	"github.com/google/uuid"
)

var (
	ErrTaskNotFound      = errors.New("task not found")
	ErrForbidden         = errors.New("task belongs to another user")
	ErrInvalidTransition = errors.New("task cannot change state from its current status")
	ErrInvalidTask       = errors.New("invalid task")
)

type IPublishUsecase interface {
	CreateTask(ctx context.Context, userID string, req *dto.CreateTaskRequest) (*model.PublishTask, error)
	GetTask(ctx context.Context, userID, taskID string) (*model.PublishTask, error)
	ListTasks(ctx context.Context, userID string, q dto.TaskListQuery) ([]*model.PublishTask, error)
	GetDueTasks(ctx context.Context, userID string, from, to time.Time) ([]*model.PublishTask, error)
	PublishNow(ctx context.Context, userID, taskID string) (*model.PublishTask, error)
	UpdatePublishTime(ctx context.Context, userID, taskID string, publishTime time.Time) (*model.PublishTask, error)
	DeleteTask(ctx context.Context, userID, taskID string) error
	Platforms() []platform.Info
}

type PublishConfig struct {
	DispatchTopic      string
	ImmediateTolerance time.Duration
}

type publishUsecase struct {
	tasks       repository.IPublishTask
	stager      IMediaStager
	credentials ICredentialStore
	registry    *platform.Registry
	queue       queue.Queue
	cfg         PublishConfig
	now         func() time.Time
}

func NewPublishUsecase(
	tasks repository.IPublishTask,
	stager IMediaStager,
	credentials ICredentialStore,
	registry *platform.Registry,
	q queue.Queue,
	cfg PublishConfig,
) IPublishUsecase {
	return &publishUsecase{
		tasks:       tasks,
		stager:      stager,
		credentials: credentials,
		registry:    registry,
		queue:       q,
		cfg:         cfg,
		now:         time.Now,
	}
}

func (u *publishUsecase) CreateTask(ctx context.Context, userID string, req *dto.CreateTaskRequest) (*model.PublishTask, error) {
	if err := u.validate(userID, req); err != nil {
		return nil, err
	}
	now := u.now().UTC()
	publishTime := now
	if req.PublishTime != nil && !req.PublishTime.IsZero() {
		publishTime = req.PublishTime.UTC()
	}
	task := &model.PublishTask{
		ID:          uuid.NewString(),
		UserID:      userID,
		AccountID:   req.AccountID,
		Platform:    strings.ToLower(req.Platform),
		Title:       req.Title,
		Description: req.Description,
		Media:       req.Media,
		Options:     req.Options,
		PublishTime: publishTime,
		Status:      model.StatusUnpublished,
	}
	if err := u.tasks.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	log := logger.GetLogger().WithField("task_id", task.ID).WithField("platform", task.Platform)

	if !publishTime.After(now.Add(u.cfg.ImmediateTolerance)) {
		if err := u.enqueue(ctx, dto.DispatchRequest{TaskID: task.ID}); err != nil {
			// The task stays Unpublished. A scheduler tick only catches it while
			// publish_time is inside the tick window; after that it needs PublishNow.
			log.WithField("error", err).Error("immediate dispatch not enqueued, task awaits manual publish")
		} else {
			log.Info("task created and enqueued for immediate dispatch")
			return task, nil
		}
	}
	log.WithField("publish_time", publishTime).Info("task scheduled")
	return task, nil
}

func (u *publishUsecase) validate(userID string, req *dto.CreateTaskRequest) error {
	if userID == "" {
		return fmt.Errorf("%w: missing user", ErrInvalidTask)
	}
	if req == nil {
		return fmt.Errorf("%w: empty request", ErrInvalidTask)
	}
	if strings.TrimSpace(req.AccountID) == "" {
		return fmt.Errorf("%w: account_id is required", ErrInvalidTask)
	}
	if !u.registry.Has(strings.ToLower(req.Platform)) {
		return fmt.Errorf("%w: unsupported platform %q", ErrInvalidTask, req.Platform)
	}
	if strings.TrimSpace(req.Title) == "" && strings.TrimSpace(req.Description) == "" && len(req.Media) == 0 {
		return fmt.Errorf("%w: title, description or media is required", ErrInvalidTask)
	}
	for i, m := range req.Media {
		if m.Kind != model.MediaImage && m.Kind != model.MediaVideo {
			return fmt.Errorf("%w: media %d has unsupported kind %q", ErrInvalidTask, i, m.Kind)
		}
		if strings.TrimSpace(m.URL) == "" {
			return fmt.Errorf("%w: media %d has no url", ErrInvalidTask, i)
		}
	}
	return nil
}

func (u *publishUsecase) GetTask(ctx context.Context, userID, taskID string) (*model.PublishTask, error) {
	task, err := u.tasks.GetByID(ctx, taskID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	if task.UserID != userID {
		return nil, ErrForbidden
	}
	return task, nil
}

func (u *publishUsecase) ListTasks(ctx context.Context, userID string, q dto.TaskListQuery) ([]*model.PublishTask, error) {
	status := model.TaskStatus(strings.ToLower(q.Status))
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTask, q.Status)
	}
	return u.tasks.List(ctx, model.TaskFilter{
		UserID:    userID,
		AccountID: q.AccountID,
		Platform:  strings.ToLower(q.Platform),
		Status:    status,
		From:      q.From,
		To:        q.To,
		Limit:     q.Limit,
	})
}

func (u *publishUsecase) GetDueTasks(ctx context.Context, userID string, from, to time.Time) ([]*model.PublishTask, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("%w: window ends before it starts", ErrInvalidTask)
	}
	return u.tasks.List(ctx, model.TaskFilter{UserID: userID, From: &from, To: &to})
}

// PublishNow skips the scheduler. The request carries the retry count seen
// here so duplicate deliveries of it claim at most once.
func (u *publishUsecase) PublishNow(ctx context.Context, userID, taskID string) (*model.PublishTask, error) {
	task, err := u.GetTask(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}
	if !model.CanTransition(task.Status, model.StatusPublishing, true) {
		return nil, ErrInvalidTransition
	}
	if err := u.enqueue(ctx, dto.DispatchRequest{TaskID: task.ID, Manual: true, Attempt: task.RetryCount}); err != nil {
		return nil, fmt.Errorf("enqueue task %s: %w", task.ID, err)
	}
	logger.GetLogger().WithField("task_id", task.ID).WithField("retry_count", task.RetryCount).Info("manual publish enqueued")
	return task, nil
}

func (u *publishUsecase) UpdatePublishTime(ctx context.Context, userID, taskID string, publishTime time.Time) (*model.PublishTask, error) {
	if publishTime.IsZero() {
		return nil, fmt.Errorf("%w: publish_time is required", ErrInvalidTask)
	}
	task, err := u.GetTask(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}
	ok, err := u.tasks.UpdatePublishTime(ctx, task.ID, publishTime)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidTransition
	}
	task.PublishTime = publishTime.UTC()
	return task, nil
}

// DeleteTask removes a task. A released post is deleted from the platform
// first when the platform supports it; a failed remote delete keeps the task.
func (u *publishUsecase) DeleteTask(ctx context.Context, userID, taskID string) error {
	task, err := u.GetTask(ctx, userID, taskID)
	if err != nil {
		return err
	}
	if task.Status == model.StatusReleased && task.ExternalID != "" {
		if err := u.deleteRemote(ctx, task); err != nil {
			return err
		}
	}
	if err := u.stager.Discard(ctx, task.ID); err != nil {
		logger.GetLogger().WithField("task_id", task.ID).WithField("error", err).Warn("staged media not discarded")
	}
	if err := u.tasks.Delete(ctx, task.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrTaskNotFound
		}
		return err
	}
	logger.GetLogger().WithField("task_id", task.ID).WithField("status", task.Status).Info("task deleted")
	return nil
}

func (u *publishUsecase) deleteRemote(ctx context.Context, task *model.PublishTask) error {
	adapter, err := u.registry.Resolve(task.Platform)
	if err != nil {
		return err
	}
	deleter, ok := adapter.(platform.Deleter)
	if !adapter.Capabilities().CanDelete || !ok {
		logger.GetLogger().WithField("task_id", task.ID).WithField("platform", task.Platform).Info("platform does not support remote delete")
		return nil
	}
	cred, err := u.credentials.Get(ctx, task.AccountID, task.Platform)
	if err != nil {
		return fmt.Errorf("remote delete of %s: %w", task.ExternalID, err)
	}
	if err := u.registry.Wait(ctx, task.Platform); err != nil {
		return err
	}
	if err := deleter.DeletePost(ctx, cred, task.ExternalID); err != nil {
		return fmt.Errorf("remote delete of %s: %w", task.ExternalID, err)
	}
	return nil
}

func (u *publishUsecase) Platforms() []platform.Info {
	return u.registry.Platforms()
}

func (u *publishUsecase) enqueue(ctx context.Context, req dto.DispatchRequest) error {
	return queue.PublishJSON(ctx, u.queue, u.cfg.DispatchTopic, req)
}
