package usecase

import (
	"context"

	"crosspost/domain/failure"
	"crosspost/domain/model"
	"crosspost/domain/repository"
	"crosspost/infrastructure/logger"

	log "github.com/sirupsen/logrus"
)

// Broadcaster pushes a task's new status to interested clients.
type Broadcaster func(task *model.PublishTask)

// outcomes persists terminal dispatch results. Dispatcher and Finalizer share it.
type outcomes struct {
	tasks       repository.IPublishTask
	records     repository.IPublishRecord
	credentials ICredentialStore
	staging     IMediaStager
	broadcast   Broadcaster
}

func (o *outcomes) release(ctx context.Context, task *model.PublishTask, result *model.PublishResult) error {
	if !result.HasReference() {
		return o.fail(ctx, task, failure.New(failure.Unknown, task.Platform, "platform returned no post reference"))
	}
	ok, err := o.tasks.MarkReleased(ctx, task.ID, result)
	if err != nil {
		return err
	}
	if !ok {
		logger.GetLogger().WithField("task_id", task.ID).Warn("task left publishing before release was recorded")
		return nil
	}
	task.Status = model.StatusReleased
	task.ExternalID, task.ExternalLink = result.ExternalID, result.ExternalLink
	task.ErrorCode, task.ErrorMessage, task.Retryable = "", "", false

	logger.GetLogger().
		WithField("task_id", task.ID).
		WithField("platform", task.Platform).
		WithField("external_id", task.ExternalID).
		Info("task released")
	o.record(ctx, task)
	o.notify(task)
	return nil
}

func (o *outcomes) fail(ctx context.Context, task *model.PublishTask, cause error) error {
	d := Classify(cause)
	if d.Code == "" {
		d.Code = failure.Unknown
	}
	entry := logger.GetLogger().
		WithField("task_id", task.ID).
		WithField("platform", task.Platform).
		WithField("code", d.Code).
		WithField("retryable", d.Retryable).
		WithField("error", cause)
	level := log.WarnLevel
	if d.Code == failure.Unknown {
		level = log.ErrorLevel
	}
	entry.Log(level, "task failed")

	if d.Invalidate && o.credentials != nil {
		if err := o.credentials.Invalidate(ctx, task.AccountID, task.Platform); err != nil {
			entry.WithField("invalidate_error", err).Error("could not invalidate rejected credential")
		}
	}

	// Rejected containers cannot be published later, so the next attempt restages.
	if d.Code == failure.Validation && o.staging != nil {
		if err := o.staging.Discard(ctx, task.ID); err != nil {
			entry.WithField("discard_error", err).Error("could not discard staged media")
		}
	}

	ok, err := o.tasks.MarkFailed(ctx, task.ID, string(d.Code), d.Message, d.Retryable)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	task.Status = model.StatusFailed
	task.ErrorCode, task.ErrorMessage, task.Retryable = string(d.Code), d.Message, d.Retryable
	o.record(ctx, task)
	o.notify(task)
	return nil
}

func (o *outcomes) record(ctx context.Context, task *model.PublishTask) {
	if o.records == nil {
		return
	}
	err := o.records.Append(ctx, &model.PublishRecord{
		TaskID:       task.ID,
		UserID:       task.UserID,
		AccountID:    task.AccountID,
		Platform:     task.Platform,
		Status:       task.Status,
		ExternalID:   task.ExternalID,
		ExternalLink: task.ExternalLink,
		ErrorCode:    task.ErrorCode,
		ErrorMessage: task.ErrorMessage,
		Attempt:      task.RetryCount + 1,
	})
	if err != nil {
		logger.GetLogger().WithField("task_id", task.ID).WithField("error", err).Warn("publish record not written")
	}
}

func (o *outcomes) notify(task *model.PublishTask) {
	if o.broadcast != nil {
		o.broadcast(task)
	}
}
