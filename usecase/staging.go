package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crosspost/domain/failure"
	"crosspost/domain/model"
	"crosspost/domain/platform"
	"crosspost/domain/repository"
	"crosspost/infrastructure/logger"
)

// MediaVerifier checks that a media URL is reachable before it is handed to a platform.
type MediaVerifier interface {
	Verify(ctx context.Context, item model.MediaItem) error
}

// IMediaStager prepares a task's media for an adapter.
type IMediaStager interface {
	// Stage returns one entry per media item. Entries stay nil for
	// platforms that take media URLs directly.
	Stage(ctx context.Context, task *model.PublishTask, cred *model.OAuth2Credential, adapter platform.Adapter) ([]*model.StagedMedia, error)
	Discard(ctx context.Context, taskID string) error
}

type mediaStager struct {
	repo       repository.IStagedMedia
	verifier   MediaVerifier
	retryDelay time.Duration
}

// NewMediaStager accepts a nil verifier, which skips URL verification.
func NewMediaStager(repo repository.IStagedMedia, verifier MediaVerifier, retryDelay time.Duration) IMediaStager {
	return &mediaStager{repo: repo, verifier: verifier, retryDelay: retryDelay}
}

func (s *mediaStager) Stage(ctx context.Context, task *model.PublishTask, cred *model.OAuth2Credential, adapter platform.Adapter) ([]*model.StagedMedia, error) {
	staged := make([]*model.StagedMedia, len(task.Media))
	for i, item := range task.Media {
		if item.URL == "" {
			return nil, failure.New(failure.Validation, task.Platform, fmt.Sprintf("media item %d has no url", i))
		}
	}

	if !adapter.Capabilities().RequiresContainer {
		if s.verifier == nil {
			return staged, nil
		}
		for i, item := range task.Media {
			if err := s.verifier.Verify(ctx, item); err != nil {
				return nil, stagingError(task.Platform, i, err)
			}
		}
		return staged, nil
	}

	stager, ok := adapter.(platform.Stager)
	if !ok {
		return nil, failure.New(failure.ConfigurationError, task.Platform, "platform requires containers but cannot stage media")
	}

	for i, item := range task.Media {
		existing, err := s.repo.Get(ctx, task.ID, i)
		switch {
		case err == nil && existing.Reusable():
			staged[i] = existing
			continue
		case err != nil && !errors.Is(err, repository.ErrNotFound):
			return nil, stagingError(task.Platform, i, err)
		}

		res, err := s.stageOnce(ctx, stager, task, cred, i, item)
		if err != nil {
			return nil, stagingError(task.Platform, i, err)
		}
		rec := &model.StagedMedia{
			TaskID:      task.ID,
			MediaIndex:  i,
			Platform:    task.Platform,
			Status:      res.Status,
			ContainerID: res.ContainerID,
		}
		if rec.Status == "" {
			rec.Status = model.StagingContainerCreated
		}
		if err := s.repo.Upsert(ctx, rec); err != nil {
			return nil, stagingError(task.Platform, i, err)
		}
		logger.GetLogger().
			WithField("task_id", task.ID).
			WithField("media_index", i).
			WithField("container_id", rec.ContainerID).
			Debug("media staged")
		staged[i] = rec
	}
	return staged, nil
}

// stageOnce retries a transient upload failure one time.
func (s *mediaStager) stageOnce(ctx context.Context, stager platform.Stager, task *model.PublishTask, cred *model.OAuth2Credential, index int, item model.MediaItem) (*platform.StageResult, error) {
	res, err := stager.StageMedia(ctx, task, cred, index, item)
	if err == nil || Classify(err).Code != failure.TransientNetwork {
		return res, err
	}
	logger.GetLogger().WithField("task_id", task.ID).WithField("error", err).Warn("media upload failed, retrying once")
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(s.retryDelay):
	}
	return stager.StageMedia(ctx, task, cred, index, item)
}

func (s *mediaStager) Discard(ctx context.Context, taskID string) error {
	return s.repo.DeleteByTask(ctx, taskID)
}

// stagingError reports a staging failure as a validation failure of the
// content, except for rejected credentials and missing configuration.
func stagingError(platformName string, index int, err error) error {
	if fe, ok := failure.As(err); ok && (fe.Code == failure.AuthInvalid || fe.Code == failure.ConfigurationError) {
		return err
	}
	return &failure.Error{
		Code:     failure.Validation,
		Platform: platformName,
		Message:  fmt.Sprintf("media item %d could not be staged: %v", index, err),
		Err:      err,
	}
}
