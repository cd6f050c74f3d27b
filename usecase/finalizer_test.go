package usecase

import (
	"context"
	"testing"
	"time"

	"crosspost/domain/dto"
	"crosspost/domain/failure"
	"crosspost/domain/model"
	"crosspost/domain/platform"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func publishingTask(t *testing.T, f *fixture, id string) {
	t.Helper()
	f.seedTask(t, id, time.Now(), model.MediaItem{Kind: model.MediaVideo, URL: "https://cdn.example.com/v.mp4"})
	ok, err := f.tasks.Claim(context.Background(), id, false, 0)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestFinalize_PendingIsRescheduled(t *testing.T) {
	f := newFixture(t, platform.Capabilities{AsyncFinalize: true})
	publishingTask(t, f, "task-1")
	var waited time.Duration
	f.finalizer.after = func(d time.Duration, fn func()) {
		waited = d
		fn()
	}
	f.adapter.On("Finalize", "container-1", 1).Return(&model.PublishResult{Pending: true}, nil).Once()

	require.NoError(t, f.finalizer.Finalize(context.Background(), dto.FinalizeRequest{TaskID: "task-1", Ref: "container-1", Attempt: 1}))

	assert.Equal(t, time.Second, waited)
	assert.Equal(t, []dto.FinalizeRequest{{TaskID: "task-1", Ref: "container-1", Attempt: 2}}, f.queue.finalizes(t))
	assert.Equal(t, model.StatusPublishing, f.task(t, "task-1").Status)
}

func TestFinalize_FinishedReleasesTask(t *testing.T) {
	f := newFixture(t, platform.Capabilities{AsyncFinalize: true})
	publishingTask(t, f, "task-1")
	f.adapter.On("Finalize", "container-1", 2).
		Return(&model.PublishResult{ExternalID: "1789", ExternalLink: "https://www.instagram.com/reel/abc/"}, nil).Once()

	require.NoError(t, f.finalizer.Finalize(context.Background(), dto.FinalizeRequest{TaskID: "task-1", Ref: "container-1", Attempt: 2}))

	task := f.task(t, "task-1")
	assert.Equal(t, model.StatusReleased, task.Status)
	assert.Equal(t, "https://www.instagram.com/reel/abc/", task.ExternalLink)
	assert.Equal(t, []model.TaskStatus{model.StatusReleased}, f.statuses())
}

func TestFinalize_GivesUpAfterMaxAttempts(t *testing.T) {
	f := newFixture(t, platform.Capabilities{AsyncFinalize: true})
	publishingTask(t, f, "task-1")
	f.finalizer.after = func(time.Duration, func()) { t.Fatal("must not reschedule past the last attempt") }
	f.adapter.On("Finalize", "container-1", 3).Return(&model.PublishResult{Pending: true}, nil).Once()

	require.NoError(t, f.finalizer.Finalize(context.Background(), dto.FinalizeRequest{TaskID: "task-1", Ref: "container-1", Attempt: 3}))

	task := f.task(t, "task-1")
	assert.Equal(t, model.StatusFailed, task.Status)
	assert.Equal(t, string(failure.TransientNetwork), task.ErrorCode)
	assert.Contains(t, task.ErrorMessage, "finalize timed out")
	assert.True(t, task.Retryable)
}

func TestFinalize_PlatformErrorFailsTask(t *testing.T) {
	f := newFixture(t, platform.Capabilities{AsyncFinalize: true})
	publishingTask(t, f, "task-1")
	f.adapter.On("Finalize", "container-1", 1).
		Return(nil, failure.New(failure.Validation, "instagram", "video processing failed: unsupported codec")).Once()

	require.NoError(t, f.finalizer.Finalize(context.Background(), dto.FinalizeRequest{TaskID: "task-1", Ref: "container-1", Attempt: 1}))

	task := f.task(t, "task-1")
	assert.Equal(t, model.StatusFailed, task.Status)
	assert.Equal(t, "video processing failed: unsupported codec", task.ErrorMessage)
}

func TestFinalize_ValidationFailureDiscardsStagedMedia(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, platform.Capabilities{RequiresContainer: true, AsyncFinalize: true})
	publishingTask(t, f, "task-1")
	require.NoError(t, f.staged.Upsert(ctx, &model.StagedMedia{TaskID: "task-1", Platform: "instagram", Status: model.StagingContainerCreated, ContainerID: "container-1"}))
	f.adapter.On("Finalize", "container-1", 1).
		Return(nil, failure.New(failure.Validation, "instagram", "video processing failed: unsupported codec")).Once()

	require.NoError(t, f.finalizer.Finalize(ctx, dto.FinalizeRequest{TaskID: "task-1", Ref: "container-1", Attempt: 1}))

	assert.Equal(t, model.StatusFailed, f.task(t, "task-1").Status)
	staged, err := f.staged.ListByTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Empty(t, staged)
}

func TestFinalize_TransientFailureKeepsStagedMedia(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, platform.Capabilities{RequiresContainer: true, AsyncFinalize: true})
	publishingTask(t, f, "task-1")
	require.NoError(t, f.staged.Upsert(ctx, &model.StagedMedia{TaskID: "task-1", Platform: "instagram", Status: model.StagingContainerCreated, ContainerID: "container-1"}))
	f.adapter.On("Finalize", "container-1", 1).
		Return(nil, failure.New(failure.TransientNetwork, "instagram", "connection reset")).Once()

	require.NoError(t, f.finalizer.Finalize(ctx, dto.FinalizeRequest{TaskID: "task-1", Ref: "container-1", Attempt: 1}))

	staged, err := f.staged.ListByTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Len(t, staged, 1)
}

func TestFinalize_SettledTaskIsIgnored(t *testing.T) {
	f := newFixture(t, platform.Capabilities{AsyncFinalize: true})
	f.seedTask(t, "task-1", time.Now())

	require.NoError(t, f.finalizer.Finalize(context.Background(), dto.FinalizeRequest{TaskID: "task-1", Ref: "c", Attempt: 1}))
	require.NoError(t, f.finalizer.Finalize(context.Background(), dto.FinalizeRequest{TaskID: "missing", Ref: "c", Attempt: 1}))
	f.adapter.AssertNotCalled(t, "Finalize", "c", 1)
	assert.Equal(t, model.StatusUnpublished, f.task(t, "task-1").Status)
}
