package repository

import (
	"context"
	"time"

	"crosspost/domain/model"
)

// IPublishTask persists publish tasks and guards every status transition
// with a conditional update. Mark*/Claim/UpdatePublishTime report false when
// the task was not in the expected state.
type IPublishTask interface {
	Create(ctx context.Context, task *model.PublishTask) error
	GetByID(ctx context.Context, id string) (*model.PublishTask, error)
	List(ctx context.Context, filter model.TaskFilter) ([]*model.PublishTask, error)
	// FindDue returns tasks whose publish time falls inside [from, to] and whose
	// status is one of statuses (any status when empty), ordered by publish time.
	FindDue(ctx context.Context, from, to time.Time, statuses ...model.TaskStatus) ([]*model.PublishTask, error)

	// FindStale returns tasks in status whose last update is older than
	// updatedBefore, oldest first.
	FindStale(ctx context.Context, status model.TaskStatus, updatedBefore time.Time) ([]*model.PublishTask, error)
	// Claim moves a task into Publishing. A scheduled claim only succeeds from
	// Unpublished. A manual claim also accepts Failed, requires retry_count to
	// equal attempt, and always increments retry_count so a repeated request
	// carrying the same attempt cannot claim again.
	Claim(ctx context.Context, id string, manual bool, attempt int) (bool, error)
	MarkReleased(ctx context.Context, id string, result *model.PublishResult) (bool, error)
	MarkFailed(ctx context.Context, id, code, message string, retryable bool) (bool, error)
	UpdatePublishTime(ctx context.Context, id string, publishTime time.Time) (bool, error)
	Delete(ctx context.Context, id string) error
}
