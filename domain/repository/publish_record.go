package repository

import (
	"context"

	"crosspost/domain/model"
)

// IPublishRecord is the append-only outcome log read by downstream reporting.
type IPublishRecord interface {
	Append(ctx context.Context, rec *model.PublishRecord) error
	ListByTask(ctx context.Context, taskID string) ([]*model.PublishRecord, error)
}
