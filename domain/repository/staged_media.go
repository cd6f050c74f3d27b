package repository

import (
	"context"

	"crosspost/domain/model"
)

type IStagedMedia interface {
	Get(ctx context.Context, taskID string, index int) (*model.StagedMedia, error)
	Upsert(ctx context.Context, media *model.StagedMedia) error
	ListByTask(ctx context.Context, taskID string) ([]*model.StagedMedia, error)
	DeleteByTask(ctx context.Context, taskID string) error
}
