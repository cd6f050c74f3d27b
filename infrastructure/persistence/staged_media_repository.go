package persistence

import (
	"context"
	"errors"

	"crosspost/domain/model"
	"crosspost/domain/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StagedMediaRepository keeps two-phase upload progress with gorm on PostgreSQL.
type StagedMediaRepository struct {
	db *gorm.DB
}

func NewStagedMediaRepository(db *gorm.DB) *StagedMediaRepository {
	return &StagedMediaRepository{db: db}
}

var _ repository.IStagedMedia = (*StagedMediaRepository)(nil)

func (r *StagedMediaRepository) Get(ctx context.Context, taskID string, index int) (*model.StagedMedia, error) {
	var rec model.StagedMedia
	if err := r.db.WithContext(ctx).Where("task_id = ? AND media_index = ?", taskID, index).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// Upsert never downgrades a record that already reached container_created.
func (r *StagedMediaRepository) Upsert(ctx context.Context, m *model.StagedMedia) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "task_id"}, {Name: "media_index"}},
		DoUpdates: clause.AssignmentColumns([]string{"platform", "status", "container_id", "updated_at"}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Neq{Column: clause.Column{Table: "staged_media", Name: "status"}, Value: string(model.StagingContainerCreated)},
		}},
	}).Create(m).Error
}

func (r *StagedMediaRepository) ListByTask(ctx context.Context, taskID string) ([]*model.StagedMedia, error) {
	var list []*model.StagedMedia
	if err := r.db.WithContext(ctx).Where("task_id = ?", taskID).Order("media_index").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *StagedMediaRepository) DeleteByTask(ctx context.Context, taskID string) error {
	return r.db.WithContext(ctx).Where("task_id = ?", taskID).Delete(&model.StagedMedia{}).Error
}
