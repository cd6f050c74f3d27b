package persistence

import (
	"context"
	"time"

	"crosspost/domain/model"
	"crosspost/domain/repository"
	"crosspost/infrastructure/logger"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const publishRecordCollection = "publish_records"

// PublishRecordRepository appends dispatch outcomes to MongoDB. A nil client
// turns it into a no-op so the orchestrator runs without Mongo.
type PublishRecordRepository struct {
	mongoDb *mongo.Client
	dbName  string
}

func NewPublishRecordRepository(client *mongo.Client, dbName string) *PublishRecordRepository {
	return &PublishRecordRepository{mongoDb: client, dbName: dbName}
}

var _ repository.IPublishRecord = (*PublishRecordRepository)(nil)

func (r *PublishRecordRepository) Append(ctx context.Context, rec *model.PublishRecord) error {
	if r.mongoDb == nil {
		logger.GetLogger().WithField("task_id", rec.TaskID).Debug("MongoDB client is nil - skipping publish record")
		return nil
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := r.collection().InsertOne(ctx, rec)
	return err
}

func (r *PublishRecordRepository) ListByTask(ctx context.Context, taskID string) ([]*model.PublishRecord, error) {
	if r.mongoDb == nil {
		return []*model.PublishRecord{}, nil
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	cursor, err := r.collection().Find(ctx, bson.D{{Key: "taskId", Value: taskID}}, opts)
	if err != nil {
		return nil, err
	}
	defer func(cursor *mongo.Cursor, ctx context.Context) {
		if err := cursor.Close(ctx); err != nil {
			logger.GetLogger().WithField("error", err).Error("Error while closing cursor")
		}
	}(cursor, ctx)

	var out []*model.PublishRecord
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PublishRecordRepository) collection() *mongo.Collection {
	return r.mongoDb.Database(r.dbName).Collection(publishRecordCollection)
}
