package dto

import (
	"encoding/json"
	"time"

	"crosspost/domain/model"
)

// CreateTaskRequest is the body of POST /api/tasks.
type CreateTaskRequest struct {
	AccountID   string            `json:"account_id" binding:"required"`
	Platform    string            `json:"platform" binding:"required"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Media       []model.MediaItem `json:"media"`
	Options     json.RawMessage   `json:"options,omitempty"`
	// PublishTime defaults to now when omitted.
	PublishTime *time.Time `json:"publish_time,omitempty"`
}

type ReschedulePayload struct {
	PublishTime time.Time `json:"publish_time" binding:"required"`
}

// TaskListQuery binds GET /api/tasks filters.
type TaskListQuery struct {
	AccountID string     `form:"account_id"`
	Platform  string     `form:"platform"`
	Status    string     `form:"status"`
	From      *time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To        *time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
	Limit     int        `form:"limit"`
}

type DueTasksQuery struct {
	From time.Time `form:"from" binding:"required" time_format:"2006-01-02T15:04:05Z07:00"`
	To   time.Time `form:"to" binding:"required" time_format:"2006-01-02T15:04:05Z07:00"`
}

type TaskListResponse struct {
	Data  []*model.PublishTask `json:"data"`
	Count int                  `json:"count"`
}

// DispatchRequest is the work queue payload consumed by the dispatcher.
// Manual requests carry the retry count observed when they were issued.
type DispatchRequest struct {
	TaskID  string `json:"task_id"`
	Manual  bool   `json:"manual,omitempty"`
	Attempt int    `json:"attempt,omitempty"`
}

// FinalizeRequest is the work queue payload consumed by the finalizer.
type FinalizeRequest struct {
	TaskID  string `json:"task_id"`
	Ref     string `json:"ref"`
	Attempt int    `json:"attempt"`
}
