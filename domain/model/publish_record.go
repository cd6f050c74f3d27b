package model

import "time"

// PublishRecord is an append-only log entry written for every terminal dispatch outcome.
type PublishRecord struct {
	TaskID       string     `json:"task_id"                 bson:"taskId"`
	UserID       string     `json:"user_id"                 bson:"userId"`
	AccountID    string     `json:"account_id"              bson:"accountId"`
	Platform     string     `json:"platform"                bson:"platform"`
	Status       TaskStatus `json:"status"                  bson:"status"`
	ExternalID   string     `json:"external_id,omitempty"   bson:"externalId,omitempty"`
	ExternalLink string     `json:"external_link,omitempty" bson:"externalLink,omitempty"`
	ErrorCode    string     `json:"error_code,omitempty"    bson:"errorCode,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty" bson:"errorMessage,omitempty"`
	Attempt      int        `json:"attempt"                 bson:"attempt"`
	CreatedAt    time.Time  `json:"created_at"              bson:"createdAt"`
}
