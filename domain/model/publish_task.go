package model

import (
	"encoding/json"
	"time"
)

// TaskStatus is the lifecycle state of a PublishTask.
type TaskStatus string

const (
	StatusUnpublished TaskStatus = "unpublished"
	StatusPublishing  TaskStatus = "publishing"
	StatusReleased    TaskStatus = "released"
	StatusFailed      TaskStatus = "failed"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case StatusUnpublished, StatusPublishing, StatusReleased, StatusFailed:
		return true
	}
	return false
}

func (s TaskStatus) Terminal() bool {
	return s == StatusReleased || s == StatusFailed
}

// CanTransition reports whether a task may move from one status to another.
// Manual transitions are user-triggered "publish now" actions and are the only
// way back out of Failed.
func CanTransition(from, to TaskStatus, manual bool) bool {
	switch to {
	case StatusPublishing:
		if from == StatusUnpublished {
			return true
		}
		return manual && from == StatusFailed
	case StatusReleased, StatusFailed:
		return from == StatusPublishing
	}
	return false
}

// ClaimSources lists the statuses a dispatch claim may start from.
func ClaimSources(manual bool) []TaskStatus {
	if manual {
		return []TaskStatus{StatusUnpublished, StatusFailed}
	}
	return []TaskStatus{StatusUnpublished}
}

type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

// MediaItem references media already stored durably by the authoring flow.
type MediaItem struct {
	Kind     MediaKind `json:"kind"`
	URL      string    `json:"url"`
	CoverURL string    `json:"cover_url,omitempty"`
}

// PublishTask is one user's intent to post one piece of content to one account.
type PublishTask struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	AccountID    string          `json:"account_id"`
	Platform     string          `json:"platform"`
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	Media        []MediaItem     `json:"media"`
	Options      json.RawMessage `json:"options,omitempty"`
	PublishTime  time.Time       `json:"publish_time"`
	Status       TaskStatus      `json:"status"`
	ExternalID   string          `json:"external_id,omitempty"`
	ExternalLink string          `json:"external_link,omitempty"`
	ErrorCode    string          `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Retryable    bool            `json:"retryable"`
	RetryCount   int             `json:"retry_count"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func (t *PublishTask) HasVideo() bool {
	for _, m := range t.Media {
		if m.Kind == MediaVideo {
			return true
		}
	}
	return false
}

// PublishResult is what an adapter returns for an accepted publish or finalize call.
type PublishResult struct {
	ExternalID   string `json:"external_id,omitempty"`
	ExternalLink string `json:"external_link,omitempty"`
	// Async means the platform accepted the post but completes it out-of-band;
	// FinalizeRef is then handed to the adapter's Finalize.
	Async       bool   `json:"async,omitempty"`
	FinalizeRef string `json:"finalize_ref,omitempty"`
	// Pending is only set by Finalize while the platform is still processing.
	Pending bool `json:"pending,omitempty"`
}

func (r *PublishResult) HasReference() bool {
	return r != nil && (r.ExternalID != "" || r.ExternalLink != "")
}

// TaskFilter narrows task listings; zero values are ignored.
type TaskFilter struct {
	UserID    string
	AccountID string
	Platform  string
	Status    TaskStatus
	From      *time.Time
	To        *time.Time
	Limit     int
}
