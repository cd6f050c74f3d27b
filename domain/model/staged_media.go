package model

import "time"

type StagingStatus string

const (
	StagingNotStarted       StagingStatus = "not_started"
	StagingUploaded         StagingStatus = "uploaded"
	StagingContainerCreated StagingStatus = "container_created"
)

// StagedMedia records two-phase upload progress for one media item of a task.
type StagedMedia struct {
	TaskID      string        `json:"task_id"      gorm:"primaryKey;size:64"`
	MediaIndex  int           `json:"media_index"  gorm:"primaryKey;autoIncrement:false"`
	Platform    string        `json:"platform"     gorm:"size:32;not null"`
	Status      StagingStatus `json:"status"       gorm:"size:32;not null"`
	ContainerID string        `json:"container_id" gorm:"size:255"`
	CreatedAt   time.Time     `json:"created_at"   gorm:"autoCreateTime"`
	UpdatedAt   time.Time     `json:"updated_at"   gorm:"autoUpdateTime;index"`
}

func (StagedMedia) TableName() string { return "staged_media" }

func (s *StagedMedia) Reusable() bool {
	return s != nil && s.Status == StagingContainerCreated && s.ContainerID != ""
}
