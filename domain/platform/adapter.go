package platform

import (
	"context"

	"crosspost/domain/model"
)

// Capabilities describe how the orchestrator drives an adapter.
type Capabilities struct {
	// RequiresContainer means media must be staged into a platform-side
	// container before Publish; otherwise media URLs are sent directly.
	RequiresContainer bool `json:"requires_container"`
	AsyncFinalize     bool `json:"async_finalize"`
	CanDelete         bool `json:"can_delete"`
}

// Adapter publishes a task to one external platform.
type Adapter interface {
	Name() string
	Capabilities() Capabilities
	Publish(ctx context.Context, req *PublishRequest) (*model.PublishResult, error)
}

type PublishRequest struct {
	Task       *model.PublishTask
	Credential *model.OAuth2Credential
	// Staged is indexed like Task.Media; entries are nil for direct-URL platforms.
	Staged []*model.StagedMedia
}

// Stager is implemented by adapters whose platform needs an upload container per media item.
type Stager interface {
	StageMedia(ctx context.Context, task *model.PublishTask, cred *model.OAuth2Credential, index int, item model.MediaItem) (*StageResult, error)
}

type StageResult struct {
	Status      model.StagingStatus
	ContainerID string
}

// Finalizer completes a publish the platform accepted asynchronously.
// A result with Pending set means the platform is still processing.
type Finalizer interface {
	Finalize(ctx context.Context, req *FinalizeRequest) (*model.PublishResult, error)
}

type FinalizeRequest struct {
	Task       *model.PublishTask
	Credential *model.OAuth2Credential
	Ref        string
	Attempt    int
}

// Deleter removes an already released post from the platform.
type Deleter interface {
	DeletePost(ctx context.Context, cred *model.OAuth2Credential, externalID string) error
}
