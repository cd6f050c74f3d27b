package repository

import (
	"context"

	"crosspost/domain/model"
)

// ICredential is the persisted source of truth for account credentials.
type ICredential interface {
	Get(ctx context.Context, accountID, platform string) (*model.OAuth2Credential, error)
	Upsert(ctx context.Context, cred *model.OAuth2Credential) error
	Delete(ctx context.Context, accountID, platform string) error
}

// ICredentialCache fronts ICredential. Get returns nil, nil on a miss.
type ICredentialCache interface {
	Get(ctx context.Context, accountID, platform string) (*model.OAuth2Credential, error)
	Set(ctx context.Context, cred *model.OAuth2Credential) error
	Delete(ctx context.Context, accountID, platform string) error
}
