package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"crosspost/domain/model"
	"crosspost/domain/repository"

	"github.com/redis/go-redis/v9"
)

// DefaultCredentialTTL applies to credentials without an access token expiry.
const DefaultCredentialTTL = time.Hour

// CredentialCache keeps access credentials in Redis under
// <platform>:accessToken:<accountId> until the token expires.
type CredentialCache struct {
	client redis.UniversalClient
	now    func() time.Time
}

func NewCredentialCache(client redis.UniversalClient) *CredentialCache {
	return &CredentialCache{client: client, now: time.Now}
}

var _ repository.ICredentialCache = (*CredentialCache)(nil)

func CredentialKey(platform, accountID string) string {
	return fmt.Sprintf("%s:accessToken:%s", platform, accountID)
}

func (c *CredentialCache) Get(ctx context.Context, accountID, platform string) (*model.OAuth2Credential, error) {
	if c.client == nil {
		return nil, nil
	}
	raw, err := c.client.Get(ctx, CredentialKey(platform, accountID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("load credential: %w", err)
	}
	var cred model.OAuth2Credential
	if err := json.Unmarshal(raw, &cred); err != nil {
		return nil, fmt.Errorf("decode credential: %w", err)
	}
	return &cred, nil
}

// Set stores cred; an already expired credential is not cached.
func (c *CredentialCache) Set(ctx context.Context, cred *model.OAuth2Credential) error {
	if c.client == nil {
		return nil
	}
	ttl := DefaultCredentialTTL
	if !cred.ExpiresAt.IsZero() {
		ttl = cred.ExpiresAt.Sub(c.now()).Truncate(time.Second)
		if ttl <= 0 {
			return nil
		}
	}
	payload, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}
	if err := c.client.Set(ctx, CredentialKey(cred.Platform, cred.AccountID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("persist credential: %w", err)
	}
	return nil
}

func (c *CredentialCache) Delete(ctx context.Context, accountID, platform string) error {
	if c.client == nil {
		return nil
	}
	if err := c.client.Del(ctx, CredentialKey(platform, accountID)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}
