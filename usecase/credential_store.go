package usecase

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"crosspost/domain/model"
	"crosspost/domain/repository"
	"crosspost/infrastructure/logger"
)

// ErrCredentialNotFound means the account has no usable credential for the platform.
var ErrCredentialNotFound = errors.New("credential not found")

// ICredentialStore is the single read/write path for platform credentials.
// Reads go to the cache first and fall back to the persisted store; writes and
// invalidations update both under the account/platform lock shard so a
// reader never observes a half-invalidated credential.
type ICredentialStore interface {
	Get(ctx context.Context, accountID, platform string) (*model.OAuth2Credential, error)
	Save(ctx context.Context, cred *model.OAuth2Credential) error
	Invalidate(ctx context.Context, accountID, platform string) error
}

// lockShards bounds the lock table; keys that share a shard only contend.
const lockShards = 64

type credentialStore struct {
	repo  repository.ICredential
	cache repository.ICredentialCache
	locks [lockShards]sync.RWMutex
}

// NewCredentialStore accepts a nil cache.
func NewCredentialStore(repo repository.ICredential, cache repository.ICredentialCache) ICredentialStore {
	return &credentialStore{repo: repo, cache: cache}
}

func (s *credentialStore) lock(accountID, platform string) *sync.RWMutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(platform + ":" + accountID))
	return &s.locks[h.Sum32()%lockShards]
}

func (s *credentialStore) Get(ctx context.Context, accountID, platform string) (*model.OAuth2Credential, error) {
	l := s.lock(accountID, platform)
	l.RLock()
	defer l.RUnlock()

	if s.cache != nil {
		cred, err := s.cache.Get(ctx, accountID, platform)
		if err != nil {
			logger.GetLogger().
				WithField("account_id", accountID).
				WithField("platform", platform).
				WithField("error", err).
				Warn("credential cache read failed, falling back to store")
		} else if cred != nil {
			return cred, nil
		}
	}

	cred, err := s.repo.Get(ctx, accountID, platform)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrCredentialNotFound
		}
		return nil, fmt.Errorf("load credential: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, cred); err != nil {
			logger.GetLogger().WithField("platform", platform).WithField("error", err).Warn("credential cache write failed")
		}
	}
	return cred, nil
}

func (s *credentialStore) Save(ctx context.Context, cred *model.OAuth2Credential) error {
	if cred == nil || cred.AccountID == "" || cred.Platform == "" || cred.AccessToken == "" {
		return fmt.Errorf("save credential: account, platform and access token are required")
	}
	l := s.lock(cred.AccountID, cred.Platform)
	l.Lock()
	defer l.Unlock()

	if err := s.repo.Upsert(ctx, cred); err != nil {
		return fmt.Errorf("persist credential: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, cred); err != nil {
			// A stale cached token would outlive the new one; drop it instead.
			_ = s.cache.Delete(ctx, cred.AccountID, cred.Platform)
			logger.GetLogger().WithField("platform", cred.Platform).WithField("error", err).Warn("credential cache write failed")
		}
	}
	return nil
}

// Invalidate deletes the persisted credential first so a concurrent cache
// miss cannot repopulate the cache from it. The cached copy is purged even
// when the persisted delete fails.
func (s *credentialStore) Invalidate(ctx context.Context, accountID, platform string) error {
	l := s.lock(accountID, platform)
	l.Lock()
	defer l.Unlock()

	var errs []error
	if err := s.repo.Delete(ctx, accountID, platform); err != nil {
		errs = append(errs, fmt.Errorf("delete credential: %w", err))
	}
	if s.cache != nil {
		if err := s.cache.Delete(ctx, accountID, platform); err != nil {
			errs = append(errs, fmt.Errorf("purge cached credential: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	logger.GetLogger().
		WithField("account_id", accountID).
		WithField("platform", platform).
		Info("credential invalidated")
	return nil
}
