package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"crosspost/domain/model"
	"crosspost/infrastructure/persistence"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockCredentialCache struct {
	mock.Mock
}

func (m *mockCredentialCache) Get(ctx context.Context, accountID, platform string) (*model.OAuth2Credential, error) {
	args := m.Called(accountID, platform)
	cred, _ := args.Get(0).(*model.OAuth2Credential)
	return cred, args.Error(1)
}

func (m *mockCredentialCache) Set(ctx context.Context, cred *model.OAuth2Credential) error {
	return m.Called(cred.AccountID, cred.Platform).Error(0)
}

func (m *mockCredentialCache) Delete(ctx context.Context, accountID, platform string) error {
	return m.Called(accountID, platform).Error(0)
}

func TestCredentialStore_ReadThrough(t *testing.T) {
	ctx := context.Background()
	repo := persistence.NewMemoryCredentialRepository()
	cache := newMemoryCache()
	store := NewCredentialStore(repo, cache)

	_, err := store.Get(ctx, "acct-1", "youtube")
	require.ErrorIs(t, err, ErrCredentialNotFound)

	require.NoError(t, store.Save(ctx, &model.OAuth2Credential{AccountID: "acct-1", Platform: "youtube", AccessToken: "v1"}))
	assert.True(t, cache.has("acct-1", "youtube"))

	// The cache answers without touching the persisted store.
	require.NoError(t, repo.Delete(ctx, "acct-1", "youtube"))
	cred, err := store.Get(ctx, "acct-1", "youtube")
	require.NoError(t, err)
	assert.Equal(t, "v1", cred.AccessToken)
}

func TestCredentialStore_FallsBackAndRepopulates(t *testing.T) {
	ctx := context.Background()
	repo := persistence.NewMemoryCredentialRepository()
	require.NoError(t, repo.Upsert(ctx, &model.OAuth2Credential{AccountID: "acct-1", Platform: "facebook", AccessToken: "page-token", ExpiresAt: time.Now().Add(time.Hour)}))

	cache := &mockCredentialCache{}
	cache.On("Get", "acct-1", "facebook").Return(nil, errors.New("redis: connection refused")).Once()
	cache.On("Set", "acct-1", "facebook").Return(nil).Once()

	cred, err := NewCredentialStore(repo, cache).Get(ctx, "acct-1", "facebook")
	require.NoError(t, err)
	assert.Equal(t, "page-token", cred.AccessToken)
	cache.AssertExpectations(t)
}

func TestCredentialStore_Invalidate(t *testing.T) {
	ctx := context.Background()
	repo := persistence.NewMemoryCredentialRepository()
	cache := newMemoryCache()
	store := NewCredentialStore(repo, cache)
	require.NoError(t, store.Save(ctx, &model.OAuth2Credential{AccountID: "acct-1", Platform: "instagram", AccessToken: "t"}))

	require.NoError(t, store.Invalidate(ctx, "acct-1", "instagram"))

	_, err := store.Get(ctx, "acct-1", "instagram")
	assert.ErrorIs(t, err, ErrCredentialNotFound)
	assert.False(t, cache.has("acct-1", "instagram"))
	_, err = repo.Get(ctx, "acct-1", "instagram")
	assert.Error(t, err)
}

type failingCredentialDelete struct {
	*persistence.MemoryCredentialRepository
}

func (failingCredentialDelete) Delete(context.Context, string, string) error {
	return errors.New("connection refused")
}

func TestCredentialStore_InvalidatePurgesCacheWhenStoreFails(t *testing.T) {
	ctx := context.Background()
	repo := failingCredentialDelete{persistence.NewMemoryCredentialRepository()}
	cache := &mockCredentialCache{}
	cache.On("Delete", "acct-1", "instagram").Return(nil).Once()
	store := NewCredentialStore(repo, cache)

	err := store.Invalidate(ctx, "acct-1", "instagram")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delete credential: connection refused")
	cache.AssertExpectations(t)
}

func TestCredentialStore_InvalidateReportsBothFailures(t *testing.T) {
	cache := &mockCredentialCache{}
	cache.On("Delete", "acct-1", "instagram").Return(errors.New("redis: connection refused")).Once()
	store := NewCredentialStore(failingCredentialDelete{persistence.NewMemoryCredentialRepository()}, cache)

	err := store.Invalidate(context.Background(), "acct-1", "instagram")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delete credential")
	assert.Contains(t, err.Error(), "purge cached credential")
}

func TestCredentialStore_LockTableIsBounded(t *testing.T) {
	store := NewCredentialStore(persistence.NewMemoryCredentialRepository(), nil).(*credentialStore)

	assert.Same(t, store.lock("acct-1", "facebook"), store.lock("acct-1", "facebook"))
	seen := make(map[*sync.RWMutex]struct{})
	for i := 0; i < 1000; i++ {
		seen[store.lock(fmt.Sprintf("acct-%d", i), "youtube")] = struct{}{}
	}
	assert.LessOrEqual(t, len(seen), lockShards)
}

func TestCredentialStore_SaveValidates(t *testing.T) {
	store := NewCredentialStore(persistence.NewMemoryCredentialRepository(), nil)
	assert.Error(t, store.Save(context.Background(), &model.OAuth2Credential{AccountID: "acct-1", Platform: "youtube"}))
	assert.Error(t, store.Save(context.Background(), nil))

	require.NoError(t, store.Save(context.Background(), &model.OAuth2Credential{AccountID: "a", Platform: "youtube", AccessToken: "x"}))
	cred, err := store.Get(context.Background(), "a", "youtube")
	require.NoError(t, err)
	assert.Equal(t, "x", cred.AccessToken)
}
