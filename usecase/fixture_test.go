package usecase

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"crosspost/domain/dto"
	"crosspost/domain/model"
	"crosspost/domain/platform"
	"crosspost/infrastructure/persistence"
	"crosspost/infrastructure/queue"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	dispatchTopic = "publish.dispatch"
	finalizeTopic = "publish.finalize"
)

type mockAdapter struct {
	mock.Mock
	name string
	caps platform.Capabilities
}

func (m *mockAdapter) Name() string                        { return m.name }
func (m *mockAdapter) Capabilities() platform.Capabilities { return m.caps }

func (m *mockAdapter) Publish(ctx context.Context, req *platform.PublishRequest) (*model.PublishResult, error) {
	args := m.Called(req.Task.ID, req.Staged)
	res, _ := args.Get(0).(*model.PublishResult)
	return res, args.Error(1)
}

func (m *mockAdapter) StageMedia(ctx context.Context, task *model.PublishTask, cred *model.OAuth2Credential, index int, item model.MediaItem) (*platform.StageResult, error) {
	args := m.Called(index)
	res, _ := args.Get(0).(*platform.StageResult)
	return res, args.Error(1)
}

func (m *mockAdapter) Finalize(ctx context.Context, req *platform.FinalizeRequest) (*model.PublishResult, error) {
	args := m.Called(req.Ref, req.Attempt)
	res, _ := args.Get(0).(*model.PublishResult)
	return res, args.Error(1)
}

func (m *mockAdapter) DeletePost(ctx context.Context, cred *model.OAuth2Credential, externalID string) error {
	return m.Called(externalID).Error(0)
}

// recordingQueue keeps published payloads for inspection.
type recordingQueue struct {
	mu   sync.Mutex
	msgs map[string][][]byte
	err  error
}

func newRecordingQueue() *recordingQueue {
	return &recordingQueue{msgs: make(map[string][][]byte)}
}

func (q *recordingQueue) Publish(_ context.Context, topic string, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.msgs[topic] = append(q.msgs[topic], payload)
	return nil
}

func (q *recordingQueue) Consume(ctx context.Context, _ string, _ int, _ queue.Handler) error {
	<-ctx.Done()
	return nil
}

func (q *recordingQueue) Close() error { return nil }

func (q *recordingQueue) dispatches(t *testing.T) []dto.DispatchRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []dto.DispatchRequest
	for _, p := range q.msgs[dispatchTopic] {
		var r dto.DispatchRequest
		require.NoError(t, json.Unmarshal(p, &r))
		out = append(out, r)
	}
	return out
}

func (q *recordingQueue) finalizes(t *testing.T) []dto.FinalizeRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []dto.FinalizeRequest
	for _, p := range q.msgs[finalizeTopic] {
		var r dto.FinalizeRequest
		require.NoError(t, json.Unmarshal(p, &r))
		out = append(out, r)
	}
	return out
}

// memoryCache is a map backed credential cache.
type memoryCache struct {
	mu    sync.Mutex
	creds map[string]*model.OAuth2Credential
}

func newMemoryCache() *memoryCache {
	return &memoryCache{creds: make(map[string]*model.OAuth2Credential)}
}

func (c *memoryCache) Get(_ context.Context, accountID, platform string) (*model.OAuth2Credential, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cred, ok := c.creds[platform+":"+accountID]
	if !ok {
		return nil, nil
	}
	cp := *cred
	return &cp, nil
}

func (c *memoryCache) Set(_ context.Context, cred *model.OAuth2Credential) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *cred
	c.creds[cred.Platform+":"+cred.AccountID] = &cp
	return nil
}

func (c *memoryCache) Delete(_ context.Context, accountID, platform string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.creds, platform+":"+accountID)
	return nil
}

func (c *memoryCache) has(accountID, platform string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.creds[platform+":"+accountID]
	return ok
}

type fixture struct {
	tasks     *persistence.MemoryTaskRepository
	credRepo  *persistence.MemoryCredentialRepository
	staged    *persistence.MemoryStagedMediaRepository
	records   *persistence.MemoryPublishRecordRepository
	cache     *memoryCache
	store     ICredentialStore
	stager    IMediaStager
	registry  *platform.Registry
	queue     *recordingQueue
	adapter   *mockAdapter
	dispatch  *Dispatcher
	finalizer *Finalizer
	publish   IPublishUsecase

	mu     sync.Mutex
	events []model.TaskStatus
}

func newFixture(t *testing.T, caps platform.Capabilities) *fixture {
	t.Helper()
	f := &fixture{
		tasks:    persistence.NewMemoryTaskRepository(),
		credRepo: persistence.NewMemoryCredentialRepository(),
		staged:   persistence.NewMemoryStagedMediaRepository(),
		records:  persistence.NewMemoryPublishRecordRepository(),
		cache:    newMemoryCache(),
		registry: platform.NewRegistry(),
		queue:    newRecordingQueue(),
		adapter:  &mockAdapter{name: "instagram", caps: caps},
	}
	require.NoError(t, f.registry.Register(f.adapter, 0, 0))
	f.store = NewCredentialStore(f.credRepo, f.cache)
	f.stager = NewMediaStager(f.staged, nil, time.Millisecond)
	broadcast := func(task *model.PublishTask) {
		f.mu.Lock()
		f.events = append(f.events, task.Status)
		f.mu.Unlock()
	}
	f.dispatch = NewDispatcher(f.tasks, f.records, f.store, f.stager, f.registry, f.queue, broadcast,
		DispatcherConfig{Topic: dispatchTopic, FinalizeTopic: finalizeTopic, Workers: 1, CallTimeout: time.Second})
	f.finalizer = NewFinalizer(f.tasks, f.records, f.store, f.stager, f.registry, f.queue, broadcast,
		FinalizerConfig{Topic: finalizeTopic, Workers: 1, PollInterval: time.Second, MaxAttempts: 3, CallTimeout: time.Second})
	f.publish = NewPublishUsecase(f.tasks, f.stager, f.store, f.registry, f.queue,
		PublishConfig{DispatchTopic: dispatchTopic, ImmediateTolerance: 30 * time.Second})
	require.NoError(t, f.credRepo.Upsert(context.Background(), &model.OAuth2Credential{
		AccountID: "acct-1", Platform: "instagram", AccessToken: "token", ExpiresAt: time.Now().Add(time.Hour),
	}))
	return f
}

func (f *fixture) seedTask(t *testing.T, id string, publishTime time.Time, media ...model.MediaItem) *model.PublishTask {
	t.Helper()
	task := &model.PublishTask{
		ID: id, UserID: "user-1", AccountID: "acct-1", Platform: "instagram",
		Title: "Launch", Media: media, PublishTime: publishTime, Status: model.StatusUnpublished,
	}
	require.NoError(t, f.tasks.Create(context.Background(), task))
	return task
}

func (f *fixture) task(t *testing.T, id string) *model.PublishTask {
	t.Helper()
	task, err := f.tasks.GetByID(context.Background(), id)
	require.NoError(t, err)
	return task
}

func (f *fixture) statuses() []model.TaskStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.TaskStatus(nil), f.events...)
}

func image(url string) model.MediaItem { return model.MediaItem{Kind: model.MediaImage, URL: url} }
