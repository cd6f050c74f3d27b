package persistence

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"crosspost/domain/model"
	"crosspost/domain/repository"
)

// The memory stores back single-process deployments without PostgreSQL and
// serve as fakes in tests. They copy on every read and write.

type MemoryTaskRepository struct {
	mu    sync.RWMutex
	tasks map[string]*model.PublishTask
}

func NewMemoryTaskRepository() *MemoryTaskRepository {
	return &MemoryTaskRepository{tasks: make(map[string]*model.PublishTask)}
}

var _ repository.IPublishTask = (*MemoryTaskRepository)(nil)

func cloneTask(t *model.PublishTask) *model.PublishTask {
	c := *t
	c.Media = append([]model.MediaItem(nil), t.Media...)
	return &c
}

func (r *MemoryTaskRepository) Create(_ context.Context, t *model.PublishTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tasks[t.ID]; exists {
		return fmt.Errorf("task %s already exists", t.ID)
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	r.tasks[t.ID] = cloneTask(t)
	return nil
}

func (r *MemoryTaskRepository) GetByID(_ context.Context, id string) (*model.PublishTask, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneTask(t), nil
}

func (r *MemoryTaskRepository) List(_ context.Context, f model.TaskFilter) ([]*model.PublishTask, error) {
	r.mu.RLock()
	var out []*model.PublishTask
	for _, t := range r.tasks {
		if f.UserID != "" && t.UserID != f.UserID ||
			f.AccountID != "" && t.AccountID != f.AccountID ||
			f.Platform != "" && t.Platform != f.Platform ||
			f.Status != "" && t.Status != f.Status ||
			f.From != nil && t.PublishTime.Before(*f.From) ||
			f.To != nil && t.PublishTime.After(*f.To) {
			continue
		}
		out = append(out, cloneTask(t))
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].PublishTime.After(out[j].PublishTime) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *MemoryTaskRepository) FindDue(_ context.Context, from, to time.Time, statuses ...model.TaskStatus) ([]*model.PublishTask, error) {
	r.mu.RLock()
	var out []*model.PublishTask
	for _, t := range r.tasks {
		if t.PublishTime.Before(from) || t.PublishTime.After(to) {
			continue
		}
		if len(statuses) > 0 && !hasStatus(statuses, t.Status) {
			continue
		}
		out = append(out, cloneTask(t))
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].PublishTime.Before(out[j].PublishTime) })
	return out, nil
}

func (r *MemoryTaskRepository) FindStale(_ context.Context, status model.TaskStatus, updatedBefore time.Time) ([]*model.PublishTask, error) {
	r.mu.RLock()
	var out []*model.PublishTask
	for _, t := range r.tasks {
		if t.Status == status && t.UpdatedAt.Before(updatedBefore) {
			out = append(out, cloneTask(t))
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

func (r *MemoryTaskRepository) Claim(_ context.Context, id string, manual bool, attempt int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok || !hasStatus(model.ClaimSources(manual), t.Status) {
		return false, nil
	}
	if manual {
		if t.RetryCount != attempt {
			return false, nil
		}
		t.RetryCount++
		t.ErrorCode, t.ErrorMessage, t.Retryable = "", "", false
	}
	t.Status = model.StatusPublishing
	t.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *MemoryTaskRepository) MarkReleased(_ context.Context, id string, result *model.PublishResult) (bool, error) {
	if !result.HasReference() {
		return false, fmt.Errorf("release task %s: missing external reference", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok || t.Status != model.StatusPublishing {
		return false, nil
	}
	t.Status = model.StatusReleased
	t.ExternalID, t.ExternalLink = result.ExternalID, result.ExternalLink
	t.ErrorCode, t.ErrorMessage, t.Retryable = "", "", false
	t.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *MemoryTaskRepository) MarkFailed(_ context.Context, id, code, message string, retryable bool) (bool, error) {
	if code == "" {
		return false, fmt.Errorf("fail task %s: missing error code", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok || t.Status != model.StatusPublishing {
		return false, nil
	}
	t.Status = model.StatusFailed
	t.ErrorCode, t.ErrorMessage, t.Retryable = code, message, retryable
	t.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *MemoryTaskRepository) UpdatePublishTime(_ context.Context, id string, publishTime time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok || t.Status != model.StatusUnpublished {
		return false, nil
	}
	t.PublishTime = publishTime.UTC()
	t.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *MemoryTaskRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.tasks, id)
	return nil
}

func hasStatus(list []model.TaskStatus, s model.TaskStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

type MemoryCredentialRepository struct {
	mu    sync.RWMutex
	creds map[string]*model.OAuth2Credential
}

func NewMemoryCredentialRepository() *MemoryCredentialRepository {
	return &MemoryCredentialRepository{creds: make(map[string]*model.OAuth2Credential)}
}

var _ repository.ICredential = (*MemoryCredentialRepository)(nil)

func credentialKey(accountID, platform string) string { return platform + "/" + accountID }

func (r *MemoryCredentialRepository) Get(_ context.Context, accountID, platform string) (*model.OAuth2Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.creds[credentialKey(accountID, platform)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *MemoryCredentialRepository) Upsert(_ context.Context, c *model.OAuth2Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	cp := *c
	r.creds[credentialKey(c.AccountID, c.Platform)] = &cp
	return nil
}

func (r *MemoryCredentialRepository) Delete(_ context.Context, accountID, platform string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.creds, credentialKey(accountID, platform))
	return nil
}

type MemoryStagedMediaRepository struct {
	mu    sync.RWMutex
	items map[string]map[int]*model.StagedMedia
}

func NewMemoryStagedMediaRepository() *MemoryStagedMediaRepository {
	return &MemoryStagedMediaRepository{items: make(map[string]map[int]*model.StagedMedia)}
}

var _ repository.IStagedMedia = (*MemoryStagedMediaRepository)(nil)

func (r *MemoryStagedMediaRepository) Get(_ context.Context, taskID string, index int) (*model.StagedMedia, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.items[taskID][index]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (r *MemoryStagedMediaRepository) Upsert(_ context.Context, m *model.StagedMedia) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	byIndex := r.items[m.TaskID]
	if byIndex == nil {
		byIndex = make(map[int]*model.StagedMedia)
		r.items[m.TaskID] = byIndex
	}
	if existing, ok := byIndex[m.MediaIndex]; ok && existing.Status == model.StagingContainerCreated {
		return nil
	}
	now := time.Now().UTC()
	cp := *m
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	byIndex[m.MediaIndex] = &cp
	return nil
}

func (r *MemoryStagedMediaRepository) ListByTask(_ context.Context, taskID string) ([]*model.StagedMedia, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*model.StagedMedia, 0, len(r.items[taskID]))
	for _, m := range r.items[taskID] {
		cp := *m
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MediaIndex < out[j].MediaIndex })
	return out, nil
}

func (r *MemoryStagedMediaRepository) DeleteByTask(_ context.Context, taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, taskID)
	return nil
}

type MemoryPublishRecordRepository struct {
	mu      sync.RWMutex
	records []*model.PublishRecord
}

func NewMemoryPublishRecordRepository() *MemoryPublishRecordRepository {
	return &MemoryPublishRecordRepository{}
}

var _ repository.IPublishRecord = (*MemoryPublishRecordRepository)(nil)

func (r *MemoryPublishRecordRepository) Append(_ context.Context, rec *model.PublishRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	cp := *rec
	r.records = append(r.records, &cp)
	return nil
}

func (r *MemoryPublishRecordRepository) ListByTask(_ context.Context, taskID string) ([]*model.PublishRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []*model.PublishRecord{}
	for _, rec := range r.records {
		if rec.TaskID == taskID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}
