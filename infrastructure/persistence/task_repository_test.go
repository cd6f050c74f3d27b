package persistence

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"crosspost/domain/model"
	"crosspost/domain/repository"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var taskRowColumns = []string{"id", "user_id", "account_id", "platform", "title", "description", "media", "options",
	"publish_time", "status", "external_id", "external_link", "error_code", "error_message", "retryable", "retry_count", "created_at", "updated_at"}

func TestTaskRepository_GetByID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewTaskRepository(db)
	publishAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(getTaskQuery)).
		WithArgs("task-1").
		WillReturnRows(sqlmock.NewRows(taskRowColumns).AddRow(
			"task-1", "user-1", "acct-1", "instagram", "Launch", "New drop",
			[]byte(`[{"kind":"image","url":"https://cdn.example.com/a.jpg"}]`), nil,
			publishAt, "failed", nil, nil, "rate_limited", "slow down", true, 2, publishAt, publishAt))

	task, err := repo.GetByID(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, task.Status)
	assert.Equal(t, "rate_limited", task.ErrorCode)
	assert.True(t, task.Retryable)
	assert.Equal(t, 2, task.RetryCount)
	require.Len(t, task.Media, 1)
	assert.Equal(t, model.MediaImage, task.Media[0].Kind)
	assert.Empty(t, task.ExternalID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskRepository_GetByID_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(getTaskQuery)).WithArgs("missing").WillReturnError(sql.ErrNoRows)

	_, err = NewTaskRepository(db).GetByID(context.Background(), "missing")
	require.ErrorIs(t, err, repository.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskRepository_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	task := &model.PublishTask{
		ID: "task-1", UserID: "user-1", AccountID: "acct-1", Platform: "facebook",
		Title: "Hello", Media: []model.MediaItem{{Kind: model.MediaImage, URL: "https://cdn.example.com/a.jpg"}},
		PublishTime: time.Now(), Status: model.StatusUnpublished,
	}
	mock.ExpectExec(regexp.QuoteMeta(insertTaskQuery)).
		WithArgs("task-1", "user-1", "acct-1", "facebook", "Hello", "", sqlmock.AnyArg(), nil,
			sqlmock.AnyArg(), "unpublished", nil, nil, nil, nil, false, 0, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, NewTaskRepository(db).Create(context.Background(), task))
	assert.False(t, task.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskRepository_Claim(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{"claims unpublished task", 1, true},
		{"second claim is a no-op", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			mock.ExpectExec(regexp.QuoteMeta(claimTaskQuery)).
				WithArgs("publishing", sqlmock.AnyArg(), "task-1", "unpublished").
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			ok, err := NewTaskRepository(db).Claim(context.Background(), "task-1", false, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestTaskRepository_ClaimManual(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(claimManualTaskQuery)).
		WithArgs("publishing", sqlmock.AnyArg(), "task-1", sqlmock.AnyArg(), 3).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := NewTaskRepository(db).Claim(context.Background(), "task-1", true, 3)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskRepository_MarkReleased(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewTaskRepository(db)

	_, err = repo.MarkReleased(context.Background(), "task-1", &model.PublishResult{})
	require.Error(t, err)

	mock.ExpectExec(regexp.QuoteMeta(releaseTaskQuery)).
		WithArgs("released", "post-9", nil, sqlmock.AnyArg(), "task-1", "publishing").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.MarkReleased(context.Background(), "task-1", &model.PublishResult{ExternalID: "post-9"})
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskRepository_MarkFailed(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewTaskRepository(db)

	_, err = repo.MarkFailed(context.Background(), "task-1", "", "boom", false)
	require.Error(t, err)

	mock.ExpectExec(regexp.QuoteMeta(failTaskQuery)).
		WithArgs("failed", "validation", "caption too long", false, sqlmock.AnyArg(), "task-1", "publishing").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.MarkFailed(context.Background(), "task-1", "validation", "caption too long", false)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskRepository_FindDue(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	from, to := now.Add(-30*time.Second), now.Add(30*time.Second)
	mock.ExpectQuery(regexp.QuoteMeta(dueTasksQuery+` AND status = ANY($3) ORDER BY publish_time ASC`)).
		WithArgs(from, to, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(taskRowColumns).
			AddRow("a", "u", "acct", "facebook", "", "", []byte(`[]`), nil, now, "unpublished", nil, nil, nil, nil, false, 0, now, now).
			AddRow("b", "u", "acct", "youtube", "", "", []byte(`[]`), []byte(`{"privacy":"public"}`), now, "unpublished", nil, nil, nil, nil, false, 0, now, now))

	tasks, err := NewTaskRepository(db).FindDue(context.Background(), from, to, model.StatusUnpublished)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.JSONEq(t, `{"privacy":"public"}`, string(tasks[1].Options))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskRepository_FindStale(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cutoff := time.Now().UTC().Add(-30 * time.Minute)
	stuck := cutoff.Add(-time.Hour)
	mock.ExpectQuery(regexp.QuoteMeta(staleTasksQuery)).
		WithArgs("publishing", cutoff).
		WillReturnRows(sqlmock.NewRows(taskRowColumns).
			AddRow("a", "u", "acct", "instagram", "", "", []byte(`[]`), nil, stuck, "publishing", nil, nil, nil, nil, false, 1, stuck, stuck))

	tasks, err := NewTaskRepository(db).FindStale(context.Background(), model.StatusPublishing, cutoff)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, model.StatusPublishing, tasks[0].Status)
	assert.True(t, stuck.Equal(tasks[0].UpdatedAt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskRepository_List(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT ` + taskColumns + ` FROM publish_tasks WHERE user_id=$1 AND status=$2 ORDER BY publish_time DESC LIMIT $3`)).
		WithArgs("user-1", "released", 10).
		WillReturnRows(sqlmock.NewRows(taskRowColumns))

	tasks, err := NewTaskRepository(db).List(context.Background(), model.TaskFilter{UserID: "user-1", Status: model.StatusReleased, Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, tasks)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskRepository_UpdatePublishTimeAndDelete(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewTaskRepository(db)
	at := time.Now().Add(time.Hour).UTC()

	mock.ExpectExec(regexp.QuoteMeta(rescheduleTaskQuery)).
		WithArgs(at, sqlmock.AnyArg(), "task-1", "unpublished").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(deleteTaskQuery)).WithArgs("task-1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(deleteTaskQuery)).WithArgs("task-2").WillReturnError(errors.New("conn reset"))

	ok, err := repo.UpdatePublishTime(context.Background(), "task-1", at)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.ErrorIs(t, repo.Delete(context.Background(), "task-1"), repository.ErrNotFound)
	assert.EqualError(t, repo.Delete(context.Background(), "task-2"), "conn reset")
	require.NoError(t, mock.ExpectationsWereMet())
}
