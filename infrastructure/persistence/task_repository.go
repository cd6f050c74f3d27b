package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"crosspost/domain/model"
	"crosspost/domain/repository"

	"github.com/lib/pq"
)

const taskColumns = `id, user_id, account_id, platform, title, description, media, options, publish_time, status, external_id, external_link, error_code, error_message, retryable, retry_count, created_at, updated_at`

const (
	insertTaskQuery = `INSERT INTO publish_tasks (` + taskColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`
	getTaskQuery    = `SELECT ` + taskColumns + ` FROM publish_tasks WHERE id=$1`
	dueTasksQuery   = `SELECT ` + taskColumns + ` FROM publish_tasks WHERE publish_time >= $1 AND publish_time <= $2`
	staleTasksQuery = `SELECT ` + taskColumns + ` FROM publish_tasks WHERE status=$1 AND updated_at < $2 ORDER BY updated_at ASC`
	claimTaskQuery  = `UPDATE publish_tasks SET status=$1, updated_at=$2 WHERE id=$3 AND status=$4`
	// Manual claims also restart a failed task. Every manual claim bumps
	// retry_count, which is the version guard against duplicate requests.
	claimManualTaskQuery = `UPDATE publish_tasks SET status=$1, retry_count = retry_count + 1,
		error_code=NULL, error_message=NULL, retryable=FALSE, updated_at=$2
		WHERE id=$3 AND status = ANY($4) AND retry_count=$5`
	releaseTaskQuery = `UPDATE publish_tasks SET status=$1, external_id=$2, external_link=$3, error_code=NULL, error_message=NULL, retryable=FALSE, updated_at=$4
		WHERE id=$5 AND status=$6`
	failTaskQuery = `UPDATE publish_tasks SET status=$1, error_code=$2, error_message=$3, retryable=$4, updated_at=$5
		WHERE id=$6 AND status=$7`
	rescheduleTaskQuery = `UPDATE publish_tasks SET publish_time=$1, updated_at=$2 WHERE id=$3 AND status=$4`
	deleteTaskQuery     = `DELETE FROM publish_tasks WHERE id=$1`
)

// TaskRepository stores publish tasks in PostgreSQL.
type TaskRepository struct {
	db *sql.DB
}

func NewTaskRepository(db *sql.DB) *TaskRepository { return &TaskRepository{db: db} }

var _ repository.IPublishTask = (*TaskRepository)(nil)

func (r *TaskRepository) Create(ctx context.Context, t *model.PublishTask) error {
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	media, err := json.Marshal(t.Media)
	if err != nil {
		return fmt.Errorf("encode media: %w", err)
	}
	_, err = r.db.ExecContext(ctx, insertTaskQuery,
		t.ID, t.UserID, t.AccountID, t.Platform, t.Title, t.Description, media, nullJSON(t.Options),
		t.PublishTime.UTC(), string(t.Status), nullString(t.ExternalID), nullString(t.ExternalLink),
		nullString(t.ErrorCode), nullString(t.ErrorMessage), t.Retryable, t.RetryCount, t.CreatedAt, t.UpdatedAt)
	return err
}

func (r *TaskRepository) GetByID(ctx context.Context, id string) (*model.PublishTask, error) {
	t, err := scanTask(r.db.QueryRowContext(ctx, getTaskQuery, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	return t, err
}

func (r *TaskRepository) List(ctx context.Context, f model.TaskFilter) ([]*model.PublishTask, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.UserID != "" {
		add("user_id=$%d", f.UserID)
	}
	if f.AccountID != "" {
		add("account_id=$%d", f.AccountID)
	}
	if f.Platform != "" {
		add("platform=$%d", f.Platform)
	}
	if f.Status != "" {
		add("status=$%d", string(f.Status))
	}
	if f.From != nil {
		add("publish_time >= $%d", f.From.UTC())
	}
	if f.To != nil {
		add("publish_time <= $%d", f.To.UTC())
	}

	q := `SELECT ` + taskColumns + ` FROM publish_tasks`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY publish_time DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return r.query(ctx, q, args...)
}

func (r *TaskRepository) FindDue(ctx context.Context, from, to time.Time, statuses ...model.TaskStatus) ([]*model.PublishTask, error) {
	q := dueTasksQuery
	args := []interface{}{from.UTC(), to.UTC()}
	if len(statuses) > 0 {
		q += ` AND status = ANY($3)`
		args = append(args, pq.Array(statusStrings(statuses)))
	}
	q += ` ORDER BY publish_time ASC`
	return r.query(ctx, q, args...)
}

func (r *TaskRepository) FindStale(ctx context.Context, status model.TaskStatus, updatedBefore time.Time) ([]*model.PublishTask, error) {
	return r.query(ctx, staleTasksQuery, string(status), updatedBefore.UTC())
}

func (r *TaskRepository) Claim(ctx context.Context, id string, manual bool, attempt int) (bool, error) {
	now := time.Now().UTC()
	if !manual {
		return r.exec(ctx, claimTaskQuery, string(model.StatusPublishing), now, id, string(model.StatusUnpublished))
	}
	return r.exec(ctx, claimManualTaskQuery,
		string(model.StatusPublishing), now, id, pq.Array(statusStrings(model.ClaimSources(true))), attempt)
}

func (r *TaskRepository) MarkReleased(ctx context.Context, id string, result *model.PublishResult) (bool, error) {
	if !result.HasReference() {
		return false, fmt.Errorf("release task %s: missing external reference", id)
	}
	return r.exec(ctx, releaseTaskQuery,
		string(model.StatusReleased), nullString(result.ExternalID), nullString(result.ExternalLink),
		time.Now().UTC(), id, string(model.StatusPublishing))
}

func (r *TaskRepository) MarkFailed(ctx context.Context, id, code, message string, retryable bool) (bool, error) {
	if code == "" {
		return false, fmt.Errorf("fail task %s: missing error code", id)
	}
	return r.exec(ctx, failTaskQuery,
		string(model.StatusFailed), code, message, retryable, time.Now().UTC(), id, string(model.StatusPublishing))
}

func (r *TaskRepository) UpdatePublishTime(ctx context.Context, id string, publishTime time.Time) (bool, error) {
	return r.exec(ctx, rescheduleTaskQuery, publishTime.UTC(), time.Now().UTC(), id, string(model.StatusUnpublished))
}

func (r *TaskRepository) Delete(ctx context.Context, id string) error {
	ok, err := r.exec(ctx, deleteTaskQuery, id)
	if err != nil {
		return err
	}
	if !ok {
		return repository.ErrNotFound
	}
	return nil
}

func (r *TaskRepository) exec(ctx context.Context, q string, args ...interface{}) (bool, error) {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *TaskRepository) query(ctx context.Context, q string, args ...interface{}) ([]*model.PublishTask, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*model.PublishTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*model.PublishTask, error) {
	t := &model.PublishTask{}
	var (
		media, options                  []byte
		status                          string
		extID, extLink, errCode, errMsg sql.NullString
	)
	if err := row.Scan(&t.ID, &t.UserID, &t.AccountID, &t.Platform, &t.Title, &t.Description, &media, &options,
		&t.PublishTime, &status, &extID, &extLink, &errCode, &errMsg, &t.Retryable, &t.RetryCount, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Status = model.TaskStatus(status)
	if len(media) > 0 {
		if err := json.Unmarshal(media, &t.Media); err != nil {
			return nil, fmt.Errorf("decode media of task %s: %w", t.ID, err)
		}
	}
	if len(options) > 0 {
		t.Options = json.RawMessage(options)
	}
	t.ExternalID = extID.String
	t.ExternalLink = extLink.String
	t.ErrorCode = errCode.String
	t.ErrorMessage = errMsg.String
	return t, nil
}

func statusStrings(statuses []model.TaskStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
