package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"crosspost/domain/model"
	"crosspost/infrastructure/logger"

	"gorm.io/gorm"
)

// EnsurePublishSchema creates the task and credential tables when missing and
// adds columns introduced after the first release. Safe to call at startup.
func EnsurePublishSchema(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ddl := []string{
		`CREATE TABLE IF NOT EXISTS publish_tasks (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			account_id TEXT NOT NULL,
			platform TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			media JSONB NOT NULL DEFAULT '[]',
			options JSONB,
			publish_time TIMESTAMPTZ NOT NULL,
			status TEXT NOT NULL,
			external_id TEXT,
			external_link TEXT,
			error_code TEXT,
			error_message TEXT,
			retry_count INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS oauth_credentials (
			account_id TEXT NOT NULL,
			platform TEXT NOT NULL,
			access_token TEXT NOT NULL,
			refresh_token TEXT NOT NULL DEFAULT '',
			expires_at TIMESTAMPTZ,
			refresh_expires_at TIMESTAMPTZ,
			raw JSONB,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (account_id, platform)
		)`,
	}
	for _, q := range ddl {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure publish schema: %w", err)
		}
	}

	if _, err := db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_publish_tasks_status_time ON publish_tasks(status, publish_time)`); err != nil {
		logger.GetLogger().WithField("error", err).Warn("failed creating idx_publish_tasks_status_time")
	}
	if _, err := db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_publish_tasks_user ON publish_tasks(user_id, publish_time)`); err != nil {
		logger.GetLogger().WithField("error", err).Warn("failed creating idx_publish_tasks_user")
	}

	checks := []struct {
		table  string
		column string
		ddl    string
	}{
		{"publish_tasks", "retryable", "ALTER TABLE publish_tasks ADD COLUMN retryable BOOLEAN NOT NULL DEFAULT FALSE"},
	}
	for _, c := range checks {
		exists, err := columnExists(ctx, db, c.table, c.column)
		if err != nil {
			return err
		}
		if !exists {
			if _, err := db.ExecContext(ctx, c.ddl); err != nil {
				return fmt.Errorf("adding column %s.%s failed: %w", c.table, c.column, err)
			}
		}
	}
	return nil
}

// EnsureStagedMediaSchema migrates the gorm-managed staged media table.
func EnsureStagedMediaSchema(db *gorm.DB) error {
	return db.AutoMigrate(&model.StagedMedia{})
}

func columnExists(ctx context.Context, db *sql.DB, table, column string) (bool, error) {
	row := db.QueryRowContext(ctx, `SELECT 1 FROM information_schema.columns WHERE table_name=$1 AND column_name=$2`, table, column)
	var one int
	if err := row.Scan(&one); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
