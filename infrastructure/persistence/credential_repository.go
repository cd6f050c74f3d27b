package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"crosspost/domain/model"
	"crosspost/domain/repository"
)

const (
	upsertCredentialQuery = `INSERT INTO oauth_credentials (account_id, platform, access_token, refresh_token, expires_at, refresh_expires_at, raw, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (account_id, platform) DO UPDATE SET
			access_token=EXCLUDED.access_token,
			refresh_token=EXCLUDED.refresh_token,
			expires_at=EXCLUDED.expires_at,
			refresh_expires_at=EXCLUDED.refresh_expires_at,
			raw=EXCLUDED.raw,
			updated_at=EXCLUDED.updated_at`
	getCredentialQuery = `SELECT account_id, platform, access_token, refresh_token, expires_at, refresh_expires_at, raw, created_at, updated_at
		FROM oauth_credentials WHERE account_id=$1 AND platform=$2`
	deleteCredentialQuery = `DELETE FROM oauth_credentials WHERE account_id=$1 AND platform=$2`
)

// CredentialRepository is the persisted credential store.
type CredentialRepository struct{ db *sql.DB }

func NewCredentialRepository(db *sql.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

var _ repository.ICredential = (*CredentialRepository)(nil)

func (r *CredentialRepository) Upsert(ctx context.Context, c *model.OAuth2Credential) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	var expiresAt sql.NullTime
	if !c.ExpiresAt.IsZero() {
		expiresAt = sql.NullTime{Time: c.ExpiresAt.UTC(), Valid: true}
	}
	var refreshExpiresAt sql.NullTime
	if c.RefreshExpiresAt != nil {
		refreshExpiresAt = sql.NullTime{Time: c.RefreshExpiresAt.UTC(), Valid: true}
	}
	_, err := r.db.ExecContext(ctx, upsertCredentialQuery,
		c.AccountID, c.Platform, c.AccessToken, c.RefreshToken, expiresAt, refreshExpiresAt, nullJSON(c.Raw), c.CreatedAt, c.UpdatedAt)
	return err
}

func (r *CredentialRepository) Get(ctx context.Context, accountID, platform string) (*model.OAuth2Credential, error) {
	row := r.db.QueryRowContext(ctx, getCredentialQuery, accountID, platform)
	c := &model.OAuth2Credential{}
	var (
		exp, refreshExp sql.NullTime
		raw             []byte
	)
	if err := row.Scan(&c.AccountID, &c.Platform, &c.AccessToken, &c.RefreshToken, &exp, &refreshExp, &raw, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	if exp.Valid {
		c.ExpiresAt = exp.Time
	}
	if refreshExp.Valid {
		v := refreshExp.Time
		c.RefreshExpiresAt = &v
	}
	if len(raw) > 0 {
		c.Raw = json.RawMessage(raw)
	}
	return c, nil
}

func (r *CredentialRepository) Delete(ctx context.Context, accountID, platform string) error {
	_, err := r.db.ExecContext(ctx, deleteCredentialQuery, accountID, platform)
	return err
}
