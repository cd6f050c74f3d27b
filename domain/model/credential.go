package model

import (
	"encoding/json"
	"time"
)

// OAuth2Credential is one platform's authorization material for one account.
type OAuth2Credential struct {
	AccountID        string          `json:"account_id"`
	Platform         string          `json:"platform"`
	AccessToken      string          `json:"access_token"`
	RefreshToken     string          `json:"refresh_token"`
	ExpiresAt        time.Time       `json:"expires_at"`
	RefreshExpiresAt *time.Time      `json:"refresh_expires_at,omitempty"`
	Raw              json.RawMessage `json:"raw,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func (c *OAuth2Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// RawString returns a top level string field of the raw provider payload.
func (c *OAuth2Credential) RawString(key string) string {
	if len(c.Raw) == 0 {
		return ""
	}
	var m map[string]interface{}
	if err := json.Unmarshal(c.Raw, &m); err != nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
