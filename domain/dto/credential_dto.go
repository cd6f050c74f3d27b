package dto

import (
	"encoding/json"
	"time"
)

// CredentialRequest is the body of PUT /api/accounts/:accountId/credentials/:platform.
type CredentialRequest struct {
	AccessToken      string          `json:"access_token" binding:"required"`
	RefreshToken     string          `json:"refresh_token"`
	ExpiresAt        time.Time       `json:"expires_at"`
	RefreshExpiresAt *time.Time      `json:"refresh_expires_at,omitempty"`
	Raw              json.RawMessage `json:"raw,omitempty"`
}

// CredentialStatus never carries token material.
type CredentialStatus struct {
	AccountID string     `json:"account_id"`
	Platform  string     `json:"platform"`
	Linked    bool       `json:"linked"`
	Expired   bool       `json:"expired"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}
