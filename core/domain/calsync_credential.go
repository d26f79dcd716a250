package domain

import (
	"fmt"
	"time"

	"calsync_server/pkg/crypto"
)

// SubjectType identifies which kind of actor owns a credential.
type SubjectType string

const (
	SubjectUser    SubjectType = "user"
	SubjectPartner SubjectType = "partner"
)

func (t SubjectType) Valid() bool {
	return t == SubjectUser || t == SubjectPartner
}

// Subject is the calendar-owning actor.
type Subject struct {
	Type SubjectType `json:"subject_type"`
	ID   int64       `json:"subject_id"`
}

func (s Subject) String() string {
	return fmt.Sprintf("%s:%d", s.Type, s.ID)
}

const (
	DefaultCalendarID = "primary"

	// TokenExpiryBuffer is how long before expiry an access token is treated as expired.
	TokenExpiryBuffer = 5 * time.Minute
)

// Credential is one encrypted OAuth grant per subject. Token fields are kept
// in their decoded sealed form and are opened only when a live token is needed.
type Credential struct {
	ID             int64
	Subject        Subject
	AccessToken    crypto.Sealed
	RefreshToken   crypto.Sealed
	TokenExpiresAt *time.Time
	CalendarID     string
	SyncEnabled    bool
	ConnectedAt    time.Time
	LastSyncedAt   *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// HasRefreshToken reports whether a refresh token is stored.
func (c *Credential) HasRefreshToken() bool {
	return len(c.RefreshToken.IV) > 0
}

// TokenSet is a plaintext token bundle. It only lives in memory.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
}

// CredentialField names a mutable credential column.
type CredentialField string

const (
	FieldEncryptedAccessToken  CredentialField = "encrypted_access_token"
	FieldEncryptedRefreshToken CredentialField = "encrypted_refresh_token"
	FieldTokenExpiresAt        CredentialField = "token_expires_at"
	FieldCalendarID            CredentialField = "calendar_id"
	FieldSyncEnabled           CredentialField = "sync_enabled"
	FieldLastSyncedAt          CredentialField = "last_synced_at"
)

// MutableCredentialFields is the allow-list for partial credential updates.
// Identity columns (id, subject, connected_at) are intentionally absent.
var MutableCredentialFields = map[CredentialField]bool{
	FieldEncryptedAccessToken:  true,
	FieldEncryptedRefreshToken: true,
	FieldTokenExpiresAt:        true,
	FieldCalendarID:            true,
	FieldSyncEnabled:           true,
	FieldLastSyncedAt:          true,
}

// ConnectionResult is returned after a successful OAuth callback.
type ConnectionResult struct {
	Success     bool        `json:"success"`
	SubjectType SubjectType `json:"subject_type"`
	SubjectID   int64       `json:"subject_id"`
	ConnectedAt time.Time   `json:"connected_at"`
}

// ConnectionStatus describes a subject's calendar connection.
type ConnectionStatus struct {
	Connected      bool       `json:"connected"`
	SyncEnabled    bool       `json:"sync_enabled"`
	CalendarID     string     `json:"calendar_id,omitempty"`
	ConnectedAt    *time.Time `json:"connected_at,omitempty"`
	LastSyncedAt   *time.Time `json:"last_synced_at,omitempty"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`
	TokenExpired   bool       `json:"token_expired"`
}
