package out

import (
	"context"
	"time"
)

// CredentialRepository defines the outbound port for calendar credential persistence.
type CredentialRepository interface {
	// Upsert inserts or overwrites the credential for entity's subject.
	// An empty refresh token keeps the stored one.
	Upsert(ctx context.Context, entity *CredentialEntity) (*CredentialEntity, error)

	// FindBySubject returns ErrNotFound when the subject has no credential.
	FindBySubject(ctx context.Context, subjectType string, subjectID int64) (*CredentialEntity, error)

	// UpdateFields writes only the given columns. Column names must already be validated.
	UpdateFields(ctx context.Context, id int64, fields map[string]any) (*CredentialEntity, error)

	// DeleteBySubject reports whether a row was removed.
	DeleteBySubject(ctx context.Context, subjectType string, subjectID int64) (bool, error)
}

// CredentialEntity represents a calendar credential in persistence.
type CredentialEntity struct {
	ID                    int64      `db:"id"`
	SubjectType           string     `db:"subject_type"`
	SubjectID             int64      `db:"subject_id"`
	EncryptedAccessToken  string     `db:"encrypted_access_token"`
	EncryptedRefreshToken string     `db:"encrypted_refresh_token"`
	TokenExpiresAt        *time.Time `db:"token_expires_at"`
	CalendarID            string     `db:"calendar_id"`
	SyncEnabled           bool       `db:"sync_enabled"`
	ConnectedAt           time.Time  `db:"connected_at"`
	LastSyncedAt          *time.Time `db:"last_synced_at"`
	CreatedAt             time.Time  `db:"created_at"`
	UpdatedAt             time.Time  `db:"updated_at"`
}
