// Package persistence provides database adapters.
package persistence

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"calsync_server/core/port/out"
	"calsync_server/pkg/logger"
)

const credentialColumns = `
	id, subject_type, subject_id, encrypted_access_token, encrypted_refresh_token,
	token_expires_at, calendar_id, sync_enabled, connected_at, last_synced_at, created_at, updated_at`

// updatableCredentialColumns guards the dynamic SET clause.
var updatableCredentialColumns = map[string]bool{
	"encrypted_access_token":  true,
	"encrypted_refresh_token": true,
	"token_expires_at":        true,
	"calendar_id":             true,
	"sync_enabled":            true,
	"last_synced_at":          true,
}

// CredentialAdapter implements out.CredentialRepository using PostgreSQL.
type CredentialAdapter struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewCredentialAdapter creates a new CredentialAdapter.
func NewCredentialAdapter(db *sqlx.DB) *CredentialAdapter {
	return &CredentialAdapter{db: db, now: time.Now}
}

// Upsert inserts the credential or overwrites the one held by the same subject.
// An empty refresh token keeps the stored one; connected_at and calendar_id survive.
func (a *CredentialAdapter) Upsert(ctx context.Context, e *out.CredentialEntity) (*out.CredentialEntity, error) {
	now := a.now().UTC()
	connectedAt := e.ConnectedAt
	if connectedAt.IsZero() {
		connectedAt = now
	}

	query := `
		INSERT INTO calendar_credentials (
			subject_type, subject_id, encrypted_access_token, encrypted_refresh_token,
			token_expires_at, calendar_id, sync_enabled, connected_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, COALESCE(NULLIF($6, ''), 'primary'), true, $7, $8, $8)
		ON CONFLICT (subject_type, subject_id) DO UPDATE SET
			encrypted_access_token  = EXCLUDED.encrypted_access_token,
			encrypted_refresh_token = COALESCE(NULLIF(EXCLUDED.encrypted_refresh_token, ''), calendar_credentials.encrypted_refresh_token),
			token_expires_at        = EXCLUDED.token_expires_at,
			sync_enabled            = true,
			updated_at              = EXCLUDED.updated_at
		RETURNING` + credentialColumns

	var row out.CredentialEntity
	err := a.db.GetContext(ctx, &row, query,
		e.SubjectType, e.SubjectID, e.EncryptedAccessToken, e.EncryptedRefreshToken,
		e.TokenExpiresAt, e.CalendarID, connectedAt, now,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert calendar credential: %w", translate(err))
	}
	return &row, nil
}

// FindBySubject returns ErrNotFound when the subject never connected.
func (a *CredentialAdapter) FindBySubject(ctx context.Context, subjectType string, subjectID int64) (*out.CredentialEntity, error) {
	var row out.CredentialEntity
	query := `SELECT` + credentialColumns + `
		FROM calendar_credentials
		WHERE subject_type = $1 AND subject_id = $2`

	if err := a.db.GetContext(ctx, &row, query, subjectType, subjectID); err != nil {
		return nil, translate(err)
	}
	return &row, nil
}

// UpdateFields writes only the given columns and bumps updated_at.
func (a *CredentialAdapter) UpdateFields(ctx context.Context, id int64, fields map[string]any) (*out.CredentialEntity, error) {
	query, args, err := buildCredentialUpdate(id, fields, a.now().UTC())
	if err != nil {
		return nil, err
	}

	var row out.CredentialEntity
	if err := a.db.GetContext(ctx, &row, query, args...); err != nil {
		return nil, translate(err)
	}
	return &row, nil
}

// DeleteBySubject reports whether a row was removed.
func (a *CredentialAdapter) DeleteBySubject(ctx context.Context, subjectType string, subjectID int64) (bool, error) {
	res, err := a.db.ExecContext(ctx,
		`DELETE FROM calendar_credentials WHERE subject_type = $1 AND subject_id = $2`,
		subjectType, subjectID)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		logger.WithError(err).Warn("[CredentialAdapter.DeleteBySubject] rows affected unavailable")
		return true, nil
	}
	return n > 0, nil
}

// buildCredentialUpdate renders a deterministic UPDATE for the given columns.
func buildCredentialUpdate(id int64, fields map[string]any, now time.Time) (string, []any, error) {
	if len(fields) == 0 {
		return "", nil, fmt.Errorf("%w: no fields to update", ErrInvalidInput)
	}

	cols := make([]string, 0, len(fields))
	for col := range fields {
		if !updatableCredentialColumns[col] {
			return "", nil, fmt.Errorf("%w: column %q is not updatable", ErrInvalidInput, col)
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	sets := make([]string, 0, len(cols)+1)
	args := make([]any, 0, len(cols)+2)
	for i, col := range cols {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, i+1))
		args = append(args, fields[col])
	}
	sets = append(sets, fmt.Sprintf("updated_at = $%d", len(cols)+1))
	args = append(args, now)
	args = append(args, id)

	query := fmt.Sprintf("UPDATE calendar_credentials SET %s WHERE id = $%d RETURNING%s",
		strings.Join(sets, ", "), len(args), credentialColumns)
	return query, args, nil
}

var _ out.CredentialRepository = (*CredentialAdapter)(nil)
