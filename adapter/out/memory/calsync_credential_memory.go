// Package memory provides in-process implementations of the outbound ports.
// They back tests and single-instance deployments without Redis.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"calsync_server/core/port/out"
)

type subjectKey struct {
	typ string
	id  int64
}

// CredentialRepository is an in-memory out.CredentialRepository with the same
// upsert semantics as the SQL adapter.
type CredentialRepository struct {
	mu     sync.Mutex
	nextID int64
	rows   map[subjectKey]*out.CredentialEntity
	Now    func() time.Time

	UpdateCalls int
}

func NewCredentialRepository() *CredentialRepository {
	return &CredentialRepository{
		rows: make(map[subjectKey]*out.CredentialEntity),
		Now:  time.Now,
	}
}

func (r *CredentialRepository) Upsert(ctx context.Context, e *out.CredentialEntity) (*out.CredentialEntity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.Now()
	key := subjectKey{e.SubjectType, e.SubjectID}
	if existing, ok := r.rows[key]; ok {
		existing.EncryptedAccessToken = e.EncryptedAccessToken
		if e.EncryptedRefreshToken != "" {
			existing.EncryptedRefreshToken = e.EncryptedRefreshToken
		}
		existing.TokenExpiresAt = e.TokenExpiresAt
		existing.SyncEnabled = true
		existing.UpdatedAt = now
		return clone(existing), nil
	}

	r.nextID++
	row := clone(e)
	row.ID = r.nextID
	row.SyncEnabled = true
	if row.CalendarID == "" {
		row.CalendarID = "primary"
	}
	row.CreatedAt = now
	row.UpdatedAt = now
	r.rows[key] = row
	return clone(row), nil
}

func (r *CredentialRepository) FindBySubject(ctx context.Context, subjectType string, subjectID int64) (*out.CredentialEntity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[subjectKey{subjectType, subjectID}]
	if !ok {
		return nil, out.ErrNotFound
	}
	return clone(row), nil
}

func (r *CredentialRepository) UpdateFields(ctx context.Context, id int64, fields map[string]any) (*out.CredentialEntity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.UpdateCalls++

	for _, row := range r.rows {
		if row.ID != id {
			continue
		}
		for col, v := range fields {
			if err := setColumn(row, col, v); err != nil {
				return nil, err
			}
		}
		row.UpdatedAt = r.Now()
		return clone(row), nil
	}
	return nil, out.ErrNotFound
}

func (r *CredentialRepository) DeleteBySubject(ctx context.Context, subjectType string, subjectID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := subjectKey{subjectType, subjectID}
	if _, ok := r.rows[key]; !ok {
		return false, nil
	}
	delete(r.rows, key)
	return true, nil
}

// Put stores a row as-is. Test helper.
func (r *CredentialRepository) Put(e *out.CredentialEntity) *out.CredentialEntity {
	r.mu.Lock()
	defer r.mu.Unlock()

	row := clone(e)
	if row.ID == 0 {
		r.nextID++
		row.ID = r.nextID
	}
	r.rows[subjectKey{row.SubjectType, row.SubjectID}] = row
	return clone(row)
}

func setColumn(row *out.CredentialEntity, col string, v any) error {
	timePtr := func(v any) *time.Time {
		if t, ok := v.(time.Time); ok {
			return &t
		}
		return nil
	}

	switch col {
	case "encrypted_access_token":
		row.EncryptedAccessToken, _ = v.(string)
	case "encrypted_refresh_token":
		row.EncryptedRefreshToken, _ = v.(string)
	case "token_expires_at":
		row.TokenExpiresAt = timePtr(v)
	case "calendar_id":
		row.CalendarID, _ = v.(string)
	case "sync_enabled":
		row.SyncEnabled, _ = v.(bool)
	case "last_synced_at":
		row.LastSyncedAt = timePtr(v)
	default:
		return fmt.Errorf("unknown credential column %q", col)
	}
	return nil
}

func clone(e *out.CredentialEntity) *out.CredentialEntity {
	c := *e
	return &c
}
