// Package credential holds the encrypted per-subject calendar credential store.
package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"calsync_server/core/domain"
	"calsync_server/core/port/out"
	"calsync_server/pkg/apperr"
	"calsync_server/pkg/crypto"
	"calsync_server/pkg/logger"
)

// Tokens is an already-encrypted token bundle handed to Upsert.
type Tokens struct {
	AccessToken  crypto.Sealed
	RefreshToken crypto.Sealed // zero value keeps the stored refresh token
	ExpiresAt    *time.Time
}

// Store wraps the credential repository with the field allow-list and
// sealed-token decoding.
type Store struct {
	repo out.CredentialRepository
	now  func() time.Time
}

func NewStore(repo out.CredentialRepository) *Store {
	return &Store{repo: repo, now: time.Now}
}

// SetClock overrides the time source.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Upsert inserts or overwrites the subject's credential. Re-authorization
// always re-enables sync; connected_at is kept on update.
func (s *Store) Upsert(ctx context.Context, subject domain.Subject, tokens Tokens) (*domain.Credential, error) {
	if !subject.Type.Valid() {
		return nil, apperr.InvalidInput("subject_type", string(subject.Type))
	}
	if len(tokens.AccessToken.IV) == 0 {
		return nil, apperr.MissingField("access_token")
	}

	entity := &out.CredentialEntity{
		SubjectType:          string(subject.Type),
		SubjectID:            subject.ID,
		EncryptedAccessToken: tokens.AccessToken.String(),
		TokenExpiresAt:       tokens.ExpiresAt,
		CalendarID:           domain.DefaultCalendarID,
		SyncEnabled:          true,
		ConnectedAt:          s.now(),
	}
	if len(tokens.RefreshToken.IV) > 0 {
		entity.EncryptedRefreshToken = tokens.RefreshToken.String()
	}

	saved, err := s.repo.Upsert(ctx, entity)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert credential: %w", err)
	}

	logger.Info("[CredentialStore.Upsert] Stored credential id=%d for %s", saved.ID, subject)
	return toDomain(saved)
}

// Find returns nil without error when the subject has no credential.
func (s *Store) Find(ctx context.Context, subject domain.Subject) (*domain.Credential, error) {
	entity, err := s.repo.FindBySubject(ctx, string(subject.Type), subject.ID)
	if err != nil {
		if errors.Is(err, out.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}
	return toDomain(entity)
}

// UpdateFields applies a partial update restricted to MutableCredentialFields.
// Token fields take crypto.Sealed, time fields take time.Time, *time.Time or nil,
// sync_enabled takes bool and calendar_id a non-empty string.
func (s *Store) UpdateFields(ctx context.Context, id int64, fields map[domain.CredentialField]any) (*domain.Credential, error) {
	if len(fields) == 0 {
		return nil, apperr.BadRequest("no credential fields to update")
	}

	columns := make(map[string]any, len(fields))
	for field, value := range fields {
		if !domain.MutableCredentialFields[field] {
			return nil, apperr.InvalidInput(string(field), "not an updatable credential field")
		}
		v, err := columnValue(field, value)
		if err != nil {
			return nil, err
		}
		columns[string(field)] = v
	}

	entity, err := s.repo.UpdateFields(ctx, id, columns)
	if err != nil {
		if errors.Is(err, out.ErrNotFound) {
			return nil, apperr.NotFound("credential")
		}
		return nil, fmt.Errorf("failed to update credential: %w", err)
	}
	return toDomain(entity)
}

// Delete fully disconnects the subject. Deleting a missing credential returns false.
func (s *Store) Delete(ctx context.Context, subject domain.Subject) (bool, error) {
	deleted, err := s.repo.DeleteBySubject(ctx, string(subject.Type), subject.ID)
	if err != nil {
		return false, fmt.Errorf("failed to delete credential: %w", err)
	}
	return deleted, nil
}

// IsExpired reports whether a token must be refreshed before use.
func (s *Store) IsExpired(expiresAt *time.Time) bool {
	return IsExpiredAt(expiresAt, s.now())
}

// IsExpiredAt is true when expiresAt is unknown or within TokenExpiryBuffer of now.
func IsExpiredAt(expiresAt *time.Time, now time.Time) bool {
	if expiresAt == nil || expiresAt.IsZero() {
		return true
	}
	return !now.Before(expiresAt.Add(-domain.TokenExpiryBuffer))
}

func columnValue(field domain.CredentialField, value any) (any, error) {
	switch field {
	case domain.FieldEncryptedAccessToken, domain.FieldEncryptedRefreshToken:
		sealed, ok := value.(crypto.Sealed)
		if !ok || len(sealed.IV) == 0 {
			return nil, apperr.InvalidInput(string(field), "expected sealed token")
		}
		return sealed.String(), nil

	case domain.FieldTokenExpiresAt, domain.FieldLastSyncedAt:
		switch t := value.(type) {
		case nil:
			return nil, nil
		case time.Time:
			return t, nil
		case *time.Time:
			if t == nil {
				return nil, nil
			}
			return *t, nil
		}
		return nil, apperr.InvalidInput(string(field), "expected timestamp")

	case domain.FieldSyncEnabled:
		b, ok := value.(bool)
		if !ok {
			return nil, apperr.InvalidInput(string(field), "expected bool")
		}
		return b, nil

	case domain.FieldCalendarID:
		id, ok := value.(string)
		if !ok || id == "" {
			return nil, apperr.InvalidInput(string(field), "expected non-empty string")
		}
		return id, nil
	}
	return nil, apperr.InvalidInput(string(field), "not an updatable credential field")
}

func toDomain(e *out.CredentialEntity) (*domain.Credential, error) {
	access, err := crypto.ParseSealed(e.EncryptedAccessToken)
	if err != nil {
		return nil, apperr.TamperedCiphertext(err).WithDetail("credential_id", e.ID)
	}

	var refresh crypto.Sealed
	if e.EncryptedRefreshToken != "" {
		refresh, err = crypto.ParseSealed(e.EncryptedRefreshToken)
		if err != nil {
			return nil, apperr.TamperedCiphertext(err).WithDetail("credential_id", e.ID)
		}
	}

	calendarID := e.CalendarID
	if calendarID == "" {
		calendarID = domain.DefaultCalendarID
	}

	return &domain.Credential{
		ID: e.ID,
		Subject: domain.Subject{
			Type: domain.SubjectType(e.SubjectType),
			ID:   e.SubjectID,
		},
		AccessToken:    access,
		RefreshToken:   refresh,
		TokenExpiresAt: e.TokenExpiresAt,
		CalendarID:     calendarID,
		SyncEnabled:    e.SyncEnabled,
		ConnectedAt:    e.ConnectedAt,
		LastSyncedAt:   e.LastSyncedAt,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}, nil
}
