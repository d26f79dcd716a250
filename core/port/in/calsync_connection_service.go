package in

import (
	"context"
	"time"

	"calsync_server/core/domain"
)

// CalendarConnectionService manages a subject's calendar OAuth connection.
type CalendarConnectionService interface {
	// GetAuthURL builds the provider consent URL carrying a signed state.
	GetAuthURL(ctx context.Context, subject domain.Subject) (string, error)

	// HandleOAuthCallback validates state, exchanges code and stores the credential.
	HandleOAuthCallback(ctx context.Context, code, state string) (*domain.ConnectionResult, error)

	// DisconnectCalendar removes the credential. Returns false if none existed.
	DisconnectCalendar(ctx context.Context, subject domain.Subject) (bool, error)

	// SetSyncEnabled pauses or resumes sync without dropping the credential.
	SetSyncEnabled(ctx context.Context, subject domain.Subject, enabled bool) error

	GetConnectionStatus(ctx context.Context, subject domain.Subject) (*domain.ConnectionStatus, error)

	// IsTokenExpired applies the expiry buffer without refreshing.
	IsTokenExpired(expiresAt *time.Time) bool
}
