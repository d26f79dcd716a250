package in

import (
	"context"

	"calsync_server/core/domain"
)

// CalendarSyncService projects appointments and video sessions onto the remote calendar.
// A NotConnected result is not an error.
type CalendarSyncService interface {
	SyncAppointmentToGoogle(ctx context.Context, id int64) (*domain.SyncResult, error)
	SyncVideoSessionToGoogle(ctx context.Context, id int64) (*domain.SyncResult, error)
	DeleteAppointmentFromGoogle(ctx context.Context, id int64) (*domain.SyncResult, error)
	DeleteVideoSessionFromGoogle(ctx context.Context, id int64) (*domain.SyncResult, error)
}
