package out

import (
	"context"
	"time"

	"calsync_server/core/domain"
)

// SyncStatusUpdate is a field-level write of an entity's sync columns.
// EventID is only written when non-nil; ClearEventID nulls it.
type SyncStatusUpdate struct {
	Status       domain.SyncStatus
	EventID      *string
	ClearEventID bool
	Error        *string
	SyncedAt     time.Time
}

// AppointmentRepository is the read/sync-status port onto the host's appointments.
type AppointmentRepository interface {
	FindByID(ctx context.Context, id int64) (*domain.Appointment, error)
	UpdateSyncStatus(ctx context.Context, id int64, update SyncStatusUpdate) error
}

// VideoSessionRepository is the read/sync-status port onto the host's video sessions.
type VideoSessionRepository interface {
	FindByID(ctx context.Context, id int64) (*domain.VideoSession, error)
	UpdateSyncStatus(ctx context.Context, id int64, update SyncStatusUpdate) error
}
