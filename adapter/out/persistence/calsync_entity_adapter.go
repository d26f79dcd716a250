package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"calsync_server/core/domain"
	"calsync_server/core/port/out"
)

// SyncColumns is the projection shared by both syncable tables.
type SyncColumns struct {
	GoogleEventID      *string    `db:"google_event_id"`
	GoogleSyncStatus   string     `db:"google_sync_status"`
	GoogleLastSyncedAt *time.Time `db:"google_last_synced_at"`
	GoogleSyncError    *string    `db:"google_sync_error"`
}

func (c SyncColumns) toDomain() domain.SyncState {
	status := domain.SyncStatus(c.GoogleSyncStatus)
	if status == "" {
		status = domain.SyncStatusNotSynced
	}
	return domain.SyncState{
		Status:       status,
		EventID:      c.GoogleEventID,
		LastSyncedAt: c.GoogleLastSyncedAt,
		Error:        c.GoogleSyncError,
	}
}

// updateSyncStatus writes the sync columns of table. The event id is only
// touched when the update carries one or asks for it to be cleared.
func updateSyncStatus(ctx context.Context, db *sqlx.DB, table string, id int64, u out.SyncStatusUpdate) error {
	query := fmt.Sprintf(`
		UPDATE %s SET
			google_sync_status    = $1,
			google_event_id       = CASE WHEN $2::boolean THEN NULL ELSE COALESCE($3::text, google_event_id) END,
			google_last_synced_at = $4,
			google_sync_error     = $5
		WHERE id = $6`, table)

	res, err := db.ExecContext(ctx, query,
		string(u.Status), u.ClearEventID, u.EventID, u.SyncedAt, u.Error, id)
	if err != nil {
		return fmt.Errorf("update %s sync status: %w", table, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// =============================================================================
// Appointments
// =============================================================================

type appointmentRow struct {
	ID        int64     `db:"id"`
	PartnerID int64     `db:"partner_id"`
	UserID    *int64    `db:"user_id"`
	Title     string    `db:"title"`
	StartTime time.Time `db:"start_time"`
	EndTime   time.Time `db:"end_time"`
	TimeZone  string    `db:"time_zone"`
	Location  *string   `db:"location"`
	Notes     *string   `db:"notes"`
	SyncColumns
}

// AppointmentAdapter implements out.AppointmentRepository using PostgreSQL.
type AppointmentAdapter struct {
	db *sqlx.DB
}

// NewAppointmentAdapter creates a new AppointmentAdapter.
func NewAppointmentAdapter(db *sqlx.DB) *AppointmentAdapter {
	return &AppointmentAdapter{db: db}
}

func (a *AppointmentAdapter) FindByID(ctx context.Context, id int64) (*domain.Appointment, error) {
	var row appointmentRow
	query := `
		SELECT id, partner_id, user_id, COALESCE(title, '') AS title, start_time, end_time,
		       COALESCE(time_zone, '') AS time_zone, location, notes,
		       google_event_id, google_sync_status, google_last_synced_at, google_sync_error
		FROM appointments
		WHERE id = $1`

	if err := a.db.GetContext(ctx, &row, query, id); err != nil {
		return nil, translate(err)
	}

	return &domain.Appointment{
		ID:        row.ID,
		PartnerID: row.PartnerID,
		UserID:    row.UserID,
		Title:     row.Title,
		StartTime: row.StartTime,
		EndTime:   row.EndTime,
		TimeZone:  row.TimeZone,
		Location:  row.Location,
		Notes:     row.Notes,
		Sync:      row.SyncColumns.toDomain(),
	}, nil
}

func (a *AppointmentAdapter) UpdateSyncStatus(ctx context.Context, id int64, u out.SyncStatusUpdate) error {
	return updateSyncStatus(ctx, a.db, "appointments", id, u)
}

// =============================================================================
// Video sessions
// =============================================================================

type videoSessionRow struct {
	ID              int64     `db:"id"`
	PartnerID       int64     `db:"partner_id"`
	UserID          *int64    `db:"user_id"`
	Title           string    `db:"title"`
	StartTime       time.Time `db:"start_time"`
	EndTime         time.Time `db:"end_time"`
	TimeZone        string    `db:"time_zone"`
	Notes           *string   `db:"notes"`
	MeetingRoomID   *string   `db:"meeting_room_id"`
	JoinURL         *string   `db:"join_url"`
	PasswordEnabled bool      `db:"password_enabled"`
	SyncColumns
}

// VideoSessionAdapter implements out.VideoSessionRepository using PostgreSQL.
type VideoSessionAdapter struct {
	db *sqlx.DB
}

// NewVideoSessionAdapter creates a new VideoSessionAdapter.
func NewVideoSessionAdapter(db *sqlx.DB) *VideoSessionAdapter {
	return &VideoSessionAdapter{db: db}
}

func (a *VideoSessionAdapter) FindByID(ctx context.Context, id int64) (*domain.VideoSession, error) {
	var row videoSessionRow
	query := `
		SELECT id, partner_id, user_id, COALESCE(title, '') AS title, start_time, end_time,
		       COALESCE(time_zone, '') AS time_zone, notes, meeting_room_id, join_url,
		       password_enabled,
		       google_event_id, google_sync_status, google_last_synced_at, google_sync_error
		FROM video_sessions
		WHERE id = $1`

	if err := a.db.GetContext(ctx, &row, query, id); err != nil {
		return nil, translate(err)
	}

	return &domain.VideoSession{
		ID:              row.ID,
		PartnerID:       row.PartnerID,
		UserID:          row.UserID,
		Title:           row.Title,
		StartTime:       row.StartTime,
		EndTime:         row.EndTime,
		TimeZone:        row.TimeZone,
		Notes:           row.Notes,
		MeetingRoomID:   row.MeetingRoomID,
		JoinURL:         row.JoinURL,
		PasswordEnabled: row.PasswordEnabled,
		Sync:            row.SyncColumns.toDomain(),
	}, nil
}

func (a *VideoSessionAdapter) UpdateSyncStatus(ctx context.Context, id int64, u out.SyncStatusUpdate) error {
	return updateSyncStatus(ctx, a.db, "video_sessions", id, u)
}

var (
	_ out.AppointmentRepository  = (*AppointmentAdapter)(nil)
	_ out.VideoSessionRepository = (*VideoSessionAdapter)(nil)
)
