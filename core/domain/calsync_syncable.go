package domain

import "time"

// SyncStatus is the per-entity remote calendar state.
type SyncStatus string

const (
	SyncStatusNotSynced SyncStatus = "not_synced"
	SyncStatusSynced    SyncStatus = "synced"
	SyncStatusFailed    SyncStatus = "failed"
)

// EntityKind distinguishes the two syncable entity types.
type EntityKind string

const (
	KindAppointment  EntityKind = "appointment"
	KindVideoSession EntityKind = "video_session"
)

// SyncState is the sync projection stored alongside an entity.
type SyncState struct {
	Status       SyncStatus `json:"google_sync_status"`
	EventID      *string    `json:"google_event_id,omitempty"`
	LastSyncedAt *time.Time `json:"google_last_synced_at,omitempty"`
	Error        *string    `json:"google_sync_error,omitempty"`
}

// HasEvent reports whether a remote event is already mapped.
func (s SyncState) HasEvent() bool {
	return s.EventID != nil && *s.EventID != ""
}

// Appointment is the sync-relevant projection of a scheduled appointment.
type Appointment struct {
	ID        int64
	PartnerID int64
	UserID    *int64
	Title     string
	StartTime time.Time
	EndTime   time.Time
	TimeZone  string
	Location  *string
	Notes     *string
	Sync      SyncState
}

// VideoSession is the sync-relevant projection of a video session.
type VideoSession struct {
	ID              int64
	PartnerID       int64
	UserID          *int64
	Title           string
	StartTime       time.Time
	EndTime         time.Time
	TimeZone        string
	Notes           *string
	MeetingRoomID   *string
	JoinURL         *string
	PasswordEnabled bool
	Sync            SyncState
}

// SyncableEntity is implemented by anything projected onto the remote calendar.
type SyncableEntity interface {
	Kind() EntityKind
	EntityID() int64
	OwnerPartnerID() int64
	SyncState() SyncState
}

func (a *Appointment) Kind() EntityKind      { return KindAppointment }
func (a *Appointment) EntityID() int64       { return a.ID }
func (a *Appointment) OwnerPartnerID() int64 { return a.PartnerID }
func (a *Appointment) SyncState() SyncState  { return a.Sync }

func (v *VideoSession) Kind() EntityKind      { return KindVideoSession }
func (v *VideoSession) EntityID() int64       { return v.ID }
func (v *VideoSession) OwnerPartnerID() int64 { return v.PartnerID }
func (v *VideoSession) SyncState() SyncState  { return v.Sync }

// SyncAction is what a sync attempt did remotely.
type SyncAction string

const (
	SyncActionCreated SyncAction = "created"
	SyncActionUpdated SyncAction = "updated"
	SyncActionDeleted SyncAction = "deleted"
	SyncActionSkipped SyncAction = "skipped"
)

// SyncResult is the outcome of a sync or delete call. NotConnected is a
// successful outcome meaning the subject has no usable credential.
type SyncResult struct {
	Kind         EntityKind `json:"kind"`
	EntityID     int64      `json:"entity_id"`
	Status       SyncStatus `json:"status"`
	Action       SyncAction `json:"action"`
	EventID      string     `json:"event_id,omitempty"`
	NotConnected bool       `json:"not_connected"`
}

const NotConnectedReason = "not connected"
