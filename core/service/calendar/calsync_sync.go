package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"calsync_server/core/domain"
	"calsync_server/core/port/in"
	"calsync_server/core/port/out"
	"calsync_server/core/service/credential"
	"calsync_server/pkg/apperr"
	"calsync_server/pkg/crypto"
	"calsync_server/pkg/logger"
	"calsync_server/pkg/metrics"
)

var _ in.CalendarSyncService = (*SyncService)(nil)

// ReconnectMessage is recorded on an entity when the stored grant can no longer be refreshed.
const ReconnectMessage = "Google Calendar access expired or was revoked. Please reconnect your calendar."

// TokenSource yields a live access token for a credential.
type TokenSource interface {
	Token(ctx context.Context, cred *domain.Credential) (*oauth2.Token, error)
}

// OwnerPolicy picks whose credential an entity syncs through.
type OwnerPolicy func(entity domain.SyncableEntity) domain.Subject

// ResolveSyncOwner is the default policy: the partner is the calendar owner of record.
func ResolveSyncOwner(entity domain.SyncableEntity) domain.Subject {
	return domain.Subject{Type: domain.SubjectPartner, ID: entity.OwnerPartnerID()}
}

// SyncService projects appointments and video sessions onto the owner's
// remote calendar and records per-entity sync status.
type SyncService struct {
	appointments  out.AppointmentRepository
	videoSessions out.VideoSessionRepository
	store         *credential.Store
	tokens        TokenSource
	events        out.CalendarEventPort
	formatter     *EventFormatter
	resolveOwner  OwnerPolicy
	metrics       *metrics.CalendarMetrics
	now           func() time.Time
}

// NewSyncService creates a new calendar sync service.
func NewSyncService(
	appointments out.AppointmentRepository,
	videoSessions out.VideoSessionRepository,
	store *credential.Store,
	tokens TokenSource,
	events out.CalendarEventPort,
	formatter *EventFormatter,
	m *metrics.CalendarMetrics,
) *SyncService {
	if m == nil {
		m = metrics.NewCalendarMetrics()
	}
	return &SyncService{
		appointments:  appointments,
		videoSessions: videoSessions,
		store:         store,
		tokens:        tokens,
		events:        events,
		formatter:     formatter,
		resolveOwner:  ResolveSyncOwner,
		metrics:       m,
		now:           time.Now,
	}
}

// SetOwnerPolicy replaces ResolveSyncOwner.
func (s *SyncService) SetOwnerPolicy(p OwnerPolicy) {
	s.resolveOwner = p
}

// SetClock overrides the time source.
func (s *SyncService) SetClock(now func() time.Time) {
	s.now = now
}

// target binds an entity to its repository's status writer.
type target struct {
	entity domain.SyncableEntity
	write  func(ctx context.Context, u out.SyncStatusUpdate) error
}

// =============================================================================
// Entrypoints
// =============================================================================

func (s *SyncService) SyncAppointmentToGoogle(ctx context.Context, id int64) (*domain.SyncResult, error) {
	t, err := s.appointmentTarget(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.sync(ctx, t)
}

func (s *SyncService) SyncVideoSessionToGoogle(ctx context.Context, id int64) (*domain.SyncResult, error) {
	t, err := s.videoSessionTarget(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.sync(ctx, t)
}

func (s *SyncService) DeleteAppointmentFromGoogle(ctx context.Context, id int64) (*domain.SyncResult, error) {
	t, err := s.appointmentTarget(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.delete(ctx, t)
}

func (s *SyncService) DeleteVideoSessionFromGoogle(ctx context.Context, id int64) (*domain.SyncResult, error) {
	t, err := s.videoSessionTarget(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.delete(ctx, t)
}

func (s *SyncService) appointmentTarget(ctx context.Context, id int64) (*target, error) {
	a, err := s.appointments.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, out.ErrNotFound) {
			return nil, apperr.NotFound("appointment")
		}
		return nil, fmt.Errorf("failed to load appointment %d: %w", id, err)
	}
	return &target{
		entity: a,
		write: func(ctx context.Context, u out.SyncStatusUpdate) error {
			return s.appointments.UpdateSyncStatus(ctx, id, u)
		},
	}, nil
}

func (s *SyncService) videoSessionTarget(ctx context.Context, id int64) (*target, error) {
	v, err := s.videoSessions.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, out.ErrNotFound) {
			return nil, apperr.NotFound("video session")
		}
		return nil, fmt.Errorf("failed to load video session %d: %w", id, err)
	}
	return &target{
		entity: v,
		write: func(ctx context.Context, u out.SyncStatusUpdate) error {
			return s.videoSessions.UpdateSyncStatus(ctx, id, u)
		},
	}, nil
}

// =============================================================================
// Sync
// =============================================================================

func (s *SyncService) sync(ctx context.Context, t *target) (*domain.SyncResult, error) {
	kind, id := t.entity.Kind(), t.entity.EntityID()
	log := logger.WithContext(ctx).WithFields(map[string]any{"kind": kind, "entity_id": id})

	cred, err := s.store.Find(ctx, s.resolveOwner(t.entity))
	if err != nil {
		if crypto.IsIntegrityError(err) {
			s.markFailed(ctx, t, "stored calendar credential failed integrity check")
		}
		return nil, err
	}

	if cred == nil || !cred.SyncEnabled {
		reason := domain.NotConnectedReason
		s.record(ctx, t, out.SyncStatusUpdate{
			Status:   domain.SyncStatusNotSynced,
			Error:    &reason,
			SyncedAt: s.now(),
		})
		s.metrics.Outcomes.Inc(metrics.OutcomeNotConnected)
		log.Debug("[SyncService.sync] Owner not connected, skipping")
		return &domain.SyncResult{
			Kind:         kind,
			EntityID:     id,
			Status:       domain.SyncStatusNotSynced,
			Action:       domain.SyncActionSkipped,
			NotConnected: true,
		}, nil
	}

	token, err := s.tokens.Token(ctx, cred)
	if err != nil {
		switch {
		case apperr.HasCode(err, apperr.CodeReauthRequired):
			s.markFailed(ctx, t, ReconnectMessage)
		case crypto.IsIntegrityError(err):
			s.markFailed(ctx, t, "stored calendar credential failed integrity check")
		default:
			s.markFailed(ctx, t, err.Error())
		}
		return nil, err
	}

	event := s.formatter.Format(t.entity)
	state := t.entity.SyncState()

	var (
		eventID string
		action  domain.SyncAction
	)
	if state.HasEvent() {
		eventID, action = *state.EventID, domain.SyncActionUpdated
		err = s.events.UpdateEvent(ctx, token, cred.CalendarID, eventID, event)
		if errors.Is(err, out.ErrEventNotFound) {
			// removed on the calendar side; recreate rather than fail forever
			log.Warn("[SyncService.sync] Event %s gone remotely, recreating", eventID)
			action = domain.SyncActionCreated
			eventID, err = s.events.InsertEvent(ctx, token, cred.CalendarID, event)
		}
	} else {
		action = domain.SyncActionCreated
		eventID, err = s.events.InsertEvent(ctx, token, cred.CalendarID, event)
	}

	if err != nil {
		s.markFailed(ctx, t, err.Error())
		s.metrics.Outcomes.Inc(metrics.OutcomeFailed)
		log.WithError(err).Warn("[SyncService.sync] Remote %s failed", action)
		return nil, apperr.CalendarSyncFailed(err).WithDetail("kind", kind).WithDetail("entity_id", id)
	}

	now := s.now()
	if err := t.write(ctx, out.SyncStatusUpdate{
		Status:   domain.SyncStatusSynced,
		EventID:  &eventID,
		SyncedAt: now,
	}); err != nil {
		log.WithError(err).Error("[SyncService.sync] Remote event %s saved but status write failed", eventID)
		return nil, apperr.DatabaseError("update sync status", err)
	}

	if _, err := s.store.UpdateFields(ctx, cred.ID, map[domain.CredentialField]any{
		domain.FieldLastSyncedAt: now,
	}); err != nil {
		log.WithError(err).Warn("[SyncService.sync] Failed to touch credential last_synced_at")
	}

	if action == domain.SyncActionCreated {
		s.metrics.Outcomes.Inc(metrics.OutcomeCreated)
	} else {
		s.metrics.Outcomes.Inc(metrics.OutcomeUpdated)
	}
	log.Info("[SyncService.sync] Event %s %s", eventID, action)

	return &domain.SyncResult{
		Kind:     kind,
		EntityID: id,
		Status:   domain.SyncStatusSynced,
		Action:   action,
		EventID:  eventID,
	}, nil
}

// =============================================================================
// Delete
// =============================================================================

func (s *SyncService) delete(ctx context.Context, t *target) (*domain.SyncResult, error) {
	kind, id := t.entity.Kind(), t.entity.EntityID()
	state := t.entity.SyncState()

	skipped := &domain.SyncResult{
		Kind:     kind,
		EntityID: id,
		Status:   state.Status,
		Action:   domain.SyncActionSkipped,
	}
	if !state.HasEvent() {
		return skipped, nil
	}

	cred, err := s.store.Find(ctx, s.resolveOwner(t.entity))
	if err != nil {
		return nil, err
	}
	if cred == nil || !cred.SyncEnabled {
		skipped.NotConnected = true
		return skipped, nil
	}

	token, err := s.tokens.Token(ctx, cred)
	if err != nil {
		return nil, err
	}

	eventID := *state.EventID
	err = s.events.DeleteEvent(ctx, token, cred.CalendarID, eventID)
	switch {
	case errors.Is(err, out.ErrEventNotFound):
		logger.Debug("[SyncService.delete] Event %s already gone", eventID)
	case err != nil:
		s.metrics.Outcomes.Inc(metrics.OutcomeFailed)
		return nil, apperr.CalendarSyncFailed(err).WithDetail("kind", kind).WithDetail("entity_id", id)
	}

	// the row may already be gone when called from a delete path
	if err := t.write(ctx, out.SyncStatusUpdate{
		Status:       domain.SyncStatusNotSynced,
		ClearEventID: true,
		SyncedAt:     s.now(),
	}); err != nil && !errors.Is(err, out.ErrNotFound) {
		logger.WithError(err).Warn("[SyncService.delete] Failed to clear event id for %s %d", kind, id)
	}

	s.metrics.Outcomes.Inc(metrics.OutcomeDeleted)
	return &domain.SyncResult{
		Kind:     kind,
		EntityID: id,
		Status:   domain.SyncStatusNotSynced,
		Action:   domain.SyncActionDeleted,
		EventID:  eventID,
	}, nil
}

// =============================================================================
// Status writes
// =============================================================================

func (s *SyncService) markFailed(ctx context.Context, t *target, msg string) {
	s.record(ctx, t, out.SyncStatusUpdate{
		Status:   domain.SyncStatusFailed,
		Error:    &msg,
		SyncedAt: s.now(),
	})
}

// record writes status and logs on failure; status writes never mask the sync outcome.
func (s *SyncService) record(ctx context.Context, t *target, u out.SyncStatusUpdate) {
	if err := t.write(ctx, u); err != nil {
		logger.WithError(err).Warn("[SyncService.record] Failed to write %s status for %s %d",
			u.Status, t.entity.Kind(), t.entity.EntityID())
	}
}
