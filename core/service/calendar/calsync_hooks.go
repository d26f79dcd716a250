package calendar

import (
	"context"

	"calsync_server/core/port/in"
	"calsync_server/pkg/logger"
)

// DomainHooks are called by the host's write paths after the primary change
// is committed. Calendar errors are logged and never returned, so calendar
// availability cannot fail an appointment or session write.
type DomainHooks struct {
	sync in.CalendarSyncService
}

func NewDomainHooks(sync in.CalendarSyncService) *DomainHooks {
	return &DomainHooks{sync: sync}
}

// AppointmentSaved runs after an appointment is created or rescheduled.
func (h *DomainHooks) AppointmentSaved(ctx context.Context, id int64) {
	ctx = context.WithoutCancel(ctx)
	if _, err := h.sync.SyncAppointmentToGoogle(ctx, id); err != nil {
		logger.WithContext(ctx).WithError(err).Warn("[DomainHooks.AppointmentSaved] Calendar sync failed for appointment %d", id)
	}
}

// AppointmentDeleting must run while the row still exists so its event id can be read.
func (h *DomainHooks) AppointmentDeleting(ctx context.Context, id int64) {
	ctx = context.WithoutCancel(ctx)
	if _, err := h.sync.DeleteAppointmentFromGoogle(ctx, id); err != nil {
		logger.WithContext(ctx).WithError(err).Warn("[DomainHooks.AppointmentDeleting] Calendar delete failed for appointment %d", id)
	}
}

func (h *DomainHooks) VideoSessionSaved(ctx context.Context, id int64) {
	ctx = context.WithoutCancel(ctx)
	if _, err := h.sync.SyncVideoSessionToGoogle(ctx, id); err != nil {
		logger.WithContext(ctx).WithError(err).Warn("[DomainHooks.VideoSessionSaved] Calendar sync failed for video session %d", id)
	}
}

func (h *DomainHooks) VideoSessionDeleting(ctx context.Context, id int64) {
	ctx = context.WithoutCancel(ctx)
	if _, err := h.sync.DeleteVideoSessionFromGoogle(ctx, id); err != nil {
		logger.WithContext(ctx).WithError(err).Warn("[DomainHooks.VideoSessionDeleting] Calendar delete failed for video session %d", id)
	}
}
