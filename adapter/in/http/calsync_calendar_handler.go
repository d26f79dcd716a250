package http

import (
	"context"
	"net/url"

	"github.com/gofiber/fiber/v2"

	"calsync_server/core/domain"
	"calsync_server/core/port/in"
	"calsync_server/infra/middleware"
	"calsync_server/pkg/apperr"
	"calsync_server/pkg/logger"
	"calsync_server/pkg/metrics"
	"calsync_server/pkg/response"
)

type CalendarHandler struct {
	connections in.CalendarConnectionService
	sync        in.CalendarSyncService
	metrics     *metrics.CalendarMetrics
	poolStats   func() map[string]any
	frontendURL string
}

func NewCalendarHandler(connections in.CalendarConnectionService, sync in.CalendarSyncService, m *metrics.CalendarMetrics, frontendURL string) *CalendarHandler {
	return &CalendarHandler{
		connections: connections,
		sync:        sync,
		metrics:     m,
		frontendURL: frontendURL,
	}
}

// SetPoolStats adds database pool figures to the metrics endpoint.
func (h *CalendarHandler) SetPoolStats(stats func() map[string]any) {
	h.poolStats = stats
}

// Register mounts the calendar routes. auth guards everything except the
// provider callback, which is guarded by callback instead.
func (h *CalendarHandler) Register(app fiber.Router, auth fiber.Handler, callback ...fiber.Handler) {
	cal := app.Group("/calendar")

	cal.Get("/google/callback", append(callback, h.Callback)...)

	cal.Get("/google/connect", auth, h.Connect)
	cal.Get("/google/status", auth, h.Status)
	cal.Patch("/google/sync", auth, h.SetSyncEnabled)
	cal.Delete("/google", auth, h.Disconnect)
	cal.Post("/google/appointments/:id/sync", auth, h.SyncAppointment)
	cal.Post("/google/video-sessions/:id/sync", auth, h.SyncVideoSession)
	cal.Get("/metrics", auth, h.Metrics)
}

func (h *CalendarHandler) ctx(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if reqID, ok := c.Locals(middleware.LocalRequestID).(string); ok {
		ctx = context.WithValue(ctx, logger.RequestIDKey, reqID)
	}
	if subject, ok := middleware.SubjectFrom(c); ok {
		ctx = context.WithValue(ctx, logger.SubjectKey, subject.String())
	}
	return ctx
}

// =============================================================================
// Connection
// =============================================================================

func (h *CalendarHandler) Connect(c *fiber.Ctx) error {
	subject, err := GetSubject(c)
	if err != nil {
		return err
	}

	authURL, err := h.connections.GetAuthURL(h.ctx(c), subject)
	if err != nil {
		return err
	}

	logger.Info("[CalendarHandler.Connect] Issued auth URL for %s", subject)
	return response.OK(c, fiber.Map{"auth_url": authURL})
}

// Callback completes the consent flow. The browser lands here, so outcomes
// are redirects to the frontend when one is configured.
func (h *CalendarHandler) Callback(c *fiber.Ctx) error {
	if providerErr := c.Query("error"); providerErr != "" {
		logger.Warn("[CalendarHandler.Callback] Provider returned error: %s", providerErr)
		declined := apperr.New(apperr.CodeOAuthFailed, "authorization was not granted", fiber.StatusBadRequest)
		return h.callbackFailed(c, declined.WithDetail("provider_error", providerErr))
	}

	result, err := h.connections.HandleOAuthCallback(h.ctx(c), c.Query("code"), c.Query("state"))
	if err != nil {
		return h.callbackFailed(c, err)
	}

	if h.frontendURL == "" {
		return response.OK(c, result)
	}
	target, err := withQuery(h.frontendURL, url.Values{"status": {"connected"}})
	if err != nil {
		return apperr.InternalWithError(err)
	}
	return c.Redirect(target, fiber.StatusFound)
}

func (h *CalendarHandler) callbackFailed(c *fiber.Ctx, err error) error {
	if h.frontendURL == "" {
		return err
	}

	code := apperr.AsAppError(err).Code
	logger.WithError(err).Warn("[CalendarHandler.Callback] Connection failed: %s", code)

	target, uerr := withQuery(h.frontendURL, url.Values{"error": {code}})
	if uerr != nil {
		return apperr.InternalWithError(uerr)
	}
	return c.Redirect(target, fiber.StatusFound)
}

func (h *CalendarHandler) Status(c *fiber.Ctx) error {
	subject, err := GetSubject(c)
	if err != nil {
		return err
	}

	status, err := h.connections.GetConnectionStatus(h.ctx(c), subject)
	if err != nil {
		return err
	}
	return response.OK(c, status)
}

type setSyncRequest struct {
	Enabled *bool `json:"enabled"`
}

func (h *CalendarHandler) SetSyncEnabled(c *fiber.Ctx) error {
	subject, err := GetSubject(c)
	if err != nil {
		return err
	}

	var req setSyncRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	if req.Enabled == nil {
		return apperr.MissingField("enabled")
	}

	if err := h.connections.SetSyncEnabled(h.ctx(c), subject, *req.Enabled); err != nil {
		return err
	}
	return response.OK(c, fiber.Map{"sync_enabled": *req.Enabled})
}

func (h *CalendarHandler) Disconnect(c *fiber.Ctx) error {
	subject, err := GetSubject(c)
	if err != nil {
		return err
	}

	removed, err := h.connections.DisconnectCalendar(h.ctx(c), subject)
	if err != nil {
		return err
	}
	return response.OK(c, fiber.Map{"disconnected": removed})
}

// =============================================================================
// Manual resync
// =============================================================================

func (h *CalendarHandler) SyncAppointment(c *fiber.Ctx) error {
	return h.resync(c, h.sync.SyncAppointmentToGoogle)
}

func (h *CalendarHandler) SyncVideoSession(c *fiber.Ctx) error {
	return h.resync(c, h.sync.SyncVideoSessionToGoogle)
}

func (h *CalendarHandler) resync(c *fiber.Ctx, run func(context.Context, int64) (*domain.SyncResult, error)) error {
	if _, err := GetPartner(c); err != nil {
		return err
	}
	id, err := GetIDParam(c, "id")
	if err != nil {
		return err
	}

	result, err := run(h.ctx(c), id)
	if err != nil {
		return err
	}
	if result.NotConnected {
		return response.Accepted(c, result)
	}
	return response.OK(c, result)
}

func (h *CalendarHandler) Metrics(c *fiber.Ctx) error {
	if h.metrics == nil {
		return response.OK(c, fiber.Map{})
	}
	snapshot := h.metrics.Snapshot()
	if h.poolStats != nil {
		snapshot["db_pool"] = h.poolStats()
	}
	return response.OK(c, snapshot)
}
