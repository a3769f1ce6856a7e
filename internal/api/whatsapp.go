package api

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/skip2/go-qrcode"
	"github.com/talkincode/toughwa/internal/auth"
	"github.com/talkincode/toughwa/internal/campaign"
	"github.com/talkincode/toughwa/internal/domain"
	"github.com/talkincode/toughwa/internal/store"
	"github.com/talkincode/toughwa/internal/whatsapp"
	"go.uber.org/zap"
)

const liveness = "WhatsApp marketing API is running!"

// Handler serves the /whatsapp endpoints.
type Handler struct {
	registry    *whatsapp.Registry
	dispatcher  *campaign.Dispatcher
	sessions    store.SessionRepository
	oprlogs     store.OprLogRepository
	initTimeout time.Duration
}

func NewHandler(registry *whatsapp.Registry, dispatcher *campaign.Dispatcher, sessions store.SessionRepository, oprlogs store.OprLogRepository, initTimeout time.Duration) *Handler {
	return &Handler{
		registry:    registry,
		dispatcher:  dispatcher,
		sessions:    sessions,
		oprlogs:     oprlogs,
		initTimeout: initTimeout,
	}
}

// Register mounts the routes, guarding /whatsapp with authMW.
func (h *Handler) Register(e *echo.Echo, authMW echo.MiddlewareFunc) {
	e.GET("/", func(c echo.Context) error {
		return c.String(http.StatusOK, liveness)
	})
	g := e.Group("/whatsapp", authMW)
	g.GET("/status", h.getStatus)
	g.POST("/initialize", h.postInitialize)
	g.POST("/disconnect", h.postDisconnect)
	g.POST("/send-campaign", h.postSendCampaign)
	g.POST("/cancel-campaign", h.postCancelCampaign)
	g.GET("/campaign", h.getCampaign)
}

func (h *Handler) oprlog(c echo.Context, action, desc string) {
	if h.oprlogs == nil {
		return
	}
	err := h.oprlogs.Create(c.Request().Context(), &domain.SysOprLog{
		OprName:   auth.TenantID(c),
		OprIp:     c.RealIP(),
		OptAction: action,
		OptDesc:   desc,
	})
	if err != nil {
		zap.L().Warn("api: write operation log failed", zap.String("action", action), zap.Error(err))
	}
}

// getStatus reports whether the tenant's client is connected right now.
func (h *Handler) getStatus(c echo.Context) error {
	tenantID := auth.TenantID(c)
	ctx := c.Request().Context()
	if s, found := h.registry.Get(tenantID); found {
		if err := s.CheckReady(ctx); err == nil {
			return ok(c, http.StatusOK, echo.Map{"status": "connected", "phone": s.Snapshot().Phone})
		}
	}

	row, err := h.sessions.GetByUser(ctx, tenantID)
	if err != nil {
		zap.L().Warn("api: query persisted session failed", zap.String("tenant", tenantID), zap.Error(err))
	}
	if row != nil && row.Status == domain.SessionReady {
		return ok(c, http.StatusOK, echo.Map{
			"status":  "disconnected",
			"message": "Session exists but needs to be restarted.",
		})
	}
	return ok(c, http.StatusOK, echo.Map{"status": "disconnected"})
}

// postInitialize creates or reuses the tenant's session and waits for it to
// either present a QR challenge or become ready.
func (h *Handler) postInitialize(c echo.Context) error {
	tenantID := auth.TenantID(c)
	s, created, err := h.registry.Create(c.Request().Context(), tenantID)
	if err != nil {
		zap.L().Error("api: create session failed", zap.String("tenant", tenantID), zap.Error(err))
		return fail(c, http.StatusInternalServerError, "SESSION_CREATE_FAILED", "Unable to create WhatsApp session", err.Error())
	}
	if created {
		h.oprlog(c, domain.OprInitialize, "session created")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), h.initTimeout)
	defer cancel()
	snap, err := s.Await(ctx)
	switch {
	case err == nil && snap.State == whatsapp.StateReady:
		return ok(c, http.StatusOK, echo.Map{"status": "connected", "message": "Client is already connected."})
	case err == nil:
		resp := echo.Map{"status": "qr_ready", "qr_code": snap.QR}
		if png, perr := qrcode.Encode(snap.QR, qrcode.Medium, 256); perr == nil {
			resp["qr_image"] = "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
		} else {
			zap.L().Warn("api: render qr image failed", zap.String("tenant", tenantID), zap.Error(perr))
		}
		return ok(c, http.StatusOK, resp)
	case errors.Is(err, whatsapp.ErrSessionClosed):
		return fail(c, http.StatusBadGateway, "AUTH_FAILED", "WhatsApp authentication failed", snap.Reason)
	default:
		zap.L().Warn("api: initialize timed out", zap.String("tenant", tenantID), zap.String("state", snap.State.String()))
		return fail(c, http.StatusGatewayTimeout, "INIT_TIMEOUT", "Timeout: QR code was not generated.", nil)
	}
}

// postDisconnect logs the tenant out and forgets the session.
func (h *Handler) postDisconnect(c echo.Context) error {
	tenantID := auth.TenantID(c)
	ctx := c.Request().Context()
	if !h.registry.Disconnect(ctx, tenantID) {
		return c.JSON(http.StatusNotFound, echo.Map{"success": false, "error": "No active session found for this user."})
	}
	if err := h.sessions.UpsertStatus(ctx, tenantID, domain.SessionDisconnected, ""); err != nil {
		zap.L().Warn("api: persist disconnected status failed", zap.String("tenant", tenantID), zap.Error(err))
	}
	h.oprlog(c, domain.OprDisconnect, "session disconnected")
	return ok(c, http.StatusOK, echo.Map{"success": true, "message": "Session disconnected."})
}

// postSendCampaign starts a campaign in the background and answers 202.
func (h *Handler) postSendCampaign(c echo.Context) error {
	tenantID := auth.TenantID(c)
	var req campaign.Request
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Incomplete campaign data.", err.Error())
	}
	if err := req.Validate(); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Incomplete campaign data.", err.Error())
	}

	s, found := h.registry.Get(tenantID)
	if !found {
		return fail(c, http.StatusNotFound, "SESSION_NOT_FOUND", "WhatsApp session not found.", nil)
	}

	task, err := h.dispatcher.Start(c.Request().Context(), s, req)
	var invalid *campaign.InvalidRequestError
	switch {
	case err == nil:
	case errors.As(err, &invalid):
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Incomplete campaign data.", err.Error())
	case errors.Is(err, campaign.ErrNotReady):
		return fail(c, http.StatusConflict, "NOT_CONNECTED", "WhatsApp client is not connected.", nil)
	case errors.Is(err, campaign.ErrCampaignRunning):
		return fail(c, http.StatusConflict, "CAMPAIGN_RUNNING", "A campaign is already running for this account.", nil)
	case errors.Is(err, campaign.ErrBusy):
		return fail(c, http.StatusServiceUnavailable, "BUSY", "Too many campaigns running, try again later.", nil)
	default:
		zap.L().Error("api: start campaign failed", zap.String("tenant", tenantID), zap.Error(err))
		return fail(c, http.StatusInternalServerError, "CAMPAIGN_START_FAILED", "Unable to start campaign", err.Error())
	}

	h.oprlog(c, domain.OprSendCampaign, fmt.Sprintf("campaign %s, %d contacts", req.CampaignID, len(req.Contacts)))
	return ok(c, http.StatusAccepted, echo.Map{
		"success":    true,
		"message":    "Campaign dispatch started.",
		"campaignId": req.CampaignID,
		"taskId":     task.ID,
	})
}

func (h *Handler) postCancelCampaign(c echo.Context) error {
	task, found := h.dispatcher.Cancel(auth.TenantID(c))
	if !found {
		return fail(c, http.StatusNotFound, "CAMPAIGN_NOT_FOUND", "No running campaign.", nil)
	}
	h.oprlog(c, domain.OprCancelCampaign, "campaign "+task.CampaignID)
	return ok(c, http.StatusOK, echo.Map{"success": true, "campaignId": task.CampaignID})
}

func (h *Handler) getCampaign(c echo.Context) error {
	task, found := h.dispatcher.Running(auth.TenantID(c))
	if !found {
		return fail(c, http.StatusNotFound, "CAMPAIGN_NOT_FOUND", "No running campaign.", nil)
	}
	return ok(c, http.StatusOK, task.Progress())
}
