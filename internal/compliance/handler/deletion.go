package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fisioflow/fisioflow-backend/internal/compliance/repository"
	"github.com/fisioflow/fisioflow-backend/internal/compliance/service"
	"github.com/fisioflow/fisioflow-backend/pkg/actor"
	apperrors "github.com/fisioflow/fisioflow-backend/pkg/errors"
	"github.com/fisioflow/fisioflow-backend/pkg/httputil"
	"github.com/fisioflow/fisioflow-backend/pkg/i18n"
	"github.com/fisioflow/fisioflow-backend/pkg/logger"
	"github.com/fisioflow/fisioflow-backend/pkg/tenant"
)

// DeletionHandler handles account deletion endpoints
type DeletionHandler struct {
	service *service.DeletionService
	audits  *repository.AuditRepository
	logger  *logger.Logger
}

// NewDeletionHandler creates a new deletion handler
func NewDeletionHandler(svc *service.DeletionService, audits *repository.AuditRepository, log *logger.Logger) *DeletionHandler {
	return &DeletionHandler{
		service: svc,
		audits:  audits,
		logger:  log,
	}
}

// Routes mounts the deletion endpoints
func (h *DeletionHandler) Routes(r chi.Router) {
	r.Post("/account/deletion-request", h.Request)
	r.Get("/account/deletion-request", h.Status)
	r.Delete("/account/deletion-request", h.Cancel)

	r.Route("/admin", func(r chi.Router) {
		r.With(httputil.RequirePermission("compliance.erase")).
			Post("/deletions/execute", h.Execute)
		r.With(httputil.RequirePermission("compliance.audit.read")).
			Get("/audit-logs", h.ListAuditLogs)
	})
}

// Request opens a deletion request for the authenticated user
// POST /account/deletion-request
func (h *DeletionHandler) Request(w http.ResponseWriter, r *http.Request) {
	act := actor.FromContext(r.Context())
	if act == nil {
		httputil.Error(w, apperrors.Unauthenticated("authentication required"))
		return
	}
	tenantID, err := tenant.TenantID(r.Context())
	if err != nil {
		httputil.Error(w, apperrors.Unauthenticated("tenant context required"))
		return
	}

	ip, ua := clientInfo(r)
	req, alreadyScheduled, err := h.service.RequestDeletion(r.Context(), tenantID, act.ID, ip, ua)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", act.ID).Msg("failed to create deletion request")
		httputil.Error(w, err)
		return
	}

	if alreadyScheduled {
		httputil.JSON(w, http.StatusOK, map[string]any{
			"request": req,
			"message": i18n.TFromContext(r.Context(), "deletion.already_pending"),
		})
		return
	}

	httputil.Created(w, map[string]any{
		"request": req,
		"message": i18n.TFromContext(r.Context(), "deletion.requested", map[string]string{
			"date": req.ScheduledDate.Format("02/01/2006"),
		}),
	})
}

// Status returns the authenticated user's latest deletion request
// GET /account/deletion-request
func (h *DeletionHandler) Status(w http.ResponseWriter, r *http.Request) {
	act := actor.FromContext(r.Context())
	if act == nil {
		httputil.Error(w, apperrors.Unauthenticated("authentication required"))
		return
	}
	tenantID, err := tenant.TenantID(r.Context())
	if err != nil {
		httputil.Error(w, apperrors.Unauthenticated("tenant context required"))
		return
	}

	status, err := h.service.GetStatus(r.Context(), tenantID, act.ID)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, status)
}

// Cancel withdraws the authenticated user's pending deletion request
// DELETE /account/deletion-request
func (h *DeletionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	act := actor.FromContext(r.Context())
	if act == nil {
		httputil.Error(w, apperrors.Unauthenticated("authentication required"))
		return
	}
	tenantID, err := tenant.TenantID(r.Context())
	if err != nil {
		httputil.Error(w, apperrors.Unauthenticated("tenant context required"))
		return
	}

	ip, ua := clientInfo(r)
	if err := h.service.CancelDeletion(r.Context(), tenantID, act.ID, ip, ua); err != nil {
		h.logger.Error().Err(err).Str("user_id", act.ID).Msg("failed to cancel deletion request")
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]any{
		"message": i18n.TFromContext(r.Context(), "deletion.cancelled"),
	})
}

type executeDeletionsRequest struct {
	// Single-user mode when set; the grace window is bypassed.
	UserID string `json:"user_id"`
	// Bulk mode: run every due request in the admin's tenant.
	ForceDelete bool `json:"force_delete"`
}

// Execute runs erasures on demand: a named user immediately, or every
// due request in the tenant
// POST /admin/deletions/execute
func (h *DeletionHandler) Execute(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenant.TenantID(r.Context())
	if err != nil {
		httputil.Error(w, apperrors.Unauthenticated("tenant context required"))
		return
	}

	var body executeDeletionsRequest
	if err := httputil.DecodeJSON(r, &body); err != nil {
		httputil.Error(w, err)
		return
	}

	switch {
	case body.UserID != "":
		summary, err := h.service.ExecuteNow(r.Context(), tenantID, body.UserID)
		if err != nil {
			h.logger.Error().Err(err).Str("user_id", body.UserID).Msg("forced erasure failed")
			httputil.Error(w, err)
			return
		}
		httputil.JSON(w, http.StatusOK, map[string]any{
			"deleted_count": 1,
			"summary":       summary,
		})

	case body.ForceDelete:
		executed, err := h.service.RunDue(r.Context(), tenantID)
		if err != nil {
			h.logger.Error().Err(err).Msg("bulk erasure failed")
			httputil.Error(w, err)
			return
		}
		httputil.JSON(w, http.StatusOK, map[string]any{
			"deleted_count": executed,
		})

	default:
		httputil.Error(w, apperrors.InvalidArgument("user_id or force_delete required"))
	}
}

// ListAuditLogs lists the compliance audit trail
// GET /admin/audit-logs
func (h *DeletionHandler) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenant.TenantID(r.Context())
	if err != nil {
		httputil.Error(w, apperrors.Unauthenticated("tenant context required"))
		return
	}

	page := queryInt(r, "page", 1)
	perPage := queryInt(r, "per_page", 20)
	if perPage > 100 {
		perPage = 100
	}
	filter := &repository.AuditFilter{
		UserID: r.URL.Query().Get("user_id"),
		Action: r.URL.Query().Get("action"),
	}

	logs, total, err := h.service.ListAuditLogs(r.Context(), tenantID, filter, page, perPage)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list audit logs")
		httputil.Error(w, err)
		return
	}

	totalPages := int((total + int64(perPage) - 1) / int64(perPage))
	httputil.JSONWithMeta(w, http.StatusOK, logs, &httputil.Meta{
		Page:       page,
		PerPage:    perPage,
		Total:      total,
		TotalPages: totalPages,
	})
}

func clientInfo(r *http.Request) (ip, userAgent *string) {
	if addr := r.Header.Get("X-Forwarded-For"); addr != "" {
		ip = &addr
	} else if r.RemoteAddr != "" {
		addr := r.RemoteAddr
		ip = &addr
	}
	if ua := r.UserAgent(); ua != "" {
		userAgent = &ua
	}
	return ip, userAgent
}

func queryInt(r *http.Request, key string, def int) int {
	if raw := r.URL.Query().Get(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			return v
		}
	}
	return def
}
