package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sitewatch/kestrel/internal/domain"
	"github.com/sitewatch/kestrel/internal/engine"
	"github.com/sitewatch/kestrel/internal/repository"
	"github.com/sitewatch/kestrel/internal/rules"
	"github.com/sitewatch/kestrel/internal/templates"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	engine    *engine.Engine
	filters   *rules.Engine
	templates *templates.Service
	version   string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, eng *engine.Engine, filters *rules.Engine, tmpl *templates.Service, version string) *Handler {
	return &Handler{
		repo:      repo,
		cache:     cache,
		engine:    eng,
		filters:   filters,
		templates: tmpl,
		version:   version,
	}
}

// DetectionResponse is the response for POST /detections.
type DetectionResponse struct {
	AlertID     string   `json:"alertId"`
	Status      string   `json:"status"`
	TicketID    string   `json:"ticketId,omitempty"`
	ChecklistID string   `json:"checklistId,omitempty"`
	LinkID      string   `json:"linkId,omitempty"`
	Skips       []string `json:"skips,omitempty"`
	Metadata    struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// Ingest handles POST /detections.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	var req domain.DetectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	created, err := h.engine.Ingest(ctx, tenantID, &req)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	resp := DetectionResponse{
		AlertID:     created.Alert.ID,
		Status:      created.Alert.Status,
		TicketID:    created.TicketID,
		ChecklistID: created.ChecklistID,
		LinkID:      created.LinkID,
		Skips:       created.Skips,
	}
	resp.Metadata.TraceID = traceID
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusCreated, resp)
}

// GetAlert handles GET /alerts/{id}.
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	alertID := chi.URLParam(r, "id")

	alert, err := h.repo.GetAlert(ctx, tenantID, alertID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "alert not found",
			})
			return
		}
		slog.Error("failed to get alert", "id", alertID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get alert",
		})
		return
	}

	writeJSON(w, http.StatusOK, alert)
}

// ListAlerts handles GET /alerts with optional property_id, status and
// limit query parameters.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	filter := domain.AlertFilter{
		PropertyID: r.URL.Query().Get("property_id"),
		Status:     r.URL.Query().Get("status"),
	}

	if filter.Status != "" && filter.Status != domain.AlertActive && filter.Status != domain.AlertResolved {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "status must be 'active' or 'resolved'",
		})
		return
	}

	alerts, err := h.repo.ListAlerts(ctx, tenantID, filter)
	if err != nil {
		slog.Error("failed to list alerts", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list alerts",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// ResolveAlert handles POST /alerts/{id}/resolve.
func (h *Handler) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	alertID := chi.URLParam(r, "id")

	var req domain.ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	alert, err := h.engine.Resolve(ctx, tenantID, alertID, &req)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, alert)
}

// Stats handles GET /stats with an optional property_id query parameter.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	propertyID := r.URL.Query().Get("property_id")

	stats, err := h.engine.Stats(ctx, tenantID, propertyID)
	if err != nil {
		slog.Error("failed to compute stats", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to compute stats",
		})
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// ListAlertTypes handles GET /alert-types.
func (h *Handler) ListAlertTypes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	types, err := h.repo.ListAlertTypes(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list alert types", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list alert types",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alertTypes": types,
		"count":      len(types),
	})
}

// CreateAlertTypeRequest is the request body for creating an alert type.
type CreateAlertTypeRequest struct {
	ID                  string `json:"id,omitempty"`
	Name                string `json:"name"`
	Severity            string `json:"severity"`
	AutoCreateTicket    bool   `json:"autoCreateTicket"`
	AutoCreateChecklist bool   `json:"autoCreateChecklist"`
	Enabled             bool   `json:"enabled"`
}

// CreateAlertType handles POST /alert-types.
func (h *Handler) CreateAlertType(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req CreateAlertTypeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "name is required",
		})
		return
	}

	severity, err := domain.ParseSeverity(req.Severity)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "severity must be one of: low, medium, high, critical",
		})
		return
	}

	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	at := &domain.AlertType{
		ID:                  req.ID,
		TenantID:            tenantID,
		Name:                req.Name,
		Severity:            severity,
		AutoCreateTicket:    req.AutoCreateTicket,
		AutoCreateChecklist: req.AutoCreateChecklist,
		Enabled:             req.Enabled,
	}

	if err := h.repo.SaveAlertType(ctx, tenantID, at); err != nil {
		slog.Error("failed to save alert type", "id", at.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save alert type",
		})
		return
	}

	slog.Info("alert type created", "id", at.ID, "name", at.Name, "tenant_id", tenantID)
	writeJSON(w, http.StatusCreated, at)
}

// ListTemplates handles GET /templates.
func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	list, err := h.repo.ListTemplates(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list templates", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list templates",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"templates": list,
		"count":     len(list),
	})
}

// CreateTemplateRequest is the request body for creating a checklist template.
type CreateTemplateRequest struct {
	ID            string   `json:"id,omitempty"`
	Name          string   `json:"name"`
	Category      string   `json:"category"`
	PropertyTypes []string `json:"propertyTypes"`
	Enabled       bool     `json:"enabled"`
}

// CreateTemplate handles POST /templates.
func (h *Handler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req CreateTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.Name == "" || req.Category == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "name and category are required",
		})
		return
	}

	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	tmpl := &domain.ChecklistTemplate{
		ID:            req.ID,
		TenantID:      tenantID,
		Name:          req.Name,
		Category:      req.Category,
		PropertyTypes: req.PropertyTypes,
		Enabled:       req.Enabled,
	}

	if err := h.templates.Save(ctx, tenantID, tmpl); err != nil {
		slog.Error("failed to save template", "id", tmpl.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save template",
		})
		return
	}

	slog.Info("template created", "id", tmpl.ID, "category", tmpl.Category, "tenant_id", tenantID)
	writeJSON(w, http.StatusCreated, tmpl)
}

// ListFilterRules returns the filter rules currently loaded in the engine.
func (h *Handler) ListFilterRules(w http.ResponseWriter, r *http.Request) {
	tenantID := GetTenantID(r.Context())
	loaded := h.filters.GetLoadedRules(tenantID)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": loaded,
		"count": len(loaded),
	})
}

// CreateFilterRuleRequest is the request body for creating a filter rule.
type CreateFilterRuleRequest struct {
	ID         string `json:"id,omitempty"`
	Name       string `json:"name"`
	Expression string `json:"expression"`
	Action     string `json:"action"`
	Severity   string `json:"severity,omitempty"`
	Enabled    bool   `json:"enabled"`
}

// CreateFilterRule validates, persists and hot-loads a filter rule.
func (h *Handler) CreateFilterRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req CreateFilterRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "name and expression are required",
		})
		return
	}

	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	rule := &domain.FilterRule{
		ID:         req.ID,
		TenantID:   tenantID,
		Name:       req.Name,
		Expression: req.Expression,
		Action:     domain.FilterAction(req.Action),
		Severity:   domain.Severity(req.Severity),
		Enabled:    req.Enabled,
	}

	// Compile first so invalid CEL never reaches the database.
	if err := h.filters.ValidateRule(rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid filter rule: " + err.Error(),
		})
		return
	}

	if err := h.repo.SaveFilterRule(ctx, tenantID, rule); err != nil {
		slog.Error("failed to save filter rule", "id", rule.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save filter rule",
		})
		return
	}

	if rule.Enabled {
		if err := h.filters.LoadRule(rule); err != nil {
			slog.Error("failed to load filter rule", "id", rule.ID, "error", err)
		}
	}

	slog.Info("filter rule created", "id", rule.ID, "action", rule.Action, "tenant_id", tenantID)
	writeJSON(w, http.StatusCreated, rule)
}

// ReloadFilterRules reloads the calling tenant's filter rules from the
// database into the engine, leaving other tenants' rules in place. This
// enables hot-reloading without server restart.
func (h *Handler) ReloadFilterRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	dbRules, err := h.repo.ListFilterRules(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list filter rules from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load filter rules from database",
		})
		return
	}

	if err := h.filters.ReloadRules(tenantID, dbRules); err != nil {
		slog.Error("failed to reload filter rules into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload filter rules: " + err.Error(),
		})
		return
	}

	slog.Info("filter rules reloaded from database", "count", len(dbRules), "tenant_id", tenantID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "filter rules reloaded successfully",
		"count":   len(dbRules),
	})
}

// CreatePropertyRequest is the request body for provisioning a property.
type CreatePropertyRequest struct {
	ID           string `json:"id,omitempty"`
	Name         string `json:"name"`
	Address      string `json:"address,omitempty"`
	PropertyType string `json:"propertyType"`
}

// CreateProperty handles POST /properties.
func (h *Handler) CreateProperty(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req CreatePropertyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.Name == "" || req.PropertyType == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "name and propertyType are required",
		})
		return
	}

	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	p := &domain.Property{
		ID:           req.ID,
		TenantID:     tenantID,
		Name:         req.Name,
		Address:      req.Address,
		PropertyType: req.PropertyType,
	}

	if err := h.repo.SaveProperty(ctx, tenantID, p); err != nil {
		slog.Error("failed to save property", "id", p.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save property",
		})
		return
	}

	writeJSON(w, http.StatusCreated, p)
}

// CreateCameraRequest is the request body for provisioning a camera.
type CreateCameraRequest struct {
	ID         string `json:"id,omitempty"`
	PropertyID string `json:"propertyId"`
	Name       string `json:"name"`
	Location   string `json:"location,omitempty"`
	Status     string `json:"status,omitempty"`
}

// CreateCamera handles POST /cameras.
func (h *Handler) CreateCamera(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req CreateCameraRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.PropertyID == "" || req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "propertyId and name are required",
		})
		return
	}

	// The camera's property must exist in the same tenant.
	if _, err := h.repo.GetProperty(ctx, tenantID, req.PropertyID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
				"error": "property not found",
			})
			return
		}
		slog.Error("failed to check property", "id", req.PropertyID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to check property",
		})
		return
	}

	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.Status == "" {
		req.Status = domain.CameraActive
	}

	c := &domain.Camera{
		ID:         req.ID,
		TenantID:   tenantID,
		PropertyID: req.PropertyID,
		Name:       req.Name,
		Location:   req.Location,
		Status:     req.Status,
	}

	if err := h.repo.SaveCamera(ctx, tenantID, c); err != nil {
		slog.Error("failed to save camera", "id", c.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save camera",
		})
		return
	}

	writeJSON(w, http.StatusCreated, c)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// writeEngineError maps pipeline errors to HTTP statuses: invalid input
// 400, unknown references 422/404, already-resolved 409, everything
// else 500.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, engine.ErrCameraNotFound), errors.Is(err, engine.ErrAlertTypeNotFound):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	case errors.Is(err, repository.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "alert not found"})
	case errors.Is(err, repository.ErrAlertNotActive):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "alert is not active"})
	default:
		slog.Error("pipeline error", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
