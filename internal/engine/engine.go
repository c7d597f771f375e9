// Package engine orchestrates the detection-to-alert pipeline: classify
// the detection, resolve the automation plan, create the alert and its
// derived entities in one transaction, then emit audit and bus events.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sitewatch/kestrel/internal/audit"
	"github.com/sitewatch/kestrel/internal/automation"
	"github.com/sitewatch/kestrel/internal/domain"
	"github.com/sitewatch/kestrel/internal/repository"
	"github.com/sitewatch/kestrel/internal/rules"
	"github.com/sitewatch/kestrel/internal/templates"
)

// Classification failures map to 4xx at the API layer.
var (
	ErrCameraNotFound    = errors.New("camera not found or inactive")
	ErrAlertTypeNotFound = errors.New("alert type not found or disabled")
)

var tracer = otel.Tracer("kestrel-engine")

// ingestRateWindow is the bucket width for per-camera ingest counters.
const ingestRateWindow = time.Minute

// Engine runs the automation pipeline for one tenant-scoped detection
// at a time. All state lives in the repository; the engine itself is
// safe for concurrent use.
type Engine struct {
	repo      domain.Repository
	templates *templates.Service
	filters   *rules.Engine
	cache     domain.Cache
	bus       domain.EventBus
	audit     *audit.Emitter
	cfg       domain.AutomationConfig
}

// New creates an automation engine. filters, cache and bus may be nil;
// the pipeline then skips filter evaluation, rate accounting and event
// publishing.
func New(repo domain.Repository, tmpl *templates.Service, filters *rules.Engine, cache domain.Cache, bus domain.EventBus, emitter *audit.Emitter, cfg domain.AutomationConfig) *Engine {
	if cfg.ChecklistDueIn <= 0 {
		cfg.ChecklistDueIn = automation.DefaultDueIn
	}
	if cfg.CreateTimeout <= 0 {
		cfg.CreateTimeout = 10 * time.Second
	}
	if cfg.AuditTimeout <= 0 {
		cfg.AuditTimeout = 2 * time.Second
	}
	return &Engine{
		repo:      repo,
		templates: tmpl,
		filters:   filters,
		cache:     cache,
		bus:       bus,
		audit:     emitter,
		cfg:       cfg,
	}
}

// Classify validates a detection and resolves its camera, property and
// alert-type context. Returns ErrCameraNotFound when the camera is
// missing or inactive, ErrAlertTypeNotFound when the alert type is
// missing or disabled.
func (e *Engine) Classify(ctx context.Context, tenantID string, req *domain.DetectionRequest) (*domain.ClassifiedContext, error) {
	if req.CameraID == "" || req.AlertTypeID == "" {
		return nil, fmt.Errorf("%w: camera_id and alert_type_id are required", repository.ErrInvalidInput)
	}
	if req.Confidence < 0 || req.Confidence > 1 {
		return nil, fmt.Errorf("%w: confidence_score must be between 0 and 1", repository.ErrInvalidInput)
	}

	camera, property, err := e.repo.GetCameraContext(ctx, tenantID, req.CameraID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrCameraNotFound
		}
		return nil, fmt.Errorf("classify camera: %w", err)
	}

	alertType, err := e.repo.GetAlertType(ctx, tenantID, req.AlertTypeID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAlertTypeNotFound
		}
		return nil, fmt.Errorf("classify alert type: %w", err)
	}

	return &domain.ClassifiedContext{
		Camera:    camera,
		Property:  property,
		AlertType: alertType,
	}, nil
}

// Ingest runs the full pipeline for one detection: classify, apply
// filter rules, resolve the plan, create the alert bundle atomically,
// then publish and audit. The returned CreatedAlert reflects exactly
// what was committed.
func (e *Engine) Ingest(ctx context.Context, tenantID string, req *domain.DetectionRequest) (*domain.CreatedAlert, error) {
	ctx, span := tracer.Start(ctx, "engine.Ingest",
		trace.WithAttributes(
			attribute.String("camera.id", req.CameraID),
			attribute.String("alert_type.id", req.AlertTypeID),
		),
	)
	defer span.End()

	cls, err := e.Classify(ctx, tenantID, req)
	if err != nil {
		return nil, err
	}

	if e.cache != nil {
		count, err := e.cache.IncrementCounter(ctx, tenantID, "ingest:"+cls.Camera.ID, ingestRateWindow)
		if err != nil {
			slog.Warn("ingest rate accounting failed", "camera_id", cls.Camera.ID, "error", err)
		} else {
			span.SetAttributes(attribute.Int64("camera.ingest_count", count))
		}
	}

	now := time.Now().UTC()
	severity := cls.AlertType.Severity
	suppressed := false
	var matchedRules []string

	if e.filters != nil && e.filters.RulesCount() > 0 {
		outcome := e.filters.Evaluate(ctx, &rules.FilterInput{
			TenantID:      tenantID,
			CameraID:      cls.Camera.ID,
			AlertTypeName: cls.AlertType.Name,
			Severity:      severity,
			Confidence:    req.Confidence,
			Location:      cls.Camera.Location,
			PropertyType:  cls.Property.PropertyType,
			Metadata:      req.Metadata,
		})
		suppressed = outcome.Suppress
		severity = outcome.Severity
		matchedRules = outcome.Matched
	}

	var plan automation.Plan
	if !suppressed {
		plan = automation.Resolve(cls.AlertType, severity, now, e.cfg.ChecklistDueIn)
	}

	bundle, created := e.buildBundle(ctx, tenantID, req, cls, plan, now)

	if suppressed {
		created.Skips = append(created.Skips, "automation suppressed by filter rules")
	}

	span.SetAttributes(
		attribute.String("alert.id", bundle.Alert.ID),
		attribute.String("plan.kind", string(plan.Kind())),
		attribute.Bool("suppressed", suppressed),
	)

	createCtx, cancel := context.WithTimeout(ctx, e.cfg.CreateTimeout)
	defer cancel()

	if err := e.repo.CreateAlertBundle(createCtx, tenantID, bundle); err != nil {
		return nil, fmt.Errorf("create alert bundle: %w", err)
	}

	e.afterCommit(tenantID, cls, bundle, created, matchedRules)

	return created, nil
}

// buildBundle assembles the transactional unit of work from the plan.
// Template binding happens here: a checklist action with no matching
// template degrades to a skip, never an error.
func (e *Engine) buildBundle(ctx context.Context, tenantID string, req *domain.DetectionRequest, cls *domain.ClassifiedContext, plan automation.Plan, now time.Time) (*domain.AlertBundle, *domain.CreatedAlert) {
	metadata := make(map[string]any, len(req.Metadata)+3)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	// Property snapshot, so the alert survives later property edits.
	metadata["property_id"] = cls.Property.ID
	metadata["property_name"] = cls.Property.Name
	metadata["property_type"] = cls.Property.PropertyType

	alert := &domain.Alert{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		CameraID:    cls.Camera.ID,
		AlertTypeID: cls.AlertType.ID,
		Status:      domain.AlertActive,
		Confidence:  req.Confidence,
		Metadata:    metadata,
		CreatedAt:   now,
	}

	bundle := &domain.AlertBundle{Alert: alert}
	created := &domain.CreatedAlert{Alert: alert}

	if plan.Ticket != nil {
		ticket := &domain.ServiceTicket{
			ID:          uuid.New().String(),
			TenantID:    tenantID,
			PropertyID:  cls.Property.ID,
			AlertID:     alert.ID,
			Title:       automation.TicketTitle(cls.AlertType.Name, cls.Camera.Name),
			Description: automation.TicketDescription(cls.Property.Name, cls.Camera.Name, cls.Camera.Location),
			Priority:    plan.Ticket.Priority,
			Status:      domain.TicketOpen,
			CreatedAt:   now,
		}
		bundle.Ticket = ticket
		created.TicketID = ticket.ID
	}

	if plan.Checklist != nil {
		tmpl, err := e.templates.Find(ctx, tenantID, plan.Checklist.Category, cls.Property.PropertyType)
		switch {
		case err == nil:
			checklist := &domain.Checklist{
				ID:         uuid.New().String(),
				TenantID:   tenantID,
				PropertyID: cls.Property.ID,
				TemplateID: tmpl.ID,
				Status:     domain.ChecklistPending,
				DueAt:      plan.Checklist.DueAt,
				CreatedAt:  now,
			}
			link := &domain.ChecklistLink{
				ID:            uuid.New().String(),
				TenantID:      tenantID,
				AlertID:       alert.ID,
				ChecklistID:   checklist.ID,
				AutoGenerated: true,
				TriggerReason: automation.TriggerReason(cls.AlertType.Name),
				CreatedAt:     now,
			}
			bundle.Checklist = checklist
			bundle.Link = link
			created.ChecklistID = checklist.ID
			created.LinkID = link.ID

		case errors.Is(err, repository.ErrNotFound):
			created.Skips = append(created.Skips,
				fmt.Sprintf("no checklist template for category %q and property type %q", plan.Checklist.Category, cls.Property.PropertyType))

		default:
			// Lookup failure degrades to a skip too; the alert and
			// ticket still commit.
			slog.Error("template lookup failed",
				"tenant_id", tenantID,
				"category", plan.Checklist.Category,
				"error", err,
			)
			created.Skips = append(created.Skips,
				fmt.Sprintf("checklist template lookup failed for category %q", plan.Checklist.Category))
		}
	}

	return bundle, created
}

// afterCommit publishes the created event and emits audit records.
// Both are best-effort; the committed transaction is the system of
// record.
func (e *Engine) afterCommit(tenantID string, cls *domain.ClassifiedContext, bundle *domain.AlertBundle, created *domain.CreatedAlert, matchedRules []string) {
	alert := bundle.Alert
	propertyID := cls.Property.ID

	e.audit.Created(tenantID, domain.AuditCategoryAlert, "alert", alert.ID, propertyID,
		cls.AlertType.Name+" alert created from camera "+cls.Camera.Name)

	if bundle.Ticket != nil {
		e.audit.Created(tenantID, domain.AuditCategoryTicket, "service_ticket", bundle.Ticket.ID, propertyID,
			"Service ticket auto-created: "+bundle.Ticket.Title)
	}
	if bundle.Checklist != nil {
		e.audit.Created(tenantID, domain.AuditCategoryChecklist, "checklist", bundle.Checklist.ID, propertyID,
			bundle.Link.TriggerReason)
	}
	for _, skip := range created.Skips {
		e.audit.Skipped(tenantID, domain.AuditCategoryChecklist, "checklist", alert.ID, skip)
	}

	if e.bus == nil {
		return
	}

	payload, err := json.Marshal(created)
	if err != nil {
		slog.Error("failed to marshal alert created event", "alert_id", alert.ID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.AuditTimeout)
	defer cancel()

	if err := e.bus.Publish(ctx, tenantID, domain.TopicAlertCreated, payload); err != nil {
		slog.Error("failed to publish alert created event",
			"alert_id", alert.ID,
			"matched_rules", matchedRules,
			"error", err,
		)
	}
}

// Resolve transitions an active alert to resolved. Resolving an alert
// that is already resolved returns repository.ErrAlertNotActive; a
// missing alert returns repository.ErrNotFound.
func (e *Engine) Resolve(ctx context.Context, tenantID, alertID string, req *domain.ResolveRequest) (*domain.Alert, error) {
	if req.ResolverID == "" {
		return nil, fmt.Errorf("%w: resolver_id is required", repository.ErrInvalidInput)
	}

	alert, err := e.repo.ResolveAlert(ctx, tenantID, alertID, req.ResolverID, req.Notes)
	if err != nil {
		return nil, err
	}

	e.audit.Resolved(tenantID, alert.ID, req.ResolverID)

	if e.bus != nil {
		if payload, err := json.Marshal(alert); err == nil {
			pubCtx, cancel := context.WithTimeout(context.Background(), e.cfg.AuditTimeout)
			defer cancel()
			if err := e.bus.Publish(pubCtx, tenantID, domain.TopicAlertResolved, payload); err != nil {
				slog.Error("failed to publish alert resolved event", "alert_id", alert.ID, "error", err)
			}
		}
	}

	return alert, nil
}

// Stats returns aggregate alert counts, optionally scoped to one
// property.
func (e *Engine) Stats(ctx context.Context, tenantID, propertyID string) (*domain.AlertStats, error) {
	return e.repo.AlertStats(ctx, tenantID, propertyID)
}
