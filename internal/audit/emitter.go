// Package audit emits structured audit events for engine actions.
// Emission is best-effort: a failed emit is logged and dropped, it never
// blocks or fails the business write that produced it.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sitewatch/kestrel/internal/domain"
)

// Emitter publishes audit events to the event bus.
type Emitter struct {
	bus     domain.EventBus
	timeout time.Duration
}

// NewEmitter creates an audit emitter. timeout bounds each emission;
// zero means 2 seconds.
func NewEmitter(bus domain.EventBus, timeout time.Duration) *Emitter {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Emitter{
		bus:     bus,
		timeout: timeout,
	}
}

// Emit publishes one audit event. The event is stamped with an ID and
// timestamp if missing. Emission runs on a detached context so it
// survives cancellation of the request that triggered it.
func (e *Emitter) Emit(tenantID string, event *domain.AuditEvent) {
	if e == nil || e.bus == nil {
		return
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	event.TenantID = tenantID

	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal audit event",
			"category", event.Category,
			"entity_id", event.EntityID,
			"error", err,
		)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	if err := e.bus.Publish(ctx, tenantID, domain.TopicAudit, payload); err != nil {
		slog.Error("failed to publish audit event",
			"category", event.Category,
			"action", event.Action,
			"entity_id", event.EntityID,
			"error", err,
		)
	}
}

// Created emits a creation audit event for an entity.
func (e *Emitter) Created(tenantID, category, entityType, entityID, propertyID, description string) {
	e.Emit(tenantID, &domain.AuditEvent{
		Category:    category,
		Action:      domain.AuditActionCreated,
		PropertyID:  propertyID,
		EntityType:  entityType,
		EntityID:    entityID,
		Description: description,
	})
}

// Resolved emits a resolution audit event for an alert.
func (e *Emitter) Resolved(tenantID, alertID, resolverID string) {
	e.Emit(tenantID, &domain.AuditEvent{
		Category:    domain.AuditCategoryAlert,
		Action:      domain.AuditActionResolved,
		EntityType:  "alert",
		EntityID:    alertID,
		Description: "Alert resolved by " + resolverID,
	})
}

// Skipped emits an audit event for an automation step the engine
// deliberately did not take.
func (e *Emitter) Skipped(tenantID, category, entityType, relatedID, reason string) {
	e.Emit(tenantID, &domain.AuditEvent{
		Category:    category,
		Action:      domain.AuditActionSkipped,
		EntityType:  entityType,
		EntityID:    relatedID,
		Description: reason,
	})
}
