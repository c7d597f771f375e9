package domain

import (
	"time"
)

// AuditEvent describes one action the engine took, for compliance review.
// Emission is best-effort and never blocks or fails the business write.
type AuditEvent struct {
	ID          string            `json:"id"`
	TenantID    string            `json:"tenantId"`
	Category    string            `json:"category"` // "video_alert", "service_ticket", "checklist"
	Action      string            `json:"action"`   // "created", "resolved", "skipped"
	PropertyID  string            `json:"propertyId,omitempty"`
	EntityType  string            `json:"entityType"`
	EntityID    string            `json:"entityId"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// Audit categories.
const (
	AuditCategoryAlert     = "video_alert"
	AuditCategoryTicket    = "service_ticket"
	AuditCategoryChecklist = "checklist"
)

// Audit actions.
const (
	AuditActionCreated  = "created"
	AuditActionResolved = "resolved"
	AuditActionSkipped  = "skipped"
)
