package domain

import (
	"time"
)

// ChecklistTemplate is a reusable inspection procedure definition,
// scoped to one or more property types via a many-to-many association.
type ChecklistTemplate struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenantId"`
	Name          string    `json:"name"`
	Category      string    `json:"category"`
	PropertyTypes []string  `json:"propertyTypes"`
	Enabled       bool      `json:"enabled"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Checklist is an inspection instance created from a template. Engine-
// created checklists start pending with no assignee; assignment and
// approval are owned by other workflows.
type Checklist struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenantId"`
	PropertyID string    `json:"propertyId"`
	TemplateID string    `json:"templateId"`
	Assignee   string    `json:"assignee,omitempty"`
	Status     string    `json:"status"`
	DueAt      time.Time `json:"dueAt"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Checklist status values.
const (
	ChecklistPending    = "pending"
	ChecklistInProgress = "in_progress"
	ChecklistCompleted  = "completed"
	ChecklistApproved   = "approved"
	ChecklistRejected   = "rejected"
)

// ChecklistLink ties an engine-created checklist back to the alert that
// caused it. At most one link row exists per alert; the trigger reason
// is the human-readable audit trail.
type ChecklistLink struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenantId"`
	AlertID       string    `json:"alertId"`
	ChecklistID   string    `json:"checklistId"`
	AutoGenerated bool      `json:"autoGenerated"`
	TriggerReason string    `json:"triggerReason"`
	CreatedAt     time.Time `json:"createdAt"`
}
