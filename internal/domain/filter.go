package domain

import (
	"time"
)

// FilterRule is a tenant-configurable CEL expression evaluated against a
// detection before the automation plan is resolved. A matching suppress
// rule still records the alert but forces the plan to no-action; a
// matching escalate rule raises the severity used for planning only.
type FilterRule struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	Name     string `json:"name"`

	// CEL expression over camera_id, alert_type, severity, confidence,
	// location and metadata; must return bool.
	Expression string `json:"expression"`

	Action   FilterAction `json:"action"`
	Severity Severity     `json:"severity,omitempty"` // target severity for escalate rules

	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// GlobalTenant marks a filter rule that applies to every tenant's
// detections. Regular rules only ever see their own tenant's traffic.
const GlobalTenant = "*"

// FilterAction is the effect of a matching filter rule.
type FilterAction string

// Filter actions.
const (
	FilterSuppress FilterAction = "suppress"
	FilterEscalate FilterAction = "escalate"
)
