package domain

import (
	"time"
)

// Alert is a persisted record of a camera detection event.
// An alert is immutable except for the resolution fields, which
// transition exactly once (active -> resolved).
type Alert struct {
	ID          string         `json:"id"`
	TenantID    string         `json:"tenantId"`
	CameraID    string         `json:"cameraId"`
	AlertTypeID string         `json:"alertTypeId"`
	Status      string         `json:"status"` // "active" or "resolved"
	Confidence  float64        `json:"confidence"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`

	// Resolution fields, set once on transition to resolved
	ResolvedAt      *time.Time `json:"resolvedAt,omitempty"`
	ResolvedBy      string     `json:"resolvedBy,omitempty"`
	ResolutionNotes string     `json:"resolutionNotes,omitempty"`
}

// Alert status values.
const (
	AlertActive   = "active"
	AlertResolved = "resolved"
)

// DetectionRequest is the inbound payload from a detection producer.
type DetectionRequest struct {
	CameraID    string         `json:"camera_id"`
	AlertTypeID string         `json:"alert_type_id"`
	Confidence  float64        `json:"confidence_score,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ResolveRequest asks the engine to resolve an active alert.
type ResolveRequest struct {
	ResolverID string `json:"resolver_id"`
	Notes      string `json:"notes,omitempty"`
}

// ClassifiedContext is the resolved camera -> property -> alert-type chain
// for a validated detection.
type ClassifiedContext struct {
	Camera    *Camera    `json:"camera"`
	Property  *Property  `json:"property"`
	AlertType *AlertType `json:"alertType"`
}

// CreatedAlert is the result of one automation run: the alert plus the
// ids of any derived entities created in the same transaction.
type CreatedAlert struct {
	Alert       *Alert   `json:"alert"`
	TicketID    string   `json:"ticketId,omitempty"`
	ChecklistID string   `json:"checklistId,omitempty"`
	LinkID      string   `json:"linkId,omitempty"`
	Skips       []string `json:"skips,omitempty"` // planning-time skips, e.g. missing template
}

// AlertStats holds on-demand aggregate counts over the alert table.
type AlertStats struct {
	Total    int64 `json:"total"`
	Active   int64 `json:"active"`
	Resolved int64 `json:"resolved"`
	Today    int64 `json:"today"`
}
