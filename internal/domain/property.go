package domain

import (
	"time"
)

// Property represents a monitored site (building, campus, facility).
type Property struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenantId"`
	Name         string    `json:"name"`
	Address      string    `json:"address,omitempty"`
	PropertyType string    `json:"propertyType"` // e.g. "commercial", "residential", "industrial"
	CreatedAt    time.Time `json:"createdAt"`
}

// Camera represents a detection-producing camera attached to a property.
// A camera belongs to exactly one property for the lifetime of any alert
// it produces.
type Camera struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenantId"`
	PropertyID string    `json:"propertyId"`
	Name       string    `json:"name"`
	Location   string    `json:"location,omitempty"`
	Status     string    `json:"status"` // "active" or "inactive"
	CreatedAt  time.Time `json:"createdAt"`
}

// Camera status values.
const (
	CameraActive   = "active"
	CameraInactive = "inactive"
)

// PropertySnapshot is the property state captured on an alert at creation
// time, so historical alerts survive later property edits.
type PropertySnapshot struct {
	PropertyID   string `json:"propertyId"`
	PropertyName string `json:"propertyName"`
	PropertyType string `json:"propertyType"`
}
