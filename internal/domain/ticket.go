package domain

import (
	"time"
)

// TicketPriority is derived from alert-type severity when a ticket is
// auto-created (critical -> urgent, high -> high, others -> medium).
type TicketPriority string

// Ticket priorities.
const (
	PriorityMedium TicketPriority = "medium"
	PriorityHigh   TicketPriority = "high"
	PriorityUrgent TicketPriority = "urgent"
)

// ServiceTicket is a work order raised against a property. AlertID is
// empty for tickets created manually outside the automation engine; at
// most one auto-generated ticket exists per alert.
type ServiceTicket struct {
	ID          string         `json:"id"`
	TenantID    string         `json:"tenantId"`
	PropertyID  string         `json:"propertyId"`
	AlertID     string         `json:"alertId,omitempty"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Priority    TicketPriority `json:"priority"`
	Status      string         `json:"status"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// Service ticket status values. Tickets created by the engine always
// start open; the rest of the lifecycle is owned by other workflows.
const (
	TicketOpen       = "open"
	TicketInProgress = "in_progress"
	TicketClosed     = "closed"
)
