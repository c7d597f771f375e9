// Package automation resolves the deterministic plan for a classified
// detection: which derived entities to create, at what priority, and
// which checklist category applies. Resolution is a pure function so the
// decision logic can be tested exhaustively without a database.
package automation

import (
	"strings"
	"time"

	"github.com/sitewatch/kestrel/internal/domain"
)

// Checklist categories produced by the resolver.
const (
	CategoryEmergency   = "Emergency Response"
	CategorySecurity    = "Security Response"
	CategoryMaintenance = "Maintenance Response"
	CategoryGeneric     = "video_event"
)

// DefaultDueIn is the fixed checklist due-date policy.
const DefaultDueIn = 24 * time.Hour

// Plan is the immutable output of one resolution: zero-or-one ticket
// action and zero-or-one checklist action.
type Plan struct {
	Ticket    *TicketAction
	Checklist *ChecklistAction
}

// TicketAction describes the service ticket the plan calls for.
type TicketAction struct {
	Priority domain.TicketPriority
}

// ChecklistAction describes the checklist the plan calls for. The
// category is bound to a concrete template later; a missing template
// degrades the action to a skip at planning time, never a failure.
type ChecklistAction struct {
	Category string
	DueAt    time.Time
}

// Kind classifies a plan by the actions it carries.
type Kind string

const (
	KindNoAction      Kind = "no_action"
	KindTicketOnly    Kind = "ticket"
	KindChecklistOnly Kind = "checklist"
	KindBoth          Kind = "ticket_and_checklist"
)

// Kind reports which actions the plan carries.
func (p Plan) Kind() Kind {
	switch {
	case p.Ticket != nil && p.Checklist != nil:
		return KindBoth
	case p.Ticket != nil:
		return KindTicketOnly
	case p.Checklist != nil:
		return KindChecklistOnly
	default:
		return KindNoAction
	}
}

// categoryRule maps alert-type name keywords (or a severity floor) to a
// checklist category. Rules are evaluated in order; first match wins,
// which is what makes names like "Unauthorized Fire Zone Access" land on
// the emergency category rather than the security one.
type categoryRule struct {
	category    string
	keywords    []string
	anySeverity domain.Severity // also matches at or above this severity, when set
}

var categoryRules = []categoryRule{
	{category: CategoryEmergency, keywords: []string{"fire", "smoke"}, anySeverity: domain.SeverityCritical},
	{category: CategorySecurity, keywords: []string{"unauthorized", "security"}},
	{category: CategoryMaintenance, keywords: []string{"equipment", "malfunction"}},
}

// Resolve computes the automation plan for an alert type at the given
// effective severity. now is the alert creation time; dueIn overrides
// the 24h due-date policy when positive.
func Resolve(alertType *domain.AlertType, severity domain.Severity, now time.Time, dueIn time.Duration) Plan {
	var plan Plan

	if alertType.AutoCreateTicket {
		plan.Ticket = &TicketAction{Priority: PriorityFor(severity)}
	}

	if alertType.AutoCreateChecklist {
		if dueIn <= 0 {
			dueIn = DefaultDueIn
		}
		plan.Checklist = &ChecklistAction{
			Category: ResolveCategory(alertType.Name, severity),
			DueAt:    now.Add(dueIn),
		}
	}

	return plan
}

// PriorityFor maps severity to ticket priority:
// critical -> urgent, high -> high, all others -> medium.
func PriorityFor(severity domain.Severity) domain.TicketPriority {
	switch severity {
	case domain.SeverityCritical:
		return domain.PriorityUrgent
	case domain.SeverityHigh:
		return domain.PriorityHigh
	default:
		return domain.PriorityMedium
	}
}

// ResolveCategory selects the checklist template category for an alert
// type by case-insensitive substring matching on its name, in fixed
// priority order.
func ResolveCategory(alertTypeName string, severity domain.Severity) string {
	name := strings.ToLower(alertTypeName)

	for _, rule := range categoryRules {
		if rule.anySeverity != "" && severity.AtLeast(rule.anySeverity) {
			return rule.category
		}
		for _, kw := range rule.keywords {
			if strings.Contains(name, kw) {
				return rule.category
			}
		}
	}

	return CategoryGeneric
}

// TriggerReason composes the human-readable explanation recorded on the
// alert-to-checklist link.
func TriggerReason(alertTypeName string) string {
	return "Auto-generated from " + alertTypeName + " alert"
}

// TicketTitle composes the auto-created ticket title.
func TicketTitle(alertTypeName, cameraName string) string {
	return alertTypeName + " - " + cameraName
}

// TicketDescription composes the auto-created ticket description,
// naming the property and the camera location.
func TicketDescription(propertyName, cameraName, cameraLocation string) string {
	if cameraLocation == "" {
		cameraLocation = "unspecified location"
	}
	return "Automated ticket for " + alertDescription(propertyName, cameraName, cameraLocation)
}

func alertDescription(propertyName, cameraName, cameraLocation string) string {
	return "alert detected at " + propertyName + " by camera " + cameraName + " (" + cameraLocation + ")"
}
