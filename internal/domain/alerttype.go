package domain

import (
	"fmt"
	"time"
)

// Severity is the ordered severity level of an alert type.
type Severity string

// Severity levels, lowest to highest.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityRank maps severities to their position in the ordering.
var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// Rank returns the ordinal position of the severity (low < medium < high < critical).
// Unknown severities rank below low.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

// AtLeast reports whether s is at or above the given severity.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// ParseSeverity validates a severity string.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(s)
	if _, ok := severityRank[sev]; !ok {
		return "", fmt.Errorf("unknown severity: %q", s)
	}
	return sev, nil
}

// AlertType is the tenant-configured classification of a detection.
// The free-text Name drives checklist-category keyword matching; the
// automation flags decide which derived entities are created.
type AlertType struct {
	ID                  string    `json:"id"`
	TenantID            string    `json:"tenantId"`
	Name                string    `json:"name"`
	Severity            Severity  `json:"severity"`
	AutoCreateTicket    bool      `json:"autoCreateTicket"`
	AutoCreateChecklist bool      `json:"autoCreateChecklist"`
	Enabled             bool      `json:"enabled"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}
