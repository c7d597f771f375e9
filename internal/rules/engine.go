// Package rules provides the CEL-Go based detection filter engine.
// Filter rules run before automation planning: a suppress rule records
// the alert but forces the plan to no-action, an escalate rule raises
// the severity used for planning.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/sitewatch/kestrel/internal/domain"
)

// Engine is the CEL-based filter rule engine.
type Engine struct {
	mu       sync.RWMutex
	env      *cel.Env
	compiled map[string]*CompiledRule
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Rule    *domain.FilterRule
	Program cel.Program
}

// NewEngine creates a new filter rule engine.
func NewEngine() (*Engine, error) {
	// CEL environment with detection variables
	env, err := cel.NewEnv(
		cel.Variable("camera_id", cel.StringType),
		cel.Variable("alert_type", cel.StringType),
		cel.Variable("severity", cel.StringType),
		cel.Variable("confidence", cel.DoubleType),
		cel.Variable("location", cel.StringType),
		cel.Variable("property_type", cel.StringType),
		cel.Variable("metadata", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:      env,
		compiled: make(map[string]*CompiledRule),
	}, nil
}

// ValidateRule compiles a rule without loading it.
func (e *Engine) ValidateRule(rule *domain.FilterRule) error {
	if rule == nil {
		return fmt.Errorf("filter rule is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(rule)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *Engine) LoadRule(rule *domain.FilterRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(rule)
	if err != nil {
		return err
	}

	e.compiled[rule.ID] = compiled
	return nil
}

// LoadRules compiles and loads multiple rules.
func (e *Engine) LoadRules(ruleList []*domain.FilterRule) error {
	for _, rule := range ruleList {
		if rule.Enabled {
			if err := e.LoadRule(rule); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReloadRules replaces one tenant's rules with a fresh set, leaving
// every other tenant's entries untouched. This enables hot-reloading
// from the database.
func (e *Engine) ReloadRules(tenantID string, ruleList []*domain.FilterRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := make(map[string]*CompiledRule)
	for id, compiled := range e.compiled {
		if compiled.Rule.TenantID != tenantID {
			next[id] = compiled
		}
	}
	for _, rule := range ruleList {
		if !rule.Enabled {
			continue
		}
		compiled, err := e.compileRule(rule)
		if err != nil {
			return err
		}
		next[rule.ID] = compiled
	}

	e.compiled = next
	return nil
}

// FilterInput holds the detection data seen by filter expressions.
type FilterInput struct {
	TenantID      string
	CameraID      string
	AlertTypeName string
	Severity      domain.Severity
	Confidence    float64
	Location      string
	PropertyType  string
	Metadata      map[string]any
}

// Outcome is the combined effect of all matching filter rules.
type Outcome struct {
	// Suppress forces the automation plan to no-action. The alert itself
	// is still created.
	Suppress bool

	// Severity is the effective severity for planning: the highest of
	// the configured severity and any matching escalate rule's target.
	Severity domain.Severity

	// Matched lists the ids of rules that matched, for audit metadata.
	Matched []string
}

// Evaluate runs the detection's tenant's rules against it. A rule
// belonging to another tenant is never consulted; rules stored under
// domain.GlobalTenant apply to everyone. A rule that fails to evaluate
// is logged and treated as not matched, so a bad expression can never
// block ingestion.
func (e *Engine) Evaluate(ctx context.Context, input *FilterInput) Outcome {
	e.mu.RLock()
	ruleSet := make([]*CompiledRule, 0, len(e.compiled))
	for _, r := range e.compiled {
		ruleSet = append(ruleSet, r)
	}
	e.mu.RUnlock()

	outcome := Outcome{Severity: input.Severity}
	if len(ruleSet) == 0 {
		return outcome
	}

	metadata := input.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	activation := map[string]any{
		"camera_id":     input.CameraID,
		"alert_type":    input.AlertTypeName,
		"severity":      string(input.Severity),
		"confidence":    input.Confidence,
		"location":      input.Location,
		"property_type": input.PropertyType,
		"metadata":      metadata,
	}

	for _, rule := range ruleSet {
		if rule.Rule.TenantID != input.TenantID && rule.Rule.TenantID != domain.GlobalTenant {
			continue
		}

		out, _, err := rule.Program.Eval(activation)
		if err != nil {
			slog.Warn("filter rule evaluation failed",
				"rule_id", rule.Rule.ID,
				"error", err,
			)
			continue
		}

		matched, ok := out.(types.Bool)
		if !ok || !bool(matched) {
			continue
		}

		outcome.Matched = append(outcome.Matched, rule.Rule.ID)

		switch rule.Rule.Action {
		case domain.FilterSuppress:
			outcome.Suppress = true
		case domain.FilterEscalate:
			if rule.Rule.Severity.Rank() > outcome.Severity.Rank() {
				outcome.Severity = rule.Rule.Severity
			}
		}
	}

	return outcome
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiled)
}

// GetLoadedRules returns the loaded rule configurations visible to a
// tenant: its own rules plus any global ones.
func (e *Engine) GetLoadedRules(tenantID string) []*domain.FilterRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ruleList := make([]*domain.FilterRule, 0, len(e.compiled))
	for _, compiled := range e.compiled {
		if compiled.Rule.TenantID == tenantID || compiled.Rule.TenantID == domain.GlobalTenant {
			ruleList = append(ruleList, compiled.Rule)
		}
	}
	return ruleList
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiled = make(map[string]*CompiledRule)
	return nil
}

func (e *Engine) compileRule(rule *domain.FilterRule) (*CompiledRule, error) {
	switch rule.Action {
	case domain.FilterSuppress:
	case domain.FilterEscalate:
		if _, err := domain.ParseSeverity(string(rule.Severity)); err != nil {
			return nil, fmt.Errorf("rule %s: escalate rules need a target severity: %w", rule.ID, err)
		}
	default:
		return nil, fmt.Errorf("rule %s: unknown action %q", rule.ID, rule.Action)
	}

	ast, issues := e.env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", rule.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", rule.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", rule.ID, err)
	}

	return &CompiledRule{
		Rule:    rule,
		Program: program,
	}, nil
}
