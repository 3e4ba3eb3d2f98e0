package response

import (
	"fmt"
	"strings"
	"time"

	"github.com/gyaneshwarpardhi/sentinel/internal/config"
	"github.com/gyaneshwarpardhi/sentinel/internal/event"
)

// Action names a response step a matched rule executes.
type Action string

const (
	ActionBlockTransaction Action = "BLOCK_TRANSACTION"
	ActionBlockAccount     Action = "BLOCK_ACCOUNT"
	ActionSendAlert        Action = "SEND_ALERT"
	ActionLogEvent         Action = "LOG_EVENT"
	ActionEscalateToHuman  Action = "ESCALATE_TO_HUMAN"
)

// Actions lists every built-in action.
func Actions() []Action {
	return []Action{
		ActionBlockTransaction,
		ActionBlockAccount,
		ActionSendAlert,
		ActionLogEvent,
		ActionEscalateToHuman,
	}
}

// Rule is configuration data: immutable once matched against an event.
type Rule struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	EventTypes  []event.Type       `json:"event_types"`
	MinSeverity event.Severity     `json:"min_severity"`
	Actions     []Action           `json:"actions"`
	Conditions  map[string]float64 `json:"conditions,omitempty"`
	Priority    int                `json:"priority"` // lower = evaluated first
	Cooldown    time.Duration      `json:"cooldown"`
	Enabled     bool               `json:"enabled"`
}

// Validate rejects malformed rules before they enter the active set.
func (r *Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule: id is required")
	}
	if len(r.EventTypes) == 0 {
		return fmt.Errorf("rule %s: event_types must not be empty", r.ID)
	}
	if !r.MinSeverity.Valid() {
		return fmt.Errorf("rule %s: unknown severity %q", r.ID, r.MinSeverity)
	}
	if len(r.Actions) == 0 {
		return fmt.Errorf("rule %s: actions must not be empty", r.ID)
	}
	if r.Cooldown < 0 {
		return fmt.Errorf("rule %s: cooldown must not be negative", r.ID)
	}
	return nil
}

// Matches reports whether the event satisfies the rule's type set, severity
// threshold, and every condition.
func (r *Rule) Matches(ev *event.FraudEvent) bool {
	typeMatch := false
	for _, t := range r.EventTypes {
		if t == ev.Type {
			typeMatch = true
			break
		}
	}
	if !typeMatch {
		return false
	}
	if ev.Severity.Rank() < r.MinSeverity.Rank() {
		return false
	}
	for key, threshold := range r.Conditions {
		if !conditionHolds(key, threshold, ev) {
			return false
		}
	}
	return true
}

// conditionHolds evaluates one "min_*"/"max_*" threshold against the
// event's scores or a numeric detail field. Unknown keys fail closed.
func conditionHolds(key string, threshold float64, ev *event.FraudEvent) bool {
	var field string
	var isMin bool
	switch {
	case strings.HasPrefix(key, "min_"):
		field, isMin = strings.TrimPrefix(key, "min_"), true
	case strings.HasPrefix(key, "max_"):
		field, isMin = strings.TrimPrefix(key, "max_"), false
	default:
		return false
	}

	var value float64
	switch field {
	case "risk_score":
		value = ev.RiskScore
	case "confidence":
		value = ev.Confidence
	default:
		v, ok := detailNumber(ev.Details, field)
		if !ok {
			return false
		}
		value = v
	}
	if isMin {
		return value >= threshold
	}
	return value <= threshold
}

func detailNumber(details map[string]interface{}, key string) (float64, bool) {
	if details == nil {
		return 0, false
	}
	switch n := details[key].(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// RuleFromDef converts a YAML rule definition into an active Rule.
func RuleFromDef(def config.RuleDef) (*Rule, error) {
	r := &Rule{
		ID:          def.ID,
		Name:        def.Name,
		MinSeverity: event.Severity(def.MinSeverity),
		Conditions:  def.Conditions,
		Priority:    def.Priority,
		Cooldown:    time.Duration(def.CooldownSeconds) * time.Second,
		Enabled:     def.Enabled,
	}
	for _, t := range def.EventTypes {
		r.EventTypes = append(r.EventTypes, event.Type(t))
	}
	for _, a := range def.Actions {
		r.Actions = append(r.Actions, Action(a))
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}
