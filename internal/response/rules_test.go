package response_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/sentinel/internal/config"
	"github.com/gyaneshwarpardhi/sentinel/internal/event"
	"github.com/gyaneshwarpardhi/sentinel/internal/response"
)

func matchingEvent() *event.FraudEvent {
	return &event.FraudEvent{
		ID:         "ev-1",
		Type:       event.TypeFraudDetected,
		Severity:   event.SeverityHigh,
		RiskScore:  0.85,
		Confidence: 0.9,
		Details:    map[string]interface{}{"velocity": float64(7)},
	}
}

func baseRule() *response.Rule {
	return &response.Rule{
		ID:          "r1",
		EventTypes:  []event.Type{event.TypeFraudDetected, event.TypeAccountCompromise},
		MinSeverity: event.SeverityMedium,
		Actions:     []response.Action{response.ActionBlockTransaction},
		Enabled:     true,
	}
}

func TestRuleMatches_TypeAndSeverity(t *testing.T) {
	r := baseRule()
	ev := matchingEvent()
	assert.True(t, r.Matches(ev))

	ev.Type = event.TypeLocationAnomaly
	assert.False(t, r.Matches(ev), "type outside the rule's set")

	ev = matchingEvent()
	ev.Severity = event.SeverityLow
	assert.False(t, r.Matches(ev), "below the severity threshold")

	ev.Severity = event.SeverityMedium
	assert.True(t, r.Matches(ev), "threshold is inclusive")
}

func TestRuleMatches_Conditions(t *testing.T) {
	r := baseRule()
	ev := matchingEvent()

	r.Conditions = map[string]float64{"min_risk_score": 0.8}
	assert.True(t, r.Matches(ev))
	r.Conditions = map[string]float64{"min_risk_score": 0.9}
	assert.False(t, r.Matches(ev))

	r.Conditions = map[string]float64{"max_confidence": 0.95}
	assert.True(t, r.Matches(ev))
	r.Conditions = map[string]float64{"max_confidence": 0.5}
	assert.False(t, r.Matches(ev))

	// Numeric detail fields participate.
	r.Conditions = map[string]float64{"min_velocity": 5}
	assert.True(t, r.Matches(ev))
	r.Conditions = map[string]float64{"max_velocity": 5}
	assert.False(t, r.Matches(ev))

	// Unknown keys and non-numeric details fail closed.
	r.Conditions = map[string]float64{"min_reputation": 1}
	assert.False(t, r.Matches(ev))
	r.Conditions = map[string]float64{"velocity": 5}
	assert.False(t, r.Matches(ev), "conditions without a min_/max_ prefix never hold")
	ev.Details["velocity"] = "seven"
	r.Conditions = map[string]float64{"min_velocity": 5}
	assert.False(t, r.Matches(ev))
}

func TestRuleValidate(t *testing.T) {
	assert.NoError(t, baseRule().Validate())

	r := baseRule()
	r.ID = ""
	assert.Error(t, r.Validate())

	r = baseRule()
	r.EventTypes = nil
	assert.Error(t, r.Validate())

	r = baseRule()
	r.MinSeverity = "URGENT"
	assert.Error(t, r.Validate())

	r = baseRule()
	r.Actions = nil
	assert.Error(t, r.Validate())

	r = baseRule()
	r.Cooldown = -time.Second
	assert.Error(t, r.Validate())
}

func TestRuleFromDef(t *testing.T) {
	r, err := response.RuleFromDef(config.RuleDef{
		ID:              "yaml-rule",
		Name:            "from config",
		EventTypes:      []string{"FRAUD_DETECTED"},
		MinSeverity:     "HIGH",
		Actions:         []string{"SEND_ALERT", "LOG_EVENT"},
		Conditions:      map[string]float64{"min_risk_score": 0.6},
		Priority:        3,
		CooldownSeconds: 90,
		Enabled:         true,
	})
	require.NoError(t, err)
	assert.Equal(t, event.SeverityHigh, r.MinSeverity)
	assert.Equal(t, []event.Type{event.TypeFraudDetected}, r.EventTypes)
	assert.Equal(t, []response.Action{response.ActionSendAlert, response.ActionLogEvent}, r.Actions)
	assert.Equal(t, 90*time.Second, r.Cooldown)

	_, err = response.RuleFromDef(config.RuleDef{ID: "broken"})
	assert.Error(t, err)
}
