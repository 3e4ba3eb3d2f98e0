package response_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gyaneshwarpardhi/sentinel/internal/config"
	"github.com/gyaneshwarpardhi/sentinel/internal/event"
	"github.com/gyaneshwarpardhi/sentinel/internal/response"
)

func newEngine(t *testing.T) *response.Engine {
	t.Helper()
	return response.New(config.ResponseConf{
		QueueCapacity:         100,
		CorrelationWindowSec:  2,
		CorrelationMinEvents:  4,
		CorrelationIntervalMs: 50,
		ExecutionHistoryLimit: 100,
	}, nil, zap.NewNop())
}

func alertRule(id string, minRisk float64, cooldown time.Duration) *response.Rule {
	return &response.Rule{
		ID:          id,
		Name:        "alert on high risk",
		EventTypes:  []event.Type{event.TypeHighRiskTransaction},
		MinSeverity: event.SeverityMedium,
		Actions:     []response.Action{response.ActionSendAlert},
		Conditions:  map[string]float64{"min_risk_score": minRisk},
		Priority:    1,
		Cooldown:    cooldown,
		Enabled:     true,
	}
}

func highRiskEvent(risk float64) *event.FraudEvent {
	return &event.FraudEvent{
		Type:      event.TypeHighRiskTransaction,
		Severity:  event.SeverityHigh,
		Source:    "test",
		RiskScore: risk,
		UserID:    "user-1",
	}
}

// captureHandler replaces a default action so tests can observe executions.
func captureHandler(ch chan *event.FraudEvent) response.Handler {
	return func(_ context.Context, ev *event.FraudEvent, _ *response.Rule) (map[string]interface{}, error) {
		ch <- ev
		return nil, nil
	}
}

func waitEvent(t *testing.T, ch <-chan *event.FraudEvent) *event.FraudEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for action execution")
		return nil
	}
}

func TestEngine_ThresholdGatesExecution(t *testing.T) {
	eng := newEngine(t)
	executed := make(chan *event.FraudEvent, 10)
	eng.RegisterActionHandler(response.ActionSendAlert, captureHandler(executed))
	require.NoError(t, eng.AddRule(alertRule("r1", 0.7, 0)))

	eng.Start()
	defer eng.Stop()

	require.True(t, eng.Submit(highRiskEvent(0.8)))
	got := waitEvent(t, executed)
	assert.Equal(t, 0.8, got.RiskScore)

	// Below the threshold: no execution.
	require.True(t, eng.Submit(highRiskEvent(0.5)))
	select {
	case <-executed:
		t.Fatal("rule executed below its risk threshold")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestEngine_CooldownSuppressesRepeats(t *testing.T) {
	eng := newEngine(t)
	executed := make(chan *event.FraudEvent, 10)
	eng.RegisterActionHandler(response.ActionSendAlert, captureHandler(executed))
	require.NoError(t, eng.AddRule(alertRule("r1", 0.7, 300*time.Millisecond)))

	eng.Start()
	defer eng.Stop()

	require.True(t, eng.Submit(highRiskEvent(0.9)))
	require.True(t, eng.Submit(highRiskEvent(0.9)))
	waitEvent(t, executed)
	select {
	case <-executed:
		t.Fatal("second event executed inside the cooldown")
	case <-time.After(150 * time.Millisecond):
	}

	// After the cooldown elapses the rule fires again.
	time.Sleep(300 * time.Millisecond)
	require.True(t, eng.Submit(highRiskEvent(0.9)))
	waitEvent(t, executed)
}

func TestEngine_SeverityOrdersDispatch(t *testing.T) {
	eng := newEngine(t)
	var mu sync.Mutex
	var order []event.Severity
	eng.RegisterActionHandler(response.ActionSendAlert,
		func(_ context.Context, ev *event.FraudEvent, _ *response.Rule) (map[string]interface{}, error) {
			mu.Lock()
			order = append(order, ev.Severity)
			mu.Unlock()
			return nil, nil
		})
	require.NoError(t, eng.AddRule(&response.Rule{
		ID:          "any",
		EventTypes:  []event.Type{event.TypeHighRiskTransaction},
		MinSeverity: event.SeverityLow,
		Actions:     []response.Action{response.ActionSendAlert},
		Enabled:     true,
	}))

	// Queue before starting so the heap, not arrival order, decides.
	low := highRiskEvent(0.3)
	low.Severity = event.SeverityLow
	critical := highRiskEvent(0.9)
	critical.Severity = event.SeverityCritical
	require.True(t, eng.Submit(low))
	require.True(t, eng.Submit(critical))

	eng.Start()
	defer eng.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []event.Severity{event.SeverityCritical, event.SeverityLow}, order)
}

func TestEngine_CorrelationRaisesPattern(t *testing.T) {
	eng := newEngine(t)
	patterns := make(chan *event.FraudEvent, 10)
	eng.RegisterActionHandler(response.ActionSendAlert, captureHandler(patterns))
	require.NoError(t, eng.AddRule(&response.Rule{
		ID:          "velocity",
		EventTypes:  []event.Type{event.TypeSuspiciousPattern},
		MinSeverity: event.SeverityHigh,
		Actions:     []response.Action{response.ActionSendAlert},
		Enabled:     true,
	}))

	eng.Start()
	defer eng.Stop()

	// Four events for the same user inside the window trip the detector.
	for i := 0; i < 4; i++ {
		ev := highRiskEvent(0.4 + float64(i)*0.1)
		ev.Severity = event.SeverityLow
		require.True(t, eng.Submit(ev))
	}

	got := waitEvent(t, patterns)
	assert.Equal(t, event.TypeSuspiciousPattern, got.Type)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, "high_velocity", got.Details["pattern"])
	assert.Equal(t, 4, got.Details["event_count"])
	assert.InDelta(t, 0.7, got.RiskScore, 1e-9)

	// A cleared window does not re-raise for the same burst.
	select {
	case <-patterns:
		t.Fatal("same burst raised twice")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestEngine_PanickingHandlerIsContained(t *testing.T) {
	eng := newEngine(t)
	eng.RegisterActionHandler(response.ActionSendAlert,
		func(_ context.Context, _ *event.FraudEvent, _ *response.Rule) (map[string]interface{}, error) {
			panic("handler bug")
		})
	require.NoError(t, eng.AddRule(alertRule("r1", 0, 0)))

	eng.Start()
	defer eng.Stop()

	require.True(t, eng.Submit(highRiskEvent(0.9)))

	require.Eventually(t, func() bool {
		return len(eng.Executions()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	execs := eng.Executions()
	assert.False(t, execs[0].Success)
	assert.Contains(t, execs[0].Error, "panicked")
}

func TestEngine_RuleManagement(t *testing.T) {
	eng := newEngine(t)

	// Malformed rules are rejected outright.
	assert.Error(t, eng.AddRule(&response.Rule{ID: ""}))
	assert.Error(t, eng.AddRule(&response.Rule{
		ID:         "no-actions",
		EventTypes: []event.Type{event.TypeFraudDetected},
	}))
	assert.Error(t, eng.AddRule(&response.Rule{
		ID:          "bad-severity",
		EventTypes:  []event.Type{event.TypeFraudDetected},
		MinSeverity: "SEVERE",
		Actions:     []response.Action{response.ActionLogEvent},
	}))

	require.NoError(t, eng.AddRule(alertRule("keep", 0.5, 0)))

	// SetRules is atomic: one invalid rule leaves the old set in place.
	err := eng.SetRules([]*response.Rule{
		alertRule("new", 0.5, 0),
		{ID: "broken"},
	})
	assert.Error(t, err)
	rules := eng.Rules()
	require.Len(t, rules, 1)
	assert.Equal(t, "keep", rules[0].ID)

	require.NoError(t, eng.SetRules([]*response.Rule{
		alertRule("a", 0.5, 0),
		alertRule("b", 0.5, 0),
	}))
	assert.Len(t, eng.Rules(), 2)

	assert.True(t, eng.RemoveRule("a"))
	assert.False(t, eng.RemoveRule("a"))
}

func TestEngine_BackpressureAndStop(t *testing.T) {
	eng := response.New(config.ResponseConf{
		QueueCapacity:         1,
		CorrelationWindowSec:  2,
		CorrelationMinEvents:  100,
		CorrelationIntervalMs: 50,
		ExecutionHistoryLimit: 10,
	}, nil, zap.NewNop())

	// Not started: the queue only fills.
	assert.True(t, eng.Submit(highRiskEvent(0.5)))
	assert.False(t, eng.Submit(highRiskEvent(0.5)))

	eng.Start()
	eng.Stop()
	assert.False(t, eng.Submit(highRiskEvent(0.5)), "submissions after Stop are rejected")
}

func TestEngine_ListenerSeesEveryEvent(t *testing.T) {
	eng := newEngine(t)
	seen := make(chan *event.FraudEvent, 10)
	eng.AddListener(func(ev *event.FraudEvent) { seen <- ev })

	// No rules installed: listeners still fire.
	require.True(t, eng.Submit(highRiskEvent(0.2)))
	got := waitEvent(t, seen)
	assert.Equal(t, event.TypeHighRiskTransaction, got.Type)
}
