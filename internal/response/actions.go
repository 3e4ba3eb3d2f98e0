package response

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/gyaneshwarpardhi/sentinel/internal/audit"
	"github.com/gyaneshwarpardhi/sentinel/internal/dispatch"
	"github.com/gyaneshwarpardhi/sentinel/internal/event"
)

// TaskDispatcher is the slice of the workload distributor the escalation
// action needs.
type TaskDispatcher interface {
	SubmitTask(t *dispatch.Task) bool
}

// registerDefaults installs a handler for every built-in action so the
// engine is usable with zero registration.
func (e *Engine) registerDefaults() {
	e.handlers[ActionBlockTransaction] = e.defaultBlockTransaction
	e.handlers[ActionBlockAccount] = e.defaultBlockAccount
	e.handlers[ActionSendAlert] = e.defaultSendAlert
	e.handlers[ActionLogEvent] = e.defaultLogEvent
	e.handlers[ActionEscalateToHuman] = e.defaultEscalate
}

func (e *Engine) defaultBlockTransaction(_ context.Context, ev *event.FraudEvent, _ *Rule) (map[string]interface{}, error) {
	if ev.TransactionID == "" {
		return nil, fmt.Errorf("block_transaction: event %s carries no transaction id", ev.ID)
	}
	e.log.Warn("transaction blocked",
		zap.String("transaction_id", ev.TransactionID),
		zap.Float64("risk_score", ev.RiskScore))
	return map[string]interface{}{
		"transaction_id": ev.TransactionID,
		"status":         "blocked",
	}, nil
}

func (e *Engine) defaultBlockAccount(_ context.Context, ev *event.FraudEvent, _ *Rule) (map[string]interface{}, error) {
	if ev.UserID == "" {
		return nil, fmt.Errorf("block_account: event %s carries no user id", ev.ID)
	}
	e.log.Warn("account blocked", zap.String("user_id", ev.UserID))
	return map[string]interface{}{
		"user_id": ev.UserID,
		"status":  "blocked",
	}, nil
}

func (e *Engine) defaultSendAlert(_ context.Context, ev *event.FraudEvent, r *Rule) (map[string]interface{}, error) {
	e.log.Warn("fraud alert",
		zap.String("event_id", ev.ID),
		zap.String("event_type", string(ev.Type)),
		zap.String("severity", string(ev.Severity)),
		zap.String("rule", r.Name),
		zap.Float64("risk_score", ev.RiskScore))
	return map[string]interface{}{
		"channel": "log",
		"sent":    true,
	}, nil
}

func (e *Engine) defaultLogEvent(_ context.Context, ev *event.FraudEvent, r *Rule) (map[string]interface{}, error) {
	if e.trail == nil {
		return map[string]interface{}{"logged": false}, nil
	}
	entry, err := e.trail.LogEvent(audit.Record{
		EventType:     "fraud_event",
		Severity:      string(ev.Severity),
		Action:        fmt.Sprintf("rule %s logged event %s", r.ID, ev.ID),
		TransactionID: ev.TransactionID,
		UserID:        ev.UserID,
		Details:       ev.Details,
	})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"logged":   true,
		"entry_id": entry.ID,
	}, nil
}

// defaultEscalate hands the case to a human-review agent via the workload
// distributor. With no dispatcher wired it still records the escalation
// so compliance reports surface it.
func (e *Engine) defaultEscalate(_ context.Context, ev *event.FraudEvent, r *Rule) (map[string]interface{}, error) {
	if e.trail != nil {
		if _, err := e.trail.LogEvent(audit.Record{
			EventType:     "escalation",
			Severity:      string(ev.Severity),
			Action:        fmt.Sprintf("rule %s escalated event %s to human review", r.ID, ev.ID),
			TransactionID: ev.TransactionID,
			UserID:        ev.UserID,
			Details:       map[string]interface{}{"rule_name": r.Name},
		}); err != nil {
			return nil, err
		}
	}
	if e.dispatcher == nil {
		return map[string]interface{}{"escalated": true, "dispatched": false}, nil
	}

	priority := dispatch.TaskPriorityNormal
	if ev.Severity == event.SeverityCritical {
		priority = dispatch.TaskPriorityHigh
	}
	task := &dispatch.Task{
		Type:     "human_review",
		Priority: priority,
		Payload: map[string]interface{}{
			"event_id":       ev.ID,
			"event_type":     string(ev.Type),
			"severity":       string(ev.Severity),
			"transaction_id": ev.TransactionID,
			"user_id":        ev.UserID,
			"risk_score":     ev.RiskScore,
		},
		RequiredCapabilities: []string{"manual_review"},
	}
	if !e.dispatcher.SubmitTask(task) {
		return nil, fmt.Errorf("escalate: task queue full for event %s", ev.ID)
	}
	return map[string]interface{}{
		"escalated":  true,
		"dispatched": true,
		"task_id":    task.ID,
	}, nil
}
