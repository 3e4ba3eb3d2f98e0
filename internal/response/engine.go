// Package response implements the rule-driven event response engine: it
// consumes derived fraud events, matches them against declarative rules,
// executes response actions, and correlates per-user event bursts into
// higher-level patterns.
package response

import (
	"container/heap"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gyaneshwarpardhi/sentinel/internal/audit"
	"github.com/gyaneshwarpardhi/sentinel/internal/config"
	"github.com/gyaneshwarpardhi/sentinel/internal/event"
	"github.com/gyaneshwarpardhi/sentinel/internal/metrics"
)

// Handler executes one action for one matched event. Handlers may be
// replaced per action; defaults exist for every built-in action.
type Handler func(ctx context.Context, ev *event.FraudEvent, r *Rule) (map[string]interface{}, error)

// Listener observes every submitted event regardless of rule matching.
type Listener func(*event.FraudEvent)

// Execution records one (rule, action) pair actually run.
type Execution struct {
	ID         string                 `json:"id"`
	EventID    string                 `json:"event_id"`
	RuleID     string                 `json:"rule_id"`
	Action     Action                 `json:"action"`
	ExecutedAt time.Time              `json:"executed_at"`
	Success    bool                   `json:"success"`
	Result     map[string]interface{} `json:"result,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Duration   time.Duration          `json:"duration"`
}

// queuedEvent pairs an event with a sequence number so heap order is total:
// severity, then recency, then submission order.
type queuedEvent struct {
	ev  *event.FraudEvent
	seq uint64
}

type eventHeap []*queuedEvent

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	a, b := h[i].ev, h[j].ev
	if a.Severity.Rank() != b.Severity.Rank() {
		return a.Severity.Rank() > b.Severity.Rank()
	}
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	return h[i].seq < h[j].seq
}
func (h eventHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x interface{}) { *h = append(*h, x.(*queuedEvent)) }
func (h *eventHeap) Pop() interface{} {
	old := *h
	n := len(old)
	qe := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return qe
}

// Engine is the event response engine.
type Engine struct {
	mu   sync.Mutex
	cond *sync.Cond

	queue    eventHeap
	seq      uint64
	capacity int

	rules         map[string]*Rule
	lastExecution map[string]time.Time // rule ID -> last match time
	handlers      map[Action]Handler
	listeners     []Listener

	executions []*Execution
	execLimit  int

	corr          *correlator
	correlateTick time.Duration

	dispatcher TaskDispatcher

	trail   *audit.Trail
	log     *zap.Logger
	stopped bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New builds an Engine with default handlers installed for every action.
func New(conf config.ResponseConf, trail *audit.Trail, log *zap.Logger) *Engine {
	e := &Engine{
		capacity:      conf.QueueCapacity,
		rules:         make(map[string]*Rule),
		lastExecution: make(map[string]time.Time),
		handlers:      make(map[Action]Handler),
		execLimit:     conf.ExecutionHistoryLimit,
		corr: newCorrelator(
			time.Duration(conf.CorrelationWindowSec)*time.Second,
			conf.CorrelationMinEvents,
		),
		correlateTick: time.Duration(conf.CorrelationIntervalMs) * time.Millisecond,
		trail:         trail,
		log:           log,
		stopCh:        make(chan struct{}),
	}
	e.cond = sync.NewCond(&e.mu)
	e.registerDefaults()
	return e
}

// AddRule installs a rule. Malformed rules are rejected with no partial
// effect; an existing rule with the same ID is replaced.
func (e *Engine) AddRule(r *Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.rules[r.ID] = r
	e.mu.Unlock()
	e.log.Info("rule added", zap.String("rule_id", r.ID), zap.String("name", r.Name))
	return nil
}

// RemoveRule drops a rule from the active set.
func (e *Engine) RemoveRule(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.rules[id]; !ok {
		return false
	}
	delete(e.rules, id)
	delete(e.lastExecution, id)
	return true
}

// SetRules atomically replaces the whole rule set (used on hot-reload).
// All rules are validated first; on any failure nothing changes.
func (e *Engine) SetRules(rules []*Rule) error {
	next := make(map[string]*Rule, len(rules))
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return err
		}
		next[r.ID] = r
	}
	e.mu.Lock()
	e.rules = next
	e.mu.Unlock()
	e.log.Info("rule set replaced", zap.Int("rules", len(next)))
	return nil
}

// Rules returns a snapshot of the active rule set ordered by priority.
func (e *Engine) Rules() []*Rule {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Rule, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// RegisterActionHandler installs or overrides the executor for an action.
func (e *Engine) RegisterActionHandler(a Action, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[a] = h
}

// AddListener subscribes to every event regardless of rule matching.
func (e *Engine) AddListener(fn Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, fn)
}

// SetDispatcher wires the workload distributor used by the escalation
// action. Call before Start.
func (e *Engine) SetDispatcher(d TaskDispatcher) { e.dispatcher = d }

// Submit enqueues an event by severity and immediately fans it out to
// listeners. Returns false on backpressure or after Stop.
func (e *Engine) Submit(ev *event.FraudEvent) bool {
	e.mu.Lock()
	if e.stopped || len(e.queue) >= e.capacity {
		e.mu.Unlock()
		metrics.EventsDropped.Inc()
		return false
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	e.seq++
	heap.Push(&e.queue, &queuedEvent{ev: ev, seq: e.seq})
	listeners := make([]Listener, len(e.listeners))
	copy(listeners, e.listeners)
	e.mu.Unlock()

	e.corr.Add(ev)
	for _, fn := range listeners {
		fn(ev)
	}
	metrics.EventsSubmitted.Inc()
	e.cond.Signal()
	return true
}

// Executions returns the recent execution history, newest last.
func (e *Engine) Executions() []*Execution {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Execution, len(e.executions))
	copy(out, e.executions)
	return out
}

// Start launches the dispatch loop and the correlation detector.
func (e *Engine) Start() {
	e.wg.Add(2)
	go e.dispatchLoop()
	go e.correlateLoop()
	e.log.Info("response engine started")
}

// Stop stops accepting submissions, drains the queue, and joins both
// loops before returning.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()
	close(e.stopCh)
	e.cond.Broadcast()
	e.wg.Wait()
	e.log.Info("response engine stopped")
}

func (e *Engine) dispatchLoop() {
	defer e.wg.Done()
	e.mu.Lock()
	for {
		for len(e.queue) == 0 && !e.stopped {
			e.cond.Wait()
		}
		if len(e.queue) == 0 && e.stopped {
			e.mu.Unlock()
			return
		}
		qe := heap.Pop(&e.queue).(*queuedEvent)
		matched := e.matchLocked(qe.ev)
		e.mu.Unlock()

		for _, r := range matched {
			metrics.RuleMatches.WithLabelValues(r.ID).Inc()
			e.executeRule(qe.ev, r)
		}
		e.mu.Lock()
	}
}

// matchLocked computes the matching rules ordered by priority and records
// each match's timestamp immediately, so a second otherwise-matching event
// inside the cooldown is skipped for that rule only. Caller holds e.mu.
func (e *Engine) matchLocked(ev *event.FraudEvent) []*Rule {
	now := time.Now()
	var matched []*Rule
	for _, r := range e.rules {
		if !r.Enabled || !r.Matches(ev) {
			continue
		}
		if last, ok := e.lastExecution[r.ID]; ok && now.Sub(last) < r.Cooldown {
			continue
		}
		matched = append(matched, r)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Priority != matched[j].Priority {
			return matched[i].Priority < matched[j].Priority
		}
		return matched[i].ID < matched[j].ID
	})
	for _, r := range matched {
		e.lastExecution[r.ID] = now
	}
	return matched
}

// executeRule runs every action of one matched rule, in order.
func (e *Engine) executeRule(ev *event.FraudEvent, r *Rule) {
	e.auditEvent("rule_matched", string(ev.Severity), "rule "+r.ID+" matched event "+ev.ID, ev,
		map[string]interface{}{"rule_name": r.Name, "rule_priority": r.Priority})

	for _, action := range r.Actions {
		exec := &Execution{
			ID:      uuid.New().String(),
			EventID: ev.ID,
			RuleID:  r.ID,
			Action:  action,
		}
		start := time.Now()
		result, err := e.runAction(action, ev, r)
		exec.ExecutedAt = start
		exec.Duration = time.Since(start)
		exec.Result = result
		if err != nil {
			exec.Error = err.Error()
			metrics.ActionsExecuted.WithLabelValues(string(action), "error").Inc()
			e.log.Warn("action failed",
				zap.String("rule_id", r.ID),
				zap.String("action", string(action)),
				zap.Error(err))
		} else {
			exec.Success = true
			metrics.ActionsExecuted.WithLabelValues(string(action), "success").Inc()
		}

		e.auditEvent("response_execution", string(ev.Severity),
			fmt.Sprintf("rule %s action %s (success=%t)", r.ID, action, exec.Success), ev,
			map[string]interface{}{
				"execution_id": exec.ID,
				"action":       string(action),
				"error":        exec.Error,
			})

		e.mu.Lock()
		e.executions = append(e.executions, exec)
		if len(e.executions) > e.execLimit {
			e.executions = e.executions[len(e.executions)-e.execLimit:]
		}
		e.mu.Unlock()
	}
}

// runAction invokes the registered handler, converting panics into errors
// so a misbehaving handler cannot kill the dispatch loop.
func (e *Engine) runAction(a Action, ev *event.FraudEvent, r *Rule) (result map[string]interface{}, err error) {
	e.mu.Lock()
	h, ok := e.handlers[a]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("response: no handler for action %q", a)
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("response: action %s panicked: %v", a, rec)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return h(ctx, ev, r)
}

// correlateLoop periodically sweeps the per-user windows and feeds raised
// patterns back into the queue as synthetic events eligible for further
// rule matching.
func (e *Engine) correlateLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.correlateTick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for _, p := range e.corr.Sweep(time.Now()) {
				e.raisePattern(p)
			}
		case <-e.stopCh:
			return
		}
	}
}

func (e *Engine) raisePattern(p pattern) {
	metrics.PatternsDetected.WithLabelValues(p.Name).Inc()
	ev := &event.FraudEvent{
		ID:       uuid.New().String(),
		Type:     event.TypeSuspiciousPattern,
		Severity: event.SeverityHigh,
		Source:   correlationSource,
		Details: map[string]interface{}{
			"pattern":      p.Name,
			"event_ids":    p.EventIDs,
			"event_count":  p.Count,
			"window_start": p.First,
			"window_end":   p.Last,
		},
		RiskScore:  p.MaxRisk,
		Confidence: 0.8,
		UserID:     p.UserID,
		Timestamp:  time.Now(),
	}
	e.auditEvent("pattern_detected", string(ev.Severity),
		fmt.Sprintf("pattern %s for user %s across %d events", p.Name, p.UserID, p.Count), ev,
		map[string]interface{}{"pattern": p.Name, "event_count": p.Count})
	e.log.Info("correlation pattern raised",
		zap.String("pattern", p.Name),
		zap.String("user_id", p.UserID),
		zap.Int("events", p.Count))
	e.Submit(ev)
}

func (e *Engine) auditEvent(eventType, severity, action string, ev *event.FraudEvent, details map[string]interface{}) {
	if e.trail == nil {
		return
	}
	if details == nil {
		details = map[string]interface{}{}
	}
	details["event_id"] = ev.ID
	details["event_type"] = string(ev.Type)
	if _, err := e.trail.LogEvent(audit.Record{
		EventType:     eventType,
		Severity:      severity,
		Action:        action,
		TransactionID: ev.TransactionID,
		UserID:        ev.UserID,
		Details:       details,
	}); err != nil {
		e.log.Error("audit write failed", zap.String("event_type", eventType), zap.Error(err))
	}
}
