// Package dispatch assigns discrete units of work to a registry of
// capability-rated agents using pluggable routing strategies.
package dispatch

import (
	"container/heap"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gyaneshwarpardhi/sentinel/internal/audit"
	"github.com/gyaneshwarpardhi/sentinel/internal/config"
	"github.com/gyaneshwarpardhi/sentinel/internal/metrics"
)

var (
	ErrUnknownStrategy   = errors.New("dispatch: unknown strategy")
	ErrUnknownAgent      = errors.New("dispatch: unknown agent")
	ErrUnknownAssignment = errors.New("dispatch: unknown assignment")
	ErrAgentExists       = errors.New("dispatch: agent already registered")
)

// AssignmentHandler delivers a fresh assignment to the agent transport.
// The transport itself (in-process, RPC, queue) is the caller's concern.
type AssignmentHandler func(*Assignment)

// UndeliverableHandler reports a task whose TTL expired with no eligible agent.
type UndeliverableHandler func(t *Task, reason string)

// Distributor owns the agent registry and the pending task queue.
type Distributor struct {
	mu   sync.Mutex
	cond *sync.Cond

	agents     map[string]*Agent
	queue      taskHeap
	seq        uint64
	capacity   int
	strategies map[string]Strategy
	strategy   Strategy
	defaultTTL time.Duration
	sweepEvery time.Duration

	active    map[string]*Assignment
	completed map[string]*Assignment

	onAssign        AssignmentHandler
	onUndeliverable UndeliverableHandler

	distributed   int64
	succeeded     int64
	failed        int64
	undeliverable int64

	trail   *audit.Trail
	log     *zap.Logger
	stopped bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New builds a Distributor from configuration. The configured strategy name
// was validated at config load.
func New(conf config.DispatchConf, trail *audit.Trail, log *zap.Logger) (*Distributor, error) {
	d := &Distributor{
		agents:     make(map[string]*Agent),
		capacity:   conf.QueueCapacity,
		strategies: newStrategies(),
		defaultTTL: time.Duration(conf.TaskTTLSec) * time.Second,
		sweepEvery: time.Duration(conf.SweepIntervalMs) * time.Millisecond,
		active:     make(map[string]*Assignment),
		completed:  make(map[string]*Assignment),
		trail:      trail,
		log:        log,
		stopCh:     make(chan struct{}),
	}
	if d.sweepEvery <= 0 {
		d.sweepEvery = time.Second
	}
	d.cond = sync.NewCond(&d.mu)
	s, ok := d.strategies[conf.Strategy]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, conf.Strategy)
	}
	d.strategy = s
	return d, nil
}

// OnAssign installs the assignment delivery callback. Call before Start.
func (d *Distributor) OnAssign(fn AssignmentHandler) { d.onAssign = fn }

// OnUndeliverable installs the expiry report callback. Call before Start.
func (d *Distributor) OnUndeliverable(fn UndeliverableHandler) { d.onUndeliverable = fn }

// Start launches the dispatch loop and the TTL sweep ticker.
func (d *Distributor) Start() {
	d.wg.Add(2)
	go d.loop()
	go d.sweep()
	d.log.Info("distributor started", zap.String("strategy", d.strategy.Name()))
}

// Stop halts dispatching. Queued tasks stay queued; active assignments are
// untouched and may still be completed.
func (d *Distributor) Stop() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
	close(d.stopCh)
	d.cond.Broadcast()
	d.wg.Wait()
	d.log.Info("distributor stopped")
}

// RegisterAgent adds an agent to the registry.
func (d *Distributor) RegisterAgent(a *Agent) error {
	if a.AgentID == "" {
		return fmt.Errorf("dispatch: agent id is required")
	}
	if a.MaxConcurrentTasks <= 0 {
		return fmt.Errorf("dispatch: agent %s: max_concurrent_tasks must be positive", a.AgentID)
	}
	d.mu.Lock()
	if _, exists := d.agents[a.AgentID]; exists {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAgentExists, a.AgentID)
	}
	if a.Status == "" {
		a.Status = StatusAvailable
	}
	a.LastHeartbeat = time.Now()
	d.agents[a.AgentID] = a
	d.mu.Unlock()

	d.cond.Broadcast()
	d.auditEvent("agent_registered", "registered agent "+a.AgentID, a.AgentID, map[string]interface{}{
		"agent_type":   a.AgentType,
		"capabilities": a.Capabilities,
		"max_tasks":    a.MaxConcurrentTasks,
	})
	return nil
}

// UnregisterAgent removes an agent. Its active assignments are not
// cancelled; it only stops receiving new tasks.
func (d *Distributor) UnregisterAgent(agentID string) error {
	d.mu.Lock()
	if _, ok := d.agents[agentID]; !ok {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}
	delete(d.agents, agentID)
	d.mu.Unlock()

	d.auditEvent("agent_unregistered", "unregistered agent "+agentID, agentID, nil)
	return nil
}

// UpdateStatus applies a heartbeat/status update. A nil load leaves the
// current load untouched.
func (d *Distributor) UpdateStatus(agentID string, status AgentStatus, load *int) error {
	d.mu.Lock()
	a, ok := d.agents[agentID]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}
	a.Status = status
	a.LastHeartbeat = time.Now()
	if load != nil {
		a.CurrentLoad = *load
	}
	d.mu.Unlock()

	if status == StatusAvailable {
		d.cond.Broadcast()
	}
	return nil
}

// SubmitTask enqueues a task by priority. Returns false on backpressure
// (full queue) or after Stop.
func (d *Distributor) SubmitTask(t *Task) bool {
	d.mu.Lock()
	if d.stopped || len(d.queue) >= d.capacity {
		d.mu.Unlock()
		return false
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	if t.TTL == 0 {
		t.TTL = d.defaultTTL
	}
	d.seq++
	heap.Push(&d.queue, &queuedTask{task: t, seq: d.seq})
	depth := len(d.queue)
	d.mu.Unlock()

	metrics.TasksSubmitted.Inc()
	metrics.TaskQueueDepth.Set(float64(depth))
	d.cond.Signal()
	return true
}

// SetStrategy swaps the active routing strategy at runtime. Unknown names
// are rejected with no side effects.
func (d *Distributor) SetStrategy(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.strategies[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
	d.strategy = s
	d.log.Info("routing strategy changed", zap.String("strategy", name))
	return nil
}

// StrategyName returns the active strategy's name.
func (d *Distributor) StrategyName() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.strategy.Name()
}

// CompleteTask finalizes an assignment: records the outcome, releases the
// agent's slot, and archives the assignment.
func (d *Distributor) CompleteTask(assignmentID string, success bool, result map[string]interface{}, errMsg string) error {
	d.mu.Lock()
	a, ok := d.active[assignmentID]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownAssignment, assignmentID)
	}
	delete(d.active, assignmentID)
	a.CompletedAt = time.Now()
	a.Success = success
	a.Result = result
	a.Error = errMsg
	d.completed[assignmentID] = a

	if agent, ok := d.agents[a.AgentID]; ok {
		if agent.CurrentLoad > 0 {
			agent.CurrentLoad--
		}
		agent.recordCompletion(a.ProcessingTime(), success)
		if agent.Status == StatusBusy && agent.CurrentLoad < agent.MaxConcurrentTasks {
			agent.Status = StatusAvailable
		}
	}
	if success {
		d.succeeded++
	} else {
		d.failed++
	}
	d.mu.Unlock()

	status := "success"
	if !success {
		status = "failure"
	}
	metrics.TasksCompleted.WithLabelValues(status).Inc()
	d.auditEvent("task_completed", fmt.Sprintf("task %s completed (%s)", a.Task.ID, status),
		a.AgentID, map[string]interface{}{
			"assignment_id":      a.ID,
			"task_type":          a.Task.Type,
			"success":            success,
			"processing_time_ms": a.ProcessingTime().Milliseconds(),
		})
	d.cond.Broadcast()
	return nil
}

// AgentSnapshot returns a copy of the registry for inspection.
func (d *Distributor) AgentSnapshot() []*Agent {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Agent, 0, len(d.agents))
	for _, a := range d.agents {
		copied := *a
		out = append(out, &copied)
	}
	return out
}

// Assignment returns an active or completed assignment by ID.
func (d *Distributor) Assignment(id string) (*Assignment, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if a, ok := d.active[id]; ok {
		return a, true
	}
	a, ok := d.completed[id]
	return a, ok
}

// Stats is a point-in-time metrics snapshot.
type Stats struct {
	TasksDistributed int64              `json:"tasks_distributed"`
	Succeeded        int64              `json:"succeeded"`
	Failed           int64              `json:"failed"`
	Undeliverable    int64              `json:"undeliverable"`
	QueueDepth       int                `json:"queue_depth"`
	ActiveCount      int                `json:"active_assignments"`
	CompletedCount   int                `json:"completed_assignments"`
	AgentUtilization map[string]float64 `json:"agent_utilization"`
}

// Metrics returns current distributor statistics.
func (d *Distributor) Metrics() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	util := make(map[string]float64, len(d.agents))
	for id, a := range d.agents {
		util[id] = a.LoadRatio()
	}
	return Stats{
		TasksDistributed: d.distributed,
		Succeeded:        d.succeeded,
		Failed:           d.failed,
		Undeliverable:    d.undeliverable,
		QueueDepth:       len(d.queue),
		ActiveCount:      len(d.active),
		CompletedCount:   len(d.completed),
		AgentUtilization: util,
	}
}

// loop pops tasks in priority order and assigns them. Tasks with no
// eligible agent remain queued; expired ones are reported undeliverable.
func (d *Distributor) loop() {
	defer d.wg.Done()
	d.mu.Lock()
	for {
		if d.stopped {
			d.mu.Unlock()
			return
		}
		assigned, expired := d.dispatchLocked()
		if len(assigned) == 0 && len(expired) == 0 {
			d.cond.Wait()
			continue
		}
		d.mu.Unlock()

		for _, t := range expired {
			metrics.TasksUndeliverable.Inc()
			d.log.Warn("task undeliverable", zap.String("task_id", t.ID), zap.String("type", t.Type))
			d.auditEvent("task_undeliverable", "task "+t.ID+" expired with no eligible agent", "",
				map[string]interface{}{"task_type": t.Type, "ttl_sec": t.TTL.Seconds()})
			if d.onUndeliverable != nil {
				d.onUndeliverable(t, "ttl expired with no eligible agent")
			}
		}
		for _, a := range assigned {
			metrics.TasksAssigned.WithLabelValues(a.AgentID).Inc()
			d.auditEvent("task_assigned", fmt.Sprintf("task %s assigned to %s", a.Task.ID, a.AgentID),
				a.AgentID, map[string]interface{}{
					"assignment_id": a.ID,
					"task_type":     a.Task.Type,
					"priority":      a.Task.Priority.String(),
				})
			if d.onAssign != nil {
				d.onAssign(a)
			}
		}
		d.mu.Lock()
	}
}

// dispatchLocked scans the queue once. Caller holds d.mu.
func (d *Distributor) dispatchLocked() (assigned []*Assignment, expired []*Task) {
	now := time.Now()
	var deferred []*queuedTask
	for len(d.queue) > 0 {
		qt := heap.Pop(&d.queue).(*queuedTask)
		if qt.task.Expired(now) {
			d.undeliverable++
			expired = append(expired, qt.task)
			continue
		}
		candidates := d.eligibleLocked(qt.task)
		if len(candidates) == 0 {
			deferred = append(deferred, qt)
			continue
		}
		agent := d.strategy.Select(qt.task, candidates)
		a := &Assignment{
			ID:         uuid.New().String(),
			Task:       qt.task,
			AgentID:    agent.AgentID,
			AssignedAt: now,
			StartedAt:  now,
		}
		agent.CurrentLoad++
		if agent.CurrentLoad >= agent.MaxConcurrentTasks {
			agent.Status = StatusBusy
		}
		d.active[a.ID] = a
		d.distributed++
		assigned = append(assigned, a)
	}
	for _, qt := range deferred {
		heap.Push(&d.queue, qt)
	}
	metrics.TaskQueueDepth.Set(float64(len(d.queue)))
	return assigned, expired
}

func (d *Distributor) eligibleLocked(t *Task) []*Agent {
	var out []*Agent
	for _, a := range d.agents {
		if a.Eligible(t) {
			out = append(out, a)
		}
	}
	return out
}

// sweep wakes the loop periodically so TTL expiry is detected even when
// no submissions or completions arrive.
func (d *Distributor) sweep() {
	defer d.wg.Done()
	ticker := time.NewTicker(d.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.cond.Broadcast()
		case <-d.stopCh:
			return
		}
	}
}

func (d *Distributor) auditEvent(eventType, action, agentID string, details map[string]interface{}) {
	if d.trail == nil {
		return
	}
	if _, err := d.trail.LogEvent(audit.Record{
		EventType: eventType,
		Severity:  "LOW",
		Action:    action,
		AgentID:   agentID,
		Details:   details,
	}); err != nil {
		d.log.Error("audit write failed", zap.String("event_type", eventType), zap.Error(err))
	}
}
