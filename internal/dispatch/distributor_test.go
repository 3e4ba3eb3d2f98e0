package dispatch_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gyaneshwarpardhi/sentinel/internal/config"
	"github.com/gyaneshwarpardhi/sentinel/internal/dispatch"
)

func newDistributor(t *testing.T, strategy string) *dispatch.Distributor {
	t.Helper()
	d, err := dispatch.New(config.DispatchConf{
		QueueCapacity:   100,
		Strategy:        strategy,
		SweepIntervalMs: 20,
	}, nil, zap.NewNop())
	require.NoError(t, err)
	return d
}

func registerAgent(t *testing.T, d *dispatch.Distributor, id string, capacity int, caps []string, specs map[string]float64) {
	t.Helper()
	require.NoError(t, d.RegisterAgent(&dispatch.Agent{
		AgentID:            id,
		AgentType:          "reviewer",
		Capabilities:       caps,
		MaxConcurrentTasks: capacity,
		Specializations:    specs,
	}))
}

func waitAssignment(t *testing.T, ch <-chan *dispatch.Assignment) *dispatch.Assignment {
	t.Helper()
	select {
	case a := <-ch:
		return a
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for assignment")
		return nil
	}
}

func TestDistributor_SpecializationRouting(t *testing.T) {
	d := newDistributor(t, "specialization")
	assigned := make(chan *dispatch.Assignment, 10)
	d.OnAssign(func(a *dispatch.Assignment) { assigned <- a })

	registerAgent(t, d, "expert", 5, nil, map[string]float64{"fraud_review": 0.9})
	registerAgent(t, d, "junior", 5, nil, map[string]float64{"fraud_review": 0.7})

	d.Start()
	defer d.Stop()

	require.True(t, d.SubmitTask(&dispatch.Task{Type: "fraud_review"}))
	a := waitAssignment(t, assigned)
	assert.Equal(t, "expert", a.AgentID)
}

func TestDistributor_RoundRobinCycles(t *testing.T) {
	d := newDistributor(t, "round_robin")
	assigned := make(chan *dispatch.Assignment, 10)
	d.OnAssign(func(a *dispatch.Assignment) { assigned <- a })

	registerAgent(t, d, "agent-a", 10, nil, nil)
	registerAgent(t, d, "agent-b", 10, nil, nil)

	d.Start()
	defer d.Stop()

	for i := 0; i < 4; i++ {
		require.True(t, d.SubmitTask(&dispatch.Task{Type: "review"}))
	}
	seen := map[string]int{}
	for i := 0; i < 4; i++ {
		seen[waitAssignment(t, assigned).AgentID]++
	}
	assert.Equal(t, 2, seen["agent-a"])
	assert.Equal(t, 2, seen["agent-b"])
}

func TestDistributor_PriorityOrder(t *testing.T) {
	d := newDistributor(t, "least_loaded")
	assigned := make(chan *dispatch.Assignment, 10)
	d.OnAssign(func(a *dispatch.Assignment) { assigned <- a })

	d.Start()
	defer d.Stop()

	// Queue both before any agent exists, then register a single-slot agent:
	// the high-priority task must win the only slot.
	require.True(t, d.SubmitTask(&dispatch.Task{ID: "low", Type: "review", Priority: dispatch.TaskPriorityLow}))
	require.True(t, d.SubmitTask(&dispatch.Task{ID: "high", Type: "review", Priority: dispatch.TaskPriorityHigh}))
	registerAgent(t, d, "solo", 1, nil, nil)

	first := waitAssignment(t, assigned)
	assert.Equal(t, "high", first.Task.ID)

	// Completing frees the slot for the deferred task.
	require.NoError(t, d.CompleteTask(first.ID, true, nil, ""))
	second := waitAssignment(t, assigned)
	assert.Equal(t, "low", second.Task.ID)
}

func TestDistributor_CapabilityFiltering(t *testing.T) {
	d := newDistributor(t, "least_loaded")
	assigned := make(chan *dispatch.Assignment, 10)
	d.OnAssign(func(a *dispatch.Assignment) { assigned <- a })

	registerAgent(t, d, "generalist", 5, []string{"manual_review"}, nil)
	registerAgent(t, d, "specialist", 5, []string{"manual_review", "chargeback"}, nil)

	d.Start()
	defer d.Stop()

	require.True(t, d.SubmitTask(&dispatch.Task{
		Type:                 "chargeback_review",
		RequiredCapabilities: []string{"chargeback"},
	}))
	a := waitAssignment(t, assigned)
	assert.Equal(t, "specialist", a.AgentID)
}

func TestDistributor_ExpiredTaskUndeliverable(t *testing.T) {
	d := newDistributor(t, "least_loaded")
	undeliverable := make(chan *dispatch.Task, 1)
	d.OnUndeliverable(func(task *dispatch.Task, _ string) { undeliverable <- task })

	d.Start()
	defer d.Stop()

	// No agents registered: the task can only expire.
	require.True(t, d.SubmitTask(&dispatch.Task{
		ID:   "doomed",
		Type: "review",
		TTL:  10 * time.Millisecond,
	}))

	select {
	case task := <-undeliverable:
		assert.Equal(t, "doomed", task.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for undeliverable callback")
	}
	assert.EqualValues(t, 1, d.Metrics().Undeliverable)
}

func TestDistributor_CompleteTaskLifecycle(t *testing.T) {
	d := newDistributor(t, "least_loaded")
	assigned := make(chan *dispatch.Assignment, 1)
	d.OnAssign(func(a *dispatch.Assignment) { assigned <- a })

	registerAgent(t, d, "worker", 1, nil, nil)
	d.Start()
	defer d.Stop()

	require.True(t, d.SubmitTask(&dispatch.Task{Type: "review"}))
	a := waitAssignment(t, assigned)

	// The single slot is taken: agent reports busy.
	agents := d.AgentSnapshot()
	require.Len(t, agents, 1)
	assert.Equal(t, dispatch.StatusBusy, agents[0].Status)
	assert.Equal(t, 1, agents[0].CurrentLoad)

	require.NoError(t, d.CompleteTask(a.ID, true, map[string]interface{}{"verdict": "clean"}, ""))

	agents = d.AgentSnapshot()
	assert.Equal(t, dispatch.StatusAvailable, agents[0].Status)
	assert.Equal(t, 0, agents[0].CurrentLoad)
	assert.Equal(t, 1.0, agents[0].SuccessRate)

	done, ok := d.Assignment(a.ID)
	require.True(t, ok)
	assert.True(t, done.IsCompleted())
	assert.True(t, done.Success)
	assert.Equal(t, "clean", done.Result["verdict"])

	stats := d.Metrics()
	assert.EqualValues(t, 1, stats.TasksDistributed)
	assert.EqualValues(t, 1, stats.Succeeded)
	assert.Equal(t, 1, stats.CompletedCount)
	assert.Zero(t, stats.ActiveCount)

	assert.ErrorIs(t, d.CompleteTask("no-such-assignment", true, nil, ""), dispatch.ErrUnknownAssignment)
}

func TestDistributor_SetStrategy(t *testing.T) {
	d := newDistributor(t, "round_robin")

	err := d.SetStrategy("alphabetical")
	assert.ErrorIs(t, err, dispatch.ErrUnknownStrategy)
	assert.Equal(t, "round_robin", d.StrategyName())

	require.NoError(t, d.SetStrategy("performance"))
	assert.Equal(t, "performance", d.StrategyName())
}

func TestDistributor_RejectsInvalidAgents(t *testing.T) {
	d := newDistributor(t, "least_loaded")

	assert.Error(t, d.RegisterAgent(&dispatch.Agent{MaxConcurrentTasks: 1}))
	assert.Error(t, d.RegisterAgent(&dispatch.Agent{AgentID: "a"}))

	registerAgent(t, d, "a", 1, nil, nil)
	assert.ErrorIs(t, d.RegisterAgent(&dispatch.Agent{AgentID: "a", MaxConcurrentTasks: 1}), dispatch.ErrAgentExists)

	assert.ErrorIs(t, d.UnregisterAgent("ghost"), dispatch.ErrUnknownAgent)
	require.NoError(t, d.UnregisterAgent("a"))
}

func TestDistributor_Backpressure(t *testing.T) {
	d, err := dispatch.New(config.DispatchConf{
		QueueCapacity:   1,
		Strategy:        "least_loaded",
		SweepIntervalMs: 20,
	}, nil, zap.NewNop())
	require.NoError(t, err)

	// Not started and no agents: the queue only fills.
	assert.True(t, d.SubmitTask(&dispatch.Task{Type: "review"}))
	assert.False(t, d.SubmitTask(&dispatch.Task{Type: "review"}))
}
