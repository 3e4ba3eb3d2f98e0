package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func agent(id string, load, capacity int) *Agent {
	return &Agent{
		AgentID:            id,
		MaxConcurrentTasks: capacity,
		CurrentLoad:        load,
		Status:             StatusAvailable,
	}
}

func TestRoundRobin_CyclesDeterministically(t *testing.T) {
	rr := &roundRobin{}
	candidates := []*Agent{agent("b", 0, 5), agent("a", 0, 5), agent("c", 0, 5)}

	task := &Task{Type: "review"}
	got := []string{
		rr.Select(task, candidates).AgentID,
		rr.Select(task, candidates).AgentID,
		rr.Select(task, candidates).AgentID,
		rr.Select(task, candidates).AgentID,
	}
	assert.Equal(t, []string{"a", "b", "c", "a"}, got)
}

func TestLeastLoaded_PicksLowestRatio(t *testing.T) {
	s := leastLoaded{}
	a := agent("a", 3, 10)
	b := agent("b", 1, 10)
	c := agent("c", 4, 4)

	assert.Equal(t, "b", s.Select(&Task{}, []*Agent{a, b, c}).AgentID)

	// Ratio ties break on agent ID.
	d1 := agent("d", 2, 10)
	d2 := agent("e", 1, 5)
	assert.Equal(t, "d", s.Select(&Task{}, []*Agent{d2, d1}).AgentID)
}

func TestSpecialization_PicksHighestScore(t *testing.T) {
	s := specialization{}
	a := agent("a", 0, 5)
	a.Specializations = map[string]float64{"fraud_review": 0.9}
	b := agent("b", 0, 5)
	b.Specializations = map[string]float64{"fraud_review": 0.7}

	assert.Equal(t, "a", s.Select(&Task{Type: "fraud_review"}, []*Agent{b, a}).AgentID)

	// No declared specialization scores zero for the type.
	c := agent("c", 0, 5)
	assert.Equal(t, "a", s.Select(&Task{Type: "fraud_review"}, []*Agent{c, a}).AgentID)
}

func TestPerformance_FavoursFastReliableAgents(t *testing.T) {
	s := performance{}
	fast := agent("fast", 0, 5)
	fast.recordCompletion(100*time.Millisecond, true)
	slow := agent("slow", 0, 5)
	slow.recordCompletion(10*time.Second, true)
	flaky := agent("flaky", 0, 5)
	flaky.recordCompletion(100*time.Millisecond, true)
	flaky.recordCompletion(100*time.Millisecond, false)

	assert.Equal(t, "fast", s.Select(&Task{}, []*Agent{slow, flaky, fast}).AgentID)
}

func TestPerformance_NewAgentGetsAChance(t *testing.T) {
	s := performance{}
	veteran := agent("veteran", 0, 5)
	veteran.recordCompletion(time.Second, true)
	fresh := agent("fresh", 0, 5)

	// No history means full success rate and zero average time.
	assert.Equal(t, "fresh", s.Select(&Task{}, []*Agent{veteran, fresh}).AgentID)
}

func TestHybrid_BlendsSignals(t *testing.T) {
	h := newStrategies()["hybrid"]

	idle := agent("idle", 0, 10)
	idle.Specializations = map[string]float64{"review": 0.2}
	loaded := agent("loaded", 9, 10)
	loaded.Specializations = map[string]float64{"review": 0.3}

	// Near-equal specialization: idle capacity dominates.
	assert.Equal(t, "idle", h.Select(&Task{Type: "review"}, []*Agent{loaded, idle}).AgentID)

	expert := agent("expert", 9, 10)
	expert.Specializations = map[string]float64{"review": 1.0}
	generalist := agent("generalist", 0, 10)

	// A strong enough specialization gap can outweigh load.
	assert.Equal(t, "expert", h.Select(&Task{Type: "review"}, []*Agent{generalist, expert}).AgentID)
}

func TestAgentEligibility(t *testing.T) {
	a := agent("a", 0, 2)
	a.Capabilities = []string{"manual_review", "chargeback"}

	assert.True(t, a.Eligible(&Task{RequiredCapabilities: []string{"manual_review"}}))
	assert.False(t, a.Eligible(&Task{RequiredCapabilities: []string{"kyc"}}))

	a.CurrentLoad = 2
	assert.False(t, a.Eligible(&Task{}))

	a.CurrentLoad = 0
	a.Status = StatusOffline
	assert.False(t, a.Eligible(&Task{}))
}

func TestTaskExpiry(t *testing.T) {
	now := time.Now()
	assert.False(t, (&Task{CreatedAt: now, TTL: 0}).Expired(now.Add(time.Hour)))
	assert.False(t, (&Task{CreatedAt: now, TTL: time.Minute}).Expired(now.Add(30*time.Second)))
	assert.True(t, (&Task{CreatedAt: now, TTL: time.Minute}).Expired(now.Add(2*time.Minute)))
}
