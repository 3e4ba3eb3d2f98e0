package dispatch

import "sort"

// Strategy picks one agent from a non-empty set of eligible candidates.
// Called under the distributor's lock; implementations must not block.
type Strategy interface {
	Name() string
	Select(t *Task, candidates []*Agent) *Agent
}

func newStrategies() map[string]Strategy {
	return map[string]Strategy{
		"round_robin":    &roundRobin{},
		"least_loaded":   leastLoaded{},
		"specialization": specialization{},
		"performance":    performance{},
		"hybrid": &hybrid{
			loadWeight:  0.3,
			specWeight:  0.3,
			perfWeight:  0.25,
			speedWeight: 0.15,
		},
	}
}

// byID keeps candidate order deterministic before selection.
func byID(candidates []*Agent) []*Agent {
	sorted := make([]*Agent, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].AgentID < sorted[j].AgentID })
	return sorted
}

// roundRobin cycles deterministically through eligible agents.
type roundRobin struct {
	next uint64
}

func (r *roundRobin) Name() string { return "round_robin" }

func (r *roundRobin) Select(_ *Task, candidates []*Agent) *Agent {
	sorted := byID(candidates)
	a := sorted[r.next%uint64(len(sorted))]
	r.next++
	return a
}

// leastLoaded picks the agent with the lowest load/capacity ratio.
type leastLoaded struct{}

func (leastLoaded) Name() string { return "least_loaded" }

func (leastLoaded) Select(_ *Task, candidates []*Agent) *Agent {
	best := candidates[0]
	for _, a := range candidates[1:] {
		if a.LoadRatio() < best.LoadRatio() ||
			(a.LoadRatio() == best.LoadRatio() && a.AgentID < best.AgentID) {
			best = a
		}
	}
	return best
}

// specialization picks the highest specialization score for the task type.
type specialization struct{}

func (specialization) Name() string { return "specialization" }

func (specialization) Select(t *Task, candidates []*Agent) *Agent {
	best := candidates[0]
	for _, a := range candidates[1:] {
		bs, as := best.Specialization(t.Type), a.Specialization(t.Type)
		if as > bs || (as == bs && a.AgentID < best.AgentID) {
			best = a
		}
	}
	return best
}

// performance favours high success rate and low average processing time.
type performance struct{}

func (performance) Name() string { return "performance" }

func (performance) Select(_ *Task, candidates []*Agent) *Agent {
	best, bestScore := candidates[0], perfScore(candidates[0])
	for _, a := range candidates[1:] {
		if s := perfScore(a); s > bestScore || (s == bestScore && a.AgentID < best.AgentID) {
			best, bestScore = a, s
		}
	}
	return best
}

func perfScore(a *Agent) float64 {
	rate := a.SuccessRate
	if a.completed == 0 {
		rate = 1 // no history yet: give the agent a chance
	}
	return rate * speedScore(a)
}

// speedScore maps average processing time onto (0,1]; instant = 1.
func speedScore(a *Agent) float64 {
	return 1 / (1 + a.AvgProcessingTime.Seconds())
}

// hybrid blends idle capacity, specialization, success rate, and speed.
type hybrid struct {
	loadWeight  float64
	specWeight  float64
	perfWeight  float64
	speedWeight float64
}

func (h *hybrid) Name() string { return "hybrid" }

func (h *hybrid) Select(t *Task, candidates []*Agent) *Agent {
	best, bestScore := candidates[0], h.score(t, candidates[0])
	for _, a := range candidates[1:] {
		if s := h.score(t, a); s > bestScore || (s == bestScore && a.AgentID < best.AgentID) {
			best, bestScore = a, s
		}
	}
	return best
}

func (h *hybrid) score(t *Task, a *Agent) float64 {
	rate := a.SuccessRate
	if a.completed == 0 {
		rate = 1
	}
	return h.loadWeight*(1-a.LoadRatio()) +
		h.specWeight*a.Specialization(t.Type) +
		h.perfWeight*rate +
		h.speedWeight*speedScore(a)
}
