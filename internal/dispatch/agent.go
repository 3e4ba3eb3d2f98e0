package dispatch

import "time"

// AgentStatus is an agent's availability for new work.
type AgentStatus string

const (
	StatusAvailable AgentStatus = "AVAILABLE"
	StatusBusy      AgentStatus = "BUSY"
	StatusOffline   AgentStatus = "OFFLINE"
)

// Agent describes a registered worker agent: its declared capabilities and
// its live capacity. Mutated only by heartbeat/status updates and by task
// completion, always under the distributor's lock.
type Agent struct {
	AgentID            string             `json:"agent_id"`
	AgentType          string             `json:"agent_type"`
	Capabilities       []string           `json:"capabilities,omitempty"`
	MaxConcurrentTasks int                `json:"max_concurrent_tasks"`
	CurrentLoad        int                `json:"current_load"`
	AvgProcessingTime  time.Duration      `json:"avg_processing_time"`
	SuccessRate        float64            `json:"success_rate"`
	LastHeartbeat      time.Time          `json:"last_heartbeat"`
	Status             AgentStatus        `json:"status"`
	Specializations    map[string]float64 `json:"specializations,omitempty"` // task type -> [0,1]

	completed int64
	succeeded int64
}

// Eligible reports whether the agent can take the task right now:
// available, below capacity, and holding every required capability.
func (a *Agent) Eligible(t *Task) bool {
	if a.Status != StatusAvailable {
		return false
	}
	if a.CurrentLoad >= a.MaxConcurrentTasks {
		return false
	}
	for _, req := range t.RequiredCapabilities {
		if !a.hasCapability(req) {
			return false
		}
	}
	return true
}

func (a *Agent) hasCapability(c string) bool {
	for _, have := range a.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// LoadRatio is current load over capacity.
func (a *Agent) LoadRatio() float64 {
	if a.MaxConcurrentTasks == 0 {
		return 1
	}
	return float64(a.CurrentLoad) / float64(a.MaxConcurrentTasks)
}

// Specialization returns the agent's suitability score for a task type.
func (a *Agent) Specialization(taskType string) float64 {
	return a.Specializations[taskType]
}

// recordCompletion folds one finished assignment into the rolling
// average processing time and success rate.
func (a *Agent) recordCompletion(d time.Duration, success bool) {
	total := a.AvgProcessingTime*time.Duration(a.completed) + d
	a.completed++
	a.AvgProcessingTime = total / time.Duration(a.completed)
	if success {
		a.succeeded++
	}
	a.SuccessRate = float64(a.succeeded) / float64(a.completed)
}
