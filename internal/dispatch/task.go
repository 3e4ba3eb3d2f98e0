package dispatch

import "time"

// TaskPriority orders tasks for dispatch. Lower values are more urgent.
type TaskPriority int

const (
	TaskPriorityHigh TaskPriority = iota
	TaskPriorityNormal
	TaskPriorityLow
)

func (p TaskPriority) String() string {
	switch p {
	case TaskPriorityHigh:
		return "high"
	case TaskPriorityNormal:
		return "normal"
	case TaskPriorityLow:
		return "low"
	}
	return "unknown"
}

// Task is a discrete unit of follow-up work handed to an agent.
type Task struct {
	ID                   string                 `json:"id"`
	Type                 string                 `json:"type"`
	Payload              map[string]interface{} `json:"payload,omitempty"`
	Priority             TaskPriority           `json:"priority"`
	RequiredCapabilities []string               `json:"required_capabilities,omitempty"`
	EstimatedDuration    time.Duration          `json:"estimated_duration,omitempty"`
	CreatedAt            time.Time              `json:"created_at"`
	TTL                  time.Duration          `json:"ttl,omitempty"` // 0 = never expires
}

// Expired reports whether the task's TTL elapsed without assignment.
func (t *Task) Expired(now time.Time) bool {
	return t.TTL > 0 && now.Sub(t.CreatedAt) > t.TTL
}

// Assignment tracks one task's lifecycle on one agent. It moves from the
// active map to the completed map on completion and is never deleted.
type Assignment struct {
	ID          string                 `json:"id"`
	Task        *Task                  `json:"task"`
	AgentID     string                 `json:"agent_id"`
	AssignedAt  time.Time              `json:"assigned_at"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt time.Time              `json:"completed_at,omitempty"`
	Success     bool                   `json:"success"`
	Result      map[string]interface{} `json:"result,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

// IsCompleted is true once a completion timestamp is set.
func (a *Assignment) IsCompleted() bool { return !a.CompletedAt.IsZero() }

// ProcessingTime is derived from the started/completed timestamps.
func (a *Assignment) ProcessingTime() time.Duration {
	if !a.IsCompleted() {
		return 0
	}
	return a.CompletedAt.Sub(a.StartedAt)
}

// queuedTask pairs a task with a FIFO sequence number so the heap has a
// total order: priority rank, then submission order.
type queuedTask struct {
	task *Task
	seq  uint64
}

type taskHeap []*queuedTask

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority < h[j].task.Priority
	}
	return h[i].seq < h[j].seq
}
func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x interface{}) { *h = append(*h, x.(*queuedTask)) }

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	qt := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return qt
}
