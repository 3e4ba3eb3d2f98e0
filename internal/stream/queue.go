package stream

import (
	"github.com/gyaneshwarpardhi/sentinel/internal/transaction"
)

// priorityQueues is the four bounded sub-queues a worker drains in strict
// tier order: CRITICAL, then HIGH, then NORMAL, then LOW.
type priorityQueues struct {
	tiers [transaction.NumPriorities]chan *transaction.Transaction
}

func newPriorityQueues(capacity int) *priorityQueues {
	q := &priorityQueues{}
	for i := range q.tiers {
		q.tiers[i] = make(chan *transaction.Transaction, capacity)
	}
	return q
}

// submit enqueues without blocking; false signals backpressure.
func (q *priorityQueues) submit(tx *transaction.Transaction, p transaction.Priority) bool {
	select {
	case q.tiers[p] <- tx:
		return true
	default:
		return false
	}
}

// tryPop drains the highest non-empty tier without blocking.
func (q *priorityQueues) tryPop() (*transaction.Transaction, bool) {
	for i := range q.tiers {
		select {
		case tx := <-q.tiers[i]:
			return tx, true
		default:
		}
	}
	return nil, false
}

// pop blocks until any tier yields an item or a control channel fires.
// Callers must tryPop first: the blocking select only runs when every tier
// was empty an instant ago, so whichever tier wakes it was the only work.
func (q *priorityQueues) pop(stop, retire <-chan struct{}) (*transaction.Transaction, bool) {
	if tx, ok := q.tryPop(); ok {
		return tx, true
	}
	select {
	case tx := <-q.tiers[transaction.PriorityCritical]:
		return tx, true
	case tx := <-q.tiers[transaction.PriorityHigh]:
		return tx, true
	case tx := <-q.tiers[transaction.PriorityNormal]:
		return tx, true
	case tx := <-q.tiers[transaction.PriorityLow]:
		return tx, true
	case <-retire:
		return nil, false
	case <-stop:
		return nil, false
	}
}

// depth reports one tier's current length.
func (q *priorityQueues) depth(p transaction.Priority) int {
	return len(q.tiers[p])
}

// totalDepth reports queued items across all tiers.
func (q *priorityQueues) totalDepth() int {
	total := 0
	for i := range q.tiers {
		total += len(q.tiers[i])
	}
	return total
}
