package transaction

import "github.com/shopspring/decimal"

// Priority is the urgency tier a transaction is queued under.
// Lower values drain first.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow

	// NumPriorities is the number of tiers (and sub-queues).
	NumPriorities = 4
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	}
	return "unknown"
}

// Classifier derives a Priority from transaction attributes.
// All thresholds are operational tuning values supplied by configuration.
type Classifier struct {
	CriticalAmount decimal.Decimal // at or above => CRITICAL
	HighAmount     decimal.Decimal // at or above => at least HIGH
	LowAmount      decimal.Decimal // below => LOW (unless a stronger signal bumps it)
	HomeCurrency   string          // foreign currency => at least HIGH
	HomeCountry    string          // cross-border location => at least HIGH
}

// Classify is deterministic and pure: the same transaction always lands
// in the same tier.
func (c *Classifier) Classify(tx *Transaction) Priority {
	if tx.Amount.GreaterThanOrEqual(c.CriticalAmount) {
		return PriorityCritical
	}
	if tx.Amount.GreaterThanOrEqual(c.HighAmount) {
		return PriorityHigh
	}
	if c.HomeCurrency != "" && tx.Currency != "" && tx.Currency != c.HomeCurrency {
		return PriorityHigh
	}
	if c.HomeCountry != "" && tx.Location != nil {
		if country, ok := tx.Location["country"]; ok && country != c.HomeCountry {
			return PriorityHigh
		}
	}
	if tx.Amount.LessThan(c.LowAmount) {
		return PriorityLow
	}
	return PriorityNormal
}
