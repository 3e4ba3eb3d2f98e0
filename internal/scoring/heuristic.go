// Package scoring ships a baseline heuristic scorer so the pipeline runs
// unconfigured. Production deployments replace it with an external
// reasoning service behind the same stream.Scorer interface.
package scoring

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gyaneshwarpardhi/sentinel/internal/transaction"
)

// Heuristic scores on amount ratio, currency/location anomalies, device
// hygiene, and per-user submission velocity.
type Heuristic struct {
	criticalAmount decimal.Decimal
	homeCurrency   string
	homeCountry    string

	velocityWindow time.Duration
	velocityLimit  int

	mu     sync.Mutex
	recent map[string][]time.Time
}

// Option tweaks a Heuristic.
type Option func(*Heuristic)

// WithVelocity overrides the velocity window and limit.
func WithVelocity(window time.Duration, limit int) Option {
	return func(h *Heuristic) {
		h.velocityWindow = window
		h.velocityLimit = limit
	}
}

// NewHeuristic builds the default scorer.
func NewHeuristic(criticalAmount decimal.Decimal, homeCurrency, homeCountry string, opts ...Option) *Heuristic {
	h := &Heuristic{
		criticalAmount: criticalAmount,
		homeCurrency:   homeCurrency,
		homeCountry:    homeCountry,
		velocityWindow: 5 * time.Minute,
		velocityLimit:  5,
		recent:         make(map[string][]time.Time),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Score implements stream.Scorer.
func (h *Heuristic) Score(_ context.Context, tx *transaction.Transaction) (*transaction.Result, error) {
	var risk float64
	var indicators []string

	// Amount pressure: linear up to the critical threshold.
	if h.criticalAmount.IsPositive() {
		ratio, _ := tx.Amount.Div(h.criticalAmount).Float64()
		if ratio > 1 {
			ratio = 1
		}
		if ratio < 0 {
			ratio = 0
		}
		risk += 0.5 * ratio
		if ratio >= 1 {
			indicators = append(indicators, "amount_above_critical")
		}
	}

	if h.homeCurrency != "" && tx.Currency != "" && tx.Currency != h.homeCurrency {
		risk += 0.15
		indicators = append(indicators, "foreign_currency")
	}
	if h.homeCountry != "" && tx.Location != nil {
		if country, ok := tx.Location["country"]; ok && country != h.homeCountry {
			risk += 0.15
			indicators = append(indicators, "cross_border")
		}
	}
	if tx.DeviceInfo == nil || tx.DeviceInfo["device_id"] == "" {
		risk += 0.05
		indicators = append(indicators, "unknown_device")
	}
	if h.velocity(tx) > h.velocityLimit {
		risk += 0.2
		indicators = append(indicators, "high_velocity")
	}
	if risk > 1 {
		risk = 1
	}

	decision := transaction.DecisionApprove
	recommendations := []string{"no action required"}
	switch {
	case risk >= 0.8:
		decision = transaction.DecisionDecline
		recommendations = []string{"decline transaction", "review account activity"}
	case risk >= 0.5:
		decision = transaction.DecisionFlag
		recommendations = []string{"hold for manual review"}
	}

	// Confidence grows with distance from the decision boundary.
	confidence := 0.5 + (risk-0.5)*(risk-0.5)*2
	if confidence > 1 {
		confidence = 1
	}

	return &transaction.Result{
		TransactionID:   tx.ID,
		Decision:        decision,
		Confidence:      confidence,
		RiskScore:       risk,
		FraudIndicators: indicators,
		Recommendations: recommendations,
		Timestamp:       time.Now(),
	}, nil
}

// velocity counts the user's submissions inside the window, including
// this one.
func (h *Heuristic) velocity(tx *transaction.Transaction) int {
	if tx.UserID == "" {
		return 0
	}
	now := time.Now()
	cutoff := now.Add(-h.velocityWindow)
	h.mu.Lock()
	defer h.mu.Unlock()
	kept := h.recent[tx.UserID][:0]
	for _, at := range h.recent[tx.UserID] {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	kept = append(kept, now)
	h.recent[tx.UserID] = kept
	return len(kept)
}
