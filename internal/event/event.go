package event

import "time"

// Type classifies a derived fraud signal.
type Type string

const (
	TypeFraudDetected       Type = "FRAUD_DETECTED"
	TypeVelocityExceeded    Type = "VELOCITY_EXCEEDED"
	TypeHighRiskTransaction Type = "HIGH_RISK_TRANSACTION"
	TypeLocationAnomaly     Type = "LOCATION_ANOMALY"
	TypeSuspiciousPattern   Type = "SUSPICIOUS_PATTERN"
	TypeAccountCompromise   Type = "ACCOUNT_COMPROMISE"
)

// Types lists every known event type.
func Types() []Type {
	return []Type{
		TypeFraudDetected,
		TypeVelocityExceeded,
		TypeHighRiskTransaction,
		TypeLocationAnomaly,
		TypeSuspiciousPattern,
		TypeAccountCompromise,
	}
}

// Severity orders events for dispatch: CRITICAL > HIGH > MEDIUM > LOW.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Rank returns a comparable weight; higher means more urgent.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	case SeverityLow:
		return 0
	}
	return -1
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool { return s.Rank() >= 0 }

// FraudEvent is a derived fraud signal raised by the stream processor,
// the correlation detector, or any external signal source.
type FraudEvent struct {
	ID            string                 `json:"id"`
	Type          Type                   `json:"type"`
	Severity      Severity               `json:"severity"`
	Source        string                 `json:"source"` // originating component
	Details       map[string]interface{} `json:"details,omitempty"`
	RiskScore     float64                `json:"risk_score"`
	Confidence    float64                `json:"confidence"`
	TransactionID string                 `json:"transaction_id,omitempty"`
	UserID        string                 `json:"user_id,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
}

// Less orders events for dispatch: severity first, then recency
// (a newer event of equal severity goes first).
func Less(a, b *FraudEvent) bool {
	if ar, br := a.Severity.Rank(), b.Severity.Rank(); ar != br {
		return ar > br
	}
	return a.Timestamp.After(b.Timestamp)
}
