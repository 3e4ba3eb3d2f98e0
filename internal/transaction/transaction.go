package transaction

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is the canonical input model for all incoming payment events.
// It is immutable once submitted to the processor.
type Transaction struct {
	ID         string                 `json:"id"`
	UserID     string                 `json:"user_id"`
	Amount     decimal.Decimal        `json:"amount"`
	Currency   string                 `json:"currency"`
	Merchant   string                 `json:"merchant"`
	Category   string                 `json:"category"`
	Timestamp  time.Time              `json:"timestamp"`
	Location   map[string]string      `json:"location,omitempty"`    // country, city, ip, etc.
	DeviceInfo map[string]string      `json:"device_info,omitempty"` // device_id, os, etc.
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Decision is the verdict a scorer renders for one transaction.
type Decision string

const (
	DecisionApprove Decision = "APPROVE"
	DecisionDecline Decision = "DECLINE"
	DecisionFlag    Decision = "FLAG"
)

// Result is produced exactly once per transaction by the scoring function.
type Result struct {
	TransactionID   string        `json:"transaction_id"`
	Decision        Decision      `json:"decision"`
	Confidence      float64       `json:"confidence"` // [0,1]
	RiskScore       float64       `json:"risk_score"` // [0,1]
	ProcessingTime  time.Duration `json:"processing_time"`
	FraudIndicators []string      `json:"fraud_indicators,omitempty"`
	Recommendations []string      `json:"recommendations,omitempty"`
	Timestamp       time.Time     `json:"timestamp"`
}
