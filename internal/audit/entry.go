package audit

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// GenesisHash roots the chain: the first entry's previous hash.
var GenesisHash = strings.Repeat("0", 64)

// Entry is one immutable audit record. The hash of entry n is computed
// over every field except its own Hash, including PreviousHash, so any
// mutation invalidates the chain from that point onward.
type Entry struct {
	ID             string                 `json:"id"`
	Timestamp      time.Time              `json:"timestamp"`
	EventType      string                 `json:"event_type"`
	Severity       string                 `json:"severity"`
	TransactionID  string                 `json:"transaction_id,omitempty"`
	UserID         string                 `json:"user_id,omitempty"`
	AgentID        string                 `json:"agent_id,omitempty"`
	Action         string                 `json:"action"`
	Details        map[string]interface{} `json:"details,omitempty"`
	ReasoningSteps []string               `json:"reasoning_steps,omitempty"`
	Decision       string                 `json:"decision,omitempty"`
	Confidence     *float64               `json:"confidence,omitempty"`
	Evidence       []string               `json:"evidence,omitempty"`
	PreviousHash   string                 `json:"previous_hash"`
	Hash           string                 `json:"hash"`
}

// ComputeHash returns the SHA-256 hex digest of the entry's hash input:
// a canonical JSON encoding of all fields except Hash itself.
func (e *Entry) ComputeHash() (string, error) {
	input := struct {
		ID             string                 `json:"id"`
		Timestamp      time.Time              `json:"timestamp"`
		EventType      string                 `json:"event_type"`
		Severity       string                 `json:"severity"`
		TransactionID  string                 `json:"transaction_id"`
		UserID         string                 `json:"user_id"`
		AgentID        string                 `json:"agent_id"`
		Action         string                 `json:"action"`
		Details        map[string]interface{} `json:"details"`
		ReasoningSteps []string               `json:"reasoning_steps"`
		Decision       string                 `json:"decision"`
		Confidence     *float64               `json:"confidence"`
		Evidence       []string               `json:"evidence"`
		PreviousHash   string                 `json:"previous_hash"`
	}{
		ID:             e.ID,
		Timestamp:      e.Timestamp,
		EventType:      e.EventType,
		Severity:       e.Severity,
		TransactionID:  e.TransactionID,
		UserID:         e.UserID,
		AgentID:        e.AgentID,
		Action:         e.Action,
		Details:        e.Details,
		ReasoningSteps: e.ReasoningSteps,
		Decision:       e.Decision,
		Confidence:     e.Confidence,
		Evidence:       e.Evidence,
		PreviousHash:   e.PreviousHash,
	}
	data, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("marshal entry %s for hashing: %w", e.ID, err)
	}
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum), nil
}
