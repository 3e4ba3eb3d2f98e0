package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ComplianceReport aggregates a time range for regulatory review and embeds
// a fresh integrity verification so the report itself is evidence.
type ComplianceReport struct {
	GeneratedAt             time.Time           `json:"generated_at"`
	ReportType              string              `json:"report_type"`
	PeriodStart             time.Time           `json:"period_start"`
	PeriodEnd               time.Time           `json:"period_end"`
	TotalEntries            int                 `json:"total_entries"`
	ByEventType             map[string]int      `json:"by_event_type"`
	BySeverity              map[string]int      `json:"by_severity"`
	ByDecision              map[string]int      `json:"by_decision"`
	Escalations             []*Entry            `json:"escalations"`
	HighConfidenceDecisions []*Entry            `json:"high_confidence_decisions"`
	Errors                  []*Entry            `json:"errors"`
	Integrity               *VerificationResult `json:"integrity"`
}

// highConfidence is the cut above which a decision is listed individually
// in compliance reports.
const highConfidence = 0.9

// GenerateComplianceReport scans the range and builds the aggregate view.
func (t *Trail) GenerateComplianceReport(start, end time.Time, reportType string) (*ComplianceReport, error) {
	rep := &ComplianceReport{
		GeneratedAt: time.Now().UTC(),
		ReportType:  reportType,
		PeriodStart: start,
		PeriodEnd:   end,
		ByEventType: make(map[string]int),
		BySeverity:  make(map[string]int),
		ByDecision:  make(map[string]int),
	}

	err := t.store.Iterate(func(_ string, _ int, e *Entry) error {
		if e.Timestamp.Before(start) || e.Timestamp.After(end) {
			return nil
		}
		rep.TotalEntries++
		rep.ByEventType[e.EventType]++
		rep.BySeverity[e.Severity]++
		if e.Decision != "" {
			rep.ByDecision[e.Decision]++
			if e.Confidence != nil && *e.Confidence >= highConfidence {
				rep.HighConfidenceDecisions = append(rep.HighConfidenceDecisions, e)
			}
		}
		switch e.EventType {
		case "escalation":
			rep.Escalations = append(rep.Escalations, e)
		case "system_error":
			rep.Errors = append(rep.Errors, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("audit: report: %w", err)
	}

	verification, err := t.VerifyIntegrity()
	if err != nil {
		return nil, err
	}
	rep.Integrity = verification
	return rep, nil
}

// TransactionTrail is the full ordered timeline for one transaction, with
// categorized sub-views for reviewers.
type TransactionTrail struct {
	TransactionID  string   `json:"transaction_id"`
	Entries        []*Entry `json:"entries"`
	Decisions      []*Entry `json:"decisions"`
	ReasoningSteps []string `json:"reasoning_steps"`
	AgentActions   []*Entry `json:"agent_actions"`
	ExternalCalls  []*Entry `json:"external_calls"`
}

// GetTransactionTrail returns every entry referencing the transaction,
// in chain order.
func (t *Trail) GetTransactionTrail(transactionID string) (*TransactionTrail, error) {
	tt := &TransactionTrail{TransactionID: transactionID}
	err := t.store.Iterate(func(_ string, _ int, e *Entry) error {
		if e.TransactionID != transactionID {
			return nil
		}
		tt.Entries = append(tt.Entries, e)
		if e.Decision != "" {
			tt.Decisions = append(tt.Decisions, e)
		}
		tt.ReasoningSteps = append(tt.ReasoningSteps, e.ReasoningSteps...)
		if e.AgentID != "" {
			tt.AgentActions = append(tt.AgentActions, e)
		}
		if e.EventType == "external_call" {
			tt.ExternalCalls = append(tt.ExternalCalls, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("audit: transaction trail: %w", err)
	}
	return tt, nil
}

// Export writes a full or range-filtered entry dump for regulatory
// hand-off. Formats: "json" (array) or "yaml".
func (t *Trail) Export(path, format string, from, to time.Time) error {
	var entries []*Entry
	err := t.store.Iterate(func(_ string, _ int, e *Entry) error {
		if !from.IsZero() && e.Timestamp.Before(from) {
			return nil
		}
		if !to.IsZero() && e.Timestamp.After(to) {
			return nil
		}
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return fmt.Errorf("audit: export: %w", err)
	}

	var data []byte
	switch format {
	case "json":
		data, err = json.MarshalIndent(entries, "", "  ")
	case "yaml":
		data, err = yaml.Marshal(entries)
	default:
		return fmt.Errorf("audit: export: unknown format %q", format)
	}
	if err != nil {
		return fmt.Errorf("audit: export encode: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("audit: export write %s: %w", path, err)
	}
	return nil
}
