package config

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/gyaneshwarpardhi/sentinel/internal/event"
)

var knownActions = map[string]struct{}{
	"BLOCK_TRANSACTION": {},
	"BLOCK_ACCOUNT":     {},
	"SEND_ALERT":        {},
	"LOG_EVENT":         {},
	"ESCALATE_TO_HUMAN": {},
}

var knownStrategies = map[string]struct{}{
	"round_robin":    {},
	"least_loaded":   {},
	"specialization": {},
	"performance":    {},
	"hybrid":         {},
}

// Validate checks the config for:
//   - Sane worker bounds and thresholds
//   - Parseable decimal amounts
//   - Duplicate rule IDs, unknown severities/actions, malformed rules
func Validate(cfg *Config) error {
	var errs []string

	s := cfg.Stream
	if s.MinWorkers < 1 {
		errs = append(errs, "stream: min_workers must be >= 1")
	}
	if s.MaxWorkers < s.MinWorkers {
		errs = append(errs, "stream: max_workers must be >= min_workers")
	}
	if s.ScaleDownThreshold >= s.ScaleUpThreshold {
		errs = append(errs, "stream: scale_down_threshold must be below scale_up_threshold")
	}
	for _, amt := range []struct{ name, val string }{
		{"critical_amount", s.CriticalAmount},
		{"high_amount", s.HighAmount},
		{"low_amount", s.LowAmount},
	} {
		if _, err := decimal.NewFromString(amt.val); err != nil {
			errs = append(errs, fmt.Sprintf("stream: %s %q is not a decimal", amt.name, amt.val))
		}
	}

	if _, ok := knownStrategies[cfg.Dispatch.Strategy]; !ok {
		errs = append(errs, fmt.Sprintf("dispatch: unknown strategy %q", cfg.Dispatch.Strategy))
	}

	validTypes := make(map[string]struct{})
	for _, t := range event.Types() {
		validTypes[string(t)] = struct{}{}
	}

	ids := make(map[string]struct{})
	for i, r := range cfg.Rules {
		loc := fmt.Sprintf("rules[%d]", i)
		if r.ID == "" {
			errs = append(errs, loc+": id is required")
			continue
		}
		loc = fmt.Sprintf("rule %s", r.ID)
		if _, dup := ids[r.ID]; dup {
			errs = append(errs, fmt.Sprintf("duplicate rule id %q", r.ID))
		}
		ids[r.ID] = struct{}{}
		if len(r.EventTypes) == 0 {
			errs = append(errs, loc+": event_types must not be empty")
		}
		for _, t := range r.EventTypes {
			if _, ok := validTypes[t]; !ok {
				errs = append(errs, fmt.Sprintf("%s: unknown event type %q", loc, t))
			}
		}
		if !event.Severity(r.MinSeverity).Valid() {
			errs = append(errs, fmt.Sprintf("%s: unknown severity %q", loc, r.MinSeverity))
		}
		if len(r.Actions) == 0 {
			errs = append(errs, loc+": actions must not be empty")
		}
		for _, a := range r.Actions {
			if _, ok := knownActions[a]; !ok {
				errs = append(errs, fmt.Sprintf("%s: unknown action %q", loc, a))
			}
		}
		if r.CooldownSeconds < 0 {
			errs = append(errs, loc+": cooldown_seconds must not be negative")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
