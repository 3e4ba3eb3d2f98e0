package config

// Config is the top-level YAML structure.
type Config struct {
	Version  string       `yaml:"version"`
	LogLevel string       `yaml:"log_level"`
	Stream   StreamConf   `yaml:"stream"`
	Response ResponseConf `yaml:"response"`
	Dispatch DispatchConf `yaml:"dispatch"`
	Audit    AuditConf    `yaml:"audit"`
	Rules    []RuleDef    `yaml:"rules"`
}

// StreamConf holds the transaction processor's tunables. Classification
// thresholds and scaling heuristics are operational values, not constants.
type StreamConf struct {
	MinWorkers         int     `yaml:"min_workers"`
	MaxWorkers         int     `yaml:"max_workers"`
	QueueCapacity      int     `yaml:"queue_capacity"` // per priority tier
	ScaleUpThreshold   float64 `yaml:"scale_up_threshold"`   // queued items per worker
	ScaleDownThreshold float64 `yaml:"scale_down_threshold"` // queued items per worker
	ScaleIntervalMs    int     `yaml:"scale_interval_ms"`
	CriticalAmount     string  `yaml:"critical_amount"` // decimal strings
	HighAmount         string  `yaml:"high_amount"`
	LowAmount          string  `yaml:"low_amount"`
	HomeCurrency       string  `yaml:"home_currency"`
	HomeCountry        string  `yaml:"home_country"`
	MetricsWindowSec   int     `yaml:"metrics_window_sec"` // sliding TPS window
}

// ResponseConf holds the event response engine's tunables.
type ResponseConf struct {
	QueueCapacity         int `yaml:"queue_capacity"`
	CorrelationWindowSec  int `yaml:"correlation_window_sec"`
	CorrelationMinEvents  int `yaml:"correlation_min_events"`
	CorrelationIntervalMs int `yaml:"correlation_interval_ms"`
	ExecutionHistoryLimit int `yaml:"execution_history_limit"`
}

// DispatchConf holds the workload distributor's tunables.
type DispatchConf struct {
	QueueCapacity   int    `yaml:"queue_capacity"`
	Strategy        string `yaml:"strategy"`     // round_robin, least_loaded, specialization, performance, hybrid
	TaskTTLSec      int    `yaml:"task_ttl_sec"` // 0 = no expiry
	SweepIntervalMs int    `yaml:"sweep_interval_ms"`
}

// AuditConf holds audit trail storage settings.
type AuditConf struct {
	Dir               string `yaml:"dir"`
	SegmentMaxEntries int    `yaml:"segment_max_entries"`
	Compress          bool   `yaml:"compress"` // gzip rotated segments
}

// RuleDef is the wire form of a response rule (YAML config and JSON API).
type RuleDef struct {
	ID              string             `yaml:"id" json:"id"`
	Name            string             `yaml:"name" json:"name"`
	EventTypes      []string           `yaml:"event_types" json:"event_types"`
	MinSeverity     string             `yaml:"min_severity" json:"min_severity"`
	Actions         []string           `yaml:"actions" json:"actions"`
	Conditions      map[string]float64 `yaml:"conditions,omitempty" json:"conditions,omitempty"`
	Priority        int                `yaml:"priority" json:"priority"` // lower = evaluated first
	CooldownSeconds int                `yaml:"cooldown_seconds" json:"cooldown_seconds"`
	Enabled         bool               `yaml:"enabled" json:"enabled"`
}
