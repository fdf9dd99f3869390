package config

import "strings"

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Scheduler controls triggers. Execution settings live in task_engine.
	Scheduler SchedulerConfig `json:"scheduler"`

	// TaskEngine controls execution of scans and imports.
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`

	Storage *StorageConfig `json:"storage,omitempty"`

	// Diagnostics is the optional operator HTTP endpoint.
	Diagnostics *DiagnosticsConfig `json:"diagnostics,omitempty"`

	// Imports lists the connector endpoints.
	Imports []ImportConfig `json:"imports"`
}

// TaskEngineConfig controls the task execution engine.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Enabled is a pointer so we can distinguish "omitted" (default to scheduler.enabled)
// from an explicit false.
//
// Defaults (when fields are omitted/zero):
//   - enabled: scheduler.enabled
//   - workers: 2
//   - queue_size: 256
//   - default_timeout: "0s" (disabled)
//   - max_queue_delay: "0s" (disabled)
//   - history_size: 200
//   - retry_max: 3 (NoRetry errors, such as malformed files, are never retried)
type TaskEngineConfig struct {
	Enabled *bool `json:"enabled,omitempty"`
	Workers int   `json:"workers,omitempty"`

	QueueSize int `json:"queue_size,omitempty"`

	// Use "0s" to disable a global default timeout.
	DefaultTimeout string `json:"default_timeout,omitempty"`

	// MaxQueueDelay drops tasks that have been queued longer than this duration.
	// Use "0s" to disable stale queue dropping.
	MaxQueueDelay string `json:"max_queue_delay,omitempty"`

	HistorySize int `json:"history_size,omitempty"`
	RetryMax    int `json:"retry_max,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data/importd" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// DiagnosticsConfig controls the operator HTTP endpoint (/healthz, /status,
// /imports and optionally /debug/pprof/). Durations are Go duration strings.
type DiagnosticsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	WriteTimeout  string `json:"write_timeout,omitempty"`
	IdleTimeout   string `json:"idle_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LoggingFile   `json:"file"`
	Events  LoggingEvents `json:"events"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingEvents forwards log records at or above MinLevel to the event bus,
// where the history recorder persists them.
type LoggingEvents struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

type SchedulerConfig struct {
	Enabled bool `json:"enabled"`

	// StartupSpread delays the first run of periodic imports without a
	// start_delay by a stable per-name offset.
	StartupSpread bool `json:"startup_spread,omitempty"`

	// PreviewRuns is the number of upcoming runs listed in snapshots.
	PreviewRuns int `json:"preview_runs,omitempty"`
}

// ImportConfig is one connector endpoint.
//
// Schedule accepts a temporal expression ("*/5 * * *", "@hourly") or a
// periodic form ("every:30s", "interval:01:00", "15m"); StartDelay applies
// to periodic forms only.
type ImportConfig struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	Pattern    string `json:"pattern,omitempty"`
	Schedule   string `json:"schedule"`
	StartDelay string `json:"start_delay,omitempty"`
	MimeType   string `json:"mime_type,omitempty"`

	// Enabled defaults to true when omitted.
	Enabled *bool `json:"enabled,omitempty"`

	StopOnError bool   `json:"stop_on_error,omitempty"`
	Timeout     string `json:"timeout,omitempty"`
	DedupWindow string `json:"dedup_window,omitempty"`
}

func (c ImportConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// ImportNames returns the trimmed names of all imports in config order.
func (c *Config) ImportNames() []string {
	if c == nil {
		return nil
	}
	out := make([]string, 0, len(c.Imports))
	for _, ic := range c.Imports {
		out = append(out, strings.TrimSpace(ic.Name))
	}
	return out
}
