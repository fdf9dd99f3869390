package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/etecture/generic-import-connector/internal/config"
	"github.com/etecture/generic-import-connector/internal/connector"
	"github.com/etecture/generic-import-connector/internal/observability/diag"
	"github.com/etecture/generic-import-connector/internal/storage"
	"github.com/etecture/generic-import-connector/internal/task/engine"
	"github.com/etecture/generic-import-connector/internal/task/scheduler"
	logx "github.com/etecture/generic-import-connector/pkg/logx"
)

// Config is the decoded config file.
type Config = config.Config

func mapLoggingConfig(cfg *Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Events: logx.EventsConfig{
			Enabled:    cfg.Logging.Events.Enabled,
			MinLevel:   cfg.Logging.Events.MinLevel,
			RatePerSec: cfg.Logging.Events.RatePerSec,
		},
	}
}

func mapSchedulerConfig(cfg *Config) scheduler.Config {
	return scheduler.Config{
		Enabled:       cfg.Scheduler.Enabled,
		StartupSpread: cfg.Scheduler.StartupSpread,
		PreviewRuns:   cfg.Scheduler.PreviewRuns,
	}
}

func mapStorageConfig(cfg *Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver, err := storage.NormalizeDriver(sc.Driver)
	if err != nil {
		return storage.Config{}, false, fmt.Errorf("storage.driver: %w", err)
	}
	if driver == storage.DriverNone {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
	}

	out := storage.Config{Driver: driver, Path: path}
	if driver == storage.DriverSQLite {
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		out.BusyTimeout = busy
	}
	return out, true, nil
}

func mapTaskEngineConfig(cfg *Config) (engine.Config, error) {
	if cfg == nil {
		return engine.Config{}, nil
	}
	te := config.TaskEngineConfig{}
	if cfg.TaskEngine != nil {
		te = *cfg.TaskEngine
	}

	enabled := cfg.Scheduler.Enabled
	if te.Enabled != nil {
		enabled = *te.Enabled
		// Scans would be triggered with nobody to run them.
		if cfg.Scheduler.Enabled && !enabled {
			return engine.Config{}, fmt.Errorf("task_engine.enabled cannot be false while scheduler.enabled is true")
		}
	}
	switch {
	case te.Workers < 0:
		return engine.Config{}, fmt.Errorf("task_engine.workers must be >= 0")
	case te.QueueSize < 0:
		return engine.Config{}, fmt.Errorf("task_engine.queue_size must be >= 0")
	case te.HistorySize < 0:
		return engine.Config{}, fmt.Errorf("task_engine.history_size must be >= 0")
	case te.RetryMax < 0:
		return engine.Config{}, fmt.Errorf("task_engine.retry_max must be >= 0")
	}
	defTimeout, err := config.ParseDurationField("task_engine.default_timeout", te.DefaultTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	maxQueueDelay, err := config.ParseDurationField("task_engine.max_queue_delay", te.MaxQueueDelay)
	if err != nil {
		return engine.Config{}, err
	}

	out := engine.Config{
		Enabled:        enabled,
		Workers:        te.Workers,
		QueueSize:      te.QueueSize,
		DefaultTimeout: defTimeout,
		MaxQueueDelay:  maxQueueDelay,
		HistorySize:    te.HistorySize,
		RetryMax:       te.RetryMax,
	}
	if out.Workers == 0 {
		out.Workers = 2
	}
	if out.QueueSize == 0 {
		out.QueueSize = 256
	}
	if out.HistorySize == 0 {
		out.HistorySize = 200
	}
	return out, nil
}

func mapDiagnosticsConfig(cfg *Config) (diag.Config, error) {
	if cfg == nil || cfg.Diagnostics == nil {
		return diag.Config{}, nil
	}
	d := cfg.Diagnostics
	read, err := config.ParseDurationOrDefault("diagnostics.read_timeout", d.ReadTimeout, 10*time.Second)
	if err != nil {
		return diag.Config{}, err
	}
	// pprof profiles stream for up to 30s by default.
	write, err := config.ParseDurationOrDefault("diagnostics.write_timeout", d.WriteTimeout, time.Minute)
	if err != nil {
		return diag.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("diagnostics.idle_timeout", d.IdleTimeout, time.Minute)
	if err != nil {
		return diag.Config{}, err
	}
	return diag.Config{
		Enabled:       d.Enabled,
		Addr:          strings.TrimSpace(d.Addr),
		Token:         strings.TrimSpace(d.Token),
		AllowInsecure: d.AllowInsecure,
		Pprof:         d.Pprof,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}

// mapImportSpecs converts imports to connector specs and checks each one
// can be activated: unique names, a path, a parsable schedule.
func mapImportSpecs(cfg *Config) ([]connector.Spec, error) {
	if cfg == nil {
		return nil, nil
	}
	seen := map[string]bool{}
	specs := make([]connector.Spec, 0, len(cfg.Imports))
	var errs []error
	for i, ic := range cfg.Imports {
		name := strings.TrimSpace(ic.Name)
		key := fmt.Sprintf("imports[%d]", i)
		if name != "" {
			key = fmt.Sprintf("imports[%s]", name)
		}
		if name == "" {
			errs = append(errs, fmt.Errorf("%s: name is required", key))
			continue
		}
		if seen[name] {
			errs = append(errs, fmt.Errorf("%s: duplicate name", key))
			continue
		}
		seen[name] = true
		if strings.TrimSpace(ic.Path) == "" {
			errs = append(errs, fmt.Errorf("%s.path is required", key))
			continue
		}
		if _, err := scheduler.ParseRecurrence(ic.Schedule, ic.StartDelay); err != nil {
			errs = append(errs, fmt.Errorf("%s.schedule: %w", key, err))
			continue
		}
		timeout, err := config.ParseDurationField(key+".timeout", ic.Timeout)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		window, err := config.ParseDurationField(key+".dedup_window", ic.DedupWindow)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		specs = append(specs, connector.Spec{
			Name:        name,
			Path:        strings.TrimSpace(ic.Path),
			Pattern:     ic.Pattern,
			Schedule:    strings.TrimSpace(ic.Schedule),
			StartDelay:  strings.TrimSpace(ic.StartDelay),
			MimeType:    strings.TrimSpace(ic.MimeType),
			Enabled:     ic.IsEnabled(),
			StopOnError: ic.StopOnError,
			Timeout:     timeout,
			DedupWindow: window,
		})
	}
	return specs, errors.Join(errs...)
}

// validateConfig rejects a config before it is committed, at boot and on
// hot reload.
func validateConfig(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if lvl := strings.TrimSpace(cfg.Logging.Level); lvl != "" {
		if _, ok := logx.ParseLevel(lvl); !ok {
			return fmt.Errorf("logging.level: unknown level %q", lvl)
		}
	}
	if lvl := strings.TrimSpace(cfg.Logging.Events.MinLevel); lvl != "" {
		if _, ok := logx.ParseLevel(lvl); !ok {
			return fmt.Errorf("logging.events.min_level: unknown level %q", lvl)
		}
	}
	if cfg.Logging.Events.RatePerSec < 0 {
		return fmt.Errorf("logging.events.rate_per_sec must be >= 0")
	}
	if cfg.Scheduler.PreviewRuns < 0 {
		return fmt.Errorf("scheduler.preview_runs must be >= 0")
	}
	if _, err := mapTaskEngineConfig(cfg); err != nil {
		return err
	}
	if _, err := mapDiagnosticsConfig(cfg); err != nil {
		return err
	}
	_, storeEnabled, err := mapStorageConfig(cfg)
	if err != nil {
		return err
	}
	specs, err := mapImportSpecs(cfg)
	if err != nil {
		return err
	}
	for _, s := range specs {
		if s.Enabled && !cfg.Scheduler.Enabled {
			return fmt.Errorf("imports[%s] needs scheduler.enabled: true", s.Name)
		}
		if s.DedupWindow > 0 && !storeEnabled {
			return fmt.Errorf("imports[%s].dedup_window requires storage", s.Name)
		}
	}
	return nil
}
