package config

import (
	"reflect"
	"sort"
	"strings"

	logx "github.com/etecture/generic-import-connector/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) structured attrs for the reload log line, and (3) the names of
// imports that were added, removed or changed.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.events_enabled", newCfg.Logging.Events.Enabled),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.Bool("scheduler.startup_spread", newCfg.Scheduler.StartupSpread),
		)
	}

	oTE := derefTaskEngine(oldCfg.TaskEngine)
	nTE := derefTaskEngine(newCfg.TaskEngine)
	if (oldCfg.TaskEngine != nil) != (newCfg.TaskEngine != nil) || !reflect.DeepEqual(oTE, nTE) {
		changed = append(changed, "task_engine")
		enabled := newCfg.Scheduler.Enabled
		if nTE.Enabled != nil {
			enabled = *nTE.Enabled
		}
		attrs = append(attrs,
			logx.Bool("task_engine.enabled", enabled),
			logx.Int("task_engine.workers", nTE.Workers),
			logx.Int("task_engine.queue_size", nTE.QueueSize),
			logx.String("task_engine.default_timeout", strings.TrimSpace(nTE.DefaultTimeout)),
			logx.Int("task_engine.retry_max", nTE.RetryMax),
		)
	}

	// Nil means disabled.
	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
		)
	}

	var oD, nD DiagnosticsConfig
	if oldCfg.Diagnostics != nil {
		oD = *oldCfg.Diagnostics
	}
	if newCfg.Diagnostics != nil {
		nD = *newCfg.Diagnostics
	}
	if oD != nD {
		changed = append(changed, "diagnostics")
		attrs = append(attrs,
			logx.Bool("diagnostics.enabled", nD.Enabled),
			logx.String("diagnostics.addr", strings.TrimSpace(nD.Addr)),
			logx.Bool("diagnostics.pprof", nD.Pprof),
		)
	}

	importsChanged := diffImports(oldCfg.Imports, newCfg.Imports)
	if len(importsChanged) > 0 {
		changed = append(changed, "imports")
		attrs = append(attrs,
			logx.Int("imports.changed_count", len(importsChanged)),
			logx.Int("imports.enabled_count", countEnabled(newCfg.Imports)),
		)
	}

	sort.Strings(changed)
	return changed, attrs, importsChanged
}

func derefTaskEngine(te *TaskEngineConfig) TaskEngineConfig {
	if te == nil {
		return TaskEngineConfig{}
	}
	return *te
}

func countEnabled(imports []ImportConfig) int {
	n := 0
	for _, ic := range imports {
		if ic.IsEnabled() {
			n++
		}
	}
	return n
}

func diffImports(oldL, newL []ImportConfig) []string {
	oldM := indexImports(oldL)
	newM := indexImports(newL)

	set := map[string]struct{}{}
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for name := range set {
		o, inOld := oldM[name]
		n, inNew := newM[name]
		if inOld != inNew || o.IsEnabled() != n.IsEnabled() {
			out = append(out, name)
			continue
		}
		o.Enabled, n.Enabled = nil, nil
		if o != n {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func indexImports(l []ImportConfig) map[string]ImportConfig {
	m := make(map[string]ImportConfig, len(l))
	for _, ic := range l {
		m[strings.TrimSpace(ic.Name)] = ic
	}
	return m
}
