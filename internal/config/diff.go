package config

import (
	"reflect"
	"sort"
	"strings"

	logx "bodaccwatch/pkg/logx"
)

// SummarizeConfigChange returns (1) a sorted list of changed sections,
// (2) safe structured attrs for logging (never includes webhook URLs or tokens),
// and (3) whether any changed section needs a process restart to take effect.
//
// Only "logging" is applied live; every other section is wired into components
// at construction time.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, bool) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 12)
	restart := false

	if !reflect.DeepEqual(oldCfg.Watcher, newCfg.Watcher) {
		changed = append(changed, "watcher")
		restart = true
		attrs = append(attrs,
			logx.Int("watcher.companies", len(newCfg.Watcher.Companies)),
			logx.String("watcher.poll_interval", strings.TrimSpace(newCfg.Watcher.PollInterval)),
			logx.String("watcher.schedule", strings.TrimSpace(newCfg.Watcher.Schedule)),
			logx.Int("watcher.max_results", newCfg.Watcher.MaxResults),
		)
	}

	if !reflect.DeepEqual(oldCfg.Source, newCfg.Source) {
		changed = append(changed, "source")
		restart = true
		attrs = append(attrs, logx.String("source.dataset", newCfg.Source.Dataset))
	}

	// Sink (never log webhook or token)
	if !reflect.DeepEqual(oldCfg.Sink, newCfg.Sink) {
		changed = append(changed, "sink")
		restart = true
		attrs = append(attrs,
			logx.String("sink.kind", newCfg.Sink.Kind),
			logx.Bool("sink.webhook_set", strings.TrimSpace(newCfg.Sink.WebhookURL) != ""),
			logx.Int("sink.rate_per_sec", newCfg.Sink.RatePerSec),
		)
	}

	oldS, newS := derefStorage(oldCfg.Storage), derefStorage(newCfg.Storage)
	if oldS != newS {
		changed = append(changed, "storage")
		restart = true
		attrs = append(attrs,
			logx.String("storage.driver", newS.Driver),
			logx.Bool("storage.audit", newS.Audit),
		)
	}

	oldSt, newSt := derefStatus(oldCfg.Status), derefStatus(newCfg.Status)
	if oldSt != newSt {
		changed = append(changed, "status")
		restart = true
		attrs = append(attrs,
			logx.Bool("status.enabled", newSt.Enabled),
			logx.String("status.addr", newSt.Addr),
			logx.Bool("status.pprof", newSt.Pprof),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	sort.Strings(changed)
	return changed, attrs, restart
}

func derefStorage(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{}
	}
	return *s
}

func derefStatus(s *StatusConfig) StatusConfig {
	if s == nil {
		return StatusConfig{}
	}
	return *s
}
