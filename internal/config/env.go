package config

import (
	"strconv"
	"strings"
)

// Environment variables understood by ApplyEnv. The first five keep the names
// used by existing deployments' .env files.
const (
	EnvWebhookURL    = "DISCORD_WEBHOOK_URL"
	EnvCompanies     = "COMPANIES"
	EnvPollInterval  = "POLL_INTERVAL_MS"
	EnvMaxResults    = "MAX_RESULTS_PER_COMPANY"
	EnvStateFilePath = "STATE_FILE_PATH"
	EnvLogLevel      = "LOG_LEVEL"
)

// LookupFunc has the signature of os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays environment values on top of cfg. Env always wins over the file.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	if cfg == nil || lookup == nil {
		return nil
	}
	get := func(k string) (string, bool) {
		v, ok := lookup(k)
		if !ok {
			return "", false
		}
		v = strings.TrimSpace(v)
		return v, v != ""
	}

	if v, ok := get(EnvWebhookURL); ok {
		cfg.Sink.WebhookURL = v
	}
	if v, ok := get(EnvCompanies); ok {
		cfg.Watcher.Companies = SplitCompanies(v)
	}
	if v, ok := get(EnvPollInterval); ok {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil || ms <= 0 {
			return invalid(EnvPollInterval, "must be a positive number of milliseconds", err)
		}
		cfg.Watcher.PollInterval = strconv.FormatInt(ms, 10) + "ms"
	}
	if v, ok := get(EnvMaxResults); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return invalid(EnvMaxResults, "must be a positive integer", err)
		}
		cfg.Watcher.MaxResults = n
	}
	if v, ok := get(EnvStateFilePath); ok {
		if cfg.Storage == nil {
			cfg.Storage = &StorageConfig{Driver: "file"}
		}
		cfg.Storage.Path = v
	}
	if v, ok := get(EnvLogLevel); ok {
		cfg.Logging.Level = v
	}
	return nil
}

// SplitCompanies parses a comma-separated company list.
// Names are trimmed; empty entries and repeats are dropped, first occurrence wins.
func SplitCompanies(s string) []string {
	return normalizeCompanies(strings.Split(s, ","))
}

func normalizeCompanies(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, c := range in {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
