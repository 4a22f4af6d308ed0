package config

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"bodaccwatch/internal/observability/status"
	"bodaccwatch/internal/task/scheduler"
	logx "bodaccwatch/pkg/logx"
)

const (
	DefaultPollInterval = 5 * time.Minute
	DefaultMaxResults   = 10
	DefaultEntityDelay  = 300 * time.Millisecond
	DefaultStatePath    = "bodacc_seen_multi.json"
)

// Normalize trims list values and fills in defaults that other sections rely on.
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.Watcher.Companies = normalizeCompanies(cfg.Watcher.Companies)
	if cfg.Watcher.MaxResults == 0 {
		cfg.Watcher.MaxResults = DefaultMaxResults
	}
	cfg.Sink.Kind = strings.ToLower(strings.TrimSpace(cfg.Sink.Kind))
	if cfg.Sink.Kind == "" {
		cfg.Sink.Kind = "discord"
	}
	if cfg.Storage == nil {
		cfg.Storage = &StorageConfig{}
	}
	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "file"
	}
	if strings.TrimSpace(cfg.Storage.Path) == "" {
		cfg.Storage.Path = DefaultStatePath
	}
}

// Validate checks that cfg can start a watcher. It returns a *ConfigError.
func Validate(cfg *Config) error {
	if cfg == nil {
		return invalid("", "config is nil", nil)
	}
	if len(cfg.Watcher.Companies) == 0 {
		return invalid("watcher.companies", "at least one company is required (or set "+EnvCompanies+")", nil)
	}
	if _, err := ParseDurationField("watcher.poll_interval", cfg.Watcher.PollInterval); err != nil {
		return invalid("watcher.poll_interval", "bad duration", err)
	}
	if _, err := ParseDurationField("watcher.entity_delay", cfg.Watcher.EntityDelay); err != nil {
		return invalid("watcher.entity_delay", "bad duration", err)
	}
	if s := strings.TrimSpace(cfg.Watcher.Schedule); s != "" {
		if err := scheduler.CheckSchedule(s); err != nil {
			return invalid("watcher.schedule", "bad schedule", err)
		}
	}
	if tz := strings.TrimSpace(cfg.Watcher.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return invalid("watcher.timezone", "unknown time zone", err)
		}
	}
	if cfg.Watcher.MaxResults < 0 {
		return invalid("watcher.max_results", "must be >= 0", nil)
	}
	if _, err := ParseDurationField("source.timeout", cfg.Source.Timeout); err != nil {
		return invalid("source.timeout", "bad duration", err)
	}
	if u := strings.TrimSpace(cfg.Source.BaseURL); u != "" {
		if err := checkHTTPURL(u); err != nil {
			return invalid("source.base_url", "must be an http(s) URL", err)
		}
	}

	switch cfg.Sink.Kind {
	case "", "discord":
		if strings.TrimSpace(cfg.Sink.WebhookURL) == "" {
			return invalid("sink.webhook_url", "webhook address is required (or set "+EnvWebhookURL+")", nil)
		}
		if err := checkHTTPURL(cfg.Sink.WebhookURL); err != nil {
			return invalid("sink.webhook_url", "must be an http(s) URL", err)
		}
	case "telegram":
		if strings.TrimSpace(cfg.Sink.Telegram.Token) == "" {
			return invalid("sink.telegram.token", "required when sink.kind=telegram", nil)
		}
		if cfg.Sink.Telegram.ChatID == 0 {
			return invalid("sink.telegram.chat_id", "required when sink.kind=telegram", nil)
		}
	default:
		return invalid("sink.kind", "unknown sink kind "+cfg.Sink.Kind, nil)
	}
	if cfg.Sink.RatePerSec < 0 {
		return invalid("sink.rate_per_sec", "must be >= 0", nil)
	}
	if _, err := ParseDurationField("sink.timeout", cfg.Sink.Timeout); err != nil {
		return invalid("sink.timeout", "bad duration", err)
	}

	if st := cfg.Storage; st != nil {
		switch st.Driver {
		case "", "file", "sqlite", "sqlite3":
		default:
			return invalid("storage.driver", "unknown storage driver "+st.Driver, nil)
		}
		if _, err := ParseDurationField("storage.busy_timeout", st.BusyTimeout); err != nil {
			return invalid("storage.busy_timeout", "bad duration", err)
		}
	}

	if st := cfg.Status; st != nil && st.Enabled {
		if err := status.CheckBind(st.Addr, st.Token, st.AllowInsecure); err != nil {
			return invalid("status.addr", "cannot serve status", err)
		}
	}

	if !logx.ValidLevel(cfg.Logging.Level) {
		return invalid("logging.level", "unknown level "+cfg.Logging.Level, nil)
	}
	return nil
}

func checkHTTPURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &url.Error{Op: "parse", URL: raw, Err: errNotHTTP}
	}
	return nil
}

var errNotHTTP = errors.New("scheme must be http or https")
