package app

import (
	"fmt"
	"strings"
	"time"

	"bodaccwatch/internal/bodacc"
	"bodaccwatch/internal/config"
	"bodaccwatch/internal/notifier"
	kit "bodaccwatch/internal/transport"
	"bodaccwatch/internal/transport/discord"
	"bodaccwatch/internal/transport/telegram"
	"bodaccwatch/internal/watcher"
	logx "bodaccwatch/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapSourceConfig(cfg *config.Config) (bodacc.Config, error) {
	timeout, err := config.ParseDurationOrDefault("source.timeout", cfg.Source.Timeout, 20*time.Second)
	if err != nil {
		return bodacc.Config{}, err
	}
	return bodacc.Config{
		BaseURL:  cfg.Source.BaseURL,
		Dataset:  cfg.Source.Dataset,
		Timezone: cfg.Source.Timezone,
		Lang:     cfg.Source.Lang,
		Timeout:  timeout,
	}, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	timeout, err := config.ParseDurationOrDefault("sink.timeout", cfg.Sink.Timeout, 15*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{RatePerSec: cfg.Sink.RatePerSec, Timeout: timeout}, nil
}

func buildSink(cfg *config.Config, log logx.Logger) (kit.Sink, error) {
	timeout, err := config.ParseDurationOrDefault("sink.timeout", cfg.Sink.Timeout, 15*time.Second)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Sink.Kind)) {
	case "", "discord":
		return discord.New(discord.Config{
			WebhookURL: cfg.Sink.WebhookURL,
			Username:   cfg.Sink.Username,
			AvatarURL:  cfg.Sink.AvatarURL,
			Timeout:    timeout,
		}, log)
	case "telegram":
		return telegram.New(telegram.Config{
			Token:    cfg.Sink.Telegram.Token,
			ChatID:   cfg.Sink.Telegram.ChatID,
			ThreadID: cfg.Sink.Telegram.ThreadID,
			Timeout:  timeout,
		}, log)
	default:
		return nil, fmt.Errorf("unknown sink.kind: %s", cfg.Sink.Kind)
	}
}

func mapWatcherConfig(cfg *config.Config) (watcher.Config, error) {
	delay, err := config.ParseDurationOrDefault("watcher.entity_delay", cfg.Watcher.EntityDelay, config.DefaultEntityDelay)
	if err != nil {
		return watcher.Config{}, err
	}
	return watcher.Config{
		Companies:   append([]string(nil), cfg.Watcher.Companies...),
		MaxResults:  cfg.Watcher.MaxResults,
		EntityDelay: delay,
	}, nil
}

// pollSchedule is the cron override when set, otherwise "@every <poll_interval>".
func pollSchedule(cfg *config.Config) (string, error) {
	if s := strings.TrimSpace(cfg.Watcher.Schedule); s != "" {
		return s, nil
	}
	every, err := config.ParseDurationOrDefault("watcher.poll_interval", cfg.Watcher.PollInterval, config.DefaultPollInterval)
	if err != nil {
		return "", err
	}
	if every <= 0 {
		every = config.DefaultPollInterval
	}
	return "@every " + every.String(), nil
}
