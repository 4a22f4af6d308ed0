// Package discord delivers embeds to a Discord incoming webhook.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	kit "bodaccwatch/internal/transport"
	logx "bodaccwatch/pkg/logx"
)

const (
	DefaultUsername  = "BODACC Watcher"
	DefaultAvatarURL = "https://static.data.gouv.fr/images/2015-07-01/d24a62fce1194aa18e662d696c2faa7b/nbouton_bodacc-500.png"

	// MaxEmbeds is the webhook limit per message.
	MaxEmbeds = 10
)

type Config struct {
	WebhookURL string
	Username   string
	AvatarURL  string
	Timeout    time.Duration
}

type Sink struct {
	cfg  Config
	log  logx.Logger
	http *http.Client
}

type payload struct {
	Username  string      `json:"username"`
	AvatarURL string      `json:"avatar_url"`
	Embeds    []kit.Embed `json:"embeds"`
}

func New(cfg Config, log logx.Logger) (*Sink, error) {
	if strings.TrimSpace(cfg.WebhookURL) == "" {
		return nil, errors.New("discord webhook url is empty")
	}
	if strings.TrimSpace(cfg.Username) == "" {
		cfg.Username = DefaultUsername
	}
	if strings.TrimSpace(cfg.AvatarURL) == "" {
		cfg.AvatarURL = DefaultAvatarURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sink{cfg: cfg, log: log, http: &http.Client{Timeout: cfg.Timeout}}, nil
}

func (s *Sink) Name() string  { return "discord" }
func (s *Sink) MaxBatch() int { return MaxEmbeds }

// Send posts one webhook message. Batches larger than MaxEmbeds are rejected
// without any request.
func (s *Sink) Send(ctx context.Context, embeds []kit.Embed) error {
	if len(embeds) == 0 {
		return nil
	}
	if len(embeds) > MaxEmbeds {
		return &kit.SinkUnavailableError{Sink: s.Name(), Err: errors.New("too many embeds in one message")}
	}

	body, err := json.Marshal(payload{Username: s.cfg.Username, AvatarURL: s.cfg.AvatarURL, Embeds: embeds})
	if err != nil {
		return &kit.SinkUnavailableError{Sink: s.Name(), Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return &kit.SinkUnavailableError{Sink: s.Name(), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return &kit.SinkUnavailableError{Sink: s.Name(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, kit.BodyExcerptLimit))
		return &kit.SinkUnavailableError{Sink: s.Name(), Status: resp.StatusCode, Body: kit.Excerpt(b)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	s.log.Debug("webhook accepted", logx.Int("embeds", len(embeds)), logx.Int("status", resp.StatusCode))
	return nil
}
