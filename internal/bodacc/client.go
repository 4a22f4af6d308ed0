// Package bodacc queries the public BODACC announcements search API.
package bodacc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	logx "bodaccwatch/pkg/logx"
)

const (
	DefaultBaseURL  = "https://www.bodacc.fr/api/records/1.0/search/"
	DefaultDataset  = "annonces-commerciales"
	DefaultTimezone = "Europe/Berlin"
	DefaultLang     = "fr"
)

// facets are requested as disjunctive, matching the public search page.
var facets = []string{"typeavis", "familleavis", "publicationavis", "region_min", "nom_dep_min", "numerodepartement"}

var ErrSourceUnavailable = errors.New("source unavailable")

// SourceUnavailableError reports a failed query. Status is 0 when no HTTP
// response was received.
type SourceUnavailableError struct {
	Status int
	Body   string
	Err    error
}

func (e *SourceUnavailableError) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("bodacc: status %d: %s", e.Status, e.Body)
	case e.Err != nil:
		return "bodacc: " + e.Err.Error()
	default:
		return "bodacc: unavailable"
	}
}

func (e *SourceUnavailableError) Unwrap() error { return e.Err }

func (e *SourceUnavailableError) Is(target error) bool { return target == ErrSourceUnavailable }

const bodyExcerptLimit = 512

type Config struct {
	BaseURL  string
	Dataset  string
	Timezone string
	Lang     string
	Timeout  time.Duration
}

type Client struct {
	cfg  Config
	log  logx.Logger
	http *http.Client
}

func New(cfg Config, log logx.Logger) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if strings.TrimSpace(cfg.Dataset) == "" {
		cfg.Dataset = DefaultDataset
	}
	if strings.TrimSpace(cfg.Timezone) == "" {
		cfg.Timezone = DefaultTimezone
	}
	if strings.TrimSpace(cfg.Lang) == "" {
		cfg.Lang = DefaultLang
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{cfg: cfg, log: log, http: &http.Client{Timeout: cfg.Timeout}}
}

// BuildURL returns the search URL for the latest maxResults announcements
// naming entity as the trader.
func (c *Client) BuildURL(entity string, maxResults int) string {
	var b strings.Builder
	b.WriteString(c.cfg.BaseURL)
	if strings.Contains(c.cfg.BaseURL, "?") {
		b.WriteByte('&')
	} else {
		b.WriteByte('?')
	}
	for _, f := range facets {
		b.WriteString("disjunctive." + f + "=true&")
	}
	b.WriteString("sort=dateparution")
	b.WriteString("&commercant_search=" + encodeURIComponent(entity))
	b.WriteString("&rows=" + strconv.Itoa(maxResults))
	b.WriteString("&dataset=" + encodeURIComponent(c.cfg.Dataset))
	b.WriteString("&q=" + encodeURIComponent(`#search(commercant,"`+entity+`")`))
	b.WriteString("&timezone=" + encodeURIComponent(c.cfg.Timezone))
	b.WriteString("&lang=" + encodeURIComponent(c.cfg.Lang))
	return b.String()
}

type searchResponse struct {
	Records json.RawMessage `json:"records"`
}

// Fetch runs the query for entity. A missing or non-array "records" member is
// an empty result; elements that are not records are skipped.
func (c *Client) Fetch(ctx context.Context, entity string, maxResults int) ([]Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BuildURL(entity, maxResults), nil)
	if err != nil {
		return nil, &SourceUnavailableError{Err: fmt.Errorf("new request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &SourceUnavailableError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, bodyExcerptLimit))
		return nil, &SourceUnavailableError{Status: resp.StatusCode, Body: string(b)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, &SourceUnavailableError{Err: fmt.Errorf("read body: %w", err)}
	}
	var sr searchResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, &SourceUnavailableError{Err: fmt.Errorf("decode: %w", err)}
	}

	var raw []json.RawMessage
	if len(sr.Records) == 0 || json.Unmarshal(sr.Records, &raw) != nil {
		return []Record{}, nil
	}
	out := make([]Record, 0, len(raw))
	skipped := 0
	for _, item := range raw {
		var r Record
		if err := json.Unmarshal(item, &r); err != nil {
			skipped++
			continue
		}
		out = append(out, r)
	}
	if skipped > 0 {
		c.log.Debug("skipped malformed records", logx.String("entity", entity), logx.Int("count", skipped))
	}
	return out, nil
}

// encodeURIComponent escapes everything except A-Z a-z 0-9 - _ . ! ~ * ' ( ).
func encodeURIComponent(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(s) * 3)
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if isUnreserved(ch) {
			b.WriteByte(ch)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[ch>>4])
		b.WriteByte(hex[ch&0x0f])
	}
	return b.String()
}

func isUnreserved(ch byte) bool {
	switch {
	case 'a' <= ch && ch <= 'z', 'A' <= ch && ch <= 'Z', '0' <= ch && ch <= '9':
		return true
	}
	switch ch {
	case '-', '_', '.', '!', '~', '*', '\'', '(', ')':
		return true
	}
	return false
}
