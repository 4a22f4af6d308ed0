// Package telegram delivers embeds as HTML messages through the Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"html"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "bodaccwatch/internal/transport"
	logx "bodaccwatch/pkg/logx"
)

// MaxEmbeds keeps one rendered batch comfortably below the message size limit.
const MaxEmbeds = 5

const telegramTextLimit = 4000

type Config struct {
	Token    string
	ChatID   int64
	ThreadID int // forum topic, 0 for none
	Timeout  time.Duration

	// APIURL overrides the Bot API endpoint. Empty means the public one.
	APIURL string
}

type Sink struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot
}

func New(cfg Config, log logx.Logger) (*Sink, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat id is empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	// Offline skips the getMe call; the sink only ever sends.
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		URL:     cfg.APIURL,
		Client:  &http.Client{Timeout: cfg.Timeout},
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sink{cfg: cfg, log: log, bot: b}, nil
}

func (s *Sink) Name() string  { return "telegram" }
func (s *Sink) MaxBatch() int { return MaxEmbeds }

// Send renders the batch into one message. Text longer than the Bot API limit
// goes out as several consecutive messages; any failure fails the batch.
func (s *Sink) Send(ctx context.Context, embeds []kit.Embed) error {
	if len(embeds) == 0 {
		return nil
	}
	if len(embeds) > MaxEmbeds {
		return &kit.SinkUnavailableError{Sink: s.Name(), Err: errors.New("too many embeds in one message")}
	}

	chat := tele.ChatID(s.cfg.ChatID)
	opt := &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: true,
		ThreadID:              s.cfg.ThreadID,
	}
	for _, chunk := range splitText(RenderHTML(embeds), telegramTextLimit) {
		if ctx != nil {
			if err := ctx.Err(); err != nil {
				return &kit.SinkUnavailableError{Sink: s.Name(), Err: err}
			}
		}
		if _, err := s.bot.Send(chat, chunk, opt); err != nil {
			return &kit.SinkUnavailableError{Sink: s.Name(), Status: statusOf(err), Body: err.Error(), Err: err}
		}
	}
	s.log.Debug("message sent", logx.Int("embeds", len(embeds)))
	return nil
}

func statusOf(err error) int {
	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}

// RenderHTML renders embeds in Telegram's HTML subset, separated by blank lines.
func RenderHTML(embeds []kit.Embed) string {
	var b strings.Builder
	for i, e := range embeds {
		if i > 0 {
			b.WriteString("\n\n")
		}
		title := html.EscapeString(e.Title)
		if e.URL != "" {
			b.WriteString(`<b><a href="` + html.EscapeString(e.URL) + `">` + title + `</a></b>`)
		} else {
			b.WriteString("<b>" + title + "</b>")
		}
		if d := strings.TrimSpace(e.Description); d != "" {
			b.WriteString("\n" + boldMarkdown(html.EscapeString(d)))
		}
		for _, f := range e.Fields {
			b.WriteString("\n<b>" + html.EscapeString(f.Name) + ":</b> " + html.EscapeString(f.Value))
		}
		if e.Footer != nil && e.Footer.Text != "" {
			b.WriteString("\n<i>" + html.EscapeString(e.Footer.Text) + "</i>")
		}
	}
	return b.String()
}

// boldMarkdown turns **x** pairs into <b>x</b>. An unpaired marker is left as is.
func boldMarkdown(s string) string {
	parts := strings.Split(s, "**")
	if len(parts) < 3 {
		return s
	}
	var b strings.Builder
	for i, p := range parts {
		switch {
		case i == 0:
		case i%2 == 1 && i == len(parts)-1:
			b.WriteString("**")
		case i%2 == 1:
			b.WriteString("<b>")
		default:
			b.WriteString("</b>")
		}
		b.WriteString(p)
	}
	return b.String()
}

// splitText splits long messages, preferring newline boundaries and never
// cutting inside an HTML tag.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
			lastOpen, lastClose := -1, -1
			for i := start; i < end; i++ {
				switch rs[i] {
				case '<':
					lastOpen = i
				case '>':
					lastClose = i
				}
			}
			if lastOpen > lastClose && lastOpen > start+1 {
				end = lastOpen
			}
		}

		if chunk := strings.TrimRight(string(rs[start:end]), "\n"); chunk != "" {
			out = append(out, chunk)
		}
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
