package transport

import (
	"context"
	"errors"
	"fmt"
)

// Embed is one rich notification, shaped after the Discord embed object.
// Other sinks render it into their own format.
type Embed struct {
	Title       string       `json:"title"`
	URL         string       `json:"url,omitempty"`
	Description string       `json:"description,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
}

type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type EmbedFooter struct {
	Text string `json:"text"`
}

// Sink delivers a batch of embeds in a single outbound request.
type Sink interface {
	Name() string
	// MaxBatch is the largest number of embeds accepted by one Send.
	MaxBatch() int
	Send(ctx context.Context, embeds []Embed) error
}

var ErrSinkUnavailable = errors.New("sink unavailable")

// SinkUnavailableError reports a rejected or failed delivery request.
// Status is the remote status code when one was received, 0 otherwise.
type SinkUnavailableError struct {
	Sink   string
	Status int
	Body   string
	Err    error
}

func (e *SinkUnavailableError) Error() string {
	switch {
	case e.Status != 0 && e.Body != "":
		return fmt.Sprintf("%s: status %d: %s", e.Sink, e.Status, e.Body)
	case e.Status != 0:
		return fmt.Sprintf("%s: status %d", e.Sink, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Sink, e.Err)
	default:
		return e.Sink + ": unavailable"
	}
}

func (e *SinkUnavailableError) Unwrap() error { return e.Err }

func (e *SinkUnavailableError) Is(target error) bool { return target == ErrSinkUnavailable }

// BodyExcerptLimit caps response bodies kept in errors.
const BodyExcerptLimit = 512

// Excerpt trims b to BodyExcerptLimit bytes.
func Excerpt(b []byte) string {
	if len(b) > BodyExcerptLimit {
		b = b[:BodyExcerptLimit]
	}
	return string(b)
}
