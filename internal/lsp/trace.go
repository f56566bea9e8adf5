package lsp

import (
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// TraceLevel controls protocol traffic logging. It is mutated only through
// configuration changes and affects subsequent traffic, never past entries.
type TraceLevel int32

const (
	// TraceOff records nothing.
	TraceOff TraceLevel = iota
	// TraceMessages records message method names and error responses.
	TraceMessages
	// TraceVerbose records raw bytes and the decoded form of every message.
	TraceVerbose
)

// String returns the wire spelling of the level.
func (l TraceLevel) String() string {
	switch l {
	case TraceOff:
		return "off"
	case TraceMessages:
		return "messages"
	case TraceVerbose:
		return "verbose"
	default:
		return "unknown"
	}
}

// ParseTraceLevel parses the configuration spelling of a trace level.
func ParseTraceLevel(s string) (TraceLevel, error) {
	switch s {
	case "off", "":
		return TraceOff, nil
	case "messages":
		return TraceMessages, nil
	case "verbose":
		return TraceVerbose, nil
	default:
		return TraceOff, fmt.Errorf("unknown trace level %q", s)
	}
}

// traceLogger writes protocol traffic to the session logger, gated by a
// level that can change at any time. It is an explicit field on the session
// rather than a global so that multiple sessions do not interfere.
type traceLogger struct {
	level  atomic.Int32
	logger zerolog.Logger
}

func newTraceLogger(logger zerolog.Logger, level TraceLevel) *traceLogger {
	t := &traceLogger{logger: logger}
	t.level.Store(int32(level))
	return t
}

func (t *traceLogger) Level() TraceLevel {
	return TraceLevel(t.level.Load())
}

func (t *traceLogger) SetLevel(level TraceLevel) {
	t.level.Store(int32(level))
}

// Outbound records a message the client is about to write.
func (t *traceLogger) Outbound(method string, id int64, body []byte) {
	switch t.Level() {
	case TraceVerbose:
		t.logger.Info().
			Str("direction", "out").
			Str("method", method).
			Int64("id", id).
			RawJSON("body", body).
			Msg("lsp trace")
	case TraceMessages:
		t.logger.Info().
			Str("direction", "out").
			Str("method", method).
			Int64("id", id).
			Msg("lsp trace")
	}
}

// Inbound records a decoded message read off the channel.
func (t *traceLogger) Inbound(msg *Message, body []byte) {
	level := t.Level()
	if level == TraceOff {
		return
	}
	if level == TraceVerbose {
		ev := t.logger.Info().Str("direction", "in").RawJSON("body", body)
		if msg.Method != "" {
			ev = ev.Str("method", msg.Method)
		}
		if msg.ID != nil {
			ev = ev.Int64("id", *msg.ID)
		}
		ev.Msg("lsp trace")
		return
	}
	// messages level: method names, plus error responses.
	if msg.Method != "" {
		ev := t.logger.Info().Str("direction", "in").Str("method", msg.Method)
		if msg.ID != nil {
			ev = ev.Int64("id", *msg.ID)
		}
		ev.Msg("lsp trace")
	} else if msg.Error != nil {
		ev := t.logger.Info().
			Str("direction", "in").
			Int("code", msg.Error.Code).
			Str("error", msg.Error.Message)
		if msg.ID != nil {
			ev = ev.Int64("id", *msg.ID)
		}
		ev.Msg("lsp trace")
	}
}
