package alert

import (
	"context"
	"log/slog"
)

// Sink presents messages. Deliver is called from the dispatcher goroutine,
// one message at a time.
type Sink interface {
	Deliver(ctx context.Context, msg Message)
}

// NoOpSink discards every message.
type NoOpSink struct{}

func (NoOpSink) Deliver(context.Context, Message) {}

// ChannelSink forwards messages to a buffered channel and drops them when
// the channel is full.
type ChannelSink struct {
	ch chan Message
}

// NewChannelSink creates a sink with room for buffer undelivered messages.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{ch: make(chan Message, buffer)}
}

func (s *ChannelSink) Deliver(_ context.Context, msg Message) {
	select {
	case s.ch <- msg:
	default:
	}
}

// C returns the receive side of the sink.
func (s *ChannelSink) C() <-chan Message {
	return s.ch
}

// LogSink writes messages to a structured logger, at a level derived from
// the message severity.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Deliver(ctx context.Context, msg Message) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{
		"kind", msg.Kind.String(),
		"severity", msg.Severity.String(),
		"summary", msg.Summary,
	}
	if msg.Detail != "" {
		attrs = append(attrs, "detail", msg.Detail)
	}
	if msg.Err != nil {
		attrs = append(attrs, "error", msg.Err)
	}
	logger.Log(ctx, levelFor(msg), "alert", attrs...)
}

func levelFor(msg Message) slog.Level {
	if msg.Kind == KindClear {
		return slog.LevelDebug
	}
	switch msg.Severity {
	case SeverityError:
		return slog.LevelError
	case SeverityWarn:
		return slog.LevelWarn
	case SeverityWait:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}
