// Package delivery hands accepted notifications to an outbound channel.
//
// A Sink does the actual send; the Dispatcher in front of it adds a queue,
// worker pool, rate pacing and retries so callers never block on I/O.
package delivery

import (
	"context"
	"errors"
	"strings"

	"pulsesync/internal/notify"
	logx "pulsesync/pkg/logx"
)

// Config selects the outbound sink.
//
// Driver values:
//   - "log": write deliveries to the structured log (default; useful for
//     development and as a fallback)
//   - "telegram": send to a Telegram chat via bot API
type Config struct {
	Driver string

	Telegram TelegramConfig

	Dispatcher DispatcherConfig
}

// Open initializes the configured sink. The returned sink is synchronous;
// wrap it in a Dispatcher for async delivery.
func Open(cfg Config, log logx.Logger) (notify.Sink, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "log":
		return &logSink{log: log}, nil
	case "telegram":
		return newTelegramSink(cfg.Telegram, log)
	default:
		return nil, errors.New("unknown delivery driver: " + cfg.Driver)
	}
}

// logSink writes each delivery to the structured log.
type logSink struct {
	log logx.Logger
}

func (s *logSink) Deliver(_ context.Context, req notify.Request) error {
	fields := []logx.Field{
		logx.String("id", req.ID),
		logx.String("type", string(req.Type)),
		logx.String("title", req.Title),
		logx.Int("priority", int(req.Priority)),
	}
	if req.Count > 1 {
		fields = append(fields, logx.Int("count", req.Count))
	}
	if !req.DeliverAt.IsZero() {
		fields = append(fields, logx.Time("deliver_at", req.DeliverAt))
	}
	s.log.Info("notification delivered", fields...)
	return nil
}

// priorityPrefix tags outbound message text by urgency.
func priorityPrefix(p notify.Priority) string {
	switch {
	case p >= notify.PriorityImmediate:
		return "🚨 "
	case p >= notify.PriorityHigh:
		return "⚠️ "
	default:
		return ""
	}
}

// renderText flattens a request into a plain-text message body.
func renderText(req notify.Request) string {
	var b strings.Builder
	b.WriteString(priorityPrefix(req.Priority))
	b.WriteString(req.Title)
	if req.Body != "" {
		b.WriteString("\n")
		b.WriteString(req.Body)
	}
	return b.String()
}
