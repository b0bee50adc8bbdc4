// Package alert delivers threshold alerts raised by the error classifier.
package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-social-crawler/internal/crawler"
)

// Log writes alerts to a zap logger.
type Log struct {
	logger *zap.Logger
}

// NewLog builds a Log sink.
func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger.Named("alert")}
}

// Alert logs the alert at error level.
func (l *Log) Alert(_ context.Context, a crawler.Alert) error {
	l.logger.Error("crawler alert",
		zap.String("platform", string(a.Platform)),
		zap.String("operation", a.Operation),
		zap.String("message", a.Message),
		zap.Float64("error_rate", a.ErrorRate),
		zap.Int64("consecutive_failures", a.ConsecutiveFailures),
		zap.Int64("errors_last_hour", a.ErrorsLastHour),
		zap.Time("at", a.At),
	)
	return nil
}

// PubSub publishes alerts as JSON to a topic.
type PubSub struct {
	publisher crawler.Publisher
	topic     string
}

// NewPubSub builds a PubSub sink.
func NewPubSub(publisher crawler.Publisher, topic string) (*PubSub, error) {
	if publisher == nil {
		return nil, errors.New("publisher is required")
	}
	if topic == "" {
		return nil, errors.New("alert topic is required")
	}
	return &PubSub{publisher: publisher, topic: topic}, nil
}

// Alert publishes the alert.
func (p *PubSub) Alert(ctx context.Context, a crawler.Alert) error {
	if _, err := p.publisher.Publish(ctx, p.topic, a); err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	return nil
}

// Multi fans an alert out to every sink. Member failures are logged and never returned.
type Multi struct {
	sinks  []crawler.AlertSink
	logger *zap.Logger
}

// NewMulti builds a Multi sink; nil members are dropped.
func NewMulti(logger *zap.Logger, sinks ...crawler.AlertSink) *Multi {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Multi{logger: logger.Named("alert")}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Alert delivers a to every sink.
func (m *Multi) Alert(ctx context.Context, a crawler.Alert) error {
	for _, s := range m.sinks {
		if err := s.Alert(ctx, a); err != nil {
			m.logger.Warn("alert sink failed",
				zap.String("sink", fmt.Sprintf("%T", s)),
				zap.String("platform", string(a.Platform)),
				zap.Error(err),
			)
		}
	}
	return nil
}

// Format renders an alert as a short plain-text message.
func Format(a crawler.Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s\n", strings.ToUpper(string(a.Platform)), a.Message)
	if a.Operation != "" {
		fmt.Fprintf(&b, "Operation: %s\n", a.Operation)
	}
	fmt.Fprintf(&b, "Error rate: %.0f%%\n", a.ErrorRate*100)
	fmt.Fprintf(&b, "Consecutive failures: %d\n", a.ConsecutiveFailures)
	fmt.Fprintf(&b, "Errors in last hour: %d\n", a.ErrorsLastHour)
	fmt.Fprintf(&b, "At: %s", a.At.UTC().Format("2006-01-02 15:04:05 UTC"))
	return b.String()
}
