package monitor

import "go.uber.org/zap"

// AlertSink interface for pluggable alert delivery.
type AlertSink interface {
	Send(message string) error
}

// LogSink writes alerts to the worker log.
type LogSink struct {
	Logger *zap.Logger
}

func (s LogSink) Send(message string) error {
	l := s.Logger
	if l == nil {
		l = zap.NewNop()
	}
	l.Warn("🚨 alert", zap.String("message", message))
	return nil
}
