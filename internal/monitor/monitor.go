package monitor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"trading-worker/internal/events"
)

// alertTopics are the bus events that page an operator.
var alertTopics = []events.Event{
	events.EventJobDeadLettered,
	events.EventBreakerTripped,
	events.EventRiskAlert,
}

// Monitor watches the bus and forwards alerts to a sink.
type Monitor struct {
	Bus    *events.Bus
	Sink   AlertSink
	Logger *zap.Logger
}

// Start subscribes to the alert topics; it returns immediately and stops
// when ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	log := m.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if m.Bus == nil || m.Sink == nil {
		log.Info("monitor not fully configured; skipping")
		return
	}
	for _, topic := range alertTopics {
		stream, unsub := m.Bus.Subscribe(topic, 50)
		go func(topic events.Event) {
			defer unsub()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-stream:
					if !ok {
						return
					}
					if err := m.Sink.Send(formatAlert(topic, msg)); err != nil {
						log.Sugar().Warnf("alert delivery failed: %v", err)
					}
				}
			}
		}(topic)
	}
}

func formatAlert(topic events.Event, msg any) string {
	return "[" + time.Now().UTC().Format(time.RFC3339) + "] " + string(topic) + ": " + toString(msg)
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	case events.BreakerChange:
		return fmt.Sprintf("breaker tripped by %s: %s", t.By, t.Reason)
	case error:
		return t.Error()
	default:
		return fmt.Sprintf("%+v", t)
	}
}
