package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"trading-worker/internal/events"
)

const (
	wsWriteWait  = 5 * time.Second
	wsPingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamTopics are forwarded to every /ws client.
var streamTopics = []events.Event{
	events.EventJobUpdate,
	events.EventJobDeadLettered,
	events.EventBreakerTripped,
	events.EventBreakerReset,
	events.EventPositionChange,
}

type wsMessage struct {
	Event events.Event `json:"event"`
	Data  any          `json:"data"`
}

func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warnf("ws upgrade error: %v", err)
		return
	}
	defer conn.Close()

	if s.bus == nil {
		_ = conn.WriteJSON(gin.H{"error": "bus not ready"})
		return
	}

	out := make(chan wsMessage, 256)
	done := make(chan struct{})
	for _, topic := range streamTopics {
		stream, unsub := s.bus.Subscribe(topic, 100)
		defer unsub()
		go func(topic events.Event) {
			for {
				select {
				case <-done:
					return
				case msg, ok := <-stream:
					if !ok {
						return
					}
					select {
					case out <- wsMessage{Event: topic, Data: msg}:
					case <-done:
						return
					}
				}
			}
		}(topic)
	}

	// The reader only detects the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	defer close(done)

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case msg := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(msg); err != nil {
				s.log.Debugf("ws write error: %v", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
