package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/dan-solli/mnemo/pkg/events"
)

const (
	eventBuffer  = 64
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleEvents streams lifecycle events as one JSON message each.
// ?types= narrows the kinds; a project scope drops other projects' events.
func (s *Server) handleEvents(c *gin.Context) {
	scope := project(c)
	var kinds []events.Kind
	for _, k := range queryList(c, "types") {
		kinds = append(kinds, events.Kind(k))
	}

	// Subscribe before the handshake completes so no event is missed after the client connects.
	sub := s.engine.Subscribe(eventBuffer, kinds...)
	defer sub.Close()

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("failed to upgrade websocket", "error", err)
		return
	}
	defer ws.Close()
	s.logger.Info("event stream connected", "subscription", sub.ID, "project", scope)

	// The reader only services control frames and notices the client going away.
	gone := make(chan struct{})
	ws.SetReadDeadline(time.Now().Add(pongTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case ev, open := <-sub.C:
			if !open {
				ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(writeTimeout))
				return
			}
			if scope != "" && ev.Project != "" && ev.Project != scope {
				continue
			}
			ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ws.WriteJSON(ev); err != nil {
				s.logger.Debug("event stream write failed", "error", err)
				return
			}
		case <-ping.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		case <-gone:
			s.logger.Info("event stream disconnected", "subscription", sub.ID)
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}
