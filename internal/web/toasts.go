package web

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"ecodispose/client/internal/toast"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// handleToastStream replays the visible toasts, then pushes every shown and
// dismissed event until the peer goes away.
func (s *Server) handleToastStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	events, unsubscribe := s.app.Toasts.Subscribe()
	defer unsubscribe()

	for _, t := range s.app.Toasts.List() {
		if err := writeEvent(conn, toast.Event{Type: toast.Shown, Toast: t}); err != nil {
			return
		}
	}

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case ev, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
				return
			}
			if err := writeEvent(conn, ev); err != nil {
				s.logger.WithError(err).Debug("toast stream write failed")
				return
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, ev toast.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(ev)
}
