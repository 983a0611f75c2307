package control

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/gapless/pkg/audio"
)

const writeTimeout = 5 * time.Second

// handleEvents handles GET /v1/events. It upgrades to a websocket, sends
// the current status, then forwards every player event as a JSON text
// message until either side goes away. Client messages are ignored.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		s.log.Debug("control: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	sub := s.player.Subscribe(s.eventBuffer)
	defer sub.Close()

	ctx := conn.CloseRead(r.Context())
	st := statusOf(s.player.Status())
	if err := writeEvent(ctx, conn, Event{Type: EventTypeStatus, Status: &st}); err != nil {
		return
	}

	indexOf := func(t audio.Track) int { return s.player.IndexOf(t.ID) }
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev, ok := <-sub.C:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "player stopped")
				return
			}
			if err := writeEvent(ctx, conn, eventOf(ev, indexOf)); err != nil {
				if !errors.Is(err, context.Canceled) {
					s.log.Debug("control: event stream closed", "err", err)
				}
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
