package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/purescribe/internal/coordinator"
	"github.com/MrWong99/purescribe/internal/observe"
)

const writeTimeout = 10 * time.Second

// snapshotFrame is the first frame of every WebSocket stream.
type snapshotFrame struct {
	Worker  string `json:"worker"`
	Message struct {
		Type  string               `json:"type"`
		State coordinator.Snapshot `json:"state"`
	} `json:"message"`
}

// handleWS streams coordinator updates. The stream starts with the current
// state, followed by every update in the order it was applied. A client that
// falls behind is disconnected with StatusTryAgainLater.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	log := observe.Logger(r.Context())

	sub, snap, err := s.coord.SubscribeWithSnapshot(r.Context())
	if err != nil {
		s.coordError(w, r, err)
		return
	}
	defer sub.Close()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		log.Warn("server: websocket accept", "err", err)
		return
	}
	defer conn.CloseNow()

	// Clients only listen; CloseRead handles their control frames and
	// cancels ctx once they go away.
	ctx := conn.CloseRead(r.Context())

	first := snapshotFrame{Worker: "coordinator"}
	first.Message.Type = "state"
	first.Message.State = snap
	if err := write(ctx, conn, first); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-sub.C:
			if !ok {
				conn.Close(websocket.StatusTryAgainLater, "update stream closed")
				return
			}
			if err := write(ctx, conn, u); err != nil {
				if !errors.Is(err, context.Canceled) {
					log.Debug("server: websocket write", "err", err)
				}
				return
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, v any) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, v)
}
