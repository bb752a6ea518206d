// Package adminws streams bus.Event records to connected dashboard
// clients over a coder/websocket server, for external observability of
// run/routing/tool activity without polling logs.
package adminws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/nextlevelbuilder/clawrouter/internal/bus"
)

// Server streams events from one Bus to any number of connected
// WebSocket clients.
type Server struct {
	bus *bus.Bus
	log *slog.Logger
}

// New builds a Server fed by b.
func New(b *bus.Bus, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{bus: b, log: log}
}

// ServeHTTP upgrades the connection and streams events until the client
// disconnects or the request context is cancelled.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("adminws: accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	id, events := s.bus.Subscribe()
	defer s.bus.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				s.log.Debug("adminws: write failed, dropping client", "err", err)
				return
			}
		}
	}
}
