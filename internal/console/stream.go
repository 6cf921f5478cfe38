package console

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/torosent/gatesim/internal/registry"
	"github.com/torosent/gatesim/internal/runner"
)

// Event types pushed on /api/stream.
const (
	EventSnapshot = "snapshot"
	EventRun      = "run"
	EventRemoved  = "removed"
	EventTotals   = "totals"
)

// Event is one message on the change feed. Run summaries never carry the
// request log; fetch /api/runs/{id} for that.
type Event struct {
	Type   string            `json:"type"`
	ID     string            `json:"id,omitempty"`
	Run    *runner.Snapshot  `json:"run,omitempty"`
	Runs   []runner.Snapshot `json:"runs,omitempty"`
	Totals *registry.Totals  `json:"totals,omitempty"`
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	sub := s.reg.Subscribe()
	defer sub.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The feed is one-way; reading only detects the peer going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	totals := s.reg.Totals()
	if err := writeEvent(conn, Event{Type: EventSnapshot, Runs: s.reg.List(), Totals: &totals}); err != nil {
		return
	}

	ping := time.NewTicker(s.ping)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(writeWait))
			return
		case <-sub.C():
			if err := s.flush(conn, sub.Pending()); err != nil {
				s.log.Debug("stream closed", zap.Error(err))
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (s *Server) flush(conn *websocket.Conn, ids []string) error {
	for _, id := range ids {
		ev := Event{Type: EventRun, ID: id}
		snap, err := s.reg.Summary(id)
		switch {
		case errors.Is(err, registry.ErrNotFound):
			ev.Type = EventRemoved
		case err != nil:
			return err
		default:
			ev.Run = &snap
		}
		if err := writeEvent(conn, ev); err != nil {
			return err
		}
	}
	totals := s.reg.Totals()
	return writeEvent(conn, Event{Type: EventTotals, Totals: &totals})
}

func writeEvent(conn *websocket.Conn, ev Event) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(ev)
}
