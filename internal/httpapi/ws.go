package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"

	"github.com/carescript/carescript/internal/app"
)

// liveMessage is one outbound frame on the live WebSocket. It is either a
// session update or the initial state snapshot.
type liveMessage struct {
	app.Update

	// Snapshot marks the first message, which carries the state at connect
	// time rather than a transition.
	Snapshot bool `json:"snapshot,omitempty"`
}

// handleLive upgrades to a WebSocket and bridges the bedside device to the
// active care session: binary frames carry patient-side PCM audio inbound;
// text frames carry JSON previews, finals, state changes, and intervention
// utterances outbound.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept", "err", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closing")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	updates, unsubscribe := s.sessions.Subscribe()
	defer unsubscribe()

	// State snapshot first, so the client renders without waiting for the
	// next transition.
	snapshot := liveMessage{
		Update:   app.Update{Kind: app.UpdateState, To: string(s.sessions.State())},
		Snapshot: true,
	}
	if err := writeWS(ctx, conn, snapshot); err != nil {
		return
	}

	// Writer: fan session updates out to the client.
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		for u := range updates {
			if err := writeWS(ctx, conn, liveMessage{Update: u}); err != nil {
				cancel()
				return
			}
		}
		// Subscription closed: the session stopped.
		cancel()
	}()

	// Reader: binary frames are audio for the live session. Anything else is
	// ignored.
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			break
		}
		if typ != websocket.MessageBinary {
			continue
		}
		if err := s.sessions.SendAudio(data); err != nil {
			s.logger.Debug("live audio dropped", "err", err)
		}
	}

	cancel()
	<-writeDone
	conn.Close(websocket.StatusNormalClosure, "bye")
}

// writeWS marshals v and writes it as a text frame.
func writeWS(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
