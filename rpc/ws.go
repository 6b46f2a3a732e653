package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"engagement/core/events"
	"engagement/core/types"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsBuffer       = 128
)

// eventFilter narrows the stream by type prefix and engagement.
type eventFilter struct {
	prefixes     []string
	engagementID string
}

func parseEventFilter(r *http.Request) eventFilter {
	q := r.URL.Query()
	var f eventFilter
	for _, raw := range strings.Split(q.Get("types"), ",") {
		if trimmed := strings.TrimSpace(raw); trimmed != "" {
			f.prefixes = append(f.prefixes, trimmed)
		}
	}
	f.engagementID = strings.TrimSpace(q.Get("engagement_id"))
	return f
}

func (f eventFilter) match(evt *types.Event) bool {
	if f.engagementID != "" && evt.Attr("engagement_id") != f.engagementID {
		return false
	}
	if len(f.prefixes) == 0 {
		return true
	}
	for _, p := range f.prefixes {
		if strings.HasPrefix(evt.Type, p) {
			return true
		}
	}
	return false
}

// handleEventsWS streams committed domain events to a WebSocket client.
// Slow clients lose events rather than stall the bus.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s.deps.Events == nil {
		http.Error(w, "event stream unavailable", http.StatusServiceUnavailable)
		return
	}
	filter := parseEventFilter(r)
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	sub := s.deps.Events.Subscribe("ws-"+uuid.NewString(), wsBuffer)
	defer sub.Cancel()
	ctx := conn.CloseRead(r.Context())
	if err := streamEvents(ctx, conn, sub, filter); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			s.logger.Debug("event stream ended", "error", err)
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func streamEvents(ctx context.Context, conn *websocket.Conn, sub *events.Subscription, filter eventFilter) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-sub.C():
			if !ok {
				return nil
			}
			payload, ok := events.Payload(evt)
			if !ok {
				continue
			}
			if !filter.match(payload) {
				continue
			}
			if err := writeEvent(ctx, conn, payload); err != nil {
				return err
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, evt *types.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
