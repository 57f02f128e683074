package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/zortexlab/zortexd/internal/engine"
)

// EventHub fans engine events out to websocket subscribers. Publish
// never blocks; a subscriber that cannot keep up with its buffer is
// dropped and its stream closed.
type EventHub struct {
	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

type subscriber struct {
	ch chan engine.Event
}

func NewEventHub() *EventHub {
	return &EventHub{subs: map[*subscriber]struct{}{}}
}

// Publish delivers an event to every live subscriber. Safe to hand to
// the engine as its event hook.
func (h *EventHub) Publish(ev engine.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub.ch <- ev:
		default:
			delete(h.subs, sub)
			close(sub.ch)
		}
	}
}

func (h *EventHub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *EventHub) subscribe() *subscriber {
	sub := &subscriber{ch: make(chan engine.Event, 64)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *EventHub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.ch)
	}
	h.mu.Unlock()
}

func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request, correlationID string) {
	var cursor uint64
	if raw := strings.TrimSpace(r.URL.Query().Get("cursor")); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid cursor", correlationID)
			return
		}
		cursor = parsed
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close(websocket.StatusInternalError, "stream aborted") }()

	// Subscribe before replaying the backlog so no event published in
	// between is lost. Live events already covered by the backlog are
	// skipped by sequence number.
	sub := s.hub.subscribe()
	defer s.hub.unsubscribe(sub)

	ctx := conn.CloseRead(r.Context())

	lastSeq := cursor
	backlog, _ := s.eng.EventsSince(cursor, 0)
	for _, ev := range backlog {
		if err := writeStreamEvent(ctx, conn, ev); err != nil {
			return
		}
		if ev.Seq > lastSeq {
			lastSeq = ev.Seq
		}
	}

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "stream closed")
			return
		case ev, ok := <-sub.ch:
			if !ok {
				_ = conn.Close(websocket.StatusPolicyViolation, "subscriber lagged")
				return
			}
			if ev.Seq <= lastSeq {
				continue
			}
			lastSeq = ev.Seq
			if err := writeStreamEvent(ctx, conn, ev); err != nil {
				return
			}
		}
	}
}

func writeStreamEvent(ctx context.Context, conn *websocket.Conn, ev engine.Event) error {
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return wsjson.Write(writeCtx, conn, ev)
}
