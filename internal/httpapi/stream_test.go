package httpapi

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/zortexlab/zortexd/internal/engine"
)

func TestEventStreamBacklogAndLive(t *testing.T) {
	secret := "test-secret"
	hub := NewEventHub()
	eng, err := engine.Open(engine.Options{
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		EventHook: hub.Publish,
	})
	if err != nil {
		t.Fatalf("open engine: %v", err)
	}
	seedProjectDoc(t, eng)

	server := NewServer(eng, &fakeRescanner{}, hub, ServerConfig{AuthSecret: secret})
	ts := httptest.NewServer(server)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// The token rides the query string, the way a browser client has to
	// send it.
	token := mustTestJWT(t, secret, "dash", []string{"xp:read"}, time.Now().Add(time.Hour))
	conn, _, err := websocket.Dial(ctx, ts.URL+"/v1/events/stream?cursor=0&access_token="+token, nil)
	if err != nil {
		t.Fatalf("dial stream: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	backlog := int(eng.EventCursor())
	if backlog == 0 {
		t.Fatal("expected seeded events in the backlog")
	}
	var lastSeq uint64
	for i := 0; i < backlog; i++ {
		var ev engine.Event
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			t.Fatalf("read backlog event %d: %v", i, err)
		}
		if ev.Seq <= lastSeq {
			t.Fatalf("expected increasing seq, got %d after %d", ev.Seq, lastSeq)
		}
		lastSeq = ev.Seq
	}

	// Completing the remaining task finishes the project: one xp event,
	// then the completion payout, both relayed live.
	if _, err := eng.ApplyScan(engine.ScanResult{
		Doc:       "projects.md",
		Kind:      engine.ScanProject,
		ScannedAt: time.Now().UTC(),
		Headings: []engine.HeadingRecord{
			{Level: 1, Text: "Career", LineNumber: 1},
		},
		Tasks: []engine.TaskRecord{
			{ID: "ab123", LineNumber: 2, LineText: "- [x] draft resume", Completed: true, HeadingIdx: 0, Position: 1, Total: 2},
			{ID: "cd456", LineNumber: 3, LineText: "- [x] send applications", Completed: true, HeadingIdx: 0, Position: 2, Total: 2},
		},
	}); err != nil {
		t.Fatalf("apply live scan: %v", err)
	}

	var earned engine.Event
	if err := wsjson.Read(ctx, conn, &earned); err != nil {
		t.Fatalf("read live xp event: %v", err)
	}
	if earned.Seq <= lastSeq {
		t.Fatalf("expected live seq past %d, got %d", lastSeq, earned.Seq)
	}
	if earned.Kind != engine.EventXPEarned || earned.TaskID != "cd456" {
		t.Fatalf("expected xp_earned for cd456, got %+v", earned)
	}

	var completed engine.Event
	if err := wsjson.Read(ctx, conn, &completed); err != nil {
		t.Fatalf("read live completion event: %v", err)
	}
	if completed.Kind != engine.EventProjectCompleted || completed.Project != "Career" {
		t.Fatalf("expected project_completed for Career, got %+v", completed)
	}
}

func TestEventStreamRejectsMissingToken(t *testing.T) {
	server := NewServer(newTestEngine(t), &fakeRescanner{}, nil, ServerConfig{AuthSecret: "test-secret"})

	rec := doRequest(t, server, request{method: http.MethodGet, path: "/v1/events/stream"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestEventStreamRejectsBadCursor(t *testing.T) {
	server := NewServer(newTestEngine(t), &fakeRescanner{}, nil, ServerConfig{})

	rec := doRequest(t, server, request{method: http.MethodGet, path: "/v1/events/stream?cursor=abc"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed cursor, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestEventHubDropsSlowSubscriber(t *testing.T) {
	hub := NewEventHub()
	sub := hub.subscribe()
	if got := hub.Subscribers(); got != 1 {
		t.Fatalf("expected 1 subscriber, got %d", got)
	}

	// One past the buffer: the overflowing publish drops the subscriber.
	for i := 0; i < 65; i++ {
		hub.Publish(engine.Event{Seq: uint64(i + 1), Kind: engine.EventXPEarned})
	}
	if got := hub.Subscribers(); got != 0 {
		t.Fatalf("expected lagging subscriber dropped, got %d", got)
	}

	drained := 0
	for range sub.ch {
		drained++
	}
	if drained != 64 {
		t.Fatalf("expected 64 buffered events before the close, got %d", drained)
	}

	// Unsubscribing after the drop must not close the channel twice.
	hub.unsubscribe(sub)
}
