package notify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestNtfyClientSendsExpectedRequest(t *testing.T) {
	var capturedPath string
	var capturedTitle string
	var capturedPriority string
	var capturedTags string
	var capturedAuth string
	var capturedBody string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedPath = r.URL.Path
		capturedTitle = r.Header.Get("Title")
		capturedPriority = r.Header.Get("Priority")
		capturedTags = r.Header.Get("Tags")
		capturedAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		capturedBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, err := NewNtfyClient(NtfyClientOptions{
		ServerURL:  server.URL,
		Topic:      "zortex-alerts",
		Token:      "tk_abc",
		HTTPClient: server.Client(),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	err = client.Publish(context.Background(), Notification{
		Kind:     "project_completed",
		Title:    "Project Launch completed",
		Body:     "All tasks done; 23 XP transferred to linked areas.",
		Priority: "high",
		Tags:     []string{"tada", "rocket"},
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if capturedPath != "/zortex-alerts" {
		t.Fatalf("path: %q", capturedPath)
	}
	if capturedTitle != "Project Launch completed" {
		t.Fatalf("title: %q", capturedTitle)
	}
	if capturedPriority != "high" {
		t.Fatalf("priority: %q", capturedPriority)
	}
	if capturedTags != "tada,rocket" {
		t.Fatalf("tags: %q", capturedTags)
	}
	if capturedAuth != "Bearer tk_abc" {
		t.Fatalf("auth: %q", capturedAuth)
	}
	if !strings.Contains(capturedBody, "23 XP") {
		t.Fatalf("body: %q", capturedBody)
	}
}

func TestNtfyClientDefaultsPriority(t *testing.T) {
	var capturedPriority string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedPriority = r.Header.Get("Priority")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, err := NewNtfyClient(NtfyClientOptions{ServerURL: server.URL, Topic: "t", HTTPClient: server.Client()})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := client.Publish(context.Background(), Notification{Title: "x", Body: "y"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if capturedPriority != "default" {
		t.Fatalf("priority: %q", capturedPriority)
	}
}

func TestNtfyClientRetriesTransientFailure(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		current := atomic.AddInt32(&calls, 1)
		if current == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, err := NewNtfyClient(NtfyClientOptions{
		ServerURL:  server.URL,
		Topic:      "t",
		HTTPClient: server.Client(),
		MaxRetries: 2,
		BaseDelay:  5 * time.Millisecond,
		MaxDelay:   20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := client.Publish(context.Background(), Notification{Title: "x", Body: "y"}); err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected one retry, got %d calls", atomic.LoadInt32(&calls))
	}
}

func TestNtfyClientReturnsErrorOnPermanentFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("topic is protected"))
	}))
	defer server.Close()

	client, err := NewNtfyClient(NtfyClientOptions{ServerURL: server.URL, Topic: "t", HTTPClient: server.Client()})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	err = client.Publish(context.Background(), Notification{Title: "x", Body: "y"})
	if err == nil {
		t.Fatal("expected permanent error")
	}
	if !strings.Contains(err.Error(), "topic is protected") {
		t.Fatalf("expected server message in error, got %v", err)
	}
}

func TestNtfyClientRequiresTopic(t *testing.T) {
	if _, err := NewNtfyClient(NtfyClientOptions{}); err == nil {
		t.Fatal("expected an error without a topic")
	}
}
