package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"astra-responder/internal/schema"
)

func testNotice() Notice {
	return Notice{
		Title:      "IP 192.0.2.10 blocked",
		Message:    "automatic block after SYN flood detection",
		AlertType:  schema.AlertDDoSSynFlood,
		ActionType: schema.ActionBlockIP,
		Severity:   schema.SeverityHigh,
		SourceIP:   "192.0.2.10",
		Confidence: 0.95,
	}
}

func TestWebhookChannel_Send(t *testing.T) {
	var got Notice
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content-type = %s", r.Header.Get("Content-Type"))
		}
		if r.Header.Get("X-Api-Key") != "secret" {
			t.Errorf("custom header missing")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ch := NewWebhookChannel("ops", server.URL, map[string]string{"X-Api-Key": "secret"})
	if err := ch.Send(context.Background(), testNotice()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.SourceIP != "192.0.2.10" || got.ActionType != schema.ActionBlockIP {
		t.Errorf("payload mismatch: %+v", got)
	}
}

func TestWebhookChannel_Non2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer server.Close()

	ch := NewWebhookChannel("ops", server.URL, nil)
	err := ch.Send(context.Background(), testNotice())
	if err == nil {
		t.Fatal("expected error for 502 response")
	}
	if !strings.Contains(err.Error(), "502") {
		t.Errorf("error should carry status code: %v", err)
	}
}

func TestSlackChannel_Send(t *testing.T) {
	var body map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ch := NewSlackChannel(server.URL, "#security", "responder")
	if err := ch.Send(context.Background(), testNotice()); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if body["channel"] != "#security" {
		t.Errorf("channel = %v", body["channel"])
	}
	attachments, ok := body["attachments"].([]interface{})
	if !ok || len(attachments) != 1 {
		t.Fatalf("attachments = %v", body["attachments"])
	}
	att := attachments[0].(map[string]interface{})
	if att["color"] != "#FFA500" {
		t.Errorf("high severity color = %v, want #FFA500", att["color"])
	}
	if !strings.Contains(att["title"].(string), "[HIGH]") {
		t.Errorf("title = %v", att["title"])
	}
}

type stubChannel struct {
	name  string
	err   error
	calls atomic.Int64
}

func (s *stubChannel) Name() string { return s.name }

func (s *stubChannel) Send(ctx context.Context, _ Notice) error {
	s.calls.Add(1)
	return s.err
}

func TestNotifier_FanOut(t *testing.T) {
	n := NewNotifier(nil)
	a := &stubChannel{name: "a"}
	b := &stubChannel{name: "b"}
	n.AddChannel(a)
	n.AddChannel(b)

	if err := n.Notify(context.Background(), testNotice()); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if a.calls.Load() != 1 || b.calls.Load() != 1 {
		t.Errorf("calls = %d/%d, want 1/1", a.calls.Load(), b.calls.Load())
	}
}

func TestNotifier_FailingChannelDoesNotStopOthers(t *testing.T) {
	n := NewNotifier(nil)
	bad := &stubChannel{name: "bad", err: errors.New("boom")}
	good := &stubChannel{name: "good"}
	n.AddChannel(bad)
	n.AddChannel(good)

	err := n.Notify(context.Background(), testNotice())
	if err == nil {
		t.Fatal("expected aggregate error")
	}
	if !strings.Contains(err.Error(), "bad: boom") {
		t.Errorf("error should name the failed channel: %v", err)
	}
	if good.calls.Load() != 1 {
		t.Error("healthy channel was not invoked")
	}
}

func TestNotifier_NoChannels(t *testing.T) {
	n := NewNotifier(nil)
	if err := n.Notify(context.Background(), testNotice()); err != nil {
		t.Fatalf("Notify with no channels should succeed: %v", err)
	}
}
