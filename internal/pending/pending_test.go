package pending

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"astra-responder/internal/history"
	"astra-responder/internal/policy"
	"astra-responder/internal/schema"
)

type fakeRunner struct {
	calls  int
	detail string
	err    error
}

func (f *fakeRunner) Execute(ctx context.Context, alert schema.AlertContext, cfg policy.ActionConfig) (string, error) {
	f.calls++
	return f.detail, f.err
}

func testAlert() schema.AlertContext {
	return schema.AlertContext{
		AlertType:  schema.AlertBruteforceSSH,
		SourceIP:   "203.0.113.7",
		Severity:   schema.SeverityHigh,
		Confidence: 0.85,
		Timestamp:  time.Now().UTC(),
	}
}

func blockConfig() policy.ActionConfig {
	return policy.ActionConfig{ActionType: schema.ActionBlockIP, TTLMinutes: 180}
}

func newTestQueue(cfg Config, runner *fakeRunner) (*Queue, *history.Log) {
	hist := history.NewLog(100, slog.Default())
	return NewQueue(cfg, runner, hist, slog.Default()), hist
}

func TestEnqueue_Dedup(t *testing.T) {
	q, _ := newTestQueue(DefaultConfig(), &fakeRunner{})

	first, created := q.Enqueue(testAlert(), blockConfig())
	if !created {
		t.Fatal("first enqueue should create")
	}
	second, created := q.Enqueue(testAlert(), blockConfig())
	if created {
		t.Error("duplicate pending action was created")
	}
	if second.ID != first.ID {
		t.Error("dedup should return the existing action")
	}

	// A different source IP is a separate pending action.
	other := testAlert()
	other.SourceIP = "203.0.113.8"
	if _, created := q.Enqueue(other, blockConfig()); !created {
		t.Error("different source should enqueue separately")
	}

	if got := len(q.List(StatusPending)); got != 2 {
		t.Errorf("pending count = %d, want 2", got)
	}
}

func TestApprove_ExecutesAndRecordsHistory(t *testing.T) {
	runner := &fakeRunner{detail: "blocked 203.0.113.7 for 3h0m0s"}
	q, hist := newTestQueue(DefaultConfig(), runner)

	action, _ := q.Enqueue(testAlert(), blockConfig())
	result, err := q.Approve(context.Background(), action.ID, "analyst")
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if runner.calls != 1 {
		t.Errorf("runner calls = %d, want 1", runner.calls)
	}
	if result.Status != StatusApproved || result.DecidedBy != "analyst" {
		t.Errorf("result = %+v", result)
	}
	if result.Detail != runner.detail {
		t.Errorf("Detail = %q", result.Detail)
	}

	entries := hist.Query(10, history.Filter{})
	if len(entries) != 1 || entries[0].Status != history.StatusSuccess {
		t.Fatalf("history = %+v", entries)
	}
	if !strings.Contains(entries[0].Detail, "approved by analyst") {
		t.Errorf("history detail = %q", entries[0].Detail)
	}
}

func TestApprove_ExecutionFailure(t *testing.T) {
	runner := &fakeRunner{err: errors.New("nft exited 1")}
	q, hist := newTestQueue(DefaultConfig(), runner)

	action, _ := q.Enqueue(testAlert(), blockConfig())
	result, err := q.Approve(context.Background(), action.ID, "analyst")
	if err == nil {
		t.Fatal("expected execution error")
	}
	// The decision stands even when execution fails.
	if result.Status != StatusApproved {
		t.Errorf("Status = %s, want approved", result.Status)
	}
	if result.Error == "" {
		t.Error("execution error not recorded on the action")
	}

	entries := hist.Query(10, history.Filter{})
	if len(entries) != 1 || entries[0].Status != history.StatusFailure {
		t.Fatalf("history = %+v", entries)
	}
}

func TestApprove_InvalidState(t *testing.T) {
	q, _ := newTestQueue(DefaultConfig(), &fakeRunner{})

	action, _ := q.Enqueue(testAlert(), blockConfig())
	if _, err := q.Approve(context.Background(), action.ID, "a"); err != nil {
		t.Fatalf("first approve: %v", err)
	}

	_, err := q.Approve(context.Background(), action.ID, "b")
	var stateErr *InvalidStateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("expected *InvalidStateError, got %v", err)
	}
	if stateErr.Current != StatusApproved || stateErr.Attempted != "approve" {
		t.Errorf("stateErr = %+v", stateErr)
	}
}

func TestApprove_NotFound(t *testing.T) {
	q, _ := newTestQueue(DefaultConfig(), &fakeRunner{})

	_, err := q.Approve(context.Background(), uuid.New(), "a")
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected *NotFoundError, got %v", err)
	}
}

func TestReject(t *testing.T) {
	runner := &fakeRunner{}
	q, hist := newTestQueue(DefaultConfig(), runner)

	action, _ := q.Enqueue(testAlert(), blockConfig())
	result, err := q.Reject(action.ID, "analyst")
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if result.Status != StatusRejected {
		t.Errorf("Status = %s", result.Status)
	}
	if runner.calls != 0 {
		t.Error("rejected action must not execute")
	}

	entries := hist.Query(10, history.Filter{})
	if len(entries) != 1 || entries[0].Status != history.StatusRejected {
		t.Fatalf("history = %+v", entries)
	}

	// Rejecting twice is an invalid transition.
	var stateErr *InvalidStateError
	if _, err := q.Reject(action.ID, "analyst"); !errors.As(err, &stateErr) {
		t.Fatalf("expected *InvalidStateError, got %v", err)
	}
}

func TestSweepExpired(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAge = 30 * time.Minute
	q, hist := newTestQueue(cfg, &fakeRunner{})

	current := time.Now().UTC()
	q.now = func() time.Time { return current }

	stale, _ := q.Enqueue(testAlert(), blockConfig())

	fresh := testAlert()
	fresh.SourceIP = "203.0.113.9"
	current = current.Add(20 * time.Minute)
	q.Enqueue(fresh, blockConfig())

	// 35 minutes after the first enqueue, only the first is stale.
	current = current.Add(15 * time.Minute)
	if n := q.SweepExpired(); n != 1 {
		t.Fatalf("SweepExpired = %d, want 1", n)
	}

	got, err := q.Get(stale.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusExpired {
		t.Errorf("Status = %s, want expired", got.Status)
	}
	if got := len(q.List(StatusPending)); got != 1 {
		t.Errorf("pending count = %d, want 1", got)
	}

	entries := hist.Query(10, history.Filter{Status: history.StatusExpired})
	if len(entries) != 1 {
		t.Fatalf("expired history entries = %d", len(entries))
	}

	// Expired actions cannot be approved.
	var stateErr *InvalidStateError
	if _, err := q.Approve(context.Background(), stale.ID, "a"); !errors.As(err, &stateErr) {
		t.Fatalf("expected *InvalidStateError, got %v", err)
	}
}

func TestSweepExpired_DisabledByDefault(t *testing.T) {
	q, _ := newTestQueue(DefaultConfig(), &fakeRunner{})
	q.now = func() time.Time { return time.Now().Add(-365 * 24 * time.Hour) }
	q.Enqueue(testAlert(), blockConfig())
	q.now = time.Now

	if n := q.SweepExpired(); n != 0 {
		t.Errorf("SweepExpired = %d with MaxAge=0, want 0", n)
	}
}
