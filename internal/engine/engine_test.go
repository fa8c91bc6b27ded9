package engine

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"astra-responder/internal/blockstore"
	"astra-responder/internal/history"
	"astra-responder/internal/pending"
	"astra-responder/internal/policy"
	"astra-responder/internal/schema"
)

type fakeRunner struct {
	executed  []schema.ActionType
	unblocked []string
	failOn    map[schema.ActionType]error
	blocks    *blockstore.Store
}

func (f *fakeRunner) Execute(_ context.Context, alert schema.AlertContext, cfg policy.ActionConfig) (string, error) {
	f.executed = append(f.executed, cfg.ActionType)
	if err := f.failOn[cfg.ActionType]; err != nil {
		return "", err
	}
	if cfg.ActionType.IsBlocking() && f.blocks != nil {
		f.blocks.Upsert(alert.SourceIP, cfg.ActionType, cfg.TTL(), alert.AlertType)
	}
	return "done", nil
}

func (f *fakeRunner) Unblock(_ context.Context, target string) error {
	f.unblocked = append(f.unblocked, target)
	return nil
}

type fixture struct {
	engine  *Engine
	runner  *fakeRunner
	queue   *pending.Queue
	blocks  *blockstore.Store
	history *history.Log
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := slog.Default()
	hist := history.NewLog(1000, logger)
	blocks := blockstore.New(logger)
	runner := &fakeRunner{failOn: map[schema.ActionType]error{}, blocks: blocks}
	queue := pending.NewQueue(pending.DefaultConfig(), runner, hist, logger)
	registry, err := policy.NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	return &fixture{
		engine:  New(registry, runner, queue, blocks, hist, schema.NewValidator(), logger),
		runner:  runner,
		queue:   queue,
		blocks:  blocks,
		history: hist,
	}
}

func synFloodAlert(confidence float64) schema.AlertContext {
	return schema.AlertContext{
		AlertType:  schema.AlertDDoSSynFlood,
		SourceIP:   "198.51.100.23",
		TargetIP:   "10.0.0.5",
		TargetPort: 443,
		Severity:   schema.SeverityHigh,
		Confidence: confidence,
		Timestamp:  time.Now().UTC(),
	}
}

func outcomeFor(t *testing.T, outcomes []ActionOutcome, action schema.ActionType) ActionOutcome {
	t.Helper()
	for _, o := range outcomes {
		if o.ActionType == action {
			return o
		}
	}
	t.Fatalf("no outcome for %s in %+v", action, outcomes)
	return ActionOutcome{}
}

// High-confidence SYN flood under default policy: rate_limit executes,
// block_ip (manual, gated on confidence > 0.9) is queued, notify executes.
func TestProcessAlert_SynFloodHighConfidence(t *testing.T) {
	f := newFixture(t)

	outcomes, err := f.engine.ProcessAlert(context.Background(), synFloodAlert(0.95))
	if err != nil {
		t.Fatalf("ProcessAlert: %v", err)
	}
	if len(outcomes) != 3 {
		t.Fatalf("outcomes = %d, want 3: %+v", len(outcomes), outcomes)
	}

	rl := outcomeFor(t, outcomes, schema.ActionRateLimit)
	if rl.Status != history.StatusSuccess {
		t.Errorf("rate_limit status = %s", rl.Status)
	}

	block := outcomeFor(t, outcomes, schema.ActionBlockIP)
	if block.Status != history.StatusPendingApproval {
		t.Errorf("block_ip status = %s, want pending_approval", block.Status)
	}
	if block.PendingID == nil {
		t.Fatal("block_ip outcome has no pending ID")
	}
	if got := len(f.queue.List(pending.StatusPending)); got != 1 {
		t.Errorf("pending count = %d, want 1", got)
	}

	// Manual actions never reach the runner.
	for _, a := range f.runner.executed {
		if a == schema.ActionBlockIP {
			t.Error("manual block_ip was executed without approval")
		}
	}
}

// Low confidence fails the block_ip gate: skipped, not queued.
func TestProcessAlert_SynFloodLowConfidence(t *testing.T) {
	f := newFixture(t)

	outcomes, err := f.engine.ProcessAlert(context.Background(), synFloodAlert(0.5))
	if err != nil {
		t.Fatalf("ProcessAlert: %v", err)
	}

	block := outcomeFor(t, outcomes, schema.ActionBlockIP)
	if block.Status != history.StatusSkippedCondition {
		t.Errorf("block_ip status = %s, want skipped_condition", block.Status)
	}
	if got := len(f.queue.List(pending.StatusPending)); got != 0 {
		t.Errorf("pending count = %d, want 0", got)
	}
	if outcomeFor(t, outcomes, schema.ActionRateLimit).Status != history.StatusSuccess {
		t.Error("rate_limit should still execute")
	}
}

func TestProcessAlert_EveryDecisionIsAudited(t *testing.T) {
	f := newFixture(t)

	outcomes, err := f.engine.ProcessAlert(context.Background(), synFloodAlert(0.95))
	if err != nil {
		t.Fatalf("ProcessAlert: %v", err)
	}

	entries := f.history.Query(100, history.Filter{})
	if len(entries) != len(outcomes) {
		t.Errorf("history entries = %d, outcomes = %d", len(entries), len(outcomes))
	}
}

func TestProcessAlert_DisabledAction(t *testing.T) {
	f := newFixture(t)

	registry := policy.NewEmptyRegistry()
	err := registry.Replace(schema.AlertAnomaly, []policy.ActionConfig{
		{ActionType: schema.ActionNotifyAdmin, Enabled: false, AutoExecute: true},
		{ActionType: schema.ActionLogEvent, Enabled: true, AutoExecute: true},
	})
	if err != nil {
		t.Fatalf("Replace: %v", err)
	}
	f.engine.registry = registry

	alert := synFloodAlert(0.9)
	alert.AlertType = schema.AlertAnomaly
	outcomes, err := f.engine.ProcessAlert(context.Background(), alert)
	if err != nil {
		t.Fatalf("ProcessAlert: %v", err)
	}

	if outcomeFor(t, outcomes, schema.ActionNotifyAdmin).Status != history.StatusSkippedDisabled {
		t.Error("disabled action was not skipped")
	}
	if outcomeFor(t, outcomes, schema.ActionLogEvent).Status != history.StatusSuccess {
		t.Error("enabled sibling should still run")
	}
	if len(f.runner.executed) != 1 {
		t.Errorf("executed = %v, want only log_event", f.runner.executed)
	}

	entries := f.history.Query(10, history.Filter{Status: history.StatusSkippedDisabled})
	if len(entries) != 1 {
		t.Errorf("skipped_disabled history entries = %d, want 1", len(entries))
	}
}

// An execution failure is recorded and must not abort sibling actions.
func TestProcessAlert_FailureDoesNotAbortSiblings(t *testing.T) {
	f := newFixture(t)
	f.runner.failOn[schema.ActionRateLimit] = errors.New("nft exited 1")

	outcomes, err := f.engine.ProcessAlert(context.Background(), synFloodAlert(0.95))
	if err != nil {
		t.Fatalf("ProcessAlert must not fail on a handler error: %v", err)
	}
	if len(outcomes) != 3 {
		t.Fatalf("outcomes = %d, want 3", len(outcomes))
	}

	rl := outcomeFor(t, outcomes, schema.ActionRateLimit)
	if rl.Status != history.StatusFailure || !strings.Contains(rl.Error, "nft exited 1") {
		t.Errorf("rate_limit outcome = %+v", rl)
	}
	if outcomeFor(t, outcomes, schema.ActionNotifyAdmin).Status != history.StatusSuccess {
		t.Error("notify_admin should run despite rate_limit failure")
	}

	entries := f.history.Query(10, history.Filter{Status: history.StatusFailure})
	if len(entries) != 1 {
		t.Errorf("failure history entries = %d, want 1", len(entries))
	}
}

// Re-delivery of the same alert must not duplicate pending actions and must
// not create a second block.
func TestProcessAlert_RedeliveryIsIdempotent(t *testing.T) {
	f := newFixture(t)

	alert := synFloodAlert(0.95)
	if _, err := f.engine.ProcessAlert(context.Background(), alert); err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, err := f.engine.ProcessAlert(context.Background(), alert); err != nil {
		t.Fatalf("second: %v", err)
	}

	if got := len(f.queue.List(pending.StatusPending)); got != 1 {
		t.Errorf("pending count = %d, want 1", got)
	}
	var rateLimitBlocks int
	for _, b := range f.blocks.List() {
		if b.ActionType == schema.ActionRateLimit {
			rateLimitBlocks++
		}
	}
	if rateLimitBlocks != 1 {
		t.Errorf("rate_limit blocks = %d, want 1", rateLimitBlocks)
	}
}

func TestProcessAlert_InvalidContext(t *testing.T) {
	f := newFixture(t)

	alert := synFloodAlert(0.95)
	alert.AlertType = "made_up"
	if _, err := f.engine.ProcessAlert(context.Background(), alert); err == nil {
		t.Fatal("expected validation error")
	}

	alert = synFloodAlert(1.5)
	if _, err := f.engine.ProcessAlert(context.Background(), alert); err == nil {
		t.Fatal("expected confidence range error")
	}
}

func TestProcessAlert_NoConfiguredActions(t *testing.T) {
	f := newFixture(t)
	f.engine.registry = policy.NewEmptyRegistry()

	outcomes, err := f.engine.ProcessAlert(context.Background(), synFloodAlert(0.95))
	if err != nil {
		t.Fatalf("ProcessAlert: %v", err)
	}
	if len(outcomes) != 0 {
		t.Errorf("outcomes = %+v, want none", outcomes)
	}
}

func TestUnblockTarget(t *testing.T) {
	f := newFixture(t)
	f.blocks.Upsert("198.51.100.23", schema.ActionBlockIP, time.Hour, schema.AlertPortScan)

	existed, err := f.engine.UnblockTarget(context.Background(), "198.51.100.23")
	if err != nil {
		t.Fatalf("UnblockTarget: %v", err)
	}
	if !existed {
		t.Error("existed = false for an active block")
	}
	if len(f.runner.unblocked) != 1 {
		t.Errorf("unblocked = %v", f.runner.unblocked)
	}

	// Absent target: idempotent no-op, still audited.
	existed, err = f.engine.UnblockTarget(context.Background(), "198.51.100.23")
	if err != nil {
		t.Fatalf("UnblockTarget: %v", err)
	}
	if existed {
		t.Error("existed = true after removal")
	}

	entries := f.history.Query(10, history.Filter{Status: history.StatusUnblocked})
	if len(entries) != 2 {
		t.Errorf("unblock history entries = %d, want 2", len(entries))
	}
}

func TestBlockExpiryHandler(t *testing.T) {
	logger := slog.Default()
	hist := history.NewLog(100, logger)
	runner := &fakeRunner{}

	now := time.Now()
	clock := func() time.Time { return now }
	blocks := blockstore.New(logger,
		blockstore.WithClock(clock),
		blockstore.WithExpiryHandler(BlockExpiryHandler(runner, hist, logger)),
	)
	blocks.Upsert("192.0.2.4", schema.ActionBlockIP, 10*time.Minute, schema.AlertPortScan)

	now = now.Add(11 * time.Minute)
	if n := blocks.SweepExpired(); n != 1 {
		t.Fatalf("SweepExpired = %d, want 1", n)
	}
	if len(runner.unblocked) != 1 || runner.unblocked[0] != "192.0.2.4" {
		t.Errorf("unblocked = %v", runner.unblocked)
	}
	entries := hist.Query(10, history.Filter{Status: history.StatusExpired})
	if len(entries) != 1 {
		t.Fatalf("expired history entries = %d, want 1", len(entries))
	}
}
