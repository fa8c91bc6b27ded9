package firewall

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
)

type fakeExec struct {
	commands []string
	fail     map[string]error // substring match on the joined command
}

func (f *fakeExec) run(_ context.Context, name string, args ...string) ([]byte, error) {
	cmd := name + " " + strings.Join(args, " ")
	f.commands = append(f.commands, cmd)
	for sub, err := range f.fail {
		if strings.Contains(cmd, sub) {
			return []byte("simulated failure"), err
		}
	}
	return nil, nil
}

func (f *fakeExec) has(sub string) bool {
	for _, cmd := range f.commands {
		if strings.Contains(cmd, sub) {
			return true
		}
	}
	return false
}

func newTestManager(t *testing.T, backend Backend, fe *fakeExec) *Manager {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Backend = backend

	look := func(string) (string, error) { return "/usr/sbin/nft", nil }
	m, err := newManager(cfg, slog.Default(), fe.run, look)
	if err != nil {
		t.Fatalf("newManager: %v", err)
	}
	// Backend detection probes are not part of the assertions.
	fe.commands = nil
	return m
}

func TestDetectBackend_NoBinaries(t *testing.T) {
	look := func(string) (string, error) { return "", errors.New("not found") }
	fe := &fakeExec{}
	_, err := newManager(DefaultConfig(), slog.Default(), fe.run, look)
	if !errors.Is(err, ErrNoBackend) {
		t.Fatalf("expected ErrNoBackend, got %v", err)
	}
}

func TestDetectBackend_FallsBackToIptables(t *testing.T) {
	fe := &fakeExec{fail: map[string]error{"list ruleset": errors.New("nft broken")}}
	look := func(string) (string, error) { return "/bin/x", nil }
	m, err := newManager(DefaultConfig(), slog.Default(), fe.run, look)
	if err != nil {
		t.Fatalf("newManager: %v", err)
	}
	if m.Backend() != BackendIptables {
		t.Fatalf("backend = %s, want iptables", m.Backend())
	}
}

func TestBlockIP_InvalidAddress(t *testing.T) {
	fe := &fakeExec{}
	m := newTestManager(t, BackendIptables, fe)

	if err := m.BlockIP(context.Background(), "not-an-ip"); err == nil {
		t.Fatal("expected error for invalid IP")
	}
	if len(fe.commands) != 0 {
		t.Fatalf("no command should run for invalid input, got %v", fe.commands)
	}
}

func TestBlockIP_Nftables(t *testing.T) {
	fe := &fakeExec{}
	m := newTestManager(t, BackendNftables, fe)

	if err := m.BlockIP(context.Background(), "10.0.0.5"); err != nil {
		t.Fatalf("BlockIP: %v", err)
	}
	if !fe.has("add table inet responder") {
		t.Error("baseline table was not created")
	}
	if !fe.has("add element inet responder blocked { 10.0.0.5 }") {
		t.Errorf("blocked set element missing, commands: %v", fe.commands)
	}

	// Second block must not repeat the baseline.
	fe.commands = nil
	if err := m.BlockIP(context.Background(), "10.0.0.6"); err != nil {
		t.Fatalf("BlockIP: %v", err)
	}
	if fe.has("add table") {
		t.Error("baseline re-ran on second block")
	}
}

func TestBlockIP_IptablesIdempotent(t *testing.T) {
	// -C succeeding means the rule already exists and -I must be skipped.
	fe := &fakeExec{}
	m := newTestManager(t, BackendIptables, fe)

	if err := m.BlockIP(context.Background(), "192.0.2.1"); err != nil {
		t.Fatalf("BlockIP: %v", err)
	}
	if fe.has("-I INPUT -s 192.0.2.1") {
		t.Error("rule inserted despite existing")
	}

	// -C failing means the rule is absent and must be inserted.
	fe = &fakeExec{fail: map[string]error{"-C INPUT": errors.New("no match")}}
	m = newTestManager(t, BackendIptables, fe)
	if err := m.BlockIP(context.Background(), "192.0.2.1"); err != nil {
		t.Fatalf("BlockIP: %v", err)
	}
	if !fe.has("-I INPUT -s 192.0.2.1 -j DROP") {
		t.Errorf("insert missing, commands: %v", fe.commands)
	}
}

func TestUnblockIP_RemovesAllEnforcement(t *testing.T) {
	fe := &fakeExec{}
	m := newTestManager(t, BackendNftables, fe)

	if err := m.UnblockIP(context.Background(), "10.0.0.5"); err != nil {
		t.Fatalf("UnblockIP: %v", err)
	}
	for _, set := range []string{"blocked", "limited", "isolated"} {
		want := fmt.Sprintf("delete element inet responder %s { 10.0.0.5 }", set)
		if !fe.has(want) {
			t.Errorf("missing %q, commands: %v", want, fe.commands)
		}
	}
}

func TestUnblockIP_AbsentRuleIsNoop(t *testing.T) {
	fe := &fakeExec{fail: map[string]error{"-D ": errors.New("no rule")}}
	m := newTestManager(t, BackendIptables, fe)

	if err := m.UnblockIP(context.Background(), "198.51.100.9"); err != nil {
		t.Fatalf("UnblockIP must tolerate absent rules: %v", err)
	}
}

func TestRateLimitIP(t *testing.T) {
	fe := &fakeExec{}
	m := newTestManager(t, BackendNftables, fe)

	if err := m.RateLimitIP(context.Background(), "10.0.0.7"); err != nil {
		t.Fatalf("RateLimitIP: %v", err)
	}
	if !fe.has("add element inet responder limited { 10.0.0.7 }") {
		t.Errorf("limited set element missing, commands: %v", fe.commands)
	}

	fe = &fakeExec{fail: map[string]error{"-C INPUT": errors.New("no match")}}
	m = newTestManager(t, BackendIptables, fe)
	if err := m.RateLimitIP(context.Background(), "10.0.0.7"); err != nil {
		t.Fatalf("RateLimitIP: %v", err)
	}
	if !fe.has("hashlimit") || !fe.has("--hashlimit-above 10/second") {
		t.Errorf("hashlimit rule missing, commands: %v", fe.commands)
	}
}

func TestIsolateHost(t *testing.T) {
	fe := &fakeExec{fail: map[string]error{"-C ": errors.New("no match")}}
	m := newTestManager(t, BackendIptables, fe)

	if err := m.IsolateHost(context.Background(), "172.16.0.4"); err != nil {
		t.Fatalf("IsolateHost: %v", err)
	}
	for _, want := range []string{
		"-I INPUT -s 172.16.0.4 -j DROP",
		"-I FORWARD -s 172.16.0.4 -j DROP",
		"-I FORWARD -d 172.16.0.4 -j DROP",
	} {
		if !fe.has(want) {
			t.Errorf("missing %q, commands: %v", want, fe.commands)
		}
	}
}

func TestCommandFailureSurfacesOutput(t *testing.T) {
	fe := &fakeExec{fail: map[string]error{"add element": errors.New("exit 1")}}
	m := newTestManager(t, BackendNftables, fe)

	err := m.BlockIP(context.Background(), "10.0.0.5")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "simulated failure") {
		t.Errorf("command output missing from error: %v", err)
	}
}
