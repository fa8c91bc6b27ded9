// Package firewall manages the host firewall enforcement point used by the
// blocking action handlers, via nftables or iptables, without a daemon
// dependency.
package firewall

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Backend represents the firewall backend type.
type Backend string

const (
	BackendNftables Backend = "nftables"
	BackendIptables Backend = "iptables"
	BackendNone     Backend = "none"
)

// ErrNoBackend is returned when neither nftables nor iptables is usable.
var ErrNoBackend = errors.New("no firewall backend available")

// nftables objects owned by this service.
const (
	nftTable      = "responder"
	nftSetBlocked = "blocked"
	nftSetLimited = "limited"
	nftSetIsolate = "isolated"
)

// Config holds firewall configuration.
type Config struct {
	Backend        Backend       `yaml:"backend"` // empty = auto-detect
	NftablesPath   string        `yaml:"nftables_path"`
	IptablesPath   string        `yaml:"iptables_path"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
	// RateLimitPerSecond is the packet rate applied to rate-limited sources.
	RateLimitPerSecond int `yaml:"rate_limit_per_second"`
}

// DefaultConfig returns default firewall configuration.
func DefaultConfig() Config {
	return Config{
		NftablesPath:       "/usr/sbin/nft",
		IptablesPath:       "/sbin/iptables",
		CommandTimeout:     10 * time.Second,
		RateLimitPerSecond: 10,
	}
}

// runner executes one external command and returns its combined output.
// Injected in tests.
type runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// lookPath resolves a binary. Injected in tests.
type lookPath func(file string) (string, error)

// Manager drives the detected firewall backend. All operations are
// idempotent: enforcing an already-enforced state succeeds.
type Manager struct {
	config  Config
	backend Backend
	logger  *slog.Logger
	run     runner

	baselineMu   sync.Mutex
	baselineDone bool
}

// NewManager detects the backend and returns a manager. A missing backend
// is an error: the blocking actions cannot degrade to a no-op silently.
func NewManager(cfg Config, logger *slog.Logger) (*Manager, error) {
	return newManager(cfg, logger, execRunner, exec.LookPath)
}

func newManager(cfg Config, logger *slog.Logger, run runner, look lookPath) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 10 * time.Second
	}

	m := &Manager{config: cfg, logger: logger, run: run}

	backend, err := m.detectBackend(look)
	if err != nil {
		return nil, err
	}
	m.backend = backend

	logger.Info("firewall manager initialized", "backend", backend)
	return m, nil
}

func (m *Manager) detectBackend(look lookPath) (Backend, error) {
	want := m.config.Backend

	if want == BackendNftables || want == "" || want == BackendNone {
		if _, err := look(m.config.NftablesPath); err == nil {
			if _, err := m.runCmd(context.Background(), m.config.NftablesPath, "list", "ruleset"); err == nil {
				return BackendNftables, nil
			}
		}
	}
	if want == BackendIptables || want == "" || want == BackendNone {
		if _, err := look(m.config.IptablesPath); err == nil {
			if _, err := m.runCmd(context.Background(), m.config.IptablesPath, "-L", "-n"); err == nil {
				return BackendIptables, nil
			}
		}
	}
	return BackendNone, ErrNoBackend
}

// Backend returns the detected backend.
func (m *Manager) Backend() Backend {
	return m.backend
}

// runCmd executes one command under the configured timeout.
func (m *Manager) runCmd(ctx context.Context, name string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, m.config.CommandTimeout)
	defer cancel()

	out, err := m.run(ctx, name, args...)
	if err != nil {
		return out, fmt.Errorf("%s %s: %w (output: %s)",
			name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return out, nil
}

func validIP(ip string) (string, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return "", fmt.Errorf("invalid IP address %q", ip)
	}
	return parsed.String(), nil
}

// ensureBaseline creates the nftables table, sets, and chain rules this
// service owns. Safe to call repeatedly; only the first call does work.
func (m *Manager) ensureBaseline(ctx context.Context) error {
	if m.backend != BackendNftables {
		return nil
	}

	m.baselineMu.Lock()
	defer m.baselineMu.Unlock()
	if m.baselineDone {
		return nil
	}

	nft := m.config.NftablesPath
	rate := fmt.Sprintf("%d/second", m.config.RateLimitPerSecond)
	steps := [][]string{
		{"add", "table", "inet", nftTable},
		{"add", "set", "inet", nftTable, nftSetBlocked, "{ type ipv4_addr; }"},
		{"add", "set", "inet", nftTable, nftSetLimited, "{ type ipv4_addr; }"},
		{"add", "set", "inet", nftTable, nftSetIsolate, "{ type ipv4_addr; }"},
		{"add", "chain", "inet", nftTable, "input", "{ type filter hook input priority 0 ; }"},
		{"add", "chain", "inet", nftTable, "forward", "{ type filter hook forward priority 0 ; }"},
		{"flush", "chain", "inet", nftTable, "input"},
		{"flush", "chain", "inet", nftTable, "forward"},
		{"add", "rule", "inet", nftTable, "input", "ip", "saddr", "@" + nftSetBlocked, "drop"},
		{"add", "rule", "inet", nftTable, "input", "ip", "saddr", "@" + nftSetLimited, "limit", "rate", "over", rate, "drop"},
		{"add", "rule", "inet", nftTable, "input", "ip", "saddr", "@" + nftSetIsolate, "drop"},
		{"add", "rule", "inet", nftTable, "forward", "ip", "saddr", "@" + nftSetIsolate, "drop"},
		{"add", "rule", "inet", nftTable, "forward", "ip", "daddr", "@" + nftSetIsolate, "drop"},
	}

	for _, args := range steps {
		if _, err := m.runCmd(ctx, nft, args...); err != nil {
			return fmt.Errorf("nftables baseline: %w", err)
		}
	}

	m.baselineDone = true
	return nil
}

// BlockIP drops all inbound traffic from the source address.
func (m *Manager) BlockIP(ctx context.Context, ip string) error {
	ip, err := validIP(ip)
	if err != nil {
		return err
	}

	switch m.backend {
	case BackendNftables:
		if err := m.ensureBaseline(ctx); err != nil {
			return err
		}
		_, err := m.runCmd(ctx, m.config.NftablesPath,
			"add", "element", "inet", nftTable, nftSetBlocked, "{ "+ip+" }")
		return err
	case BackendIptables:
		// -C probes for an existing rule so repeated blocks stay idempotent.
		if _, err := m.runCmd(ctx, m.config.IptablesPath, "-C", "INPUT", "-s", ip, "-j", "DROP"); err == nil {
			return nil
		}
		_, err := m.runCmd(ctx, m.config.IptablesPath, "-I", "INPUT", "-s", ip, "-j", "DROP")
		return err
	}
	return ErrNoBackend
}

// UnblockIP removes every enforcement this service applied to the address:
// block, rate limit, and isolation.
func (m *Manager) UnblockIP(ctx context.Context, ip string) error {
	ip, err := validIP(ip)
	if err != nil {
		return err
	}

	switch m.backend {
	case BackendNftables:
		if err := m.ensureBaseline(ctx); err != nil {
			return err
		}
		for _, set := range []string{nftSetBlocked, nftSetLimited, nftSetIsolate} {
			// Deleting an absent element fails; that is the idempotent path.
			if _, err := m.runCmd(ctx, m.config.NftablesPath,
				"delete", "element", "inet", nftTable, set, "{ "+ip+" }"); err != nil {
				m.logger.Debug("element not present during unblock", "set", set, "ip", ip)
			}
		}
		return nil
	case BackendIptables:
		rules := [][]string{
			{"-D", "INPUT", "-s", ip, "-j", "DROP"},
			{"-D", "INPUT", "-s", ip, "-m", "hashlimit",
				"--hashlimit-above", fmt.Sprintf("%d/second", m.config.RateLimitPerSecond),
				"--hashlimit-name", "resp-" + ip, "-j", "DROP"},
			{"-D", "FORWARD", "-s", ip, "-j", "DROP"},
			{"-D", "FORWARD", "-d", ip, "-j", "DROP"},
		}
		for _, args := range rules {
			if _, err := m.runCmd(ctx, m.config.IptablesPath, args...); err != nil {
				m.logger.Debug("rule not present during unblock", "ip", ip)
			}
		}
		return nil
	}
	return ErrNoBackend
}

// RateLimitIP throttles inbound traffic from the source address to the
// configured packet rate.
func (m *Manager) RateLimitIP(ctx context.Context, ip string) error {
	ip, err := validIP(ip)
	if err != nil {
		return err
	}

	switch m.backend {
	case BackendNftables:
		if err := m.ensureBaseline(ctx); err != nil {
			return err
		}
		_, err := m.runCmd(ctx, m.config.NftablesPath,
			"add", "element", "inet", nftTable, nftSetLimited, "{ "+ip+" }")
		return err
	case BackendIptables:
		args := []string{"-s", ip, "-m", "hashlimit",
			"--hashlimit-above", fmt.Sprintf("%d/second", m.config.RateLimitPerSecond),
			"--hashlimit-name", "resp-" + ip, "-j", "DROP"}
		if _, err := m.runCmd(ctx, m.config.IptablesPath, append([]string{"-C", "INPUT"}, args...)...); err == nil {
			return nil
		}
		_, err := m.runCmd(ctx, m.config.IptablesPath, append([]string{"-I", "INPUT"}, args...)...)
		return err
	}
	return ErrNoBackend
}

// IsolateHost quarantines the host: inbound, and both forwarding
// directions, are dropped.
func (m *Manager) IsolateHost(ctx context.Context, ip string) error {
	ip, err := validIP(ip)
	if err != nil {
		return err
	}

	switch m.backend {
	case BackendNftables:
		if err := m.ensureBaseline(ctx); err != nil {
			return err
		}
		_, err := m.runCmd(ctx, m.config.NftablesPath,
			"add", "element", "inet", nftTable, nftSetIsolate, "{ "+ip+" }")
		return err
	case BackendIptables:
		rules := [][]string{
			{"INPUT", "-s", ip, "-j", "DROP"},
			{"FORWARD", "-s", ip, "-j", "DROP"},
			{"FORWARD", "-d", ip, "-j", "DROP"},
		}
		for _, rule := range rules {
			if _, err := m.runCmd(ctx, m.config.IptablesPath, append([]string{"-C"}, rule...)...); err == nil {
				continue
			}
			if _, err := m.runCmd(ctx, m.config.IptablesPath, append([]string{"-I"}, rule...)...); err != nil {
				return err
			}
		}
		return nil
	}
	return ErrNoBackend
}
