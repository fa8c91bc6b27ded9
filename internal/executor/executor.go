// Package executor dispatches response actions to their handlers and
// shields the engine from handler faults.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"astra-responder/internal/blockstore"
	"astra-responder/internal/notify"
	"astra-responder/internal/policy"
	"astra-responder/internal/schema"
)

// ExecutionError reports a failed or faulted action execution.
type ExecutionError struct {
	ActionType schema.ActionType
	Reason     string
	Err        error
}

func (e *ExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("executing %s: %s: %v", e.ActionType, e.Reason, e.Err)
	}
	return fmt.Sprintf("executing %s: %s", e.ActionType, e.Reason)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// FirewallController is the subset of the firewall manager the blocking
// handlers need. *firewall.Manager satisfies it.
type FirewallController interface {
	BlockIP(ctx context.Context, ip string) error
	UnblockIP(ctx context.Context, ip string) error
	RateLimitIP(ctx context.Context, ip string) error
	IsolateHost(ctx context.Context, ip string) error
}

// Handler performs one action type. The returned detail is a human-readable
// summary recorded in the history log.
type Handler interface {
	Execute(ctx context.Context, alert schema.AlertContext, cfg policy.ActionConfig) (string, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, alert schema.AlertContext, cfg policy.ActionConfig) (string, error)

func (f HandlerFunc) Execute(ctx context.Context, alert schema.AlertContext, cfg policy.ActionConfig) (string, error) {
	return f(ctx, alert, cfg)
}

// Config bounds handler execution times.
type Config struct {
	BlockTimeout   time.Duration `yaml:"block_timeout"`
	ServiceTimeout time.Duration `yaml:"service_timeout"`
	ScriptTimeout  time.Duration `yaml:"script_timeout"`
}

// DefaultConfig returns default executor configuration.
func DefaultConfig() Config {
	return Config{
		BlockTimeout:   10 * time.Second,
		ServiceTimeout: 30 * time.Second,
		ScriptTimeout:  60 * time.Second,
	}
}

// runner executes one external command and returns its combined output.
// Injected in tests.
type runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// envRunner mirrors runner with extra environment variables, used by the
// custom script handler.
type envRunner func(ctx context.Context, env []string, name string, args ...string) ([]byte, error)

func execEnvRunner(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = env
	return cmd.CombinedOutput()
}

// Executor owns the handler registry. It registers the built-in handlers
// for every action type at construction; custom handlers may override them.
type Executor struct {
	config   Config
	firewall FirewallController
	blocks   *blockstore.Store
	notifier *notify.Notifier
	logger   *slog.Logger
	handlers map[schema.ActionType]Handler
	run      runner
	runEnv   envRunner
}

// New creates an executor with all built-in handlers registered.
func New(cfg Config, fw FirewallController, blocks *blockstore.Store, notifier *notify.Notifier, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = 10 * time.Second
	}
	if cfg.ServiceTimeout <= 0 {
		cfg.ServiceTimeout = 30 * time.Second
	}
	if cfg.ScriptTimeout <= 0 {
		cfg.ScriptTimeout = 60 * time.Second
	}

	e := &Executor{
		config:   cfg,
		firewall: fw,
		blocks:   blocks,
		notifier: notifier,
		logger:   logger,
		handlers: make(map[schema.ActionType]Handler),
		run:      execRunner,
		runEnv:   execEnvRunner,
	}
	e.registerBuiltins()
	return e
}

// Register installs a handler for an action type, replacing any existing one.
func (e *Executor) Register(actionType schema.ActionType, h Handler) {
	e.handlers[actionType] = h
}

func (e *Executor) registerBuiltins() {
	e.Register(schema.ActionBlockIP, HandlerFunc(e.handleBlockIP))
	e.Register(schema.ActionRateLimit, HandlerFunc(e.handleRateLimit))
	e.Register(schema.ActionIsolateHost, HandlerFunc(e.handleIsolateHost))
	e.Register(schema.ActionRestartService, HandlerFunc(e.handleRestartService))
	e.Register(schema.ActionFlushCache, HandlerFunc(e.handleFlushCache))
	e.Register(schema.ActionNotifyAdmin, HandlerFunc(e.handleNotifyAdmin))
	e.Register(schema.ActionLogEvent, HandlerFunc(e.handleLogEvent))
	e.Register(schema.ActionCustomScript, HandlerFunc(e.handleCustomScript))
}

// Execute runs the handler for the config's action type. A handler panic is
// converted into an *ExecutionError so one faulty handler cannot take the
// engine down.
func (e *Executor) Execute(ctx context.Context, alert schema.AlertContext, cfg policy.ActionConfig) (detail string, err error) {
	handler, ok := e.handlers[cfg.ActionType]
	if !ok {
		return "", &ExecutionError{ActionType: cfg.ActionType, Reason: "no handler registered"}
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("action handler panicked",
				"action_type", cfg.ActionType, "alert_type", alert.AlertType, "panic", r)
			detail = ""
			err = &ExecutionError{
				ActionType: cfg.ActionType,
				Reason:     fmt.Sprintf("handler panicked: %v", r),
			}
		}
	}()

	detail, err = handler.Execute(ctx, alert, cfg)
	if err != nil {
		if _, ok := err.(*ExecutionError); ok {
			return "", err
		}
		return "", &ExecutionError{ActionType: cfg.ActionType, Reason: "handler failed", Err: err}
	}
	return detail, nil
}

// Unblock lifts every firewall enforcement for the target. Block store
// bookkeeping is the caller's responsibility.
func (e *Executor) Unblock(ctx context.Context, target string) error {
	ctx, cancel := context.WithTimeout(ctx, e.config.BlockTimeout)
	defer cancel()

	if err := e.firewall.UnblockIP(ctx, target); err != nil {
		return &ExecutionError{ActionType: schema.ActionBlockIP, Reason: "unblock failed", Err: err}
	}
	return nil
}

// paramString fetches a string parameter from the action config.
func paramString(cfg policy.ActionConfig, key string) (string, bool) {
	v, ok := cfg.Parameters[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
