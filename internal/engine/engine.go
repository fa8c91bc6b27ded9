// Package engine orchestrates alert processing: policy lookup, condition
// gating, execution or queueing, and the audit trail.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"astra-responder/internal/blockstore"
	"astra-responder/internal/condition"
	"astra-responder/internal/history"
	"astra-responder/internal/pending"
	"astra-responder/internal/policy"
	"astra-responder/internal/schema"
)

// ActionOutcome reports what happened to one matched action config during
// alert processing.
type ActionOutcome struct {
	ActionType schema.ActionType `json:"action_type"`
	Status     history.Status    `json:"status"`
	Detail     string            `json:"detail,omitempty"`
	Error      string            `json:"error,omitempty"`
	PendingID  *uuid.UUID        `json:"pending_id,omitempty"`
}

// Runner executes one action. *executor.Executor satisfies it.
type Runner interface {
	Execute(ctx context.Context, alert schema.AlertContext, cfg policy.ActionConfig) (string, error)
	Unblock(ctx context.Context, target string) error
}

// Engine is the alert action engine. All state is injected so tests can
// build independent instances.
type Engine struct {
	registry  *policy.Registry
	runner    Runner
	queue     *pending.Queue
	blocks    *blockstore.Store
	history   *history.Log
	validator *schema.Validator
	logger    *slog.Logger
}

// New creates an engine.
func New(registry *policy.Registry, runner Runner, queue *pending.Queue, blocks *blockstore.Store, hist *history.Log, validator *schema.Validator, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		registry:  registry,
		runner:    runner,
		queue:     queue,
		blocks:    blocks,
		history:   hist,
		validator: validator,
		logger:    logger,
	}
}

// ProcessAlert runs every configured action for the alert's type in policy
// order. A failure local to one action never aborts the remaining ones; the
// returned slice holds one outcome per configured action. The only error
// return is a rejected alert context.
func (e *Engine) ProcessAlert(ctx context.Context, alert schema.AlertContext) ([]ActionOutcome, error) {
	if err := e.validator.Validate(&alert); err != nil {
		return nil, fmt.Errorf("invalid alert context: %w", err)
	}

	configs := e.registry.Get(alert.AlertType)
	if len(configs) == 0 {
		e.logger.Info("no actions configured for alert type",
			"alert_type", alert.AlertType, "source_ip", alert.SourceIP)
		return nil, nil
	}

	e.logger.Info("processing alert",
		"alert_type", alert.AlertType,
		"severity", alert.Severity,
		"source_ip", alert.SourceIP,
		"confidence", alert.Confidence,
		"configured_actions", len(configs),
	)

	outcomes := make([]ActionOutcome, 0, len(configs))
	for i := range configs {
		outcomes = append(outcomes, e.processAction(ctx, alert, configs[i]))
	}
	return outcomes, nil
}

func (e *Engine) processAction(ctx context.Context, alert schema.AlertContext, cfg policy.ActionConfig) ActionOutcome {
	if !cfg.Enabled {
		detail := fmt.Sprintf("%s is disabled for %s", cfg.ActionType, alert.AlertType)
		e.history.Append(history.Entry{
			ActionType: cfg.ActionType,
			Status:     history.StatusSkippedDisabled,
			Alert:      alert,
			Detail:     detail,
		})
		return ActionOutcome{ActionType: cfg.ActionType, Status: history.StatusSkippedDisabled, Detail: detail}
	}

	satisfied, evalErr := condition.EvaluateAll(cfg.Gate(), &alert)
	if evalErr != nil {
		// A condition that cannot be evaluated never authorizes an action.
		e.logger.Warn("condition evaluation failed, treating as not satisfied",
			"alert_type", alert.AlertType, "action_type", cfg.ActionType, "error", evalErr)
	}
	if !satisfied {
		detail := "condition not satisfied"
		outcome := ActionOutcome{ActionType: cfg.ActionType, Status: history.StatusSkippedCondition, Detail: detail}
		entry := history.Entry{
			ActionType: cfg.ActionType,
			Status:     history.StatusSkippedCondition,
			Alert:      alert,
			Detail:     detail,
		}
		if evalErr != nil {
			entry.Error = evalErr.Error()
			outcome.Error = evalErr.Error()
		}
		e.history.Append(entry)
		return outcome
	}

	if !cfg.AutoExecute {
		action, created := e.queue.Enqueue(alert, cfg)
		detail := fmt.Sprintf("queued for approval as %s", action.ID)
		if !created {
			detail = fmt.Sprintf("already awaiting approval as %s", action.ID)
		}
		if created {
			e.history.Append(history.Entry{
				ActionType: cfg.ActionType,
				Status:     history.StatusPendingApproval,
				Alert:      alert,
				Detail:     detail,
			})
		}
		id := action.ID
		return ActionOutcome{
			ActionType: cfg.ActionType,
			Status:     history.StatusPendingApproval,
			Detail:     detail,
			PendingID:  &id,
		}
	}

	detail, err := e.runner.Execute(ctx, alert, cfg)
	if err != nil {
		e.history.Append(history.Entry{
			ActionType: cfg.ActionType,
			Status:     history.StatusFailure,
			Alert:      alert,
			Error:      err.Error(),
		})
		e.logger.Error("action execution failed",
			"alert_type", alert.AlertType, "action_type", cfg.ActionType, "error", err)
		return ActionOutcome{ActionType: cfg.ActionType, Status: history.StatusFailure, Error: err.Error()}
	}

	e.history.Append(history.Entry{
		ActionType: cfg.ActionType,
		Status:     history.StatusSuccess,
		Alert:      alert,
		Detail:     detail,
	})
	return ActionOutcome{ActionType: cfg.ActionType, Status: history.StatusSuccess, Detail: detail}
}

// UnblockTarget lifts enforcement for a target and removes its blocks. The
// attempt is always recorded, whether or not a block existed.
func (e *Engine) UnblockTarget(ctx context.Context, target string) (bool, error) {
	err := e.runner.Unblock(ctx, target)
	existed := e.blocks.Remove(target)

	entry := history.Entry{
		ActionType: schema.ActionBlockIP,
		Status:     history.StatusUnblocked,
		Alert:      schema.AlertContext{SourceIP: target},
	}
	switch {
	case err != nil:
		entry.Status = history.StatusFailure
		entry.Detail = fmt.Sprintf("unblock of %s failed", target)
		entry.Error = err.Error()
	case existed:
		entry.Detail = fmt.Sprintf("unblocked %s", target)
	default:
		entry.Detail = fmt.Sprintf("unblock of %s requested but no active block existed", target)
	}
	e.history.Append(entry)

	if err != nil {
		return existed, err
	}
	return existed, nil
}

// CleanupExpiredBlocks runs the expiry sweep on demand.
func (e *Engine) CleanupExpiredBlocks() int {
	return e.blocks.SweepExpired()
}

// BlockExpiryHandler returns the callback the block store invokes when a
// sweep drops an expired block: the enforcement is lifted and the expiry is
// recorded for audit continuity.
func BlockExpiryHandler(runner Runner, hist *history.Log, logger *slog.Logger) blockstore.ExpiryHandler {
	return func(block blockstore.ActiveBlock) {
		if err := runner.Unblock(context.Background(), block.Target); err != nil {
			logger.Warn("lifting expired enforcement failed",
				"target", block.Target, "action_type", block.ActionType, "error", err)
		}
		hist.Append(history.Entry{
			ActionType: block.ActionType,
			Status:     history.StatusExpired,
			Alert:      schema.AlertContext{AlertType: block.AlertType, SourceIP: block.Target},
			Detail:     fmt.Sprintf("block of %s expired", block.Target),
		})
	}
}
