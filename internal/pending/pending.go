// Package pending holds actions that require operator approval before the
// executor may run them.
package pending

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"astra-responder/internal/history"
	"astra-responder/internal/policy"
	"astra-responder/internal/schema"
)

// Status is the approval state of a queued action.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

// NotFoundError reports a lookup for an unknown pending action.
type NotFoundError struct {
	ID uuid.UUID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("pending action %s not found", e.ID)
}

// InvalidStateError reports a decision applied to an action that already
// left the pending state.
type InvalidStateError struct {
	ID        uuid.UUID
	Current   Status
	Attempted string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s pending action %s: status is %s",
		e.Attempted, e.ID, e.Current)
}

// Action is one queued action awaiting a decision.
type Action struct {
	ID        uuid.UUID           `json:"id"`
	Alert     schema.AlertContext `json:"alert"`
	Config    policy.ActionConfig `json:"config"`
	Status    Status              `json:"status"`
	CreatedAt time.Time           `json:"created_at"`
	DecidedAt *time.Time          `json:"decided_at,omitempty"`
	DecidedBy string              `json:"decided_by,omitempty"`
	// Detail carries the execution summary after approval, or the failure
	// message when the approved execution failed.
	Detail string `json:"detail,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Runner executes an approved action. *executor.Executor satisfies it.
type Runner interface {
	Execute(ctx context.Context, alert schema.AlertContext, cfg policy.ActionConfig) (string, error)
}

// Config tunes the queue.
type Config struct {
	// MaxAge expires pending actions that received no decision in time.
	// Zero means pending actions never expire.
	MaxAge        time.Duration `yaml:"max_age"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// DefaultConfig returns default queue configuration.
func DefaultConfig() Config {
	return Config{
		MaxAge:        0,
		SweepInterval: time.Minute,
	}
}

// Queue is the in-memory pending action queue. Decided actions stay queryable
// until the process restarts; the history log is the durable record.
type Queue struct {
	config  Config
	runner  Runner
	history *history.Log
	logger  *slog.Logger

	mu      sync.Mutex
	actions map[uuid.UUID]*Action
	now     func() time.Time

	sweepCancel context.CancelFunc
	sweepDone   chan struct{}
}

// NewQueue creates a pending action queue.
func NewQueue(cfg Config, runner Runner, hist *history.Log, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	return &Queue{
		config:  cfg,
		runner:  runner,
		history: hist,
		logger:  logger,
		actions: make(map[uuid.UUID]*Action),
		now:     time.Now,
	}
}

// Enqueue adds a pending action. A pending action for the same alert type,
// action type, and source IP is not duplicated; the existing one is
// returned with created=false.
func (q *Queue) Enqueue(alert schema.AlertContext, cfg policy.ActionConfig) (Action, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, a := range q.actions {
		if a.Status == StatusPending &&
			a.Alert.AlertType == alert.AlertType &&
			a.Config.ActionType == cfg.ActionType &&
			a.Alert.SourceIP == alert.SourceIP {
			return *a, false
		}
	}

	action := &Action{
		ID:        uuid.New(),
		Alert:     alert,
		Config:    cfg,
		Status:    StatusPending,
		CreatedAt: q.now().UTC(),
	}
	q.actions[action.ID] = action

	q.logger.Info("action queued for approval",
		"id", action.ID,
		"alert_type", alert.AlertType,
		"action_type", cfg.ActionType,
		"source_ip", alert.SourceIP,
	)
	return *action, true
}

// Get returns a copy of the action.
func (q *Queue) Get(id uuid.UUID) (Action, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	a, ok := q.actions[id]
	if !ok {
		return Action{}, &NotFoundError{ID: id}
	}
	return *a, nil
}

// List returns actions with the given status, newest first. An empty status
// returns everything.
func (q *Queue) List(status Status) []Action {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []Action
	for _, a := range q.actions {
		if status != "" && a.Status != status {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

// Approve transitions the action to approved and executes it. The execution
// result lands in the history log either way; an execution failure is
// reported to the caller but does not revert the approval.
func (q *Queue) Approve(ctx context.Context, id uuid.UUID, decidedBy string) (Action, error) {
	q.mu.Lock()
	a, ok := q.actions[id]
	if !ok {
		q.mu.Unlock()
		return Action{}, &NotFoundError{ID: id}
	}
	if a.Status != StatusPending {
		current := a.Status
		q.mu.Unlock()
		return Action{}, &InvalidStateError{ID: id, Current: current, Attempted: "approve"}
	}
	now := q.now().UTC()
	a.Status = StatusApproved
	a.DecidedAt = &now
	a.DecidedBy = decidedBy
	alert, cfg := a.Alert, a.Config
	q.mu.Unlock()

	// Execute outside the lock; handlers may take seconds.
	detail, execErr := q.runner.Execute(ctx, alert, cfg)

	q.mu.Lock()
	if execErr != nil {
		a.Error = execErr.Error()
	} else {
		a.Detail = detail
	}
	result := *a
	q.mu.Unlock()

	entry := history.Entry{
		ActionType: cfg.ActionType,
		Alert:      alert,
	}
	if execErr != nil {
		entry.Status = history.StatusFailure
		entry.Detail = fmt.Sprintf("approved by %s", decidedBy)
		entry.Error = execErr.Error()
		q.logger.Error("approved action failed",
			"id", id, "action_type", cfg.ActionType, "error", execErr)
	} else {
		entry.Status = history.StatusSuccess
		entry.Detail = fmt.Sprintf("%s (approved by %s)", detail, decidedBy)
		q.logger.Info("approved action executed",
			"id", id, "action_type", cfg.ActionType, "detail", detail)
	}
	q.history.Append(entry)

	return result, execErr
}

// Reject transitions the action to rejected.
func (q *Queue) Reject(id uuid.UUID, decidedBy string) (Action, error) {
	q.mu.Lock()
	a, ok := q.actions[id]
	if !ok {
		q.mu.Unlock()
		return Action{}, &NotFoundError{ID: id}
	}
	if a.Status != StatusPending {
		current := a.Status
		q.mu.Unlock()
		return Action{}, &InvalidStateError{ID: id, Current: current, Attempted: "reject"}
	}
	now := q.now().UTC()
	a.Status = StatusRejected
	a.DecidedAt = &now
	a.DecidedBy = decidedBy
	result := *a
	q.mu.Unlock()

	q.history.Append(history.Entry{
		ActionType: result.Config.ActionType,
		Status:     history.StatusRejected,
		Alert:      result.Alert,
		Detail:     fmt.Sprintf("rejected by %s", decidedBy),
	})
	q.logger.Info("pending action rejected",
		"id", id, "action_type", result.Config.ActionType, "decided_by", decidedBy)
	return result, nil
}

// SweepExpired transitions pending actions older than MaxAge to expired.
// A zero MaxAge disables expiry.
func (q *Queue) SweepExpired() int {
	if q.config.MaxAge <= 0 {
		return 0
	}

	q.mu.Lock()
	now := q.now().UTC()
	cutoff := now.Add(-q.config.MaxAge)
	var expired []Action
	for _, a := range q.actions {
		if a.Status == StatusPending && a.CreatedAt.Before(cutoff) {
			a.Status = StatusExpired
			a.DecidedAt = &now
			expired = append(expired, *a)
		}
	}
	q.mu.Unlock()

	for _, a := range expired {
		q.history.Append(history.Entry{
			ActionType: a.Config.ActionType,
			Status:     history.StatusExpired,
			Alert:      a.Alert,
			Detail:     fmt.Sprintf("expired after %s without a decision", q.config.MaxAge),
		})
		q.logger.Info("pending action expired",
			"id", a.ID, "action_type", a.Config.ActionType, "age", q.config.MaxAge)
	}
	return len(expired)
}

// StartSweeper runs SweepExpired on the configured interval until the
// context is cancelled or StopSweeper is called. No-op when MaxAge is zero.
func (q *Queue) StartSweeper(ctx context.Context) {
	if q.config.MaxAge <= 0 {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	q.sweepCancel = cancel
	q.sweepDone = make(chan struct{})

	go func() {
		defer close(q.sweepDone)
		ticker := time.NewTicker(q.config.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := q.SweepExpired(); n > 0 {
					q.logger.Info("expired pending actions", "count", n)
				}
			}
		}
	}()
}

// StopSweeper stops the background sweeper and waits for it to exit.
func (q *Queue) StopSweeper() {
	if q.sweepCancel != nil {
		q.sweepCancel()
		<-q.sweepDone
	}
}
