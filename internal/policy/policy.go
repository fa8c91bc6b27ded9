// Package policy owns the per-alert-type action configuration: which
// countermeasures apply, in what order, and under what gates.
package policy

import (
	"fmt"
	"time"

	"astra-responder/internal/condition"
	"astra-responder/internal/schema"
)

// ActionConfig is one row of policy for an alert type.
type ActionConfig struct {
	ActionType  schema.ActionType `json:"action_type" yaml:"action_type"`
	Enabled     bool              `json:"enabled" yaml:"enabled"`
	AutoExecute bool              `json:"auto_execute" yaml:"auto_execute"`
	TTLMinutes  int               `json:"ttl_minutes" yaml:"ttl_minutes"`
	Parameters  map[string]any    `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Conditions  []string          `json:"conditions,omitempty" yaml:"conditions,omitempty"`

	// exprs holds the conditions parsed at registry load so a malformed
	// expression can never surface mid-processing.
	exprs []*condition.Expr
}

// TTL returns the block lifetime; zero means permanent.
func (c *ActionConfig) TTL() time.Duration {
	return time.Duration(c.TTLMinutes) * time.Minute
}

// Gate returns the parsed condition expressions.
func (c *ActionConfig) Gate() []*condition.Expr {
	return c.exprs
}

// ConfigError reports invalid policy. Raised at load or replace time only.
type ConfigError struct {
	AlertType schema.AlertType
	Reason    string
	Err       error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("policy for %s: %s: %v", e.AlertType, e.Reason, e.Err)
	}
	return fmt.Sprintf("policy for %s: %s", e.AlertType, e.Reason)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// compile validates one config row and parses its conditions.
func compile(alertType schema.AlertType, cfg *ActionConfig) error {
	if !cfg.ActionType.IsValid() {
		return &ConfigError{AlertType: alertType, Reason: fmt.Sprintf("unknown action type %q", cfg.ActionType)}
	}
	if cfg.TTLMinutes < 0 {
		return &ConfigError{AlertType: alertType, Reason: fmt.Sprintf("negative ttl %d for %s", cfg.TTLMinutes, cfg.ActionType)}
	}

	exprs, err := condition.ParseAll(cfg.Conditions)
	if err != nil {
		return &ConfigError{AlertType: alertType, Reason: fmt.Sprintf("bad condition on %s", cfg.ActionType), Err: err}
	}
	cfg.exprs = exprs
	return nil
}

// copyConfigs deep-copies a config list so registry state cannot be mutated
// through a slice the caller still holds.
func copyConfigs(configs []ActionConfig) []ActionConfig {
	out := make([]ActionConfig, len(configs))
	for i, c := range configs {
		out[i] = c
		if c.Parameters != nil {
			params := make(map[string]any, len(c.Parameters))
			for k, v := range c.Parameters {
				params[k] = v
			}
			out[i].Parameters = params
		}
		if c.Conditions != nil {
			out[i].Conditions = append([]string(nil), c.Conditions...)
		}
		// Parsed exprs are immutable after compile; sharing them is safe.
	}
	return out
}
