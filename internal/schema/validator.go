package schema

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Validator validates alert contexts arriving at an ingestion boundary.
// Confidence and severity are range-checked here, not inside the condition
// evaluator, so evaluation stays total.
type Validator struct {
	validate  *validator.Validate
	maxAge    time.Duration
	maxFuture time.Duration
}

// ValidatorConfig holds configuration for the validator.
type ValidatorConfig struct {
	MaxAge    time.Duration `yaml:"max_age"`
	MaxFuture time.Duration `yaml:"max_future"`
}

// DefaultValidatorConfig returns the default validator configuration.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MaxAge:    24 * time.Hour,
		MaxFuture: 5 * time.Minute,
	}
}

// NewValidator creates a new Validator with default configuration.
func NewValidator() *Validator {
	return NewValidatorWithConfig(DefaultValidatorConfig())
}

// NewValidatorWithConfig creates a new Validator with the specified configuration.
func NewValidatorWithConfig(cfg ValidatorConfig) *Validator {
	v := validator.New()

	v.RegisterValidation("alert_type", func(fl validator.FieldLevel) bool {
		return AlertType(fl.Field().String()).IsValid()
	})

	return &Validator{
		validate:  v,
		maxAge:    cfg.MaxAge,
		maxFuture: cfg.MaxFuture,
	}
}

// Validate validates an alert context. A zero timestamp is filled with the
// current time, matching what the detection pipeline does for live alerts.
func (v *Validator) Validate(ctx *AlertContext) error {
	if ctx.Timestamp.IsZero() {
		ctx.Timestamp = time.Now().UTC()
	}

	if err := v.validate.Struct(ctx); err != nil {
		return fmt.Errorf("alert validation failed: %w", err)
	}

	now := time.Now().UTC()
	if v.maxAge > 0 && ctx.Timestamp.Before(now.Add(-v.maxAge)) {
		return fmt.Errorf("alert timestamp too old: %v (max age: %v)", ctx.Timestamp, v.maxAge)
	}
	if v.maxFuture > 0 && ctx.Timestamp.After(now.Add(v.maxFuture)) {
		return fmt.Errorf("alert timestamp in future: %v (max future: %v)", ctx.Timestamp, v.maxFuture)
	}

	return nil
}
