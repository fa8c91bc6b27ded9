package schema

import (
	"testing"
	"time"
)

func validContext() AlertContext {
	return AlertContext{
		AlertType:  AlertPortScan,
		SourceIP:   "203.0.113.50",
		TargetIP:   "192.168.1.10",
		Severity:   SeverityHigh,
		Confidence: 0.92,
		Timestamp:  time.Now().UTC(),
	}
}

func TestValidator_Validate(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name    string
		mutate  func(*AlertContext)
		wantErr bool
	}{
		{
			name:    "valid context",
			mutate:  func(c *AlertContext) {},
			wantErr: false,
		},
		{
			name:    "unknown alert type",
			mutate:  func(c *AlertContext) { c.AlertType = "zero_day" },
			wantErr: true,
		},
		{
			name:    "invalid source ip",
			mutate:  func(c *AlertContext) { c.SourceIP = "not-an-ip" },
			wantErr: true,
		},
		{
			name:    "confidence above one",
			mutate:  func(c *AlertContext) { c.Confidence = 1.5 },
			wantErr: true,
		},
		{
			name:    "negative confidence",
			mutate:  func(c *AlertContext) { c.Confidence = -0.1 },
			wantErr: true,
		},
		{
			name:    "unknown severity",
			mutate:  func(c *AlertContext) { c.Severity = "extreme" },
			wantErr: true,
		},
		{
			name:    "timestamp too old",
			mutate:  func(c *AlertContext) { c.Timestamp = time.Now().Add(-48 * time.Hour) },
			wantErr: true,
		},
		{
			name:    "timestamp in future",
			mutate:  func(c *AlertContext) { c.Timestamp = time.Now().Add(time.Hour) },
			wantErr: true,
		},
		{
			name:    "missing source ip is allowed",
			mutate:  func(c *AlertContext) { c.SourceIP = "" },
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := validContext()
			tt.mutate(&ctx)
			err := v.Validate(&ctx)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidator_FillsZeroTimestamp(t *testing.T) {
	v := NewValidator()
	ctx := validContext()
	ctx.Timestamp = time.Time{}

	if err := v.Validate(&ctx); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if ctx.Timestamp.IsZero() {
		t.Error("expected zero timestamp to be filled")
	}
}

func TestSeverity_Rank(t *testing.T) {
	ordered := []Severity{SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
	for i := 1; i < len(ordered); i++ {
		if ordered[i-1].Rank() >= ordered[i].Rank() {
			t.Errorf("expected %s < %s", ordered[i-1], ordered[i])
		}
	}
	if Severity("bogus").Rank() != -1 {
		t.Error("unknown severity should rank -1")
	}
}

func TestAlertContext_Field(t *testing.T) {
	ctx := validContext()

	if v, ok := ctx.Field("confidence"); !ok || v.(float64) != 0.92 {
		t.Errorf("Field(confidence) = %v, %v", v, ok)
	}
	if v, ok := ctx.Field("severity"); !ok || v.(string) != "high" {
		t.Errorf("Field(severity) = %v, %v", v, ok)
	}
	if _, ok := ctx.Field("does_not_exist"); ok {
		t.Error("unknown field should not resolve")
	}
}
