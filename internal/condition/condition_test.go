package condition

import (
	"errors"
	"testing"
	"time"

	"astra-responder/internal/schema"
)

func testContext() *schema.AlertContext {
	return &schema.AlertContext{
		AlertType:  schema.AlertDDoSSynFlood,
		SourceIP:   "192.168.1.55",
		TargetIP:   "10.0.0.8",
		SourcePort: 44231,
		TargetPort: 443,
		Protocol:   "tcp",
		Severity:   schema.SeverityHigh,
		Confidence: 0.95,
		Timestamp:  time.Now(),
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name       string
		expression string
	}{
		{"unknown field", "entropy > 0.5"},
		{"missing operator", "confidence 0.9"},
		{"missing value", "confidence >"},
		{"single equals", "severity = 'high'"},
		{"non numeric for confidence", "confidence > high"},
		{"unknown severity literal", "severity == 'extreme'"},
		{"ordering on ip", "source_ip > '10.0.0.0/8'"},
		{"bad cidr", "source_ip == '300.1.2.0/24'"},
		{"unterminated string", "severity == 'high"},
		{"trailing garbage", "confidence > 0.9 extra"},
		{"empty expression", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.expression)
			if err == nil {
				t.Fatalf("Parse(%q) expected error", tt.expression)
			}
			var perr *ParseError
			if !errors.As(err, &perr) {
				t.Errorf("expected ParseError, got %T", err)
			}
		})
	}
}

func TestExpr_Evaluate(t *testing.T) {
	ctx := testContext()

	tests := []struct {
		expression string
		want       bool
	}{
		{"confidence > 0.9", true},
		{"confidence > 0.95", false},
		{"confidence >= 0.95", true},
		{"confidence < 0.5", false},
		{"confidence <= 1", true},
		{"confidence == 0.95", true},
		{"confidence != 0.95", false},
		{"severity == 'high'", true},
		{"severity == 'critical'", false},
		{"severity != 'low'", true},
		{"severity >= 'medium'", true},
		{"severity >= 'critical'", false},
		{"severity < 'critical'", true},
		{"source_ip == '192.168.1.0/24'", true},
		{"source_ip != '192.168.1.0/24'", false},
		{"source_ip == '10.0.0.0/8'", false},
		{"source_ip != '10.0.0.0/8'", true},
		{"source_ip == '192.168.1.55'", true},
		{"target_ip == '10.0.0.8'", true},
		{"protocol == 'tcp'", true},
		{"protocol != 'udp'", true},
		{"alert_type == 'ddos_syn_flood'", true},
		{"target_port == 443", true},
		{"source_port > 1024", true},
	}

	for _, tt := range tests {
		t.Run(tt.expression, func(t *testing.T) {
			expr, err := Parse(tt.expression)
			if err != nil {
				t.Fatalf("Parse(%q) error = %v", tt.expression, err)
			}
			got, err := expr.Evaluate(ctx)
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Evaluate(%q) = %v, want %v", tt.expression, got, tt.want)
			}
		})
	}
}

func TestExpr_Evaluate_MissingIP(t *testing.T) {
	ctx := testContext()
	ctx.SourceIP = ""

	expr, err := Parse("source_ip != '203.0.113.0/24'")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	ok, err := expr.Evaluate(ctx)
	if err == nil {
		t.Fatal("expected evaluation error for missing source_ip")
	}
	if ok {
		t.Error("failed evaluation must not report the condition as satisfied")
	}
	var eerr *EvalError
	if !errors.As(err, &eerr) {
		t.Errorf("expected EvalError, got %T", err)
	}
}

func TestEvaluateAll(t *testing.T) {
	ctx := testContext()

	exprs, err := ParseAll([]string{"confidence > 0.9", "severity >= 'high'"})
	if err != nil {
		t.Fatalf("ParseAll() error = %v", err)
	}

	ok, err := EvaluateAll(exprs, ctx)
	if err != nil || !ok {
		t.Errorf("EvaluateAll() = %v, %v, want true, nil", ok, err)
	}

	// One false condition fails the whole AND.
	exprs, err = ParseAll([]string{"confidence > 0.9", "severity == 'low'"})
	if err != nil {
		t.Fatalf("ParseAll() error = %v", err)
	}
	ok, err = EvaluateAll(exprs, ctx)
	if err != nil {
		t.Fatalf("EvaluateAll() error = %v", err)
	}
	if ok {
		t.Error("EvaluateAll() = true, want false")
	}

	// Empty list is trivially true.
	ok, err = EvaluateAll(nil, ctx)
	if err != nil || !ok {
		t.Errorf("EvaluateAll(nil) = %v, %v, want true, nil", ok, err)
	}
}

func TestExpr_RoundTripRaw(t *testing.T) {
	src := "source_ip != '192.168.1.0/24'"
	expr, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if expr.String() != src {
		t.Errorf("String() = %q, want %q", expr.String(), src)
	}
}
