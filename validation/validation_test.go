package validation

import (
	"strings"
	"testing"
	"time"

	"github.com/lexfront/connkit/errors"
)

type policyConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts" validate:"gte=0"`
	BaseInterval time.Duration `mapstructure:"base_interval" validate:"gt=0"`
	Multiplier   float64       `mapstructure:"multiplier" validate:"gte=1"`
}

type connectionConfig struct {
	URL    string       `mapstructure:"url" validate:"required,url"`
	Mode   string       `mapstructure:"mode" validate:"omitempty,oneof=websocket none"`
	Policy policyConfig `mapstructure:"policy"`
}

func TestValidate_Valid(t *testing.T) {
	cfg := connectionConfig{
		URL:    "wss://example.test/ws",
		Policy: policyConfig{MaxAttempts: 5, BaseInterval: 2 * time.Second, Multiplier: 2},
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestValidate_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		cfg   connectionConfig
		field string
		msg   string
	}{
		{
			name:  "missing url",
			cfg:   connectionConfig{Policy: policyConfig{BaseInterval: time.Second, Multiplier: 1}},
			field: "url",
			msg:   "is required",
		},
		{
			name:  "zero interval",
			cfg:   connectionConfig{URL: "ws://x.test", Policy: policyConfig{Multiplier: 1}},
			field: "policy.base_interval",
			msg:   "must be greater than 0",
		},
		{
			name:  "multiplier below one",
			cfg:   connectionConfig{URL: "ws://x.test", Policy: policyConfig{BaseInterval: time.Second, Multiplier: 0.5}},
			field: "policy.multiplier",
			msg:   "must be at least 1",
		},
		{
			name:  "unknown mode",
			cfg:   connectionConfig{URL: "ws://x.test", Mode: "tcp", Policy: policyConfig{BaseInterval: time.Second, Multiplier: 1}},
			field: "mode",
			msg:   "must be one of",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			appErr, ok := errors.AsAppError(err)
			if !ok {
				t.Fatalf("expected AppError, got %T", err)
			}
			if appErr.Code != errors.ErrCodeConfiguration {
				t.Errorf("expected CONFIGURATION_ISSUE, got %s", appErr.Code)
			}
			if appErr.Retryable {
				t.Error("configuration errors must not be retryable")
			}
			fields, _ := appErr.Details["fields"].([]FieldError)
			if len(fields) == 0 || fields[0].Field != tc.field {
				t.Fatalf("expected first field %q, got %v", tc.field, fields)
			}
			if !strings.Contains(fields[0].Message, tc.msg) {
				t.Errorf("expected message containing %q, got %q", tc.msg, fields[0].Message)
			}
		})
	}
}

func TestValidate_MultipleFieldsJoined(t *testing.T) {
	err := Validate(connectionConfig{})
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "url") || !strings.Contains(msg, "policy.base_interval") {
		t.Errorf("expected every failing field in message, got %q", msg)
	}
}

func TestToSnakeCase(t *testing.T) {
	tests := map[string]string{
		"MaxAttempts": "max_attempts",
		"URL":         "u_r_l",
		"name":        "name",
	}
	for in, want := range tests {
		if got := toSnakeCase(in); got != want {
			t.Errorf("toSnakeCase(%q) = %q, want %q", in, got, want)
		}
	}
}
