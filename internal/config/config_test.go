package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/pkarell/auric/internal/config"
)

func TestDuration_Unmarshal(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"250ms", 250 * time.Millisecond},
		{"30s", 30 * time.Second},
		{"2m", 2 * time.Minute},
		{"1h30m", 90 * time.Minute},
	}
	for _, tt := range tests {
		yaml := "capture:\n  max_duration: " + tt.in + "\nwakeword:\n  phrase: x\n"
		cfg, err := config.LoadFromReader(strings.NewReader(yaml))
		if err != nil {
			t.Errorf("LoadFromReader(%q) error = %v", tt.in, err)
			continue
		}
		if got := cfg.Capture.MaxDuration.Std(); got != tt.want {
			t.Errorf("max_duration %q = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestWakewordConfig_VerifyEnabled(t *testing.T) {
	t.Parallel()
	boolPtr := func(b bool) *bool { return &b }

	tests := []struct {
		name string
		cfg  config.WakewordConfig
		want bool
	}{
		{"unset defaults on", config.WakewordConfig{}, true},
		{"explicit true", config.WakewordConfig{Verify: boolPtr(true)}, true},
		{"explicit false", config.WakewordConfig{Verify: boolPtr(false)}, false},
	}
	for _, tt := range tests {
		if got := tt.cfg.VerifyEnabled(); got != tt.want {
			t.Errorf("%s: VerifyEnabled() = %v, want %v", tt.name, got, tt.want)
		}
	}
}
