package config_test

import (
	"testing"

	"ciallo/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	cfg := config.Defaults()
	d := config.Diff(&cfg, &cfg)
	if d.LogLevelChanged || d.WakeChanged || d.VADChanged || d.RetryChanged || d.RateLimitChanged {
		t.Errorf("expected no changes for identical configs, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	old := config.Defaults()
	new := config.Defaults()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(&old, &new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
}

func TestDiff_WakeChanged(t *testing.T) {
	old := config.Defaults()
	new := config.Defaults()
	new.Wake.ThLow = 0.1

	d := config.Diff(&old, &new)
	if !d.WakeChanged {
		t.Error("expected WakeChanged=true")
	}
	if d.NewWake.ThLow != 0.1 {
		t.Errorf("expected NewWake.ThLow=0.1, got %v", d.NewWake.ThLow)
	}
}

func TestDiff_RetrySchedulesChanged(t *testing.T) {
	old := config.Defaults()
	new := config.Defaults()
	new.Retry.Retry429Ms = []int{2000, 4000}

	d := config.Diff(&old, &new)
	if !d.RetryChanged {
		t.Error("expected RetryChanged=true")
	}
}

func TestDiff_RateLimitChanged(t *testing.T) {
	old := config.Defaults()
	new := config.Defaults()
	new.RateLimit.MinIntervalMs = 50

	d := config.Diff(&old, &new)
	if !d.RateLimitChanged {
		t.Error("expected RateLimitChanged=true")
	}
}
