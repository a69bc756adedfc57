package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Defaults] and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Defaults()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing every validation failure found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Wake.ThLow < 0 || cfg.Wake.ThLow > 1 {
		errs = append(errs, fmt.Errorf("wake.th_low %.4f is out of range [0, 1]", cfg.Wake.ThLow))
	}
	if cfg.Wake.ThHigh < 0 || cfg.Wake.ThHigh > 1 {
		errs = append(errs, fmt.Errorf("wake.th_high %.4f is out of range [0, 1]", cfg.Wake.ThHigh))
	}
	if cfg.Wake.ThHigh < cfg.Wake.ThLow {
		errs = append(errs, fmt.Errorf("wake.th_high %.4f must be >= wake.th_low %.4f", cfg.Wake.ThHigh, cfg.Wake.ThLow))
	}
	if cfg.Wake.ConfirmWindowMs <= 0 {
		errs = append(errs, fmt.Errorf("wake.confirm_window_ms must be positive, got %d", cfg.Wake.ConfirmWindowMs))
	}
	if cfg.Wake.ConfirmFramesNeeded <= 0 {
		errs = append(errs, fmt.Errorf("wake.confirm_frames_needed must be positive, got %d", cfg.Wake.ConfirmFramesNeeded))
	}

	if cfg.VAD.SilenceFrames <= 0 {
		errs = append(errs, fmt.Errorf("vad.silence_frames must be positive, got %d", cfg.VAD.SilenceFrames))
	}

	if cfg.Pipeline.TickHz <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.tick_hz must be positive, got %d", cfg.Pipeline.TickHz))
	}

	if cfg.Realtime.TickMs <= 0 {
		errs = append(errs, fmt.Errorf("realtime.tick_ms must be positive, got %d", cfg.Realtime.TickMs))
	}
	if cfg.Realtime.MaeThreshold < 0 {
		errs = append(errs, fmt.Errorf("realtime.mae_threshold must be >= 0, got %.2f", cfg.Realtime.MaeThreshold))
	}
	if cfg.Realtime.YBucketPx <= 0 {
		errs = append(errs, fmt.Errorf("realtime.y_bucket_px must be positive, got %d", cfg.Realtime.YBucketPx))
	}

	if cfg.Cache.L1Capacity <= 0 {
		errs = append(errs, fmt.Errorf("cache.l1_capacity must be positive, got %d", cfg.Cache.L1Capacity))
	}
	if cfg.Cache.L1TTLMin <= 0 {
		errs = append(errs, fmt.Errorf("cache.l1_ttl_min must be positive, got %d", cfg.Cache.L1TTLMin))
	}
	if cfg.Cache.L2TTLDays <= 0 {
		errs = append(errs, fmt.Errorf("cache.l2_ttl_days must be positive, got %d", cfg.Cache.L2TTLDays))
	}

	if cfg.History.FlushMs <= 0 {
		errs = append(errs, fmt.Errorf("history.flush_ms must be positive, got %d", cfg.History.FlushMs))
	}

	for i, ms := range cfg.Retry.Retry429Ms {
		if ms < 0 {
			errs = append(errs, fmt.Errorf("retry.retry_429_ms[%d] must be >= 0, got %d", i, ms))
		}
	}
	for i, ms := range cfg.Retry.Retry5xxMs {
		if ms < 0 {
			errs = append(errs, fmt.Errorf("retry.retry_5xx_ms[%d] must be >= 0, got %d", i, ms))
		}
	}

	if cfg.RateLimit.MinIntervalMs < 0 {
		errs = append(errs, fmt.Errorf("rate_limit.min_interval_ms must be >= 0, got %d", cfg.RateLimit.MinIntervalMs))
	}

	return errors.Join(errs...)
}
