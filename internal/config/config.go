// Package config provides the configuration schema, loader, and change
// watcher for Ciallo's tunable defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// LogLevel controls slog verbosity.
type LogLevel string

// Valid log levels.
const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is one of the known log levels.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	default:
		return false
	}
}

// Config is the root configuration structure for Ciallo. It is typically
// loaded from a YAML file using [Load] or [LoadFromReader]. Every field has
// a safe built-in default applied by [Defaults] before decoding, so a
// mostly-empty file is a valid config.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Wake      WakeConfig      `yaml:"wake"`
	VAD       VADConfig       `yaml:"vad"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Realtime  RealtimeConfig  `yaml:"realtime"`
	Cache     CacheConfig     `yaml:"cache"`
	History   HistoryConfig   `yaml:"history"`
	Retry     RetryConfig     `yaml:"retry"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// ServerConfig holds process-wide logging and storage settings.
type ServerConfig struct {
	// LogLevel controls verbosity. Valid values: "debug", "info", "warn", "error".
	LogLevel LogLevel `yaml:"log_level"`

	// DataDir overrides the OS user-data directory used for the L2 cache and
	// history databases (defaults to an OS-appropriate path under
	// ~/.local/share/ciallo or the platform equivalent).
	DataDir string `yaml:"data_dir"`

	// PostgresDSN points at the database backing the L2 translation cache
	// and history store. Empty disables both (the app still runs).
	PostgresDSN string `yaml:"postgres_dsn"`

	// OCRWorkerCmd is the command line that launches the external OCR
	// worker process, which speaks the length-prefixed MessagePack IPC on
	// its stdio. Empty disables OCR modes.
	OCRWorkerCmd string `yaml:"ocr_worker_cmd"`

	// ScreenshotCmd is the command line that writes one PNG screenshot to
	// stdout (e.g. "grim -" on wlroots compositors). Empty disables the
	// OCR and realtime modes' capture step.
	ScreenshotCmd string `yaml:"screenshot_cmd"`

	// TargetLang is the translation target language. Default "zh".
	TargetLang string `yaml:"target_lang"`
}

// WakeConfig tunes the two-stage wake detector and its confirmation window.
type WakeConfig struct {
	// ThLow is the Stage-1 energy-spike score threshold that moves
	// Sleep→WakeConfirm.
	ThLow float64 `yaml:"th_low"`

	// ThHigh is the Stage-2 score threshold that must be reached within the
	// confirm window to accept the wake.
	ThHigh float64 `yaml:"th_high"`

	// ConfirmWindowMs is the duration of the confirmation window. It restarts
	// on every fresh WakeHit while in WakeConfirm.
	ConfirmWindowMs int `yaml:"confirm_window_ms"`

	// ConfirmFramesNeeded is the number of Stage-2 hits required within the
	// window before the wake is confirmed.
	ConfirmFramesNeeded int `yaml:"confirm_frames_needed"`
}

// VADConfig tunes the sticky-silence voice activity detector.
type VADConfig struct {
	// SilenceRMS is the recent-window RMS floor below which a frame counts
	// toward the silence streak.
	SilenceRMS float64 `yaml:"silence_rms"`

	// SilenceFrames is the number of consecutive silent frames needed before
	// the VAD reports silence.
	SilenceFrames int `yaml:"silence_frames"`
}

// PipelineConfig tunes the audio capture pipeline cadence.
type PipelineConfig struct {
	// TickHz is the frame rate the audio pipeline drains the ring buffer at.
	TickHz int `yaml:"tick_hz"`
}

// RealtimeConfig tunes the realtime OCR-diff loop.
type RealtimeConfig struct {
	// TickMs is the polling interval between screen captures.
	TickMs int `yaml:"tick_ms"`

	// MaeThreshold is the per-pixel mean absolute error above which a region
	// is considered changed.
	MaeThreshold float64 `yaml:"mae_threshold"`

	// YBucketPx is the vertical bucket size used to group OCR lines before
	// diffing.
	YBucketPx int `yaml:"y_bucket_px"`
}

// CacheConfig tunes the translation cache tiers.
type CacheConfig struct {
	// L1Capacity is the maximum number of entries in the in-memory LRU.
	L1Capacity int `yaml:"l1_capacity"`

	// L1TTLMin is the in-memory entry lifetime in minutes.
	L1TTLMin int `yaml:"l1_ttl_min"`

	// L2TTLDays is the persistent-store entry lifetime in days.
	L2TTLDays int `yaml:"l2_ttl_days"`
}

// HistoryConfig tunes the translation history writer.
type HistoryConfig struct {
	// FlushMs is the maximum delay before a pending history record is
	// flushed to the persistent store.
	FlushMs int `yaml:"flush_ms"`
}

// RetryConfig tunes the translation API retry schedule.
type RetryConfig struct {
	// Retry429Ms is the backoff schedule (in milliseconds) applied to HTTP
	// 429 responses, one entry per retry attempt.
	Retry429Ms []int `yaml:"retry_429_ms"`

	// Retry5xxMs is the backoff schedule applied to HTTP 5xx responses.
	// Timeouts are not on this schedule: they get one immediate retry.
	Retry5xxMs []int `yaml:"retry_5xx_ms"`
}

// RateLimitConfig tunes the outbound translation API token bucket.
type RateLimitConfig struct {
	// MinIntervalMs is the minimum spacing between outbound requests.
	MinIntervalMs int `yaml:"min_interval_ms"`
}

// Defaults returns a [Config] populated with the built-in defaults listed in
// the external interfaces documentation. [Load] applies this before decoding
// so that any field absent from the YAML document keeps its default.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			LogLevel:   LogInfo,
			TargetLang: "zh",
		},
		Wake: WakeConfig{
			ThLow:               0.02,
			ThHigh:              0.04,
			ConfirmWindowMs:     150,
			ConfirmFramesNeeded: 2,
		},
		VAD: VADConfig{
			SilenceRMS:    300,
			SilenceFrames: 8,
		},
		Pipeline: PipelineConfig{
			TickHz: 50,
		},
		Realtime: RealtimeConfig{
			TickMs:       500,
			MaeThreshold: 5.0,
			YBucketPx:    8,
		},
		Cache: CacheConfig{
			L1Capacity: 512,
			L1TTLMin:   10,
			L2TTLDays:  7,
		},
		History: HistoryConfig{
			FlushMs: 300,
		},
		Retry: RetryConfig{
			Retry429Ms: []int{1000, 2000, 4000},
			Retry5xxMs: []int{500, 1000},
		},
		RateLimit: RateLimitConfig{
			MinIntervalMs: 100,
		},
	}
}

// ResolveDataDir returns the directory holding the app's persistent files,
// following the OS user-data convention (XDG_DATA_HOME or ~/.local/share)
// unless DataDir overrides it.
func (c ServerConfig) ResolveDataDir() (string, error) {
	if c.DataDir != "" {
		return c.DataDir, nil
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "ciallo"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve data dir: %w", err)
	}
	return filepath.Join(home, ".local", "share", "ciallo"), nil
}

// ConfirmWindow returns the wake confirm window as a [time.Duration].
func (c WakeConfig) ConfirmWindow() time.Duration {
	return time.Duration(c.ConfirmWindowMs) * time.Millisecond
}

// TickInterval returns the realtime loop's polling interval.
func (c RealtimeConfig) TickInterval() time.Duration {
	return time.Duration(c.TickMs) * time.Millisecond
}

// FlushInterval returns the history writer's flush deadline.
func (c HistoryConfig) FlushInterval() time.Duration {
	return time.Duration(c.FlushMs) * time.Millisecond
}

// MinInterval returns the rate limiter's minimum request spacing.
func (c RateLimitConfig) MinInterval() time.Duration {
	return time.Duration(c.MinIntervalMs) * time.Millisecond
}
