// Package vad implements energy-gated voice activity detection: a cheap
// signal the audio pipeline uses to down-rate wake-detector invocations
// during silence.
package vad

import "ciallo/internal/audio"

// Config tunes the detector's silence threshold and stickiness.
type Config struct {
	// SilenceRMS is the RMS energy below which a frame is considered silent.
	SilenceRMS float64
	// SilenceFrames is the number of consecutive silent frames required
	// before the detector reports "silent" and raises the quiet hint.
	SilenceFrames int
}

// DefaultConfig mirrors the configured defaults: silence_rms=300,
// silence_frames=8 (~128 ms).
func DefaultConfig() Config {
	return Config{SilenceRMS: 300, SilenceFrames: 8}
}

// Detector is a sticky energy-gate VAD. It is not safe for concurrent use;
// the audio pipeline owns one instance per stream.
type Detector struct {
	cfg              Config
	consecutiveQuiet int
}

// New returns a Detector configured per cfg.
func New(cfg Config) *Detector {
	return &Detector{cfg: cfg}
}

// IsVoice reports whether frame looks like speech. It also updates the
// internal sticky-silence counter used by Quiet.
func (d *Detector) IsVoice(frame *audio.Frame) bool {
	if frame.RMS() >= d.cfg.SilenceRMS {
		d.consecutiveQuiet = 0
		return true
	}
	if d.consecutiveQuiet < d.cfg.SilenceFrames {
		d.consecutiveQuiet++
	}
	return false
}

// Quiet reports whether the sticky silence counter has reached
// SilenceFrames, i.e. the stream has been quiet long enough to down-rate
// wake-detector invocations.
func (d *Detector) Quiet() bool {
	return d.consecutiveQuiet >= d.cfg.SilenceFrames
}

// Reset clears the sticky silence counter, e.g. after a wake confirmation.
func (d *Detector) Reset() {
	d.consecutiveQuiet = 0
}
