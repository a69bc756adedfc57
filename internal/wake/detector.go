// Package wake provides the pluggable wake-word/wake-cue classifier that the
// audio pipeline polls on every tick. The default implementation is an
// energy-spike heuristic; a seeded stub is provided for deterministic tests.
package wake

import "math"

// Detector is the capability the audio pipeline drives. Implementations may
// be stateless across calls, or may own their own private state — the
// pipeline never shares state with a Detector and never assumes it is safe
// to call from more than one goroutine at a time.
type Detector interface {
	// Detect inspects the most recent ~1 s of PCM (at audio.SampleRate) and
	// returns a score and true when a candidate wake cue is present. It
	// returns ok=false when there is nothing worth scoring.
	Detect(pcm []int16) (score float64, ok bool)
}

// baselineAlpha is the EMA smoothing factor for the rolling baseline RMS.
const baselineAlpha = 0.05

// spikeRatio is the minimum ratio of recent-window RMS to baseline RMS that
// counts as a wake-cue candidate.
const spikeRatio = 3.0

// EnergySpike is the default Detector: it tracks a slow-moving baseline RMS
// and reports a score whenever the most recent window's RMS exceeds the
// baseline by spikeRatio or more. It owns its own state and must not be
// shared across independently-polled streams.
type EnergySpike struct {
	baseline float64
	warm     bool
}

// NewEnergySpike returns a fresh EnergySpike detector with no baseline yet
// established.
func NewEnergySpike() *EnergySpike {
	return &EnergySpike{}
}

// Detect implements Detector.
func (e *EnergySpike) Detect(pcm []int16) (float64, bool) {
	if len(pcm) == 0 {
		return 0, false
	}

	recent := rms(pcm)

	if !e.warm {
		e.baseline = recent
		e.warm = true
		return 0, false
	}

	var score float64
	var ok bool
	// A baseline below 1 (pure silence) counts as 1, so a sound after
	// silence still scores instead of dividing by zero.
	base := math.Max(e.baseline, 1)
	if recent/base >= spikeRatio {
		score = recent / base
		ok = true
	}

	// Update the baseline after scoring so a spike doesn't immediately
	// absorb itself into the baseline.
	e.baseline = e.baseline*(1-baselineAlpha) + recent*baselineAlpha

	return score, ok
}

func rms(pcm []int16) float64 {
	var sumSq float64
	for _, s := range pcm {
		v := float64(s)
		sumSq += v * v
	}
	return math.Sqrt(sumSq / float64(len(pcm)))
}
