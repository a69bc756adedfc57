// Package pipeline drives the audio front end: one dedicated thread drains
// the sound device into the ring buffer, a second runs the 50 Hz
// VAD/wake-detection loop and pushes WakeHits at the wake lane. Nothing in
// this package touches the network, the disk, or the translation path.
package pipeline

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"ciallo/internal/audio"
	"ciallo/internal/vad"
	"ciallo/internal/wake"
)

// WakeHit is the detector's output handed to the P0 lane: a score at or
// above the stage-1 threshold plus the monotonic time it was observed.
type WakeHit struct {
	Score float64
	At    time.Time
}

// Source is the sound device. ReadPCM blocks until the device has samples
// (typically one 16 ms buffer) and returns them; it returns an error when
// the device is lost. The device body is an external collaborator.
type Source interface {
	ReadPCM(ctx context.Context) ([]int16, error)
}

// detectWindow is how much recent PCM the wake detector sees per tick.
const detectWindow = audio.SampleRate // 1 s

// quietDownrate runs the wake detector on only one of every four ticks
// while the VAD reports silence.
const quietDownrate = 4

// Config assembles an audio pipeline.
type Config struct {
	TickHz   int     // processing loop rate, default 50
	ThLow    float64 // stage-1 score threshold
	Source   Source
	Ring     *audio.RingBuffer
	VAD      *vad.Detector
	Detector wake.Detector

	// OnWakeHit is invoked from the processing thread for every score at or
	// above ThLow. It must be cheap: typically a non-blocking P0 submit.
	OnWakeHit func(WakeHit)

	// Tick overrides the internal ticker in tests; leave nil in production.
	Tick <-chan time.Time
}

// Audio owns the two capture-side goroutines. Both lock their OS thread:
// any scheduler-induced suspension on this path is a latency violation.
type Audio struct {
	cfg    Config
	cancel context.CancelFunc
	wg     sync.WaitGroup

	tickCount int
}

// New returns an unstarted pipeline.
func New(cfg Config) *Audio {
	if cfg.TickHz <= 0 {
		cfg.TickHz = 50
	}
	return &Audio{cfg: cfg}
}

// Start launches the capture and processing threads. Stop them with Stop.
func (a *Audio) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)

	a.wg.Add(2)
	go a.captureLoop(ctx)
	go a.processLoop(ctx)
}

// Stop terminates both threads and waits for them to exit.
func (a *Audio) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
}

// captureLoop drains the device into the ring buffer. The ring's write lock
// is held only for the memcpy.
func (a *Audio) captureLoop(ctx context.Context) {
	defer a.wg.Done()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		samples, err := a.cfg.Source.ReadPCM(ctx)
		if err != nil {
			if ctx.Err() == nil {
				// Device lost: fatal for the audio path. The rest of the
				// process stays up; the UI surfaces a terminal indicator.
				slog.Error("audio device read failed, capture stopped", "err", err)
			}
			return
		}
		a.cfg.Ring.Write(samples)
	}
}

// processLoop runs the VAD + wake detection tick.
func (a *Audio) processLoop(ctx context.Context) {
	defer a.wg.Done()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	tick := a.cfg.Tick
	if tick == nil {
		ticker := time.NewTicker(time.Second / time.Duration(a.cfg.TickHz))
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			a.processTick()
		}
	}
}

func (a *Audio) processTick() {
	a.tickCount++

	pcm := a.cfg.Ring.ReadLast(detectWindow)
	if len(pcm) < audio.FrameSamples {
		return // not enough audio yet
	}

	// VAD sees the newest frame only; its silence counter is what makes the
	// quiet hint sticky.
	var frame audio.Frame
	copy(frame[:], pcm[len(pcm)-audio.FrameSamples:])
	a.cfg.VAD.IsVoice(&frame)

	if a.cfg.VAD.Quiet() && a.tickCount%quietDownrate != 0 {
		return
	}

	score, ok := a.cfg.Detector.Detect(pcm)
	if !ok || score < a.cfg.ThLow {
		return
	}
	if a.cfg.OnWakeHit != nil {
		a.cfg.OnWakeHit(WakeHit{Score: score, At: time.Now()})
	}
}
