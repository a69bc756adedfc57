package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ciallo/internal/audio"
	"ciallo/internal/pipeline"
	"ciallo/internal/vad"
	"ciallo/internal/wake"
)

// chanSource feeds scripted PCM buffers; ReadPCM blocks until a buffer
// arrives or ctx ends.
type chanSource struct {
	buffers chan []int16
}

func newChanSource() *chanSource {
	return &chanSource{buffers: make(chan []int16, 16)}
}

func (s *chanSource) ReadPCM(ctx context.Context) ([]int16, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case buf, ok := <-s.buffers:
		if !ok {
			return nil, errors.New("device lost")
		}
		return buf, nil
	}
}

func loudSamples(n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = 8000
		} else {
			out[i] = -8000
		}
	}
	return out
}

type hitRecorder struct {
	mu   sync.Mutex
	hits []pipeline.WakeHit
}

func (r *hitRecorder) record(h pipeline.WakeHit) {
	r.mu.Lock()
	r.hits = append(r.hits, h)
	r.mu.Unlock()
}

func (r *hitRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.hits)
}

func startPipeline(t *testing.T, det wake.Detector, rec *hitRecorder) (*chanSource, chan time.Time, func()) {
	t.Helper()

	source := newChanSource()
	tick := make(chan time.Time)
	p := pipeline.New(pipeline.Config{
		ThLow:     0.02,
		Source:    source,
		Ring:      audio.NewRingBuffer(),
		VAD:       vad.New(vad.DefaultConfig()),
		Detector:  det,
		OnWakeHit: rec.record,
		Tick:      tick,
	})
	ctx, cancelFn := context.WithCancel(context.Background())
	p.Start(ctx)
	return source, tick, func() {
		cancelFn()
		close(source.buffers)
		p.Stop()
	}
}

func feedAndTick(source *chanSource, tick chan time.Time, samples []int16) {
	source.buffers <- samples
	// Give the capture thread a moment to write before the tick fires.
	time.Sleep(5 * time.Millisecond)
	tick <- time.Time{}
}

func TestAudio_ScoreAboveThresholdEmitsWakeHit(t *testing.T) {
	rec := &hitRecorder{}
	source, tick, stop := startPipeline(t, wake.NewSeeded(0.05), rec)
	defer stop()

	feedAndTick(source, tick, loudSamples(audio.SampleRate))

	require.Eventually(t, func() bool { return rec.count() == 1 },
		time.Second, time.Millisecond)

	rec.mu.Lock()
	hit := rec.hits[0]
	rec.mu.Unlock()
	assert.Equal(t, 0.05, hit.Score)
	assert.False(t, hit.At.IsZero())
}

func TestAudio_ScoreBelowThresholdIsDropped(t *testing.T) {
	rec := &hitRecorder{}
	source, tick, stop := startPipeline(t, wake.NewSeeded(0.01), rec)
	defer stop()

	feedAndTick(source, tick, loudSamples(audio.SampleRate))
	feedAndTick(source, tick, loudSamples(audio.SampleRate))

	assert.Equal(t, 0, rec.count())
}

func TestAudio_UnderfilledRingSkipsDetection(t *testing.T) {
	rec := &hitRecorder{}
	det := wake.NewSeeded(0.9)
	source, tick, stop := startPipeline(t, det, rec)
	defer stop()

	// Fewer than one frame's worth of samples: the tick must be a no-op.
	feedAndTick(source, tick, loudSamples(10))
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, 0, rec.count())
	assert.Equal(t, 0, det.Calls())
}

// TestAudio_QuietHintDownratesDetector feeds silent audio until the VAD
// reports quiet, then checks the detector only runs on every fourth tick.
func TestAudio_QuietHintDownratesDetector(t *testing.T) {
	rec := &hitRecorder{}
	det := wake.NewSeeded() // never fires, only records calls
	source, tick, stop := startPipeline(t, det, rec)
	defer stop()

	// Fill the ring with silence. DefaultConfig needs 8 consecutive silent
	// frames before Quiet() holds.
	silence := make([]int16, audio.SampleRate)
	source.buffers <- silence
	time.Sleep(5 * time.Millisecond)

	for i := 0; i < 8; i++ {
		tick <- time.Time{}
	}
	time.Sleep(10 * time.Millisecond)
	callsWhenQuietStarts := det.Calls()

	for i := 0; i < 16; i++ {
		tick <- time.Time{}
	}
	time.Sleep(10 * time.Millisecond)

	downrated := det.Calls() - callsWhenQuietStarts
	assert.LessOrEqual(t, downrated, 5, "quiet hint should gate ~3 of every 4 ticks")
	assert.Greater(t, downrated, 0, "detector must still run occasionally while quiet")
}
