package vad_test

import (
	"testing"

	"ciallo/internal/audio"
	"ciallo/internal/vad"
)

func constFrame(v int16) *audio.Frame {
	var f audio.Frame
	for i := range f {
		f[i] = v
	}
	return &f
}

func TestDetector_LoudFrameIsVoice(t *testing.T) {
	d := vad.New(vad.DefaultConfig())
	if !d.IsVoice(constFrame(1000)) {
		t.Error("expected loud frame to be reported as voice")
	}
	if d.Quiet() {
		t.Error("Quiet should be false right after a loud frame")
	}
}

func TestDetector_StickySilence(t *testing.T) {
	cfg := vad.Config{SilenceRMS: 300, SilenceFrames: 3}
	d := vad.New(cfg)

	for i := 0; i < 2; i++ {
		if d.IsVoice(constFrame(0)) {
			t.Fatalf("frame %d: silent frame reported as voice", i)
		}
		if d.Quiet() {
			t.Fatalf("frame %d: Quiet() true before SilenceFrames reached", i)
		}
	}

	d.IsVoice(constFrame(0))
	if !d.Quiet() {
		t.Error("Quiet() should be true after SilenceFrames consecutive silent frames")
	}
}

func TestDetector_ResetClearsStickyCounter(t *testing.T) {
	cfg := vad.Config{SilenceRMS: 300, SilenceFrames: 2}
	d := vad.New(cfg)

	d.IsVoice(constFrame(0))
	d.IsVoice(constFrame(0))
	if !d.Quiet() {
		t.Fatal("expected Quiet() true before Reset")
	}

	d.Reset()
	if d.Quiet() {
		t.Error("Quiet() should be false immediately after Reset")
	}
}

func TestDetector_LoudFrameClearsStickyCounter(t *testing.T) {
	cfg := vad.Config{SilenceRMS: 300, SilenceFrames: 2}
	d := vad.New(cfg)

	d.IsVoice(constFrame(0))
	d.IsVoice(constFrame(1000))
	if d.Quiet() {
		t.Error("a loud frame in between should reset the sticky counter")
	}
}
