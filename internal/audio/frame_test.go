package audio_test

import (
	"math"
	"testing"

	"ciallo/internal/audio"
)

func TestFrame_RMS_Silence(t *testing.T) {
	var f audio.Frame
	if rms := f.RMS(); rms != 0 {
		t.Errorf("RMS of silence = %v, want 0", rms)
	}
}

func TestFrame_RMS_Constant(t *testing.T) {
	var f audio.Frame
	for i := range f {
		f[i] = 100
	}
	if rms := f.RMS(); math.Abs(rms-100) > 1e-9 {
		t.Errorf("RMS of constant 100 = %v, want 100", rms)
	}
}
