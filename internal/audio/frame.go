// Package audio provides the fixed-size PCM staging primitives that sit
// between the sound device callback and the VAD/wake-detection pipeline.
package audio

import "math"

// SampleRate is the fixed input sample rate in Hz.
const SampleRate = 16000

// FrameSamples is the number of int16 samples in one Frame (16 ms at
// SampleRate). It is a compile-time constant so the pipeline never has to
// size or allocate a frame at runtime.
const FrameSamples = 256

// Frame is a fixed-length window of signed 16-bit PCM samples. Its length is
// always FrameSamples; callers must not resize it.
type Frame [FrameSamples]int16

// RMS returns the root-mean-square energy of the frame.
func (f *Frame) RMS() float64 {
	var sumSq float64
	for _, s := range f {
		v := float64(s)
		sumSq += v * v
	}
	return math.Sqrt(sumSq / float64(len(f)))
}
