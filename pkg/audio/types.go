// Package audio provides the PCM primitives shared by the bridge core and the
// transport legs: the Frame type, little-endian sample codecs, and the
// fixed-ratio rate conversions used on the capture and playback paths.
//
// Everything in this package operates on signed 16-bit linear PCM;
// multi-byte values are little-endian throughout.
package audio

import "time"

// Frame represents a single frame of audio flowing through the pipeline.
// Frames are the atomic unit of transport — pushed by the media leg at its
// native cadence on the way in, and emitted by the pacer at the same cadence
// on the way out. Ownership passes to the consumer; a frame is not mutated
// after it has been handed off.
type Frame struct {
	// Data is raw little-endian int16 PCM.
	Data []byte

	// SampleRate in Hz (e.g. 48000 on the media leg, 16000 toward the peer).
	SampleRate int

	// Channels is 1 for everything the bridge emits. Inbound frames may carry
	// more; the capture path keeps channel 0 only.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// SampleCount returns the number of samples per channel in the frame.
func (f Frame) SampleCount() int {
	if f.Channels <= 0 {
		return 0
	}
	return len(f.Data) / 2 / f.Channels
}

// Duration returns the wall-clock play time of the frame at its nominal rate.
// The pacing interval is always derived from this, never hard-coded.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.SampleCount()) * time.Second / time.Duration(f.SampleRate)
}
