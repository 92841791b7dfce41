package audio

import (
	"encoding/binary"
	"math"
)

// BytesToSamples decodes little-endian int16 PCM into samples. A trailing odd
// byte is ignored; callers that need to treat it as a fault should check the
// length themselves first.
func BytesToSamples(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples
}

// SamplesToBytes encodes samples as little-endian int16 PCM.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// SelectChannel extracts channel 0 from interleaved multi-channel PCM. This is
// a plain channel pick, not a downmix: the remaining channels are discarded.
// Mono input is returned unchanged (zero allocation).
func SelectChannel(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	out := make([]int16, 0, len(samples)/channels)
	for i := 0; i < len(samples); i += channels {
		out = append(out, samples[i])
	}
	return out
}

// Decimate downsamples by keeping every ratio-th sample starting at index 0.
// No low-pass filtering is applied; the aliasing trade-off is accepted for
// speech at the rates the bridge works with. A ratio below 2 returns the
// input unchanged.
func Decimate(samples []int16, ratio int) []int16 {
	if ratio <= 1 {
		return samples
	}
	out := make([]int16, 0, (len(samples)+ratio-1)/ratio)
	for i := 0; i < len(samples); i += ratio {
		out = append(out, samples[i])
	}
	return out
}

// Interpolate upsamples by synthesizing ratio output samples per consecutive
// input pair using linear interpolation: for inputs s[i], s[i+1] the outputs
// are round(s[i]*(1-t) + s[i+1]*t) at t = j/ratio for j in [0, ratio). The
// final input sample has no successor and is not emitted, so n input samples
// produce (n-1)*ratio output samples. A ratio below 2 returns the input
// unchanged.
func Interpolate(samples []int16, ratio int) []int16 {
	if ratio <= 1 {
		return samples
	}
	if len(samples) < 2 {
		return nil
	}
	out := make([]int16, 0, (len(samples)-1)*ratio)
	for i := 0; i+1 < len(samples); i++ {
		s0 := float64(samples[i])
		s1 := float64(samples[i+1])
		for j := range ratio {
			t := float64(j) / float64(ratio)
			out = append(out, int16(math.Round(s0*(1-t)+s1*t)))
		}
	}
	return out
}
