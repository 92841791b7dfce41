package bridge

import "sync"

// PlaybackBuffer is the ordered sample queue between the ingest path and the
// pacer. Samples leave in exactly the order they were appended; sample N is
// never emitted before sample N-1, and no sample is consumed twice.
//
// The buffer is bounded by a high watermark: when an append pushes the depth
// past the limit, the oldest samples are discarded first so that sustained
// production faster than drain costs old audio, not unbounded memory.
//
// All methods are safe for concurrent use.
type PlaybackBuffer struct {
	mu      sync.Mutex
	samples []int16
	max     int // high watermark in samples; 0 disables the bound
	dropped uint64
}

// NewPlaybackBuffer creates an empty buffer that holds at most maxSamples
// samples. A maxSamples of 0 disables the bound.
func NewPlaybackBuffer(maxSamples int) *PlaybackBuffer {
	return &PlaybackBuffer{max: maxSamples}
}

// Append adds samples to the tail of the queue. When the high watermark is
// exceeded, the oldest samples are evicted and counted in [PlaybackBuffer.Dropped].
func (b *PlaybackBuffer) Append(samples []int16) {
	if len(samples) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.samples = append(b.samples, samples...)
	if b.max > 0 && len(b.samples) > b.max {
		over := len(b.samples) - b.max
		b.samples = append(b.samples[:0], b.samples[over:]...)
		b.dropped += uint64(over)
	}
}

// TakeFrame removes and returns exactly n samples from the head of the queue.
// When fewer than n samples are buffered it removes nothing and returns
// (nil, false) — a frame is never short.
func (b *PlaybackBuffer) TakeFrame(n int) ([]int16, bool) {
	if n <= 0 {
		return nil, false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.samples) < n {
		return nil, false
	}

	out := make([]int16, n)
	copy(out, b.samples[:n])
	// Compact in place so consumed samples do not pin the backing array.
	b.samples = append(b.samples[:0], b.samples[n:]...)
	return out, true
}

// Len returns the number of buffered samples.
func (b *PlaybackBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples)
}

// Dropped returns the cumulative count of samples evicted at the watermark.
func (b *PlaybackBuffer) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Clear discards all buffered samples. Evicted samples are not counted as
// dropped; Clear is part of session teardown, not an overflow.
func (b *PlaybackBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples = nil
}
