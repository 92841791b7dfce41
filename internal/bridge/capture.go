package bridge

import (
	"log/slog"
	"sync"

	"github.com/pontoonlabs/pontoon/pkg/audio"
)

// Outbound is the peer-facing byte transport the capture path flushes into.
// The realtime peer client implements this.
type Outbound interface {
	// IsOpen reports whether the transport can currently accept audio.
	IsOpen() bool

	// Send transmits one accumulated chunk of peer-rate PCM16 bytes.
	Send(chunk []byte) error
}

// Capture converts native media frames into peer-rate chunks. Each incoming
// frame is reduced to mono, decimated down to the peer rate, and appended to
// an accumulator; every time the accumulator reaches the configured chunk
// size an exact-size chunk is flushed to the outbound transport and the
// remainder is retained for the next frame.
//
// Audio is never padded and never flushed short: silence on the wire is the
// peer's job to infer, not ours to synthesize.
type Capture struct {
	ratio      int
	chunkBytes int
	out        Outbound
	stats      *Stats

	mu  sync.Mutex
	acc []byte

	warnSend sync.Once
}

// NewCapture creates the capture path. ratio is the native/peer integer rate
// divisor (1 passes samples through), chunkBytes the flush threshold in
// peer-rate PCM16 bytes. A nil stats counts nowhere.
func NewCapture(ratio, chunkBytes int, out Outbound, stats *Stats) *Capture {
	if stats == nil {
		stats = &Stats{}
	}
	return &Capture{
		ratio:      ratio,
		chunkBytes: chunkBytes,
		out:        out,
		stats:      stats,
	}
}

// OnFrame ingests one native-rate frame from the media leg. Stereo input is
// reduced to its first channel before decimation. Runs on the media read
// loop; a panic in conversion is contained here so one bad frame cannot take
// the whole session down.
func (c *Capture) OnFrame(frame audio.Frame) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("capture: frame conversion panicked, frame dropped", "panic", r)
		}
	}()

	samples := audio.BytesToSamples(frame.Data)
	if frame.Channels > 1 {
		samples = audio.SelectChannel(samples, frame.Channels)
	}
	samples = audio.Decimate(samples, c.ratio)
	if len(samples) == 0 {
		return
	}
	c.stats.framesCaptured.Add(1)

	c.mu.Lock()
	c.acc = append(c.acc, audio.SamplesToBytes(samples)...)
	var flushes [][]byte
	for len(c.acc) >= c.chunkBytes {
		chunk := make([]byte, c.chunkBytes)
		copy(chunk, c.acc[:c.chunkBytes])
		c.acc = append(c.acc[:0], c.acc[c.chunkBytes:]...)
		flushes = append(flushes, chunk)
	}
	c.mu.Unlock()

	// Send outside the lock so a slow transport never stalls accumulation.
	for _, chunk := range flushes {
		c.send(chunk)
	}
}

// send flushes one chunk. A closed transport drops silently (teardown can
// race the media read loop); a send error drops with a single warning for
// the session.
func (c *Capture) send(chunk []byte) {
	if c.out == nil || !c.out.IsOpen() {
		c.stats.chunksDropped.Add(1)
		return
	}
	if err := c.out.Send(chunk); err != nil {
		c.warnSend.Do(func() {
			slog.Warn("capture: chunk send failed, dropping", "err", err)
		})
		c.stats.chunksDropped.Add(1)
		return
	}
	c.stats.chunksSent.Add(1)
}

// Buffered returns the number of accumulated bytes not yet flushed.
func (c *Capture) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.acc)
}

// Reset discards any partial accumulation. Called at session teardown; the
// remainder is never flushed late.
func (c *Capture) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acc = nil
}
