// Package bridge couples a frame-cadenced media leg to a chunk-streamed AI
// peer. The capture path decimates native frames down to the peer rate and
// flushes fixed-size chunks; the ingest path interpolates peer payloads up to
// the native rate and buffers them; the pacer drains the buffer one frame
// quantum per tick so the media leg hears real-time audio regardless of how
// bursty the peer is.
//
// Both rates must divide the native rate evenly. There is no fractional
// resampling and no padding: audio that cannot fill a whole chunk or frame
// waits, and audio nobody can carry is dropped, never stretched.
package bridge

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pontoonlabs/pontoon/pkg/audio"
)

// Direction identifies which leg of the bridge a rate error refers to.
type Direction string

const (
	// DirectionCapture is media to peer (native rate down to capture rate).
	DirectionCapture Direction = "capture"

	// DirectionPlayback is peer to media (playback rate up to native rate).
	DirectionPlayback Direction = "playback"
)

// RateRatioError reports a peer rate that does not divide the native rate
// evenly. It is fatal at configuration time; no session is established.
type RateRatioError struct {
	NativeRate int
	PeerRate   int
	Direction  Direction
}

func (e *RateRatioError) Error() string {
	return fmt.Sprintf("bridge: %s rate %d does not divide native rate %d evenly",
		e.Direction, e.PeerRate, e.NativeRate)
}

// Config carries the rates and sizes of one bridged session. The zero value
// is not usable; start from [DefaultConfig].
type Config struct {
	// NativeRate is the media leg sample rate in Hz.
	NativeRate int `yaml:"native_rate"`

	// CaptureRate is the peer-bound sample rate in Hz. Must divide NativeRate.
	CaptureRate int `yaml:"capture_rate"`

	// PlaybackRate is the peer-emitted sample rate in Hz. Must divide
	// NativeRate.
	PlaybackRate int `yaml:"playback_rate"`

	// FrameSamples is the size of one native frame quantum in samples. It
	// fixes both the media frame size and the pacer tick interval.
	FrameSamples int `yaml:"frame_samples"`

	// ChunkBytes is the capture flush threshold in peer-rate PCM16 bytes.
	ChunkBytes int `yaml:"chunk_bytes"`

	// MaxBufferedSamples bounds the playback buffer; the oldest samples are
	// dropped past it. 0 disables the bound.
	MaxBufferedSamples int `yaml:"max_buffered_samples"`
}

// DefaultConfig returns the stock telephony-grade profile: 48 kHz native
// audio in 10 ms frames, a 16 kHz capture leg flushed in 100 ms chunks, a
// 48 kHz playback leg, and ten seconds of buffered playback headroom.
func DefaultConfig() Config {
	return Config{
		NativeRate:         48000,
		CaptureRate:        16000,
		PlaybackRate:       48000,
		FrameSamples:       480,
		ChunkBytes:         3200,
		MaxBufferedSamples: 480000,
	}
}

// Validate checks the configuration and returns all problems at once.
func (c Config) Validate() error {
	var errs []error
	if c.NativeRate <= 0 {
		errs = append(errs, fmt.Errorf("native_rate must be positive, got %d", c.NativeRate))
	}
	if c.CaptureRate <= 0 {
		errs = append(errs, fmt.Errorf("capture_rate must be positive, got %d", c.CaptureRate))
	}
	if c.PlaybackRate <= 0 {
		errs = append(errs, fmt.Errorf("playback_rate must be positive, got %d", c.PlaybackRate))
	}
	if c.FrameSamples <= 0 {
		errs = append(errs, fmt.Errorf("frame_samples must be positive, got %d", c.FrameSamples))
	}
	if c.ChunkBytes <= 0 || c.ChunkBytes%2 != 0 {
		errs = append(errs, fmt.Errorf("chunk_bytes must be positive and even, got %d", c.ChunkBytes))
	}
	if c.MaxBufferedSamples < 0 {
		errs = append(errs, fmt.Errorf("max_buffered_samples must not be negative, got %d", c.MaxBufferedSamples))
	}
	if c.NativeRate > 0 && c.CaptureRate > 0 && c.NativeRate%c.CaptureRate != 0 {
		errs = append(errs, &RateRatioError{
			NativeRate: c.NativeRate,
			PeerRate:   c.CaptureRate,
			Direction:  DirectionCapture,
		})
	}
	if c.NativeRate > 0 && c.PlaybackRate > 0 && c.NativeRate%c.PlaybackRate != 0 {
		errs = append(errs, &RateRatioError{
			NativeRate: c.NativeRate,
			PeerRate:   c.PlaybackRate,
			Direction:  DirectionPlayback,
		})
	}
	return errors.Join(errs...)
}

// TickInterval returns the pacing interval, one frame quantum of wall time.
func (c Config) TickInterval() time.Duration {
	return time.Duration(c.FrameSamples) * time.Second / time.Duration(c.NativeRate)
}

// Stats holds the bridge counters. All fields are updated atomically; read
// them through [Stats.Snapshot].
type Stats struct {
	framesCaptured    atomic.Uint64
	chunksSent        atomic.Uint64
	chunksDropped     atomic.Uint64
	payloadsIngested  atomic.Uint64
	payloadsDiscarded atomic.Uint64
	framesEmitted     atomic.Uint64
}

// StatsSnapshot is a point-in-time copy of the bridge counters.
type StatsSnapshot struct {
	// FramesCaptured counts media frames that produced peer-bound samples.
	FramesCaptured uint64

	// ChunksSent counts chunks flushed to the peer transport.
	ChunksSent uint64

	// ChunksDropped counts chunks lost to a closed or failing transport.
	ChunksDropped uint64

	// PayloadsIngested counts peer payloads that reached the playback buffer.
	PayloadsIngested uint64

	// PayloadsDiscarded counts peer payloads too small to carry audio.
	PayloadsDiscarded uint64

	// FramesEmitted counts paced frames delivered to the sink.
	FramesEmitted uint64

	// SamplesDropped counts playback samples evicted by the buffer bound.
	SamplesDropped uint64
}

// Snapshot copies the counters. SamplesDropped is merged in by the bridge,
// which owns the buffer.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		FramesCaptured:    s.framesCaptured.Load(),
		ChunksSent:        s.chunksSent.Load(),
		ChunksDropped:     s.chunksDropped.Load(),
		PayloadsIngested:  s.payloadsIngested.Load(),
		PayloadsDiscarded: s.payloadsDiscarded.Load(),
		FramesEmitted:     s.framesEmitted.Load(),
	}
}

// Option configures optional bridge collaborators.
type Option func(*Bridge)

// WithClock replaces the wall clock driving the pacer. Tests inject a manual
// clock here.
func WithClock(c Clock) Option {
	return func(b *Bridge) { b.clock = c }
}

// WithSink configures the playback sink up front instead of via [Bridge.SetSink].
func WithSink(s Sink) Option {
	return func(b *Bridge) { b.sink = s }
}

// Bridge is one bidirectional audio coupling between a media leg and an AI
// peer. Frames go in through OnNativeFrame and come back out through the
// sink; payloads go in through OnPeerPayload and come back out through the
// outbound transport.
type Bridge struct {
	cfg     Config
	stats   *Stats
	clock   Clock
	sink    Sink
	buffer  *PlaybackBuffer
	capture *Capture
	ingest  *Ingest
	pacer   *Pacer

	closed    atomic.Bool
	closeOnce sync.Once
}

// New assembles a bridge from a validated config and an outbound peer
// transport. The sink may be attached later with SetSink; until then ingested
// audio accumulates and pacing is deferred.
func New(cfg Config, out Outbound, opts ...Option) (*Bridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid bridge config: %w", err)
	}

	b := &Bridge{
		cfg:   cfg,
		stats: &Stats{},
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.clock == nil {
		b.clock = SystemClock()
	}

	b.buffer = NewPlaybackBuffer(cfg.MaxBufferedSamples)
	b.pacer = NewPacer(b.buffer, cfg.NativeRate, cfg.FrameSamples, b.clock, b.stats)
	b.capture = NewCapture(cfg.NativeRate/cfg.CaptureRate, cfg.ChunkBytes, out, b.stats)
	b.ingest = NewIngest(cfg.NativeRate/cfg.PlaybackRate, b.buffer, b.pacer, b.stats)
	if b.sink != nil {
		b.pacer.SetSink(b.sink)
	}
	return b, nil
}

// OnNativeFrame feeds one media frame into the capture path. Frames arriving
// after Close are silently discarded.
func (b *Bridge) OnNativeFrame(frame audio.Frame) {
	if b.closed.Load() {
		return
	}
	b.capture.OnFrame(frame)
}

// OnPeerPayload feeds one peer audio payload into the ingest path. Payloads
// arriving after Close are silently discarded.
func (b *Bridge) OnPeerPayload(payload []byte) {
	if b.closed.Load() {
		return
	}
	b.ingest.OnPayload(payload)
}

// SetSink attaches the playback sink. If peer audio arrived before the sink
// existed, pacing starts immediately.
func (b *Bridge) SetSink(s Sink) {
	b.pacer.SetSink(s)
}

// State reports the pacer state.
func (b *Bridge) State() State {
	return b.pacer.State()
}

// Buffered returns the current playback backlog in samples.
func (b *Bridge) Buffered() int {
	return b.buffer.Len()
}

// CaptureBuffered returns the bytes accumulated toward the next peer chunk.
func (b *Bridge) CaptureBuffered() int {
	return b.capture.Buffered()
}

// Stats returns a snapshot of all bridge counters.
func (b *Bridge) Stats() StatsSnapshot {
	snap := b.stats.Snapshot()
	snap.SamplesDropped = b.buffer.Dropped()
	return snap
}

// Close tears the bridge down: the pacer stops and can never restart, the
// capture remainder is discarded, the playback buffer empties. Safe to call
// repeatedly; always returns nil.
func (b *Bridge) Close() error {
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		b.pacer.Close()
		b.capture.Reset()
		b.buffer.Clear()
	})
	return nil
}
