// Package mock provides hand-rolled test doubles for the bridge: a manual
// clock whose ticks the test drives one by one, a recording playback sink,
// and a recording outbound transport.
package mock

import (
	"sync"
	"time"

	"github.com/pontoonlabs/pontoon/internal/bridge"
	"github.com/pontoonlabs/pontoon/pkg/audio"
)

var (
	_ bridge.Clock    = (*Clock)(nil)
	_ bridge.Ticker   = (*Ticker)(nil)
	_ bridge.Sink     = (*Sink)(nil)
	_ bridge.Outbound = (*Outbound)(nil)
)

// Clock hands out manual tickers and records every creation so tests can
// assert how many drain loops ever existed.
type Clock struct {
	mu      sync.Mutex
	tickers []*Ticker
	created chan *Ticker
}

// NewClock creates a manual clock.
func NewClock() *Clock {
	return &Clock{created: make(chan *Ticker, 16)}
}

// NewTicker hands out a fresh manual ticker and announces it on the created
// channel.
func (c *Clock) NewTicker(d time.Duration) bridge.Ticker {
	tk := &Ticker{
		interval: d,
		ch:       make(chan time.Time),
		stopc:    make(chan struct{}),
	}
	c.mu.Lock()
	c.tickers = append(c.tickers, tk)
	c.mu.Unlock()
	c.created <- tk
	return tk
}

// WaitTicker blocks until the clock hands out its next ticker. The drain
// loop creates its ticker asynchronously, so tests wait here after starting
// the pacer.
func (c *Clock) WaitTicker(timeout time.Duration) (*Ticker, bool) {
	select {
	case tk := <-c.created:
		return tk, true
	case <-time.After(timeout):
		return nil, false
	}
}

// TickerCount returns how many tickers were ever created.
func (c *Clock) TickerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tickers)
}

// Ticker is a manual ticker. Each Tick is an unbuffered handoff: because the
// drain loop only returns to its select after fully processing the previous
// tick, a Tick that succeeds proves the previous tick's work is complete.
type Ticker struct {
	interval time.Duration
	ch       chan time.Time
	stopc    chan struct{}
	stopOnce sync.Once
}

// C returns the tick channel.
func (t *Ticker) C() <-chan time.Time { return t.ch }

// Stop releases anyone blocked in Tick. Safe to call repeatedly.
func (t *Ticker) Stop() {
	t.stopOnce.Do(func() { close(t.stopc) })
}

// Interval returns the duration the ticker was created with.
func (t *Ticker) Interval() time.Duration { return t.interval }

// Tick delivers one tick to the drain loop. It returns false once the loop
// has stopped the ticker (the pacer went idle or was stopped), or if nobody
// receives within two seconds.
func (t *Ticker) Tick() bool {
	select {
	case t.ch <- time.Now():
		return true
	case <-t.stopc:
		return false
	case <-time.After(2 * time.Second):
		return false
	}
}

// Sink records every frame the pacer emits. Receive from Played to
// synchronize on individual frames.
type Sink struct {
	// PlayErr, when set, is returned by every PlayFrame call.
	PlayErr error

	// Played receives each frame as it arrives, capacity permitting.
	Played chan audio.Frame

	mu     sync.Mutex
	frames []audio.Frame
}

// NewSink creates a recording sink.
func NewSink() *Sink {
	return &Sink{Played: make(chan audio.Frame, 64)}
}

// PlayFrame records the frame and signals Played.
func (s *Sink) PlayFrame(frame audio.Frame) error {
	if s.PlayErr != nil {
		return s.PlayErr
	}
	s.mu.Lock()
	s.frames = append(s.frames, frame)
	s.mu.Unlock()
	select {
	case s.Played <- frame:
	default:
	}
	return nil
}

// Frames returns a copy of everything played so far.
func (s *Sink) Frames() []audio.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audio.Frame, len(s.frames))
	copy(out, s.frames)
	return out
}

// Outbound records every chunk the capture path sends. Toggle Open to
// simulate transport teardown.
type Outbound struct {
	// SendErr, when set, is returned by every Send call.
	SendErr error

	mu     sync.Mutex
	open   bool
	chunks [][]byte
}

// NewOutbound creates a transport in the open state.
func NewOutbound() *Outbound {
	return &Outbound{open: true}
}

// IsOpen reports the simulated transport state.
func (o *Outbound) IsOpen() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.open
}

// SetOpen flips the simulated transport state.
func (o *Outbound) SetOpen(open bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.open = open
}

// Send records one chunk.
func (o *Outbound) Send(chunk []byte) error {
	if o.SendErr != nil {
		return o.SendErr
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	o.mu.Lock()
	o.chunks = append(o.chunks, cp)
	o.mu.Unlock()
	return nil
}

// Chunks returns a copy of everything sent so far.
func (o *Outbound) Chunks() [][]byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([][]byte, len(o.chunks))
	copy(out, o.chunks)
	return out
}
