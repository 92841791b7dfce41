package bridge

import (
	"log/slog"
	"sync"
	"time"

	"github.com/pontoonlabs/pontoon/pkg/audio"
)

// Sink receives paced native-rate frames. The media leg implements this; the
// pacer calls it once per tick and assumes the call does not block.
type Sink interface {
	// PlayFrame accepts one mono native-rate frame. Errors are logged and the
	// frame is dropped; the pacer keeps running.
	PlayFrame(frame audio.Frame) error
}

// State is the pacer's lifecycle state.
type State int

const (
	// Idle means no drain timer is running. The pacer enters Idle when the
	// playback buffer holds less than one frame quantum.
	Idle State = iota

	// Running means the drain timer is active and one quantum is emitted per
	// tick while data lasts.
	Running
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	default:
		return "unknown"
	}
}

// Pacer drains the playback buffer in fixed-size quanta at wall-clock cadence
// so the media leg receives audio in real time no matter how bursty the
// ingest arrivals are. The timer runs only while data lasts: the buffer
// absorbs burstiness, the timer imposes the real-time contract.
//
// Start is idempotent and a structural no-op until a sink is configured.
// All methods are safe for concurrent use.
type Pacer struct {
	buf          *PlaybackBuffer
	clock        Clock
	frameSamples int
	sampleRate   int
	interval     time.Duration
	stats        *Stats

	mu     sync.Mutex
	sink   Sink
	state  State
	stop   chan struct{}
	done   chan struct{}
	closed bool

	// emitted counts samples handed to the sink. Only the drain goroutine
	// touches it; generations are serialized through mu.
	emitted int

	warnPlay sync.Once
}

// NewPacer creates a pacer that drains buf in frameSamples quanta. The tick
// interval is derived from the quantum duration at sampleRate. A nil clock
// selects [SystemClock]; a nil stats counts nowhere.
func NewPacer(buf *PlaybackBuffer, sampleRate, frameSamples int, clock Clock, stats *Stats) *Pacer {
	if clock == nil {
		clock = SystemClock()
	}
	if stats == nil {
		stats = &Stats{}
	}
	return &Pacer{
		buf:          buf,
		clock:        clock,
		frameSamples: frameSamples,
		sampleRate:   sampleRate,
		interval:     time.Duration(frameSamples) * time.Second / time.Duration(sampleRate),
		stats:        stats,
	}
}

// Interval returns the derived tick interval (one frame quantum of time).
func (p *Pacer) Interval() time.Duration { return p.interval }

// State returns the current lifecycle state.
func (p *Pacer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// SetSink configures the frame destination. When buffered audio is already
// waiting, the pacer starts immediately — work deferred by an earlier sinkless
// Start resumes here.
func (p *Pacer) SetSink(s Sink) {
	p.mu.Lock()
	p.sink = s
	p.mu.Unlock()

	if s != nil && p.buf.Len() > 0 {
		p.Start()
	}
}

// Start moves the pacer to Running. Calling it while already running is a
// no-op (no second timer is created), as is calling it before a sink is
// configured or after Close.
func (p *Pacer) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.state == Running || p.sink == nil {
		return
	}

	p.state = Running
	stop := make(chan struct{})
	done := make(chan struct{})
	p.stop = stop
	p.done = done

	go p.run(stop, done)
}

// Stop forcibly halts the drain timer regardless of buffer state and waits
// for the tick loop to exit. Buffered samples stay in place; a later Start
// resumes from where draining left off. Safe to call repeatedly.
func (p *Pacer) Stop() {
	p.mu.Lock()
	if p.state != Running {
		p.mu.Unlock()
		return
	}
	p.state = Idle
	stop, done := p.stop, p.done
	p.stop, p.done = nil, nil
	p.mu.Unlock()

	close(stop)
	<-done
}

// Close stops the pacer and prevents any future restart. Used at session
// cleanup so no dangling timer outlives a torn-down sink. Safe to call
// repeatedly.
func (p *Pacer) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.Stop()
}

// run is the drain loop of one Running period. Each run owns its stop and
// done channels; a Stop aimed at a newer generation can never touch this one.
func (p *Pacer) run(stop, done chan struct{}) {
	defer close(done)

	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			if !p.tick(done) {
				return
			}
		}
	}
}

// tick emits one quantum. It returns false once the buffer holds less than a
// full quantum and the pacer has transitioned to Idle, or when a Stop has
// already detached this generation.
func (p *Pacer) tick(done chan struct{}) bool {
	samples, ok := p.buf.TakeFrame(p.frameSamples)
	if !ok {
		p.mu.Lock()
		if p.done != done {
			// Stop detached this generation; the state belongs to a newer
			// run now and must not be touched from here.
			p.mu.Unlock()
			return false
		}
		// Transition to Idle unless data raced in between the failed take
		// and acquiring the lock; Append-then-Start on the ingest path pairs
		// with this re-check so no wakeup is lost.
		if p.buf.Len() >= p.frameSamples {
			p.mu.Unlock()
			return true
		}
		p.state = Idle
		p.stop, p.done = nil, nil
		p.mu.Unlock()
		return false
	}

	p.mu.Lock()
	sink := p.sink
	p.mu.Unlock()

	frame := audio.Frame{
		Data:       audio.SamplesToBytes(samples),
		SampleRate: p.sampleRate,
		Channels:   1,
		Timestamp:  time.Duration(p.emitted) * time.Second / time.Duration(p.sampleRate),
	}
	p.emitted += len(samples)

	if err := sink.PlayFrame(frame); err != nil {
		p.warnPlay.Do(func() {
			slog.Warn("pacer: sink rejected frame, dropping", "err", err)
		})
		return true
	}

	p.stats.framesEmitted.Add(1)
	return true
}
