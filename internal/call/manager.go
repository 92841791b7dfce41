package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pontoonlabs/pontoon/internal/bridge"
	"github.com/pontoonlabs/pontoon/internal/cdr"
	"github.com/pontoonlabs/pontoon/internal/events"
	"github.com/pontoonlabs/pontoon/internal/media"
	"github.com/pontoonlabs/pontoon/internal/observe"
	"github.com/pontoonlabs/pontoon/pkg/peer"
)

var (
	// ErrManagerClosed is returned by Answer after Close.
	ErrManagerClosed = errors.New("call: manager closed")

	// ErrDuplicateCall is returned when a leg presents a call ID that is
	// already active.
	ErrDuplicateCall = errors.New("call: already active")

	// ErrTooManyCalls is returned when the concurrent call limit is reached.
	ErrTooManyCalls = errors.New("call: concurrent call limit reached")

	// ErrMediaFormat is returned when a leg announces a stream format that
	// does not match the configured bridge rates.
	ErrMediaFormat = errors.New("call: unsupported media format")
)

// peerOutbound adapts a peer session to the bridge's capture transport.
type peerOutbound struct {
	sess peer.SessionHandle
}

func (o peerOutbound) IsOpen() bool { return o.sess.IsOpen() }

func (o peerOutbound) Send(chunk []byte) error { return o.sess.SendAudio(chunk) }

var _ bridge.Outbound = peerOutbound{}

// Config configures a Manager.
type Config struct {
	// Bridge is the audio bridge configuration shared by all calls.
	Bridge bridge.Config

	// Session is the peer session configuration applied to every call.
	Session peer.SessionConfig

	// MaxConcurrent caps simultaneously active calls. Zero means unlimited.
	MaxConcurrent int
}

// Option customises a Manager.
type Option func(*Manager)

// WithRecorder sets the call record sink. Defaults to [cdr.Nop].
func WithRecorder(r cdr.Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// WithEvents sets the lifecycle event publisher. Defaults to [events.Nop].
func WithEvents(p events.Publisher) Option {
	return func(m *Manager) { m.events = p }
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(met *observe.Metrics) Option {
	return func(m *Manager) { m.metrics = met }
}

// WithManagerClock sets the clock driving every call's playback pacer. Tests
// use a mock clock for deterministic pacing.
func WithManagerClock(c bridge.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// Manager answers incoming media legs and tracks active sessions.
type Manager struct {
	cfg      Config
	peer     peer.Peer
	recorder cdr.Recorder
	events   events.Publisher
	metrics  *observe.Metrics
	clock    bridge.Clock

	mu       sync.Mutex
	sessions map[string]*Session
	pending  map[string]struct{}
	closed   bool
}

// NewManager validates the bridge configuration and builds a Manager. An
// invalid rate pairing fails here, before any call is accepted.
func NewManager(cfg Config, p peer.Peer, opts ...Option) (*Manager, error) {
	if err := cfg.Bridge.Validate(); err != nil {
		return nil, fmt.Errorf("call: invalid bridge config: %w", err)
	}
	m := &Manager{
		cfg:      cfg,
		peer:     p,
		recorder: cdr.Nop{},
		events:   events.Nop{},
		sessions: make(map[string]*Session),
		pending:  make(map[string]struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	return m, nil
}

// Answer connects a peer session for leg, builds the bridge, and starts the
// call. ctx bounds both the peer dial and the call's media loop. The
// returned session is registered until its teardown completes.
func (m *Manager) Answer(ctx context.Context, leg MediaLeg) (*Session, error) {
	callID := leg.CallID()
	if callID == "" {
		callID = uuid.NewString()
	}

	if err := m.checkFormat(leg.Start()); err != nil {
		return nil, fmt.Errorf("%w for %s", err, callID)
	}

	if err := m.reserve(callID); err != nil {
		return nil, err
	}

	connectStart := time.Now()
	peerSess, err := m.peer.Connect(ctx, m.cfg.Session)
	if err != nil {
		m.release(callID)
		m.metrics.RecordPeerError(ctx)
		return nil, fmt.Errorf("call: connect peer for %s: %w", callID, err)
	}
	m.metrics.PeerConnectDuration.Record(ctx, time.Since(connectStart).Seconds())

	br, err := bridge.New(m.cfg.Bridge, peerOutbound{sess: peerSess},
		bridge.WithClock(m.clock),
		bridge.WithSink(leg),
	)
	if err != nil {
		_ = peerSess.Close()
		m.release(callID)
		return nil, fmt.Errorf("call: build bridge for %s: %w", callID, err)
	}

	s := newSession(sessionParams{
		CallID:   callID,
		Leg:      leg,
		Peer:     peerSess,
		Bridge:   br,
		Recorder: m.recorder,
		Events:   m.events,
		Metrics:  m.metrics,
		OnEnd:    m.remove,
	})
	m.commit(s)

	m.metrics.RecordCallStarted(ctx)
	ev := events.CallStarted{
		CallID:    s.callID,
		From:      s.from,
		To:        s.to,
		StartedAt: s.started,
	}
	if err := m.events.CallStarted(ctx, ev); err != nil {
		slog.Warn("call started event not published", "call_id", s.callID, "err", err)
	}

	s.start(ctx)

	slog.Info("call answered",
		"call_id", s.callID,
		"from", s.from,
		"to", s.to,
	)
	return s, nil
}

// checkFormat rejects a leg whose announced stream parameters disagree with
// the bridge configuration. The rate ratios were validated at construction;
// a stream at any other rate would be converted by the wrong factor, so the
// mismatch is fatal here rather than audible later. An unannounced frame
// size is accepted; the leg re-cuts payloads only when one was declared.
func (m *Manager) checkFormat(info media.StartInfo) error {
	if info.SampleRate != m.cfg.Bridge.NativeRate {
		return fmt.Errorf("%w: announced %d Hz, configured %d Hz",
			ErrMediaFormat, info.SampleRate, m.cfg.Bridge.NativeRate)
	}
	if info.FrameSamples != 0 && info.FrameSamples != m.cfg.Bridge.FrameSamples {
		return fmt.Errorf("%w: announced %d samples per frame, configured %d",
			ErrMediaFormat, info.FrameSamples, m.cfg.Bridge.FrameSamples)
	}
	return nil
}

// reserve holds a slot for callID so the peer dial can run outside the lock.
func (m *Manager) reserve(callID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrManagerClosed
	}
	if _, ok := m.sessions[callID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateCall, callID)
	}
	if _, ok := m.pending[callID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateCall, callID)
	}
	if m.cfg.MaxConcurrent > 0 && len(m.sessions)+len(m.pending) >= m.cfg.MaxConcurrent {
		return ErrTooManyCalls
	}
	m.pending[callID] = struct{}{}
	return nil
}

// release frees a reserved slot after a failed answer.
func (m *Manager) release(callID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, callID)
}

// commit promotes a reserved slot to a live session.
func (m *Manager) commit(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, s.callID)
	m.sessions[s.callID] = s
}

// remove deregisters a session once its teardown completes.
func (m *Manager) remove(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, s.callID)
}

// SetMaxConcurrent replaces the concurrent call limit, gating new calls
// only. Lowering the limit never hangs up established calls. Zero means
// unlimited.
func (m *Manager) SetMaxConcurrent(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.MaxConcurrent = n
}

// Get returns the active session for callID.
func (m *Manager) Get(callID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[callID]
	return s, ok
}

// Active returns the currently active sessions in no particular order.
func (m *Manager) Active() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Len returns the number of active sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close stops accepting new calls, hangs up every active session with
// [ReasonShutdown], and waits for all teardowns to complete.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	active := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		active = append(active, s)
	}
	m.mu.Unlock()

	for _, s := range active {
		s.Hangup(ReasonShutdown)
	}
	for _, s := range active {
		s.Wait()
	}
}
