// Package call orchestrates live calls.
//
// Each [Session] owns one media leg, one AI peer session, and the bridge
// between them. Three goroutines move audio and transcripts while the call
// is up; a lifecycle goroutine waits for the first stop trigger (caller
// hangup, peer failure, operator request, gateway shutdown), tears the
// pieces down in order, and flushes the call record, lifecycle event, and
// metrics exactly once.
//
// [Manager] is the registry of active sessions. It answers incoming legs,
// enforces the concurrency limit, and hangs everything up at shutdown.
package call

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pontoonlabs/pontoon/internal/bridge"
	"github.com/pontoonlabs/pontoon/internal/cdr"
	"github.com/pontoonlabs/pontoon/internal/events"
	"github.com/pontoonlabs/pontoon/internal/media"
	"github.com/pontoonlabs/pontoon/internal/observe"
	"github.com/pontoonlabs/pontoon/pkg/audio"
	"github.com/pontoonlabs/pontoon/pkg/peer"
)

// End reasons recorded in call records, events, and metrics.
const (
	// ReasonCompleted means the caller ended the call normally.
	ReasonCompleted = "completed"

	// ReasonPeerClosed means the AI peer ended the session cleanly.
	ReasonPeerClosed = "peer closed"

	// ReasonPeerError means the AI peer session failed mid-call.
	ReasonPeerError = "peer error"

	// ReasonMediaError means the caller's media transport failed.
	ReasonMediaError = "media error"

	// ReasonHangup means an operator ended the call via the control API.
	ReasonHangup = "hangup"

	// ReasonShutdown means the gateway was shutting down.
	ReasonShutdown = "shutdown"
)

// persistTimeout bounds the call record write and event publish during
// teardown, which run on a fresh context because the serving context is
// usually already cancelled by then.
const persistTimeout = 5 * time.Second

// MediaLeg is the caller-side transport surface a Session drives. *media.Leg
// satisfies it; tests substitute scripted fakes.
type MediaLeg interface {
	CallID() string
	Start() media.StartInfo
	Run(ctx context.Context, onMedia func(audio.Frame)) error
	PlayFrame(frame audio.Frame) error
	SendStop(reason string) error
	Close() error
}

var _ MediaLeg = (*media.Leg)(nil)

// Session is one live call. Obtain sessions via [Manager.Answer]; all
// exported methods are safe for concurrent use.
type Session struct {
	callID  string
	from    string
	to      string
	started time.Time

	leg      MediaLeg
	peerSess peer.SessionHandle
	br       *bridge.Bridge

	recorder cdr.Recorder
	events   events.Publisher
	metrics  *observe.Metrics
	onEnd    func(*Session)

	mu         sync.Mutex
	transcript []peer.TranscriptEntry
	reason     string

	stopc    chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// sessionParams carries the ready-made pieces from Manager.Answer.
type sessionParams struct {
	CallID   string
	Leg      MediaLeg
	Peer     peer.SessionHandle
	Bridge   *bridge.Bridge
	Recorder cdr.Recorder
	Events   events.Publisher
	Metrics  *observe.Metrics
	OnEnd    func(*Session)
}

func newSession(p sessionParams) *Session {
	start := p.Leg.Start()
	return &Session{
		callID:   p.CallID,
		from:     start.From,
		to:       start.To,
		started:  time.Now(),
		leg:      p.Leg,
		peerSess: p.Peer,
		br:       p.Bridge,
		recorder: p.Recorder,
		events:   p.Events,
		metrics:  p.Metrics,
		onEnd:    p.OnEnd,
		stopc:    make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// start spawns the forwarding goroutines and the lifecycle goroutine. ctx
// bounds the media read loop; cancelling it reads as a caller disconnect.
func (s *Session) start(ctx context.Context) {
	s.wg.Go(func() { s.runMedia(ctx) })
	s.wg.Go(s.pumpPeerAudio)
	s.wg.Go(s.collectTranscripts)
	go s.lifecycle()
}

// runMedia drives the caller's media loop. Every inbound frame lands in the
// bridge's capture path.
func (s *Session) runMedia(ctx context.Context) {
	if err := s.leg.Run(ctx, s.br.OnNativeFrame); err != nil {
		slog.Warn("media loop failed", "call_id", s.callID, "err", err)
		s.requestStop(ReasonMediaError)
		return
	}
	s.requestStop(ReasonCompleted)
}

// pumpPeerAudio moves agent audio from the peer session into the bridge's
// playback path. The bridge never blocks, so a plain range keeps up with the
// peer's receive loop.
func (s *Session) pumpPeerAudio() {
	for payload := range s.peerSess.Audio() {
		s.br.OnPeerPayload(payload)
	}
	if err := s.peerSess.Err(); err != nil {
		slog.Warn("peer session failed", "call_id", s.callID, "err", err)
		s.metrics.RecordPeerError(context.Background())
		s.requestStop(ReasonPeerError)
		return
	}
	s.requestStop(ReasonPeerClosed)
}

// collectTranscripts accumulates the conversation for the call record.
func (s *Session) collectTranscripts() {
	for entry := range s.peerSess.Transcripts() {
		s.mu.Lock()
		s.transcript = append(s.transcript, entry)
		s.mu.Unlock()
	}
}

// requestStop records the first stop reason and releases the lifecycle
// goroutine. Later calls are no-ops.
func (s *Session) requestStop(reason string) {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.reason = reason
		s.mu.Unlock()
		close(s.stopc)
	})
}

// lifecycle waits for the first stop trigger, then tears down in order:
// bridge (halts pacing and capture), stop envelope to the caller, peer
// session, media leg. Once the forwarding goroutines have drained, it flushes
// the call record, the lifecycle event, and the metrics.
func (s *Session) lifecycle() {
	defer close(s.done)

	<-s.stopc
	reason := s.Reason()

	_ = s.br.Close()
	if err := s.leg.SendStop(reason); err != nil {
		slog.Debug("stop envelope not delivered", "call_id", s.callID, "err", err)
	}
	if err := s.peerSess.Close(); err != nil {
		slog.Warn("peer session close failed", "call_id", s.callID, "err", err)
	}
	if err := s.leg.Close(); err != nil {
		slog.Warn("media leg close failed", "call_id", s.callID, "err", err)
	}

	s.wg.Wait()

	ended := time.Now()
	stats := s.br.Stats()

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	rec := cdr.Record{
		CallID:            s.callID,
		From:              s.from,
		To:                s.to,
		StartedAt:         s.started,
		EndedAt:           ended,
		Reason:            reason,
		FramesCaptured:    stats.FramesCaptured,
		ChunksSent:        stats.ChunksSent,
		ChunksDropped:     stats.ChunksDropped,
		PayloadsIngested:  stats.PayloadsIngested,
		PayloadsDiscarded: stats.PayloadsDiscarded,
		FramesEmitted:     stats.FramesEmitted,
		SamplesDropped:    stats.SamplesDropped,
		Transcript:        s.Transcript(),
	}
	if err := s.recorder.SaveCall(ctx, rec); err != nil {
		slog.Error("call record not saved", "call_id", s.callID, "err", err)
	}

	duration := ended.Sub(s.started)
	ev := events.CallEnded{
		CallID:          s.callID,
		Reason:          reason,
		StartedAt:       s.started,
		EndedAt:         ended,
		DurationSeconds: duration.Seconds(),
		ChunksSent:      stats.ChunksSent,
		FramesEmitted:   stats.FramesEmitted,
	}
	if err := s.events.CallEnded(ctx, ev); err != nil {
		slog.Warn("call ended event not published", "call_id", s.callID, "err", err)
	}

	s.metrics.RecordCallEnded(ctx, reason, duration.Seconds())
	s.metrics.RecordCallTotals(ctx, observe.CallTotals{
		ChunksSent:        stats.ChunksSent,
		ChunksDropped:     stats.ChunksDropped,
		FramesEmitted:     stats.FramesEmitted,
		PayloadsDiscarded: stats.PayloadsDiscarded,
		SamplesDropped:    stats.SamplesDropped,
	})

	if s.onEnd != nil {
		s.onEnd(s)
	}

	slog.Info("call ended",
		"call_id", s.callID,
		"reason", reason,
		"duration", duration,
		"chunks_sent", stats.ChunksSent,
		"frames_emitted", stats.FramesEmitted,
	)
}

// CallID returns the call's identifier.
func (s *Session) CallID() string { return s.callID }

// From returns the caller's number as reported in the start envelope.
func (s *Session) From() string { return s.from }

// To returns the dialled number as reported in the start envelope.
func (s *Session) To() string { return s.to }

// StartedAt returns when the call was answered.
func (s *Session) StartedAt() time.Time { return s.started }

// Stats returns a snapshot of the bridge's audio counters.
func (s *Session) Stats() bridge.StatsSnapshot { return s.br.Stats() }

// Transcript returns a copy of the conversation collected so far.
func (s *Session) Transcript() []peer.TranscriptEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]peer.TranscriptEntry, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// Reason returns the end reason, or the empty string while the call is up.
func (s *Session) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// UpdateInstructions replaces the agent's instructions mid-call.
func (s *Session) UpdateInstructions(instructions string) error {
	return s.peerSess.UpdateInstructions(instructions)
}

// Interrupt tells the agent to stop its current response.
func (s *Session) Interrupt() error {
	return s.peerSess.Interrupt()
}

// Hangup requests teardown with the given reason and returns immediately.
// The first stop reason wins; use [Session.Wait] or [Session.Done] to
// observe completion.
func (s *Session) Hangup(reason string) {
	s.requestStop(reason)
}

// Done returns a channel closed when teardown has fully completed, including
// the call record write.
func (s *Session) Done() <-chan struct{} { return s.done }

// Wait blocks until teardown has fully completed.
func (s *Session) Wait() { <-s.done }
