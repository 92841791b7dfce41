// Package mock provides test doubles for the peer package interfaces.
//
// Use Peer to verify Connect calls and hand out controlled sessions. Use
// Session to drive the bidirectional audio/transcript streams and inspect
// which methods the call layer invoked.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Peer{Session: sess}
//	handle, _ := p.Connect(ctx, cfg)
package mock

import (
	"context"
	"sync"

	"github.com/pontoonlabs/pontoon/pkg/peer"
)

// ConnectCall records a single invocation of Peer.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg peer.SessionConfig
}

// Peer is a mock implementation of peer.Peer.
type Peer struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by Connect. If nil, Connect
	// returns a new default Session with buffered channels.
	Session peer.SessionHandle

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// PeerCapabilities is returned by Capabilities.
	PeerCapabilities peer.Capabilities

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

// Connect records the call and returns Session, ConnectErr.
func (p *Peer) Connect(ctx context.Context, cfg peer.SessionConfig) (peer.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(), nil
}

// Capabilities returns PeerCapabilities.
func (p *Peer) Capabilities() peer.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.PeerCapabilities
}

// Calls returns a copy of the recorded Connect calls. Thread-safe.
func (p *Peer) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ConnectCall, len(p.ConnectCalls))
	copy(out, p.ConnectCalls)
	return out
}

var _ peer.Peer = (*Peer)(nil)

// SendAudioCall records a single invocation of Session.SendAudio.
type SendAudioCall struct {
	// Chunk is a copy of the audio bytes passed to SendAudio.
	Chunk []byte
}

// Session is a mock implementation of peer.SessionHandle. Tests push agent
// audio into AudioCh and transcripts into TranscriptsCh, then close them (or
// call Close) to signal end-of-session.
type Session struct {
	mu sync.Mutex

	// AudioCh is the channel returned by Audio(). Callers own this channel.
	AudioCh chan []byte

	// TranscriptsCh is the channel returned by Transcripts(). Callers own
	// this channel.
	TranscriptsCh chan peer.TranscriptEntry

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// UpdateInstructionsErr, if non-nil, is returned by UpdateInstructions.
	UpdateInstructionsErr error

	// InterruptErr, if non-nil, is returned by every Interrupt call.
	InterruptErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// ErrVal is returned by Err.
	ErrVal error

	// SendAudioCalls records every call to SendAudio in order.
	SendAudioCalls []SendAudioCall

	// InstructionUpdates records the argument of every UpdateInstructions call.
	InstructionUpdates []string

	// InterruptCallCount is the number of times Interrupt was called.
	InterruptCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	closed bool
}

// NewSession creates a Session with buffered channels.
func NewSession() *Session {
	return &Session{
		AudioCh:       make(chan []byte, 64),
		TranscriptsCh: make(chan peer.TranscriptEntry, 16),
	}
}

// SendAudio records the call and returns SendAudioErr.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.SendAudioCalls = append(s.SendAudioCalls, SendAudioCall{Chunk: cp})
	return s.SendAudioErr
}

// IsOpen reports whether Close has been called.
func (s *Session) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// Audio returns AudioCh.
func (s *Session) Audio() <-chan []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.AudioCh
}

// Transcripts returns TranscriptsCh.
func (s *Session) Transcripts() <-chan peer.TranscriptEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.TranscriptsCh
}

// Err returns ErrVal.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ErrVal
}

// UpdateInstructions records the call and returns UpdateInstructionsErr.
func (s *Session) UpdateInstructions(instructions string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.InstructionUpdates = append(s.InstructionUpdates, instructions)
	return s.UpdateInstructionsErr
}

// Interrupt records the call and returns InterruptErr.
func (s *Session) Interrupt() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.InterruptCallCount++
	return s.InterruptErr
}

// Fail simulates a mid-session transport failure: Err starts returning err
// and both channels close, exactly as the real receive loop behaves when the
// connection drops. Safe to combine with a later Close.
func (s *Session) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ErrVal = err
	s.closeChannels()
}

// closeChannels closes both channels once. Callers must hold mu.
func (s *Session) closeChannels() {
	if !s.closed {
		s.closed = true
		close(s.AudioCh)
		close(s.TranscriptsCh)
	}
}

// Close marks the session closed, closes both channels on the first call,
// and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	s.closeChannels()
	return s.CloseErr
}

// SentChunks returns a copy of all audio chunks sent so far. Thread-safe.
func (s *Session) SentChunks() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.SendAudioCalls))
	for i, call := range s.SendAudioCalls {
		out[i] = call.Chunk
	}
	return out
}

var _ peer.SessionHandle = (*Session)(nil)
