// Package peer defines the Peer interface for streaming voice AI backends.
//
// A peer wraps a real-time conversational AI service that accepts raw audio
// input and returns synthesised audio output over a single, stateful session.
// The central abstraction is SessionHandle: a bidirectional, multiplexed
// channel carrying audio and transcripts concurrently. Sessions are long
// lived (seconds to minutes) and support mid-session reconfiguration.
//
// Peers run at their own sample rates, usually lower than the telephony leg;
// the bridge owns the conversion between the two. All implementations must be
// safe for concurrent use.
package peer

import (
	"context"
	"time"
)

// Speaker identifies which side of the conversation a transcript belongs to.
type Speaker string

const (
	// SpeakerCaller marks speech recognised from the human caller.
	SpeakerCaller Speaker = "caller"

	// SpeakerAgent marks speech synthesised by the AI agent.
	SpeakerAgent Speaker = "agent"
)

// TranscriptEntry is one utterance recognised or generated during a session.
type TranscriptEntry struct {
	// Speaker is who said it.
	Speaker Speaker

	// Text is the utterance text.
	Text string

	// Timestamp is when the entry was assembled.
	Timestamp time.Time
}

// SessionConfig is the initial configuration for a new peer session.
type SessionConfig struct {
	// Voice selects the synthesised voice, in provider-specific terms.
	Voice string

	// Instructions is the system-level prompt defining the agent's behaviour
	// for this call.
	Instructions string
}

// Capabilities describes static properties of a peer. The values are assumed
// constant for the lifetime of the Peer instance.
type Capabilities struct {
	// InputSampleRate is the PCM16 rate the peer expects on SendAudio.
	InputSampleRate int

	// OutputSampleRate is the PCM16 rate the peer emits on Audio.
	OutputSampleRate int

	// MaxSessionDuration is the hard upper bound on session lifetime imposed
	// by the provider. Zero means no documented limit.
	MaxSessionDuration time.Duration

	// Voices lists the voice identifiers available for this peer.
	Voices []string
}

// SessionHandle represents an open peer session. It is an interface so that
// test code can supply mock implementations without a live connection.
//
// The session is the hot path of a call — every method must return quickly.
// Audio output is channel-based so the receive loop never blocks the caller's
// media thread. All methods must be safe for concurrent use.
//
// Callers must call Close when the session is no longer needed.
type SessionHandle interface {
	// SendAudio delivers one chunk of peer-rate PCM16 audio for processing.
	// Returns an error if the session is closed or the transport rejects the
	// chunk.
	SendAudio(chunk []byte) error

	// IsOpen reports whether the session can currently accept audio. A
	// closed or failed session returns false; callers drop audio silently
	// rather than erroring on every chunk.
	IsOpen() bool

	// Audio returns a read-only channel emitting raw PCM16 byte slices as
	// the agent speaks. The channel is closed when the session ends or a
	// mid-stream error occurs. After it closes, call [SessionHandle.Err] to
	// check whether the session ended cleanly. Consumers must drain this
	// channel promptly to keep the receive loop moving.
	Audio() <-chan []byte

	// Transcripts returns a read-only channel emitting TranscriptEntry
	// values for both caller speech (as recognised by the model) and agent
	// responses. The channel is closed when the session ends.
	Transcripts() <-chan TranscriptEntry

	// Err returns the error that caused the Audio channel to close
	// prematurely, or nil if the session ended cleanly.
	Err() error

	// UpdateInstructions replaces the system-level instructions mid-call.
	// Effective for the next agent turn.
	UpdateInstructions(instructions string) error

	// Interrupt tells the peer to stop generating the current response and
	// discard buffered audio. Used for caller barge-in.
	Interrupt() error

	// Close terminates the session, releases all resources, and closes the
	// Audio and Transcripts channels. Calling Close more than once is safe
	// and returns nil.
	Close() error
}

// Peer is the abstraction over any streaming voice AI backend.
//
// Implementations must be safe for concurrent use; the call manager opens one
// session per active call.
type Peer interface {
	// Connect establishes a new session with the given configuration. The
	// returned SessionHandle is ready to accept audio immediately. The
	// caller owns the handle and is responsible for calling Close.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)

	// Capabilities returns static metadata about the peer, including the
	// sample rates the bridge must convert between.
	Capabilities() Capabilities
}
