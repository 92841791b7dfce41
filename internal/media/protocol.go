package media

// The media stream protocol is JSON envelopes over a WebSocket. The provider
// opens the socket, sends one start envelope, then media envelopes at its
// native frame cadence; either side ends the stream with a stop envelope.
// Audio travels as base64-encoded PCM16 in the payload field, mirroring how
// the AI peer protocol carries it.

// Envelope is one message on the media stream, in either direction.
type Envelope struct {
	// Type is "start", "media" or "stop".
	Type string `json:"type"`

	// CallID identifies the call. Required on start envelopes.
	CallID string `json:"call_id,omitempty"`

	// Start carries stream parameters. Present only on start envelopes.
	Start *StartInfo `json:"start,omitempty"`

	// Payload is base64-encoded PCM16 audio. Present only on media envelopes.
	Payload string `json:"payload,omitempty"`

	// Seq increments per media envelope in each direction, for provider-side
	// loss accounting. Informational; gaps are not an error.
	Seq uint64 `json:"seq,omitempty"`

	// Reason is an optional human-readable cause on stop envelopes.
	Reason string `json:"reason,omitempty"`
}

// Envelope types.
const (
	TypeStart = "start"
	TypeMedia = "media"
	TypeStop  = "stop"
)

// StartInfo carries the stream parameters announced by the media provider.
type StartInfo struct {
	// From is the caller address in provider terms (E.164 number, SIP URI).
	From string `json:"from,omitempty"`

	// To is the called address.
	To string `json:"to,omitempty"`

	// SampleRate is the PCM16 rate of the stream in Hz.
	SampleRate int `json:"sample_rate"`

	// FrameSamples is the per-channel sample count of one frame at the
	// provider's cadence. Optional; when announced it must match the
	// gateway's configured frame size or the call is refused.
	FrameSamples int `json:"frame_samples,omitempty"`

	// Channels is the interleaved channel count, usually 1.
	Channels int `json:"channels"`
}
