// Package media implements the provider-facing leg of a call: a WebSocket
// stream of JSON envelopes carrying fixed-cadence PCM16 frames.
//
// The media provider (telephony gateway, SIP bridge, softphone) dials in,
// announces the call with a start envelope, and then pushes media envelopes
// at its native frame cadence. Agent audio flows back over the same socket as
// media envelopes written by the pacer. The leg is deliberately thin: it
// frames and unframes envelopes, and leaves rate conversion and pacing to the
// bridge.
package media

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/pontoonlabs/pontoon/pkg/audio"
)

// startTimeout bounds how long a freshly accepted socket may stay silent
// before the start envelope arrives.
const startTimeout = 5 * time.Second

// Leg is one accepted media stream. Safe for concurrent use: the session
// runs Run on one goroutine while the pacer calls PlayFrame from another.
type Leg struct {
	conn   *websocket.Conn
	callID string
	start  StartInfo

	seq    atomic.Uint64
	closed atomic.Bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// Accept upgrades an incoming request to a media stream and waits for the
// start envelope. The socket is closed with a policy violation status if the
// provider sends anything else first.
func Accept(w http.ResponseWriter, r *http.Request) (*Leg, error) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("media: accept: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	readCtx, readCancel := context.WithTimeout(ctx, startTimeout)
	defer readCancel()
	_, data, err := conn.Read(readCtx)
	if err != nil {
		cancel()
		conn.Close(websocket.StatusPolicyViolation, "no start envelope")
		return nil, fmt.Errorf("media: waiting for start envelope: %w", err)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type != TypeStart || env.CallID == "" || env.Start == nil {
		cancel()
		conn.Close(websocket.StatusPolicyViolation, "malformed start envelope")
		return nil, errors.New("media: first envelope must be start with call_id and stream parameters")
	}

	start := *env.Start
	if start.Channels == 0 {
		start.Channels = 1
	}
	if start.SampleRate <= 0 || start.Channels < 0 || start.FrameSamples < 0 {
		cancel()
		conn.Close(websocket.StatusPolicyViolation, "invalid stream parameters")
		return nil, fmt.Errorf("media: start announced invalid parameters: %d Hz, %d spf, %d ch",
			start.SampleRate, start.FrameSamples, start.Channels)
	}

	return &Leg{
		conn:   conn,
		callID: env.CallID,
		start:  start,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// CallID returns the call identifier announced in the start envelope.
func (l *Leg) CallID() string { return l.callID }

// Start returns the stream parameters announced in the start envelope.
func (l *Leg) Start() StartInfo { return l.start }

// Run consumes inbound envelopes until the provider sends stop, the socket
// drops, or ctx is cancelled. Media payloads are re-cut to the announced
// frame size before delivery: bytes accumulate until a full frame is
// available, and a trailing remainder waits for the next payload. A provider
// that announced no frame size has its payloads delivered as they arrive.
// Malformed envelopes are skipped. Returns nil on a clean stop and the read
// error otherwise.
func (l *Leg) Run(ctx context.Context, onMedia func(audio.Frame)) error {
	frameBytes := l.start.FrameSamples * 2 * l.start.Channels
	var acc []byte
	for {
		_, data, err := l.conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil || l.closed.Load() {
				return nil
			}
			var ce websocket.CloseError
			if errors.As(err, &ce) && ce.Code == websocket.StatusNormalClosure {
				return nil
			}
			return fmt.Errorf("media: read: %w", err)
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}

		switch env.Type {
		case TypeMedia:
			if env.Payload == "" {
				continue
			}
			pcm, err := base64.StdEncoding.DecodeString(env.Payload)
			if err != nil || len(pcm) == 0 {
				continue
			}
			if frameBytes == 0 {
				onMedia(audio.Frame{
					Data:       pcm,
					SampleRate: l.start.SampleRate,
					Channels:   l.start.Channels,
				})
				continue
			}
			acc = append(acc, pcm...)
			for len(acc) >= frameBytes {
				cut := make([]byte, frameBytes)
				copy(cut, acc[:frameBytes])
				acc = append(acc[:0], acc[frameBytes:]...)
				onMedia(audio.Frame{
					Data:       cut,
					SampleRate: l.start.SampleRate,
					Channels:   l.start.Channels,
				})
			}

		case TypeStop:
			return nil
		}
	}
}

// PlayFrame writes one agent frame back to the provider as a media envelope.
// It is the playback sink the pacer drains into.
func (l *Leg) PlayFrame(frame audio.Frame) error {
	if l.closed.Load() {
		return errors.New("media: leg closed")
	}
	return l.writeJSON(Envelope{
		Type:    TypeMedia,
		Payload: base64.StdEncoding.EncodeToString(frame.Data),
		Seq:     l.seq.Add(1),
	})
}

// SendStop announces end-of-call to the provider. The socket stays open for
// the provider to finish draining; Close tears it down.
func (l *Leg) SendStop(reason string) error {
	if l.closed.Load() {
		return nil
	}
	return l.writeJSON(Envelope{Type: TypeStop, CallID: l.callID, Reason: reason})
}

func (l *Leg) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("media: marshal: %w", err)
	}
	return l.conn.Write(l.ctx, websocket.MessageText, data)
}

// Reject refuses the stream after acceptance, closing the socket with a
// policy violation status. Used when the announced format cannot be bridged.
// Idempotent with Close; whichever runs first wins.
func (l *Leg) Reject(reason string) error {
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		l.cancel()
		l.conn.Close(websocket.StatusPolicyViolation, reason)
	})
	return nil
}

// Close tears the socket down. Idempotent; always returns nil.
func (l *Leg) Close() error {
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		l.cancel()
		l.conn.Close(websocket.StatusNormalClosure, "call ended")
	})
	return nil
}
