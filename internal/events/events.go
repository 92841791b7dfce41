// Package events publishes call lifecycle events to NATS.
//
// The gateway emits one event when a call is answered and one when it ends,
// on the subjects [SubjectCallStarted] and [SubjectCallEnded]. Payloads are
// JSON. Downstream consumers (billing, analytics, live dashboards) subscribe
// with plain NATS subscriptions; no JetStream features are required.
//
// A [Nop] publisher is provided for deployments without a broker.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// Subjects for call lifecycle events.
const (
	SubjectCallStarted = "pontoon.call.started"
	SubjectCallEnded   = "pontoon.call.ended"
)

// CallStarted is published when a call is answered and bridged to the peer.
type CallStarted struct {
	CallID    string    `json:"call_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	StartedAt time.Time `json:"started_at"`
}

// CallEnded is published once per call after teardown completes.
type CallEnded struct {
	CallID          string    `json:"call_id"`
	Reason          string    `json:"reason"`
	StartedAt       time.Time `json:"started_at"`
	EndedAt         time.Time `json:"ended_at"`
	DurationSeconds float64   `json:"duration_seconds"`
	ChunksSent      uint64    `json:"chunks_sent"`
	FramesEmitted   uint64    `json:"frames_emitted"`
}

// Publisher is the call lifecycle event sink. Implementations must be safe
// for concurrent use.
type Publisher interface {
	CallStarted(ctx context.Context, ev CallStarted) error
	CallEnded(ctx context.Context, ev CallEnded) error
}

// Nop is a Publisher that discards all events.
type Nop struct{}

func (Nop) CallStarted(context.Context, CallStarted) error { return nil }

func (Nop) CallEnded(context.Context, CallEnded) error { return nil }

// Conn is the subset of [nats.Conn] used by [NATSPublisher]. *nats.Conn
// satisfies it directly; tests substitute a recording fake.
type Conn interface {
	Publish(subject string, data []byte) error
	Flush() error
	Status() nats.Status
	Close()
}

// NATSPublisher publishes call lifecycle events to a NATS broker.
type NATSPublisher struct {
	conn     Conn
	ownsConn bool
}

var _ Publisher = (*NATSPublisher)(nil)

// Connect dials the NATS broker at url and returns a publisher that owns the
// connection. The connection retries initial establishment and reconnects
// indefinitely, so a broker restart does not take the gateway down with it.
func Connect(url string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("pontoon"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("events: connect to %s: %w", url, err)
	}
	return &NATSPublisher{conn: nc, ownsConn: true}, nil
}

// NewPublisher wraps an existing connection. The caller keeps ownership;
// Close does not close it.
func NewPublisher(conn Conn) *NATSPublisher {
	return &NATSPublisher{conn: conn}
}

// CallStarted publishes ev on [SubjectCallStarted].
func (p *NATSPublisher) CallStarted(_ context.Context, ev CallStarted) error {
	return p.publish(SubjectCallStarted, ev)
}

// CallEnded publishes ev on [SubjectCallEnded].
func (p *NATSPublisher) CallEnded(_ context.Context, ev CallEnded) error {
	return p.publish(SubjectCallEnded, ev)
}

func (p *NATSPublisher) publish(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", subject, err)
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("events: publish %s: %w", subject, err)
	}
	return nil
}

// Healthy reports whether the broker connection is established. Wired as a
// readiness checker.
func (p *NATSPublisher) Healthy(_ context.Context) error {
	if s := p.conn.Status(); s != nats.CONNECTED {
		return errors.New("nats connection " + s.String())
	}
	return nil
}

// Close flushes buffered events and closes the connection when this
// publisher owns it.
func (p *NATSPublisher) Close() {
	if !p.ownsConn {
		return
	}
	// Flush before Close so events published just before shutdown reach the
	// broker.
	_ = p.conn.Flush()
	p.conn.Close()
}
