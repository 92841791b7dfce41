package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

// fakeConn records published messages and implements Conn.
type fakeConn struct {
	PublishErr error
	status     nats.Status

	published []publishedMsg
	flushed   int
	closed    int
}

type publishedMsg struct {
	Subject string
	Data    []byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{status: nats.CONNECTED}
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	if f.PublishErr != nil {
		return f.PublishErr
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.published = append(f.published, publishedMsg{Subject: subject, Data: cp})
	return nil
}

func (f *fakeConn) Flush() error { f.flushed++; return nil }

func (f *fakeConn) Status() nats.Status { return f.status }

func (f *fakeConn) Close() { f.closed++ }

var _ Conn = (*fakeConn)(nil)

// ── Publishing ───────────────────────────────────────────────────────────────

func TestCallStartedPublishesJSON(t *testing.T) {
	t.Parallel()

	fc := newFakeConn()
	pub := NewPublisher(fc)

	started := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	ev := CallStarted{
		CallID:    "call-1",
		From:      "+15550100",
		To:        "+15550199",
		StartedAt: started,
	}
	if err := pub.CallStarted(context.Background(), ev); err != nil {
		t.Fatalf("CallStarted: %v", err)
	}

	if len(fc.published) != 1 {
		t.Fatalf("published %d messages, want 1", len(fc.published))
	}
	msg := fc.published[0]
	if msg.Subject != SubjectCallStarted {
		t.Errorf("subject = %q, want %q", msg.Subject, SubjectCallStarted)
	}

	var got CallStarted
	if err := json.Unmarshal(msg.Data, &got); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if got != ev {
		t.Errorf("payload = %+v, want %+v", got, ev)
	}
}

func TestCallEndedPublishesJSON(t *testing.T) {
	t.Parallel()

	fc := newFakeConn()
	pub := NewPublisher(fc)

	started := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	ev := CallEnded{
		CallID:          "call-1",
		Reason:          "completed",
		StartedAt:       started,
		EndedAt:         started.Add(42 * time.Second),
		DurationSeconds: 42,
		ChunksSent:      120,
		FramesEmitted:   900,
	}
	if err := pub.CallEnded(context.Background(), ev); err != nil {
		t.Fatalf("CallEnded: %v", err)
	}

	if len(fc.published) != 1 {
		t.Fatalf("published %d messages, want 1", len(fc.published))
	}
	msg := fc.published[0]
	if msg.Subject != SubjectCallEnded {
		t.Errorf("subject = %q, want %q", msg.Subject, SubjectCallEnded)
	}

	var got CallEnded
	if err := json.Unmarshal(msg.Data, &got); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if got != ev {
		t.Errorf("payload = %+v, want %+v", got, ev)
	}
}

func TestPublishErrorPropagates(t *testing.T) {
	t.Parallel()

	fc := newFakeConn()
	fc.PublishErr = errors.New("broker gone")
	pub := NewPublisher(fc)

	err := pub.CallStarted(context.Background(), CallStarted{CallID: "call-1"})
	if err == nil {
		t.Fatal("expected publish error")
	}
	if !errors.Is(err, fc.PublishErr) {
		t.Errorf("error %v does not wrap the publish error", err)
	}
}

// ── Health ───────────────────────────────────────────────────────────────────

func TestHealthyReflectsConnectionStatus(t *testing.T) {
	t.Parallel()

	fc := newFakeConn()
	pub := NewPublisher(fc)

	if err := pub.Healthy(context.Background()); err != nil {
		t.Errorf("Healthy on connected conn: %v", err)
	}

	fc.status = nats.RECONNECTING
	if err := pub.Healthy(context.Background()); err == nil {
		t.Error("Healthy on reconnecting conn should fail")
	}
}

// ── Close ────────────────────────────────────────────────────────────────────

func TestCloseOnlyWhenOwned(t *testing.T) {
	t.Parallel()

	fc := newFakeConn()
	pub := NewPublisher(fc)
	pub.Close()

	if fc.closed != 0 {
		t.Error("Close closed a connection it does not own")
	}

	owned := &NATSPublisher{conn: fc, ownsConn: true}
	owned.Close()
	if fc.flushed != 1 {
		t.Errorf("flushed %d times, want 1", fc.flushed)
	}
	if fc.closed != 1 {
		t.Errorf("closed %d times, want 1", fc.closed)
	}
}

// ── Nop ──────────────────────────────────────────────────────────────────────

func TestNopDiscardsEvents(t *testing.T) {
	t.Parallel()

	var pub Publisher = Nop{}
	if err := pub.CallStarted(context.Background(), CallStarted{}); err != nil {
		t.Errorf("Nop.CallStarted: %v", err)
	}
	if err := pub.CallEnded(context.Background(), CallEnded{}); err != nil {
		t.Errorf("Nop.CallEnded: %v", err)
	}
}
