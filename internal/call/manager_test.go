package call_test

import (
	"context"
	"errors"
	"testing"

	"github.com/pontoonlabs/pontoon/internal/call"
	peermock "github.com/pontoonlabs/pontoon/pkg/peer/mock"
)

// ─── Admission ───────────────────────────────────────────────────────────────

func TestDuplicateCallRejected(t *testing.T) {
	t.Parallel()

	p := &peermock.Peer{}
	m, _, _ := testManager(t, p, defaultConfig())

	first := newFakeLeg("call-1")
	s, err := m.Answer(context.Background(), first)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}

	if _, err := m.Answer(context.Background(), newFakeLeg("call-1")); !errors.Is(err, call.ErrDuplicateCall) {
		t.Errorf("second answer error = %v, want ErrDuplicateCall", err)
	}
	if m.Len() != 1 {
		t.Errorf("active sessions = %d, want 1", m.Len())
	}

	s.Hangup(call.ReasonHangup)
	waitDone(t, s)
}

func TestConcurrentCallLimit(t *testing.T) {
	t.Parallel()

	p := &peermock.Peer{}
	cfg := defaultConfig()
	cfg.MaxConcurrent = 1
	m, _, _ := testManager(t, p, cfg)

	first := newFakeLeg("call-1")
	s, err := m.Answer(context.Background(), first)
	if err != nil {
		t.Fatalf("first answer: %v", err)
	}

	if _, err := m.Answer(context.Background(), newFakeLeg("call-2")); !errors.Is(err, call.ErrTooManyCalls) {
		t.Fatalf("second answer error = %v, want ErrTooManyCalls", err)
	}

	// Ending the first call frees the slot.
	close(first.frames)
	waitDone(t, s)

	s2, err := m.Answer(context.Background(), newFakeLeg("call-2"))
	if err != nil {
		t.Fatalf("answer after slot freed: %v", err)
	}
	s2.Hangup(call.ReasonHangup)
	waitDone(t, s2)
}

func TestSetMaxConcurrentRaisesLimit(t *testing.T) {
	t.Parallel()

	p := &peermock.Peer{}
	cfg := defaultConfig()
	cfg.MaxConcurrent = 1
	m, _, _ := testManager(t, p, cfg)

	s1, err := m.Answer(context.Background(), newFakeLeg("call-1"))
	if err != nil {
		t.Fatalf("first answer: %v", err)
	}

	m.SetMaxConcurrent(2)

	s2, err := m.Answer(context.Background(), newFakeLeg("call-2"))
	if err != nil {
		t.Fatalf("answer after limit raised: %v", err)
	}

	// Lowering below the active count gates new calls only.
	m.SetMaxConcurrent(1)
	if _, err := m.Answer(context.Background(), newFakeLeg("call-3")); !errors.Is(err, call.ErrTooManyCalls) {
		t.Errorf("answer over lowered limit error = %v, want ErrTooManyCalls", err)
	}
	if m.Len() != 2 {
		t.Errorf("lowering the limit ended calls: active = %d, want 2", m.Len())
	}

	s1.Hangup(call.ReasonHangup)
	s2.Hangup(call.ReasonHangup)
	waitDone(t, s1)
	waitDone(t, s2)
}

func TestConnectFailureReleasesSlot(t *testing.T) {
	t.Parallel()

	p := &peermock.Peer{ConnectErr: errors.New("dial: connection refused")}
	cfg := defaultConfig()
	cfg.MaxConcurrent = 1
	m, _, evs := testManager(t, p, cfg)

	if _, err := m.Answer(context.Background(), newFakeLeg("call-1")); err == nil {
		t.Fatal("expected answer to fail when the peer dial fails")
	}
	if m.Len() != 0 {
		t.Errorf("failed answer left %d sessions registered", m.Len())
	}
	if len(evs.Started()) != 0 {
		t.Errorf("failed answer published %d started events", len(evs.Started()))
	}

	// The reserved slot must be free again.
	p.ConnectErr = nil
	s, err := m.Answer(context.Background(), newFakeLeg("call-1"))
	if err != nil {
		t.Fatalf("answer after failed dial: %v", err)
	}
	s.Hangup(call.ReasonHangup)
	waitDone(t, s)
}

func TestMismatchedStreamFormatRejected(t *testing.T) {
	t.Parallel()

	p := &peermock.Peer{}
	m, _, _ := testManager(t, p, defaultConfig())

	// The bridge is configured for 8000 Hz native audio; a leg announcing
	// any other rate would be converted by the wrong factor.
	wrongRate := newFakeLeg("call-1")
	wrongRate.info.SampleRate = 16000
	if _, err := m.Answer(context.Background(), wrongRate); !errors.Is(err, call.ErrMediaFormat) {
		t.Errorf("wrong-rate answer error = %v, want ErrMediaFormat", err)
	}

	wrongFrame := newFakeLeg("call-2")
	wrongFrame.info.FrameSamples = 8
	if _, err := m.Answer(context.Background(), wrongFrame); !errors.Is(err, call.ErrMediaFormat) {
		t.Errorf("wrong-frame-size answer error = %v, want ErrMediaFormat", err)
	}

	if calls := p.Calls(); len(calls) != 0 {
		t.Errorf("peer dialed %d times for rejected legs, want 0", len(calls))
	}
	if m.Len() != 0 {
		t.Errorf("rejected legs left %d sessions registered", m.Len())
	}

	// An announced frame size matching the bridge config is accepted.
	ok := newFakeLeg("call-3")
	ok.info.FrameSamples = 4
	s, err := m.Answer(context.Background(), ok)
	if err != nil {
		t.Fatalf("matching format rejected: %v", err)
	}
	s.Hangup(call.ReasonHangup)
	waitDone(t, s)
}

func TestGeneratedCallID(t *testing.T) {
	t.Parallel()

	p := &peermock.Peer{}
	m, _, _ := testManager(t, p, defaultConfig())

	s, err := m.Answer(context.Background(), newFakeLeg(""))
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if s.CallID() == "" {
		t.Error("session has no call ID; expected a generated one")
	}
	s.Hangup(call.ReasonHangup)
	waitDone(t, s)
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

func TestAnswerAfterClose(t *testing.T) {
	t.Parallel()

	p := &peermock.Peer{}
	m, _, _ := testManager(t, p, defaultConfig())
	m.Close()

	if _, err := m.Answer(context.Background(), newFakeLeg("call-1")); !errors.Is(err, call.ErrManagerClosed) {
		t.Errorf("answer after close error = %v, want ErrManagerClosed", err)
	}
}

func TestCloseHangsUpActiveCalls(t *testing.T) {
	t.Parallel()

	p := &peermock.Peer{}
	m, rec, evs := testManager(t, p, defaultConfig())

	legA := newFakeLeg("call-a")
	legB := newFakeLeg("call-b")
	sa, err := m.Answer(context.Background(), legA)
	if err != nil {
		t.Fatalf("answer a: %v", err)
	}
	sb, err := m.Answer(context.Background(), legB)
	if err != nil {
		t.Fatalf("answer b: %v", err)
	}

	// Close blocks until both teardowns finish.
	m.Close()

	for _, s := range []*call.Session{sa, sb} {
		select {
		case <-s.Done():
		default:
			t.Fatalf("call %s still running after Close", s.CallID())
		}
		if got := s.Reason(); got != call.ReasonShutdown {
			t.Errorf("call %s reason = %q, want %q", s.CallID(), got, call.ReasonShutdown)
		}
	}
	if m.Len() != 0 {
		t.Errorf("active sessions after Close = %d, want 0", m.Len())
	}

	if stops := legA.Stops(); len(stops) != 1 || stops[0] != call.ReasonShutdown {
		t.Errorf("leg a stop envelopes = %v, want [shutdown]", stops)
	}
	if len(rec.Records()) != 2 {
		t.Errorf("saved %d records, want 2", len(rec.Records()))
	}
	if len(evs.Ended()) != 2 {
		t.Errorf("published %d ended events, want 2", len(evs.Ended()))
	}
}
