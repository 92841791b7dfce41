// Package cdr persists call detail records.
//
// One [Record] is written per call at teardown: caller identity, timing, the
// end reason, the bridge's audio counters, and the full conversation
// transcript. Records land in a PostgreSQL call_records table via [Store];
// deployments without a database use [Nop].
package cdr

import (
	"context"
	"errors"
	"time"

	"github.com/pontoonlabs/pontoon/pkg/peer"
)

// ErrNotFound is returned by lookups for call IDs with no stored record.
var ErrNotFound = errors.New("cdr: call not found")

// Record is one call detail record.
type Record struct {
	CallID    string
	From      string
	To        string
	StartedAt time.Time
	EndedAt   time.Time
	Reason    string

	// Bridge counters, snapshotted at teardown.
	FramesCaptured    uint64
	ChunksSent        uint64
	ChunksDropped     uint64
	PayloadsIngested  uint64
	PayloadsDiscarded uint64
	FramesEmitted     uint64
	SamplesDropped    uint64

	// Transcript holds the conversation in utterance order.
	Transcript []peer.TranscriptEntry
}

// Duration returns the call length.
func (r Record) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

// Recorder is the call record sink. Implementations must be safe for
// concurrent use.
type Recorder interface {
	SaveCall(ctx context.Context, rec Record) error
}

// Nop is a Recorder that discards records.
type Nop struct{}

func (Nop) SaveCall(context.Context, Record) error { return nil }
