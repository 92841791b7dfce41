package cdr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pontoonlabs/pontoon/pkg/peer"
)

// Compile-time interface check.
var _ Recorder = (*Store)(nil)

const ddlCallRecords = `
CREATE TABLE IF NOT EXISTS call_records (
    call_id             TEXT         PRIMARY KEY,
    from_number         TEXT         NOT NULL DEFAULT '',
    to_number           TEXT         NOT NULL DEFAULT '',
    started_at          TIMESTAMPTZ  NOT NULL,
    ended_at            TIMESTAMPTZ  NOT NULL,
    end_reason          TEXT         NOT NULL DEFAULT '',
    frames_captured     BIGINT       NOT NULL DEFAULT 0,
    chunks_sent         BIGINT       NOT NULL DEFAULT 0,
    chunks_dropped      BIGINT       NOT NULL DEFAULT 0,
    payloads_ingested   BIGINT       NOT NULL DEFAULT 0,
    payloads_discarded  BIGINT       NOT NULL DEFAULT 0,
    frames_emitted      BIGINT       NOT NULL DEFAULT 0,
    samples_dropped     BIGINT       NOT NULL DEFAULT 0,
    transcript          JSONB        NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_call_records_started_at
    ON call_records (started_at);

CREATE INDEX IF NOT EXISTS idx_call_records_from
    ON call_records (from_number);
`

// Store is the PostgreSQL-backed call record store. It holds a single
// [pgxpool.Pool]; all operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore establishes a connection pool to the database at dsn and runs
// [Migrate] to ensure the call_records table exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("cdr store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("cdr store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("cdr store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("cdr store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Migrate creates or ensures the call_records table and its indexes exist.
// It is idempotent and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlCallRecords); err != nil {
		return fmt.Errorf("cdr migrate: %w", err)
	}
	return nil
}

// SaveCall implements [Recorder]. A repeated save for the same call ID
// overwrites the stored record, so a retried teardown never fails on the
// primary key.
func (s *Store) SaveCall(ctx context.Context, rec Record) error {
	transcript, err := json.Marshal(rec.Transcript)
	if err != nil {
		return fmt.Errorf("cdr store: marshal transcript: %w", err)
	}

	const q = `
		INSERT INTO call_records
		    (call_id, from_number, to_number, started_at, ended_at, end_reason,
		     frames_captured, chunks_sent, chunks_dropped,
		     payloads_ingested, payloads_discarded, frames_emitted, samples_dropped,
		     transcript)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (call_id) DO UPDATE SET
		    ended_at           = EXCLUDED.ended_at,
		    end_reason         = EXCLUDED.end_reason,
		    frames_captured    = EXCLUDED.frames_captured,
		    chunks_sent        = EXCLUDED.chunks_sent,
		    chunks_dropped     = EXCLUDED.chunks_dropped,
		    payloads_ingested  = EXCLUDED.payloads_ingested,
		    payloads_discarded = EXCLUDED.payloads_discarded,
		    frames_emitted     = EXCLUDED.frames_emitted,
		    samples_dropped    = EXCLUDED.samples_dropped,
		    transcript         = EXCLUDED.transcript`

	_, err = s.pool.Exec(ctx, q,
		rec.CallID,
		rec.From,
		rec.To,
		rec.StartedAt,
		rec.EndedAt,
		rec.Reason,
		int64(rec.FramesCaptured),
		int64(rec.ChunksSent),
		int64(rec.ChunksDropped),
		int64(rec.PayloadsIngested),
		int64(rec.PayloadsDiscarded),
		int64(rec.FramesEmitted),
		int64(rec.SamplesDropped),
		string(transcript),
	)
	if err != nil {
		return fmt.Errorf("cdr store: save call: %w", err)
	}
	return nil
}

// GetCall returns the record stored for callID, or [ErrNotFound].
func (s *Store) GetCall(ctx context.Context, callID string) (Record, error) {
	const q = `
		SELECT call_id, from_number, to_number, started_at, ended_at, end_reason,
		       frames_captured, chunks_sent, chunks_dropped,
		       payloads_ingested, payloads_discarded, frames_emitted, samples_dropped,
		       transcript
		FROM   call_records
		WHERE  call_id = $1`

	rows, err := s.pool.Query(ctx, q, callID)
	if err != nil {
		return Record{}, fmt.Errorf("cdr store: get call: %w", err)
	}
	rec, err := pgx.CollectOneRow(rows, scanRecord)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("cdr store: get call: %w", err)
	}
	return rec, nil
}

// ListRecent returns up to limit records ordered by start time, newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]Record, error) {
	const q = `
		SELECT call_id, from_number, to_number, started_at, ended_at, end_reason,
		       frames_captured, chunks_sent, chunks_dropped,
		       payloads_ingested, payloads_discarded, frames_emitted, samples_dropped,
		       transcript
		FROM   call_records
		ORDER  BY started_at DESC
		LIMIT  $1`

	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("cdr store: list recent: %w", err)
	}
	recs, err := pgx.CollectRows(rows, scanRecord)
	if err != nil {
		return nil, fmt.Errorf("cdr store: scan rows: %w", err)
	}
	if recs == nil {
		recs = []Record{}
	}
	return recs, nil
}

// scanRecord scans one call_records row into a Record.
func scanRecord(row pgx.CollectableRow) (Record, error) {
	var (
		rec        Record
		counters   [7]int64
		transcript []byte
	)
	if err := row.Scan(
		&rec.CallID,
		&rec.From,
		&rec.To,
		&rec.StartedAt,
		&rec.EndedAt,
		&rec.Reason,
		&counters[0],
		&counters[1],
		&counters[2],
		&counters[3],
		&counters[4],
		&counters[5],
		&counters[6],
		&transcript,
	); err != nil {
		return Record{}, err
	}
	rec.FramesCaptured = uint64(counters[0])
	rec.ChunksSent = uint64(counters[1])
	rec.ChunksDropped = uint64(counters[2])
	rec.PayloadsIngested = uint64(counters[3])
	rec.PayloadsDiscarded = uint64(counters[4])
	rec.FramesEmitted = uint64(counters[5])
	rec.SamplesDropped = uint64(counters[6])

	if len(transcript) > 0 {
		var entries []peer.TranscriptEntry
		if err := json.Unmarshal(transcript, &entries); err != nil {
			return Record{}, fmt.Errorf("unmarshal transcript: %w", err)
		}
		rec.Transcript = entries
	}
	return rec, nil
}

// Healthy reports whether the database is reachable. Wired as a readiness
// checker.
func (s *Store) Healthy(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}
