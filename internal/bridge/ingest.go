package bridge

import (
	"log/slog"

	"github.com/pontoonlabs/pontoon/pkg/audio"
)

// Ingest converts peer audio payloads into buffered native-rate samples.
// Each payload is decoded as PCM16, interpolated up to the native rate, and
// appended to the playback buffer; the pacer is then kicked so draining
// starts (or keeps going) at wall-clock cadence.
type Ingest struct {
	ratio int
	buf   *PlaybackBuffer
	pacer *Pacer
	stats *Stats
}

// NewIngest creates the ingest path. ratio is the native/peer integer rate
// multiplier (1 passes samples through). A nil stats counts nowhere.
func NewIngest(ratio int, buf *PlaybackBuffer, pacer *Pacer, stats *Stats) *Ingest {
	if stats == nil {
		stats = &Stats{}
	}
	return &Ingest{
		ratio: ratio,
		buf:   buf,
		pacer: pacer,
		stats: stats,
	}
}

// OnPayload ingests one peer audio payload. An odd trailing byte is ignored;
// payloads smaller than one sample are discarded whole. The pacer start
// happens strictly after the buffer append so a paced drain can never miss
// freshly arrived audio. Runs on the peer read loop; a panic in conversion
// is contained here so one bad payload cannot take the whole session down.
func (in *Ingest) OnPayload(payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("ingest: payload conversion panicked, payload dropped", "panic", r)
		}
	}()

	if len(payload) < 2 {
		in.stats.payloadsDiscarded.Add(1)
		return
	}

	samples := audio.BytesToSamples(payload)
	samples = audio.Interpolate(samples, in.ratio)
	if len(samples) == 0 {
		// A single-sample payload interpolates to nothing; the sample is
		// only a segment endpoint and the pacer has no reason to wake.
		in.stats.payloadsDiscarded.Add(1)
		return
	}

	in.buf.Append(samples)
	in.stats.payloadsIngested.Add(1)
	in.pacer.Start()
}
