// Package demux holds the packet-level filter/repair/order/correction
// pipeline spec.md §4.1 describes, shared verbatim by RtpDemuxer and
// FileDemuxer (§4.2: "everything downstream of the parse is identical").
package demux

import (
	"log/slog"

	"github.com/skypro1111/opus-rtp-pipeline/internal/pipeline"
	"github.com/skypro1111/opus-rtp-pipeline/internal/toc"
)

const maxDropLogs = 10

// RawPacket is what a demuxer's transport-specific read loop hands the
// shared Processor before PTS correction and continuity are applied.
type RawPacket struct {
	Data     []byte
	PTS      int64
	DTS      int64
	Duration int64 // 0 means "unknown, repair from the Opus TOC byte"
}

// Processor implements spec.md §4.1 steps 3-8: drop filtering, TOC-based
// duration repair, order/consistency checks, negative-PTS correction on
// the first kept packet, and pts_offset continuity across resets. All
// state is single-threaded, owned by one demuxer worker.
type Processor struct {
	logger *slog.Logger

	havePrevPTS bool
	prevPTS     int64

	haveCorrection bool
	correction     int64

	ptsOffset      int64
	lastEmittedEnd int64

	dropLogs map[string]int
}

// New creates a Processor. logger is used for rate-limited drop logging.
func New(logger *slog.Logger) *Processor {
	return &Processor{logger: logger, dropLogs: make(map[string]int)}
}

// Reset re-opens the stream: pts_offset is recomputed from the last
// emitted packet's end so the new segment's timeline continues without a
// gap, and the negative-PTS correction and order-check state are cleared
// so the new segment can be corrected independently (spec §4.1 step 8).
func (p *Processor) Reset() {
	p.ptsOffset = p.lastEmittedEnd
	p.haveCorrection = false
	p.havePrevPTS = false
}

// Process runs one raw packet through the shared pipeline. ok is false
// when the packet was dropped; the returned Packet is then zero-valued.
func (p *Processor) Process(raw RawPacket) (pipeline.Packet, bool) {
	if len(raw.Data) == 0 {
		p.drop("empty_packet")
		return pipeline.Packet{}, false
	}

	duration := raw.Duration
	if duration == 0 {
		h, err := toc.Parse(raw.Data)
		if err != nil {
			p.drop("malformed_toc", slog.String("error", err.Error()))
			return pipeline.Packet{}, false
		}
		duration = h.Duration()
	}

	if p.havePrevPTS && raw.PTS < p.prevPTS {
		p.drop("out_of_order", slog.Int64("pts", raw.PTS), slog.Int64("prev_pts", p.prevPTS))
		return pipeline.Packet{}, false
	}

	if raw.PTS != raw.DTS {
		p.drop("pts_dts_mismatch", slog.Int64("pts", raw.PTS), slog.Int64("dts", raw.DTS))
		return pipeline.Packet{}, false
	}

	if !p.haveCorrection {
		if raw.PTS < 0 {
			p.correction = -raw.PTS
		} else {
			p.correction = 0
		}
		p.haveCorrection = true
	}

	p.prevPTS = raw.PTS
	p.havePrevPTS = true
	outPTS := raw.PTS + p.correction + p.ptsOffset

	p.lastEmittedEnd = outPTS + duration

	return pipeline.Packet{
		Data:     raw.Data,
		PTS:      outPTS,
		DTS:      outPTS,
		Duration: duration,
	}, true
}

func (p *Processor) drop(reason string, attrs ...slog.Attr) {
	n := p.dropLogs[reason]
	p.dropLogs[reason] = n + 1
	if n >= maxDropLogs {
		return
	}
	args := make([]any, 0, len(attrs)+1)
	args = append(args, slog.String("reason", reason))
	for _, a := range attrs {
		args = append(args, a)
	}
	p.logger.Warn("dropping packet", args...)
}
