// Package filedemux implements the FileDemuxer worker (spec.md §4.2): a
// push-buffer io.Reader adapter feeds pion/webrtc's Ogg/Opus page parser
// from an input queue of host-pushed byte buffers, and every parsed page
// runs through the same filter/repair/order/correction pipeline RtpDemuxer
// uses (internal/demux).
package filedemux

import (
	"errors"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/pion/webrtc/v4/pkg/media/oggreader"

	"github.com/skypro1111/opus-rtp-pipeline/internal/demux"
	"github.com/skypro1111/opus-rtp-pipeline/internal/metrics"
	"github.com/skypro1111/opus-rtp-pipeline/internal/pipeline"
	"github.com/skypro1111/opus-rtp-pipeline/internal/queue"
	"github.com/skypro1111/opus-rtp-pipeline/internal/worker"
)

// errStreamReset unwinds ParseNextPage/NewWith when the host has pushed a
// reset marker, telling the run loop to re-open a fresh Ogg stream. An
// end-of-file unwinds with io.EOF instead, which stops the run loop.
var errStreamReset = errors.New("filedemux: stream reset requested")

// Demuxer is the FileDemuxer worker.
type Demuxer struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	in      *queue.Queue
	out     *queue.Queue
	handle  *worker.Handle

	proc *demux.Processor

	shouldReset bool
	gotEOF      bool

	packetsOut atomic.Uint64
	packetsDropped atomic.Uint64
}

// Start spawns the file demuxer's run loop. in carries host-pushed
// KindOggBytes/KindOggReset/KindEof messages; out carries the resulting
// Packet/CodecParams stream, sent with blocking backpressure (spec §4.2).
func Start(in, out *queue.Queue, logger *slog.Logger, m *metrics.Metrics) (*Demuxer, *worker.Handle) {
	d := &Demuxer{
		logger:  logger,
		metrics: m,
		in:      in,
		out:     out,
		proc:    demux.New(logger),
		handle:  worker.NewHandle(),
	}
	go d.run()
	return d, d.handle
}

func (d *Demuxer) PacketsOut() uint64     { return d.packetsOut.Load() }
func (d *Demuxer) PacketsDropped() uint64 { return d.packetsDropped.Load() }

func (d *Demuxer) run() {
	var exitErr error

	_ = d.out.Send(pipeline.Message{Kind: pipeline.KindCodecParams, CodecParams: &pipeline.CodecParameters{SampleRate: 48000, Channels: 2, IsOpus: true}}, true)

outer:
	for {
		if d.gotEOF {
			break outer
		}

		reader := &pushReader{d: d}

		ogg, _, err := oggreader.NewWith(reader)
		if err != nil {
			if errors.Is(err, errStreamReset) {
				d.proc.Reset()
				continue outer
			}
			if errors.Is(err, io.EOF) {
				break outer
			}
			exitErr = err
			break outer
		}

		// Re-initialization is complete: a fresh Ogg stream is open, so
		// new reset markers should start unwinding it again rather than
		// being swallowed as nested resets (spec §4.2: reset markers
		// arriving while should_reset is already true are ignored).
		d.shouldReset = false

		for {
			payload, header, err := ogg.ParseNextPage()
			if err != nil {
				if errors.Is(err, errStreamReset) {
					d.proc.Reset()
					continue outer
				}
				if errors.Is(err, io.EOF) {
					break outer
				}
				d.logger.Warn("ogg page parse failed, waiting for reset", slog.String("error", err.Error()))
				continue outer
			}

			raw := demux.RawPacket{
				Data: payload,
				PTS:  int64(header.GranulePosition),
				DTS:  int64(header.GranulePosition),
			}
			out, ok := d.proc.Process(raw)
			if !ok {
				d.packetsDropped.Add(1)
				continue
			}

			if err := d.out.Send(pipeline.Message{Kind: pipeline.KindPacket, Packet: &out}, true); err != nil {
				break outer
			}
			d.packetsOut.Add(1)
		}
	}

	d.out.CloseRecv()
	d.handle.Finish(exitErr)
}

// pushReader adapts the host's push_bytes/reset/end_of_file input queue
// into the io.Reader contract pion's oggreader expects. Per the adopted
// redesign flag, an oversized queued buffer is split across multiple
// Read calls instead of failing with InvalidData.
type pushReader struct {
	d       *Demuxer
	pending []byte
}

func (r *pushReader) Read(p []byte) (int, error) {
	for {
		if len(r.pending) > 0 {
			n := copy(p, r.pending)
			r.pending = r.pending[n:]
			return n, nil
		}

		msg, err := r.d.in.Recv(true)
		if err != nil {
			r.d.gotEOF = true
			return 0, io.EOF
		}

		switch msg.Kind {
		case pipeline.KindOggBytes:
			r.pending = msg.OggBytes
		case pipeline.KindOggReset:
			if r.d.shouldReset {
				continue // nested reset while already reinitializing: ignore
			}
			r.d.shouldReset = true
			return 0, errStreamReset
		case pipeline.KindEof:
			r.d.gotEOF = true
			return 0, io.EOF
		default:
			continue
		}
	}
}
