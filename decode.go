package opusbridge

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/skypro1111/opus-rtp-pipeline/internal/bridge"
	"github.com/skypro1111/opus-rtp-pipeline/internal/decoder"
	"github.com/skypro1111/opus-rtp-pipeline/internal/metrics"
	"github.com/skypro1111/opus-rtp-pipeline/internal/pipeline"
	"github.com/skypro1111/opus-rtp-pipeline/internal/queue"
	"github.com/skypro1111/opus-rtp-pipeline/internal/rtpdemux"
)

// DecodeOptions configures start_rtp_decode (spec.md §6).
type DecodeOptions struct {
	SDP          string
	TickInterval time.Duration
	SampleRate   int // OpusDecoder's target decode rate: one of 8k/12k/16k/24k/48k
	Channels     int // 1 or 2

	ReceiveQueueCapacity int // RtpDemuxer output / OpusDecoder input (spec §4.6)
	BridgeCapacity       int // decoder -> host callback bridge (spec §4.6)

	// OnAudio is invoked on the host thread, once per decoded or
	// PLC/FEC-recovered frame, by the bridge's drain loop.
	OnAudio func(AudioOutput)
}

// DecodeHandle is the result of start_rtp_decode: the RtpDemuxer and
// OpusDecoder workers, wired together, draining to the host's OnAudio
// callback until Eof or the abort channel closes.
type DecodeHandle struct {
	demuxer     *rtpdemux.Demuxer
	decoder     *decoder.Decoder
	demuxHandle waiter
	decHandle   waiter
	drainDone   chan struct{}
}

type waiter interface{ Wait() error }

// StartRTPDecode spawns the RtpDemuxer and OpusDecoder workers described by
// opts and begins draining decoded audio to opts.OnAudio on the calling
// goroutine's behalf (the drain loop runs on its own goroutine, but
// OnAudio is only ever called from that single goroutine, matching the
// bridge's "main-thread-consumer" contract, spec.md §4.6).
func StartRTPDecode(opts DecodeOptions, abort <-chan struct{}, logger *slog.Logger, m *metrics.Metrics) (*DecodeHandle, error) {
	if opts.OnAudio == nil {
		return nil, fmt.Errorf("opusbridge: StartRTPDecode requires OnAudio")
	}

	recvQ := queue.New(opts.ReceiveQueueCapacity)
	br := bridge.New(opts.BridgeCapacity, logger)

	dmx, demuxHandle := rtpdemux.Start(opts.SDP, opts.TickInterval, recvQ, logger, m)
	dec, decHandle := decoder.Start(recvQ, br, decoder.Params{
		SampleRate: opts.SampleRate,
		Channels:   opts.Channels,
	}, logger, m)

	h := &DecodeHandle{
		demuxer:     dmx,
		decoder:     dec,
		demuxHandle: demuxHandle,
		decHandle:   decHandle,
		drainDone:   make(chan struct{}),
	}

	go func() {
		<-abort
		_ = dmx.Stop()
	}()

	go func() {
		defer close(h.drainDone)
		for range br.Wake() {
			if br.Drain(func(out pipeline.AudioOutput) { opts.OnAudio(out) }) {
				return
			}
		}
	}()

	return h, nil
}

// Wait blocks until both the demuxer and decoder have exited, returning the
// first non-nil terminal error observed (spec.md §7: a fatal demuxer error
// closes its output queue, which the decoder then observes as Eof).
func (h *DecodeHandle) Wait() error {
	demuxErr := h.demuxHandle.Wait()
	decErr := h.decHandle.Wait()
	<-h.drainDone
	if demuxErr != nil {
		return demuxErr
	}
	return decErr
}

// PacketsReceived, PacketsDropped, FramesDecoded, FramesPLC, FramesFEC, and
// DecodeErrors expose running counters for a host's diagnostics surface.
func (h *DecodeHandle) PacketsReceived() uint64 { return h.demuxer.PacketsReceived() }
func (h *DecodeHandle) PacketsDropped() uint64  { return h.demuxer.PacketsDropped() }
func (h *DecodeHandle) FramesDecoded() uint64   { return h.decoder.FramesDecoded() }
func (h *DecodeHandle) FramesPLC() uint64       { return h.decoder.FramesPLC() }
func (h *DecodeHandle) FramesFEC() uint64       { return h.decoder.FramesFEC() }
func (h *DecodeHandle) DecodeErrors() uint64    { return h.decoder.DecodeErrors() }

// StartTimes returns the wall-clock start messages the decoder remembered
// for diagnostics (SPEC_FULL.md §12).
func (h *DecodeHandle) StartTimes() (realtime, local time.Time, haveRealtime, haveLocal bool) {
	return h.decoder.StartTimes()
}
