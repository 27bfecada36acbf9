// Package decoder implements the OpusDecoder worker (spec.md §4.3): it
// turns a stream of Opus Packet messages into PCM AudioOutput, covering
// packet loss with concealment and forward error correction before
// handing samples to the host callback bridge.
package decoder

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/skypro1111/opus-rtp-pipeline/internal/bridge"
	"github.com/skypro1111/opus-rtp-pipeline/internal/metrics"
	"github.com/skypro1111/opus-rtp-pipeline/internal/opus"
	"github.com/skypro1111/opus-rtp-pipeline/internal/pipeline"
	"github.com/skypro1111/opus-rtp-pipeline/internal/queue"
	"github.com/skypro1111/opus-rtp-pipeline/internal/worker"
)

// Params configures the decoder's PCM output at start time (spec.md §6
// start_rtp_decode({sampleRate, channels})). This is host configuration,
// not something negotiated from the RTP wire: RTP's 48 kHz clock rate is
// unrelated to the rate a host wants decoded PCM delivered at.
type Params struct {
	SampleRate int // one of 8000, 12000, 16000, 24000, 48000
	Channels   int // 1 or 2
}

// Decoder is the OpusDecoder worker.
type Decoder struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	in      *queue.Queue
	bridge  *bridge.Bridge
	handle  *worker.Handle

	configuredRate     int
	configuredChannels int

	dec        *opus.Decoder
	sampleRate int
	channels   int
	ptsScale   int64

	haveExpected  bool
	expectedPTS   int64
	lastFrameSize int64 // decoder-rate samples

	haveStartRealtime bool
	startRealtime     time.Time
	haveStartLocal    bool
	startLocal        time.Time

	framesDecoded atomic.Uint64
	framesPLC     atomic.Uint64
	framesFEC     atomic.Uint64
	decodeErrors  atomic.Uint64
}

// Start spawns the decoder's run loop. p fixes the decoder's PCM output
// rate/channels for the lifetime of the worker; it is re-applied every
// time a CodecParams message (re)opens the underlying codec, regardless
// of whatever the sender happened to put in that message's own fields.
func Start(in *queue.Queue, b *bridge.Bridge, p Params, logger *slog.Logger, m *metrics.Metrics) (*Decoder, *worker.Handle) {
	d := &Decoder{
		logger:             logger,
		metrics:            m,
		in:                 in,
		bridge:             b,
		configuredRate:     p.SampleRate,
		configuredChannels: p.Channels,
		handle:             worker.NewHandle(),
	}
	go d.run()
	return d, d.handle
}

// FramesDecoded, FramesPLC, FramesFEC, DecodeErrors expose running counts
// for the pipeline diagnostics route.
func (d *Decoder) FramesDecoded() uint64 { return d.framesDecoded.Load() }
func (d *Decoder) FramesPLC() uint64     { return d.framesPLC.Load() }
func (d *Decoder) FramesFEC() uint64     { return d.framesFEC.Load() }
func (d *Decoder) DecodeErrors() uint64  { return d.decodeErrors.Load() }

// StartTimes returns the two wall-clock start messages remembered for
// diagnostics (spec.md §4.3, supplemented per SPEC_FULL.md §12).
func (d *Decoder) StartTimes() (realtime, local time.Time, haveRealtime, haveLocal bool) {
	return d.startRealtime, d.startLocal, d.haveStartRealtime, d.haveStartLocal
}

func (d *Decoder) run() {
	var exitErr error

loop:
	for {
		msg, err := d.in.Recv(true)
		if err != nil {
			break loop
		}

		switch msg.Kind {
		case pipeline.KindCodecParams:
			if err := d.reopen(msg.CodecParams); err != nil {
				exitErr = err
				break loop
			}
		case pipeline.KindPacket:
			d.handlePacket(msg.Packet)
		case pipeline.KindStartTimeRealtime:
			d.startRealtime = msg.Time
			d.haveStartRealtime = true
		case pipeline.KindStartTimeLocal:
			d.startLocal = msg.Time
			d.haveStartLocal = true
		case pipeline.KindTick:
			// liveness beat only, no decoder action
		default:
			d.logger.Warn("decoder ignoring unexpected message", slog.String("kind", msg.Kind.String()))
		}
	}

	if d.dec != nil {
		d.dec.Close()
	}
	d.bridge.Close()
	d.handle.Finish(exitErr)
}

func (d *Decoder) reopen(cp *pipeline.CodecParameters) error {
	if d.dec != nil {
		d.dec.Close()
		d.dec = nil
	}

	if cp != nil && !cp.IsOpus {
		d.logger.Warn("codec params report a non-opus stream, decoding as opus anyway")
	}

	sampleRate := d.configuredRate
	if sampleRate == 0 {
		sampleRate = 48000
	}
	channels := d.configuredChannels
	if channels != 1 && channels != 2 {
		channels = 2
	}

	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return fmt.Errorf("decoder: reopen: %w", err)
	}

	d.dec = dec
	d.sampleRate = sampleRate
	d.channels = channels
	d.ptsScale = 48000 / int64(sampleRate)
	if d.ptsScale == 0 {
		d.ptsScale = 1
	}
	d.haveExpected = false

	return nil
}

func (d *Decoder) handlePacket(pkt *pipeline.Packet) {
	if d.dec == nil {
		d.logger.Warn("dropping packet, decoder not yet opened")
		return
	}

	p := pkt.PTS

	if d.haveExpected && p > d.expectedPTS && d.lastFrameSize > 0 {
		missing := (p - d.expectedPTS) / (d.lastFrameSize * d.ptsScale)
		for i := int64(0); i < missing; i++ {
			var (
				pcm []byte
				n   int
				err error
			)
			if i < missing-1 {
				pcm, n, err = d.dec.DecodePLC(int(d.lastFrameSize))
				if err == nil {
					d.framesPLC.Add(1)
					d.metrics.FramesPLC.Inc()
				}
			} else {
				pcm, n, err = d.dec.DecodeFEC(pkt.Data, int(d.lastFrameSize))
				if err == nil {
					d.framesFEC.Add(1)
					d.metrics.FramesFEC.Inc()
				}
			}
			if err != nil {
				d.decodeErrors.Add(1)
				d.metrics.DecodeErrors.Inc()
				d.logger.Warn("plc/fec decode failed", slog.String("error", err.Error()))
				continue
			}
			recoveredPTS := d.expectedPTS + i*d.lastFrameSize*d.ptsScale
			d.emit(pcm, n, recoveredPTS)
		}
	}

	pcm, n, err := d.dec.Decode(pkt.Data)
	if err != nil {
		d.decodeErrors.Add(1)
		d.metrics.DecodeErrors.Inc()
		d.logger.Warn("decode failed, dropping frame", slog.String("error", err.Error()))
		return
	}

	d.framesDecoded.Add(1)
	d.metrics.FramesDecoded.Inc()
	d.emit(pcm, n, p)

	d.lastFrameSize = int64(n)
	d.expectedPTS = p + int64(n)*d.ptsScale
	d.haveExpected = true
}

func (d *Decoder) emit(pcm []byte, samplesPerChannel int, pts int64) {
	samples := bytesToInt16(pcm)
	d.bridge.Push(pipeline.AudioOutput{Buffer: samples, PTS: pts, HasPTS: true})
	_ = samplesPerChannel
}

func bytesToInt16(buf []byte) []int16 {
	out := make([]int16, len(buf)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(buf[i*2:]))
	}
	return out
}
