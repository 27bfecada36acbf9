// Package encoder implements the OpusEncoder worker (spec.md §4.4): it
// accumulates mono PCM into 20ms frames at the configured input rate,
// encodes them stereo, and posts Packet messages to the producer's queue.
package encoder

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/skypro1111/opus-rtp-pipeline/internal/metrics"
	"github.com/skypro1111/opus-rtp-pipeline/internal/opus"
	"github.com/skypro1111/opus-rtp-pipeline/internal/pipeline"
	"github.com/skypro1111/opus-rtp-pipeline/internal/queue"
	"github.com/skypro1111/opus-rtp-pipeline/internal/worker"
)

const outputPTSScale = 960 // 20ms at the 48kHz RTP clock

// Encoder is the OpusEncoder worker.
type Encoder struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	in      *queue.Queue
	out     *queue.Queue
	handle  *worker.Handle

	enc            *opus.Encoder
	inputRate      int
	frameSizeInput int // samples per channel at inputRate

	accumulator []int16
	frameIndex  int64

	framesEncoded atomic.Uint64
	encodeErrors  atomic.Uint64
	flushes       atomic.Uint64
}

// Params configures the encoder at start time (spec.md §4.4, §6
// start_rtp_encode).
type Params struct {
	InputSampleRate   int
	Bitrate           int
	EnableFec         bool
	PacketLossPercent int
}

// Start spawns the encoder's run loop. The Opus encoder is created at
// p.InputSampleRate itself (one of 8000/12000/16000/24000/48000) rather
// than a fixed 48 kHz, so frameSizeInput's 20ms frame sizing always lines
// up with what's actually fed to opus_encode.
func Start(in, out *queue.Queue, p Params, logger *slog.Logger, m *metrics.Metrics) (*Encoder, *worker.Handle, error) {
	enc, err := opus.NewEncoder(p.InputSampleRate, p.Bitrate, p.EnableFec, p.PacketLossPercent)
	if err != nil {
		return nil, nil, fmt.Errorf("encoder: start: %w", err)
	}

	e := &Encoder{
		logger:         logger,
		metrics:        m,
		in:             in,
		out:            out,
		enc:            enc,
		inputRate:      p.InputSampleRate,
		frameSizeInput: p.InputSampleRate * 20 / 1000,
		handle:         worker.NewHandle(),
	}
	go e.run()
	return e, e.handle, nil
}

func (e *Encoder) FramesEncoded() uint64 { return e.framesEncoded.Load() }
func (e *Encoder) EncodeErrors() uint64  { return e.encodeErrors.Load() }
func (e *Encoder) Flushes() uint64       { return e.flushes.Load() }

func (e *Encoder) run() {
	var exitErr error

loop:
	for {
		msg, err := e.in.Recv(true)
		if err != nil {
			break loop
		}

		switch msg.Kind {
		case pipeline.KindPcm:
			e.ingest(msg.Pcm.Samples)
		case pipeline.KindFlushEncoder:
			e.flush()
		case pipeline.KindClearProducerQueue:
			e.clearProducerQueue()
		case pipeline.KindSetBitrate:
			e.enc.SetBitrate(msg.Bitrate)
		case pipeline.KindSetFec:
			e.enc.SetFec(msg.Fec)
		case pipeline.KindSetPacketLossPct:
			e.enc.SetPacketLossPercent(msg.PacketLossPct)
		default:
			e.logger.Warn("encoder ignoring unexpected message", slog.String("kind", msg.Kind.String()))
		}
	}

	e.enc.Close()
	e.out.CloseSend()
	e.handle.Finish(exitErr)
}

// ingest appends samples to the accumulator and encodes every complete
// frame it can assemble (spec.md §4.4 step 1-2).
func (e *Encoder) ingest(samples []int16) {
	e.accumulator = append(e.accumulator, samples...)
	for len(e.accumulator) >= e.frameSizeInput {
		frame := e.accumulator[:e.frameSizeInput]
		e.accumulator = e.accumulator[e.frameSizeInput:]
		e.encodeFrame(frame)
	}
}

// flush zero-pads the partial accumulator to a full frame, encodes it,
// and resets frame_index so the next frame restarts the PTS origin
// (spec.md §4.4 step 3; producer rebase is paired with an explicit
// ResetTimeline message per the adopted redesign flag, SPEC_FULL.md §9).
func (e *Encoder) flush() {
	if len(e.accumulator) > 0 {
		frame := make([]int16, e.frameSizeInput)
		copy(frame, e.accumulator)
		e.accumulator = e.accumulator[:0]
		e.encodeFrame(frame)
	}

	e.frameIndex = 0
	e.flushes.Add(1)
	e.metrics.EncoderFlushes.Inc()

	if err := e.out.Send(pipeline.Message{Kind: pipeline.KindResetTimeline}, true); err != nil {
		e.logger.Warn("failed to post ResetTimeline to producer", slog.String("error", err.Error()))
	}
}

// clearProducerQueue drains the producer's input queue non-blocking
// (spec.md §4.4 step 4).
func (e *Encoder) clearProducerQueue() {
	for {
		_, err := e.out.Recv(false)
		if err != nil {
			return
		}
	}
}

func (e *Encoder) encodeFrame(monoFrame []int16) {
	stereo := duplicateToStereo(monoFrame)

	data, err := e.enc.Encode(int16ToBytes(stereo))
	if err != nil {
		e.encodeErrors.Add(1)
		e.metrics.EncodeErrors.Inc()
		e.logger.Warn("encode failed, dropping frame", slog.String("error", err.Error()))
		return
	}

	pts := e.frameIndex * outputPTSScale
	pkt := &pipeline.Packet{Data: data, PTS: pts, DTS: pts, Duration: outputPTSScale}
	e.frameIndex++

	e.framesEncoded.Add(1)
	e.metrics.FramesEncoded.Inc()

	if err := e.out.Send(pipeline.Message{Kind: pipeline.KindPacket, Packet: pkt}, true); err != nil {
		e.logger.Warn("producer queue closed, dropping encoded frame", slog.String("error", err.Error()))
	}
}

func duplicateToStereo(mono []int16) []int16 {
	stereo := make([]int16, len(mono)*2)
	for i, s := range mono {
		stereo[i*2] = s
		stereo[i*2+1] = s
	}
	return stereo
}

func int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(uint16(s))
		out[i*2+1] = byte(uint16(s) >> 8)
	}
	return out
}
