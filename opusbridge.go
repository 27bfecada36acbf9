// Package opusbridge is the host control surface for the Opus/RTP audio
// pipeline (spec.md §6): it wires the RtpDemuxer, FileDemuxer, OpusDecoder,
// OpusEncoder, and RtpProducer workers behind a small set of start_*
// factories and post_* operations, so an embedding host never touches the
// worker packages under internal/ directly.
//
// Every Start* factory spawns its worker(s) and returns a handle the host
// can post control messages through and Wait on for the terminal error,
// mirroring the async client-handle pattern the teacher repo used for its
// transcription client's background calls.
package opusbridge

import (
	"github.com/skypro1111/opus-rtp-pipeline/internal/pipeline"
	"github.com/skypro1111/opus-rtp-pipeline/internal/queue"
)

// AudioOutput is decoded PCM handed to a host's on-audio callback.
// HasPTS is false when the source carries no timing (NOPTS, spec §6).
type AudioOutput = pipeline.AudioOutput

// drainNonBlocking implements the clear_message_queue host operation
// (spec.md §6): discard whatever is queued right now without blocking the
// caller on the worker catching up.
func drainNonBlocking(q *queue.Queue) {
	for {
		if _, err := q.Recv(false); err != nil {
			return
		}
	}
}

// pcmBytesToInt16 converts a little-endian s16 byte buffer, as post_pcm's
// signature names it, into the sample slice the encoder worker consumes.
func pcmBytesToInt16(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(uint16(data[i*2]) | uint16(data[i*2+1])<<8)
	}
	return out
}
