// Package pipeline defines the wire types and tagged control messages that
// move across every bounded queue in the Opus/RTP pipeline.
package pipeline

import "time"

// Packet is an Opus-framed unit owned by exactly one component at a time.
// Ownership transfers on enqueue/dequeue; PTS is in the 48 kHz domain.
type Packet struct {
	Data     []byte
	PTS      int64
	DTS      int64
	Duration int64
}

// PcmBuffer is a contiguous run of mono signed-16-bit samples at the
// configured input sample rate.
type PcmBuffer struct {
	Samples []int16
}

// AudioOutput is decoded PCM handed to the host callback bridge.
// HasPTS is false when the source PTS is unknown (NOPTS).
type AudioOutput struct {
	Buffer []int16
	PTS    int64
	HasPTS bool
}

// CodecParameters is sent exactly once from a demuxer to its decoder at
// stream start, or after a demuxer reset.
type CodecParameters struct {
	SampleRate int
	Channels   int
	IsOpus     bool
}

// Kind discriminates the variant carried by a Message.
type Kind int

const (
	KindPacket Kind = iota
	KindPcm
	KindOggBytes
	KindOggReset
	KindCodecParams
	KindStartTimeRealtime
	KindStartTimeLocal
	KindTick
	KindSetBitrate
	KindSetFec
	KindSetPacketLossPct
	KindFlushEncoder
	KindClearProducerQueue
	KindResetTimeline
	KindAudioOutput
	KindEof
)

func (k Kind) String() string {
	switch k {
	case KindPacket:
		return "Packet"
	case KindPcm:
		return "Pcm"
	case KindOggBytes:
		return "OggBytes"
	case KindOggReset:
		return "OggReset"
	case KindCodecParams:
		return "CodecParams"
	case KindStartTimeRealtime:
		return "StartTimeRealtime"
	case KindStartTimeLocal:
		return "StartTimeLocal"
	case KindTick:
		return "Tick"
	case KindSetBitrate:
		return "SetBitrate"
	case KindSetFec:
		return "SetFec"
	case KindSetPacketLossPct:
		return "SetPacketLossPct"
	case KindFlushEncoder:
		return "FlushEncoder"
	case KindClearProducerQueue:
		return "ClearProducerQueue"
	case KindResetTimeline:
		return "ResetTimeline"
	case KindAudioOutput:
		return "AudioOutput"
	case KindEof:
		return "Eof"
	default:
		return "Unknown"
	}
}

// Message is a tagged variant over every inter-thread queue. Only the
// field matching Kind is meaningful; receivers must switch exhaustively
// on Kind rather than inspect payload fields speculatively.
type Message struct {
	Kind Kind

	Packet      *Packet
	Pcm         *PcmBuffer
	OggBytes    []byte
	CodecParams *CodecParameters
	AudioOutput *AudioOutput
	Time        time.Time
	Bitrate     int
	Fec         bool
	PacketLossPct int
}
