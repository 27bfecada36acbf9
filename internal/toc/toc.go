// Package toc parses the Opus Table-of-Contents byte (RFC 6716 §3.1) that
// heads every Opus packet, used by the demuxers to repair a missing
// packet duration (spec §4.1 step 4).
package toc

import "fmt"

// Frame count codes carried in the low two bits of the TOC byte.
const (
	CountCodeSingle    = 0 // one frame
	CountCodeTwoEqual  = 1 // two equal-size frames
	CountCodeTwoArb    = 2 // two arbitrary-size frames
	CountCodeArbitrary = 3 // frame count in the next byte
)

// Header is the parsed form of an Opus TOC byte.
//
// Layout: [config:5][stereo:1][count:2]
type Header struct {
	Config     uint8 // 0-31
	Stereo     bool
	CountCode  uint8 // 0-3
	FrameCount int   // resolved frame count
	FrameSize  int   // samples per frame, in 48 kHz units
}

// Parse reads the TOC byte (and, for CountCodeArbitrary, the following
// frame-count byte) from the front of an Opus packet and resolves the
// per-frame sample count and total frame count.
func Parse(data []byte) (*Header, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("toc: packet too short to hold a TOC byte")
	}

	b := data[0]
	config := b >> 3
	stereo := (b>>2)&1 == 1
	countCode := b & 0x3

	h := &Header{
		Config:    config,
		Stereo:    stereo,
		CountCode: countCode,
		FrameSize: frameSize(config),
	}
	if h.FrameSize == 0 {
		return nil, fmt.Errorf("toc: invalid config %d", config)
	}

	switch countCode {
	case CountCodeSingle:
		h.FrameCount = 1
	case CountCodeTwoEqual, CountCodeTwoArb:
		h.FrameCount = 2
	case CountCodeArbitrary:
		if len(data) < 2 {
			return nil, fmt.Errorf("toc: arbitrary frame count but packet has no second byte")
		}
		h.FrameCount = int(data[1] & 0x3F)
		if h.FrameCount == 0 {
			return nil, fmt.Errorf("toc: arbitrary frame count byte encodes zero frames")
		}
	}

	return h, nil
}

// Duration returns the total packet duration in 48 kHz samples:
// FrameSize * FrameCount.
func (h *Header) Duration() int64 {
	return int64(h.FrameSize) * int64(h.FrameCount)
}

// frameSize implements the RFC 6716 §3.1 config table, returning samples
// per frame in 48 kHz units, or 0
// for an out-of-range config.
func frameSize(config uint8) int {
	switch {
	case config > 31:
		return 0
	case config < 12:
		n := int(config & 3)
		if n == 0 {
			return 480
		}
		return 960 * n
	case config < 16:
		return 480 << (config & 1)
	default:
		return 120 << (config & 3)
	}
}

// String renders a TOC header for log messages.
func (h *Header) String() string {
	return fmt.Sprintf("TOC{config:%d, stereo:%t, countCode:%d, frames:%d, frameSize:%d}",
		h.Config, h.Stereo, h.CountCode, h.FrameCount, h.FrameSize)
}
