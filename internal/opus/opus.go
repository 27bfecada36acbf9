// Package opus wraps github.com/qrtc/opus-go's cgo Opus binding with the
// narrow surface the pipeline needs: a stereo encoder at a caller-chosen
// sample rate and a
// decoder that can run in normal, PLC (no input), and FEC (redundancy
// extracted from the next packet) modes per RFC 6716 §2.1.7.
package opus

import (
	"fmt"

	qopus "github.com/qrtc/opus-go"
)

// Encoder produces Opus frames from interleaved s16 PCM.
type Encoder struct {
	enc *qopus.OpusEncoder
}

// NewEncoder creates a stereo Opus encoder at sampleRate.
func NewEncoder(sampleRate int, bitrate int, fec bool, packetLossPercent int) (*Encoder, error) {
	enc, err := qopus.CreateOpusEncoder(&qopus.OpusEncoderConfig{
		SampleRate:  sampleRate,
		MaxChannels: 2,
		Application: qopus.AppAudio,
	})
	if err != nil {
		return nil, fmt.Errorf("opus: create encoder: %w", err)
	}

	e := &Encoder{enc: enc}
	e.SetBitrate(bitrate)
	e.SetFec(fec)
	e.SetPacketLossPercent(packetLossPercent)
	return e, nil
}

// Encode encodes one full stereo s16 frame into a fresh byte slice.
func (e *Encoder) Encode(pcm []byte) ([]byte, error) {
	out := make([]byte, 4000) // RFC 6716 max packet size is well under this
	n, err := e.enc.Encode(pcm, out)
	if err != nil {
		return nil, fmt.Errorf("opus: encode: %w", err)
	}
	return out[:n], nil
}

// SetBitrate applies a new target bitrate live.
func (e *Encoder) SetBitrate(bitrate int) {
	if bitrate > 0 {
		e.enc.SetBitrate(bitrate)
	}
}

// SetFec enables or disables inband FEC live.
func (e *Encoder) SetFec(enabled bool) {
	e.enc.SetInbandFEC(enabled)
}

// SetPacketLossPercent informs the encoder of the expected channel loss
// rate, used to size FEC redundancy.
func (e *Encoder) SetPacketLossPercent(pct int) {
	if pct >= 0 && pct <= 100 {
		e.enc.SetPacketLossPerc(pct)
	}
}

// Close releases the underlying codec.
func (e *Encoder) Close() {
	if e.enc != nil {
		e.enc.Close()
		e.enc = nil
	}
}

// Decoder decodes Opus packets to s16 PCM, with PLC and FEC support.
type Decoder struct {
	dec        *qopus.OpusDecoder
	sampleRate int
	channels   int
}

// NewDecoder creates a decoder at sampleRate with the given channel count.
func NewDecoder(sampleRate, channels int) (*Decoder, error) {
	dec, err := qopus.CreateOpusDecoder(&qopus.OpusDecoderConfig{
		SampleRate: sampleRate,
		MaxChannels: channels,
	})
	if err != nil {
		return nil, fmt.Errorf("opus: create decoder: %w", err)
	}
	return &Decoder{dec: dec, sampleRate: sampleRate, channels: channels}, nil
}

// bufFor returns a PCM buffer large enough for samplesPerChannel of
// output at this decoder's channel count.
func (d *Decoder) bufFor(samplesPerChannel int) []byte {
	return make([]byte, samplesPerChannel*d.channels*2)
}

// Decode decodes a real Opus packet in normal mode, returning s16 PCM
// (little-endian, interleaved) and the number of samples per channel.
func (d *Decoder) Decode(packet []byte) ([]byte, int, error) {
	out := d.bufFor(5760) // RFC 6716 max: 120ms @ 48kHz
	n, err := d.dec.Decode(packet, out)
	if err != nil {
		return nil, 0, fmt.Errorf("opus: decode: %w", err)
	}
	return out[:n*d.channels*2], n, nil
}

// DecodePLC synthesizes samplesPerChannel samples of packet loss
// concealment with no input data.
func (d *Decoder) DecodePLC(samplesPerChannel int) ([]byte, int, error) {
	out := d.bufFor(samplesPerChannel)
	n, err := d.dec.Decode(nil, out)
	if err != nil {
		return nil, 0, fmt.Errorf("opus: plc decode: %w", err)
	}
	return out[:n*d.channels*2], n, nil
}

// DecodeFEC extracts the forward-error-correction copy of the previous
// frame embedded in packet, requesting samplesPerChannel samples.
func (d *Decoder) DecodeFEC(packet []byte, samplesPerChannel int) ([]byte, int, error) {
	out := d.bufFor(samplesPerChannel)
	n, err := d.dec.DecodeFEC(packet, out)
	if err != nil {
		return nil, 0, fmt.Errorf("opus: fec decode: %w", err)
	}
	return out[:n*d.channels*2], n, nil
}

// Close releases the underlying codec.
func (d *Decoder) Close() {
	if d.dec != nil {
		d.dec.Close()
		d.dec = nil
	}
}
