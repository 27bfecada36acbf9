// Package rtpdemux implements the RtpDemuxer worker (spec.md §4.1): it
// opens an RTP/SRTP input described by an SDP blob, reads Opus packets,
// repairs and orders them through internal/demux, and posts them to its
// output queue alongside a periodic liveness Tick.
package rtpdemux

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/sdp/v3"
	"github.com/pion/srtp/v3"

	"github.com/skypro1111/opus-rtp-pipeline/internal/demux"
	"github.com/skypro1111/opus-rtp-pipeline/internal/metrics"
	"github.com/skypro1111/opus-rtp-pipeline/internal/pipeline"
	"github.com/skypro1111/opus-rtp-pipeline/internal/queue"
	"github.com/skypro1111/opus-rtp-pipeline/internal/worker"
)

// Demuxer is the RtpDemuxer worker.
type Demuxer struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	out     *queue.Queue
	tick    time.Duration

	conn        *net.UDPConn
	audioPT     uint8
	isOpus      bool
	srtpCtx     *srtp.Context // nil unless the SDP negotiated SRTP

	proc *demux.Processor

	shutdown atomic.Bool
	handle   *worker.Handle

	packetsReceived atomic.Uint64
	packetsDropped  atomic.Uint64
	ticksEmitted    atomic.Uint64
}

// Start opens the SDP-described RTP input and spawns the demuxer's read
// loop. tickInterval is the keep-alive beat (spec §4.1 step 1).
func Start(sdpBlob string, tickInterval time.Duration, out *queue.Queue, logger *slog.Logger, m *metrics.Metrics) (*Demuxer, *worker.Handle) {
	d := &Demuxer{
		logger:  logger,
		metrics: m,
		out:     out,
		tick:    tickInterval,
		proc:    demux.New(logger),
		handle:  worker.NewHandle(),
	}
	go d.run(sdpBlob)
	return d, d.handle
}

// Stop requests shutdown and blocks until the worker has exited.
func (d *Demuxer) Stop() error {
	d.shutdown.Store(true)
	if d.conn != nil {
		_ = d.conn.Close() // unblocks the pending ReadFromUDP promptly
	}
	return d.handle.Wait()
}

// PacketsReceived reports the running count of accepted RTP datagrams,
// for the pipeline diagnostics route.
func (d *Demuxer) PacketsReceived() uint64 { return d.packetsReceived.Load() }

// PacketsDropped reports the running count of packets dropped anywhere
// in the filter/repair/order pipeline.
func (d *Demuxer) PacketsDropped() uint64 { return d.packetsDropped.Load() }

func (d *Demuxer) run(sdpBlob string) {
	err := d.open(sdpBlob)
	if err != nil {
		d.out.CloseSend()
		d.out.CloseRecv()
		d.handle.Finish(fmt.Errorf("rtpdemux: %w", err))
		return
	}
	defer d.conn.Close()

	d.readLoop()

	d.out.CloseRecv()
	d.handle.Finish(nil)
}

// open parses the SDP, finds the best audio stream, and opens the UDP
// socket it describes; plain UDP is the only transport it opens.
func (d *Demuxer) open(sdpBlob string) error {
	var sess sdp.SessionDescription
	if err := sess.Unmarshal([]byte(sdpBlob)); err != nil {
		return fmt.Errorf("parse sdp: %w", err)
	}

	md, payloadType, isOpus, err := findAudioStream(&sess)
	if err != nil {
		return err
	}
	if !isOpus {
		d.logger.Warn("negotiated codec is not Opus, continuing anyway")
	}
	d.audioPT = payloadType
	d.isOpus = isOpus

	addr, err := connectionAddress(&sess, md)
	if err != nil {
		return fmt.Errorf("resolve rtp address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("listen udp: %w", err)
	}
	d.conn = conn

	if suite, key, ok := cryptoAttribute(md); ok {
		ctx, err := newSRTPContext(suite, key)
		if err != nil {
			d.logger.Warn("ignoring unusable SRTP crypto attribute", slog.String("error", err.Error()))
		} else {
			d.srtpCtx = ctx
		}
	}

	// The decoder's PCM output rate/channels are host-configured
	// (decoder.Params, threaded through from start_rtp_decode), not
	// negotiated from the RTP wire: RTP's own 48 kHz clock rate says
	// nothing about the decode rate a host actually wants. CodecParams
	// here only signals "stream (re)opened" and carries the negotiated
	// codec identity for the decoder's own sanity logging.
	codecParams := &pipeline.CodecParameters{IsOpus: isOpus}
	_ = d.out.Send(pipeline.Message{Kind: pipeline.KindCodecParams, CodecParams: codecParams}, true)

	return nil
}

func (d *Demuxer) readLoop() {
	buf := make([]byte, 1500)
	haveStartLocal := false
	lastTick := time.Now()

	for {
		if d.shutdown.Load() {
			return
		}

		deadline := d.tick
		if deadline <= 0 {
			deadline = time.Second
		}
		_ = d.conn.SetReadDeadline(time.Now().Add(deadline))

		n, _, err := d.conn.ReadFromUDP(buf)
		if err != nil {
			if d.shutdown.Load() {
				return
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if time.Since(lastTick) >= d.tick {
					d.emitTick()
					lastTick = time.Now()
				}
				continue
			}
			d.logger.Error("rtp read failed, demuxer exiting", slog.String("error", err.Error()))
			return
		}

		if !haveStartLocal {
			_ = d.out.Send(pipeline.Message{Kind: pipeline.KindStartTimeLocal, Time: time.Now()}, true)
			_ = d.out.Send(pipeline.Message{Kind: pipeline.KindStartTimeRealtime, Time: time.Now()}, true)
			haveStartLocal = true
		}

		d.handleDatagram(buf[:n])

		if time.Since(lastTick) >= d.tick {
			d.emitTick()
			lastTick = time.Now()
		}
	}
}

func (d *Demuxer) handleDatagram(data []byte) {
	var pkt rtp.Packet
	if err := pkt.Unmarshal(data); err != nil {
		d.logger.Debug("dropping unparseable rtp datagram", slog.String("error", err.Error()))
		return
	}

	payload := pkt.Payload
	if d.srtpCtx != nil {
		decrypted, err := d.srtpCtx.DecryptRTP(nil, data, &pkt.Header)
		if err != nil {
			d.logger.Warn("srtp decrypt failed, dropping packet", slog.String("error", err.Error()))
			return
		}
		payload = decrypted[len(decrypted)-len(pkt.Payload):]
	}

	d.packetsReceived.Add(1)
	d.metrics.PacketsReceived.Inc()

	if pkt.PayloadType != d.audioPT {
		return
	}

	pts := int64(pkt.Timestamp)
	raw := demux.RawPacket{Data: payload, PTS: pts, DTS: pts}

	out, ok := d.proc.Process(raw)
	if !ok {
		d.packetsDropped.Add(1)
		return
	}

	if err := d.out.Send(pipeline.Message{Kind: pipeline.KindPacket, Packet: &out}, false); err != nil {
		d.logger.Warn("output queue full, dropping packet", slog.String("error", err.Error()))
		d.metrics.RecordQueueDrop("rtpdemux_out")
		d.packetsDropped.Add(1)
	}
}

func (d *Demuxer) emitTick() {
	if err := d.out.Send(pipeline.Message{Kind: pipeline.KindTick}, false); err == nil {
		d.ticksEmitted.Add(1)
		d.metrics.TicksEmitted.Inc()
	}
}

// findAudioStream locates the best (first) audio media description and
// its negotiated payload type, reporting whether that payload type's
// rtpmap names Opus.
func findAudioStream(sess *sdp.SessionDescription) (*sdp.MediaDescription, uint8, bool, error) {
	for _, md := range sess.MediaDescriptions {
		if md.MediaName.Media != "audio" {
			continue
		}
		if len(md.MediaName.Formats) == 0 {
			continue
		}
		ptVal, err := strconv.Atoi(md.MediaName.Formats[0])
		if err != nil {
			return nil, 0, false, fmt.Errorf("invalid payload type %q: %w", md.MediaName.Formats[0], err)
		}
		pt := uint8(ptVal)

		isOpus := false
		for _, attr := range md.Attributes {
			if attr.Key == "rtpmap" && rtpmapMatchesPayload(attr.Value, ptVal) {
				isOpus = rtpmapIsOpus(attr.Value)
			}
		}
		return md, pt, isOpus, nil
	}
	return nil, 0, false, fmt.Errorf("sdp has no audio media description")
}

func rtpmapMatchesPayload(rtpmap string, pt int) bool {
	prefix := strconv.Itoa(pt) + " "
	return len(rtpmap) > len(prefix) && rtpmap[:len(prefix)] == prefix
}

func rtpmapIsOpus(rtpmap string) bool {
	for i := 0; i+4 <= len(rtpmap); i++ {
		if rtpmap[i:i+4] == "opus" || rtpmap[i:i+4] == "OPUS" {
			return true
		}
	}
	return false
}

// connectionAddress resolves the UDP address to bind from the media
// description's (or, absent that, the session's) connection line.
func connectionAddress(sess *sdp.SessionDescription, md *sdp.MediaDescription) (*net.UDPAddr, error) {
	conn := md.ConnectionInformation
	if conn == nil {
		conn = sess.ConnectionInformation
	}
	if conn == nil {
		return nil, fmt.Errorf("sdp has no connection information")
	}
	host := conn.Address.Address
	return net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(md.MediaName.Port.Value)))
}

// cryptoAttribute extracts an SDES "a=crypto" suite/key pair, if present.
func cryptoAttribute(md *sdp.MediaDescription) (suite, keyBase64 string, ok bool) {
	for _, attr := range md.Attributes {
		if attr.Key != "crypto" {
			continue
		}
		var tag int
		var suiteName, keyParams string
		if _, err := fmt.Sscanf(attr.Value, "%d %s %s", &tag, &suiteName, &keyParams); err != nil {
			continue
		}
		const inlinePrefix = "inline:"
		if len(keyParams) <= len(inlinePrefix) || keyParams[:len(inlinePrefix)] != inlinePrefix {
			continue
		}
		return suiteName, keyParams[len(inlinePrefix):], true
	}
	return "", "", false
}

func newSRTPContext(suiteName, keyBase64 string) (*srtp.Context, error) {
	profile, err := protectionProfile(suiteName)
	if err != nil {
		return nil, err
	}
	raw, err := base64.StdEncoding.DecodeString(keyBase64)
	if err != nil {
		return nil, fmt.Errorf("decode srtp key: %w", err)
	}
	keyLen, err := profile.KeyLen()
	if err != nil {
		return nil, fmt.Errorf("srtp key length: %w", err)
	}
	saltLen, err := profile.SaltLen()
	if err != nil {
		return nil, fmt.Errorf("srtp salt length: %w", err)
	}
	if len(raw) < keyLen+saltLen {
		return nil, fmt.Errorf("srtp key material too short: got %d bytes, need %d", len(raw), keyLen+saltLen)
	}
	return srtp.CreateContext(raw[:keyLen], raw[keyLen:keyLen+saltLen], profile)
}

func protectionProfile(suiteName string) (srtp.ProtectionProfile, error) {
	switch suiteName {
	case "AES_CM_128_HMAC_SHA1_80":
		return srtp.ProtectionProfileAes128CmHmacSha1_80, nil
	case "AES_CM_128_HMAC_SHA1_32":
		return srtp.ProtectionProfileAes128CmHmacSha1_32, nil
	default:
		return 0, fmt.Errorf("unsupported srtp crypto suite %q", suiteName)
	}
}
