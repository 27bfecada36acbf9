// Package producer implements the RtpProducer worker (spec.md §4.5): it
// paces incoming Opus packets to real time, rebasing their PTS timeline
// across resets and regressions, and writes RTP or SRTP to the network.
package producer

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/srtp/v3"

	"github.com/skypro1111/opus-rtp-pipeline/internal/metrics"
	"github.com/skypro1111/opus-rtp-pipeline/internal/pipeline"
	"github.com/skypro1111/opus-rtp-pipeline/internal/queue"
	"github.com/skypro1111/opus-rtp-pipeline/internal/worker"
)

// maxFutureDefault is MAX_FUTURE: 100ms at the 48kHz RTP clock.
const maxFutureDefault = 4800

// sdesInterval is how often the producer announces its CNAME via RTCP
// SDES, matching the ~5s interval RFC 3550 §6.2 recommends for a
// single-source session.
const sdesInterval = 5 * time.Second

// Params configures the producer at start time (spec.md §6 start_producer).
type Params struct {
	URL         string
	SSRC        uint32
	PayloadType uint8
	CNAME       string
	CryptoSuite string
	KeyBase64   string
	MaxFuture   int64
}

// Producer is the RtpProducer worker.
type Producer struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	in      *queue.Queue
	handle  *worker.Handle

	conn     *net.UDPConn
	srtpCtx  *srtp.Context
	ssrc     uint32
	pt       uint8
	seq      uint16
	cname    string
	stopRTCP chan struct{}

	maxFuture   int64
	streamStart time.Time

	haveRebase      bool
	rebasePTS       int64
	lastInPTS       int64
	haveNextExpect  bool
	nextExpectedPTS int64

	packetsWritten  atomic.Uint64
	regressionDrops atomic.Uint64
	rebases         atomic.Uint64
}

// Start opens the RTP/SRTP output described by p and spawns the
// producer's run loop.
func Start(in *queue.Queue, p Params, logger *slog.Logger, m *metrics.Metrics) (*Producer, *worker.Handle, error) {
	conn, err := net.Dial("udp", stripScheme(p.URL))
	if err != nil {
		return nil, nil, fmt.Errorf("producer: dial %q: %w", p.URL, err)
	}
	udpConn, ok := conn.(*net.UDPConn)
	if !ok {
		conn.Close()
		return nil, nil, fmt.Errorf("producer: dial %q did not return a UDP connection", p.URL)
	}

	maxFuture := p.MaxFuture
	if maxFuture <= 0 {
		maxFuture = maxFutureDefault
	}

	pr := &Producer{
		logger:      logger,
		metrics:     m,
		in:          in,
		conn:        udpConn,
		ssrc:        p.SSRC,
		pt:          p.PayloadType,
		cname:       p.CNAME,
		maxFuture:   maxFuture,
		streamStart: time.Now(),
		handle:      worker.NewHandle(),
		stopRTCP:    make(chan struct{}),
	}

	if p.CryptoSuite != "" {
		ctx, err := newSRTPContext(p.CryptoSuite, p.KeyBase64)
		if err != nil {
			udpConn.Close()
			return nil, nil, fmt.Errorf("producer: srtp setup: %w", err)
		}
		pr.srtpCtx = ctx
	}

	if pr.cname != "" {
		go pr.sendRTCPLoop()
	}

	go pr.run()
	return pr, pr.handle, nil
}

func (pr *Producer) PacketsWritten() uint64  { return pr.packetsWritten.Load() }
func (pr *Producer) RegressionDrops() uint64 { return pr.regressionDrops.Load() }
func (pr *Producer) Rebases() uint64         { return pr.rebases.Load() }

func (pr *Producer) run() {
	var exitErr error

loop:
	for {
		msg, err := pr.in.Recv(true)
		if err != nil {
			break loop
		}

		switch msg.Kind {
		case pipeline.KindPacket:
			if werr := pr.writePacket(msg.Packet); werr != nil {
				exitErr = werr
				break loop
			}
		case pipeline.KindResetTimeline:
			// Force the next packet through full rebase detection
			// regardless of its PTS relative to last_in_pts, per the
			// explicit producer-rebase redesign flag.
			pr.haveRebase = false
		default:
			pr.logger.Warn("producer ignoring unexpected message", slog.String("kind", msg.Kind.String()))
		}
	}

	if pr.cname != "" {
		close(pr.stopRTCP)
	}

	// RTP has no container trailer to flush; closing the socket is the
	// whole of a clean shutdown.
	pr.conn.Close()
	pr.handle.Finish(exitErr)
}

// sendRTCPLoop periodically announces pr.cname via an RTCP SDES packet on
// the same socket the RTP stream is sent on (RFC 3550 §6.5), the way a
// single-source RTP session identifies itself to receivers. Only the
// cleartext path is implemented: SRTCP key derivation is a separate
// negotiation spec.md's cryptoSuite/keyBase64 fields don't describe, so an
// SRTP-protected stream skips CNAME announcement rather than guessing at
// an encryption scheme (see DESIGN.md).
func (pr *Producer) sendRTCPLoop() {
	if pr.srtpCtx != nil {
		pr.logger.Warn("rtcp cname announcement skipped for an srtp-protected stream")
		return
	}

	ticker := time.NewTicker(sdesInterval)
	defer ticker.Stop()

	for {
		select {
		case <-pr.stopRTCP:
			return
		case <-ticker.C:
			pr.sendSDES()
		}
	}
}

func (pr *Producer) sendSDES() {
	pkt := &rtcp.SourceDescription{
		Chunks: []rtcp.SourceDescriptionChunk{
			{
				Source: pr.ssrc,
				Items: []rtcp.SourceDescriptionItem{
					{Type: rtcp.SDESCNAME, Text: pr.cname},
				},
			},
		},
	}
	raw, err := pkt.Marshal()
	if err != nil {
		pr.logger.Warn("failed to marshal rtcp sdes", slog.String("error", err.Error()))
		return
	}
	if _, err := pr.conn.Write(raw); err != nil {
		pr.logger.Warn("failed to write rtcp sdes", slog.String("error", err.Error()))
	}
}

func (pr *Producer) nowPTS() int64 {
	return int64(time.Since(pr.streamStart) * 48000 / time.Second)
}

func (pr *Producer) writePacket(pkt *pipeline.Packet) error {
	pIn := pkt.PTS
	now := pr.nowPTS()

	if !pr.haveRebase || pIn <= pr.lastInPTS {
		baseline := now
		if pr.haveNextExpect && pr.nextExpectedPTS > now {
			baseline = pr.nextExpectedPTS
			if baseline > now+pr.maxFuture {
				baseline = now + pr.maxFuture
			}
		}
		pr.rebasePTS = baseline - pIn
		pr.haveRebase = true
		pr.haveNextExpect = false
		pr.rebases.Add(1)
		pr.metrics.ProducerRebases.Inc()
	}

	pr.lastInPTS = pIn
	pOut := pIn + pr.rebasePTS

	if pOut-now > pr.maxFuture {
		sleepSamples := pOut - now - pr.maxFuture
		sleepDur := time.Duration(sleepSamples) * time.Second / 48000
		pr.metrics.ProducerPacingSleep.Observe(sleepDur.Seconds())
		time.Sleep(sleepDur)
		now = pr.nowPTS()
	}

	if pr.haveNextExpect && pOut < pr.nextExpectedPTS {
		pr.regressionDrops.Add(1)
		pr.metrics.ProducerRegressionDrops.Inc()
		pr.logger.Warn("dropping packet, pts regression after rebase",
			slog.Int64("pts_out", pOut), slog.Int64("next_expected", pr.nextExpectedPTS))
		return nil
	}

	pr.nextExpectedPTS = pOut + pkt.Duration
	pr.haveNextExpect = true

	return pr.write(pOut, pkt.Data)
}

func (pr *Producer) write(timestamp int64, payload []byte) error {
	header := &rtp.Header{
		Version:        2,
		PayloadType:    pr.pt,
		SequenceNumber: pr.seq,
		Timestamp:      uint32(timestamp),
		SSRC:           pr.ssrc,
	}
	pr.seq++

	packet := &rtp.Packet{Header: *header, Payload: payload}
	raw, err := packet.Marshal()
	if err != nil {
		return fmt.Errorf("producer: marshal rtp: %w", err)
	}

	if pr.srtpCtx != nil {
		raw, err = pr.srtpCtx.EncryptRTP(nil, raw, header)
		if err != nil {
			return fmt.Errorf("producer: srtp encrypt: %w", err)
		}
	}

	if _, err := pr.conn.Write(raw); err != nil {
		return fmt.Errorf("producer: write: %w", err)
	}

	pr.packetsWritten.Add(1)
	pr.metrics.PacketsWritten.Inc()
	return nil
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

// stripScheme drops an "rtp://" or "srtp://" prefix from a producer URL
// (spec.md §6 "url" field) before handing it to net.Dial, which expects a
// bare host:port.
func stripScheme(url string) string {
	for _, prefix := range []string{"srtp://", "rtp://"} {
		if len(url) > len(prefix) && url[:len(prefix)] == prefix {
			return url[len(prefix):]
		}
	}
	return url
}
