package producer

import (
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/pion/rtp"

	"github.com/skypro1111/opus-rtp-pipeline/internal/metrics"
	"github.com/skypro1111/opus-rtp-pipeline/internal/pipeline"
	"github.com/skypro1111/opus-rtp-pipeline/internal/queue"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testMetrics is shared by every test: metrics.NewMetrics registers its
// series on the default Prometheus registry, so it can run once per binary.
var testMetrics = metrics.NewMetrics()

func startProducerToLoopback(t *testing.T, maxFuture int64) (*net.UDPConn, *queue.Queue, *Producer) {
	t.Helper()

	listener, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { listener.Close() })

	in := queue.New(8)
	pr, handle, err := Start(in, Params{
		URL:         listener.LocalAddr().String(),
		SSRC:        1,
		PayloadType: 111,
		MaxFuture:   maxFuture,
	}, testLogger(), testMetrics)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		in.CloseRecv()
		handle.Wait()
	})

	return listener, in, pr
}

func recvRTP(t *testing.T, listener *net.UDPConn) *rtp.Packet {
	t.Helper()
	buf := make([]byte, 1500)
	listener.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := listener.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("ReadFromUDP: %v", err)
	}
	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(buf[:n]); err != nil {
		t.Fatalf("unmarshal rtp: %v", err)
	}
	return pkt
}

func TestProducerStripsURLScheme(t *testing.T) {
	listener, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	in := queue.New(4)
	_, handle, err := Start(in, Params{
		URL:         "rtp://" + listener.LocalAddr().String(),
		SSRC:        1,
		PayloadType: 111,
	}, testLogger(), testMetrics)
	if err != nil {
		t.Fatalf("Start with scheme-prefixed URL: %v", err)
	}
	in.CloseRecv()
	handle.Wait()
}

func TestProducerFirstPacketRebasesToNow(t *testing.T) {
	listener, in, _ := startProducerToLoopback(t, 4800)

	in.Send(pipeline.Message{Kind: pipeline.KindPacket, Packet: &pipeline.Packet{
		Data: []byte{0x01, 0x02}, PTS: 1_000_000, Duration: 960,
	}}, true)

	pkt := recvRTP(t, listener)
	if pkt.Timestamp > 4800 {
		t.Errorf("first packet timestamp = %d, want close to 0 (rebased to now)", pkt.Timestamp)
	}
	if pkt.SequenceNumber != 0 {
		t.Errorf("first packet sequence = %d, want 0", pkt.SequenceNumber)
	}
}

func TestProducerRegressionAfterRebaseIsDropped(t *testing.T) {
	listener, in, _ := startProducerToLoopback(t, 48000)

	in.Send(pipeline.Message{Kind: pipeline.KindPacket, Packet: &pipeline.Packet{
		Data: []byte{0x01}, PTS: 0, Duration: 960,
	}}, true)
	first := recvRTP(t, listener)

	in.Send(pipeline.Message{Kind: pipeline.KindPacket, Packet: &pipeline.Packet{
		Data: []byte{0x02}, PTS: 960, Duration: 960,
	}}, true)
	second := recvRTP(t, listener)

	if second.Timestamp != first.Timestamp+960 {
		t.Errorf("second packet timestamp = %d, want %d", second.Timestamp, first.Timestamp+960)
	}

	// A packet whose PTS moved forward less than expected (but stayed above
	// lastInPTS, so no fresh rebase) must be dropped once it resolves to an
	// output timestamp behind nextExpectedPTS.
	in.Send(pipeline.Message{Kind: pipeline.KindPacket, Packet: &pipeline.Packet{
		Data: []byte{0x03}, PTS: 961, Duration: 960,
	}}, true)

	listener.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	buf := make([]byte, 1500)
	if _, _, err := listener.ReadFromUDP(buf); err == nil {
		t.Error("expected the regressed packet to be dropped, but a datagram arrived")
	}
}

func TestProducerResetTimelineForcesRebase(t *testing.T) {
	listener, in, _ := startProducerToLoopback(t, 48000)

	in.Send(pipeline.Message{Kind: pipeline.KindPacket, Packet: &pipeline.Packet{
		Data: []byte{0x01}, PTS: 10_000_000, Duration: 960,
	}}, true)
	first := recvRTP(t, listener)

	in.Send(pipeline.Message{Kind: pipeline.KindResetTimeline}, true)

	in.Send(pipeline.Message{Kind: pipeline.KindPacket, Packet: &pipeline.Packet{
		Data: []byte{0x02}, PTS: 0, Duration: 960,
	}}, true)
	second := recvRTP(t, listener)

	// PTS 0 <= lastInPTS would force a rebase here even without the reset.
	// Either way the rebase clears nextExpectedPTS tracking, so the
	// post-flush packet isn't treated as a regression against the
	// pre-flush timeline.
	if second.Timestamp > first.Timestamp+48000 {
		t.Errorf("post-reset packet timestamp = %d should stay close to real time, not inherit the old rebase", second.Timestamp)
	}
}
