package demux

import (
	"io"
	"log/slog"
	"testing"

	"github.com/skypro1111/opus-rtp-pipeline/internal/toc"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// opusPacket builds a minimal single-frame Opus packet at a fixed
// config (20ms CELT config 19 -> 960 samples) so duration repair never
// fails in tests that don't care about the TOC byte itself.
func opusPacket() []byte {
	return []byte{19 << 3, 0, 0, 0}
}

func TestProcessOutOfOrderDrop(t *testing.T) {
	p := New(testLogger())

	pkts := []RawPacket{
		{Data: opusPacket(), PTS: 100, DTS: 100},
		{Data: opusPacket(), PTS: 90, DTS: 90},
		{Data: opusPacket(), PTS: 110, DTS: 110},
	}

	var kept []int64
	for _, raw := range pkts {
		if out, ok := p.Process(raw); ok {
			kept = append(kept, out.PTS)
		}
	}

	if len(kept) != 2 || kept[0] != 100 || kept[1] != 110 {
		t.Errorf("kept PTS = %v, want [100 110]", kept)
	}
}

func TestProcessNegativePTSCorrection(t *testing.T) {
	p := New(testLogger())

	out1, ok := p.Process(RawPacket{Data: opusPacket(), PTS: -500, DTS: -500})
	if !ok {
		t.Fatal("first packet unexpectedly dropped")
	}
	if out1.PTS != 0 {
		t.Errorf("first corrected PTS = %d, want 0", out1.PTS)
	}

	out2, ok := p.Process(RawPacket{Data: opusPacket(), PTS: -500 + 960, DTS: -500 + 960})
	if !ok {
		t.Fatal("second packet unexpectedly dropped")
	}
	if out2.PTS != 960 {
		t.Errorf("second corrected PTS = %d, want 960", out2.PTS)
	}
}

func TestProcessConsistencyDrop(t *testing.T) {
	p := New(testLogger())
	if _, ok := p.Process(RawPacket{Data: opusPacket(), PTS: 100, DTS: 200}); ok {
		t.Error("expected drop for pts != dts")
	}
}

func TestProcessEmptyPacketDrop(t *testing.T) {
	p := New(testLogger())
	if _, ok := p.Process(RawPacket{Data: []byte{}, PTS: 0, DTS: 0}); ok {
		t.Error("expected drop for empty packet")
	}
}

func TestProcessResetContinuity(t *testing.T) {
	p := New(testLogger())

	out1, ok := p.Process(RawPacket{Data: opusPacket(), PTS: 0, DTS: 0, Duration: 960})
	if !ok {
		t.Fatal("packet dropped")
	}
	if out1.PTS != 0 {
		t.Fatalf("got %d", out1.PTS)
	}

	p.Reset()

	// New segment restarts its own PTS timeline at 0; continuity should
	// pick up where the previous segment left off (960).
	out2, ok := p.Process(RawPacket{Data: opusPacket(), PTS: 0, DTS: 0, Duration: 960})
	if !ok {
		t.Fatal("packet dropped after reset")
	}
	if out2.PTS != 960 {
		t.Errorf("post-reset PTS = %d, want 960 (continuity from prior segment)", out2.PTS)
	}
}

func TestDurationRepairFromTOC(t *testing.T) {
	p := New(testLogger())

	// config 1 (SILK NB 20ms -> 960 samples), single frame.
	data := []byte{1 << 3, 0}
	out, ok := p.Process(RawPacket{Data: data, PTS: 0, DTS: 0})
	if !ok {
		t.Fatal("packet dropped")
	}

	h, err := toc.Parse(data)
	if err != nil {
		t.Fatalf("toc.Parse: %v", err)
	}
	if out.Duration != h.Duration() {
		t.Errorf("repaired duration = %d, want %d", out.Duration, h.Duration())
	}
}
