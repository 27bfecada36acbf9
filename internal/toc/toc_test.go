package toc

import "testing"

func TestParseFrameSizeTable(t *testing.T) {
	tests := []struct {
		name      string
		config    uint8
		wantSize  int
	}{
		{"silk nb 10ms", 0, 480},
		{"silk nb 20ms", 1, 960},
		{"silk nb 40ms", 2, 1920},
		{"silk nb 60ms", 3, 2880},
		{"silk wb 20ms", 9, 960},
		{"hybrid swb 10ms", 12, 480},
		{"hybrid swb 20ms", 13, 960},
		{"hybrid fb 10ms", 14, 480},
		{"hybrid fb 20ms", 15, 960},
		{"celt 2.5ms", 16, 120},
		{"celt 5ms", 17, 240},
		{"celt 10ms", 18, 480},
		{"celt 20ms", 19, 960},
		{"celt fb 20ms", 31, 960},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := tt.config << 3 // countCode 0 -> single frame
			h, err := Parse([]byte{b})
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if h.FrameSize != tt.wantSize {
				t.Errorf("FrameSize = %d, want %d", h.FrameSize, tt.wantSize)
			}
			if h.FrameCount != 1 {
				t.Errorf("FrameCount = %d, want 1", h.FrameCount)
			}
		})
	}
}

func TestParseFrameCounts(t *testing.T) {
	// config=19 (celt 20ms), stereo=0
	base := uint8(19 << 3)

	t.Run("single", func(t *testing.T) {
		h, err := Parse([]byte{base | CountCodeSingle})
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		if h.FrameCount != 1 || h.Duration() != 960 {
			t.Errorf("got count=%d duration=%d", h.FrameCount, h.Duration())
		}
	})

	t.Run("two equal", func(t *testing.T) {
		h, err := Parse([]byte{base | CountCodeTwoEqual})
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		if h.FrameCount != 2 || h.Duration() != 1920 {
			t.Errorf("got count=%d duration=%d", h.FrameCount, h.Duration())
		}
	})

	t.Run("arbitrary", func(t *testing.T) {
		h, err := Parse([]byte{base | CountCodeArbitrary, 5})
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		if h.FrameCount != 5 || h.Duration() != 4800 {
			t.Errorf("got count=%d duration=%d", h.FrameCount, h.Duration())
		}
	})

	t.Run("arbitrary missing second byte", func(t *testing.T) {
		if _, err := Parse([]byte{base | CountCodeArbitrary}); err == nil {
			t.Error("expected error for missing frame-count byte")
		}
	})

	t.Run("arbitrary zero frames", func(t *testing.T) {
		if _, err := Parse([]byte{base | CountCodeArbitrary, 0}); err == nil {
			t.Error("expected error for zero-frame arbitrary count")
		}
	})
}

func TestParseEmptyPacket(t *testing.T) {
	if _, err := Parse(nil); err == nil {
		t.Error("expected error for empty packet")
	}
}
