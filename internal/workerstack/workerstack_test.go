package workerstack

import (
	"bytes"
	"log/slog"
	"os"
	"strings"
	"testing"
)

func testLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestResolveUnset(t *testing.T) {
	os.Unsetenv("PRODUCER_THREAD_STACK_SIZE")
	var buf bytes.Buffer
	size, ok := Resolve(testLogger(&buf), RoleProducer)
	if ok || size != 0 {
		t.Errorf("Resolve() = (%d, %v), want (0, false)", size, ok)
	}
}

func TestResolveValid(t *testing.T) {
	t.Setenv("ENCODER_THREAD_STACK_SIZE", "1048576")
	var buf bytes.Buffer
	size, ok := Resolve(testLogger(&buf), RoleEncoder)
	if !ok || size != 1048576 {
		t.Errorf("Resolve() = (%d, %v), want (1048576, true)", size, ok)
	}
	if !strings.Contains(buf.String(), "not honored") {
		t.Errorf("expected log to note the override is not honored, got %q", buf.String())
	}
}

func TestResolveInvalid(t *testing.T) {
	t.Setenv("DEMUXER_THREAD_STACK_SIZE", "not-a-number")
	var buf bytes.Buffer
	size, ok := Resolve(testLogger(&buf), RoleDemuxer)
	if ok || size != 0 {
		t.Errorf("Resolve() = (%d, %v), want (0, false) on invalid input", size, ok)
	}
	if !strings.Contains(buf.String(), "ignoring invalid") {
		t.Errorf("expected warning log for invalid value, got %q", buf.String())
	}
}

func TestResolveNonPositive(t *testing.T) {
	t.Setenv("MUXER_THREAD_STACK_SIZE", "0")
	var buf bytes.Buffer
	size, ok := Resolve(testLogger(&buf), RoleMuxer)
	if ok || size != 0 {
		t.Errorf("Resolve() = (%d, %v), want (0, false) for zero", size, ok)
	}
}
