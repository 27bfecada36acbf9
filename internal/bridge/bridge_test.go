package bridge

import (
	"io"
	"log/slog"
	"testing"

	"github.com/skypro1111/opus-rtp-pipeline/internal/pipeline"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPushDrainDeliversInOrder(t *testing.T) {
	b := New(4, testLogger())

	for i := 0; i < 3; i++ {
		b.Push(pipeline.AudioOutput{PTS: int64(i), HasPTS: true})
	}

	select {
	case <-b.Wake():
	default:
		t.Fatal("expected a pending wakeup after Push")
	}

	var got []int64
	done := b.Drain(func(out pipeline.AudioOutput) { got = append(got, out.PTS) })
	if done {
		t.Error("Drain() = done before Close, want false")
	}
	if len(got) != 3 {
		t.Fatalf("drained %d outputs, want 3", len(got))
	}
	for i, pts := range got {
		if pts != int64(i) {
			t.Errorf("got[%d] = %d, want %d", i, pts, i)
		}
	}
}

func TestDrainEmptyNotDone(t *testing.T) {
	b := New(4, testLogger())
	if done := b.Drain(func(pipeline.AudioOutput) {}); done {
		t.Error("Drain() on empty, open bridge = true, want false")
	}
}

func TestCloseThenDrainSignalsDone(t *testing.T) {
	b := New(4, testLogger())
	b.Push(pipeline.AudioOutput{PTS: 1, HasPTS: true})
	b.Close()

	var got int
	done := b.Drain(func(pipeline.AudioOutput) { got++ })
	if !done {
		t.Error("Drain() after Close = false, want true")
	}
	if got != 1 {
		t.Errorf("drained %d outputs, want 1 (queued message delivered before Eof)", got)
	}
}

func TestPushDropsWhenFull(t *testing.T) {
	b := New(1, testLogger())
	b.Push(pipeline.AudioOutput{PTS: 1, HasPTS: true})
	b.Push(pipeline.AudioOutput{PTS: 2, HasPTS: true})

	var got []int64
	b.Drain(func(out pipeline.AudioOutput) { got = append(got, out.PTS) })
	if len(got) != 1 {
		t.Fatalf("drained %d outputs, want 1 (second Push should drop)", len(got))
	}
}
