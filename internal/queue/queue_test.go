package queue

import (
	"testing"
	"time"

	"github.com/skypro1111/opus-rtp-pipeline/internal/pipeline"
)

func TestSendRecvFIFO(t *testing.T) {
	q := New(4)

	for i := 0; i < 3; i++ {
		if err := q.Send(pipeline.Message{Kind: pipeline.KindTick, Bitrate: i}, false); err != nil {
			t.Fatalf("Send(%d): %v", i, err)
		}
	}

	for i := 0; i < 3; i++ {
		msg, err := q.Recv(false)
		if err != nil {
			t.Fatalf("Recv(%d): %v", i, err)
		}
		if msg.Bitrate != i {
			t.Errorf("Recv(%d): got Bitrate=%d, want %d", i, msg.Bitrate, i)
		}
	}
}

func TestNonBlockingSendWouldBlock(t *testing.T) {
	q := New(1)
	if err := q.Send(pipeline.Message{Kind: pipeline.KindTick}, false); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if err := q.Send(pipeline.Message{Kind: pipeline.KindTick}, false); err != ErrWouldBlock {
		t.Errorf("second send on full queue: got %v, want ErrWouldBlock", err)
	}
	if q.Len() != 1 {
		t.Errorf("Len() = %d, want 1 (WouldBlock must not enqueue)", q.Len())
	}
}

func TestNonBlockingRecvWouldBlock(t *testing.T) {
	q := New(1)
	if _, err := q.Recv(false); err != ErrWouldBlock {
		t.Errorf("Recv on empty queue: got %v, want ErrWouldBlock", err)
	}
}

func TestBlockingSendUnblocksOnSpace(t *testing.T) {
	q := New(1)
	if err := q.Send(pipeline.Message{Kind: pipeline.KindTick}, false); err != nil {
		t.Fatalf("first send: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- q.Send(pipeline.Message{Kind: pipeline.KindEof}, true)
	}()

	select {
	case <-done:
		t.Fatal("blocking send returned before space was freed")
	case <-time.After(30 * time.Millisecond):
	}

	if _, err := q.Recv(false); err != nil {
		t.Fatalf("Recv: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("blocking send: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocking send never unblocked")
	}
}

func TestCloseRecvDrainsAndReturnsEof(t *testing.T) {
	q := New(4)
	_ = q.Send(pipeline.Message{Kind: pipeline.KindTick}, false)
	_ = q.Send(pipeline.Message{Kind: pipeline.KindTick}, false)

	q.CloseRecv()

	if _, err := q.Recv(false); err != ErrEof {
		t.Errorf("Recv after CloseRecv: got %v, want ErrEof", err)
	}
	if err := q.Send(pipeline.Message{Kind: pipeline.KindTick}, false); err != ErrEof {
		t.Errorf("Send after CloseRecv: got %v, want ErrEof", err)
	}
	if got := q.Dropped(); got != 2 {
		t.Errorf("Dropped() = %d, want 2", got)
	}
}

func TestCloseSendDrainsThenEof(t *testing.T) {
	q := New(4)
	_ = q.Send(pipeline.Message{Kind: pipeline.KindTick, Bitrate: 1}, false)
	q.CloseSend()

	msg, err := q.Recv(false)
	if err != nil {
		t.Fatalf("Recv after CloseSend should still drain queued message: %v", err)
	}
	if msg.Bitrate != 1 {
		t.Errorf("drained message Bitrate = %d, want 1", msg.Bitrate)
	}

	if _, err := q.Recv(false); err != ErrEof {
		t.Errorf("Recv after drain: got %v, want ErrEof", err)
	}
}

func TestBlockingRecvUnblocksOnCloseSend(t *testing.T) {
	q := New(4)
	done := make(chan error, 1)
	go func() {
		_, err := q.Recv(true)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	q.CloseSend()

	select {
	case err := <-done:
		if err != ErrEof {
			t.Errorf("blocking Recv after CloseSend: got %v, want ErrEof", err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocking Recv never unblocked after CloseSend")
	}
}
