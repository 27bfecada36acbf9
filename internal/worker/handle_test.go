package worker

import (
	"errors"
	"testing"
	"time"
)

func TestHandleWaitReturnsFinishError(t *testing.T) {
	h := NewHandle()
	want := errors.New("boom")

	go h.Finish(want)

	if got := h.Wait(); got != want {
		t.Errorf("Wait() = %v, want %v", got, want)
	}
}

func TestHandleMultipleWaiters(t *testing.T) {
	h := NewHandle()
	n := 5
	results := make(chan error, n)

	for i := 0; i < n; i++ {
		go func() { results <- h.Wait() }()
	}

	time.Sleep(10 * time.Millisecond)
	h.Finish(nil)

	for i := 0; i < n; i++ {
		select {
		case err := <-results:
			if err != nil {
				t.Errorf("waiter %d: got %v, want nil", i, err)
			}
		case <-time.After(time.Second):
			t.Fatal("waiter never unblocked")
		}
	}
}
