// Package bridge implements the single-producer, main-thread-consumer
// asynchronous handoff from the OpusDecoder thread to the host. The
// decoder pushes AudioOutput values non-blocking; a wakeup fires on a
// buffered signal channel the host runtime watches, and the host drains
// every pending output in one batch before invoking its callback per
// message (spec §4.6).
package bridge

import (
	"log/slog"

	"github.com/skypro1111/opus-rtp-pipeline/internal/pipeline"
	"github.com/skypro1111/opus-rtp-pipeline/internal/queue"
)

// Bridge hands decoded audio from the decoder thread to the host thread.
type Bridge struct {
	q      *queue.Queue
	wake   chan struct{}
	logger *slog.Logger
}

// New creates a bridge with the given output queue capacity.
func New(capacity int, logger *slog.Logger) *Bridge {
	return &Bridge{
		q:      queue.New(capacity),
		wake:   make(chan struct{}, 1),
		logger: logger,
	}
}

// Push is called from the decoder thread. It enqueues non-blocking and
// drops with a warning if the host hasn't drained fast enough.
func (b *Bridge) Push(out pipeline.AudioOutput) {
	err := b.q.Send(pipeline.Message{Kind: pipeline.KindAudioOutput, AudioOutput: &out}, false)
	if err != nil {
		b.logger.Warn("host callback bridge full, dropping decoded audio",
			slog.String("error", err.Error()),
		)
		return
	}
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Wake returns the channel the host runtime selects on to learn a batch
// is ready to drain.
func (b *Bridge) Wake() <-chan struct{} {
	return b.wake
}

// Drain removes every currently queued AudioOutput and invokes onAudio
// for each, in order. It returns done=true once the decoder has closed
// the bridge (via Close) and every message it sent has been delivered.
// Call it from the host thread, once per wakeup.
func (b *Bridge) Drain(onAudio func(pipeline.AudioOutput)) (done bool) {
	for {
		msg, err := b.q.Recv(false)
		switch err {
		case nil:
			onAudio(*msg.AudioOutput)
		case queue.ErrEof:
			return true
		default: // ErrWouldBlock: nothing left for this batch
			return false
		}
	}
}

// Close marks the bridge finished from the decoder side. Messages
// already queued are still delivered to Drain; the bridge's send side
// becomes sticky-closed so the host's next Drain call observes done=true
// once it catches up, letting the host release its callback handle.
func (b *Bridge) Close() {
	b.q.CloseSend()
	select {
	case b.wake <- struct{}{}:
	default:
	}
}
