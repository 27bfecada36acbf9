// Package queue implements the bounded, typed FIFO that every worker in
// the pipeline uses to hand pipeline.Message values to its single
// downstream consumer. Unlike a plain Go channel, a Queue tracks two
// independent sticky closure states (send side, receive side) so a
// producer and consumer can each observe Eof without racing on a shared
// close().
package queue

import (
	"errors"
	"sync"

	"github.com/skypro1111/opus-rtp-pipeline/internal/pipeline"
)

// ErrWouldBlock is returned by a non-blocking Send/Recv that cannot make
// progress immediately.
var ErrWouldBlock = errors.New("queue: would block")

// ErrEof is returned once a queue's relevant side has been closed.
var ErrEof = errors.New("queue: eof")

// Queue is a bounded FIFO of pipeline.Message with per-operation blocking
// or non-blocking semantics and sticky send_closed/recv_closed states.
type Queue struct {
	mu   sync.Mutex
	cond *sync.Cond

	buf      []pipeline.Message
	capacity int

	sendClosed bool
	recvClosed bool

	dropped uint64
}

// New creates a queue with the given slot capacity.
func New(capacity int) *Queue {
	q := &Queue{capacity: capacity}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Cap returns the queue's fixed slot capacity.
func (q *Queue) Cap() int {
	return q.capacity
}

// Len returns the number of messages currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// Dropped returns the number of messages CloseRecv discarded while they
// were still queued.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Send enqueues msg. If blocking is false and the queue is full, it
// returns ErrWouldBlock immediately without enqueuing. If blocking is
// true, it suspends until space is available or the receive side closes,
// in which case it returns ErrEof. Sending after the send side has been
// closed always returns ErrEof.
func (q *Queue) Send(msg pipeline.Message, blocking bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if q.sendClosed || q.recvClosed {
			return ErrEof
		}
		if len(q.buf) < q.capacity {
			q.buf = append(q.buf, msg)
			q.cond.Broadcast()
			return nil
		}
		if !blocking {
			return ErrWouldBlock
		}
		q.cond.Wait()
	}
}

// Recv dequeues the oldest message. If blocking is false and the queue is
// empty, it returns ErrWouldBlock. If blocking is true, it suspends until
// a message arrives or the queue is drained after the send side closes,
// in which case it returns ErrEof. Receiving after the receive side has
// been closed always returns ErrEof.
func (q *Queue) Recv(blocking bool) (pipeline.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if q.recvClosed {
			return pipeline.Message{}, ErrEof
		}
		if len(q.buf) > 0 {
			msg := q.buf[0]
			q.buf = q.buf[1:]
			q.cond.Broadcast()
			return msg, nil
		}
		if q.sendClosed {
			return pipeline.Message{}, ErrEof
		}
		if !blocking {
			return pipeline.Message{}, ErrWouldBlock
		}
		q.cond.Wait()
	}
}

// CloseSend sets the sticky send_closed state. Pending Send calls observe
// ErrEof; already-queued messages remain available to Recv until drained.
func (q *Queue) CloseSend() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sendClosed = true
	q.cond.Broadcast()
}

// CloseRecv sets the sticky recv_closed state and discards any messages
// still queued, counting them as dropped. Pending and future Send/Recv
// calls observe ErrEof.
func (q *Queue) CloseRecv() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.recvClosed = true
	q.dropped += uint64(len(q.buf))
	q.buf = nil
	q.cond.Broadcast()
}
