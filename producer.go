package opusbridge

import (
	"log/slog"

	"github.com/skypro1111/opus-rtp-pipeline/internal/metrics"
	"github.com/skypro1111/opus-rtp-pipeline/internal/producer"
	"github.com/skypro1111/opus-rtp-pipeline/internal/queue"
)

// ProducerOptions configures start_producer (spec.md §6): a standalone
// RtpProducer a host can feed directly (e.g. from its own FileDemuxer
// wiring) without an attached OpusEncoder.
type ProducerOptions struct {
	URL         string
	SSRC        uint32
	PayloadType uint8
	CNAME       string
	CryptoSuite string
	KeyBase64   string
	MaxFuture   int64

	InputQueueCapacity int
}

// ProducerHandle is the result of start_producer.
type ProducerHandle struct {
	in     *queue.Queue
	pr     *producer.Producer
	handle waiter
}

// StartProducer opens the RTP/SRTP output described by opts and spawns the
// RtpProducer worker.
func StartProducer(opts ProducerOptions, abort <-chan struct{}, logger *slog.Logger, m *metrics.Metrics) (*ProducerHandle, error) {
	in := queue.New(opts.InputQueueCapacity)
	pr, handle, err := producer.Start(in, producer.Params{
		URL:         opts.URL,
		SSRC:        opts.SSRC,
		PayloadType: opts.PayloadType,
		CNAME:       opts.CNAME,
		CryptoSuite: opts.CryptoSuite,
		KeyBase64:   opts.KeyBase64,
		MaxFuture:   opts.MaxFuture,
	}, logger, m)
	if err != nil {
		return nil, err
	}

	go func() {
		<-abort
		in.CloseRecv()
	}()

	return &ProducerHandle{in: in, pr: pr, handle: handle}, nil
}

// InputQueue exposes the producer's Packet input queue so a host can hand
// it to StartFileDemux as out_queue, per spec.md §6's start_file_demux
// signature.
func (h *ProducerHandle) InputQueue() *queue.Queue { return h.in }

// Wait blocks until the producer has exited.
func (h *ProducerHandle) Wait() error { return h.handle.Wait() }

func (h *ProducerHandle) PacketsWritten() uint64  { return h.pr.PacketsWritten() }
func (h *ProducerHandle) RegressionDrops() uint64 { return h.pr.RegressionDrops() }
func (h *ProducerHandle) Rebases() uint64         { return h.pr.Rebases() }
