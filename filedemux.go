package opusbridge

import (
	"log/slog"

	"github.com/skypro1111/opus-rtp-pipeline/internal/filedemux"
	"github.com/skypro1111/opus-rtp-pipeline/internal/metrics"
	"github.com/skypro1111/opus-rtp-pipeline/internal/pipeline"
	"github.com/skypro1111/opus-rtp-pipeline/internal/queue"
)

// FileDemuxOptions configures start_file_demux (spec.md §6).
type FileDemuxOptions struct {
	InputQueueCapacity int // host -> demuxer byte buffer queue (spec §4.6)
}

// FileDemuxHandle is the result of start_file_demux: a FileDemuxer worker
// parsing host-pushed Ogg/Opus bytes into Packet messages on outQueue,
// typically an EncodeHandle's ProducerQueue so synthesized speech shares
// the live RTP stream.
type FileDemuxHandle struct {
	in      *queue.Queue
	demuxer *filedemux.Demuxer
	handle  waiter
}

// StartFileDemux spawns the FileDemuxer worker. outQueue is owned by the
// caller (spec.md §3: "queues are owned by the spawning site"); the
// demuxer only ever sends to it.
func StartFileDemux(outQueue *queue.Queue, opts FileDemuxOptions, abort <-chan struct{}, logger *slog.Logger, m *metrics.Metrics) *FileDemuxHandle {
	in := queue.New(opts.InputQueueCapacity)
	d, handle := filedemux.Start(in, outQueue, logger, m)

	go func() {
		<-abort
		in.CloseRecv()
	}()

	return &FileDemuxHandle{in: in, demuxer: d, handle: handle}
}

// PostOgg implements post_ogg(handle, bytes).
func (h *FileDemuxHandle) PostOgg(data []byte) error {
	return h.in.Send(pipeline.Message{Kind: pipeline.KindOggBytes, OggBytes: data}, true)
}

// PostOggReset implements post_ogg_reset(handle).
func (h *FileDemuxHandle) PostOggReset() error {
	return h.in.Send(pipeline.Message{Kind: pipeline.KindOggReset}, true)
}

// PostEndOfFile implements post_end_of_file(handle).
func (h *FileDemuxHandle) PostEndOfFile() error {
	return h.in.Send(pipeline.Message{Kind: pipeline.KindEof}, true)
}

// ClearMessageQueue implements clear_message_queue(handle).
func (h *FileDemuxHandle) ClearMessageQueue() { drainNonBlocking(h.in) }

// Wait blocks until the file demuxer has exited.
func (h *FileDemuxHandle) Wait() error { return h.handle.Wait() }

func (h *FileDemuxHandle) PacketsOut() uint64     { return h.demuxer.PacketsOut() }
func (h *FileDemuxHandle) PacketsDropped() uint64 { return h.demuxer.PacketsDropped() }
