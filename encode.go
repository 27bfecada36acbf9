package opusbridge

import (
	"log/slog"

	"github.com/skypro1111/opus-rtp-pipeline/internal/encoder"
	"github.com/skypro1111/opus-rtp-pipeline/internal/metrics"
	"github.com/skypro1111/opus-rtp-pipeline/internal/pipeline"
	"github.com/skypro1111/opus-rtp-pipeline/internal/producer"
	"github.com/skypro1111/opus-rtp-pipeline/internal/queue"
)

// EncodeOptions configures start_rtp_encode (spec.md §6): it bundles an
// OpusEncoder with its own dedicated RtpProducer, matching the host
// control surface's single combined "rtp encode" lifecycle.
type EncodeOptions struct {
	RTPUrl            string
	SSRC              uint32
	PayloadType       uint8
	CNAME             string
	CryptoSuite       string
	KeyBase64         string
	Bitrate           int
	EnableFec         bool
	PacketLossPercent int
	SampleRate        int   // host PCM input rate
	MaxFuture         int64 // spec MAX_FUTURE override, 0 = default 4800

	EncodeInputCapacity   int // host -> encoder PCM queue
	ProducerLocalCapacity int // encoder -> producer queue, co-hosted (spec §4.6)
}

// EncodeHandle is the result of start_rtp_encode: an OpusEncoder feeding a
// dedicated RtpProducer.
type EncodeHandle struct {
	encIn  *queue.Queue
	prodIn *queue.Queue

	enc *encoder.Encoder
	pr  *producer.Producer

	encHandle  waiter
	prodHandle waiter
}

// StartRTPEncode spawns the OpusEncoder and RtpProducer workers.
func StartRTPEncode(opts EncodeOptions, abort <-chan struct{}, logger *slog.Logger, m *metrics.Metrics) (*EncodeHandle, error) {
	prodIn := queue.New(opts.ProducerLocalCapacity)
	pr, prodHandle, err := producer.Start(prodIn, producer.Params{
		URL:         opts.RTPUrl,
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

	encIn := queue.New(opts.EncodeInputCapacity)
	enc, encHandle, err := encoder.Start(encIn, prodIn, encoder.Params{
		InputSampleRate:   opts.SampleRate,
		Bitrate:           opts.Bitrate,
		EnableFec:         opts.EnableFec,
		PacketLossPercent: opts.PacketLossPercent,
	}, logger, m)
	if err != nil {
		encIn.CloseSend()
		encIn.CloseRecv()
		prodIn.CloseRecv()
		return nil, err
	}

	go func() {
		<-abort
		encIn.CloseRecv()
	}()

	return &EncodeHandle{
		encIn: encIn, prodIn: prodIn,
		enc: enc, pr: pr,
		encHandle: encHandle, prodHandle: prodHandle,
	}, nil
}

// ProducerQueue exposes the encoder's downstream producer input queue so a
// host can also hand it to StartFileDemux as out_queue, splicing
// externally-fed Ogg/Opus audio into the same RTP stream (spec.md §4.2
// data flow diagram: "host -> [queue] -> FileDemuxer -> [queue] -> RtpProducer").
func (h *EncodeHandle) ProducerQueue() *queue.Queue { return h.prodIn }

// PostPCM implements post_pcm(handle, bytes): little-endian s16 mono PCM.
func (h *EncodeHandle) PostPCM(data []byte) error {
	samples := pcmBytesToInt16(data)
	return h.encIn.Send(pipeline.Message{Kind: pipeline.KindPcm, Pcm: &pipeline.PcmBuffer{Samples: samples}}, true)
}

// PostFlushEncoder implements post_flush_encoder(handle) (spec §4.4 step 3).
func (h *EncodeHandle) PostFlushEncoder() error {
	return h.encIn.Send(pipeline.Message{Kind: pipeline.KindFlushEncoder}, true)
}

// PostClearProducerQueue implements post_clear_producer_queue(handle).
func (h *EncodeHandle) PostClearProducerQueue() error {
	return h.encIn.Send(pipeline.Message{Kind: pipeline.KindClearProducerQueue}, true)
}

// PostSetBitrate implements post_set_bitrate(handle, int).
func (h *EncodeHandle) PostSetBitrate(bitrate int) error {
	return h.encIn.Send(pipeline.Message{Kind: pipeline.KindSetBitrate, Bitrate: bitrate}, true)
}

// PostSetEnableFec implements post_set_enable_fec(handle, bool).
func (h *EncodeHandle) PostSetEnableFec(enabled bool) error {
	return h.encIn.Send(pipeline.Message{Kind: pipeline.KindSetFec, Fec: enabled}, true)
}

// PostSetPacketLossPercent implements post_set_packet_loss_percent(handle, int).
func (h *EncodeHandle) PostSetPacketLossPercent(pct int) error {
	return h.encIn.Send(pipeline.Message{Kind: pipeline.KindSetPacketLossPct, PacketLossPct: pct}, true)
}

// ClearMessageQueue implements clear_message_queue(handle) for the
// encoder's own input queue.
func (h *EncodeHandle) ClearMessageQueue() { drainNonBlocking(h.encIn) }

// Wait blocks until both the encoder and its producer have exited.
func (h *EncodeHandle) Wait() error {
	encErr := h.encHandle.Wait()
	prodErr := h.prodHandle.Wait()
	if encErr != nil {
		return encErr
	}
	return prodErr
}

func (h *EncodeHandle) FramesEncoded() uint64   { return h.enc.FramesEncoded() }
func (h *EncodeHandle) EncodeErrors() uint64    { return h.enc.EncodeErrors() }
func (h *EncodeHandle) Flushes() uint64         { return h.enc.Flushes() }
func (h *EncodeHandle) PacketsWritten() uint64  { return h.pr.PacketsWritten() }
func (h *EncodeHandle) RegressionDrops() uint64 { return h.pr.RegressionDrops() }
func (h *EncodeHandle) Rebases() uint64         { return h.pr.Rebases() }
