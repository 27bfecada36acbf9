package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the Opus/RTP pipeline.
type Metrics struct {
	// Queue metrics, one series per role, labeled by queue name.
	QueueDepth *prometheus.GaugeVec
	QueueDrops *prometheus.CounterVec

	// RtpDemuxer / FileDemuxer
	PacketsReceived  prometheus.Counter
	PacketsDropped   *prometheus.CounterVec // labeled by reason
	TicksEmitted     prometheus.Counter
	MissedRTPPackets prometheus.Counter

	// OpusDecoder
	FramesDecoded   prometheus.Counter
	FramesPLC       prometheus.Counter
	FramesFEC       prometheus.Counter
	DecodeErrors    prometheus.Counter

	// OpusEncoder
	FramesEncoded prometheus.Counter
	EncodeErrors  prometheus.Counter
	EncoderFlushes prometheus.Counter

	// RtpProducer
	ProducerRegressionDrops prometheus.Counter
	ProducerRebases         prometheus.Counter
	ProducerPacingSleep     prometheus.Histogram
	PacketsWritten          prometheus.Counter

	// Worker lifecycle
	WorkerFatalExits *prometheus.CounterVec // labeled by worker

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		QueueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "opusrtp_queue_depth",
			Help: "Current number of messages queued, per queue",
		}, []string{"queue"}),
		QueueDrops: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "opusrtp_queue_drops_total",
			Help: "Total number of messages dropped on a full or closed queue",
		}, []string{"queue"}),

		PacketsReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "opusrtp_packets_received_total",
			Help: "Total number of Opus packets received by a demuxer",
		}),
		PacketsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "opusrtp_packets_dropped_total",
			Help: "Total number of packets dropped by a demuxer, by reason",
		}, []string{"reason"}),
		TicksEmitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "opusrtp_ticks_emitted_total",
			Help: "Total number of keep-alive Tick messages emitted by the RtpDemuxer",
		}),
		MissedRTPPackets: promauto.NewCounter(prometheus.CounterOpts{
			Name: "opusrtp_missed_rtp_packets_total",
			Help: "Total count of the suppressed upstream 'RTP: missed N packets' message",
		}),

		FramesDecoded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "opusrtp_frames_decoded_total",
			Help: "Total number of Opus frames decoded in normal mode",
		}),
		FramesPLC: promauto.NewCounter(prometheus.CounterOpts{
			Name: "opusrtp_frames_plc_total",
			Help: "Total number of frames synthesized via packet loss concealment",
		}),
		FramesFEC: promauto.NewCounter(prometheus.CounterOpts{
			Name: "opusrtp_frames_fec_total",
			Help: "Total number of frames recovered via forward error correction",
		}),
		DecodeErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "opusrtp_decode_errors_total",
			Help: "Total number of per-frame decode errors",
		}),

		FramesEncoded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "opusrtp_frames_encoded_total",
			Help: "Total number of 20ms Opus frames encoded",
		}),
		EncodeErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "opusrtp_encode_errors_total",
			Help: "Total number of per-frame encode errors",
		}),
		EncoderFlushes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "opusrtp_encoder_flushes_total",
			Help: "Total number of FlushEncoder control messages handled",
		}),

		ProducerRegressionDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "opusrtp_producer_regression_drops_total",
			Help: "Total number of packets dropped by RtpProducer for a PTS regression",
		}),
		ProducerRebases: promauto.NewCounter(prometheus.CounterOpts{
			Name: "opusrtp_producer_rebases_total",
			Help: "Total number of PTS timeline rebases performed by RtpProducer",
		}),
		ProducerPacingSleep: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "opusrtp_producer_pacing_sleep_seconds",
			Help:    "Distribution of RtpProducer real-time pacing sleeps",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
		}),
		PacketsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "opusrtp_packets_written_total",
			Help: "Total number of RTP/SRTP packets written by RtpProducer",
		}),

		WorkerFatalExits: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "opusrtp_worker_fatal_exits_total",
			Help: "Total number of fatal worker exits, by worker role",
		}, []string{"worker"}),

		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "opusrtp_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "opusrtp_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "opusrtp_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordPacketDropped increments the per-reason packet drop counter.
func (m *Metrics) RecordPacketDropped(reason string) {
	m.PacketsDropped.WithLabelValues(reason).Inc()
}

// RecordQueueDrop increments the per-queue drop counter.
func (m *Metrics) RecordQueueDrop(queue string) {
	m.QueueDrops.WithLabelValues(queue).Inc()
}

// SetQueueDepth sets the current depth gauge for a named queue.
func (m *Metrics) SetQueueDepth(queue string, depth int) {
	m.QueueDepth.WithLabelValues(queue).Set(float64(depth))
}

// RecordWorkerFatalExit increments the fatal-exit counter for a worker role.
func (m *Metrics) RecordWorkerFatalExit(worker string) {
	m.WorkerFatalExits.WithLabelValues(worker).Inc()
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error.
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
