package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete pipeline configuration.
type Config struct {
	Receive QueueRoleConfig `yaml:"receive"`
	Decode  DecodeConfig    `yaml:"decode"`
	Encode  EncodeConfig    `yaml:"encode"`
	Produce ProduceConfig   `yaml:"produce"`
	File    FileConfig      `yaml:"file"`
	Queues  QueueConfig     `yaml:"queues"`
	HTTP    HTTPConfig      `yaml:"http"`
	Logging LoggingConfig   `yaml:"logging"`
}

// QueueRoleConfig groups the RtpDemuxer's SDP source and tick interval.
type QueueRoleConfig struct {
	SDPSource      string `yaml:"sdp_source"` // inline SDP text, or a file:// path
	TickIntervalUs int64  `yaml:"tick_interval_us"`
}

// DecodeConfig configures the OpusDecoder.
type DecodeConfig struct {
	SampleRate int `yaml:"sample_rate"` // one of 8000,12000,16000,24000,48000
	Channels   int `yaml:"channels"`    // 1 or 2
}

// EncodeConfig configures the OpusEncoder and its live-tunable defaults.
type EncodeConfig struct {
	InputSampleRate   int  `yaml:"input_sample_rate"`
	Bitrate           int  `yaml:"bitrate"`
	EnableFec         bool `yaml:"enable_fec"`
	PacketLossPercent int  `yaml:"packet_loss_percent"`
}

// ProduceConfig configures the RtpProducer's output transport and pacing.
type ProduceConfig struct {
	URL              string `yaml:"url"` // host:port, optionally prefixed rtp:// or srtp://
	SSRC             uint32 `yaml:"ssrc"`
	PayloadType      uint8  `yaml:"payload_type"`
	CNAME            string `yaml:"cname"`
	CryptoSuite      string `yaml:"crypto_suite"` // empty disables SRTP
	KeyBase64        string `yaml:"key_base64"`
	MaxFutureSamples int64  `yaml:"max_future_samples"` // spec MAX_FUTURE, default 4800
}

// FileConfig configures FileDemuxer's queue sizing.
type FileConfig struct {
	InputQueueCapacity  int `yaml:"input_queue_capacity"`
	OutputQueueCapacity int `yaml:"output_queue_capacity"`
}

// QueueConfig holds the remaining per-role queue capacities from spec §4.6.
type QueueConfig struct {
	ProducerLocalCapacity   int `yaml:"producer_local_capacity"`   // co-hosted encoder->producer
	ProducerNetworkCapacity int `yaml:"producer_network_capacity"` // network-facing producer input
	DecoderOutputCapacity   int `yaml:"decoder_output_capacity"`   // decoder->host bridge
	ReceiveCapacity         int `yaml:"receive_capacity"`          // rtpdemux output / decoder input
	EncodeInputCapacity     int `yaml:"encode_input_capacity"`     // host->encoder PCM input
}

// HTTPConfig contains diagnostics HTTP server configuration.
type HTTPConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
	Enabled bool   `yaml:"enabled"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration.
func (c *Config) Validate() error {
	if err := c.Receive.Validate(); err != nil {
		return fmt.Errorf("receive config: %w", err)
	}
	if err := c.Decode.Validate(); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	if err := c.Encode.Validate(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := c.Produce.Validate(); err != nil {
		return fmt.Errorf("produce config: %w", err)
	}
	if err := c.File.Validate(); err != nil {
		return fmt.Errorf("file config: %w", err)
	}
	if err := c.Queues.Validate(); err != nil {
		return fmt.Errorf("queues config: %w", err)
	}
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

// Validate validates the RtpDemuxer's SDP/tick configuration.
func (r *QueueRoleConfig) Validate() error {
	if r.SDPSource == "" {
		return fmt.Errorf("sdp_source cannot be empty")
	}
	if r.TickIntervalUs <= 0 {
		return fmt.Errorf("tick_interval_us must be positive, got %d", r.TickIntervalUs)
	}
	return nil
}

// validOpusSampleRates are the only sample rates opus_encoder_create and
// opus_decoder_create accept.
var validOpusSampleRates = map[int]bool{8000: true, 12000: true, 16000: true, 24000: true, 48000: true}

// Validate validates decode configuration.
func (d *DecodeConfig) Validate() error {
	if !validOpusSampleRates[d.SampleRate] {
		return fmt.Errorf("sample_rate must be one of 8000/12000/16000/24000/48000, got %d", d.SampleRate)
	}
	if d.Channels != 1 && d.Channels != 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", d.Channels)
	}
	return nil
}

// Validate validates encode configuration.
func (e *EncodeConfig) Validate() error {
	if !validOpusSampleRates[e.InputSampleRate] {
		return fmt.Errorf("input_sample_rate must be one of 8000/12000/16000/24000/48000, got %d", e.InputSampleRate)
	}
	if e.Bitrate < 6000 || e.Bitrate > 510000 {
		return fmt.Errorf("bitrate must be between 6000 and 510000, got %d", e.Bitrate)
	}
	if e.PacketLossPercent < 0 || e.PacketLossPercent > 100 {
		return fmt.Errorf("packet_loss_percent must be between 0 and 100, got %d", e.PacketLossPercent)
	}
	return nil
}

// Validate validates producer configuration.
func (p *ProduceConfig) Validate() error {
	if p.URL == "" {
		return fmt.Errorf("url cannot be empty")
	}
	if p.PayloadType > 127 {
		return fmt.Errorf("payload_type must fit in 7 bits, got %d", p.PayloadType)
	}
	if p.CryptoSuite != "" && p.KeyBase64 == "" {
		return fmt.Errorf("key_base64 required when crypto_suite is set")
	}
	if p.MaxFutureSamples < 0 {
		return fmt.Errorf("max_future_samples cannot be negative, got %d", p.MaxFutureSamples)
	}
	return nil
}

// Validate validates file demuxer queue sizing.
func (f *FileConfig) Validate() error {
	if f.InputQueueCapacity < 1 {
		return fmt.Errorf("input_queue_capacity must be at least 1, got %d", f.InputQueueCapacity)
	}
	if f.OutputQueueCapacity < 1 {
		return fmt.Errorf("output_queue_capacity must be at least 1, got %d", f.OutputQueueCapacity)
	}
	return nil
}

// Validate validates remaining per-role queue capacities.
func (q *QueueConfig) Validate() error {
	if q.ProducerLocalCapacity < 1 {
		return fmt.Errorf("producer_local_capacity must be at least 1, got %d", q.ProducerLocalCapacity)
	}
	if q.ProducerNetworkCapacity < 1 {
		return fmt.Errorf("producer_network_capacity must be at least 1, got %d", q.ProducerNetworkCapacity)
	}
	if q.DecoderOutputCapacity < 1 {
		return fmt.Errorf("decoder_output_capacity must be at least 1, got %d", q.DecoderOutputCapacity)
	}
	if q.ReceiveCapacity < 1 {
		return fmt.Errorf("receive_capacity must be at least 1, got %d", q.ReceiveCapacity)
	}
	if q.EncodeInputCapacity < 1 {
		return fmt.Errorf("encode_input_capacity must be at least 1, got %d", q.EncodeInputCapacity)
	}
	return nil
}

// Validate validates HTTP configuration.
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}
		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}
	return nil
}

// Validate validates logging configuration.
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// TickInterval returns the demuxer tick interval as a time.Duration.
func (r *QueueRoleConfig) TickInterval() time.Duration {
	return time.Duration(r.TickIntervalUs) * time.Microsecond
}

// MaxFuture returns the producer's look-ahead bound, defaulting to spec's
// MAX_FUTURE (4800 samples, 100ms at 48kHz) when unset.
func (p *ProduceConfig) MaxFuture() int64 {
	if p.MaxFutureSamples == 0 {
		return 4800
	}
	return p.MaxFutureSamples
}
