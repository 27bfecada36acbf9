package config

import (
	"os"
	"path/filepath"
	"testing"
)

func validConfig() Config {
	return Config{
		Receive: QueueRoleConfig{
			SDPSource:      "v=0\r\n",
			TickIntervalUs: 500000,
		},
		Decode: DecodeConfig{SampleRate: 24000, Channels: 1},
		Encode: EncodeConfig{
			InputSampleRate:   24000,
			Bitrate:           64000,
			EnableFec:         true,
			PacketLossPercent: 5,
		},
		Produce: ProduceConfig{
			URL:         "rtp://127.0.0.1:5004",
			PayloadType: 111,
		},
		File: FileConfig{
			InputQueueCapacity:  64,
			OutputQueueCapacity: 2048,
		},
		Queues: QueueConfig{
			ProducerLocalCapacity:   1024,
			ProducerNetworkCapacity: 8192,
			DecoderOutputCapacity:   256,
			ReceiveCapacity:         512,
			EncodeInputCapacity:     512,
		},
		HTTP: HTTPConfig{Enabled: true, Address: "0.0.0.0", Port: 8080},
		Logging: LoggingConfig{Level: "info", Format: "text", Output: "stdout"},
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid configuration",
			mutate:      func(c *Config) {},
			expectError: false,
		},
		{
			name:        "empty sdp source",
			mutate:      func(c *Config) { c.Receive.SDPSource = "" },
			expectError: true,
			errorMsg:    "sdp_source cannot be empty",
		},
		{
			name:        "bad decode sample rate",
			mutate:      func(c *Config) { c.Decode.SampleRate = 44100 },
			expectError: true,
			errorMsg:    "sample_rate must be one of",
		},
		{
			name:        "bad decode channels",
			mutate:      func(c *Config) { c.Decode.Channels = 3 },
			expectError: true,
			errorMsg:    "channels must be 1 or 2",
		},
		{
			name:        "bitrate too low",
			mutate:      func(c *Config) { c.Encode.Bitrate = 1000 },
			expectError: true,
			errorMsg:    "bitrate must be between",
		},
		{
			name:        "empty producer url",
			mutate:      func(c *Config) { c.Produce.URL = "" },
			expectError: true,
			errorMsg:    "url cannot be empty",
		},
		{
			name: "crypto suite without key",
			mutate: func(c *Config) {
				c.Produce.CryptoSuite = "AES_CM_128_HMAC_SHA1_80"
			},
			expectError: true,
			errorMsg:    "key_base64 required",
		},
		{
			name:        "zero file queue capacity",
			mutate:      func(c *Config) { c.File.InputQueueCapacity = 0 },
			expectError: true,
			errorMsg:    "input_queue_capacity must be at least 1",
		},
		{
			name:        "http enabled without address",
			mutate:      func(c *Config) { c.HTTP.Address = "" },
			expectError: true,
			errorMsg:    "http address cannot be empty",
		},
		{
			name:        "zero receive queue capacity",
			mutate:      func(c *Config) { c.Queues.ReceiveCapacity = 0 },
			expectError: true,
			errorMsg:    "receive_capacity must be at least 1",
		},
		{
			name:        "zero encode input queue capacity",
			mutate:      func(c *Config) { c.Queues.EncodeInputCapacity = 0 },
			expectError: true,
			errorMsg:    "encode_input_capacity must be at least 1",
		},
		{
			name:        "bad log level",
			mutate:      func(c *Config) { c.Logging.Level = "verbose" },
			expectError: true,
			errorMsg:    "level must be one of",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.expectError {
				if err == nil {
					t.Fatalf("expected error but got none")
				}
				if tt.errorMsg != "" && !contains(err.Error(), tt.errorMsg) {
					t.Errorf("expected error to contain %q, got %q", tt.errorMsg, err.Error())
				}
			} else if err != nil {
				t.Fatalf("expected no error but got: %v", err)
			}
		})
	}
}

func TestLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	data := `
receive:
  sdp_source: "v=0\r\n"
  tick_interval_us: 500000
decode:
  sample_rate: 24000
  channels: 1
encode:
  input_sample_rate: 24000
  bitrate: 64000
  enable_fec: true
  packet_loss_percent: 5
produce:
  url: "rtp://127.0.0.1:5004"
  payload_type: 111
file:
  input_queue_capacity: 64
  output_queue_capacity: 2048
queues:
  producer_local_capacity: 1024
  producer_network_capacity: 8192
  decoder_output_capacity: 256
  receive_capacity: 512
  encode_input_capacity: 512
http:
  enabled: true
  address: "0.0.0.0"
  port: 8080
logging:
  level: info
  format: text
  output: stdout
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Produce.URL != "rtp://127.0.0.1:5004" {
		t.Errorf("Produce.URL = %q", cfg.Produce.URL)
	}
	if cfg.Produce.MaxFuture() != 4800 {
		t.Errorf("MaxFuture() default = %d, want 4800", cfg.Produce.MaxFuture())
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("expected error loading missing file")
	}
}

func contains(haystack, needle string) bool {
	return len(needle) == 0 || (len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0)
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
