// Command server wires the Opus/RTP pipeline into a standalone relay
// service: it decodes an inbound Opus-over-RTP/SRTP stream described by an
// SDP file, forwards the recovered PCM straight into an OpusEncoder/
// RtpProducer pair bound for a second RTP/SRTP destination, and exposes
// HTTP diagnostics and Prometheus metrics alongside it.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/skypro1111/opus-rtp-pipeline"
	"github.com/skypro1111/opus-rtp-pipeline/internal/config"
	"github.com/skypro1111/opus-rtp-pipeline/internal/logging"
	"github.com/skypro1111/opus-rtp-pipeline/internal/metrics"
	"github.com/skypro1111/opus-rtp-pipeline/internal/server"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, missed := initLogger(cfg.Logging)
	logger.Info("opus-rtp-pipeline starting", slog.String("config_path", *configPath))

	sdp, err := loadSDP(cfg.Receive.SDPSource)
	if err != nil {
		logger.Error("failed to load sdp source", slog.String("error", err.Error()))
		os.Exit(1)
	}

	appMetrics := metrics.NewMetrics()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	abort := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(abort)
	}()

	encodeHandle, err := opusbridge.StartRTPEncode(opusbridge.EncodeOptions{
		RTPUrl:            cfg.Produce.URL,
		SSRC:              cfg.Produce.SSRC,
		PayloadType:       cfg.Produce.PayloadType,
		CNAME:             cfg.Produce.CNAME,
		CryptoSuite:       cfg.Produce.CryptoSuite,
		KeyBase64:         cfg.Produce.KeyBase64,
		Bitrate:           cfg.Encode.Bitrate,
		EnableFec:         cfg.Encode.EnableFec,
		PacketLossPercent: cfg.Encode.PacketLossPercent,
		SampleRate:        cfg.Encode.InputSampleRate,
		MaxFuture:         cfg.Produce.MaxFuture(),

		EncodeInputCapacity:   cfg.Queues.EncodeInputCapacity,
		ProducerLocalCapacity: cfg.Queues.ProducerLocalCapacity,
	}, abort, logger, appMetrics)
	if err != nil {
		logger.Error("failed to start rtp encode pipeline", slog.String("error", err.Error()))
		os.Exit(1)
	}

	decodeHandle, err := opusbridge.StartRTPDecode(opusbridge.DecodeOptions{
		SDP:          sdp,
		TickInterval: cfg.Receive.TickInterval(),
		SampleRate:   cfg.Decode.SampleRate,
		Channels:     cfg.Decode.Channels,

		ReceiveQueueCapacity: cfg.Queues.ReceiveCapacity,
		BridgeCapacity:       cfg.Queues.DecoderOutputCapacity,

		OnAudio: func(out opusbridge.AudioOutput) {
			if err := encodeHandle.PostPCM(int16ToLEBytes(out.Buffer)); err != nil {
				logger.Warn("relay: failed to post decoded pcm to encoder", slog.String("error", err.Error()))
			}
		},
	}, abort, logger, appMetrics)
	if err != nil {
		logger.Error("failed to start rtp decode pipeline", slog.String("error", err.Error()))
		cancel()
		os.Exit(1)
	}

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		snapshot := func() server.Snapshot {
			return server.Snapshot{
				PacketsReceived: decodeHandle.PacketsReceived(),
				PacketsDropped:  decodeHandle.PacketsDropped(),
				FramesDecoded:   decodeHandle.FramesDecoded(),
				FramesPLC:       decodeHandle.FramesPLC(),
				FramesFEC:       decodeHandle.FramesFEC(),
				DecodeErrors:    decodeHandle.DecodeErrors(),
				FramesEncoded:   encodeHandle.FramesEncoded(),
				EncodeErrors:    encodeHandle.EncodeErrors(),
				EncoderFlushes:  encodeHandle.Flushes(),
				PacketsWritten:  encodeHandle.PacketsWritten(),
				RegressionDrops: encodeHandle.RegressionDrops(),
				Rebases:         encodeHandle.Rebases(),
			}
		}
		httpServer = server.NewHTTPServer(server.HTTPServerConfig{
			Address: cfg.HTTP.Address,
			Port:    cfg.HTTP.Port,
			Enabled: cfg.HTTP.Enabled,
		}, logger, cfg, snapshot, appMetrics)
		if err := httpServer.Start(); err != nil {
			logger.Error("failed to start http diagnostics server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("pipeline started, waiting for signals")

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
	}

	cancel()

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("error stopping http server", slog.String("error", err.Error()))
		}
	}

	if err := decodeHandle.Wait(); err != nil {
		logger.Error("decode pipeline exited with error", slog.String("error", err.Error()))
	}
	if err := encodeHandle.Wait(); err != nil {
		logger.Error("encode pipeline exited with error", slog.String("error", err.Error()))
	}

	logger.Info("pipeline stopped", slog.Uint64("missed_rtp_packets", missed()))
}

// loadSDP resolves the sdp_source config value: an inline SDP blob, or a
// file:// path to one.
func loadSDP(source string) (string, error) {
	const filePrefix = "file://"
	if !strings.HasPrefix(source, filePrefix) {
		return source, nil
	}
	data, err := os.ReadFile(strings.TrimPrefix(source, filePrefix))
	if err != nil {
		return "", fmt.Errorf("read sdp file: %w", err)
	}
	return string(data), nil
}

func int16ToLEBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(uint16(s))
		out[i*2+1] = byte(uint16(s) >> 8)
	}
	return out
}

// initLogger builds the structured logger per SPEC_FULL.md §10, wrapped in
// the upstream log-suppression filter named in spec.md §6.
func initLogger(cfg config.LoggingConfig) (*slog.Logger, func() uint64) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level, AddSource: level == slog.LevelDebug}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = f
		}
	}

	var base slog.Handler
	if cfg.Format == "json" {
		base = slog.NewJSONHandler(output, opts)
	} else {
		base = slog.NewTextHandler(output, opts)
	}

	suppressing := logging.NewSuppressingHandler(base)
	return slog.New(suppressing), suppressing.MissedPackets
}
