// Capture server - microphone streaming, clip recording, and realtime session brokering
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lingostream/capture/internal/config"
	"github.com/lingostream/capture/internal/device"
	"github.com/lingostream/capture/internal/orchestrator"
	"github.com/lingostream/capture/internal/record"
	"github.com/lingostream/capture/internal/server"
	"github.com/lingostream/capture/internal/session"
	"github.com/lingostream/capture/internal/stream"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)

	cfg := config.Load()

	// Host audio backend
	backend := device.NewPortAudio()
	defer func() { _ = backend.Close() }()

	neg := device.NewNegotiator(backend, cfg.SecureContext, cfg.AllowInsecure)

	// Capture paths
	engine := stream.New(backend, neg)
	recorder := record.NewRecorder(backend, neg)

	orch := orchestrator.New(engine, recorder,
		stream.Config{
			TargetSampleRate: cfg.StreamSampleRate,
			FrameSize:        cfg.FrameSize,
		},
		record.Opts{
			MaxDuration:   time.Duration(cfg.MaxRecordingMs) * time.Millisecond,
			SampleRate:    cfg.RecordSampleRate,
			Bitrate:       cfg.RecordBitrate,
			ChunkInterval: time.Duration(cfg.ChunkIntervalMs) * time.Millisecond,
			MinClipBytes:  cfg.MinClipBytes,
		},
	)

	// Session broker for the upstream realtime service
	broker := session.NewBroker(session.Opts{
		APIKey:      cfg.APIKey,
		Model:       cfg.RealtimeModel,
		RealtimeURL: cfg.RealtimeURL,
		MintURL:     cfg.MintURL,
	})

	srv := server.New(orch, broker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	orch.Run(ctx)

	// Start HTTP server
	httpServer := &http.Server{
		Addr:        cfg.HTTPAddr,
		Handler:     srv.Handler(),
		ReadTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("capture server starting", "http", cfg.HTTPAddr, "stream_rate", cfg.StreamSampleRate, "record_rate", cfg.RecordSampleRate)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	orch.Shutdown()
	slog.Info("shutdown complete")
}
