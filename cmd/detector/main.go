// Command detector runs the per-stream violation detection pipeline
// against a recorded inference replay and submits detected violations
// to the backend.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"traffic-violation/internal/config"
	"traffic-violation/internal/fusion"
	"traffic-violation/internal/ingest"
	"traffic-violation/internal/pipeline"
	"traffic-violation/internal/rules"
	"traffic-violation/internal/vision"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	replayPath := flag.String("replay", "", "path to a JSON-lines inference replay file")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	if *replayPath == "" {
		log.Fatal().Msg("-replay is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	replay, err := vision.LoadReplay(*replayPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load replay")
	}

	csvLog, err := rules.NewCSVLog(cfg.Pipeline.ObservationLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open observation log")
	}
	defer csvLog.Close()

	fuser := fusion.New(fusion.Config{
		EvictionGap:        cfg.Pipeline.EvictionGap,
		PlateMinConfidence: cfg.Pipeline.PlateMinConfidence,
		PlateMinCropPx:     cfg.Pipeline.PlateMinCropPx,
	}, log)

	engine := rules.NewEngine(rules.Config{
		CameraID:          cfg.Camera.ID,
		GPS:               cfg.Camera.GPS,
		EvidencePaddingPx: cfg.Pipeline.EvidencePaddingPx,
		MaxEvidenceWidth:  cfg.Pipeline.MaxEvidenceWidth,
		JPEGQuality:       cfg.Pipeline.JPEGQuality,
	}, csvLog, log)

	client := ingest.NewClient(ingest.Config{
		BackendURL:      cfg.Ingest.BackendURL,
		QueueSize:       cfg.Ingest.QueueSize,
		Workers:         cfg.Ingest.Workers,
		MaxAttempts:     cfg.Ingest.MaxAttempts,
		BackoffBase:     cfg.Ingest.BackoffBase,
		BackoffMax:      cfg.Ingest.BackoffMax,
		RequestTimeout:  cfg.Ingest.RequestTimeout,
		ShutdownTimeout: cfg.Ingest.ShutdownTimeout,
	}, log)

	p := pipeline.New(replay, replay, fuser, engine, client, cfg.Pipeline.FrameStride, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = p.Run(ctx, replay.Frames(ctx))
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("pipeline stopped")
	}

	// Let queued submissions drain before exiting.
	client.Close(context.Background())

	m := client.MetricsSnapshot()
	log.Info().
		Uint64("submitted", m.Submitted).
		Uint64("unsubmitted", m.Unsubmitted).
		Uint64("dropped", m.Dropped).
		Msg("pipeline finished")
}
