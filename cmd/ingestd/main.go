// Command ingestd is the main entry point for the ingestd audio ingestion
// and transcription server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/ingestd/internal/app"
	"github.com/MrWong99/ingestd/internal/config"
	"github.com/MrWong99/ingestd/internal/ingest"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "ingestd: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "ingestd: %v\n", err)
		}
		return 1
	}

	// ── Logger ─────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("ingestd starting",
		"config", *configPath,
		"addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		"log_level", cfg.Server.LogLevel,
	)

	// ── Transcriber backend + audio consumer list ─────────────────────
	consumers := []ingest.ConsumerPair{
		ingest.NewWAVWriterConsumer(cfg.Audio.RecordingsDir),
	}
	var whisperModel whisperlib.Model
	switch cfg.Transcriber.Backend {
	case config.TranscriberLocal:
		whisperModel, err = whisperlib.New(cfg.Transcriber.Local.ModelPath)
		if err != nil {
			slog.Error("failed to load whisper.cpp model", "path", cfg.Transcriber.Local.ModelPath, "err", err)
			return 1
		}
		defer whisperModel.Close()
		consumers = append(consumers, ingest.NewLocalTranscriberConsumer(whisperModel, cfg.Transcriber.Local.Language, nil))
	case config.TranscriberCloud:
		consumers = append(consumers, ingest.NewCloudTranscriberConsumer(ingest.CloudRecognizerConfig{
			Endpoint:   cfg.Transcriber.Cloud.Endpoint,
			APIKey:     cfg.Transcriber.Cloud.APIKey,
			SampleRate: cfg.Audio.TargetSampleRate,
		}, nil))
	}

	// ── Analyzer + peer connection factory ────────────────────────────
	// Concrete pion/webrtc wiring is an out-of-scope pluggable
	// collaborator; until it's supplied the signaling handler rejects
	// every offer with an error rather than silently pretending to work.
	collab := app.Collaborators{
		NewPeerConn: unconfiguredPeerConnFactory,
	}
	if apiKey := os.Getenv("INGESTD_OPENAI_API_KEY"); apiKey != "" {
		analyzer, err := ingest.NewOpenAIAnalyzer(apiKey, "")
		if err != nil {
			slog.Error("failed to construct AI analyzer", "err", err)
			return 1
		}
		collab.Analyzer = analyzer
	} else {
		slog.Warn("INGESTD_OPENAI_API_KEY not set; AI analysis worker pool will error on every job")
		collab.Analyzer = noopAnalyzer{}
	}

	// ── Application wiring ─────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, consumers, collab)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ──────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// unconfiguredPeerConnFactory stands in until a concrete WebRTC transport
// is wired in; every call returns a connection whose SetRemoteOffer always
// fails, so offers are rejected cleanly instead of hanging.
func unconfiguredPeerConnFactory() ingest.PeerConnection {
	return &rejectingPeerConn{}
}

type rejectingPeerConn struct{}

func (rejectingPeerConn) SetRemoteOffer(context.Context, string) (string, error) {
	return "", errors.New("ingestd: no WebRTC transport configured")
}
func (rejectingPeerConn) AddICECandidate(ingest.ParsedICECandidate) error { return nil }
func (rejectingPeerConn) AudioInput() <-chan ingest.RawFrame {
	ch := make(chan ingest.RawFrame)
	close(ch)
	return ch
}
func (rejectingPeerConn) Close() error { return nil }

// noopAnalyzer stands in for an Analyzer when no AI provider credentials
// are configured.
type noopAnalyzer struct{}

func (noopAnalyzer) Analyze(context.Context, ingest.ProjectId, []ingest.TranscriptRow) ([]ingest.AIResult, error) {
	return nil, errors.New("ingestd: no AI analyzer configured")
}

// ── Logger ─────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
