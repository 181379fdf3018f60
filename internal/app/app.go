// Package app wires all ingestd subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the HTTP listener until ctx is cancelled, and
// Shutdown tears everything down in order.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/ingestd/internal/config"
	"github.com/MrWong99/ingestd/internal/health"
	"github.com/MrWong99/ingestd/internal/ingest"
	"github.com/MrWong99/ingestd/internal/observe"
	"github.com/MrWong99/ingestd/internal/storage"
)

// Collaborators holds the pluggable, out-of-scope implementations main.go
// must supply: the concrete WebRTC peer connection factory and the AI
// analysis backend. Neither is constructed here since both are external
// vendor integrations.
type Collaborators struct {
	NewPeerConn ingest.PeerConnectionFactory
	Analyzer    ingest.Analyzer
}

// App owns all subsystem lifetimes for one running ingestd process.
type App struct {
	cfg *config.Config

	store   *storage.Store
	tickets *ingest.TicketStore
	pool    *ingest.WorkerPool
	manager *ingest.Manager
	server  *http.Server

	closers []func() error

	stopOnce sync.Once
}

// New creates an App by wiring storage, the session manager, the AI worker
// pool, and the HTTP signaling handler together. It performs all
// initialisation synchronously, including connecting to the database and
// running migrations. consumers is the ordered audio consumer list
// (typically a WAV writer followed by the configured transcriber); main.go
// builds it since the local transcriber backend owns a whisper.cpp model
// whose lifetime main.go also manages.
func New(ctx context.Context, cfg *config.Config, consumers []ingest.ConsumerPair, collab Collaborators) (*App, error) {
	a := &App{cfg: cfg}

	store, err := storage.NewStore(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("app: init storage: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, func() error { store.Close(); return nil })

	a.tickets = ingest.NewTicketStore(0)

	a.pool = ingest.NewWorkerPool(ctx, cfg.AIPool.Workers, cfg.AIPool.QueueCapacity, store, collab.Analyzer, nil)
	a.closers = append(a.closers, func() error { a.pool.Stop(); return nil })

	settings := ingest.Settings{
		TargetSampleRate: cfg.Audio.TargetSampleRate,
		RecordingsDir:    cfg.Audio.RecordingsDir,
		BufferFrames:     cfg.Audio.BufferFrames,
		WordThreshold:    cfg.Coalescer.WordThreshold,
		WindowSeconds:    cfg.Coalescer.WindowSeconds,
	}
	a.manager = ingest.NewManager(consumers, settings, store, a.pool)
	// The worker pool needs the manager to reach a session's outbound
	// socket; NewWorkerPool was called before the manager existed, so wire
	// it back in now.
	a.pool.AttachManager(a.manager)

	signaling := &ingest.SignalingHandler{
		Manager:          a.manager,
		Tickets:          a.tickets,
		Storage:          store,
		NewPeerConn:      collab.NewPeerConn,
		TargetSampleRate: cfg.Audio.TargetSampleRate,
		BufferFrames:     cfg.Audio.BufferFrames,
	}

	metrics := observe.DefaultMetrics()

	mux := http.NewServeMux()
	mux.Handle("/ws/signal", signaling)
	health.New(
		health.Checker{Name: "database", Check: func(ctx context.Context) error { return store.Ping(ctx) }},
	).Register(mux)

	a.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: observe.Middleware(metrics)(mux),
	}

	return a, nil
}

// Run starts the HTTP listener and blocks until ctx is cancelled or the
// server stops for any other reason.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("signaling server listening", "addr", a.server.Addr)
		errCh <- a.server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http server shutdown error", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
