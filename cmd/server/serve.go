package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"speech-preroll/internal/api"
	"speech-preroll/internal/asr"
	"speech-preroll/internal/auth"
	"speech-preroll/internal/config"
	"speech-preroll/internal/database"
	"speech-preroll/internal/logging"
	"speech-preroll/internal/notify"
	"speech-preroll/internal/preroll"
	"speech-preroll/internal/session"
	"speech-preroll/internal/storage"
)

func newServeCommand(configFlag *string) *cobra.Command {
	var listenFlag string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the preroll websocket and control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configFlag)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if listenFlag != "" {
				cfg.Listen = listenFlag
			}

			logger, err := logging.New(cfg.Logging)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer logger.Sync() //nolint:errcheck

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return run(ctx, cfg, logger)
		},
	}
	cmd.Flags().StringVar(&listenFlag, "listen", "", "Listen address, overrides config")
	return cmd
}

// app is the wired service. close releases everything newApp opened.
type app struct {
	handler http.Handler
	store   *preroll.Store
	close   func()
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	var (
		sinks    = []preroll.Sink{logging.EventSink(logger.Named("events"))}
		closers  []func()
		eventsDB api.EventReader
		wg       sync.WaitGroup
	)
	runCtx, cancelRun := context.WithCancel(ctx)
	closeAll := func() {
		cancelRun()
		wg.Wait()
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: newOriginChecker(cfg.Auth.AllowedOrigins, logger),
	}

	hub := notify.NewHub(upgrader, logger.Named("notify"))
	sinks = append(sinks, hub)

	if cfg.Database.Enabled {
		db, err := database.Open(ctx, cfg.Database)
		if err != nil {
			closeAll()
			return nil, err
		}
		closers = append(closers, func() { db.Close() })

		events := database.NewEventStore(db)
		if err := events.EnsureSchema(ctx); err != nil {
			closeAll()
			return nil, err
		}
		eventsDB = events

		recorder := database.NewRecorder(events, logger.Named("recorder"), 0)
		sinks = append(sinks, recorder)
		wg.Add(1)
		go func() {
			defer wg.Done()
			recorder.Run(runCtx)
		}()
		logger.Info("database event log enabled", zap.String("host", cfg.Database.Host), zap.String("db", cfg.Database.DBName))
	}

	store := preroll.New(
		preroll.WithSampleRate(cfg.Audio.SampleRate),
		preroll.WithCapacity(cfg.Audio.Capacity()),
		preroll.WithLogger(logger.Named("preroll")),
		preroll.WithSink(preroll.Sinks(sinks...)),
	)

	deps := session.Deps{Store: store, Upgrader: upgrader, Logger: logger.Named("session")}
	if cfg.ASR.BaseURL != "" {
		deps.Transcriber = asr.New(cfg.ASR.BaseURL, time.Duration(cfg.ASR.TimeoutMs)*time.Millisecond)
		logger.Info("preroll transcription enabled", zap.String("asr", cfg.ASR.BaseURL))
	}

	minioClient, err := storage.NewMinio(cfg.Minio)
	if err != nil {
		closeAll()
		return nil, err
	}
	if minioClient.Enabled() {
		if err := minioClient.EnsureBucket(ctx); err != nil {
			closeAll()
			return nil, err
		}
		deps.Archiver = minioClient
		logger.Info("preroll archive enabled", zap.String("bucket", minioClient.Bucket()))
	}

	verifier, err := auth.NewVerifier(cfg.Auth)
	if errors.Is(err, auth.ErrNotConfigured) {
		logger.Warn("token auth disabled: issuer not configured")
		verifier = nil
	} else if err != nil {
		closeAll()
		return nil, err
	}

	mux := http.NewServeMux()
	api.New(store, api.Options{
		Window: cfg.Audio.Window(),
		MaxAge: cfg.Audio.MaxAge(),
		Events: eventsDB,
		Logger: logger.Named("api"),
	}).Register(mux, verifier)

	sessions := session.NewServer(session.Config{
		Window: cfg.Audio.Window(),
		MaxAge: cfg.Audio.MaxAge(),
	}, deps)
	mux.Handle("/ws/audio", auth.Require(verifier, sessions))
	mux.Handle("/ws/events", auth.Require(verifier, hub))

	return &app{handler: mux, store: store, close: closeAll}, nil
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           a.handler,
		ReadHeaderTimeout: 15 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening",
			zap.String("addr", cfg.Listen),
			zap.Int("sample_rate", cfg.Audio.SampleRate),
			zap.Int("capacity_ms", cfg.Audio.CapacityMs))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	a.store.Clear()
	logger.Info("shutdown complete")
	return nil
}

// newOriginChecker allows every origin when none are configured, which is
// only meant for development.
func newOriginChecker(allowed []string, logger *zap.Logger) func(r *http.Request) bool {
	if len(allowed) == 0 {
		logger.Warn("ALLOWED_ORIGINS not set - allowing all websocket origins")
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.TrimSpace(o)] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if _, ok := set[origin]; ok {
			return true
		}
		logger.Warn("rejected websocket connection from unauthorized origin", zap.String("origin", origin))
		return false
	}
}
