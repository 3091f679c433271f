// Package main is the entry point for the assistant server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/capitalize-ai/listing-assistant/internal/assistant"
	"github.com/capitalize-ai/listing-assistant/internal/config"
	"github.com/capitalize-ai/listing-assistant/internal/gateway"
	"github.com/capitalize-ai/listing-assistant/internal/handler"
	"github.com/capitalize-ai/listing-assistant/internal/listing"
	"github.com/capitalize-ai/listing-assistant/internal/llm"
	"github.com/capitalize-ai/listing-assistant/internal/memory"
	"github.com/capitalize-ai/listing-assistant/internal/middleware"
	natsclient "github.com/capitalize-ai/listing-assistant/internal/nats"
	"github.com/capitalize-ai/listing-assistant/internal/speech"
	"github.com/capitalize-ai/listing-assistant/pkg/logger"
	"github.com/capitalize-ai/listing-assistant/pkg/tracing"
)

const voiceRefreshTimeout = 10 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting assistant server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize tracing if enabled
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "listing-assistant", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	catalog, err := listing.Default()
	if err != nil {
		log.Fatal("failed to load listing catalog", zap.Error(err))
	}

	// Initialize LLM client. Without credentials the gateway answers with a
	// configuration message instead of failing.
	var llmClient llm.Client
	if key := cfg.LLMAPIKey(); key != "" {
		client, err := llm.NewClient(llm.Provider(cfg.LLMProvider), key, llm.Options{
			BaseURL: cfg.GeminiBaseURL,
			Model:   cfg.LLMModel,
			Timeout: cfg.GatewayTimeout,
		})
		if err != nil {
			log.Warn("failed to create LLM client, replies disabled", zap.String("provider", cfg.LLMProvider), zap.Error(err))
		} else {
			llmClient = client
		}
	}
	gw := gateway.New(llmClient, catalog, cfg.GatewayTimeout, log)
	if !gw.Configured() {
		log.Warn("no LLM credentials configured", zap.String("provider", cfg.LLMProvider))
	}

	// Conversation memory
	backend, pinger, closeBackend, err := openBackend(cfg)
	if err != nil {
		log.Fatal("failed to open memory store", zap.String("driver", cfg.StoreDriver), zap.Error(err))
	}
	defer closeBackend()
	store := memory.NewStore(backend, log)

	// Optional JetStream journal
	var (
		natsClient *natsclient.Client
		journal    assistant.Journal
		history    handler.HistorySource
	)
	if cfg.NATSURL != "" {
		natsClient, err = natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			log.Fatal("failed to connect to NATS", zap.Error(err))
		}
		defer natsClient.Close()

		streamManager := natsclient.NewStreamManager(natsClient)
		if err := streamManager.EnsureStream(ctx); err != nil {
			log.Fatal("failed to ensure stream", zap.Error(err))
		}
		journal = streamManager
		history = streamManager
	}

	// Speech backends shared by every session engine
	var (
		recognizer  speech.Recognizer
		synthesizer speech.Synthesizer
	)
	if cfg.AssemblyAIAPIKey != "" {
		recognizer = speech.NewAssemblyAIRecognizer(cfg.AssemblyAIAPIKey, log)
	}
	if cfg.ElevenLabsAPIKey != "" {
		synthesizer = speech.NewElevenLabsSynthesizer(cfg.ElevenLabsAPIKey, cfg.ElevenLabsVoiceID)
	}

	registry := assistant.NewRegistry(func(_ context.Context, sessionID string) assistant.Deps {
		engine := speech.NewEngine(recognizer, synthesizer, log.WithSession(sessionID))
		go func() {
			rctx, cancel := context.WithTimeout(ctx, voiceRefreshTimeout)
			defer cancel()
			if err := engine.RefreshVoices(rctx); err != nil {
				log.Warn("failed to load voices", zap.String("session_id", sessionID), zap.Error(err))
			}
		}()

		return assistant.Deps{
			Gateway:       gw,
			Store:         store.Scoped(sessionID),
			Speech:        engine,
			Host:          handler.NewSessionHost(catalog),
			Journal:       journal,
			Logger:        log,
			PopupDuration: cfg.PopupDuration,
			Language:      cfg.Language,
		}
	}, cfg.SessionIdleTTL, log)
	defer registry.Close()
	go registry.Run(ctx)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(natsClient, pinger)
	listingHandler := handler.NewListingHandler(catalog)
	assistantHandler := handler.NewAssistantHandler(registry, history, log)
	eventsHandler := handler.NewEventsHandler(registry, log)
	audioHandler := handler.NewAudioHandler(registry, cfg.AllowedOrigins, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Health endpoints
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/listings", listingHandler.List)

		r.Route("/assistant", func(r chi.Router) {
			r.Use(middleware.Session(cfg.SessionSecret, cfg.SessionTokenTTL))
			r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

			r.Group(func(r chi.Router) {
				r.Use(chimiddleware.Timeout(cfg.ServerWriteTimeout))

				r.Get("/", assistantHandler.Snapshot)
				r.Post("/expand", assistantHandler.Expand)
				r.Post("/collapse", assistantHandler.Collapse)
				r.Post("/pointer-outside", assistantHandler.PointerOutside)
				r.Put("/input", assistantHandler.SetInput)
				r.Post("/messages", assistantHandler.SendMessage)
				r.Post("/listen", assistantHandler.ToggleListening)
				r.Post("/popup/dismiss", assistantHandler.DismissPopup)
				r.Put("/settings", assistantHandler.UpdateSettings)
				r.Get("/voices", assistantHandler.Voices)
				r.Delete("/memory", assistantHandler.ResetMemory)
				r.Get("/history", assistantHandler.History)
			})

			// Long-lived streams
			r.Get("/events", eventsHandler.Stream)
			r.Get("/audio", audioHandler.Serve)
		})
	})

	// Create HTTP server. No server-wide write timeout: the event stream and
	// audio socket are long-lived, so JSON routes get a per-request one.
	server := &http.Server{
		Addr:        ":" + cfg.ServerPort,
		Handler:     r,
		ReadTimeout: cfg.ServerReadTimeout,
		IdleTimeout: 120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Stop the sweeper and end session streams so Shutdown can drain.
	cancel()
	registry.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}

// openBackend opens the configured memory backend. The returned pinger is
// nil for backends without a remote dependency.
func openBackend(cfg *config.Config) (memory.Backend, handler.Pinger, func(), error) {
	noop := func() {}
	switch cfg.StoreDriver {
	case config.StoreNone:
		return nil, nil, noop, nil
	case config.StoreSQLite:
		b, err := memory.NewSQLiteBackend(cfg.SQLitePath)
		if err != nil {
			return nil, nil, noop, err
		}
		return b, b, func() { b.Close() }, nil
	case config.StoreRedis:
		b, err := memory.NewRedisBackendFromURL(cfg.RedisURL, cfg.StoreTTL)
		if err != nil {
			return nil, nil, noop, err
		}
		return b, b, func() { b.Close() }, nil
	default:
		return memory.NewMemoryBackend(), nil, noop, nil
	}
}
