// Package main is the entry point for the API server.
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
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ask-dwight/coach-platform/internal/config"
	"github.com/ask-dwight/coach-platform/internal/handler"
	"github.com/ask-dwight/coach-platform/internal/inference"
	"github.com/ask-dwight/coach-platform/internal/llm"
	"github.com/ask-dwight/coach-platform/internal/markdown"
	"github.com/ask-dwight/coach-platform/internal/middleware"
	natsclient "github.com/ask-dwight/coach-platform/internal/nats"
	"github.com/ask-dwight/coach-platform/internal/repository"
	"github.com/ask-dwight/coach-platform/internal/service"
	"github.com/ask-dwight/coach-platform/internal/store"
	"github.com/ask-dwight/coach-platform/internal/stream"
	"github.com/ask-dwight/coach-platform/pkg/logger"
	"github.com/ask-dwight/coach-platform/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting API server")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "coach-platform", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Open the database
	db, err := repository.Open(cfg.DatabaseDSN)
	if err != nil {
		log.Error("failed to open database", zap.Error(err))
		os.Exit(1)
	}

	// Connect to NATS. The turn journal is optional; the platform runs
	// without it.
	var turnEvents service.TurnEventPublisher
	var turnJournal handler.TurnJournal
	natsClient, err := natsclient.Connect(ctx, natsclient.Config{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}, log)
	if err != nil {
		log.Warn("failed to connect to NATS, turn journal disabled", zap.Error(err))
		natsClient = nil
	} else {
		defer natsClient.Close()

		streamManager := natsclient.NewStreamManager(natsClient)
		if err := streamManager.EnsureStream(ctx); err != nil {
			log.Error("failed to ensure stream", zap.Error(err))
			os.Exit(1)
		}
		turnEvents = streamManager
		turnJournal = streamManager
	}

	// Initialize the completion client used for suggestions
	llmClient, err := llm.NewClient(llm.Provider(cfg.CompletionProvider), completionKey(cfg))
	if err != nil {
		log.Error("failed to create completion client", zap.Error(err))
		os.Exit(1)
	}

	// Streaming transport for coaching replies
	transport := inference.NewResponsesTransport(&http.Client{}, inference.Options{
		URL:          cfg.ResponsesURL,
		APIKey:       cfg.OpenAIAPIKey,
		Model:        cfg.ResponsesModel,
		Instructions: cfg.CoachInstructions,
	})

	// Repositories
	conversationRepo := repository.NewConversationRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	suggestionRepo := repository.NewSuggestionRepository(db)
	feedbackRepo := repository.NewFeedbackRepository(db)

	// Shared state
	msgStore := store.NewMessageStore()
	renderer := markdown.NewRenderer()

	// Services
	conversationSvc := service.NewConversationService(conversationRepo, msgStore, renderer, cfg.ConversationCacheTTL, log)
	suggestionSvc := service.NewSuggestionService(llmClient, suggestionRepo, msgStore, cfg.CoachInstructions, log)
	feedbackSvc := service.NewFeedbackService(feedbackRepo, msgStore, log)
	messageSvc := service.NewMessageService(
		conversationSvc,
		messageRepo,
		suggestionSvc,
		transport,
		renderer,
		msgStore,
		service.NewThrottlePolicy(cfg.ThrottleUserThreshold, cfg.ThrottleAssistantThreshold),
		turnEvents,
		stream.Timeouts{
			FirstByte: cfg.StreamFirstByteTimeout,
			Idle:      cfg.StreamIdleTimeout,
		},
		log,
	)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(natsClient)
	conversationHandler := handler.NewConversationHandler(conversationSvc, log)
	messageHandler := handler.NewMessageHandler(feedbackSvc, suggestionSvc, log)
	turnHandler := handler.NewTurnHandler(messageSvc, conversationSvc, turnJournal, msgStore, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With", "X-Session-ID"},
		ExposedHeaders:   []string{"Link", "X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Identity(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireOwner)

			// Turns
			r.Post("/messages", turnHandler.Send)

			// Conversations
			r.Route("/conversations", func(r chi.Router) {
				r.Post("/", conversationHandler.Create)
				r.Get("/", conversationHandler.List)

				// Claiming session history requires a logged-in user
				r.With(middleware.RequireUser).Post("/associate", conversationHandler.Associate)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", conversationHandler.Get)
					r.Patch("/", conversationHandler.Update)
					r.Get("/messages", conversationHandler.Messages)
					r.Get("/turns", turnHandler.Journal)

					r.Post("/suggestions", messageHandler.RefreshSuggestions)
					r.Put("/messages/{messageID}/reaction", messageHandler.React)
				})
			})
		})
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}

func completionKey(cfg *config.Config) string {
	if llm.Provider(cfg.CompletionProvider) == llm.ProviderAnthropic {
		return cfg.AnthropicAPIKey
	}
	return cfg.OpenAIAPIKey
}
