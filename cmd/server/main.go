// Padel club WhatsApp booking assistant server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/generative-ai-go/genai"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"google.golang.org/api/option"

	"github.com/ciruelos/padelbot/internal/agent"
	"github.com/ciruelos/padelbot/internal/api"
	"github.com/ciruelos/padelbot/internal/booking"
	"github.com/ciruelos/padelbot/internal/config"
	"github.com/ciruelos/padelbot/internal/domain"
	"github.com/ciruelos/padelbot/internal/middleware"
	"github.com/ciruelos/padelbot/internal/payment"
	"github.com/ciruelos/padelbot/internal/session"
	"github.com/ciruelos/padelbot/internal/store"
	"github.com/ciruelos/padelbot/internal/whatsapp"
)

// redisSessionTTL bounds how long an idle conversation is kept in Redis.
const redisSessionTTL = 30 * 24 * time.Hour

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server",
		"port", cfg.Port,
		"db_driver", cfg.Database.Driver,
		"session_backend", cfg.Sessions.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize persistence.
	repo, err := openRepository(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(ctx); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	checks := map[string]api.Pinger{"database": repo}
	var sessionRepo store.SessionRepository = repo
	if cfg.Sessions.Backend == "redis" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Sessions.RedisAddr,
			Password: cfg.Sessions.RedisPassword,
			DB:       cfg.Sessions.RedisDB,
		})
		redisStore := store.NewRedisSessionStore(rdb, redisSessionTTL)
		defer func() {
			if closeErr := redisStore.Close(); closeErr != nil {
				slog.Error("Failed to close redis client", "error", closeErr)
			}
		}()
		if err := redisStore.Ping(ctx); err != nil {
			slog.Error("Redis health check failed", "error", err)
			os.Exit(1)
		}
		slog.Info("Redis session store connected", "addr", cfg.Sessions.RedisAddr)
		sessionRepo = redisStore
		checks["redis"] = redisStore
	}

	club := domain.DefaultClub()
	club.Deposit = cfg.Club.DepositAmount
	club.Payee = cfg.Club.DepositPayee
	club.AdminContact = cfg.Club.AdminContact

	sessions := session.NewStore(sessionRepo, session.Options{
		Timeout:      cfg.Sessions.Timeout,
		HistoryLimit: cfg.Sessions.HistoryLimit,
	})

	// Initialize model clients.
	gemini, err := genai.NewClient(ctx, option.WithAPIKey(cfg.Gemini.APIKey))
	if err != nil {
		slog.Error("Failed to create Gemini client", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := gemini.Close(); closeErr != nil {
			slog.Error("Failed to close Gemini client", "error", closeErr)
		}
	}()

	extractor := agent.NewGeminiExtractor(gemini, agent.GeminiConfig{
		Model:     cfg.Gemini.ChatModel,
		MaxTokens: cfg.Gemini.ChatMaxTokens,
	}, logger)
	verifier := payment.NewGeminiVerifier(gemini, cfg.Gemini.VisionModel, logger)

	conversationLogger, err := agent.NewConversationLogger(agent.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
		MaxOpenFiles:  cfg.ConversationLog.MaxOpenFiles,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := conversationLogger.Close(); closeErr != nil {
			slog.Error("Failed to close conversation logger", "error", closeErr)
		}
	}()

	// Initialize the booking flow.
	graph := whatsapp.NewClient(whatsapp.ClientConfig{
		Token:         cfg.WhatsApp.APIToken,
		PhoneNumberID: cfg.WhatsApp.PhoneNumberID,
		APIVersion:    cfg.WhatsApp.GraphAPIVersion,
		Timeout:       cfg.Timeout.Graph,
	}, logger)
	sender := whatsapp.NewLoggingSender(graph, conversationLogger, club.Now)

	avail := booking.NewAvailability(repo, logger)
	orchestrator := booking.New(avail, sessions, extractor, verifier, graph, sender, booking.Options{
		Club:          club,
		ChatTimeout:   cfg.Timeout.Chat,
		VisionTimeout: cfg.Timeout.Vision,
		Logger:        logger,
	})

	dispatcher := whatsapp.NewDispatcher(orchestrator, sender, conversationLogger, whatsapp.DispatcherConfig{
		Workers:       cfg.Dispatch.Workers,
		QueueSize:     cfg.Dispatch.QueueSize,
		RatePerMinute: cfg.Dispatch.RatePerMinute,
	}, club.Now, logger)
	dispatcher.Start()

	session.StartSweeper(ctx, sessions, cfg.Sessions.SweepInterval)
	slog.Info("Session sweeper started", "interval", cfg.Sessions.SweepInterval, "timeout", cfg.Sessions.Timeout)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))

	// Public routes.
	api.NewHealthHandler(checks, cfg.Timeout.HealthCheck).RegisterHealth(r)
	webhook := whatsapp.NewWebhookHandler(cfg.WhatsApp.VerifyToken, cfg.WhatsApp.AppSecret, dispatcher, logger)
	r.Mount("/webhook", webhook.Routes())

	// Operator routes, only when a token is configured.
	if cfg.OperatorAPIEnabled() {
		operator := api.NewOperatorHandler(avail, dispatcher, club.Now)
		r.Group(func(r chi.Router) {
			r.Use(middleware.CORS(middleware.ParseOrigins(cfg.CORSAllowedOrigins)))
			r.Use(middleware.BearerToken(cfg.AdminToken))
			operator.RegisterRoutes(r)
		})
		slog.Info("Operator API enabled")
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeout.Shutdown)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	if err := dispatcher.Close(); err != nil {
		slog.Error("Dispatcher did not drain", "error", err)
	}

	slog.Info("Server stopped successfully")
}

// openRepository opens the reservation store selected by DB_DRIVER.
func openRepository(ctx context.Context, cfg *config.Config) (store.Repository, error) {
	if cfg.Database.Driver == "postgres" {
		pg, err := store.NewPostgres(ctx, cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		return pg, nil
	}
	sqlite, err := store.NewSQLite(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	return sqlite, nil
}
