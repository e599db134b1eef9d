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

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"receptionist/internal/assistant"
	"receptionist/internal/audit"
	"receptionist/internal/auth"
	"receptionist/internal/config"
	"receptionist/internal/dialogue"
	"receptionist/internal/httpapi"
	"receptionist/internal/orders"
	"receptionist/internal/rbac"
	"receptionist/internal/reporting"
	"receptionist/internal/storage"
	"receptionist/internal/telephony"
	"receptionist/pkg/logger"
	"receptionist/pkg/utils"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// .env is optional; real env always wins.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("dotenv load failed", "err", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	loc, err := cfg.Location()
	if err != nil {
		log.Error("dashboard timezone invalid", "err", err)
		os.Exit(1)
	}

	store := storage.NewPostgresStore(db)

	// A nil provider selects the deterministic fallback replies.
	var provider assistant.CompletionProvider
	if cfg.OpenAI.APIKey != "" {
		p, err := assistant.NewOpenAIProvider(assistant.OpenAIConfig{
			APIKey:  cfg.OpenAI.APIKey,
			BaseURL: cfg.OpenAI.BaseURL,
			Model:   cfg.OpenAI.Model,
		})
		if err != nil {
			log.Error("openai init failed", "err", err)
			os.Exit(1)
		}
		provider = p
	} else {
		log.Warn("OPENAI_API_KEY not set; using fallback replies")
	}

	generator := assistant.NewGenerator(provider, store, assistant.Config{
		MaxTokens:   cfg.OpenAI.MaxTokens,
		Temperature: cfg.OpenAI.Temperature,
		Timeout:     cfg.OpenAI.Timeout,
		Budget:      cfg.OpenAI.TurnBudget,
		MaxRetries:  1,
	}, log)
	locker := dialogue.NewRedisLocker(rdb, dialogue.RedisLockerConfig{}, log)
	orchestrator := dialogue.NewOrchestrator(store, generator, locker, log)

	voice := telephony.VoiceHandler{
		Dialogue: orchestrator,
		Renderer: telephony.Renderer{
			Voice:          cfg.Twilio.Voice,
			Language:       cfg.Twilio.Language,
			GatherURL:      cfg.GatherURL(),
			TransferNumber: cfg.Twilio.TransferNumber,
		},
	}
	if cfg.Twilio.AuthToken == "" {
		log.Warn("TWILIO_AUTH_TOKEN not set; webhook signatures are not verified")
	}

	api := httpapi.Handlers{
		Auth: authManager,
		Admin: auth.AdminAccount{
			Email:        cfg.Auth.AdminEmail,
			PasswordHash: cfg.Auth.AdminPasswordHash,
			Role:         rbac.RoleAdmin,
		},
		Reporting: reporting.NewService(store, reporting.Options{Location: loc, ZeroFill: cfg.Dashboard.ZeroFill}, log),
		Orders:    orders.NewService(store, store),
		Audit:     audit.NewService(store),
		Checks: map[string]func(ctx context.Context) error{
			"postgres": func(ctx context.Context) error { return utils.HealthCheck(ctx, db, time.Second) },
			"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		},
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		API:             api,
		Voice:           voice,
		TwilioAuthToken: cfg.Twilio.AuthToken,
		PublicBaseURL:   cfg.App.PublicBaseURL,
		CORSOrigins:     cfg.App.CORSOrigins,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "public_base_url", cfg.App.PublicBaseURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
