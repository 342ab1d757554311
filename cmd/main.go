package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	_ "github.com/lib/pq"

	"github.com/Vovarama1992/ai-chat/internal/ai"
	"github.com/Vovarama1992/ai-chat/internal/auth"
	"github.com/Vovarama1992/ai-chat/internal/chat"
	"github.com/Vovarama1992/ai-chat/internal/config"
	"github.com/Vovarama1992/ai-chat/internal/logger"
	"github.com/Vovarama1992/ai-chat/internal/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Init("info")
		logger.Error("config_load_failed", "err", err)
		os.Exit(1)
	}
	logger.Init(cfg.LogLevel)

	// --- Store ---
	repo, closeStore, err := openStore(cfg)
	if err != nil {
		logger.Error("store_open_failed", "driver", cfg.StoreDriver, "err", err)
		os.Exit(1)
	}
	defer closeStore()

	// --- Router ---
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", auth.HeaderUserID, auth.HeaderSignature},
		ExposedHeaders: []string{"X-Vercel-AI-Data-Stream"},
	}))

	// --- Chat module wiring ---
	aiClient := ai.NewOpenAIClient(ai.OpenAIOptions{
		APIKey:        cfg.OpenAIKey,
		BaseURL:       cfg.OpenAIBaseURL,
		DefaultModel:  cfg.DefaultModel,
		AllowedModels: cfg.AllowedModels,
		MaxSteps:      cfg.MaxSteps,
		Tools:         ai.Toolset{"weather": ai.WeatherTool(nil)},
	})
	chatService := chat.NewService(repo, aiClient, chat.ServiceOptions{
		SystemPrompt:      cfg.SystemPrompt,
		GatewayTimeout:    cfg.GatewayTimeout.Duration(),
		SaveTimeout:       cfg.SaveTimeout.Duration(),
		MaxAttachmentSize: cfg.MaxAttachmentSize.Int64(),
	})
	chatHandler := chat.NewHandler(chatService, chat.NewDirectory(repo))

	r.Group(func(r chi.Router) {
		r.Use(auth.Require(cfg.AuthSigningKey))
		r.Use(auth.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))
		chat.RegisterRoutes(r, chatHandler)
	})

	// --- health ---
	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("pong"))
	})
	r.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "port", cfg.Port, "store", cfg.StoreDriver, "model", cfg.DefaultModel)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server_error", "err", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	// in-flight turns get the gateway ceiling plus time to persist
	grace := cfg.GatewayTimeout.Duration() + cfg.SaveTimeout.Duration()
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown_failed", "err", err)
	}
	logger.Info("stopped")
}

func openStore(cfg *config.Config) (chat.Repo, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverPebble:
		repo, err := chat.OpenPebbleRepo(cfg.PebblePath, nil)
		if err != nil {
			return nil, nil, err
		}
		return repo, func() { _ = repo.Close() }, nil
	default:
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}

		repo := chat.NewRepo(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return repo, func() { _ = db.Close() }, nil
	}
}
