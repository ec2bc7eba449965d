package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"chatrelay-backend/internal/config"
	"chatrelay-backend/internal/database"
	"chatrelay-backend/internal/handlers"
	"chatrelay-backend/internal/llm"
	"chatrelay-backend/internal/middleware"
	"chatrelay-backend/internal/observability"
	"chatrelay-backend/internal/repository"
	"chatrelay-backend/internal/router"
	"chatrelay-backend/internal/services"
	"chatrelay-backend/internal/websocket"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run migrations and start the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func serve(ctx context.Context) error {
	log.Println("🚀 Starting Chat Relay Backend...")

	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()
	setupLogging(cfg)
	log.Println("✓ Environment variables loaded")

	// ──── Step 2: Initialize PostgreSQL Connection Pool ────
	pool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("PostgreSQL connection failed: %w", err)
	}
	defer pool.Close()
	log.Println("✓ PostgreSQL connected")

	// ──── Step 3: Run Database Migrations ────
	if err := database.RunMigrations(ctx, pool, migrationsFS(cfg.MigrationsDir)); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	log.Println("✓ Database migrations applied")

	// ──── Step 4: Initialize Redis Clients ────
	redisClients, err := database.NewRedisClients(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("Redis connection failed: %w", err)
	}
	defer redisClients.Close()
	log.Println("✓ Redis connected")

	// ──── Step 5: Initialize Model Gateway ────
	catalog := llm.DefaultCatalog()
	if cfg.ModelCatalogPath != "" {
		if catalog, err = llm.LoadCatalog(cfg.ModelCatalogPath); err != nil {
			return fmt.Errorf("model catalog: %w", err)
		}
	}
	gateway, err := llm.New(ctx, llm.Config{
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
		GeminiAPIKey:  cfg.GeminiAPIKey,
		Catalog:       catalog,
	})
	if err != nil {
		return fmt.Errorf("model gateway initialization failed: %w", err)
	}
	defer gateway.Close()
	log.Printf("✓ Model gateway initialized (%d chat models)", len(catalog.LanguageModels))

	// ──── Initialize Metrics ────
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewChatMetrics(registry)

	// ──── Initialize Repositories & Services ────
	conversationRepo := repository.NewConversationRepo(pool)
	messageRepo := repository.NewMessageRepo(pool)
	jwtAuth := middleware.NewJWTAuth(cfg.JWTSecret)

	chatService := services.NewChatService(
		conversationRepo,
		messageRepo,
		gateway,
		services.NewRedisPublisher(redisClients.Publisher),
		metrics,
		services.ChatOptions{
			AllowAnonymous: cfg.AllowAnonymousChats,
			StepLimit:      cfg.ChatStepLimit,
			ModelTimeout:   cfg.ModelTimeout,
			SmoothDelay:    cfg.StreamSmoothDelay,
		},
	)

	// ──── Initialize Handlers ────
	chatHandler := handlers.NewChatHandler(chatService)
	chatLimiter := middleware.NewRateLimiter(cfg.ChatRequestsPerMin, time.Minute)
	defer chatLimiter.Stop()

	// ──── Step 6: Start WebSocket Hub ────
	wsHub := websocket.NewHub(redisClients.Subscriber, jwtAuth)
	defer wsHub.Close()
	log.Println("✓ WebSocket hub started")

	// ──── Step 7: Start HTTP Server ────
	r := router.New(jwtAuth, chatHandler, chatLimiter, wsHub, registry, cfg.FrontendURL)

	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		// Streams are bounded by the model timeout instead.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		<-sigCtx.Done()

		log.Println("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ModelTimeout+5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("✗ Shutdown: %v", err)
		}
	}()

	log.Printf("✓ Chat Relay Backend ready on http://localhost:%s", cfg.Port)
	log.Printf("  API: http://localhost:%s/api/v1/chat", cfg.Port)
	log.Printf("  WS:  ws://localhost:%s/api/v1/ws", cfg.Port)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	<-shutdownDone
	return nil
}
