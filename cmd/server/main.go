package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/opsihab660/realtime-chat-sub001/internal/chat"
	"github.com/opsihab660/realtime-chat-sub001/internal/config"
	"github.com/opsihab660/realtime-chat-sub001/internal/db"
	myMiddleware "github.com/opsihab660/realtime-chat-sub001/internal/middleware"
	"github.com/opsihab660/realtime-chat-sub001/internal/user"
)

func main() {
	// 1. Config & Flags
	addr := flag.String("addr", "", "http service address (overrides ADDR)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("❌ Config error", "error", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	// 2. Connect to Database (Platform Layer)
	database, err := db.NewDatabase(cfg.DatabaseDSN)
	if err != nil {
		logger.Error("❌ Failed to connect to DB", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	logger.Info("✅ Connected to PostgreSQL")

	if err := database.AutoMigrate(); err != nil {
		logger.Error("❌ Migration failed", "error", err)
		os.Exit(1)
	}
	logger.Info("✅ Database Schema Initialized")

	// 3. Initialize User Feature
	userRepo := user.NewRepository(database.Conn)
	userService := user.NewService(userRepo, cfg.JWTSecret)
	userHandler := user.NewHandler(userService)

	// 4. Initialize Chat Feature
	chatRepo := chat.NewRepository(database.Conn)
	engine := chat.NewEngine(chatRepo, cfg, logger)

	// 5. Redis bridge: only when configured. A single instance runs
	// perfectly well without one.
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})
		if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
			logger.Error("❌ Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		logger.Info("✅ Connected to Redis")
		engine.SetBridge(chat.NewBridge(redisClient, engine.Registry(), logger))
	} else {
		logger.Info("bridge disabled, running single-instance")
	}

	// Start the engine's background loops.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go engine.Run(ctx)

	chatHandler := chat.NewHandler(engine, chatRepo, logger)
	authMiddleware := myMiddleware.NewAuthMiddleware(userService)

	// 6. Define Routes
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Public Routes
	r.Group(func(r chi.Router) {
		r.Use(myMiddleware.RateLimit(cfg.HTTPLimit))
		r.Post("/register", userHandler.Register)
		r.Post("/login", userHandler.Login)
	})
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	// Protected Routes (Require JWT)
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)

		r.Get("/api/users/search", userHandler.Search)
		r.Get("/api/users/me", userHandler.Me)
		r.Get("/api/users/blocked", userHandler.Blocked)
		r.Post("/api/users/{id}/block", userHandler.Block)
		r.Delete("/api/users/{id}/block", userHandler.Unblock)

		// WebSocket (Real-time)
		r.Get("/ws", chatHandler.ServeWs)

		r.Post("/api/conversations", chatHandler.StartConversation)
		r.Get("/api/conversations", chatHandler.ListConversations)
		r.Patch("/api/conversations/{id}", chatHandler.PatchConversation)
		r.Get("/api/messages", chatHandler.ListMessages)
	})

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: r,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("🚀 Server starting", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen failed", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	logger.Info("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server shutdown failed", "error", err)
	}
	logger.Info("Server exited properly")
}
