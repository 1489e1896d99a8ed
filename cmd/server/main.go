package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatroom/internal/chat"
	"chatroom/internal/config"
	"chatroom/internal/db"
	myMiddleware "chatroom/internal/middleware"
	"chatroom/internal/user"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mama165/sdk-go/logs"
	"github.com/redis/go-redis/v9"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Config & Logger
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logs.GetLoggerFromString(cfg.LogLevel)

	// 2. Connect to Database (Platform Layer)
	database, err := db.NewDatabase(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("failed to connect to DB: %w", err)
	}
	defer func() {
		log.Info("Closing database...")
		_ = database.Close()
	}()
	log.Info("✅ Connected to database", "driver", cfg.DBDriver)

	if err := database.AutoMigrate(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	log.Info("✅ Database schema initialized")

	// 3. Connect to Redis (optional relay between instances)
	var hubOpts []chat.HubOption
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		hubOpts = append(hubOpts, chat.WithRedis(redisClient, cfg.RedisChannel))
		log.Info("✅ Connected to Redis", "channel", cfg.RedisChannel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Initialize User Feature
	userRepo := user.NewRepository(database)
	userService := user.NewService(userRepo, user.Config{
		JWTSecret:         cfg.JWTSecret,
		TokenTTL:          cfg.TokenTTL,
		NameLenLim:        cfg.NameLenLim,
		SignupsPerAddress: cfg.SignupsPerAddress,
	}, log)
	userHandler := user.NewHandler(userService)

	// 5. Initialize Chat Feature
	chatRepo := chat.NewRepository(database, chat.WithTimeout(cfg.StoreTimeout))
	registry := chat.NewRegistry()
	hub := chat.NewHub(registry, log, hubOpts...)
	engine := chat.NewEngine(
		chatRepo,
		chat.NewRateLimiter(cfg.Period, cfg.RateLimit, chatRepo),
		chat.NewCommandInterpreter(cfg.CmdPrefix, "swag"),
		registry,
		hub,
		log,
		chat.Options{
			DefaultPast:   cfg.DefaultPast,
			MsgLenLim:     cfg.MsgLenLim,
			GuestLoginURL: cfg.GuestLoginURL,
		},
	)

	// Start the Hub Engines
	go hub.Run(ctx)
	if cfg.RedisAddr != "" {
		go func() {
			if err := hub.SubscribeToRedis(ctx); err != nil && ctx.Err() == nil {
				log.Error("Redis subscription ended", "error", err)
			}
		}()
	}
	go engine.Run(ctx)

	chatHandler := chat.NewHandler(engine, log, cfg.SendBuffer, cfg.ChatURL)
	authMiddleware := myMiddleware.NewAuthMiddleware(userService)

	// 6. Define Routes
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Post("/register", userHandler.Register)
	r.Post("/login", userHandler.Login)
	r.Get("/login_guest", chatHandler.GuestLogin)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := database.Conn.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	// WebSocket (Real-time); a token is optional, guests come in with ?guest=true
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Identify)
		r.Get("/ws", chatHandler.ServeWs)
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("🚀 Server starting", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	}

	// Hijacked websocket connections are not tracked by Shutdown.
	engine.CloseAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	log.Info("Server stopped")
	return nil
}
