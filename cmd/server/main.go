package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/vedran77/courier/internal/config"
	"github.com/vedran77/courier/internal/database"
	"github.com/vedran77/courier/internal/delivery"
	"github.com/vedran77/courier/internal/presence"
	"github.com/vedran77/courier/internal/repository/cache"
	postgresrepo "github.com/vedran77/courier/internal/repository/postgres"
	redisrepo "github.com/vedran77/courier/internal/repository/redis"
	"github.com/vedran77/courier/internal/service"
	"github.com/vedran77/courier/internal/transport/http/handlers"
	"github.com/vedran77/courier/internal/transport/http/middleware"
	"github.com/vedran77/courier/internal/transport/ws"
	"go.uber.org/zap"
)

const userCacheTTL = 5 * time.Minute

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	log := logger.Sugar()

	cfg := config.Load()
	ctx := context.Background()

	// Stores
	pool, err := database.Connect(cfg)
	if err != nil {
		log.Fatalw("connect postgres", "err", err)
	}
	defer pool.Close()

	rdb, err := database.ConnectRedis(cfg)
	if err != nil {
		log.Fatalw("connect redis", "err", err)
	}
	defer rdb.Close()
	log.Infow("connected to stores")

	// Repositories
	userRepo := cache.NewUserCache(ctx, postgresrepo.NewUserRepo(pool), userCacheTTL)
	convRepo := postgresrepo.NewConversationRepo(pool)
	msgRepo := postgresrepo.NewMessageRepo(pool)
	unreadRepo := redisrepo.NewUnreadRepo(rdb)

	// Core
	registry := presence.NewRegistry()
	router := delivery.NewRouter(registry, log)

	// Services
	authService := service.NewAuthService(userRepo, cfg.JWTSecret)
	chatService := service.NewChatService(userRepo, convRepo, msgRepo, unreadRepo, registry, router)

	// Handlers
	authHandler := handlers.NewAuthHandler(authService, log)
	chatHandler := handlers.NewChatHandler(chatService, log)

	// Auth middleware
	auth := middleware.Auth(cfg.JWTSecret)

	// Routes
	mux := http.NewServeMux()

	// Public
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status": "ok"}`))
	})
	mux.HandleFunc("POST /api/v1/auth/register", authHandler.Register)
	mux.HandleFunc("POST /api/v1/auth/login", authHandler.Login)

	// WebSocket (token via query param)
	mux.HandleFunc("GET /ws", ws.ServeWS(chatService, cfg.JWTSecret, log))

	// Protected
	mux.Handle("POST /api/v1/messages", auth(http.HandlerFunc(chatHandler.SendMessage)))
	mux.Handle("GET /api/v1/messages", auth(http.HandlerFunc(chatHandler.GetMessages)))
	mux.Handle("POST /api/v1/messages/{id}/read", auth(http.HandlerFunc(chatHandler.MarkRead)))
	mux.Handle("GET /api/v1/threads", auth(http.HandlerFunc(chatHandler.GetThreads)))
	mux.Handle("GET /api/v1/users", auth(http.HandlerFunc(chatHandler.ListUsers)))
	mux.Handle("GET /api/v1/presence", auth(http.HandlerFunc(chatHandler.Online)))

	// Start server with CORS
	addr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Infow("starting server", "addr", addr)
	log.Fatal(http.ListenAndServe(addr, middleware.CORS(mux)))
}
