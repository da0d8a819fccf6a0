package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/lumabook/lumabook/pkg/auth"
	"github.com/lumabook/lumabook/pkg/config"
	"github.com/lumabook/lumabook/pkg/db"
	"github.com/lumabook/lumabook/pkg/event"
	"github.com/lumabook/lumabook/pkg/handler"
	"github.com/lumabook/lumabook/pkg/llm"
	"github.com/lumabook/lumabook/pkg/service"
	"github.com/lumabook/lumabook/pkg/utils"
)

func main() {
	// Initialize logging system
	utils.InitLogger()
	logger := utils.GetLogger()

	cfg, path, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "path", path, "error", err)
		os.Exit(1)
	}
	logger.Info("config loaded", "path", path)
	for _, p := range cfg.Providers {
		logger.Info("provider configured",
			"name", p.Name, "provider", p.Provider, "model", p.Model,
			"apiKey", utils.MaskSensitiveString(p.APIKey))
	}

	conn, err := db.Open(cfg.DatabasePath())
	if err != nil {
		logger.Error("failed to open database", "path", cfg.DatabasePath(), "error", err)
		os.Exit(1)
	}
	if err := db.AutoMigrate(conn); err != nil {
		logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.RedisPassword(),
		DB:       cfg.RedisDB(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	emitter := event.NewEmitter()
	liveness := service.NewRedisLiveness(redisClient, cfg.LivenessTTL())
	finalizer := service.NewFinalizer(conn, emitter, logger)

	chatService := service.NewChatService(
		conn,
		cfg,
		llm.NewRouter(),
		service.NewRateLimiter(cfg.RequestsPerMinute()),
		service.NewBudgetReserver(cfg.MonthlyBudgetCents()),
		service.NewIdempotencyGuard(conn),
		liveness,
		finalizer,
		service.NewStreamRegistry(),
		emitter,
		logger,
	)

	sweeper := service.NewSweeper(conn, liveness, finalizer, emitter, cfg.SweepGrace(), cfg.SweepInterval(), logger)
	go sweeper.Run(ctx)

	tokens := auth.NewStreamTokenService(
		cfg.StreamTokenSecret(),
		cfg.StreamTokenIssuer(),
		cfg.StreamTokenAudience(),
		cfg.StreamTokenTTL(),
	)

	chatHandler := handler.NewChatHandler(chatService, liveness, cfg, logger)
	tokenHandler := handler.NewTokenHandler(tokens, chatService.RateLimiter(), cfg.StreamBaseURL(), logger)
	wsHandler := event.NewWSHandler(emitter, logger)

	server := NewServer(cfg, chatHandler, tokenHandler, wsHandler, tokens)
	if err := server.Start(ctx); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}
