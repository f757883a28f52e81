package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/kolayne/anonymous-helpline-chatbot/internal/config"
	"github.com/kolayne/anonymous-helpline-chatbot/internal/repository"
	"github.com/kolayne/anonymous-helpline-chatbot/internal/server"
	"github.com/kolayne/anonymous-helpline-chatbot/internal/telegram_bot"
)

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err) // Should not happen in development
	}
	defer func() {
		_ = logger.Sync() // Flushes buffer, if any
	}()

	// .env is optional; environment variables win over configs/config.yml
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file loaded", zap.Error(err))
	}

	// Load configuration
	cfgPath := "configs/config.yml"
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		cfgPath = p
	}
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// Database connection
	db, err := repository.NewPostgresDB(cfg.Database.URL, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// Run migrations
	repository.MigrateDB(db, logger)

	// Initialize repositories
	userRepo := repository.NewUserRepository(db, logger)
	convRepo := repository.NewConversationRepository(db, logger)
	reflectionRepo := repository.NewReflectionRepository(db, logger)

	// Initialize the Telegram dispatch layer
	bot, err := telegram_bot.NewBot(cfg, userRepo, convRepo, reflectionRepo, logger)
	if err != nil {
		logger.Fatal("Failed to initialize Telegram bot", zap.Error(err))
	}

	// Context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Run Telegram bot in a goroutine (if enabled)
	if bot != nil {
		go func() {
			if err := bot.Start(ctx); err != nil {
				logger.Error("Telegram bot failed", zap.Error(err))
			}
		}()
	}

	// Initialize and run the admin server
	srv := server.NewServer(db, cfg, logger)
	go srv.Run(cfg.Server.Port)

	<-ctx.Done()
	logger.Info("Application stopped.")
}
