package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/planetary/buffy/api"
	"github.com/planetary/buffy/database"
	"github.com/planetary/buffy/integrations"
	"github.com/planetary/buffy/internal/bot"
	"github.com/planetary/buffy/internal/latetasks"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	levelStr := strings.ToLower(os.Getenv("LOG_LEVEL"))
	if levelStr == "" {
		levelStr = "debug"
	}
	level, err := zapcore.ParseLevel(levelStr)
	if err != nil {
		level = zapcore.InfoLevel
	}

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      true,
		Encoding:         "console",
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, _ := config.Build()
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	viper.SetConfigName("config")
	viper.SetConfigType("toml")
	viper.AddConfigPath(".")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			zap.L().Fatal("Error reading config file", zap.Error(err))
		}
	}

	botToken := viper.GetString("slack.bot_token")
	if botToken == "" {
		zap.L().Fatal("slack.bot_token is not configured")
	}
	trelloKey := viper.GetString("trello.api_key")
	trelloToken := viper.GetString("trello.api_token")
	if trelloKey == "" || trelloToken == "" {
		zap.L().Fatal("trello.api_key / trello.api_token are not configured")
	}

	dbPath := viper.GetString("database.path")
	if dbPath == "" {
		dbPath = "buffy.db"
	}
	db := database.Init(dbPath)
	sqlDB, _ := db.DB()
	directory := database.NewDirectory(db)

	port := viper.GetString("server.port")
	if port == "" {
		port = "8080"
	}
	hostname := viper.GetString("server.hostname")
	if hostname == "" {
		hostname = "localhost:" + port
	}

	slackClient := integrations.NewSlackClient(botToken)
	trelloClient := integrations.NewTrelloClient(trelloKey, trelloToken)

	queue := latetasks.NewQueue(slackClient, latetasks.DeliveryGap)
	pipeline := latetasks.NewPipeline(trelloClient, directory, queue)
	buffy := bot.New(slackClient, trelloClient, directory, pipeline, hostname)

	if viper.GetBool("debug.enabled") {
		userIDs := splitList(viper.GetString("debug.user_ids"))
		userNames := splitList(viper.GetString("debug.user_names"))
		pipeline.SetDebugUsers(userIDs)
		buffy.SetDebugUsers(userNames)
		zap.L().Info("Debug mode enabled", zap.Strings("userIDs", userIDs), zap.Strings("userNames", userNames))
	}

	runCtx, cancelRun := context.WithCancel(context.Background())
	queue.Start(runCtx)

	scheduler := cron.New()
	// Monday 09:30: chase anyone without a saved Trello username.
	if _, err := scheduler.AddFunc("30 9 * * 1", func() { buffy.CheckUsers(runCtx) }); err != nil {
		zap.L().Fatal("Failed to schedule username sweep", zap.Error(err))
	}
	// Every day 10:30: late-task announcements for the whole team.
	if _, err := scheduler.AddFunc("30 10 * * *", func() { pipeline.Run(runCtx, "") }); err != nil {
		zap.L().Fatal("Failed to schedule late-task run", zap.Error(err))
	}
	scheduler.Start()

	router := gin.Default()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))

	apiHandler := &api.Handler{Bot: buffy}
	router.POST("/trello/webhook", apiHandler.TrelloWebhookHandler)
	router.GET("/trello/webhook", apiHandler.TrelloWebhookHandler)
	router.HEAD("/trello/webhook", apiHandler.TrelloWebhookHandler)
	router.POST("/slack/events", apiHandler.SlackEventsHandler)
	router.GET("/health", apiHandler.HealthCheckHandler)

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	zap.L().Info("Starting server", zap.String("port", port))
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Fatal("Server error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	var once sync.Once

	cleanup := func(reason string) {
		zap.L().Info("Shutdown initiated", zap.String("reason", reason))

		cronCtx := scheduler.Stop()
		<-cronCtx.Done()
		cancelRun()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		zap.L().Info("Shutting down HTTP server...")
		if err := srv.Shutdown(ctx); err != nil {
			zap.L().Error("Error shutting down server", zap.Error(err))
		} else {
			zap.L().Info("HTTP server shut down gracefully.")
		}

		if sqlDB != nil {
			if err := sqlDB.Close(); err != nil {
				zap.L().Error("Error closing database", zap.Error(err))
			} else {
				zap.L().Info("Database connection closed.")
			}
		}
		close(done)
	}

	go func() {
		sig := <-sigCh
		once.Do(func() {
			cleanup(sig.String())
		})

		// if a second signal is caught, exit immediately
		go func() {
			<-sigCh
			zap.L().Info("Second interrupt signal received. Exiting immediately.")
			os.Exit(1)
		}()
	}()

	<-done
	zap.L().Info("Exiting...")
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
