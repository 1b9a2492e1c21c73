package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/user/routing-gateway/internal/api"
	"github.com/user/routing-gateway/internal/api/handler"
	"github.com/user/routing-gateway/internal/api/middleware"
	"github.com/user/routing-gateway/internal/logstore"
	"github.com/user/routing-gateway/internal/routeconfig"
	"github.com/user/routing-gateway/internal/service"
	"github.com/user/routing-gateway/internal/statsstore"
	"github.com/user/routing-gateway/internal/tokenizer"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "config.yaml", "path to the routing configuration document")
	logDir := flag.String("log-dir", "logs", "directory for rotated log files")
	statsDir := flag.String("stats-dir", "data", "directory for persisted model health stats")
	logDBPath := flag.String("log-db", "data/requests.db", "path to the request log sqlite database")
	addr := flag.String("addr", ":8080", "listen address")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	logger, err := newLogger(*logLevel, *logDir)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	doc, err := routeconfig.Load(*configPath, logger)
	if err != nil {
		return fmt.Errorf("load routing config: %w", err)
	}
	store := routeconfig.NewStore(doc)

	logger.Info("starting routing-gateway",
		zap.String("addr", *addr),
		zap.String("config", *configPath),
	)

	statsStore, err := statsstore.New(*statsDir, logger)
	if err != nil {
		return fmt.Errorf("init stats store: %w", err)
	}

	health := service.NewHealthRegistry(statsStore, doc.Health.DecayRate, logger)
	health.StartDebouncedWriter(10 * time.Second)
	defer health.Close()

	logs, err := logstore.Open(*logDBPath)
	if err != nil {
		return fmt.Errorf("open log store: %w", err)
	}
	defer logs.Close()

	registry := service.NewProviderRegistry(store)
	merger := service.NewParameterMerger(store)
	tokens := tokenizer.NewCounter()
	invoker := service.NewUpstreamInvoker(registry, merger, tokens, logger)
	selector := service.NewCandidateSelector(health)
	classifier := service.NewIntentClassifier(store, logger)
	orchestrator := service.NewRetryOrchestrator(store, selector, invoker, health, logger)

	gatewayHandler := handler.NewGatewayHandler(store, classifier, orchestrator, logs, logger)

	server := api.NewServer(api.ServerDeps{
		Gateway: gatewayHandler,
		RateLimit: &middleware.RateLimitConfig{
			Enabled:       true,
			MaxRequests:   100,
			WindowSeconds: 60,
			ExemptPaths:   []string{"/healthz"},
		},
		Logger: logger,
	})

	httpServer := &http.Server{
		Addr:         *addr,
		Handler:      server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second, // streaming responses need a long write timeout
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	logger.Info("server started", zap.String("addr", *addr))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func newLogger(level, logDir string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug", "DEBUG":
		zapLevel = zap.DebugLevel
	case "warn", "WARN":
		zapLevel = zap.WarnLevel
	case "error", "ERROR":
		zapLevel = zap.ErrorLevel
	default:
		zapLevel = zap.InfoLevel
	}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("create log dir %s: %w", logDir, err)
	}

	lj := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "routing-gateway.log"),
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     28,
		Compress:   true,
	}

	fileEncoderCfg := zap.NewProductionEncoderConfig()
	fileEncoderCfg.TimeKey = "ts"
	fileEncoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(fileEncoderCfg),
		zapcore.AddSync(lj),
		zapLevel,
	)

	consoleEncoderCfg := zap.NewDevelopmentEncoderConfig()
	consoleEncoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	consoleEncoderCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	consoleEncoder := zapcore.NewConsoleEncoder(consoleEncoderCfg)

	stdoutCore := zapcore.NewCore(
		consoleEncoder,
		zapcore.Lock(os.Stdout),
		zap.LevelEnablerFunc(func(l zapcore.Level) bool {
			return l >= zapLevel && l < zapcore.WarnLevel
		}),
	)
	stderrCore := zapcore.NewCore(
		consoleEncoder,
		zapcore.Lock(os.Stderr),
		zap.LevelEnablerFunc(func(l zapcore.Level) bool {
			return l >= zapLevel && l >= zapcore.WarnLevel
		}),
	)

	core := zapcore.NewTee(fileCore, stdoutCore, stderrCore)

	return zap.New(core, zap.AddCaller()), nil
}
