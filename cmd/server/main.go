package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ystemsrx/checkin-system/internal/clients"
	"github.com/ystemsrx/checkin-system/internal/config"
	"github.com/ystemsrx/checkin-system/internal/db"
	internalhttp "github.com/ystemsrx/checkin-system/internal/http"
	"github.com/ystemsrx/checkin-system/internal/logging"
	"github.com/ystemsrx/checkin-system/internal/observability"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger, err := logging.Init(cfg.LogLevel, cfg.Env)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Closer()

	flush, err := observability.InitSentry(cfg.SentryDSN, cfg.Env, "checkin-system")
	if err != nil {
		logger.Sugar.Fatalf("sentry init failed: %v", err)
	}
	defer flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Sugar.Fatalf("db connection failed: %v", err)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, cfg.DatabaseURL); err != nil {
		logger.Sugar.Fatalf("migrations failed: %v", err)
	}

	store := db.NewStore(pool)
	studentAuth := clients.NewStudentAuth(cfg.StudentAuthURL, cfg.StudentAuthTimeout)

	server := internalhttp.NewServer(cfg, store, studentAuth, logger.Base)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Base.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Sugar.Fatalf("http server error: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Base.Warn("shutdown error", zap.Error(err))
	}
}
