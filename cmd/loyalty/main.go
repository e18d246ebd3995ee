// Package main запускает HTTP-сервер сервиса лояльности.
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

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/loyalty-points/internal/config"
	"github.com/mmeshcher/loyalty-points/internal/handler"
	"github.com/mmeshcher/loyalty-points/internal/metrics"
	"github.com/mmeshcher/loyalty-points/internal/middleware"
	"github.com/mmeshcher/loyalty-points/internal/notify"
	"github.com/mmeshcher/loyalty-points/internal/repository"
	"github.com/mmeshcher/loyalty-points/internal/service"
)

func main() {
	// .env необязателен
	_ = godotenv.Load()

	cfg, err := config.Parse()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger initialization error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	sugar := logger.Sugar()

	repo, err := repository.Open(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	m := metrics.New()

	svc := service.NewService(repo, logger, m, newLinkSender(cfg, logger), service.Options{
		LoginLinkBaseURL:     cfg.LoginLinkBaseURL,
		LoginCodeTTL:         cfg.LoginCodeTTL,
		HousekeepingInterval: cfg.HousekeepingInterval,
	})
	defer svc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.BootstrapAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword); err != nil {
		sugar.Fatalw("admin bootstrap error", "error", err.Error())
	}

	if cfg.SessionSecret == "" {
		sugar.Warn("SESSION_SECRET is empty, sessions will not survive a restart")
	}
	authMiddleware := middleware.NewAuthMiddleware(cfg.SessionSecret, cfg.SessionTTL, svc)

	trustedProxies, err := cfg.TrustedProxyPrefixes()
	if err != nil {
		sugar.Fatalw("trusted proxies error", "error", err.Error())
	}

	h := handler.NewHandler(svc, logger, authMiddleware, handler.Options{
		Metrics:           m,
		AllowedOrigins:    cfg.AllowedOrigins,
		AuthRatePerMinute: cfg.AuthRatePerMinute,
		TrustedProxies:    trustedProxies,
	})

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return svc.RunHousekeeping(ctx)
	})

	g.Go(func() error {
		sugar.Infow("starting loyalty server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Остановка по сигналу или по ошибке в соседней горутине
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

func newLinkSender(cfg *config.Config, logger *zap.Logger) service.LinkSender {
	if cfg.LoginLinkWebhookURL == "" {
		return service.NewLogLinkSender(logger)
	}
	return notify.NewWebhookSender(cfg.LoginLinkWebhookURL, logger)
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := cfg.Level()
	if err != nil {
		return nil, err
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}
