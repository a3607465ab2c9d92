package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oakline/storefront/internal/checkout"
	"github.com/oakline/storefront/internal/config"
	"github.com/oakline/storefront/internal/gateway"
	"github.com/oakline/storefront/internal/httpx"
	"github.com/oakline/storefront/internal/lookup"
	"github.com/oakline/storefront/internal/notify"
	"github.com/oakline/storefront/internal/order/sqlite"
	"github.com/oakline/storefront/internal/pkg/cache"
	"github.com/oakline/storefront/internal/pkg/telemetry"
	"github.com/oakline/storefront/internal/webhook"
)

func main() {
	telemetry.InitLogger()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration invalid", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	if cfg.TracingEnabled {
		shutdown, err := telemetry.SetupTracer(ctx, "storefront")
		if err != nil {
			slog.Error("tracing setup failed", "error", err)
			os.Exit(1)
		}
		defer shutdown(context.Background())
	}

	store, err := sqlite.Open(cfg.DatabasePath)
	if err != nil {
		slog.Error("order store unavailable", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("order store ready", "path", cfg.DatabasePath)

	var projectionCache cache.Cache
	if cfg.RedisAddr != "" {
		projectionCache = cache.NewRedisCache(cfg.RedisAddr, "storefront")
		slog.Info("tracking projection cache enabled", "addr", cfg.RedisAddr)
	}

	gw := gateway.NewHTTPClient(cfg.GatewayBaseURL, cfg.GatewayAPIKey, cfg.GatewayTimeout)

	var mailer notify.Mailer = notify.LogMailer{}
	if cfg.MailAPIURL != "" {
		mailer = notify.NewHTTPMailer(cfg.MailAPIURL, cfg.MailAPIToken, cfg.MailFrom, cfg.MailTimeout)
	} else {
		slog.Warn("no mail provider configured, emails will only be logged")
	}
	dispatcher := notify.NewDispatcher(store, mailer, cfg.PublicBaseURL)

	tracking := lookup.NewService(store, projectionCache, cfg.TrackingCacheTTL)

	processor := webhook.NewProcessor(
		store,
		gw,
		dispatcher,
		tracking,
		[]byte(cfg.GatewayWebhookSecret),
		webhook.WithUnmatchedGrace(cfg.WebhookUnmatchedGrace),
	)

	checkoutSvc := checkout.NewService(store, gw, cfg.PublicBaseURL, cfg.Currency)

	handler := httpx.NewHandler(checkoutSvc, processor, tracking)
	router := httpx.NewRouter(handler)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("storefront order engine listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown incomplete", "error", err)
	}
}
