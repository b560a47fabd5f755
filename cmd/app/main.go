package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"chatshop/internal/billing"
	"chatshop/internal/cache"
	"chatshop/internal/catalog"
	"chatshop/internal/config"
	"chatshop/internal/convo"
	"chatshop/internal/httpserver"
	"chatshop/internal/logging"
	"chatshop/internal/metrics"
	"chatshop/internal/orders"
	"chatshop/internal/razorpay"
	"chatshop/internal/recovery"
	"chatshop/internal/repo"
	"chatshop/internal/tenant"
	"chatshop/internal/wa"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.NewLogger(cfg.App.LogLevel, cfg.App.LogFormat)
	logger.Info("starting chatshop", "env", cfg.App.Env, "billing_mode", cfg.Billing.Mode, "database", cfg.Database.Driver)

	if cfg.App.PublicBaseURL != "" {
		base := strings.TrimRight(cfg.App.PublicBaseURL, "/")
		logger.Info("public base url configured",
			"base_url", base,
			"whatsapp_webhook", base+"/webhook/whatsapp",
			"razorpay_webhook", base+"/webhook/razorpay",
		)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricRegistry := metrics.Registry(cfg.App.MetricsNamespace)

	repository, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer repository.Close()

	if err := repository.RunMigrations(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrated")

	defaultCost, err := cfg.Billing.MessageCost()
	if err != nil {
		return err
	}
	directory := tenant.NewDirectory(repository, defaultCost, logger)

	var (
		redisClient  *cache.Redis
		catalogCache catalog.Cache
		deduper      convo.Deduper
		readyRedis   httpserver.Pinger
		sweepLock    recovery.Lock = &recovery.LocalLock{}
	)
	if cfg.Redis.Enabled() {
		redisClient = cache.New(cache.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			UseTLS:   cfg.Redis.TLS,
		}, logger)
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("failed closing redis", "error", err)
			}
		}()
		if err := redisClient.Ping(ctx); err != nil {
			logger.Warn("redis ping failed", "error", err)
		}
		catalogCache = redisClient
		deduper = redisClient
		readyRedis = redisClient

		lock, err := recovery.NewRedisLock(redisClient, cache.Key("lock", "recovery"), cfg.Redis.LockTTL)
		if err != nil {
			return fmt.Errorf("init recovery lock: %w", err)
		}
		sweepLock = lock
	} else {
		logger.Info("redis disabled, catalog cache and inbound dedupe are off")
	}

	waClient := wa.New(wa.Config{
		BaseURL:    cfg.WhatsApp.BaseURL,
		APIVersion: cfg.WhatsApp.APIVersion,
		Timeout:    cfg.WhatsApp.Timeout,
	}, logger, metricRegistry)

	rzClient := razorpay.New(razorpay.Config{
		BaseURL:      cfg.Payment.BaseURL,
		Currency:     cfg.Payment.Currency,
		CallbackURL:  cfg.Payment.CallbackURL,
		Timeout:      cfg.Payment.Timeout,
		DemoFallback: cfg.Payment.DemoFallback,
	}, logger, metricRegistry)

	ledger := billing.NewLedger(repository, cfg.Billing.Mode, logger, metricRegistry)
	messenger := billing.NewMessenger(ledger, waClient)

	catalogSvc := catalog.New(repository, catalogCache, logger)
	orderSvc := orders.New(repository, directory, rzClient, messenger, cfg.Engine.CurrencySymbol, logger, metricRegistry)

	contactLocks := convo.NewKeyLock()
	engine := convo.NewEngine(repository, catalogSvc, orderSvc, messenger, contactLocks, convo.Config{
		MaxQuantity:    cfg.Engine.MaxQuantity,
		CurrencySymbol: cfg.Engine.CurrencySymbol,
	}, logger, metricRegistry)

	processor := convo.NewProcessor(directory, repository, deduper, waClient, engine, convo.ProcessorConfig{
		EventTimeout: cfg.Engine.EventTimeout,
		DedupeTTL:    cfg.Engine.DedupeTTL,
	}, logger, metricRegistry)

	waHandler := wa.NewWebhookHandler(logger, metricRegistry, wa.WebhookConfig{
		VerifyToken: cfg.WhatsApp.VerifyToken,
		AppSecret:   cfg.WhatsApp.AppSecret,
	}, processor)
	rzHandler := razorpay.NewWebhookHandler(logger, metricRegistry, cfg.Payment.WebhookSecret, directory, orderSvc)

	deps := httpserver.Dependencies{
		Database:   repository,
		Redis:      readyRedis,
		Orders:     orderSvc,
		Catalog:    catalogSvc,
		AdminToken: cfg.App.AdminToken,
	}
	if deps.AdminToken == "" {
		logger.Warn("ADMIN_TOKEN not set, admin api disabled")
	}

	httpSrv := httpserver.New(cfg.App.HTTPListenAddr, logger, metricRegistry, httpserver.Handlers{
		WhatsAppWebhook: waHandler,
		PaymentWebhook:  rzHandler,
	}, deps, cfg.App.PublicBasePath)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := httpSrv.Start(); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	if cfg.Recovery.Enabled {
		sweeper := recovery.New(repository, directory, messenger, contactLocks, sweepLock, recovery.Config{
			Interval:       cfg.Recovery.Interval,
			MinIdle:        cfg.Recovery.MinIdle,
			MaxIdle:        cfg.Recovery.MaxIdle,
			CurrencySymbol: cfg.Engine.CurrencySymbol,
		}, logger, metricRegistry)
		group.Go(func() error {
			return sweeper.Run(groupCtx)
		})
	} else {
		logger.Info("abandoned cart recovery disabled")
	}

	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "error", err)
		}
		waHandler.Wait()
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func openRepository(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repo.Repository, error) {
	switch cfg.Database.Driver {
	case config.DriverSQLite:
		r, err := repo.NewSQLite(ctx, cfg.Database.SQLitePath, logger)
		if err != nil {
			return nil, fmt.Errorf("init sqlite repository: %w", err)
		}
		return r, nil
	default:
		r, err := repo.New(ctx, cfg.Database.URL, cfg.Database.Schema, logger)
		if err != nil {
			return nil, fmt.Errorf("init repository: %w", err)
		}
		return r, nil
	}
}
