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

	"go.uber.org/zap"

	"tokokasir/backend/internal/auth"
	"tokokasir/backend/internal/cache"
	"tokokasir/backend/internal/config"
	"tokokasir/backend/internal/discount"
	"tokokasir/backend/internal/domain"
	"tokokasir/backend/internal/events"
	"tokokasir/backend/internal/httpapi"
	"tokokasir/backend/internal/logger"
	"tokokasir/backend/internal/metrics"
	"tokokasir/backend/internal/money"
	"tokokasir/backend/internal/payment"
	"tokokasir/backend/internal/pricing"
	"tokokasir/backend/internal/receipt"
	"tokokasir/backend/internal/service"
	"tokokasir/backend/internal/store"
	"tokokasir/backend/internal/store/memory"
	pgstore "tokokasir/backend/internal/store/postgres"
	"tokokasir/backend/internal/xid"
)

func main() {
	cfg := config.Load()
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatal("invalid security configuration", zap.Error(err))
	}
	engine, err := buildPricing(cfg)
	if err != nil {
		log.Fatal("invalid pricing configuration", zap.Error(err))
	}
	numbers, err := xid.New(cfg.NodeID, "B")
	if err != nil {
		log.Fatal("invalid NODE_ID", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", zap.Error(err))
		}
		if err := pg.Migrate(); err != nil {
			log.Fatal("postgres migration failed", zap.Error(err))
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Info("repository: postgres")
		bootstrapAdmin(ctx, repo, log)
	} else {
		mem, err := memory.NewSeeded(log)
		if err != nil {
			log.Fatal("seed in-memory repository", zap.Error(err))
		}
		repo = mem
		log.Info("repository: in-memory")
	}

	itemCache := cache.ItemCache(cache.NoopItemCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisItemCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Warn("redis unavailable, using noop cache", zap.Error(err))
		} else {
			itemCache = redisCache
			closers = append(closers, redisCache.Close)
			log.Info("cache: redis")
		}
	} else {
		log.Info("cache: noop")
	}
	items := cache.NewCachedItems(repo, itemCache, time.Duration(cfg.ItemCacheTTLSeconds)*time.Second, log)

	bus := events.NewBus(log, events.DefaultSubscriberBuffer)
	checkoutMetrics := metrics.New(nil)
	if err := bus.Subscribe("metrics", checkoutMetrics.Handle, checkoutMetrics.Kinds()...); err != nil {
		log.Fatal("subscribe metrics", zap.Error(err))
	}
	if err := bus.Subscribe("log", events.LogSubscriber(log)); err != nil {
		log.Fatal("subscribe log", zap.Error(err))
	}

	svc := service.New(service.Options{
		Repo:           repo,
		Items:          items,
		Receipts:       receipt.NewFileWriter(cfg.ReceiptDir, cfg.StoreName, cfg.ReceiptESCPOS),
		Payments:       payment.DefaultRegistry(money.New(cfg.CashMaxTender)),
		Pricing:        engine,
		Numbers:        numbers,
		Events:         bus,
		Logger:         log,
		BatchDiscounts: cfg.BatchDiscounts,
		SkipExpired:    cfg.SkipExpired,
	})
	tokens := auth.NewTokens(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute)
	api := httpapi.New(svc, tokens, repo, cfg.AllowedOrigin, log)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("checkout backend listening", zap.String("addr", cfg.Address()), zap.String("store", cfg.StoreName))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}
	bus.Close()

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Error("close error", zap.Error(err))
		}
	}

	log.Info("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	return nil
}

func buildPricing(cfg config.Config) (*pricing.Engine, error) {
	policy, err := discount.Parse(cfg.ActiveDiscount)
	if err != nil {
		return nil, fmt.Errorf("ACTIVE_DISCOUNT: %w", err)
	}
	engine, err := pricing.New(cfg.TaxRatePercent, policy)
	if err != nil {
		return nil, fmt.Errorf("TAX_RATE_PERCENT: %w", err)
	}
	return engine, nil
}

// bootstrapAdmin creates the admin account on an empty database when
// SEED_ADMIN_PASSWORD is set.
func bootstrapAdmin(ctx context.Context, users store.UserStore, log *zap.Logger) {
	password := os.Getenv("SEED_ADMIN_PASSWORD")
	if password == "" {
		return
	}
	if _, err := users.GetUser(ctx, "admin"); !errors.Is(err, store.ErrNotFound) {
		return
	}
	if _, err := auth.Register(ctx, users, "admin", password, domain.RoleAdmin); err != nil {
		log.Warn("admin bootstrap failed", zap.Error(err))
		return
	}
	log.Info("admin account created")
}
