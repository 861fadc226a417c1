package services

import (
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"purchase_gateway/internal/config"
)

// Dependencies is the service graph shared by the server and the worker
type Dependencies struct {
	DB         *gorm.DB
	Cache      *RedisCache
	Events     EventPublisher
	Store      *PurchaseStore
	Businesses *BusinessStore
	Purchases  *PurchaseService
}

// NewDependencies connects to the configured backends and wires the purchase services.
// Without REDIS_URL, locks are process-local and business lookups are not cached.
func NewDependencies(cfg config.AppConfig) (*Dependencies, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL not set")
	}
	db, err := InitDB(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	deps := &Dependencies{DB: db}

	var locker Locker = NewLocalLocker()
	if cfg.RedisURL != "" {
		cache, err := NewRedisCache(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		deps.Cache = cache
		locker = NewRedisLocker(cache, cfg.LockTTL)
	} else {
		slog.Warn("REDIS_URL not set, using in-process purchase locks")
	}

	if cfg.LedgerBaseURL == "" {
		slog.Warn("LEDGER_BASE_URL not set, every ledger post will fail until reconciled")
	}

	deps.Events = NewEventPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	deps.Store = NewPurchaseStore(db)
	deps.Businesses = NewBusinessStore(db, deps.Cache, cfg.BusinessCacheTTL)
	deps.Purchases = NewPurchaseService(
		deps.Store,
		NewZarinpalService(cfg.ZarinpalLiveURL, cfg.ZarinpalSandboxURL, cfg.GatewayTimeout),
		NewLedgerService(cfg.LedgerBaseURL, cfg.Currency, cfg.LedgerTimeout),
		locker,
		deps.Events,
		cfg.PublicScheme,
		cfg.BasePath,
	)
	return deps, nil
}

// Close releases the connections opened by NewDependencies
func (d *Dependencies) Close() {
	if d.Events != nil {
		if err := d.Events.Close(); err != nil {
			slog.Warn("Failed to close event publisher", "error", err)
		}
	}
	if d.Cache != nil {
		if err := d.Cache.Close(); err != nil {
			slog.Warn("Failed to close redis", "error", err)
		}
	}
	if sqlDB, err := d.DB.DB(); err == nil {
		sqlDB.Close()
	}
}
