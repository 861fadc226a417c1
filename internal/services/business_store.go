package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"purchase_gateway/internal/apperrors"
	"purchase_gateway/internal/models"
)

// BusinessStore resolves tenants by name or domain. Lookups go through the Redis cache
// when one is configured; credentials never enter the cache and are read on every call.
type BusinessStore struct {
	db    *gorm.DB
	cache *RedisCache
	ttl   time.Duration
}

func NewBusinessStore(db *gorm.DB, cache *RedisCache, ttl time.Duration) *BusinessStore {
	return &BusinessStore{db: db, cache: cache, ttl: ttl}
}

// GetByName returns the business registered under name
func (s *BusinessStore) GetByName(ctx context.Context, name string) (*models.Business, error) {
	return s.lookup(ctx, "name", name)
}

// GetByDomain returns the business serving a host, ignoring any port
func (s *BusinessStore) GetByDomain(ctx context.Context, host string) (*models.Business, error) {
	domain := strings.ToLower(host)
	if i := strings.LastIndex(domain, ":"); i > 0 && !strings.Contains(domain[i:], "]") {
		domain = domain[:i]
	}
	return s.lookup(ctx, "domain", domain)
}

func (s *BusinessStore) lookup(ctx context.Context, field, value string) (*models.Business, error) {
	if value == "" {
		return nil, apperrors.ErrBusinessNotFound
	}

	business, err := GetOrSet(s.cache, ctx, businessCacheKey(field, value), s.ttl, func() (models.Business, error) {
		var b models.Business
		err := s.db.WithContext(ctx).Where(field+" = ?", value).First(&b).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return b, apperrors.ErrBusinessNotFound
			}
			return b, fmt.Errorf("failed to load business: %w", err)
		}
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.loadCredentials(ctx, &business); err != nil {
			return nil, err
		}
	}
	return &business, nil
}

// loadCredentials reads the gateway and ledger credentials straight from the database
func (s *BusinessStore) loadCredentials(ctx context.Context, b *models.Business) error {
	var creds struct {
		MerchantID   string
		LedgerAPIKey string
	}
	err := s.db.WithContext(ctx).Model(&models.Business{}).
		Select("merchant_id", "ledger_api_key").
		Where("id = ?", b.ID).
		Take(&creds).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.ErrBusinessNotFound
		}
		return fmt.Errorf("failed to load business credentials: %w", err)
	}
	b.MerchantID = creds.MerchantID
	b.LedgerAPIKey = creds.LedgerAPIKey
	return nil
}
