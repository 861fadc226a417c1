package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"purchase_gateway/internal/apperrors"
	"purchase_gateway/internal/models"
)

// PurchaseStore persists purchases. Every status write is a compare-and-set on the
// current status so a lost race never overwrites a newer state.
type PurchaseStore struct {
	db *gorm.DB
}

func NewPurchaseStore(db *gorm.DB) *PurchaseStore {
	return &PurchaseStore{db: db}
}

// Create inserts a new INIT purchase
func (s *PurchaseStore) Create(ctx context.Context, p *models.Purchase) error {
	if p.Status != models.PurchaseStatusInit || p.Authority != nil {
		return fmt.Errorf("%w: new purchases start in INIT without authority", apperrors.ErrInvalidState)
	}
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("failed to create purchase: %w", err)
	}
	return nil
}

// Get loads a purchase owned by a business
func (s *PurchaseStore) Get(ctx context.Context, businessName string, id uuid.UUID) (*models.Purchase, error) {
	var p models.Purchase
	err := s.db.WithContext(ctx).
		Where("business_name = ? AND id = ?", businessName, id).
		First(&p).Error
	return s.found(&p, err)
}

// GetByAuthority loads the purchase a gateway authority was issued for
func (s *PurchaseStore) GetByAuthority(ctx context.Context, businessName, authority string) (*models.Purchase, error) {
	if authority == "" {
		return nil, apperrors.ErrPurchaseNotFound
	}
	var p models.Purchase
	err := s.db.WithContext(ctx).
		Where("business_name = ? AND authority = ?", businessName, authority).
		First(&p).Error
	return s.found(&p, err)
}

// List returns a business's purchases, newest first
func (s *PurchaseStore) List(ctx context.Context, businessName string, offset, limit int) ([]models.Purchase, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Purchase{}).
		Where("business_name = ?", businessName).
		Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count purchases: %w", err)
	}

	var purchases []models.Purchase
	if err := query.Order("created_at desc").Offset(offset).Limit(limit).Find(&purchases).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list purchases: %w", err)
	}
	return purchases, total, nil
}

// ListStalePending returns PENDING purchases last touched before cutoff, across businesses
func (s *PurchaseStore) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.Purchase, error) {
	var purchases []models.Purchase
	err := s.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", models.PurchaseStatusPending, cutoff).
		Order("updated_at asc").
		Limit(limit).
		Find(&purchases).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list pending purchases: %w", err)
	}
	return purchases, nil
}

// MarkPending moves an INIT purchase to PENDING with its authority.
// It reports false when the purchase was no longer INIT.
func (s *PurchaseStore) MarkPending(ctx context.Context, p *models.Purchase, authority string) (bool, error) {
	return s.transition(ctx, p, models.PurchaseStatusPending, map[string]interface{}{
		"authority": authority,
	})
}

// MarkSuccess settles a PENDING purchase
func (s *PurchaseStore) MarkSuccess(ctx context.Context, p *models.Purchase, refID int64, verifiedAt time.Time) (bool, error) {
	return s.transition(ctx, p, models.PurchaseStatusSuccess, map[string]interface{}{
		"ref_id":      refID,
		"verified_at": verifiedAt,
	})
}

// MarkFailed fails a PENDING purchase with a reason
func (s *PurchaseStore) MarkFailed(ctx context.Context, p *models.Purchase, reason string) (bool, error) {
	return s.transition(ctx, p, models.PurchaseStatusFailed, map[string]interface{}{
		"failure_reason": reason,
	})
}

func (s *PurchaseStore) transition(ctx context.Context, p *models.Purchase, next models.PurchaseStatus, fields map[string]interface{}) (bool, error) {
	if !p.Status.CanTransition(next) {
		return false, fmt.Errorf("%w: %s -> %s", apperrors.ErrInvalidState, p.Status, next)
	}

	fields["status"] = next
	res := s.db.WithContext(ctx).Model(&models.Purchase{}).
		Where("id = ? AND status = ?", p.ID, p.Status).
		Updates(fields)
	if res.Error != nil {
		return false, fmt.Errorf("failed to move purchase %s to %s: %w", p.ID, next, res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	applyFields(p, fields)
	return true, nil
}

// applyFields mirrors a successful update onto the in-memory record
func applyFields(p *models.Purchase, fields map[string]interface{}) {
	for key, value := range fields {
		switch key {
		case "status":
			p.Status = value.(models.PurchaseStatus)
		case "authority":
			v := value.(string)
			p.Authority = &v
		case "ref_id":
			v := value.(int64)
			p.RefID = &v
		case "verified_at":
			v := value.(time.Time)
			p.VerifiedAt = &v
		case "failure_reason":
			v := value.(string)
			p.FailureReason = &v
		}
	}
	p.UpdatedAt = time.Now()
}

func (s *PurchaseStore) found(p *models.Purchase, err error) (*models.Purchase, error) {
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrPurchaseNotFound
		}
		return nil, fmt.Errorf("failed to load purchase: %w", err)
	}
	return p, nil
}

// RecordCallback stores an inbound verification callback. Failures are returned but
// callers treat them as non-fatal.
func (s *PurchaseStore) RecordCallback(ctx context.Context, history *models.CallbackHistory) error {
	return s.db.WithContext(ctx).Create(history).Error
}

// RecordLedgerPost stores the outcome of a ledger submission
func (s *PurchaseStore) RecordLedgerPost(ctx context.Context, post *models.LedgerPost) error {
	return s.db.WithContext(ctx).Create(post).Error
}

// ListUnreconciledLedgerPosts returns, for each settled purchase whose most recent ledger
// attempt failed, that failed attempt.
func (s *PurchaseStore) ListUnreconciledLedgerPosts(ctx context.Context, limit int) ([]models.LedgerPost, error) {
	latest := s.db.WithContext(ctx).Model(&models.LedgerPost{}).
		Select("MAX(id)").
		Group("purchase_id")

	var posts []models.LedgerPost
	err := s.db.WithContext(ctx).
		Where("id IN (?) AND status = ?", latest, models.LedgerPostStatusFailed).
		Order("id asc").
		Limit(limit).
		Find(&posts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger posts: %w", err)
	}
	return posts, nil
}
