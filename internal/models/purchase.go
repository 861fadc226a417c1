package models

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"purchase_gateway/internal/apperrors"
)

// MinimumAmount is the smallest amount, in minor units, the gateway accepts.
const MinimumAmount int64 = 1000

// PurchaseStatus represents the lifecycle state of a purchase
type PurchaseStatus string

const (
	PurchaseStatusInit    PurchaseStatus = "INIT"
	PurchaseStatusPending PurchaseStatus = "PENDING"
	PurchaseStatusFailed  PurchaseStatus = "FAILED"
	PurchaseStatusSuccess PurchaseStatus = "SUCCESS"

	// Reserved; nothing transitions into it yet.
	PurchaseStatusRefunded PurchaseStatus = "REFUNDED"
)

// IsTerminal reports whether no further transition is allowed out of s.
func (s PurchaseStatus) IsTerminal() bool {
	return s == PurchaseStatusSuccess || s == PurchaseStatusFailed
}

// IsValid reports whether s is one of the declared statuses.
func (s PurchaseStatus) IsValid() bool {
	switch s {
	case PurchaseStatusInit, PurchaseStatusPending, PurchaseStatusFailed, PurchaseStatusSuccess, PurchaseStatusRefunded:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is allowed.
// INIT -> PENDING -> {SUCCESS, FAILED}; nothing leaves a terminal state.
func (s PurchaseStatus) CanTransition(next PurchaseStatus) bool {
	switch s {
	case PurchaseStatusInit:
		return next == PurchaseStatusPending
	case PurchaseStatusPending:
		return next == PurchaseStatusSuccess || next == PurchaseStatusFailed
	}
	return false
}

// Purchase is one payment attempt of a business against the gateway
type Purchase struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"uid"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	BusinessName string     `gorm:"type:varchar(255);not null;index:idx_purchases_business_authority,unique,priority:1,where:deleted_at IS NULL" json:"business_name"`
	UserID       *uuid.UUID `gorm:"type:uuid;index" json:"user_id,omitempty"`
	WalletID     *uuid.UUID `gorm:"type:uuid" json:"wallet_id,omitempty"`

	Amount      decimal.Decimal `gorm:"type:decimal(20,0);not null" json:"amount"`
	Description string          `gorm:"type:text" json:"description"`
	Phone       *string         `gorm:"type:varchar(50)" json:"phone,omitempty"`
	CallbackURL string          `gorm:"type:text;not null" json:"callback_url"`
	IsTest      bool            `gorm:"not null;default:false" json:"is_test"`

	Status    PurchaseStatus `gorm:"type:varchar(20);not null;default:'INIT';index" json:"status"`
	Authority *string        `gorm:"type:varchar(100);index:idx_purchases_business_authority,unique,priority:2,where:deleted_at IS NULL" json:"authority,omitempty"`

	FailureReason *string    `gorm:"type:text" json:"failure_reason,omitempty"`
	RefID         *int64     `json:"ref_id,omitempty"`
	VerifiedAt    *time.Time `json:"verified_at,omitempty"`
}

// BeforeCreate assigns the purchase id and initial status
func (p *Purchase) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Status == "" {
		p.Status = PurchaseStatusInit
	}
	return nil
}

// MinorUnits returns the amount as the integer sent to the gateway and the ledger.
func (p *Purchase) MinorUnits() int64 {
	return p.Amount.IntPart()
}

// IsSuccessful reports whether the purchase settled.
func (p *Purchase) IsSuccessful() bool {
	return p.Status == PurchaseStatusSuccess
}

// CreditWalletID is the wallet credited on settlement: the explicit wallet, else the
// owning user's default wallet.
func (p *Purchase) CreditWalletID() (uuid.UUID, bool) {
	if p.WalletID != nil {
		return *p.WalletID, true
	}
	if p.UserID != nil {
		return *p.UserID, true
	}
	return uuid.Nil, false
}

// ResultURL is where the end user lands after verification.
func (p *Purchase) ResultURL() string {
	u, err := url.Parse(p.CallbackURL)
	if err != nil {
		return p.CallbackURL
	}
	q := u.Query()
	q.Set("success", fmt.Sprintf("%t", p.IsSuccessful()))
	u.RawQuery = q.Encode()
	return u.String()
}

// PurchaseCreate is the set of fields a client may supply when creating a purchase.
type PurchaseCreate struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Phone       *string         `json:"phone,omitempty"`
	CallbackURL string          `json:"callback_url"`
	WalletID    *uuid.UUID      `json:"wallet_id,omitempty"`
	IsTest      bool            `json:"is_test"`
}

// Validate checks the input against the gateway constraints before anything is stored.
func (in PurchaseCreate) Validate() error {
	if !in.Amount.Equal(in.Amount.Truncate(0)) {
		return fmt.Errorf("%w: %s", apperrors.ErrInvalidAmount, in.Amount)
	}
	if in.Amount.LessThan(decimal.NewFromInt(MinimumAmount)) {
		return fmt.Errorf("%w: %s", apperrors.ErrAmountTooLow, in.Amount)
	}
	if strings.TrimSpace(in.Description) == "" {
		return fmt.Errorf("%w: description is required", apperrors.ErrInvalidPurchase)
	}
	if err := ValidateCallbackURL(in.CallbackURL); err != nil {
		return err
	}
	return nil
}

// NewPurchase builds an INIT purchase for a business from validated input.
func NewPurchase(businessName string, userID *uuid.UUID, in PurchaseCreate) *Purchase {
	var phone *string
	if in.Phone != nil && strings.TrimSpace(*in.Phone) != "" {
		v := strings.TrimSpace(*in.Phone)
		phone = &v
	}
	return &Purchase{
		ID:           uuid.New(),
		BusinessName: businessName,
		UserID:       userID,
		WalletID:     in.WalletID,
		Amount:       in.Amount,
		Description:  strings.TrimSpace(in.Description),
		Phone:        phone,
		CallbackURL:  in.CallbackURL,
		IsTest:       in.IsTest,
		Status:       PurchaseStatusInit,
	}
}

// ValidateCallbackURL accepts absolute http and https urls only.
func ValidateCallbackURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", apperrors.ErrInvalidCallbackURL, raw)
	}
	return nil
}
