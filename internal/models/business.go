package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Business is a tenant of the platform. Provisioning happens elsewhere; this service
// only reads it. Credentials are excluded from JSON so the record can be cached and
// rendered without them.
type Business struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Name    string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"name"`
	Domain  string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"domain"`
	OwnerID uuid.UUID `gorm:"type:uuid;not null" json:"owner_id"`

	// Gateway and ledger credentials
	MerchantID     string    `gorm:"type:varchar(100);not null" json:"-"`
	IncomeWalletID uuid.UUID `gorm:"type:uuid;not null" json:"income_wallet_id"`
	LedgerAPIKey   string    `gorm:"type:text" json:"-"`
}

// RootURL returns the business domain as an absolute url.
func (b *Business) RootURL(scheme string) string {
	if strings.HasPrefix(b.Domain, "http://") || strings.HasPrefix(b.Domain, "https://") {
		return strings.TrimRight(b.Domain, "/")
	}
	return fmt.Sprintf("%s://%s", scheme, strings.TrimRight(b.Domain, "/"))
}

// VerifyURL is the callback the gateway redirects the payer to for a purchase.
func (b *Business) VerifyURL(scheme, basePath string, purchaseID uuid.UUID) string {
	base := b.RootURL(scheme)
	if basePath = strings.Trim(basePath, "/"); basePath != "" {
		base += "/" + basePath
	}
	return fmt.Sprintf("%s/purchases/%s/verify", base, purchaseID)
}
