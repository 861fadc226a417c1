package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PaymentGateway string

const (
	PaymentGatewayZarinpal PaymentGateway = "zarinpal"
)

// CallbackHistory records every verification callback the gateway (or a retry) sent us,
// whatever its outcome.
type CallbackHistory struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	PaymentGateway PaymentGateway  `gorm:"type:varchar(50);not null" json:"payment_gateway"`
	BusinessName   string          `gorm:"type:varchar(255);index" json:"business_name"`
	PurchaseID     uuid.UUID       `gorm:"type:uuid;index" json:"purchase_id"`
	StatusFlag     string          `gorm:"type:varchar(10)" json:"status_flag"`
	Authority      string          `gorm:"type:varchar(100);index" json:"authority"`
	Outcome        string          `gorm:"type:varchar(50)" json:"outcome"`
	Metadata       json.RawMessage `gorm:"type:jsonb" json:"metadata"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	DeletedAt      gorm.DeletedAt  `gorm:"index" json:"deleted_at,omitempty"`
}
