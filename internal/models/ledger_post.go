package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type LedgerPostStatus string

const (
	LedgerPostStatusPosted LedgerPostStatus = "posted"
	LedgerPostStatusFailed LedgerPostStatus = "failed"
)

// LedgerPost records one attempt to submit a settled purchase to the ledger service.
// A purchase whose latest attempt failed needs out-of-band reconciliation.
type LedgerPost struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	PurchaseID   uuid.UUID        `gorm:"type:uuid;not null;index" json:"purchase_id"`
	BusinessName string           `gorm:"type:varchar(255);index" json:"business_name"`
	Amount       decimal.Decimal  `gorm:"type:decimal(20,0)" json:"amount"`
	Currency     string           `gorm:"type:varchar(10)" json:"currency"`
	Status       LedgerPostStatus `gorm:"type:varchar(20);index" json:"status"`
	Error        string           `gorm:"type:text" json:"error,omitempty"`
	Attempt      int              `gorm:"not null;default:1" json:"attempt"`
	Request      json.RawMessage  `gorm:"type:jsonb" json:"request"`
	Response     json.RawMessage  `gorm:"type:jsonb" json:"response"`
}
