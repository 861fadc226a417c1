package services

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"purchase_gateway/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := InitSQLiteDB(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func newTestBusiness(t *testing.T, db *gorm.DB) *models.Business {
	t.Helper()
	business := &models.Business{
		Name:           "shop",
		Domain:         "shop.example.com",
		OwnerID:        uuid.New(),
		MerchantID:     "merchant-1",
		IncomeWalletID: uuid.New(),
		LedgerAPIKey:   "ledger-key",
	}
	if err := db.Create(business).Error; err != nil {
		t.Fatalf("create business: %v", err)
	}
	return business
}

// MockGateway records calls and answers through its Func fields
type MockGateway struct {
	mu           sync.Mutex
	RequestCalls []AuthorizationRequest
	VerifyCalls  []VerificationRequest

	RequestAuthorizationFunc func(ctx context.Context, isTest bool, req AuthorizationRequest) (string, error)
	VerifyAuthorizationFunc  func(ctx context.Context, isTest bool, req VerificationRequest) (*Verification, error)
}

func (m *MockGateway) RequestAuthorization(ctx context.Context, isTest bool, req AuthorizationRequest) (string, error) {
	m.mu.Lock()
	m.RequestCalls = append(m.RequestCalls, req)
	m.mu.Unlock()
	if m.RequestAuthorizationFunc != nil {
		return m.RequestAuthorizationFunc(ctx, isTest, req)
	}
	return "A1", nil
}

func (m *MockGateway) VerifyAuthorization(ctx context.Context, isTest bool, req VerificationRequest) (*Verification, error) {
	m.mu.Lock()
	m.VerifyCalls = append(m.VerifyCalls, req)
	m.mu.Unlock()
	if m.VerifyAuthorizationFunc != nil {
		return m.VerifyAuthorizationFunc(ctx, isTest, req)
	}
	return &Verification{Code: ZarinpalStatusAccepted, RefID: 9001}, nil
}

func (m *MockGateway) StartPayURL(isTest bool, authority string) string {
	return "https://sandbox.zarinpal.com/pg/StartPay/" + authority
}

func (m *MockGateway) verifyCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.VerifyCalls)
}

// MockLedger records settled purchases
type MockLedger struct {
	mu    sync.Mutex
	Calls []*models.Purchase

	NotifySettlementFunc func(ctx context.Context, business *models.Business, purchase *models.Purchase) (*LedgerReceipt, error)
}

func (m *MockLedger) NotifySettlement(ctx context.Context, business *models.Business, purchase *models.Purchase) (*LedgerReceipt, error) {
	m.mu.Lock()
	copied := *purchase
	m.Calls = append(m.Calls, &copied)
	m.mu.Unlock()
	if m.NotifySettlementFunc != nil {
		return m.NotifySettlementFunc(ctx, business, purchase)
	}
	return &LedgerReceipt{Request: []byte(`{"currency":"IRR"}`), Response: []byte(`{"id":"p-1"}`)}, nil
}

func (m *MockLedger) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// MockPublisher collects published events
type MockPublisher struct {
	mu     sync.Mutex
	Events []PurchaseEvent
}

func (m *MockPublisher) Publish(ctx context.Context, event PurchaseEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, event)
	return nil
}

func (m *MockPublisher) Close() error { return nil }
