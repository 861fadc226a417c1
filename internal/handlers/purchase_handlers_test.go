package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"purchase_gateway/internal/middleware"
	"purchase_gateway/internal/models"
	"purchase_gateway/internal/services"
)

type testApp struct {
	echo        *echo.Echo
	business    *models.Business
	ledgerCalls *int32
}

func newTestApp(t *testing.T, verifyStatus int) *testApp {
	t.Helper()

	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "PaymentRequest.json"):
			fmt.Fprint(w, `{"Status":100,"Authority":"A1"}`)
		case strings.HasSuffix(r.URL.Path, "PaymentVerification.json"):
			fmt.Fprintf(w, `{"Status":%d,"RefID":9001}`, verifyStatus)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(gateway.Close)

	var ledgerCalls int32
	ledger := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&ledgerCalls, 1)
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id":"p-1"}`)
	}))
	t.Cleanup(ledger.Close)

	db, err := services.InitSQLiteDB(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := services.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

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

	purchaseService := services.NewPurchaseService(
		services.NewPurchaseStore(db),
		services.NewZarinpalService(gateway.URL, gateway.URL, time.Second),
		services.NewLedgerService(ledger.URL, "IRR", time.Second),
		services.NewLocalLocker(),
		services.NopPublisher{},
		"https",
		"api/v1",
	)

	e := echo.New()
	e.HTTPErrorHandler = middleware.CustomErrorHandler
	api := e.Group("/api/v1", middleware.ResolveBusiness(services.NewBusinessStore(db, nil, time.Minute)))
	NewPurchaseHandler(purchaseService).Register(api)

	return &testApp{echo: e, business: business, ledgerCalls: &ledgerCalls}
}

func (a *testApp) do(method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Host = a.business.Domain
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	a.echo.ServeHTTP(rec, req)
	return rec
}

func (a *testApp) createPurchase(t *testing.T) models.Purchase {
	t.Helper()
	rec := a.do(http.MethodPost, "/api/v1/purchases", `{"amount":150000,"description":"order #1","callback_url":"https://shop.example.com/thanks","wallet_id":"`+uuid.NewString()+`"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d body = %s", rec.Code, rec.Body.String())
	}
	var p models.Purchase
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode purchase: %v", err)
	}
	return p
}

func TestPurchaseFlowOverHTTP(t *testing.T) {
	app := newTestApp(t, 100)

	p := app.createPurchase(t)
	if p.Status != models.PurchaseStatusInit {
		t.Fatalf("status = %s; want INIT", p.Status)
	}

	rec := app.do(http.MethodGet, "/api/v1/purchases/"+p.ID.String()+"/start", "")
	if rec.Code != http.StatusTemporaryRedirect {
		t.Fatalf("start status = %d body = %s", rec.Code, rec.Body.String())
	}
	if loc := rec.Header().Get("Location"); !strings.HasSuffix(loc, "/pg/StartPay/A1") {
		t.Errorf("start redirect = %q; want StartPay/A1", loc)
	}

	rec = app.do(http.MethodGet, "/api/v1/purchases/"+p.ID.String()+"/verify?Status=OK&Authority=A1", "")
	if rec.Code != http.StatusTemporaryRedirect {
		t.Fatalf("verify status = %d body = %s", rec.Code, rec.Body.String())
	}
	if loc := rec.Header().Get("Location"); loc != "https://shop.example.com/thanks?success=true" {
		t.Errorf("verify redirect = %q; want success=true", loc)
	}

	rec = app.do(http.MethodGet, "/api/v1/purchases/"+p.ID.String()+"/verify?Status=OK&Authority=A1", "")
	if rec.Code != http.StatusTemporaryRedirect {
		t.Fatalf("repeat verify status = %d", rec.Code)
	}
	if n := atomic.LoadInt32(app.ledgerCalls); n != 1 {
		t.Errorf("ledger calls = %d; want 1", n)
	}

	rec = app.do(http.MethodGet, "/api/v1/purchases/"+p.ID.String(), "")
	var got models.Purchase
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Status != models.PurchaseStatusSuccess || got.RefID == nil || *got.RefID != 9001 {
		t.Errorf("purchase = %+v; want SUCCESS ref 9001", got)
	}
	if strings.Contains(rec.Body.String(), "ledger-key") || strings.Contains(rec.Body.String(), "merchant-1") {
		t.Error("purchase response leaked business credentials")
	}
}

func TestVerifyRejectedRedirectsFailure(t *testing.T) {
	app := newTestApp(t, -21)
	p := app.createPurchase(t)
	app.do(http.MethodGet, "/api/v1/purchases/"+p.ID.String()+"/start", "")

	rec := app.do(http.MethodGet, "/api/v1/purchases/"+p.ID.String()+"/verify?Status=OK&Authority=A1", "")
	if loc := rec.Header().Get("Location"); loc != "https://shop.example.com/thanks?success=false" {
		t.Errorf("verify redirect = %q; want success=false", loc)
	}
	if n := atomic.LoadInt32(app.ledgerCalls); n != 0 {
		t.Errorf("ledger calls = %d; want 0", n)
	}
}

func TestPurchaseErrorStatuses(t *testing.T) {
	app := newTestApp(t, 100)
	p := app.createPurchase(t)
	app.do(http.MethodGet, "/api/v1/purchases/"+p.ID.String()+"/start", "")
	other := app.createPurchase(t)

	tests := []struct {
		name   string
		method string
		target string
		body   string
		want   int
	}{
		{name: "amount too low", method: http.MethodPost, target: "/api/v1/purchases", body: `{"amount":500,"description":"x","callback_url":"https://a.example.com"}`, want: http.StatusBadRequest},
		{name: "malformed body", method: http.MethodPost, target: "/api/v1/purchases", body: `{"amount":`, want: http.StatusBadRequest},
		{name: "unknown purchase", method: http.MethodGet, target: "/api/v1/purchases/" + uuid.NewString(), want: http.StatusNotFound},
		{name: "unknown authority", method: http.MethodGet, target: "/api/v1/purchases/" + p.ID.String() + "/verify?Status=OK&Authority=ZZ", want: http.StatusNotFound},
		{name: "authority mismatch", method: http.MethodGet, target: "/api/v1/purchases/" + other.ID.String() + "/verify?Status=OK&Authority=A1", want: http.StatusForbidden},
		{name: "missing authority", method: http.MethodGet, target: "/api/v1/purchases/" + p.ID.String() + "/verify?Status=OK", want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := app.do(tt.method, tt.target, tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d; want %d (body %s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestStartDirectPurchaseAndList(t *testing.T) {
	app := newTestApp(t, 100)

	rec := app.do(http.MethodGet, "/api/v1/purchases/start?amount=20000&description=tip&callback_url=https://shop.example.com/thanks&is_test=true", "")
	if rec.Code != http.StatusTemporaryRedirect {
		t.Fatalf("direct start status = %d body = %s", rec.Code, rec.Body.String())
	}

	rec = app.do(http.MethodGet, "/api/v1/purchases?limit=500", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var page PurchaseListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if page.Total != 1 || len(page.Items) != 1 || page.Limit != maxPageSize {
		t.Fatalf("page = %+v; want one item with capped limit", page)
	}
	if item := page.Items[0]; item.Status != models.PurchaseStatusPending || !item.IsTest {
		t.Errorf("item = %+v; want PENDING test purchase", item)
	}
}
