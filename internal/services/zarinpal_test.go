package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"purchase_gateway/internal/apperrors"
)

func newZarinpalTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *ZarinpalService) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, NewZarinpalService(srv.URL+"/live", srv.URL+"/sandbox", time.Second)
}

func TestZarinpalRequestAuthorization(t *testing.T) {
	var got AuthorizationRequest
	var gotPath string
	_, client := newZarinpalTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte(`{"Status":100,"Authority":"A1"}`))
	})

	authority, err := client.RequestAuthorization(context.Background(), true, AuthorizationRequest{
		MerchantID:  "merchant-1",
		Amount:      150000,
		Description: "order #1",
		CallbackURL: "https://shop.example.com/api/v1/purchases/x/verify",
	})
	if err != nil {
		t.Fatalf("RequestAuthorization() error = %v", err)
	}
	if authority != "A1" {
		t.Errorf("authority = %q; want A1", authority)
	}
	if gotPath != "/sandbox"+zarinpalRequestPath {
		t.Errorf("path = %q; want sandbox request endpoint", gotPath)
	}
	if got.Amount != 150000 || got.MerchantID != "merchant-1" {
		t.Errorf("request = %+v; want amount and merchant forwarded", got)
	}
}

func TestZarinpalRequestAuthorizationRejected(t *testing.T) {
	_, client := newZarinpalTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Status":-3,"Authority":""}`))
	})

	_, err := client.RequestAuthorization(context.Background(), false, AuthorizationRequest{Amount: 1000})
	if !errors.Is(err, apperrors.ErrGatewayRejected) {
		t.Fatalf("error = %v; want ErrGatewayRejected", err)
	}
	var rejected *apperrors.GatewayRejectedError
	if !errors.As(err, &rejected) || rejected.Code != -3 {
		t.Fatalf("error = %#v; want GatewayRejectedError with code -3", err)
	}
	if rejected.Response == "" {
		t.Error("rejection should carry the raw response")
	}
}

func TestZarinpalVerifyAuthorization(t *testing.T) {
	tests := []struct {
		name          string
		body          string
		wantCode      int
		wantConfirmed bool
		wantRef       int64
	}{
		{name: "confirmed", body: `{"Status":100,"RefID":9001}`, wantCode: 100, wantConfirmed: true, wantRef: 9001},
		{name: "already confirmed", body: `{"Status":101,"RefID":9001}`, wantCode: 101, wantConfirmed: true, wantRef: 9001},
		{name: "rejected", body: `{"Status":-21,"RefID":0}`, wantCode: -21, wantConfirmed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, client := newZarinpalTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/live"+zarinpalVerifyPath {
					t.Errorf("path = %q; want live verify endpoint", r.URL.Path)
				}
				w.Write([]byte(tt.body))
			})

			v, err := client.VerifyAuthorization(context.Background(), false, VerificationRequest{Amount: 150000, Authority: "A1"})
			if err != nil {
				t.Fatalf("VerifyAuthorization() error = %v", err)
			}
			if v.Code != tt.wantCode || v.Confirmed() != tt.wantConfirmed || v.RefID != tt.wantRef {
				t.Errorf("verification = %+v; want code %d confirmed %v ref %d", v, tt.wantCode, tt.wantConfirmed, tt.wantRef)
			}
		})
	}
}

func TestZarinpalUnreachable(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{name: "server error", handler: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}},
		{name: "garbage body", handler: func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("<html>maintenance</html>"))
		}},
		{name: "timeout", handler: func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(300 * time.Millisecond)
			w.Write([]byte(`{"Status":100,"RefID":1}`))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			client := NewZarinpalService(srv.URL, srv.URL, 100*time.Millisecond)

			_, err := client.VerifyAuthorization(context.Background(), false, VerificationRequest{Amount: 1000, Authority: "A1"})
			if !errors.Is(err, apperrors.ErrGatewayUnreachable) {
				t.Fatalf("error = %v; want ErrGatewayUnreachable", err)
			}
		})
	}
}

func TestZarinpalStartPayURL(t *testing.T) {
	client := NewZarinpalService("https://www.zarinpal.com/", "https://sandbox.zarinpal.com", time.Second)
	if got, want := client.StartPayURL(false, "A1"), "https://www.zarinpal.com/pg/StartPay/A1"; got != want {
		t.Errorf("StartPayURL(live) = %q; want %q", got, want)
	}
	if got, want := client.StartPayURL(true, "A1"), "https://sandbox.zarinpal.com/pg/StartPay/A1"; got != want {
		t.Errorf("StartPayURL(sandbox) = %q; want %q", got, want)
	}
}
