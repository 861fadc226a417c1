package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"purchase_gateway/internal/apperrors"
)

// Gateway status codes
const (
	ZarinpalStatusAccepted         = 100
	ZarinpalStatusAlreadyConfirmed = 101
)

const (
	zarinpalRequestPath = "/pg/rest/WebGate/PaymentRequest.json"
	zarinpalVerifyPath  = "/pg/rest/WebGate/PaymentVerification.json"
	zarinpalStartPath   = "/pg/StartPay"
)

// AuthorizationRequest opens a payment session
type AuthorizationRequest struct {
	MerchantID  string `json:"MerchantID"`
	Amount      int64  `json:"Amount"`
	Description string `json:"Description"`
	Mobile      string `json:"Mobile,omitempty"`
	CallbackURL string `json:"CallbackURL"`
}

// VerificationRequest asks the gateway whether a session was paid
type VerificationRequest struct {
	MerchantID string `json:"MerchantID"`
	Amount     int64  `json:"Amount"`
	Authority  string `json:"Authority"`
}

// Verification is the gateway's answer to a VerificationRequest.
// A non-confirmed code is a business outcome, not an error.
type Verification struct {
	Code  int
	RefID int64
}

// Confirmed reports whether the gateway captured the funds
func (v *Verification) Confirmed() bool {
	return v.Code == ZarinpalStatusAccepted || v.Code == ZarinpalStatusAlreadyConfirmed
}

// Gateway is the payment gateway as the orchestrator sees it
type Gateway interface {
	RequestAuthorization(ctx context.Context, isTest bool, req AuthorizationRequest) (string, error)
	VerifyAuthorization(ctx context.Context, isTest bool, req VerificationRequest) (*Verification, error)
	StartPayURL(isTest bool, authority string) string
}

// ZarinpalService talks to the Zarinpal REST gateway. It holds no state besides the
// http client; the environment is chosen per call.
type ZarinpalService struct {
	liveURL    string
	sandboxURL string
	timeout    time.Duration
	client     *http.Client
}

func NewZarinpalService(liveURL, sandboxURL string, timeout time.Duration) *ZarinpalService {
	return &ZarinpalService{
		liveURL:    strings.TrimRight(liveURL, "/"),
		sandboxURL: strings.TrimRight(sandboxURL, "/"),
		timeout:    timeout,
		client:     &http.Client{Timeout: timeout},
	}
}

func (s *ZarinpalService) baseURL(isTest bool) string {
	if isTest {
		return s.sandboxURL
	}
	return s.liveURL
}

// StartPayURL is the hosted payment page for an authority
func (s *ZarinpalService) StartPayURL(isTest bool, authority string) string {
	return fmt.Sprintf("%s%s/%s", s.baseURL(isTest), zarinpalStartPath, authority)
}

// RequestAuthorization opens a payment session and returns its authority
func (s *ZarinpalService) RequestAuthorization(ctx context.Context, isTest bool, req AuthorizationRequest) (string, error) {
	var resp struct {
		Status    int    `json:"Status"`
		Authority string `json:"Authority"`
	}
	raw, err := s.post(ctx, s.baseURL(isTest)+zarinpalRequestPath, req, &resp)
	if err != nil {
		return "", err
	}

	if resp.Status != ZarinpalStatusAccepted || resp.Authority == "" {
		slog.Warn("Gateway rejected authorization request", "status", resp.Status, "amount", req.Amount)
		return "", &apperrors.GatewayRejectedError{Code: resp.Status, Response: string(raw)}
	}
	return resp.Authority, nil
}

// VerifyAuthorization confirms a session after the payer returns
func (s *ZarinpalService) VerifyAuthorization(ctx context.Context, isTest bool, req VerificationRequest) (*Verification, error) {
	var resp struct {
		Status int   `json:"Status"`
		RefID  int64 `json:"RefID"`
	}
	if _, err := s.post(ctx, s.baseURL(isTest)+zarinpalVerifyPath, req, &resp); err != nil {
		return nil, err
	}
	return &Verification{Code: resp.Status, RefID: resp.RefID}, nil
}

// post sends one JSON round trip. Anything short of a decodable response body is
// reported as ErrGatewayUnreachable: we cannot tell what the gateway decided.
func (s *ZarinpalService) post(ctx context.Context, endpoint string, payload, dest interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrGatewayUnreachable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", apperrors.ErrGatewayUnreachable, err)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: status %d: %s", apperrors.ErrGatewayUnreachable, resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return nil, fmt.Errorf("%w: undecodable response (status %d): %s", apperrors.ErrGatewayUnreachable, resp.StatusCode, string(body))
	}
	return body, nil
}
