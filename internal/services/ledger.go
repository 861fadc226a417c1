package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"purchase_gateway/internal/apperrors"
	"purchase_gateway/internal/models"
)

// ProposalParticipant is one leg of a ledger transfer proposal
type ProposalParticipant struct {
	WalletID uuid.UUID       `json:"wallet_id"`
	Amount   decimal.Decimal `json:"amount"`
}

// Proposal is a balanced transfer submitted to the ledger service
type Proposal struct {
	Amount       decimal.Decimal       `json:"amount"`
	Currency     string                `json:"currency"`
	Description  string                `json:"description"`
	Participants []ProposalParticipant `json:"participants"`
}

// LedgerReceipt is what a ledger submission leaves behind, successful or not
type LedgerReceipt struct {
	Request  json.RawMessage
	Response json.RawMessage
}

// LedgerNotifier reports settled purchases to the ledger
type LedgerNotifier interface {
	NotifySettlement(ctx context.Context, business *models.Business, purchase *models.Purchase) (*LedgerReceipt, error)
}

type LedgerService struct {
	baseURL  string
	currency string
	timeout  time.Duration
	client   *http.Client
}

func NewLedgerService(baseURL, currency string, timeout time.Duration) *LedgerService {
	return &LedgerService{
		baseURL:  strings.TrimRight(baseURL, "/"),
		currency: currency,
		timeout:  timeout,
		client:   &http.Client{Timeout: timeout},
	}
}

// NewSettlementProposal moves the purchase amount out of the business income wallet and
// into the purchaser's wallet.
func NewSettlementProposal(business *models.Business, purchase *models.Purchase, currency string) (*Proposal, error) {
	wallet, ok := purchase.CreditWalletID()
	if !ok {
		return nil, fmt.Errorf("%w: purchase %s has no wallet to credit", apperrors.ErrLedgerPostFailed, purchase.ID)
	}
	if business.IncomeWalletID == uuid.Nil {
		return nil, fmt.Errorf("%w: business %s has no income wallet", apperrors.ErrLedgerPostFailed, business.Name)
	}

	amount := decimal.NewFromInt(purchase.MinorUnits())
	return &Proposal{
		Amount:      amount,
		Currency:    currency,
		Description: fmt.Sprintf("purchase %s (%s)", purchase.ID, purchase.Description),
		Participants: []ProposalParticipant{
			{WalletID: business.IncomeWalletID, Amount: amount.Neg()},
			{WalletID: wallet, Amount: amount},
		},
	}, nil
}

// NotifySettlement submits the settlement proposal for a SUCCESS purchase
func (s *LedgerService) NotifySettlement(ctx context.Context, business *models.Business, purchase *models.Purchase) (*LedgerReceipt, error) {
	receipt := &LedgerReceipt{}
	if !purchase.IsSuccessful() {
		return receipt, fmt.Errorf("%w: purchase %s is %s", apperrors.ErrInvalidState, purchase.ID, purchase.Status)
	}

	proposal, err := NewSettlementProposal(business, purchase, s.currency)
	if err != nil {
		return receipt, err
	}
	data, err := json.Marshal(proposal)
	if err != nil {
		return receipt, fmt.Errorf("failed to marshal proposal: %w", err)
	}
	receipt.Request = data

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/proposals", bytes.NewBuffer(data))
	if err != nil {
		return receipt, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+business.LedgerAPIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return receipt, fmt.Errorf("%w: %v", apperrors.ErrLedgerPostFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return receipt, fmt.Errorf("%w: failed to read response: %v", apperrors.ErrLedgerPostFailed, err)
	}
	if json.Valid(body) {
		receipt.Response = body
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return receipt, fmt.Errorf("%w: status %d: %s", apperrors.ErrLedgerPostFailed, resp.StatusCode, string(body))
	}

	// Some ledger deployments answer 2xx with an error envelope. Other keys, "detail"
	// included, belong to accepted proposals.
	var envelope struct {
		Error interface{} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil {
		return receipt, fmt.Errorf("%w: %s", apperrors.ErrLedgerPostFailed, string(body))
	}
	return receipt, nil
}
