package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"purchase_gateway/internal/apperrors"
	"purchase_gateway/internal/models"
)

// Callback status flags sent by the gateway redirect
const (
	StatusFlagOK  = "OK"
	StatusFlagNOK = "NOK"
)

const rejectedByGatewayReason = "rejected by gateway"

// OpenResult is where the payer should be sent after Open
type OpenResult struct {
	Purchase    *models.Purchase
	RedirectURL string
}

// PurchaseService drives a purchase through INIT -> PENDING -> SUCCESS | FAILED.
// Status writes for one purchase happen under its lock and as compare-and-set updates.
type PurchaseService struct {
	store    *PurchaseStore
	gateway  Gateway
	ledger   LedgerNotifier
	locker   Locker
	events   EventPublisher
	scheme   string
	basePath string
	now      func() time.Time
}

func NewPurchaseService(store *PurchaseStore, gateway Gateway, ledger LedgerNotifier, locker Locker, events EventPublisher, scheme, basePath string) *PurchaseService {
	if events == nil {
		events = NopPublisher{}
	}
	return &PurchaseService{
		store:    store,
		gateway:  gateway,
		ledger:   ledger,
		locker:   locker,
		events:   events,
		scheme:   scheme,
		basePath: basePath,
		now:      time.Now,
	}
}

// Create validates the input and stores a new INIT purchase
func (s *PurchaseService) Create(ctx context.Context, business *models.Business, userID *uuid.UUID, in models.PurchaseCreate) (*models.Purchase, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	purchase := models.NewPurchase(business.Name, userID, in)
	if err := s.store.Create(ctx, purchase); err != nil {
		return nil, err
	}

	slog.Info("Purchase created", "business", business.Name, "purchase_id", purchase.ID, "amount", purchase.Amount.String())
	return purchase, nil
}

// Get returns one of the business's purchases
func (s *PurchaseService) Get(ctx context.Context, business *models.Business, id uuid.UUID) (*models.Purchase, error) {
	return s.store.Get(ctx, business.Name, id)
}

// List returns a page of the business's purchases and the total count
func (s *PurchaseService) List(ctx context.Context, business *models.Business, offset, limit int) ([]models.Purchase, int64, error) {
	return s.store.List(ctx, business.Name, offset, limit)
}

// Open asks the gateway for an authority and moves the purchase to PENDING.
// Opening a purchase that already left INIT returns where it currently points.
func (s *PurchaseService) Open(ctx context.Context, business *models.Business, id uuid.UUID) (*OpenResult, error) {
	purchase, err := s.store.Get(ctx, business.Name, id)
	if err != nil {
		return nil, err
	}

	if purchase.MinorUnits() < models.MinimumAmount {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrAmountTooLow, purchase.Amount)
	}
	if strings.TrimSpace(business.MerchantID) == "" {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrMerchantIDNotSet, business.Name)
	}
	callbackURL := business.VerifyURL(s.scheme, s.basePath, purchase.ID)
	if err := models.ValidateCallbackURL(callbackURL); err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, purchaseLockKey(business.Name, purchase.ID.String()))
	if err != nil {
		return nil, fmt.Errorf("failed to lock purchase %s: %w", purchase.ID, err)
	}
	defer unlock()

	if purchase, err = s.store.Get(ctx, business.Name, id); err != nil {
		return nil, err
	}
	if purchase.Status != models.PurchaseStatusInit {
		return s.openResult(purchase)
	}

	req := AuthorizationRequest{
		MerchantID:  business.MerchantID,
		Amount:      purchase.MinorUnits(),
		Description: purchase.Description,
		CallbackURL: callbackURL,
	}
	if purchase.Phone != nil {
		req.Mobile = *purchase.Phone
	}

	authority, err := s.gateway.RequestAuthorization(ctx, purchase.IsTest, req)
	if err != nil {
		if errors.Is(err, apperrors.ErrGatewayRejected) {
			slog.Warn("Gateway rejected purchase", "business", business.Name, "purchase_id", purchase.ID, "error", err)
			return nil, fmt.Errorf("%w: %w", apperrors.ErrPurchaseStartFailed, err)
		}
		return nil, fmt.Errorf("failed to open purchase %s: %w", purchase.ID, err)
	}

	moved, err := s.store.MarkPending(ctx, purchase, authority)
	if err != nil {
		return nil, err
	}
	if !moved {
		// Moved by a writer outside our lock; report its state instead.
		if purchase, err = s.store.Get(ctx, business.Name, id); err != nil {
			return nil, err
		}
		return s.openResult(purchase)
	}

	slog.Info("Purchase opened", "business", business.Name, "purchase_id", purchase.ID, "authority", authority)
	return s.openResult(purchase)
}

func (s *PurchaseService) openResult(p *models.Purchase) (*OpenResult, error) {
	switch {
	case p.Status == models.PurchaseStatusPending && p.Authority != nil:
		return &OpenResult{Purchase: p, RedirectURL: s.gateway.StartPayURL(p.IsTest, *p.Authority)}, nil
	case p.Status.IsTerminal():
		return &OpenResult{Purchase: p, RedirectURL: p.ResultURL()}, nil
	}
	return nil, fmt.Errorf("%w: purchase %s is %s", apperrors.ErrInvalidState, p.ID, p.Status)
}

// Verify settles a PENDING purchase from a gateway callback. The purchase is resolved by
// authority and must match id. Terminal purchases are returned unchanged. The first
// SUCCESS is reported to the ledger; a ledger failure is returned next to the settled
// purchase and never undoes it.
func (s *PurchaseService) Verify(ctx context.Context, business *models.Business, id uuid.UUID, statusFlag, authority string) (purchase *models.Purchase, err error) {
	statusFlag = strings.ToUpper(strings.TrimSpace(statusFlag))
	defer func() {
		s.recordCallback(ctx, business, id, statusFlag, authority, purchase, err)
	}()

	purchase, err = s.store.GetByAuthority(ctx, business.Name, authority)
	if err != nil {
		return nil, err
	}
	if purchase.ID != id {
		slog.Warn("Callback authority does not match purchase", "business", business.Name, "purchase_id", id, "authority", authority)
		return nil, fmt.Errorf("%w: %s", apperrors.ErrAuthorityMismatch, authority)
	}
	if purchase.Status.IsTerminal() {
		return purchase, nil
	}

	unlock, err := s.locker.Lock(ctx, purchaseLockKey(business.Name, purchase.ID.String()))
	if err != nil {
		return nil, fmt.Errorf("failed to lock purchase %s: %w", purchase.ID, err)
	}
	defer unlock()

	if purchase, err = s.store.Get(ctx, business.Name, id); err != nil {
		return nil, err
	}
	if purchase.Status.IsTerminal() {
		return purchase, nil
	}
	if purchase.Status != models.PurchaseStatusPending {
		return nil, fmt.Errorf("%w: purchase %s is %s", apperrors.ErrInvalidState, purchase.ID, purchase.Status)
	}

	var moved bool
	if statusFlag == StatusFlagNOK {
		moved, err = s.store.MarkFailed(ctx, purchase, rejectedByGatewayReason)
	} else {
		var verification *Verification
		verification, err = s.gateway.VerifyAuthorization(ctx, purchase.IsTest, VerificationRequest{
			MerchantID: business.MerchantID,
			Amount:     purchase.MinorUnits(),
			Authority:  authority,
		})
		if err != nil {
			slog.Warn("Purchase verification left pending", "business", business.Name, "purchase_id", purchase.ID, "error", err)
			return purchase, fmt.Errorf("failed to verify purchase %s: %w", purchase.ID, err)
		}

		if verification.Confirmed() {
			moved, err = s.store.MarkSuccess(ctx, purchase, verification.RefID, s.now())
		} else {
			moved, err = s.store.MarkFailed(ctx, purchase, strconv.Itoa(verification.Code))
		}
	}
	if err != nil {
		return nil, err
	}
	if !moved {
		return s.store.Get(ctx, business.Name, id)
	}

	slog.Info("Purchase verified", "business", business.Name, "purchase_id", purchase.ID, "status", purchase.Status)
	if err := s.events.Publish(ctx, NewPurchaseEvent(purchase)); err != nil {
		slog.Warn("Failed to publish purchase event", "purchase_id", purchase.ID, "error", err)
	}

	if purchase.IsSuccessful() {
		if _, err := s.notifyLedger(ctx, business, purchase, 1); err != nil {
			return purchase, err
		}
	}
	return purchase, nil
}

// RepostLedger submits a settled purchase to the ledger again after a failed attempt.
// It is only ever called by operator-driven reconciliation.
func (s *PurchaseService) RepostLedger(ctx context.Context, business *models.Business, failed *models.LedgerPost) (*models.LedgerPost, error) {
	purchase, err := s.store.Get(ctx, business.Name, failed.PurchaseID)
	if err != nil {
		return nil, err
	}
	if !purchase.IsSuccessful() {
		return nil, fmt.Errorf("%w: purchase %s is %s", apperrors.ErrInvalidState, purchase.ID, purchase.Status)
	}
	return s.notifyLedger(ctx, business, purchase, failed.Attempt+1)
}

func (s *PurchaseService) notifyLedger(ctx context.Context, business *models.Business, purchase *models.Purchase, attempt int) (*models.LedgerPost, error) {
	receipt, notifyErr := s.ledger.NotifySettlement(ctx, business, purchase)

	post := &models.LedgerPost{
		PurchaseID:   purchase.ID,
		BusinessName: business.Name,
		Amount:       purchase.Amount,
		Status:       models.LedgerPostStatusPosted,
		Attempt:      attempt,
	}
	if receipt != nil {
		post.Request = receipt.Request
		post.Response = receipt.Response
	}
	var proposal Proposal
	if err := json.Unmarshal(post.Request, &proposal); err == nil {
		post.Currency = proposal.Currency
	}
	if notifyErr != nil {
		post.Status = models.LedgerPostStatusFailed
		post.Error = notifyErr.Error()
		slog.Error("Ledger post failed", "business", business.Name, "purchase_id", purchase.ID, "attempt", attempt, "error", notifyErr)
	}

	if err := s.store.RecordLedgerPost(ctx, post); err != nil {
		slog.Error("Failed to record ledger post", "purchase_id", purchase.ID, "error", err)
	}

	if notifyErr != nil {
		if !errors.Is(notifyErr, apperrors.ErrLedgerPostFailed) {
			notifyErr = fmt.Errorf("%w: %w", apperrors.ErrLedgerPostFailed, notifyErr)
		}
		return post, notifyErr
	}
	return post, nil
}

func (s *PurchaseService) recordCallback(ctx context.Context, business *models.Business, id uuid.UUID, statusFlag, authority string, purchase *models.Purchase, verifyErr error) {
	outcome := "error"
	if purchase != nil {
		outcome = string(purchase.Status)
	}

	var metadata json.RawMessage
	if verifyErr != nil {
		metadata, _ = json.Marshal(map[string]string{"error": verifyErr.Error()})
	}

	history := &models.CallbackHistory{
		PaymentGateway: models.PaymentGatewayZarinpal,
		BusinessName:   business.Name,
		PurchaseID:     id,
		StatusFlag:     statusFlag,
		Authority:      authority,
		Outcome:        outcome,
		Metadata:       metadata,
	}
	if err := s.store.RecordCallback(context.WithoutCancel(ctx), history); err != nil {
		slog.Warn("Failed to record callback", "purchase_id", id, "error", err)
	}
}
