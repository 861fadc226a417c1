package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/spf13/cast"

	"purchase_gateway/internal/apperrors"
	"purchase_gateway/internal/middleware"
	"purchase_gateway/internal/models"
	"purchase_gateway/internal/services"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type PurchaseHandler struct {
	purchaseService *services.PurchaseService
}

func NewPurchaseHandler(purchaseService *services.PurchaseService) *PurchaseHandler {
	return &PurchaseHandler{purchaseService: purchaseService}
}

// Register mounts the purchase routes on a group that already resolves the business
func (h *PurchaseHandler) Register(g *echo.Group) {
	g.POST("/purchases", h.CreatePurchase)
	g.GET("/purchases", h.ListPurchases)
	g.GET("/purchases/start", h.StartDirectPurchase)
	g.GET("/purchases/:id", h.GetPurchase)
	g.GET("/purchases/:id/start", h.StartPurchase)
	g.GET("/purchases/:id/verify", h.VerifyPurchase)
}

// PurchaseListResponse is a page of purchases
type PurchaseListResponse struct {
	Items  []models.Purchase `json:"items"`
	Total  int64             `json:"total"`
	Offset int               `json:"offset"`
	Limit  int               `json:"limit"`
}

// CreatePurchase stores a new INIT purchase
func (h *PurchaseHandler) CreatePurchase(c echo.Context) error {
	var in models.PurchaseCreate
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid purchase payload")
	}

	purchase, err := h.purchaseService.Create(c.Request().Context(), middleware.GetBusiness(c), middleware.GetUserID(c), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, purchase)
}

// ListPurchases returns the business's purchases, newest first
func (h *PurchaseHandler) ListPurchases(c echo.Context) error {
	offset := cast.ToInt(c.QueryParam("offset"))
	if offset < 0 {
		offset = 0
	}
	limit := cast.ToInt(c.QueryParam("limit"))
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	items, total, err := h.purchaseService.List(c.Request().Context(), middleware.GetBusiness(c), offset, limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, PurchaseListResponse{Items: items, Total: total, Offset: offset, Limit: limit})
}

// GetPurchase returns one purchase
func (h *PurchaseHandler) GetPurchase(c echo.Context) error {
	id, err := purchaseID(c)
	if err != nil {
		return err
	}

	purchase, err := h.purchaseService.Get(c.Request().Context(), middleware.GetBusiness(c), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, purchase)
}

// StartPurchase opens the purchase and sends the payer to the gateway
func (h *PurchaseHandler) StartPurchase(c echo.Context) error {
	id, err := purchaseID(c)
	if err != nil {
		return err
	}

	result, err := h.purchaseService.Open(c.Request().Context(), middleware.GetBusiness(c), id)
	if err != nil {
		return err
	}
	return c.Redirect(http.StatusTemporaryRedirect, result.RedirectURL)
}

// StartDirectPurchase creates and opens a purchase from query parameters in one step
func (h *PurchaseHandler) StartDirectPurchase(c echo.Context) error {
	amount, err := decimal.NewFromString(c.QueryParam("amount"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid amount")
	}

	in := models.PurchaseCreate{
		Amount:      amount,
		Description: c.QueryParam("description"),
		CallbackURL: c.QueryParam("callback_url"),
		IsTest:      cast.ToBool(c.QueryParam("is_test")),
	}
	if phone := c.QueryParam("phone"); phone != "" {
		in.Phone = &phone
	}
	if raw := c.QueryParam("wallet_id"); raw != "" {
		wallet, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "Invalid wallet id")
		}
		in.WalletID = &wallet
	}

	ctx := c.Request().Context()
	business := middleware.GetBusiness(c)

	purchase, err := h.purchaseService.Create(ctx, business, middleware.GetUserID(c), in)
	if err != nil {
		return err
	}
	result, err := h.purchaseService.Open(ctx, business, purchase.ID)
	if err != nil {
		return err
	}
	return c.Redirect(http.StatusTemporaryRedirect, result.RedirectURL)
}

// VerifyPurchase is the gateway callback. The payer is redirected to the purchase's
// callback url with the outcome.
func (h *PurchaseHandler) VerifyPurchase(c echo.Context) error {
	id, err := purchaseID(c)
	if err != nil {
		return err
	}
	authority := c.QueryParam("Authority")
	if authority == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Missing Authority")
	}

	purchase, err := h.purchaseService.Verify(c.Request().Context(), middleware.GetBusiness(c), id, c.QueryParam("Status"), authority)
	if err != nil {
		// The payment went through; the ledger is reconciled out of band.
		if !errors.Is(err, apperrors.ErrLedgerPostFailed) || purchase == nil {
			return err
		}
		slog.Error("Purchase settled without ledger post", "purchase_id", purchase.ID, "error", err)
	}
	return c.Redirect(http.StatusTemporaryRedirect, purchase.ResultURL())
}

func purchaseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusNotFound, "Purchase not found")
	}
	return id, nil
}
