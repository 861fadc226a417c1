package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"purchase_gateway/internal/apperrors"
	"purchase_gateway/internal/models"
)

const (
	HeaderBusinessName = "X-Business-Name"
	HeaderUserID       = "X-User-ID"

	businessKey = "business"
	userIDKey   = "userID"
)

// BusinessResolver looks tenants up by name or serving domain
type BusinessResolver interface {
	GetByName(ctx context.Context, name string) (*models.Business, error)
	GetByDomain(ctx context.Context, host string) (*models.Business, error)
}

// ResolveBusiness sets the tenant for the request from the X-Business-Name header,
// falling back to the request host. The user is taken from X-User-ID, which a trusted
// upstream sets, or defaults to the business owner.
func ResolveBusiness(businesses BusinessResolver) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()

			var business *models.Business
			var err error
			if name := c.Request().Header.Get(HeaderBusinessName); name != "" {
				business, err = businesses.GetByName(ctx, name)
			} else {
				business, err = businesses.GetByDomain(ctx, c.Request().Host)
			}
			if err != nil {
				if errors.Is(err, apperrors.ErrBusinessNotFound) {
					return echo.NewHTTPError(http.StatusNotFound, "business not found")
				}
				return err
			}

			userID := business.OwnerID
			if raw := c.Request().Header.Get(HeaderUserID); raw != "" {
				parsed, err := uuid.Parse(raw)
				if err != nil {
					return echo.NewHTTPError(http.StatusBadRequest, "invalid "+HeaderUserID+" header")
				}
				userID = parsed
			}

			c.Set(businessKey, business)
			c.Set(userIDKey, userID)
			return next(c)
		}
	}
}

// GetBusiness returns the business set by ResolveBusiness
func GetBusiness(c echo.Context) *models.Business {
	business, _ := c.Get(businessKey).(*models.Business)
	return business
}

// GetUserID returns the acting user set by ResolveBusiness
func GetUserID(c echo.Context) *uuid.UUID {
	userID, ok := c.Get(userIDKey).(uuid.UUID)
	if !ok || userID == uuid.Nil {
		return nil
	}
	return &userID
}
