package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"purchase_gateway/internal/apperrors"
)

// ErrorResponse is the JSON body of every failed request
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// StatusCode maps service errors onto HTTP statuses
func StatusCode(err error) int {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}

	switch {
	case errors.Is(err, apperrors.ErrAmountTooLow),
		errors.Is(err, apperrors.ErrInvalidAmount),
		errors.Is(err, apperrors.ErrInvalidCallbackURL),
		errors.Is(err, apperrors.ErrInvalidPurchase),
		errors.Is(err, apperrors.ErrMerchantIDNotSet):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrAuthorityMismatch):
		return http.StatusForbidden
	case errors.Is(err, apperrors.ErrPurchaseNotFound),
		errors.Is(err, apperrors.ErrBusinessNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, apperrors.ErrGatewayUnreachable):
		return http.StatusGatewayTimeout
	case errors.Is(err, apperrors.ErrGatewayRejected),
		errors.Is(err, apperrors.ErrPurchaseStartFailed),
		errors.Is(err, apperrors.ErrLedgerPostFailed):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// CustomErrorHandler renders errors as JSON for Echo
func CustomErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := StatusCode(err)
	errorMessage := err.Error()

	var he *echo.HTTPError
	if errors.As(err, &he) {
		if msg, ok := he.Message.(string); ok && msg != "" {
			errorMessage = msg
		}
	}

	// Don't leak internals on unexpected failures
	if code == http.StatusInternalServerError {
		errorMessage = "Something went wrong. Please try again later."
	}

	// Log the error
	c.Logger().Error(err)

	var renderErr error
	if c.Request().Method == http.MethodHead {
		renderErr = c.NoContent(code)
	} else {
		renderErr = c.JSON(code, ErrorResponse{
			Error:   http.StatusText(code),
			Message: errorMessage,
		})
	}
	if renderErr != nil {
		c.Logger().Error(renderErr)
	}
}
