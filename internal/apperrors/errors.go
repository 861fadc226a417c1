// Package apperrors holds the error values shared by the purchase services and the
// HTTP layer. Callers match them with errors.Is; services wrap them with %w.
package apperrors

import (
	"errors"
	"fmt"
)

// Validation
var (
	ErrAmountTooLow       = errors.New("amount is less than the gateway minimum")
	ErrInvalidAmount      = errors.New("amount must be a whole number of minor units")
	ErrInvalidCallbackURL = errors.New("callback url is not a valid absolute http(s) url")
	ErrInvalidPurchase    = errors.New("purchase data is not valid")
	ErrMerchantIDNotSet   = errors.New("business has no gateway merchant id")
)

// Gateway
var (
	ErrGatewayRejected     = errors.New("gateway rejected the request")
	ErrGatewayUnreachable  = errors.New("gateway is unreachable")
	ErrPurchaseStartFailed = errors.New("could not start purchase")
)

// Consistency
var (
	ErrPurchaseNotFound  = errors.New("purchase not found")
	ErrAuthorityMismatch = errors.New("authority does not belong to this purchase")
	ErrInvalidState      = errors.New("purchase is not in a state that allows this operation")
	ErrBusinessNotFound  = errors.New("business not found")
)

// Downstream
var (
	ErrLedgerPostFailed = errors.New("ledger proposal failed")
)

// GatewayRejectedError carries the gateway's status code and raw response body.
type GatewayRejectedError struct {
	Code     int
	Response string
}

func (e *GatewayRejectedError) Error() string {
	return fmt.Sprintf("gateway rejected the request with status %d: %s", e.Code, e.Response)
}

// Is reports ErrGatewayRejected as a match so callers don't need errors.As.
func (e *GatewayRejectedError) Is(target error) bool {
	return target == ErrGatewayRejected
}
