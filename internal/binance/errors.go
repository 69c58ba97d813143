package binance

import (
	"errors"
	"fmt"
)

// APIError is a structured error returned by the exchange.
type APIError struct {
	HTTPStatus int
	Code       int    `json:"code"`
	Message    string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange error %d (http %d): %s", e.Code, e.HTTPStatus, e.Message)
}

// Well-known business error codes the executor cares about.
const (
	CodeOrderWouldTriggerImmediately = -2021
	CodeOrderWouldImmediatelyMatch   = -2010
	CodeMarginInsufficient           = -2019
	CodeReduceOnlyRejected           = -2022
	CodeLeverageNotModified          = -4028
)

// transientCodes are exchange-side conditions worth retrying.
var transientCodes = map[int]bool{
	-1001: true, // DISCONNECTED
	-1003: true, // TOO_MANY_REQUESTS
	-1007: true, // TIMEOUT
	-1015: true, // TOO_MANY_ORDERS
	-1016: true, // SERVICE_SHUTTING_DOWN
}

// IsTransient reports whether the error is a network/server condition that
// the adapter retries (15/30/60/120 s, up to 5 attempts).
func IsTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if transientCodes[apiErr.Code] {
			return true
		}
		return apiErr.HTTPStatus == 429 || apiErr.HTTPStatus == 418 || apiErr.HTTPStatus >= 500
	}
	// Anything that never reached the exchange (DNS, TLS, timeouts) counts.
	var netErr *transportError
	return errors.As(err, &netErr)
}

// IsBusiness reports whether the exchange accepted the request but rejected
// it with a structured error. Business errors are never retried.
func IsBusiness(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return !IsTransient(err)
}

// BusinessCode extracts the exchange error code, or 0.
func BusinessCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}

// transportError wraps failures below the HTTP layer.
type transportError struct {
	op  string
	err error
}

func (e *transportError) Error() string { return fmt.Sprintf("%s: %v", e.op, e.err) }
func (e *transportError) Unwrap() error { return e.err }

// ErrRetriesExhausted marks a transient failure that survived the full
// backoff schedule. The adapter raises an alarm before returning it.
var ErrRetriesExhausted = errors.New("transient error: retries exhausted")
