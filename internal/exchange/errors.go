package exchange

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Error codes shared by all adapters.
const (
	CodeSymbolNotFound        = "SYMBOL_NOT_FOUND"
	CodeMarketDataUnavailable = "MARKET_DATA_UNAVAILABLE"
	CodeOrderRejected         = "ORDER_REJECTED"
	CodeEmptyOrderID          = "EMPTY_ORDER_ID"
	CodeBadResponse           = "BAD_RESPONSE"
	CodeHTTPStatus            = "HTTP_STATUS"
	CodeNotRegistered         = "EXCHANGE_NOT_REGISTERED"
)

// Error is the standardized exchange failure. Transient marks errors worth
// retrying (rate limits, 5xx, network hiccups); everything else propagates
// immediately.
type Error struct {
	Code      string
	Exchange  string
	Message   string
	Transient bool
}

func (e *Error) Error() string {
	if e.Exchange != "" {
		return fmt.Sprintf("%s: %s: %s", e.Exchange, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewSymbolNotFound reports a pair the exchange does not list.
func NewSymbolNotFound(exchange, pair string) *Error {
	return &Error{Code: CodeSymbolNotFound, Exchange: exchange, Message: "no such symbol " + pair}
}

// NewMarketDataUnavailable reports missing or insufficient market history.
func NewMarketDataUnavailable(exchange, pair, detail string) *Error {
	return &Error{Code: CodeMarketDataUnavailable, Exchange: exchange, Message: pair + ": " + detail}
}

// NewOrderRejected wraps an exchange order rejection, keeping the raw
// exchange response text for the operator.
func NewOrderRejected(exchange, pair, response string) *Error {
	return &Error{Code: CodeOrderRejected, Exchange: exchange, Message: pair + ": " + response}
}

// NewEmptyOrderID reports a placement response that carried no order id.
func NewEmptyOrderID(exchange, pair string) *Error {
	return &Error{Code: CodeEmptyOrderID, Exchange: exchange, Message: pair + ": exchange returned empty order id"}
}

// NewBadResponse reports an undecodable or out-of-contract exchange reply.
func NewBadResponse(exchange, detail string) *Error {
	return &Error{Code: CodeBadResponse, Exchange: exchange, Message: detail}
}

// NewTransient builds a retryable error from an HTTP-level failure.
func NewTransient(exchange, detail string) *Error {
	return &Error{Code: CodeBadResponse, Exchange: exchange, Message: detail, Transient: true}
}

// NewHTTPStatus wraps a non-2xx HTTP reply. Rate limits and server-side
// statuses are retryable, client errors are not.
func NewHTTPStatus(exchange string, status int, detail string) *Error {
	return &Error{
		Code:      CodeHTTPStatus,
		Exchange:  exchange,
		Message:   fmt.Sprintf("HTTP %d: %s", status, detail),
		Transient: status == 429 || status >= 500,
	}
}

// IsCode reports whether err is (or wraps) an *Error with the given code.
func IsCode(err error, code string) bool {
	var ee *Error
	return errors.As(err, &ee) && ee.Code == code
}

// transientMarkers is the substring heuristic applied to untyped errors.
// " 5" deliberately matches "status 5xx" renderings.
var transientMarkers = []string{
	"timeout", "timed out", "connection", "reset", "econn", "read timed",
	"429", " 5", "server error", "temporarily", "gateway", "unavailable", "rate",
}

// IsTransient classifies an error as retryable. Typed adapter errors decide
// for themselves; everything else falls back to net timeouts and a text
// heuristic over the rendered message.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Transient
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	s := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}
