// Package errs defines the error taxonomy shared across connectors, the
// exchange manager, the detector, and the strategy runtime. Every error
// carries the (venue, symbol, operation) it occurred under so it can be
// tagged consistently on the telemetry channel.
package errs

import (
	"errors"
	"fmt"
	"time"

	"github.com/dasein108/cex-arbitrage-sub007/pkg/types"
)

// Kind is the abstract error category. One concrete Go type implements each kind.
type Kind string

const (
	KindConfiguration        Kind = "CONFIGURATION"
	KindConnection           Kind = "CONNECTION"
	KindProtocol             Kind = "PROTOCOL"
	KindRateLimit            Kind = "RATE_LIMIT"
	KindExchange             Kind = "EXCHANGE"
	KindTimeout              Kind = "TIMEOUT"
	KindInsufficientPosition Kind = "INSUFFICIENT_POSITION"
	KindArbitrageDetection   Kind = "ARBITRAGE_DETECTION"
)

// Tags are the (venue, symbol, operation) attached to every error.
type Tags struct {
	Venue     types.ExchangeId
	Symbol    types.Symbol
	Operation string
}

// Error is the concrete error type for every kind in the taxonomy.
// Use the New* constructors below rather than building one directly.
type Error struct {
	Kind       Kind
	Tags       Tags
	Msg        string
	Retriable  bool
	RetryAfter time.Duration // set for RateLimitError
	Cause      error
}

func (e *Error) Error() string {
	loc := string(e.Tags.Venue)
	if e.Tags.Symbol != (types.Symbol{}) {
		loc += "/" + e.Tags.Symbol.String()
	}
	if e.Tags.Operation != "" {
		loc += "#" + e.Tags.Operation
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s [%s]: %s: %v", e.Kind, loc, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Kind, loc, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewConfiguration builds a ConfigurationError: fatal, no retry.
func NewConfiguration(tags Tags, msg string, cause error) *Error {
	return &Error{Kind: KindConfiguration, Tags: tags, Msg: msg, Retriable: false, Cause: cause}
}

// NewConnection builds a ConnectionError: retriable with backoff.
func NewConnection(tags Tags, msg string, cause error) *Error {
	return &Error{Kind: KindConnection, Tags: tags, Msg: msg, Retriable: true, Cause: cause}
}

// NewProtocol builds a ProtocolError: malformed message, schema mismatch,
// or invalid signature. Not retriable — the message itself is bad.
func NewProtocol(tags Tags, msg string, cause error) *Error {
	return &Error{Kind: KindProtocol, Tags: tags, Msg: msg, Retriable: false, Cause: cause}
}

// NewRateLimit builds a RateLimitError carrying the venue's suggested retry-after.
func NewRateLimit(tags Tags, retryAfter time.Duration) *Error {
	return &Error{
		Kind:       KindRateLimit,
		Tags:       tags,
		Msg:        "rate limited",
		Retriable:  true,
		RetryAfter: retryAfter,
	}
}

// NewExchange builds an ExchangeError: a venue business error (insufficient
// balance, oversold, trading disabled, order not found, invalid symbol).
// Retriable only when the caller knows the code is transient.
func NewExchange(tags Tags, msg string, retriable bool, cause error) *Error {
	return &Error{Kind: KindExchange, Tags: tags, Msg: msg, Retriable: retriable, Cause: cause}
}

// NewTimeout builds a TimeoutError: a deadline was exceeded on a specific operation.
func NewTimeout(tags Tags, msg string) *Error {
	return &Error{Kind: KindTimeout, Tags: tags, Msg: msg, Retriable: true}
}

// NewInsufficientPosition builds an InsufficientPositionError: local
// accounting refuses the trade. Not retriable without operator action.
func NewInsufficientPosition(tags Tags, msg string) *Error {
	return &Error{Kind: KindInsufficientPosition, Tags: tags, Msg: msg, Retriable: false}
}

// NewArbitrageDetection builds an ArbitrageDetectionError: scanner internal error.
func NewArbitrageDetection(tags Tags, msg string, cause error) *Error {
	return &Error{Kind: KindArbitrageDetection, Tags: tags, Msg: msg, Retriable: false, Cause: cause}
}

// IsRetriable reports whether err (or any error it wraps) should be retried
// at the caller with bounded attempts and backoff.
func IsRetriable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retriable
	}
	return false
}

// RetryAfter extracts the suggested retry-after duration from a RateLimitError, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindRateLimit {
		return e.RetryAfter, true
	}
	return 0, false
}

// KindOf extracts the Kind from err, if it is one of ours.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
