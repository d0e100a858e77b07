package ledgerclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Kind classifies a ledger failure for retry purposes.
type Kind string

const (
	// Transient; the orchestrator retries these.
	KindTimeout     Kind = "timeout"
	KindUnavailable Kind = "unavailable"
	KindRateLimited Kind = "rate_limited"

	// Terminal; the transaction fails immediately.
	KindBlockhashNotFound Kind = "blockhash_not_found"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindAlreadyProcessed  Kind = "already_processed"
	KindSimulationFailed  Kind = "simulation_failed"
	KindOnChain           Kind = "on_chain"
	KindRejected          Kind = "rejected"
)

// Retryable reports whether another attempt may succeed.
func (k Kind) Retryable() bool {
	switch k {
	case KindTimeout, KindUnavailable, KindRateLimited:
		return true
	default:
		return false
	}
}

// Error is a classified ledger failure.
type Error struct {
	Kind    Kind
	Code    int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return "ledger: " + string(e.Kind)
	}
	return fmt.Sprintf("ledger: %s: %s", e.Kind, e.Message)
}

// Is matches on Kind so callers can test against the sentinels below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrTimeout           = &Error{Kind: KindTimeout}
	ErrUnavailable       = &Error{Kind: KindUnavailable}
	ErrRateLimited       = &Error{Kind: KindRateLimited}
	ErrBlockhashNotFound = &Error{Kind: KindBlockhashNotFound}
	ErrInsufficientFunds = &Error{Kind: KindInsufficientFunds}
	ErrAlreadyProcessed  = &Error{Kind: KindAlreadyProcessed}
	ErrSimulationFailed  = &Error{Kind: KindSimulationFailed}
	ErrOnChain           = &Error{Kind: KindOnChain}
)

// NewError builds a classified error.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Classify maps any error to a Kind. Cancelled contexts are never
// retryable; unrecognised transport failures count as unavailable.
func Classify(err error) (Kind, bool) {
	if err == nil {
		return "", false
	}
	var le *Error
	if errors.As(err, &le) {
		return le.Kind, le.Kind.Retryable()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout, false
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout, true
	}
	return KindUnavailable, true
}

// IsRetryable is shorthand for the second result of Classify.
func IsRetryable(err error) bool {
	_, ok := Classify(err)
	return ok
}

// classifyRPC turns a JSON-RPC error object into a classified error. The
// node reports most preflight rejections under one code, so the message
// decides.
func classifyRPC(code int, message string) *Error {
	msg := strings.ToLower(message)
	kind := KindRejected
	switch {
	case strings.Contains(msg, "blockhash not found"), strings.Contains(msg, "block height exceeded"):
		kind = KindBlockhashNotFound
	case strings.Contains(msg, "insufficient funds"), strings.Contains(msg, "insufficient lamports"):
		kind = KindInsufficientFunds
	case strings.Contains(msg, "already been processed"), strings.Contains(msg, "alreadyprocessed"):
		kind = KindAlreadyProcessed
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many requests"):
		kind = KindRateLimited
	case code == rpcCodeNodeUnhealthy, code == rpcCodeSlotSkipped:
		kind = KindUnavailable
	case code == rpcCodeSimulationFailed, code == rpcCodeSigVerifyFailed:
		kind = KindSimulationFailed
	}
	return &Error{Kind: kind, Code: code, Message: message}
}
