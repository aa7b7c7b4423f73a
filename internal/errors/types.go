package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
)

// Kind classifies an error for transport mapping.
type Kind int

const (
	// KindInternal covers store failures and anything unclassified.
	KindInternal Kind = iota
	// KindValidation - missing or malformed input
	KindValidation
	// KindInsufficientCredits - balance exhausted before a metered call
	KindInsufficientCredits
	// KindPaymentNotCompleted - the checkout session is not paid
	KindPaymentNotCompleted
	// KindInvalidSettlementMetadata - the session metadata does not match the caller
	KindInvalidSettlementMetadata
	// KindCollaborator - the AI service or payment provider failed
	KindCollaborator
	// KindConfiguration - a required secret or price is missing
	KindConfiguration
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindInsufficientCredits:
		return "insufficient_credits"
	case KindPaymentNotCompleted:
		return "payment_not_completed"
	case KindInvalidSettlementMetadata:
		return "invalid_settlement_metadata"
	case KindCollaborator:
		return "collaborator"
	case KindConfiguration:
		return "configuration"
	default:
		return "internal"
	}
}

// Error is the classified error carried through the service layers.
type Error struct {
	Kind Kind
	// Message is safe to show to clients.
	Message string
	// Collaborator names the upstream system for KindCollaborator.
	Collaborator string
	// StatusCode is the upstream HTTP status when known.
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message != "" {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return e.Kind.String() + " error"
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same Kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrInsufficientCredits       = &Error{Kind: KindInsufficientCredits, Message: "Crédits insuffisants"}
	ErrPaymentNotCompleted       = &Error{Kind: KindPaymentNotCompleted, Message: "Paiement non validé"}
	ErrInvalidSettlementMetadata = &Error{Kind: KindInvalidSettlementMetadata, Message: "Métadonnées Stripe invalides"}
)

// Validation reports rejected input.
func Validation(message string) error {
	return &Error{Kind: KindValidation, Message: message}
}

// Configuration reports a missing secret or setting.
func Configuration(message string) error {
	return &Error{Kind: KindConfiguration, Message: message}
}

// Collaborator wraps a failure of an external system.
func Collaborator(name string, statusCode int, message string, err error) error {
	return &Error{
		Kind:         KindCollaborator,
		Collaborator: name,
		StatusCode:   statusCode,
		Message:      message,
		Err:          err,
	}
}

// KindOf returns the Kind of the first *Error in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps an error to the status code returned to clients.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation, KindPaymentNotCompleted, KindInvalidSettlementMetadata:
		return http.StatusBadRequest
	case KindInsufficientCredits:
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns a one-line message for clients. Unclassified errors
// yield fallback so internals never leak.
func PublicMessage(err error, fallback string) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Message != "" {
			return e.Message
		}
		if e.Kind == KindCollaborator && e.Err != nil {
			return e.Err.Error()
		}
	}
	return fallback
}

// IsTransient reports whether err looks like a temporary upstream condition.
// It only drives log levels and metrics; nothing in this module retries.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var e *Error
	if errors.As(err, &e) && e.StatusCode > 0 {
		return isTransientHTTPStatus(e.StatusCode)
	}
	return isNetworkError(err) || isSyscallError(err)
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr) && dnsErr.IsTemporary
}

func isSyscallError(err error) bool {
	var syscallErr syscall.Errno
	if errors.As(err, &syscallErr) {
		switch syscallErr {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.EPIPE,
			syscall.ETIMEDOUT, syscall.ENETUNREACH, syscall.EHOSTUNREACH:
			return true
		}
	}
	return false
}

func isTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		529: // Anthropic overloaded
		return true
	}
	return false
}
