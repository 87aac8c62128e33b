package rooms

import (
	"errors"
	"fmt"
)

// Kind classifies a ServiceError so transports can map it to a response.
type Kind string

const (
	KindNotFound            Kind = "not_found"
	KindUnauthorized        Kind = "unauthorized"
	KindInvalidVote         Kind = "invalid_vote"
	KindInvalidState        Kind = "invalid_state"
	KindInvalidCandidate    Kind = "invalid_candidate"
	KindInvalidInput        Kind = "invalid_input"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindInternal            Kind = "internal"
)

// Sentinels matching each Kind; use errors.Is against these.
var (
	ErrNotFound            = errors.New("rooms: not found")
	ErrUnauthorized        = errors.New("rooms: unauthorized")
	ErrInvalidVote         = errors.New("rooms: invalid vote")
	ErrInvalidState        = errors.New("rooms: invalid state")
	ErrInvalidCandidate    = errors.New("rooms: invalid candidate")
	ErrInvalidInput        = errors.New("rooms: invalid input")
	ErrUpstreamUnavailable = errors.New("rooms: upstream unavailable")
	ErrInternal            = errors.New("rooms: internal error")
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingFetcher    = errors.New("catalog fetcher is required")
)

// ServiceError carries a dotted operation.reason code and its Kind.
type ServiceError struct {
	kind   Kind
	code   string
	reason string
	err    error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *ServiceError) Unwrap() []error {
	unwrapped := []error{sentinelFor(e.kind)}
	if e.err != nil {
		unwrapped = append(unwrapped, e.err)
	}
	return unwrapped
}

// Code returns the machine-readable operation.reason code.
func (e *ServiceError) Code() string {
	return e.code
}

// Reason returns the reason segment of the code.
func (e *ServiceError) Reason() string {
	return e.reason
}

// Kind returns the error classification.
func (e *ServiceError) Kind() Kind {
	return e.kind
}

func newServiceError(kind Kind, operation, reason string, cause error) error {
	return &ServiceError{
		kind:   kind,
		code:   fmt.Sprintf("%s.%s", operation, reason),
		reason: reason,
		err:    cause,
	}
}

// KindOf reports the Kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.kind
	}
	return KindInternal
}

func sentinelFor(kind Kind) error {
	switch kind {
	case KindNotFound:
		return ErrNotFound
	case KindUnauthorized:
		return ErrUnauthorized
	case KindInvalidVote:
		return ErrInvalidVote
	case KindInvalidState:
		return ErrInvalidState
	case KindInvalidCandidate:
		return ErrInvalidCandidate
	case KindInvalidInput:
		return ErrInvalidInput
	case KindUpstreamUnavailable:
		return ErrUpstreamUnavailable
	default:
		return ErrInternal
	}
}
