package people

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotFound is returned by stores when no person matches
var ErrNotFound = errors.New("person not found")

// Kind classifies failures surfaced to callers of the person service
type Kind string

const (
	KindValidation    Kind = "validation"
	KindNotFound      Kind = "not_found"
	KindBadRequest    Kind = "bad_request"
	KindUnauthorized  Kind = "unauthorized"
	KindForbidden     Kind = "forbidden"
	KindConflict      Kind = "conflict"
	KindUnprocessable Kind = "unprocessable"
	KindPersistence   Kind = "persistence"
	KindUpstream      Kind = "upstream"
)

// providerStatusKinds is the closed set of identity provider statuses we
// translate. Anything else is an upstream failure.
var providerStatusKinds = map[int]Kind{
	http.StatusBadRequest:          KindBadRequest,
	http.StatusUnauthorized:        KindUnauthorized,
	http.StatusForbidden:           KindForbidden,
	http.StatusNotFound:            KindNotFound,
	http.StatusConflict:            KindConflict,
	http.StatusUnprocessableEntity: KindUnprocessable,
}

// KindForProviderStatus maps an identity provider status code to a Kind
func KindForProviderStatus(status int) Kind {
	if kind, ok := providerStatusKinds[status]; ok {
		return kind
	}
	return KindUpstream
}

// Error is the typed error returned by the person service
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Err.Error() != e.Message {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewValidationError reports a missing or malformed field
func NewValidationError(message string) *Error {
	return &Error{Kind: KindValidation, Status: http.StatusBadRequest, Message: message}
}

// NewNotFoundError reports an absent person or identity
func NewNotFoundError(message string) *Error {
	return &Error{Kind: KindNotFound, Status: http.StatusNotFound, Message: message}
}

// NewPersistenceError wraps a store failure
func NewPersistenceError(message string, err error) *Error {
	return &Error{Kind: KindPersistence, Status: http.StatusInternalServerError, Message: message, Err: err}
}

// IdentityProvisioningError is raised when the identity provider rejects a
// user creation. Status and Message are the provider's own.
type IdentityProvisioningError struct {
	Status  int
	Message string
	Err     error
}

func (e *IdentityProvisioningError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("identity provisioning failed: %s", e.Message)
	}
	return fmt.Sprintf("identity provisioning failed (%d): %s", e.Status, e.Message)
}

func (e *IdentityProvisioningError) Unwrap() error {
	return e.Err
}

// FromProvisioningError translates a provider rejection into an Error.
// The provider's status is kept when it is one we map; otherwise the
// failure is reported as 502 with the provider's message unchanged.
func FromProvisioningError(pe *IdentityProvisioningError) *Error {
	kind := KindForProviderStatus(pe.Status)
	status := pe.Status
	if kind == KindUpstream {
		status = http.StatusBadGateway
	}
	return &Error{Kind: kind, Status: status, Message: pe.Message, Err: pe}
}

// KindOf returns the Kind carried by err, or "" when err is not an *Error
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
