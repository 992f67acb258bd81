// Package gatewayerrors defines the gateway's error taxonomy (spec §7) as
// comparable sentinel values, each carrying the HTTP status the Pipeline
// Coordinator should answer with when the error is not otherwise recovered.
//
// Modeled on the teacher's sentinel-error convention (pkg/auth/jwt.go's
// ErrNoToken/ErrInvalidToken): components return these via %w-wrapping so
// callers can both log the detail and errors.Is/As against the kind.
package gatewayerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one taxonomy member from spec §7.
type Kind int

const (
	// KindInvalidCredentials is recovered at the authentication layer.
	KindInvalidCredentials Kind = iota
	// KindAuthenticationFailed means the OIDC or pre-auth flow broke.
	KindAuthenticationFailed
	// KindAccessDenied means the access-rule engine denied the request.
	KindAccessDenied
	// KindDuplicateUsername means account provisioning found a username clash.
	KindDuplicateUsername
	// KindDuplicateEmail means account provisioning (or OIDC lookup) found an email clash.
	KindDuplicateEmail
	// KindDirectoryUnavailable means the LDAP server could not be reached.
	KindDirectoryUnavailable
	// KindBrokerUnavailable means the message broker could not be reached.
	KindBrokerUnavailable
	// KindUpstreamError means the backend returned a 5xx.
	KindUpstreamError
	// KindInvalidConfiguration is fatal at startup.
	KindInvalidConfiguration
	// KindOrgProvisioningFailed means ensureOrg failed during account creation.
	KindOrgProvisioningFailed
	// KindRoleProvisioningFailed means ensureRoles failed during account creation.
	KindRoleProvisioningFailed
)

func (k Kind) String() string {
	switch k {
	case KindInvalidCredentials:
		return "InvalidCredentials"
	case KindAuthenticationFailed:
		return "AuthenticationFailed"
	case KindAccessDenied:
		return "AccessDenied"
	case KindDuplicateUsername:
		return "DuplicateUsername"
	case KindDuplicateEmail:
		return "DuplicateEmail"
	case KindDirectoryUnavailable:
		return "DirectoryUnavailable"
	case KindBrokerUnavailable:
		return "BrokerUnavailable"
	case KindUpstreamError:
		return "UpstreamError"
	case KindInvalidConfiguration:
		return "InvalidConfiguration"
	case KindOrgProvisioningFailed:
		return "OrgProvisioningFailed"
	case KindRoleProvisioningFailed:
		return "RoleProvisioningFailed"
	default:
		return "Unknown"
	}
}

// HTTPStatus returns the status code the Pipeline Coordinator should use
// when no more specific handling applies (spec §7). AccessDenied is
// context-dependent (anonymous vs authenticated, HTML vs API); the
// Pipeline Coordinator's denial handling picks 403, 401 or a login
// redirect itself, so the 403 returned here is only a fallback.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidCredentials:
		return http.StatusUnauthorized
	case KindAuthenticationFailed:
		return http.StatusUnauthorized
	case KindAccessDenied:
		return http.StatusForbidden
	case KindDuplicateUsername, KindDuplicateEmail:
		return http.StatusConflict
	case KindDirectoryUnavailable, KindBrokerUnavailable:
		return http.StatusServiceUnavailable
	case KindUpstreamError:
		return http.StatusBadGateway
	case KindInvalidConfiguration:
		return http.StatusInternalServerError
	case KindOrgProvisioningFailed, KindRoleProvisioningFailed:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Error is a taxonomy-tagged error. Internal diagnostic detail (Detail)
// is never rendered to a client (spec §7); only Kind and a generic message
// cross that boundary.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus delegates to the wrapped Kind.
func (e *Error) HTTPStatus() int { return e.Kind.HTTPStatus() }

// New constructs an Error of the given kind with a detail message.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Wrap constructs an Error of the given kind wrapping an underlying cause.
func Wrap(kind Kind, detail string, err error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: err}
}

// Is reports whether err is a gatewayerrors.Error of the given kind.
func Is(err error, kind Kind) bool {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind == kind
	}
	return false
}

// StatusFor returns the best HTTP status for any error: the Kind's status
// if it is a gatewayerrors.Error, otherwise 500.
func StatusFor(err error) int {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.HTTPStatus()
	}
	return http.StatusInternalServerError
}
