package core

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

type RemoteErrorKind string

const (
	RemoteInvalidCredentials  RemoteErrorKind = "invalid_credentials"
	RemoteTokenScopeMismatch  RemoteErrorKind = "token_scope_mismatch"
	RemoteUserHaveNoAccess    RemoteErrorKind = "user_have_no_access"
	RemoteNoAccess            RemoteErrorKind = "no_access"
	RemoteInternalServerError RemoteErrorKind = "internal_server_error"
	RemoteMoved               RemoteErrorKind = "moved"
	// RemoteUnexpected covers every other non-success answer.
	RemoteUnexpected RemoteErrorKind = "unexpected"
)

// RequiredAdminScopeMessage is reported when a delete is attempted without an
// admin grade token.
const RequiredAdminScopeMessage = "Required scope 'admin:repo_hook', 'public_repo' or 'repo'"

// RemoteError is a classified failure of a remote hook call.
type RemoteError struct {
	Kind       RemoteErrorKind
	Message    string
	StatusCode int
	Cause      error
}

func NewRemoteError(kind RemoteErrorKind, status int, message string, cause error) *RemoteError {
	return &RemoteError{Kind: kind, StatusCode: status, Message: strings.TrimSpace(message), Cause: cause}
}

func (e *RemoteError) Error() string {
	if e == nil {
		return ""
	}
	message := e.Message
	if message == "" && e.Cause != nil {
		message = e.Cause.Error()
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("core: remote %s (%d): %s", e.Kind, e.StatusCode, message)
	}
	return fmt.Sprintf("core: remote %s: %s", e.Kind, message)
}

func (e *RemoteError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func (e *RemoteError) ToServiceError() *goerrors.Error {
	if e == nil {
		return nil
	}
	category, status, textCode := remoteErrorEnvelope(e.Kind)
	err := goerrors.New(e.Error(), category).
		WithCode(status).
		WithTextCode(textCode)
	if e.StatusCode > 0 {
		err = err.WithMetadata(map[string]any{"remote_status": e.StatusCode})
	}
	return err
}

func remoteErrorEnvelope(kind RemoteErrorKind) (goerrors.Category, int, string) {
	switch kind {
	case RemoteInvalidCredentials:
		return goerrors.CategoryAuth, http.StatusUnauthorized, HookErrorInvalidCredentials
	case RemoteTokenScopeMismatch:
		return goerrors.CategoryAuthz, http.StatusForbidden, HookErrorTokenScopeMismatch
	case RemoteUserHaveNoAccess:
		return goerrors.CategoryAuthz, http.StatusForbidden, HookErrorUserNoAccess
	case RemoteNoAccess:
		return goerrors.CategoryAuthz, http.StatusForbidden, HookErrorNoAccess
	case RemoteInternalServerError:
		return goerrors.CategoryExternal, http.StatusBadGateway, HookErrorRemoteUnavailable
	case RemoteMoved:
		return goerrors.CategoryExternal, http.StatusBadGateway, HookErrorMoved
	default:
		return goerrors.CategoryExternal, http.StatusBadGateway, HookErrorRemoteUnavailable
	}
}

func remoteErrorKind(err error) (RemoteErrorKind, bool) {
	var remoteErr *RemoteError
	if errors.As(err, &remoteErr) && remoteErr != nil {
		return remoteErr.Kind, true
	}
	return "", false
}

func isRemoteKind(err error, kind RemoteErrorKind) bool {
	got, ok := remoteErrorKind(err)
	return ok && got == kind
}

func IsInvalidCredentials(err error) bool { return isRemoteKind(err, RemoteInvalidCredentials) }

func IsTokenScopeMismatch(err error) bool { return isRemoteKind(err, RemoteTokenScopeMismatch) }

func IsUserHaveNoAccess(err error) bool { return isRemoteKind(err, RemoteUserHaveNoAccess) }

func IsNoAccess(err error) bool { return isRemoteKind(err, RemoteNoAccess) }

func IsInternalServerError(err error) bool { return isRemoteKind(err, RemoteInternalServerError) }

func IsMoved(err error) bool { return isRemoteKind(err, RemoteMoved) }

// ClassifyAccessDenied maps a 403/404 answer onto the taxonomy using the
// scopes the server reported for the token. hasScopes is false when the
// X-OAuth-Scopes header was absent.
func ClassifyAccessDenied(status int, scopes string, hasScopes bool, requireAdmin bool, message string) *RemoteError {
	if !hasScopes {
		return NewRemoteError(RemoteNoAccess, status, message, nil)
	}
	level := AccessForScope(scopes).Hook
	if requireAdmin && level < HookAccessAdmin {
		return NewRemoteError(RemoteTokenScopeMismatch, status, RequiredAdminScopeMessage, nil)
	}
	if level <= HookAccessRead {
		return NewRemoteError(RemoteTokenScopeMismatch, status, message, nil)
	}
	return NewRemoteError(RemoteUserHaveNoAccess, status, message, nil)
}
