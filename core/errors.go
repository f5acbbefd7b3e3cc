package core

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	HookErrorBadInput            = "HOOK_BAD_INPUT"
	HookErrorNotFound            = "HOOK_NOT_FOUND"
	HookErrorInvalidCredentials  = "HOOK_INVALID_CREDENTIALS"
	HookErrorTokenScopeMismatch  = "HOOK_TOKEN_SCOPE_MISMATCH"
	HookErrorUserNoAccess        = "HOOK_USER_NO_ACCESS"
	HookErrorNoAccess            = "HOOK_NO_ACCESS"
	HookErrorRemoteUnavailable   = "HOOK_REMOTE_UNAVAILABLE"
	HookErrorMoved               = "HOOK_MOVED"
	HookErrorRateLimited         = "HOOK_RATE_LIMITED"
	HookErrorConflict            = "HOOK_CONFLICT"
	HookErrorInternal            = "HOOK_INTERNAL_ERROR"
)

var (
	ErrHookNotFound       = errors.New("core: hook not found")
	ErrAuthDataNotFound   = errors.New("core: auth data not found")
	ErrNoSuitableToken    = errors.New("core: no suitable token found")
	ErrCallbackMismatch   = errors.New("core: remote callback url does not embed the issued public key")
	ErrServerURLRequired  = errors.New("core: server_url is required to build callback urls")
	ErrTokenStoreRequired = errors.New("core: token store is required")
)

func serviceErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureServiceErrorEnvelope(richErr)
	}

	var remoteErr *RemoteError
	if errors.As(err, &remoteErr) {
		return remoteErr.ToServiceError()
	}

	switch {
	case errors.Is(err, ErrHookNotFound), errors.Is(err, ErrAuthDataNotFound):
		return newServiceError(err.Error(), goerrors.CategoryNotFound, HookErrorNotFound)
	case errors.Is(err, ErrNoSuitableToken):
		return newServiceError(err.Error(), goerrors.CategoryAuthz, HookErrorTokenScopeMismatch)
	case errors.Is(err, ErrCallbackMismatch):
		return newServiceError(err.Error(), goerrors.CategoryConflict, HookErrorConflict)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "already exists"):
		return newServiceError(err.Error(), goerrors.CategoryConflict, HookErrorConflict)
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "quota"):
		return newServiceError(err.Error(), goerrors.CategoryRateLimit, HookErrorRateLimited)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "incomplete"):
		return newServiceError(err.Error(), goerrors.CategoryBadInput, HookErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureServiceErrorEnvelope(mapped)
}

func newServiceError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureServiceErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureServiceErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = serviceHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultServiceTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultServiceTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return HookErrorBadInput
	case goerrors.CategoryNotFound:
		return HookErrorNotFound
	case goerrors.CategoryAuth:
		return HookErrorInvalidCredentials
	case goerrors.CategoryAuthz:
		return HookErrorNoAccess
	case goerrors.CategoryConflict:
		return HookErrorConflict
	case goerrors.CategoryRateLimit:
		return HookErrorRateLimited
	case goerrors.CategoryExternal:
		return HookErrorRemoteUnavailable
	default:
		return HookErrorInternal
	}
}

func serviceHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
