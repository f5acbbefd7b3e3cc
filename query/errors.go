package query

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-commit-hooks/core"
)

func queryDependencyError(message string) error {
	return goerrors.New(message, goerrors.CategoryInternal).
		WithCode(http.StatusInternalServerError).
		WithTextCode(core.HookErrorInternal)
}

func queryValidationError(field string, message string) error {
	return goerrors.NewValidation("query: validation failed", goerrors.FieldError{
		Field:   field,
		Message: message,
	}).
		WithCode(http.StatusBadRequest).
		WithTextCode(core.HookErrorBadInput).
		WithSeverity(goerrors.SeverityError)
}

func queryNotFoundError(message string) error {
	return goerrors.New(message, goerrors.CategoryNotFound).
		WithCode(http.StatusNotFound).
		WithTextCode(core.HookErrorNotFound)
}
