package inbound

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-commit-hooks/core"
)

func inboundError(
	message string,
	category goerrors.Category,
	code int,
	textCode string,
	metadata map[string]any,
) error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func inboundBadInput(message string, metadata map[string]any) error {
	return inboundError(
		message,
		goerrors.CategoryBadInput,
		http.StatusBadRequest,
		core.HookErrorBadInput,
		metadata,
	)
}

func inboundInternal(message string, metadata map[string]any) error {
	return inboundError(
		message,
		goerrors.CategoryInternal,
		http.StatusInternalServerError,
		core.HookErrorInternal,
		metadata,
	)
}
