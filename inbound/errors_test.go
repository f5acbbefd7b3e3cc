package inbound

import (
	"context"
	"net/http"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-commit-hooks/core"
)

func TestMemoryClaimStore_EmptyKeyReturnsRichError(t *testing.T) {
	_, _, err := NewMemoryClaimStore().Claim(context.Background(), "", time.Minute)
	if err == nil {
		t.Fatalf("expected claim error")
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryBadInput {
		t.Fatalf("expected bad_input category, got %q", rich.Category)
	}
	if rich.TextCode != core.HookErrorBadInput {
		t.Fatalf("expected %q text code, got %q", core.HookErrorBadInput, rich.TextCode)
	}
	if rich.Code != http.StatusBadRequest {
		t.Fatalf("expected %d code, got %d", http.StatusBadRequest, rich.Code)
	}
}

func TestInboundInternal_CarriesMetadata(t *testing.T) {
	err := inboundInternal("inbound: boom", map[string]any{"delivery_id": "d-1"})
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.TextCode != core.HookErrorInternal || rich.Code != http.StatusInternalServerError {
		t.Fatalf("unexpected envelope %q/%d", rich.TextCode, rich.Code)
	}
	if rich.Metadata["delivery_id"] != "d-1" {
		t.Fatalf("expected metadata kept, got %v", rich.Metadata)
	}
}
