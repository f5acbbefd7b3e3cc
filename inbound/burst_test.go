package inbound

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/goliatone/go-commit-hooks/core"
)

func TestBurstGuard_CoalescesWithinWindow(t *testing.T) {
	guard := NewBurstGuard(2 * time.Second)
	now := time.Unix(1_700_000_000, 0)
	upper := core.NewRepoKey("GitHub.com", "Acme", "Widgets")

	if !guard.Allow(testRepo, now) {
		t.Fatalf("expected first request to pass")
	}
	if guard.Allow(upper, now.Add(time.Second)) {
		t.Fatalf("expected request within window to be coalesced regardless of case")
	}
	if !guard.Allow(testRepo, now.Add(2*time.Second)) {
		t.Fatalf("expected request after window to pass")
	}
	if !guard.Allow(core.NewRepoKey("github.com", "acme", "gadgets"), now.Add(2*time.Second)) {
		t.Fatalf("expected other repositories to be unaffected")
	}
}

func TestBurstGuard_DisabledForZeroWindow(t *testing.T) {
	guard := NewBurstGuard(0)
	if guard != nil {
		t.Fatalf("expected nil guard for zero window")
	}
	now := time.Now()
	if !guard.Allow(testRepo, now) || !guard.Allow(testRepo, now) {
		t.Fatalf("expected nil guard to allow everything")
	}
}

func TestListener_CoalescesBurstOfPushes(t *testing.T) {
	fx := newListenerFixture()
	now := time.Unix(1_700_000_000, 0)
	fx.listener.Now = func() time.Time { return now }
	fx.listener.Bursts = NewBurstGuard(time.Minute)

	first := fx.listener.Handle(context.Background(), signedDelivery(EventPush, pushBody))
	if first.StatusCode != http.StatusAccepted {
		t.Fatalf("expected first push accepted, got %d %q", first.StatusCode, first.Message)
	}
	second := fx.listener.Handle(context.Background(), signedDelivery(EventPush, pushBody))
	if second.StatusCode != http.StatusAccepted {
		t.Fatalf("expected coalesced push accepted, got %d %q", second.StatusCode, second.Message)
	}
	if len(fx.checks.requests) != 1 {
		t.Fatalf("expected a single forwarded check, got %d", len(fx.checks.requests))
	}
}
