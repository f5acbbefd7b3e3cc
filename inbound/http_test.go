package inbound

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goliatone/go-commit-hooks/core"
)

func TestHTTPHandler_RoutesDeliveryToListener(t *testing.T) {
	fx := newListenerFixture()
	server := httptest.NewServer(NewHTTPHandler(fx.listener))
	defer server.Close()

	req, err := http.NewRequest(http.MethodPost, server.URL+core.DefaultCallbackPath+testPubKey, strings.NewReader(pushBody))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set(HeaderEvent, EventPush)
	req.Header.Set(HeaderSignature, core.SignPayload(testSecret, []byte(pushBody)))
	resp, err := server.Client().Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d (%s)", resp.StatusCode, body)
	}
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain") {
		t.Fatalf("expected plain text answer, got %q", resp.Header.Get("Content-Type"))
	}
	if !strings.Contains(string(body), "github.com/acme/widgets") {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestHTTPHandler_OversizedBodyRejected(t *testing.T) {
	fx := newListenerFixture()
	fx.listener.MaxPayloadSize = 16
	handler := NewHTTPHandler(fx.listener)

	payload := strings.Repeat("x", 64)
	req := httptest.NewRequest(http.MethodPost, core.DefaultCallbackPath+testPubKey, strings.NewReader(payload))
	req.Header.Set(HeaderEvent, EventPush)
	req.Header.Set(HeaderSignature, core.SignPayload(testSecret, []byte(payload)))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}

func TestHTTPHandler_OnlyAcceptsPost(t *testing.T) {
	handler := NewHTTPHandler(newListenerFixture().listener)
	req := httptest.NewRequest(http.MethodGet, core.DefaultCallbackPath+testPubKey, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
