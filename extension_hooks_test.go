package commithooks

import (
	"context"
	"testing"

	"github.com/goliatone/go-commit-hooks/core"
)

type recordingClientFactory struct {
	name  string
	calls []string
}

func (f *recordingClientFactory) ClientFor(_ context.Context, connection core.Connection, _ core.Token) (core.RemoteHookClient, error) {
	f.calls = append(f.calls, connection.Server)
	return nil, nil
}

func TestExtensionHooks_RoutesClientFactoriesByServer(t *testing.T) {
	hooks := NewExtensionHooks()
	enterprise := &recordingClientFactory{name: "enterprise"}
	fallback := &recordingClientFactory{name: "fallback"}

	if err := hooks.RegisterServerClientFactory("GHE.Example.com/", enterprise); err != nil {
		t.Fatalf("register server factory: %v", err)
	}
	if err := hooks.RegisterServerClientFactory("ghe.example.com", enterprise); err == nil {
		t.Fatalf("expected duplicate server registration error")
	}
	if err := hooks.RegisterServerClientFactory(" ", enterprise); err == nil {
		t.Fatalf("expected blank server error")
	}
	if servers := hooks.Servers(); len(servers) != 1 || servers[0] != "ghe.example.com" {
		t.Fatalf("unexpected servers %v", servers)
	}

	router := hooks.ClientFactory(fallback)
	ctx := context.Background()
	if _, err := router.ClientFor(ctx, core.Connection{Server: "ghe.example.com"}, core.Token{}); err != nil {
		t.Fatalf("route enterprise: %v", err)
	}
	if _, err := router.ClientFor(ctx, core.Connection{Server: "github.com"}, core.Token{}); err != nil {
		t.Fatalf("route fallback: %v", err)
	}
	if len(enterprise.calls) != 1 || len(fallback.calls) != 1 {
		t.Fatalf("expected one call per factory, got %v and %v", enterprise.calls, fallback.calls)
	}

	if _, err := hooks.ClientFactory(nil).ClientFor(ctx, core.Connection{Server: "github.com"}, core.Token{}); err == nil {
		t.Fatalf("expected error without fallback factory")
	}
}

func TestExtensionHooks_CommandQueryBundles(t *testing.T) {
	hooks := NewExtensionHooks()
	if err := hooks.RegisterCommandQueryBundle("audit", func(facade *Facade) (any, error) {
		return map[string]any{"list_hooks": facade.Queries().ListHooks}, nil
	}); err != nil {
		t.Fatalf("register bundle: %v", err)
	}
	if err := hooks.RegisterCommandQueryBundle("audit", func(*Facade) (any, error) { return nil, nil }); err == nil {
		t.Fatalf("expected duplicate bundle registration error")
	}
	if err := hooks.RegisterCommandQueryBundle("admin", func(*Facade) (any, error) { return "admin", nil }); err != nil {
		t.Fatalf("register second bundle: %v", err)
	}
	if names := hooks.BundleNames(); len(names) != 2 || names[0] != "admin" || names[1] != "audit" {
		t.Fatalf("expected sorted bundle names, got %v", names)
	}

	facade, err := NewFacade(newFacadeService(t))
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	bundles, err := hooks.BuildCommandQueryBundles(facade)
	if err != nil {
		t.Fatalf("build bundles: %v", err)
	}
	if len(bundles) != 2 || bundles["admin"] != "admin" {
		t.Fatalf("unexpected bundles %#v", bundles)
	}
	if _, err := hooks.BuildCommandQueryBundles(nil); err == nil {
		t.Fatalf("expected nil facade error")
	}
}
