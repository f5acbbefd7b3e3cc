package commithooks

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-commit-hooks/core"
)

// CommandQueryBundleFactory builds a host defined bundle of handlers on top of
// the facade.
type CommandQueryBundleFactory func(facade *Facade) (any, error)

// ExtensionHooks lets hosts plug in per-server remote clients, for example a
// GitHub Enterprise instance that needs its own transport, and extra
// command/query bundles.
type ExtensionHooks struct {
	mu sync.RWMutex

	factories map[string]core.RemoteClientFactory
	bundles   map[string]CommandQueryBundleFactory
}

func NewExtensionHooks() *ExtensionHooks {
	return &ExtensionHooks{
		factories: map[string]core.RemoteClientFactory{},
		bundles:   map[string]CommandQueryBundleFactory{},
	}
}

func (h *ExtensionHooks) RegisterServerClientFactory(server string, factory core.RemoteClientFactory) error {
	if h == nil {
		return fmt.Errorf("commithooks: extension hooks are nil")
	}
	key := normalizeServer(server)
	if key == "" {
		return fmt.Errorf("commithooks: server is required")
	}
	if factory == nil {
		return fmt.Errorf("commithooks: client factory for %q is required", key)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.factories[key]; exists {
		return fmt.Errorf("commithooks: client factory for %q already registered", key)
	}
	h.factories[key] = factory
	return nil
}

func (h *ExtensionHooks) RegisterCommandQueryBundle(name string, factory CommandQueryBundleFactory) error {
	if h == nil {
		return fmt.Errorf("commithooks: extension hooks are nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("commithooks: command/query bundle name is required")
	}
	if factory == nil {
		return fmt.Errorf("commithooks: command/query bundle %q factory is required", name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.bundles[name]; exists {
		return fmt.Errorf("commithooks: command/query bundle %q already registered", name)
	}
	h.bundles[name] = factory
	return nil
}

// ClientFactory routes connections to the factory registered for their
// server and falls back to fallback for every other server.
func (h *ExtensionHooks) ClientFactory(fallback core.RemoteClientFactory) core.RemoteClientFactory {
	routes := map[string]core.RemoteClientFactory{}
	if h != nil {
		h.mu.RLock()
		for server, factory := range h.factories {
			routes[server] = factory
		}
		h.mu.RUnlock()
	}
	return serverRouter{routes: routes, fallback: fallback}
}

func (h *ExtensionHooks) Servers() []string {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	servers := make([]string, 0, len(h.factories))
	for server := range h.factories {
		servers = append(servers, server)
	}
	sort.Strings(servers)
	return servers
}

func (h *ExtensionHooks) BuildCommandQueryBundles(facade *Facade) (map[string]any, error) {
	if h == nil {
		return map[string]any{}, nil
	}
	if facade == nil {
		return nil, fmt.Errorf("commithooks: facade is required")
	}

	h.mu.RLock()
	names := make([]string, 0, len(h.bundles))
	factories := make(map[string]CommandQueryBundleFactory, len(h.bundles))
	for name, factory := range h.bundles {
		names = append(names, name)
		factories[name] = factory
	}
	h.mu.RUnlock()
	sort.Strings(names)

	result := make(map[string]any, len(names))
	for _, name := range names {
		bundle, err := factories[name](facade)
		if err != nil {
			return nil, fmt.Errorf("commithooks: build bundle %q: %w", name, err)
		}
		result[name] = bundle
	}
	return result, nil
}

func (h *ExtensionHooks) BundleNames() []string {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.bundles))
	for name := range h.bundles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type serverRouter struct {
	routes   map[string]core.RemoteClientFactory
	fallback core.RemoteClientFactory
}

func (r serverRouter) ClientFor(ctx context.Context, connection core.Connection, token core.Token) (core.RemoteHookClient, error) {
	if factory, ok := r.routes[normalizeServer(connection.Server)]; ok {
		return factory.ClientFor(ctx, connection, token)
	}
	if r.fallback == nil {
		return nil, goerrors.New("commithooks: no client factory for server "+connection.Server, goerrors.CategoryBadInput).
			WithTextCode(core.HookErrorBadInput)
	}
	return r.fallback.ClientFor(ctx, connection, token)
}

func normalizeServer(server string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(server)), "/")
}
