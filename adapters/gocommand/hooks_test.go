package gocommand

import (
	"context"
	"testing"

	"github.com/goliatone/go-command"

	hookcommand "github.com/goliatone/go-commit-hooks/command"
	"github.com/goliatone/go-commit-hooks/core"
	hookquery "github.com/goliatone/go-commit-hooks/query"
)

func TestRegisterHookHandlers_DispatchesThroughService(t *testing.T) {
	svc, err := core.NewService(core.DefaultConfig())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	repo := core.NewRepoKey("github.com", "acme", "widgets")
	svc.Registry().Restore([]core.HookEntry{{
		Repository: repo,
		Hook:       core.HookRecord{ID: 9, Status: core.HookStatusOK},
	}})

	adapter := NewRegistryAdapter(command.NewRegistry())
	subs, err := RegisterHookHandlers(adapter, HookHandlers{Service: svc, Checks: core.NewScheduler(svc, nil, nil)})
	if err != nil {
		t.Fatalf("register hook handlers: %v", err)
	}
	defer subs.Unsubscribe()
	if len(subs) != 16 {
		t.Fatalf("expected every command and query to be subscribed, got %d", len(subs))
	}
	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	record, err := Query[hookquery.GetHookMessage, core.HookRecord](context.Background(), hookquery.GetHookMessage{Repository: repo})
	if err != nil {
		t.Fatalf("query hook: %v", err)
	}
	if record.ID != 9 {
		t.Fatalf("unexpected hook %#v", record)
	}

	if err := Dispatch(context.Background(), hookcommand.ForgetHookMessage{Repository: repo}); err != nil {
		t.Fatalf("dispatch forget: %v", err)
	}
	if _, ok := svc.GetHook(repo); ok {
		t.Fatalf("expected forget command to drop the hook")
	}
}

func TestRegisterHookHandlers_RequiresService(t *testing.T) {
	if _, err := RegisterHookHandlers(NewRegistryAdapter(nil), HookHandlers{}); err == nil {
		t.Fatalf("expected missing service error")
	}
}
