package gocommand

import (
	"context"
	"sync"
	"testing"

	"github.com/goliatone/go-command"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"

	hookcommand "github.com/goliatone/go-commit-hooks/command"
	"github.com/goliatone/go-commit-hooks/core"
	hookquery "github.com/goliatone/go-commit-hooks/query"
)

var testRepo = core.NewRepoKey("github.com", "acme", "widgets")

func validRequest() core.HookActionRequest {
	return core.HookActionRequest{
		Repository: testRepo,
		UserID:     "usr_1",
		Connection: core.Connection{ID: "conn_1", Server: "github.com"},
		Token:      core.Token{AccessToken: "t1", Scope: "repo"},
	}
}

// recordingHookService keeps the requests each command handed to it.
type recordingHookService struct {
	mu      sync.Mutex
	created []core.HookActionRequest
	flushes int
}

func (s *recordingHookService) CreateHook(_ context.Context, req core.HookActionRequest) (core.CreateHookResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, req)
	return core.CreateHookResult{Outcome: core.CreateOutcomeCreated}, nil
}

func (s *recordingHookService) ReconcileHooks(context.Context, core.HookActionRequest) ([]core.ReconciledHook, error) {
	return nil, nil
}

func (s *recordingHookService) DeleteHook(context.Context, core.HookActionRequest) (core.DeleteOutcome, error) {
	return core.DeleteOutcomeNeverExisted, nil
}

func (s *recordingHookService) TestHook(context.Context, core.HookActionRequest) (core.TestOutcome, error) {
	return "", nil
}

func (s *recordingHookService) PingHook(context.Context, core.HookActionRequest) (core.TestOutcome, error) {
	return "", nil
}

func (s *recordingHookService) ForgetHook(context.Context, core.RepoKey) bool { return false }

func (s *recordingHookService) RepositoryStateChanged(context.Context, core.RepoKey, map[string]string) (core.HookRecord, bool) {
	return core.HookRecord{}, false
}

func (s *recordingHookService) RemoveAuthDataForUser(context.Context, string) int { return 0 }

func (s *recordingHookService) Flush(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
	return nil
}

func (s *recordingHookService) createdRequests() []core.HookActionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.HookActionRequest(nil), s.created...)
}

type staticHookReader struct {
	record core.HookRecord
}

func (r staticHookReader) ListHooks() []core.HookEntry          { return nil }
func (r staticHookReader) ListIncorrectHooks() []core.HookEntry { return nil }

func (r staticHookReader) GetHook(repo core.RepoKey) (core.HookRecord, bool) {
	return r.record, repo.Equal(testRepo)
}

func (r staticHookReader) HookForPubKey(string) (core.HookEntry, bool) {
	return core.HookEntry{}, false
}

func (r staticHookReader) IncorrectReason(core.HookRecord) (string, bool) { return "", false }

type untypedMessage struct{}

func TestValidateMessageContract_HookMessages(t *testing.T) {
	if err := ValidateMessageContract(hookcommand.CreateHookMessage{Request: validRequest()}); err != nil {
		t.Fatalf("expected complete create message to pass, got %v", err)
	}
	if err := ValidateMessageContract(hookcommand.FlushMessage{}); err != nil {
		t.Fatalf("expected flush message to pass, got %v", err)
	}
	if err := ValidateMessageContract(hookcommand.CreateHookMessage{}); err == nil {
		t.Fatalf("expected create message without repository to fail")
	}
	missingUser := validRequest()
	missingUser.UserID = " "
	if err := ValidateMessageContract(hookcommand.DeleteHookMessage{Request: missingUser}); err == nil {
		t.Fatalf("expected delete message without user to fail")
	}
	if err := ValidateMessageContract(untypedMessage{}); err == nil {
		t.Fatalf("expected message without Type() to fail")
	}
}

func TestRegisterAndSubscribe_DispatchesCreateHook(t *testing.T) {
	adapter := NewRegistryAdapter(command.NewRegistry())
	service := &recordingHookService{}
	resolved := 0

	sub, err := RegisterAndSubscribe(adapter, hookcommand.NewCreateHookCommand(service))
	if err != nil {
		t.Fatalf("register and subscribe: %v", err)
	}
	defer sub.Unsubscribe()
	if err := adapter.AddResolver("audit", func(any, command.CommandMeta, *command.Registry) error {
		resolved++
		return nil
	}); err != nil {
		t.Fatalf("add resolver: %v", err)
	}
	if !adapter.HasResolver("audit") {
		t.Fatalf("expected audit resolver to be registered")
	}
	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize registry: %v", err)
	}
	if resolved == 0 {
		t.Fatalf("expected resolver to see the create hook command")
	}

	if err := Dispatch(context.Background(), hookcommand.CreateHookMessage{Request: validRequest()}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	created := service.createdRequests()
	if len(created) != 1 || !created[0].Repository.Equal(testRepo) || created[0].UserID != "usr_1" {
		t.Fatalf("expected one create for %s, got %#v", testRepo, created)
	}
}

func TestRegisterAndSubscribeQuery_AnswersGetHook(t *testing.T) {
	adapter := NewRegistryAdapter(nil)
	reader := staticHookReader{record: core.HookRecord{ID: 42, Status: core.HookStatusOK}}

	sub, err := RegisterAndSubscribeQuery(adapter, hookquery.NewGetHookQuery(reader))
	if err != nil {
		t.Fatalf("register and subscribe query: %v", err)
	}
	defer sub.Unsubscribe()

	record, err := Query[hookquery.GetHookMessage, core.HookRecord](context.Background(), hookquery.GetHookMessage{Repository: testRepo})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if record.ID != 42 || record.Status != core.HookStatusOK {
		t.Fatalf("unexpected hook record %#v", record)
	}
}

func TestQueueResolver_MirrorsFlushCommand(t *testing.T) {
	adapter := NewRegistryAdapter(command.NewRegistry())
	queueRegistry := jobqueuecommand.NewRegistry()

	if err := adapter.AddQueueResolver("queue", queueRegistry); err != nil {
		t.Fatalf("add queue resolver: %v", err)
	}
	if err := adapter.RegisterCommand(hookcommand.NewFlushCommand(&recordingHookService{})); err != nil {
		t.Fatalf("register command: %v", err)
	}
	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize registry: %v", err)
	}

	if _, ok := queueRegistry.Get(hookcommand.TypeFlush); !ok {
		t.Fatalf("expected flush command to be mirrored into the queue registry")
	}
}

func TestRegistryAdapter_RequiresDependencies(t *testing.T) {
	var missing *RegistryAdapter
	if err := missing.RegisterCommand(hookcommand.NewFlushCommand(&recordingHookService{})); err == nil {
		t.Fatalf("expected nil adapter to refuse registration")
	}
	if missing.HasResolver("queue") {
		t.Fatalf("expected nil adapter to report no resolvers")
	}

	adapter := NewRegistryAdapter(nil)
	if err := adapter.AddQueueResolver("queue", nil); err == nil {
		t.Fatalf("expected missing queue registry to fail")
	}
	if _, err := RegisterAndSubscribe[hookcommand.CreateHookMessage](adapter, nil); err == nil {
		t.Fatalf("expected missing command to fail")
	}
}
