package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-commit-hooks/core"
)

// HookService is the mutating side of the engine.
type HookService interface {
	CreateHook(ctx context.Context, req core.HookActionRequest) (core.CreateHookResult, error)
	ReconcileHooks(ctx context.Context, req core.HookActionRequest) ([]core.ReconciledHook, error)
	DeleteHook(ctx context.Context, req core.HookActionRequest) (core.DeleteOutcome, error)
	TestHook(ctx context.Context, req core.HookActionRequest) (core.TestOutcome, error)
	PingHook(ctx context.Context, req core.HookActionRequest) (core.TestOutcome, error)
	ForgetHook(ctx context.Context, repo core.RepoKey) bool
	RepositoryStateChanged(ctx context.Context, repo core.RepoKey, heads map[string]string) (core.HookRecord, bool)
	RemoveAuthDataForUser(ctx context.Context, userID string) int
	Flush(ctx context.Context) error
}

// CheckRunner runs the periodic health check on demand.
type CheckRunner interface {
	ForceCheck(ctx context.Context) (core.HealthReport, error)
}

type CreateHookCommand struct {
	service HookService
}

func NewCreateHookCommand(service HookService) *CreateHookCommand {
	return &CreateHookCommand{service: service}
}

func (c *CreateHookCommand) Execute(ctx context.Context, msg CreateHookMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: hook service is required")
	}
	out, err := c.service.CreateHook(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ReconcileHooksCommand struct {
	service HookService
}

func NewReconcileHooksCommand(service HookService) *ReconcileHooksCommand {
	return &ReconcileHooksCommand{service: service}
}

func (c *ReconcileHooksCommand) Execute(ctx context.Context, msg ReconcileHooksMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: hook service is required")
	}
	out, err := c.service.ReconcileHooks(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type DeleteHookCommand struct {
	service HookService
}

func NewDeleteHookCommand(service HookService) *DeleteHookCommand {
	return &DeleteHookCommand{service: service}
}

func (c *DeleteHookCommand) Execute(ctx context.Context, msg DeleteHookMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: hook service is required")
	}
	out, err := c.service.DeleteHook(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type TestHookCommand struct {
	service HookService
}

func NewTestHookCommand(service HookService) *TestHookCommand {
	return &TestHookCommand{service: service}
}

func (c *TestHookCommand) Execute(ctx context.Context, msg TestHookMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: hook service is required")
	}
	out, err := c.service.TestHook(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type PingHookCommand struct {
	service HookService
}

func NewPingHookCommand(service HookService) *PingHookCommand {
	return &PingHookCommand{service: service}
}

func (c *PingHookCommand) Execute(ctx context.Context, msg PingHookMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: hook service is required")
	}
	out, err := c.service.PingHook(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ForgetHookCommand struct {
	service HookService
}

func NewForgetHookCommand(service HookService) *ForgetHookCommand {
	return &ForgetHookCommand{service: service}
}

// Execute stores whether a local record existed.
func (c *ForgetHookCommand) Execute(ctx context.Context, msg ForgetHookMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: hook service is required")
	}
	storeResult(ctx, c.service.ForgetHook(ctx, msg.Repository))
	return nil
}

type RepositoryStateChangedCommand struct {
	service HookService
}

func NewRepositoryStateChangedCommand(service HookService) *RepositoryStateChangedCommand {
	return &RepositoryStateChangedCommand{service: service}
}

func (c *RepositoryStateChangedCommand) Execute(ctx context.Context, msg RepositoryStateChangedMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: hook service is required")
	}
	record, found := c.service.RepositoryStateChanged(ctx, msg.Repository, msg.Heads)
	if found {
		storeResult(ctx, record)
	}
	return nil
}

type RemoveUserAuthDataCommand struct {
	service HookService
}

func NewRemoveUserAuthDataCommand(service HookService) *RemoveUserAuthDataCommand {
	return &RemoveUserAuthDataCommand{service: service}
}

// Execute stores the number of removed records.
func (c *RemoveUserAuthDataCommand) Execute(ctx context.Context, msg RemoveUserAuthDataMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: hook service is required")
	}
	storeResult(ctx, c.service.RemoveAuthDataForUser(ctx, msg.UserID))
	return nil
}

type ForceCheckCommand struct {
	runner CheckRunner
}

func NewForceCheckCommand(runner CheckRunner) *ForceCheckCommand {
	return &ForceCheckCommand{runner: runner}
}

func (c *ForceCheckCommand) Execute(ctx context.Context, _ ForceCheckMessage) error {
	if c == nil || c.runner == nil {
		return commandDependencyError("command: check runner is required")
	}
	report, err := c.runner.ForceCheck(ctx)
	if err != nil {
		return err
	}
	storeResult(ctx, report)
	return nil
}

type FlushCommand struct {
	service HookService
}

func NewFlushCommand(service HookService) *FlushCommand {
	return &FlushCommand{service: service}
}

func (c *FlushCommand) Execute(ctx context.Context, _ FlushMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: hook service is required")
	}
	return c.service.Flush(ctx)
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
