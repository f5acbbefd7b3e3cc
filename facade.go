package commithooks

import (
	"fmt"

	hookcommand "github.com/goliatone/go-commit-hooks/command"
	"github.com/goliatone/go-commit-hooks/core"
	hookquery "github.com/goliatone/go-commit-hooks/query"
)

// CommandQueryService is what the facade needs from the engine.
type CommandQueryService interface {
	hookcommand.HookService
	hookquery.HookReader
	hookquery.PullRequestReader
}

type Commands struct {
	CreateHook             *hookcommand.CreateHookCommand
	ReconcileHooks         *hookcommand.ReconcileHooksCommand
	DeleteHook             *hookcommand.DeleteHookCommand
	TestHook               *hookcommand.TestHookCommand
	PingHook               *hookcommand.PingHookCommand
	ForgetHook             *hookcommand.ForgetHookCommand
	RepositoryStateChanged *hookcommand.RepositoryStateChangedCommand
	RemoveUserAuthData     *hookcommand.RemoveUserAuthDataCommand
	Flush                  *hookcommand.FlushCommand
	// ForceCheck is nil unless a check runner was supplied.
	ForceCheck *hookcommand.ForceCheckCommand
}

type Queries struct {
	ListHooks              *hookquery.ListHooksQuery
	GetHook                *hookquery.GetHookQuery
	HookByPubKey           *hookquery.HookByPubKeyQuery
	IncorrectReason        *hookquery.IncorrectReasonQuery
	PullRequestMergeCommit *hookquery.PullRequestMergeCommitQuery
	// LastHealthReport is nil unless a report reader was supplied.
	LastHealthReport *hookquery.LastHealthReportQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	checks  hookcommand.CheckRunner
	reports hookquery.HealthReportReader
}

// WithScheduler exposes the force-check command and the last health report.
func WithScheduler(scheduler *core.Scheduler) FacadeOption {
	return func(options *facadeOptions) {
		if scheduler == nil {
			return
		}
		options.checks = scheduler
		options.reports = scheduler
	}
}

func WithCheckRunner(runner hookcommand.CheckRunner) FacadeOption {
	return func(options *facadeOptions) {
		options.checks = runner
	}
}

func WithHealthReportReader(reader hookquery.HealthReportReader) FacadeOption {
	return func(options *facadeOptions) {
		options.reports = reader
	}
}

func NewFacade(service CommandQueryService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("commithooks: command/query service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		CreateHook:             hookcommand.NewCreateHookCommand(service),
		ReconcileHooks:         hookcommand.NewReconcileHooksCommand(service),
		DeleteHook:             hookcommand.NewDeleteHookCommand(service),
		TestHook:               hookcommand.NewTestHookCommand(service),
		PingHook:               hookcommand.NewPingHookCommand(service),
		ForgetHook:             hookcommand.NewForgetHookCommand(service),
		RepositoryStateChanged: hookcommand.NewRepositoryStateChangedCommand(service),
		RemoveUserAuthData:     hookcommand.NewRemoveUserAuthDataCommand(service),
		Flush:                  hookcommand.NewFlushCommand(service),
	}
	if cfg.checks != nil {
		facade.commands.ForceCheck = hookcommand.NewForceCheckCommand(cfg.checks)
	}
	facade.queries = Queries{
		ListHooks:              hookquery.NewListHooksQuery(service),
		GetHook:                hookquery.NewGetHookQuery(service),
		HookByPubKey:           hookquery.NewHookByPubKeyQuery(service),
		IncorrectReason:        hookquery.NewIncorrectReasonQuery(service),
		PullRequestMergeCommit: hookquery.NewPullRequestMergeCommitQuery(service),
	}
	if cfg.reports != nil {
		facade.queries.LastHealthReport = hookquery.NewLastHealthReportQuery(cfg.reports)
	}
	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

var _ CommandQueryService = (*core.Service)(nil)
