// Package commithooks installs, tracks and repairs the GitHub webhooks a CI
// server uses to learn about new commits, and authenticates the deliveries
// those hooks send back.
package commithooks

import (
	"github.com/goliatone/go-commit-hooks/core"
	"github.com/goliatone/go-commit-hooks/providers/github"
)

type Config = core.Config

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies

type Scheduler = core.Scheduler

type HealthReport = core.HealthReport

type RepoKey = core.RepoKey
type HookRecord = core.HookRecord
type HookEntry = core.HookEntry
type AuthData = core.AuthData
type Connection = core.Connection
type HookActionRequest = core.HookActionRequest
type VcsCheckRequest = core.VcsCheckRequest

type TokenStore = core.TokenStore
type ConnectionDirectory = core.ConnectionDirectory
type UserDirectory = core.UserDirectory
type VcsCheckScheduler = core.VcsCheckScheduler
type RemoteClientFactory = core.RemoteClientFactory
type HookSnapshotStore = core.HookSnapshotStore
type AuthDataSnapshotStore = core.AuthDataSnapshotStore

var (
	WithLogger                = core.WithLogger
	WithLoggerProvider        = core.WithLoggerProvider
	WithMetricsRecorder       = core.WithMetricsRecorder
	WithErrorFactory          = core.WithErrorFactory
	WithErrorMapper           = core.WithErrorMapper
	WithConfigProvider        = core.WithConfigProvider
	WithOptionsResolver       = core.WithOptionsResolver
	WithTokenStore            = core.WithTokenStore
	WithConnectionDirectory   = core.WithConnectionDirectory
	WithUserDirectory         = core.WithUserDirectory
	WithVcsCheckScheduler     = core.WithVcsCheckScheduler
	WithRemoteClientFactory   = core.WithRemoteClientFactory
	WithQuotaObserver         = core.WithQuotaObserver
	WithHookSnapshotStore     = core.WithHookSnapshotStore
	WithAuthDataSnapshotStore = core.WithAuthDataSnapshotStore
	WithIncorrectTokenSet     = core.WithIncorrectTokenSet
	WithClock                 = core.WithClock
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return core.Setup(cfg, opts...)
}

// NewGitHubService builds a service that talks to GitHub through go-github.
// Later options win, so a WithRemoteClientFactory in opts replaces it.
func NewGitHubService(cfg Config, client github.Config, opts ...Option) (*Service, error) {
	factory, err := github.New(client)
	if err != nil {
		return nil, err
	}
	all := append([]Option{core.WithRemoteClientFactory(factory)}, opts...)
	return core.NewService(cfg, all...)
}

// NewScheduler wires the health checker and merge commit poller of svc.
func NewScheduler(svc *Service) *Scheduler {
	return core.NewScheduler(svc, core.NewHealthChecker(svc), core.NewMergeCommitPoller(svc))
}
