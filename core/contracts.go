package core

import (
	"context"
	"errors"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// ErrSnapshotNotFound is returned by snapshot stores on first run.
var ErrSnapshotNotFound = errors.New("core: snapshot not found")

type HookSnapshotStore interface {
	LoadHooks(ctx context.Context) ([]HookEntry, error)
	SaveHooks(ctx context.Context, entries []HookEntry) error
}

type AuthDataSnapshotStore interface {
	LoadAuthData(ctx context.Context) ([]AuthData, error)
	SaveAuthData(ctx context.Context, records []AuthData) error
}

type TokenStore interface {
	ListTokens(ctx context.Context, connectionID string, userID string) ([]Token, error)
	RemoveToken(ctx context.Context, token Token) error
}

type ConnectionDirectory interface {
	FindConnection(ctx context.Context, ref ConnectionRef) (Connection, bool, error)
}

type UserDirectory interface {
	FindUser(ctx context.Context, userID string) (User, bool, error)
}

// VcsCheckScheduler asks the host to look for new commits. It reports whether
// any tracked VCS root matched the request.
type VcsCheckScheduler interface {
	ScheduleVcsCheck(ctx context.Context, req VcsCheckRequest) (bool, error)
}

type RemoteHookClient interface {
	ListHooks(ctx context.Context, repo RepoKey) ([]RemoteHook, error)
	CreateHook(ctx context.Context, repo RepoKey, spec HookSpec) (RemoteHook, error)
	SetHookActive(ctx context.Context, repo RepoKey, id int64, active bool) error
	DeleteHook(ctx context.Context, repo RepoKey, id int64) error
	TestHook(ctx context.Context, repo RepoKey, id int64) error
	PingHook(ctx context.Context, repo RepoKey, id int64) error
	GetPullRequest(ctx context.Context, repo RepoKey, number int) (PullRequestInfo, error)
	// Quota returns the rate limit reported by the most recent call.
	Quota() Quota
}

type RemoteClientFactory interface {
	ClientFor(ctx context.Context, connection Connection, token Token) (RemoteHookClient, error)
}

// QuotaObserver receives the remaining request budget after each remote call.
type QuotaObserver interface {
	ObserveQuota(ctx context.Context, server string, quota Quota) error
}

type IdempotencyClaimStore interface {
	Claim(ctx context.Context, key string, lease time.Duration) (claimID string, accepted bool, err error)
	Complete(ctx context.Context, claimID string) error
	Fail(ctx context.Context, claimID string, cause error, retryAt time.Time) error
}

type SecretProvider interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type JobExecutionMessage struct {
	JobID          string
	ScriptPath     string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

// WebhooksManager is the local view of installed hooks.
type WebhooksManager interface {
	UpdateLastUsed(ctx context.Context, repo RepoKey, at time.Time) bool
	UpdateBranchRevisions(ctx context.Context, repo RepoKey, revisions map[string]string) bool
	RepositoryStateChanged(ctx context.Context, repo RepoKey, heads map[string]string) (HookRecord, bool)
	HookForPubKey(pubKey string) (HookEntry, bool)
	GetHook(repo RepoKey) (HookRecord, bool)
	ListHooks() []HookEntry
	ListIncorrectHooks() []HookEntry
	IncorrectReason(record HookRecord) (string, bool)
	ForgetHook(ctx context.Context, repo RepoKey) bool
}

// RemoteHookActions performs hook operations against the remote API.
type RemoteHookActions interface {
	CreateHook(ctx context.Context, req HookActionRequest) (CreateHookResult, error)
	ReconcileHooks(ctx context.Context, req HookActionRequest) ([]ReconciledHook, error)
	DeleteHook(ctx context.Context, req HookActionRequest) (DeleteOutcome, error)
	TestHook(ctx context.Context, req HookActionRequest) (TestOutcome, error)
	PingHook(ctx context.Context, req HookActionRequest) (TestOutcome, error)
	GetPullRequest(ctx context.Context, req HookActionRequest, number int) (PullRequestInfo, error)
	GetPullRequestMergeSHA(ctx context.Context, req HookActionRequest, number int) (string, error)
}
