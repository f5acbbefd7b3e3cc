package query

import (
	"context"
	"strings"

	"github.com/goliatone/go-commit-hooks/core"
)

type HookReader interface {
	ListHooks() []core.HookEntry
	ListIncorrectHooks() []core.HookEntry
	GetHook(repo core.RepoKey) (core.HookRecord, bool)
	HookForPubKey(pubKey string) (core.HookEntry, bool)
	IncorrectReason(record core.HookRecord) (string, bool)
}

type PullRequestReader interface {
	GetPullRequestMergeSHA(ctx context.Context, req core.HookActionRequest, number int) (string, error)
}

type HealthReportReader interface {
	LastReport() core.HealthReport
}

// IncorrectHook pairs a hook with the reason it was flagged.
type IncorrectHook struct {
	Hook   core.HookRecord
	Reason string
}

type ListHooksQuery struct {
	reader HookReader
}

func NewListHooksQuery(reader HookReader) *ListHooksQuery {
	return &ListHooksQuery{reader: reader}
}

func (q *ListHooksQuery) Query(_ context.Context, msg ListHooksMessage) ([]core.HookEntry, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: hook reader is required")
	}
	entries := q.reader.ListHooks()
	if msg.IncorrectOnly {
		entries = q.reader.ListIncorrectHooks()
	}
	server := strings.TrimRight(strings.ToLower(strings.TrimSpace(msg.Server)), "/")
	if server == "" {
		return entries, nil
	}
	out := make([]core.HookEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.Repository.Normalized().Server == server {
			out = append(out, entry)
		}
	}
	return out, nil
}

type GetHookQuery struct {
	reader HookReader
}

func NewGetHookQuery(reader HookReader) *GetHookQuery {
	return &GetHookQuery{reader: reader}
}

func (q *GetHookQuery) Query(_ context.Context, msg GetHookMessage) (core.HookRecord, error) {
	if q == nil || q.reader == nil {
		return core.HookRecord{}, queryDependencyError("query: hook reader is required")
	}
	record, ok := q.reader.GetHook(msg.Repository)
	if !ok {
		return core.HookRecord{}, queryNotFoundError("query: no hook for " + msg.Repository.String())
	}
	return record, nil
}

type HookByPubKeyQuery struct {
	reader HookReader
}

func NewHookByPubKeyQuery(reader HookReader) *HookByPubKeyQuery {
	return &HookByPubKeyQuery{reader: reader}
}

func (q *HookByPubKeyQuery) Query(_ context.Context, msg HookByPubKeyMessage) (core.HookEntry, error) {
	if q == nil || q.reader == nil {
		return core.HookEntry{}, queryDependencyError("query: hook reader is required")
	}
	entry, ok := q.reader.HookForPubKey(strings.TrimSpace(msg.PubKey))
	if !ok {
		return core.HookEntry{}, queryNotFoundError("query: no hook for public key")
	}
	return entry, nil
}

type IncorrectReasonQuery struct {
	reader HookReader
}

func NewIncorrectReasonQuery(reader HookReader) *IncorrectReasonQuery {
	return &IncorrectReasonQuery{reader: reader}
}

// Query returns an empty reason when the hook is known but healthy.
func (q *IncorrectReasonQuery) Query(_ context.Context, msg IncorrectReasonMessage) (IncorrectHook, error) {
	if q == nil || q.reader == nil {
		return IncorrectHook{}, queryDependencyError("query: hook reader is required")
	}
	record, ok := q.reader.GetHook(msg.Repository)
	if !ok {
		return IncorrectHook{}, queryNotFoundError("query: no hook for " + msg.Repository.String())
	}
	reason, _ := q.reader.IncorrectReason(record)
	return IncorrectHook{Hook: record, Reason: reason}, nil
}

type PullRequestMergeCommitQuery struct {
	reader PullRequestReader
}

func NewPullRequestMergeCommitQuery(reader PullRequestReader) *PullRequestMergeCommitQuery {
	return &PullRequestMergeCommitQuery{reader: reader}
}

func (q *PullRequestMergeCommitQuery) Query(ctx context.Context, msg PullRequestMergeCommitMessage) (string, error) {
	if q == nil || q.reader == nil {
		return "", queryDependencyError("query: pull request reader is required")
	}
	return q.reader.GetPullRequestMergeSHA(ctx, msg.Request, msg.Number)
}

type LastHealthReportQuery struct {
	reader HealthReportReader
}

func NewLastHealthReportQuery(reader HealthReportReader) *LastHealthReportQuery {
	return &LastHealthReportQuery{reader: reader}
}

func (q *LastHealthReportQuery) Query(context.Context, LastHealthReportMessage) (core.HealthReport, error) {
	if q == nil || q.reader == nil {
		return core.HealthReport{}, queryDependencyError("query: health report reader is required")
	}
	return q.reader.LastReport(), nil
}
