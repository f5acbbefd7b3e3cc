package query

import (
	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-commit-hooks/core"
)

var (
	_ gocmd.Querier[ListHooksMessage, []core.HookEntry]         = (*ListHooksQuery)(nil)
	_ gocmd.Querier[GetHookMessage, core.HookRecord]            = (*GetHookQuery)(nil)
	_ gocmd.Querier[HookByPubKeyMessage, core.HookEntry]        = (*HookByPubKeyQuery)(nil)
	_ gocmd.Querier[IncorrectReasonMessage, IncorrectHook]      = (*IncorrectReasonQuery)(nil)
	_ gocmd.Querier[PullRequestMergeCommitMessage, string]      = (*PullRequestMergeCommitQuery)(nil)
	_ gocmd.Querier[LastHealthReportMessage, core.HealthReport] = (*LastHealthReportQuery)(nil)

	_ HookReader         = (*core.Service)(nil)
	_ PullRequestReader  = (*core.Service)(nil)
	_ HealthReportReader = (*core.Scheduler)(nil)
)
