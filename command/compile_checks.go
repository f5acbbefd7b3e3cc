package command

import (
	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-commit-hooks/core"
)

var (
	_ gocmd.Commander[CreateHookMessage]             = (*CreateHookCommand)(nil)
	_ gocmd.Commander[ReconcileHooksMessage]         = (*ReconcileHooksCommand)(nil)
	_ gocmd.Commander[DeleteHookMessage]             = (*DeleteHookCommand)(nil)
	_ gocmd.Commander[TestHookMessage]               = (*TestHookCommand)(nil)
	_ gocmd.Commander[PingHookMessage]               = (*PingHookCommand)(nil)
	_ gocmd.Commander[ForgetHookMessage]             = (*ForgetHookCommand)(nil)
	_ gocmd.Commander[RepositoryStateChangedMessage] = (*RepositoryStateChangedCommand)(nil)
	_ gocmd.Commander[RemoveUserAuthDataMessage]     = (*RemoveUserAuthDataCommand)(nil)
	_ gocmd.Commander[ForceCheckMessage]             = (*ForceCheckCommand)(nil)
	_ gocmd.Commander[FlushMessage]                  = (*FlushCommand)(nil)

	_ HookService = (*core.Service)(nil)
	_ CheckRunner = (*core.Scheduler)(nil)
)
