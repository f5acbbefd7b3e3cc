package gocommand

import (
	"fmt"

	commanddispatcher "github.com/goliatone/go-command/dispatcher"

	hookcommand "github.com/goliatone/go-commit-hooks/command"
	"github.com/goliatone/go-commit-hooks/core"
	hookquery "github.com/goliatone/go-commit-hooks/query"
)

// HookHandlers bundles everything RegisterHookHandlers needs. Checks may be
// nil, in which case the force-check command and health report query are
// skipped.
type HookHandlers struct {
	Service *core.Service
	Checks  *core.Scheduler
}

// Subscriptions keeps dispatcher subscriptions so they can be released
// together.
type Subscriptions []commanddispatcher.Subscription

func (s Subscriptions) Unsubscribe() {
	for _, sub := range s {
		if sub != nil {
			sub.Unsubscribe()
		}
	}
}

// RegisterHookHandlers registers and subscribes every commit hook command and
// query. On failure the subscriptions created so far are released.
func RegisterHookHandlers(adapter *RegistryAdapter, handlers HookHandlers) (Subscriptions, error) {
	if handlers.Service == nil {
		return nil, fmt.Errorf("gocommand: hook service is required")
	}
	svc := handlers.Service
	var subs Subscriptions

	register := func(sub commanddispatcher.Subscription, err error) error {
		if err != nil {
			subs.Unsubscribe()
			return err
		}
		subs = append(subs, sub)
		return nil
	}

	steps := []func() error{
		func() error { return register(RegisterAndSubscribe(adapter, hookcommand.NewCreateHookCommand(svc))) },
		func() error { return register(RegisterAndSubscribe(adapter, hookcommand.NewReconcileHooksCommand(svc))) },
		func() error { return register(RegisterAndSubscribe(adapter, hookcommand.NewDeleteHookCommand(svc))) },
		func() error { return register(RegisterAndSubscribe(adapter, hookcommand.NewTestHookCommand(svc))) },
		func() error { return register(RegisterAndSubscribe(adapter, hookcommand.NewPingHookCommand(svc))) },
		func() error { return register(RegisterAndSubscribe(adapter, hookcommand.NewForgetHookCommand(svc))) },
		func() error {
			return register(RegisterAndSubscribe(adapter, hookcommand.NewRepositoryStateChangedCommand(svc)))
		},
		func() error { return register(RegisterAndSubscribe(adapter, hookcommand.NewRemoveUserAuthDataCommand(svc))) },
		func() error { return register(RegisterAndSubscribe(adapter, hookcommand.NewFlushCommand(svc))) },
		func() error { return register(RegisterAndSubscribeQuery(adapter, hookquery.NewListHooksQuery(svc))) },
		func() error { return register(RegisterAndSubscribeQuery(adapter, hookquery.NewGetHookQuery(svc))) },
		func() error { return register(RegisterAndSubscribeQuery(adapter, hookquery.NewHookByPubKeyQuery(svc))) },
		func() error { return register(RegisterAndSubscribeQuery(adapter, hookquery.NewIncorrectReasonQuery(svc))) },
		func() error {
			return register(RegisterAndSubscribeQuery(adapter, hookquery.NewPullRequestMergeCommitQuery(svc)))
		},
	}
	if handlers.Checks != nil {
		checks := handlers.Checks
		steps = append(steps,
			func() error { return register(RegisterAndSubscribe(adapter, hookcommand.NewForceCheckCommand(checks))) },
			func() error {
				return register(RegisterAndSubscribeQuery(adapter, hookquery.NewLastHealthReportQuery(checks)))
			},
		)
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}
	return subs, nil
}
