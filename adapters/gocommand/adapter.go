// Package gocommand binds the commit hook commands and queries to a
// go-command registry and its global dispatcher.
package gocommand

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
)

var errNoRegistry = fmt.Errorf("gocommand: registry is not configured")

// ValidateMessageContract requires a non-empty Type() and runs Validate()
// when the message has one.
func ValidateMessageContract(msg any) error {
	typed, ok := msg.(command.Message)
	if !ok {
		return fmt.Errorf("gocommand: message must implement Type() string")
	}
	if strings.TrimSpace(typed.Type()) == "" {
		return fmt.Errorf("gocommand: message type is required")
	}
	return command.ValidateMessage(msg)
}

// RegistryAdapter owns the registry the hook handlers are recorded in.
// Resolvers added before Initialize see every registered handler, which is
// how hook commands get mirrored into a go-job queue registry.
type RegistryAdapter struct {
	registry *command.Registry
}

func NewRegistryAdapter(registry *command.Registry) *RegistryAdapter {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &RegistryAdapter{registry: registry}
}

func (a *RegistryAdapter) Registry() *command.Registry {
	if a == nil {
		return nil
	}
	return a.registry
}

func (a *RegistryAdapter) ready() error {
	if a == nil || a.registry == nil {
		return errNoRegistry
	}
	return nil
}

func (a *RegistryAdapter) RegisterCommand(cmd any) error {
	if err := a.ready(); err != nil {
		return err
	}
	return a.registry.RegisterCommand(cmd)
}

// RegisterQuery records a querier. go-command keeps commands and queries in
// the same registry.
func (a *RegistryAdapter) RegisterQuery(qry any) error {
	return a.RegisterCommand(qry)
}

func (a *RegistryAdapter) AddResolver(key string, resolver command.Resolver) error {
	if err := a.ready(); err != nil {
		return err
	}
	return a.registry.AddResolver(strings.TrimSpace(key), resolver)
}

// AddQueueResolver mirrors registered commands into a go-job queue registry
// so hosts can run them as jobs (flush, force check).
func (a *RegistryAdapter) AddQueueResolver(key string, queueRegistry *jobqueuecommand.Registry) error {
	if queueRegistry == nil {
		return fmt.Errorf("gocommand: queue registry is required")
	}
	return a.AddResolver(key, jobqueuecommand.QueueResolver(queueRegistry))
}

func (a *RegistryAdapter) HasResolver(key string) bool {
	return a.ready() == nil && a.registry.HasResolver(strings.TrimSpace(key))
}

func (a *RegistryAdapter) Initialize() error {
	if err := a.ready(); err != nil {
		return err
	}
	return a.registry.Initialize()
}

func Dispatch[T any](ctx context.Context, msg T) error {
	return commanddispatcher.Dispatch(ctx, msg)
}

func Query[T any, R any](ctx context.Context, msg T) (R, error) {
	return commanddispatcher.Query[T, R](ctx, msg)
}

// RegisterAndSubscribe subscribes cmd on the dispatcher and records it in
// the registry. A failed registration releases the subscription.
func RegisterAndSubscribe[T any](
	adapter *RegistryAdapter,
	cmd command.Commander[T],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if cmd == nil {
		return nil, fmt.Errorf("gocommand: command is required")
	}
	return bind(adapter, cmd, func() commanddispatcher.Subscription {
		return commanddispatcher.SubscribeCommand(cmd, runnerOpts...)
	})
}

func RegisterAndSubscribeQuery[T any, R any](
	adapter *RegistryAdapter,
	qry command.Querier[T, R],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if qry == nil {
		return nil, fmt.Errorf("gocommand: query is required")
	}
	return bind(adapter, qry, func() commanddispatcher.Subscription {
		return commanddispatcher.SubscribeQuery(qry, runnerOpts...)
	})
}

func bind(
	adapter *RegistryAdapter,
	handler any,
	subscribe func() commanddispatcher.Subscription,
) (commanddispatcher.Subscription, error) {
	if err := adapter.ready(); err != nil {
		return nil, err
	}
	sub := subscribe()
	if err := adapter.registry.RegisterCommand(handler); err != nil {
		if sub != nil {
			sub.Unsubscribe()
		}
		return nil, err
	}
	return sub, nil
}
