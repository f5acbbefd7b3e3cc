package command

import (
	"strings"

	"github.com/goliatone/go-commit-hooks/core"
)

const (
	TypeCreateHook             = "commithooks.command.hook.create"
	TypeReconcileHooks         = "commithooks.command.hook.reconcile"
	TypeDeleteHook             = "commithooks.command.hook.delete"
	TypeTestHook               = "commithooks.command.hook.test"
	TypePingHook               = "commithooks.command.hook.ping"
	TypeForgetHook             = "commithooks.command.hook.forget"
	TypeRepositoryStateChanged = "commithooks.command.repository.state_changed"
	TypeRemoveUserAuthData     = "commithooks.command.auth_data.remove_for_user"
	TypeForceCheck             = "commithooks.command.check.force"
	TypeFlush                  = "commithooks.command.flush"
)

// CreateHookMessage installs the hook of a repository on behalf of a user.
type CreateHookMessage struct {
	Request core.HookActionRequest
}

func (CreateHookMessage) Type() string { return TypeCreateHook }

func (m CreateHookMessage) Validate() error {
	return validateActionRequest(m.Request)
}

type ReconcileHooksMessage struct {
	Request core.HookActionRequest
}

func (ReconcileHooksMessage) Type() string { return TypeReconcileHooks }

func (m ReconcileHooksMessage) Validate() error {
	return validateActionRequest(m.Request)
}

type DeleteHookMessage struct {
	Request core.HookActionRequest
}

func (DeleteHookMessage) Type() string { return TypeDeleteHook }

func (m DeleteHookMessage) Validate() error {
	return validateActionRequest(m.Request)
}

type TestHookMessage struct {
	Request core.HookActionRequest
}

func (TestHookMessage) Type() string { return TypeTestHook }

func (m TestHookMessage) Validate() error {
	return validateActionRequest(m.Request)
}

type PingHookMessage struct {
	Request core.HookActionRequest
}

func (PingHookMessage) Type() string { return TypePingHook }

func (m PingHookMessage) Validate() error {
	return validateActionRequest(m.Request)
}

// ForgetHookMessage drops local state only; the remote hook is left alone.
type ForgetHookMessage struct {
	Repository core.RepoKey
}

func (ForgetHookMessage) Type() string { return TypeForgetHook }

func (m ForgetHookMessage) Validate() error {
	return validateRepository(m.Repository)
}

// RepositoryStateChangedMessage reports branch heads observed by the host's
// own polling so the hook record can be marked outdated or caught up.
type RepositoryStateChangedMessage struct {
	Repository core.RepoKey
	Heads      map[string]string
}

func (RepositoryStateChangedMessage) Type() string { return TypeRepositoryStateChanged }

func (m RepositoryStateChangedMessage) Validate() error {
	return validateRepository(m.Repository)
}

type RemoveUserAuthDataMessage struct {
	UserID string
}

func (RemoveUserAuthDataMessage) Type() string { return TypeRemoveUserAuthData }

func (m RemoveUserAuthDataMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return commandValidationError("user_id", "user id is required")
	}
	return nil
}

type ForceCheckMessage struct{}

func (ForceCheckMessage) Type() string { return TypeForceCheck }

func (ForceCheckMessage) Validate() error { return nil }

type FlushMessage struct{}

func (FlushMessage) Type() string { return TypeFlush }

func (FlushMessage) Validate() error { return nil }

func validateActionRequest(req core.HookActionRequest) error {
	if err := validateRepository(req.Repository); err != nil {
		return err
	}
	if strings.TrimSpace(req.UserID) == "" {
		return commandValidationError("user_id", "user id is required")
	}
	if strings.TrimSpace(req.Connection.ID) == "" {
		return commandValidationError("connection_id", "connection id is required")
	}
	return nil
}

func validateRepository(repo core.RepoKey) error {
	if err := repo.Validate(); err != nil {
		return commandValidationError("repository", err.Error())
	}
	return nil
}
