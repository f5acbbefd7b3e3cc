package query

import (
	"strings"

	"github.com/goliatone/go-commit-hooks/core"
)

const (
	TypeListHooks              = "commithooks.query.hook.list"
	TypeGetHook                = "commithooks.query.hook.get"
	TypeHookByPubKey           = "commithooks.query.hook.by_pub_key"
	TypeIncorrectReason        = "commithooks.query.hook.incorrect_reason"
	TypePullRequestMergeCommit = "commithooks.query.pull_request.merge_commit"
	TypeLastHealthReport       = "commithooks.query.health.last_report"
)

type ListHooksMessage struct {
	IncorrectOnly bool
	// Server narrows the listing to one VCS server when set.
	Server string
}

func (ListHooksMessage) Type() string { return TypeListHooks }

func (ListHooksMessage) Validate() error { return nil }

type GetHookMessage struct {
	Repository core.RepoKey
}

func (GetHookMessage) Type() string { return TypeGetHook }

func (m GetHookMessage) Validate() error {
	return validateRepository(m.Repository)
}

type HookByPubKeyMessage struct {
	PubKey string
}

func (HookByPubKeyMessage) Type() string { return TypeHookByPubKey }

func (m HookByPubKeyMessage) Validate() error {
	if strings.TrimSpace(m.PubKey) == "" {
		return queryValidationError("pub_key", "public key is required")
	}
	return nil
}

type IncorrectReasonMessage struct {
	Repository core.RepoKey
}

func (IncorrectReasonMessage) Type() string { return TypeIncorrectReason }

func (m IncorrectReasonMessage) Validate() error {
	return validateRepository(m.Repository)
}

type PullRequestMergeCommitMessage struct {
	Request core.HookActionRequest
	Number  int
}

func (PullRequestMergeCommitMessage) Type() string { return TypePullRequestMergeCommit }

func (m PullRequestMergeCommitMessage) Validate() error {
	if err := validateRepository(m.Request.Repository); err != nil {
		return err
	}
	if m.Number <= 0 {
		return queryValidationError("number", "pull request number must be positive")
	}
	return nil
}

type LastHealthReportMessage struct{}

func (LastHealthReportMessage) Type() string { return TypeLastHealthReport }

func (LastHealthReportMessage) Validate() error { return nil }

func validateRepository(repo core.RepoKey) error {
	if err := repo.Validate(); err != nil {
		return queryValidationError("repository", err.Error())
	}
	return nil
}
