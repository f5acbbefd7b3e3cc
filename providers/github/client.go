package github

import (
	"context"
	"sync"

	gh "github.com/google/go-github/v66/github"

	"github.com/goliatone/go-commit-hooks/core"
)

const listPageSize = 100

// Client is a core.RemoteHookClient bound to one token.
type Client struct {
	gh *gh.Client

	mu    sync.Mutex
	quota core.Quota
}

func (c *Client) ListHooks(ctx context.Context, repo core.RepoKey) ([]core.RemoteHook, error) {
	opts := &gh.ListOptions{PerPage: listPageSize}
	hooks := []core.RemoteHook{}
	for {
		page, resp, err := c.gh.Repositories.ListHooks(ctx, repo.Owner, repo.Name, opts)
		c.observe(resp)
		if err != nil {
			return nil, classify(resp, err, false)
		}
		for _, hook := range page {
			hooks = append(hooks, toRemoteHook(hook))
		}
		if resp == nil || resp.NextPage == 0 {
			return hooks, nil
		}
		opts.Page = resp.NextPage
	}
}

func (c *Client) CreateHook(ctx context.Context, repo core.RepoKey, spec core.HookSpec) (core.RemoteHook, error) {
	request := &gh.Hook{
		Name:   gh.String(spec.Name),
		Active: gh.Bool(spec.Active),
		Events: append([]string(nil), spec.Events...),
		Config: &gh.HookConfig{
			URL:         gh.String(spec.CallbackURL),
			ContentType: gh.String(spec.ContentType),
			Secret:      gh.String(spec.Secret),
		},
	}
	created, resp, err := c.gh.Repositories.CreateHook(ctx, repo.Owner, repo.Name, request)
	c.observe(resp)
	if err != nil {
		return core.RemoteHook{}, classify(resp, err, false)
	}
	return toRemoteHook(created), nil
}

func (c *Client) SetHookActive(ctx context.Context, repo core.RepoKey, id int64, active bool) error {
	_, resp, err := c.gh.Repositories.EditHook(ctx, repo.Owner, repo.Name, id, &gh.Hook{Active: gh.Bool(active)})
	c.observe(resp)
	return classify(resp, err, false)
}

// DeleteHook needs an admin grade token; weaker tokens are reported as a
// scope mismatch.
func (c *Client) DeleteHook(ctx context.Context, repo core.RepoKey, id int64) error {
	resp, err := c.gh.Repositories.DeleteHook(ctx, repo.Owner, repo.Name, id)
	c.observe(resp)
	return classify(resp, err, true)
}

func (c *Client) TestHook(ctx context.Context, repo core.RepoKey, id int64) error {
	resp, err := c.gh.Repositories.TestHook(ctx, repo.Owner, repo.Name, id)
	c.observe(resp)
	return classify(resp, err, false)
}

func (c *Client) PingHook(ctx context.Context, repo core.RepoKey, id int64) error {
	resp, err := c.gh.Repositories.PingHook(ctx, repo.Owner, repo.Name, id)
	c.observe(resp)
	return classify(resp, err, false)
}

func (c *Client) GetPullRequest(ctx context.Context, repo core.RepoKey, number int) (core.PullRequestInfo, error) {
	pr, resp, err := c.gh.PullRequests.Get(ctx, repo.Owner, repo.Name, number)
	c.observe(resp)
	if err != nil {
		return core.PullRequestInfo{}, classify(resp, err, false)
	}
	return core.PullRequestInfo{
		Number:         pr.GetNumber(),
		HeadSHA:        pr.GetHead().GetSHA(),
		MergeCommitSHA: pr.GetMergeCommitSHA(),
		Mergeable:      pr.Mergeable,
	}, nil
}

func (c *Client) Quota() core.Quota {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.quota
}

func (c *Client) observe(resp *gh.Response) {
	if resp == nil || resp.Response == nil {
		return
	}
	if resp.Header.Get(headerRateLimit) == "" {
		return
	}
	c.mu.Lock()
	c.quota = core.Quota{
		Limit:     resp.Rate.Limit,
		Remaining: resp.Rate.Remaining,
		ResetAt:   resp.Rate.Reset.Time.UTC(),
		Known:     true,
	}
	c.mu.Unlock()
}

func toRemoteHook(hook *gh.Hook) core.RemoteHook {
	if hook == nil {
		return core.RemoteHook{}
	}
	config := hook.GetConfig()
	return core.RemoteHook{
		ID:           hook.GetID(),
		URL:          hook.GetURL(),
		Name:         hook.GetName(),
		Active:       hook.GetActive(),
		CallbackURL:  config.GetURL(),
		ContentType:  config.GetContentType(),
		Events:       append([]string(nil), hook.Events...),
		LastResponse: deliveryStatus(hook.LastResponse),
	}
}

// deliveryStatus reads the last_response block; code is null until the first
// delivery.
func deliveryStatus(raw map[string]any) core.DeliveryStatus {
	status := core.DeliveryStatus{}
	if len(raw) == 0 {
		return status
	}
	switch code := raw["code"].(type) {
	case float64:
		value := int(code)
		status.Code = &value
	case int:
		value := code
		status.Code = &value
	}
	if value, ok := raw["status"].(string); ok {
		status.Status = value
	}
	if value, ok := raw["message"].(string); ok {
		status.Message = value
	}
	return status
}

var _ core.RemoteHookClient = (*Client)(nil)
