package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	hookName        = "web"
	hookContentType = "json"
)

var hookEvents = []string{"push", "pull_request"}

func (s *Service) clientFor(ctx context.Context, req HookActionRequest) (RemoteHookClient, error) {
	if s.clientFactory == nil {
		return nil, fmt.Errorf("core: remote client factory is required")
	}
	if err := req.Repository.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Token.AccessToken) == "" {
		return nil, fmt.Errorf("core: access token is required")
	}
	return s.clientFactory.ClientFor(ctx, req.Connection, req.Token)
}

// reportQuota forwards the last observed rate limit of client.
func (s *Service) reportQuota(ctx context.Context, server string, client RemoteHookClient) Quota {
	if client == nil {
		return Quota{}
	}
	quota := client.Quota()
	if !quota.Known || s.quotaObserver == nil {
		return quota
	}
	if err := s.quotaObserver.ObserveQuota(ctx, server, quota); err != nil {
		s.logWarn(ctx, "quota observer failed", map[string]any{"server": server, "error": err.Error()})
	}
	return quota
}

func actionFields(req HookActionRequest) map[string]any {
	return map[string]any{
		"server":     req.Repository.Server,
		"repository": req.Repository.String(),
		"user_id":    req.UserID,
	}
}

// CreateHook installs the hook of this server on the repository unless a
// working one is already known.
func (s *Service) CreateHook(ctx context.Context, req HookActionRequest) (result CreateHookResult, err error) {
	startedAt := time.Now().UTC()
	fields := actionFields(req)
	defer func() {
		fields["outcome"] = string(result.Outcome)
		s.observeOperation(ctx, startedAt, "create_hook", err, fields)
	}()

	result, err = s.createHook(ctx, req)
	if err != nil {
		err = s.mapError(err)
		return CreateHookResult{}, err
	}
	return result, nil
}

func (s *Service) createHook(ctx context.Context, req HookActionRequest) (CreateHookResult, error) {
	callbackBase, err := s.config.CallbackBase()
	if err != nil {
		return CreateHookResult{}, err
	}
	client, err := s.clientFor(ctx, req)
	if err != nil {
		return CreateHookResult{}, err
	}
	defer s.reportQuota(ctx, req.Repository.Server, client)

	if record, ok := s.registry.Get(req.Repository); ok {
		if s.checkExisting(ctx, client, req.Repository, record) {
			return CreateHookResult{Outcome: CreateOutcomeAlreadyExists, Hook: record}, nil
		}
	}

	if _, err := s.reconcileWith(ctx, client, req.Repository); err != nil {
		return CreateHookResult{}, err
	}
	if record, ok := s.registry.Get(req.Repository); ok {
		if s.checkExisting(ctx, client, req.Repository, record) {
			return CreateHookResult{Outcome: CreateOutcomeAlreadyExists, Hook: record}, nil
		}
	}

	connectionRef := ConnectionRef{ID: req.Connection.ID, ProjectExternalID: req.Connection.ProjectExternalID}
	authData := s.authData.Create(req.UserID, req.Repository, connectionRef, false)
	callbackURL := callbackBase + authData.PublicKey

	created, err := client.CreateHook(ctx, req.Repository, HookSpec{
		Name:        hookName,
		CallbackURL: callbackURL,
		ContentType: hookContentType,
		Secret:      authData.Secret,
		Events:      append([]string(nil), hookEvents...),
		Active:      true,
	})
	if err != nil {
		if isHookAlreadyExists(err) {
			return CreateHookResult{Outcome: CreateOutcomeAlreadyExists}, nil
		}
		return CreateHookResult{}, err
	}

	pubKey, ok := PubKeyFromPath(created.CallbackURL, s.config.CallbackPath)
	if created.CallbackURL != callbackURL || !ok || pubKey != authData.PublicKey {
		// the hook would post to a key we do not hold
		if deleteErr := client.DeleteHook(ctx, req.Repository, created.ID); deleteErr != nil {
			s.logInfo(ctx, "removing hook with mismatched callback failed", map[string]any{
				"repository": req.Repository.String(),
				"hook_id":    created.ID,
				"error":      deleteErr.Error(),
			})
		}
		return CreateHookResult{}, ErrCallbackMismatch
	}

	record := s.registry.GetOrAdd(req.Repository, created)
	s.authData.Store(authData)
	return CreateHookResult{Outcome: CreateOutcomeCreated, Hook: record}, nil
}

// checkExisting reports whether record is backed by known auth data. Records
// without a usable public key are dropped, records with unknown keys are
// removed remotely and marked incorrect.
func (s *Service) checkExisting(ctx context.Context, client RemoteHookClient, repo RepoKey, record HookRecord) bool {
	pubKey, ok := PubKeyFromPath(record.CallbackURL, s.config.CallbackPath)
	if !ok {
		s.registry.Delete(repo)
		return false
	}
	if _, found := s.authData.Find(pubKey); found {
		return true
	}
	if _, err := s.deleteWith(ctx, client, repo); err != nil {
		s.logWarn(ctx, "unknown hook could not be removed", map[string]any{
			"repository": repo.String(),
			"error":      err.Error(),
		})
	}
	s.registry.Update(repo, func(r *HookRecord) {
		r.Status = HookStatusIncorrect
	})
	return false
}

// isHookAlreadyExists matches the 422 validation answer for a duplicate hook.
func isHookAlreadyExists(err error) bool {
	var remoteErr *RemoteError
	if !errors.As(err, &remoteErr) || remoteErr.StatusCode != 422 {
		return false
	}
	message := strings.ToLower(remoteErr.Message)
	return strings.Contains(message, "hook") && strings.Contains(message, "already exists")
}

// ReconcileHooks lists the remote hooks and aligns the local record with the
// one this server owns.
func (s *Service) ReconcileHooks(ctx context.Context, req HookActionRequest) (hooks []ReconciledHook, err error) {
	startedAt := time.Now().UTC()
	fields := actionFields(req)
	defer func() {
		fields["matched"] = len(hooks)
		s.observeOperation(ctx, startedAt, "reconcile_hooks", err, fields)
	}()

	hooks, err = s.reconcile(ctx, req)
	if err != nil {
		err = s.mapError(err)
		return nil, err
	}
	return hooks, nil
}

func (s *Service) reconcile(ctx context.Context, req HookActionRequest) ([]ReconciledHook, error) {
	client, err := s.clientFor(ctx, req)
	if err != nil {
		return nil, err
	}
	defer s.reportQuota(ctx, req.Repository.Server, client)
	return s.reconcileWith(ctx, client, req.Repository)
}

func (s *Service) reconcileWith(ctx context.Context, client RemoteHookClient, repo RepoKey) ([]ReconciledHook, error) {
	callbackBase, err := s.config.CallbackBase()
	if err != nil {
		return nil, err
	}
	remote, err := client.ListHooks(ctx, repo)
	if err != nil {
		return nil, err
	}

	matching := make([]RemoteHook, 0, len(remote))
	for _, hook := range remote {
		if hook.Name == hookName &&
			strings.EqualFold(hook.ContentType, hookContentType) &&
			strings.HasPrefix(hook.CallbackURL, callbackBase) {
			matching = append(matching, hook)
		}
	}
	if len(matching) == 0 {
		s.registry.Delete(repo)
		return nil, nil
	}

	current, hasCurrent := s.registry.Get(repo)
	chosen := matching[0]
	if hasCurrent {
		for _, hook := range matching {
			if current.IsSame(hook) {
				chosen = hook
				break
			}
		}
	}

	record := s.registry.GetOrAdd(repo, chosen)
	if updated, ok := s.registry.Update(repo, func(r *HookRecord) {
		switch {
		case !chosen.Active:
			r.Status = HookStatusDisabled
		case r.Status == HookStatusDisabled || r.Status == HookStatusMissing:
			r.Status = HookStatusWaiting
		}
	}); ok {
		record = updated
	}

	out := make([]ReconciledHook, 0, len(matching))
	for _, hook := range matching {
		if hook.ID == record.ID && hook.URL == record.URL {
			out = append(out, ReconciledHook{Remote: hook, Record: record})
		}
	}
	if len(matching) > 1 {
		s.logInfo(ctx, "more than one hook of this server found", map[string]any{
			"repository": repo.String(),
			"hooks":      len(matching),
		})
	}
	return out, nil
}

// DeleteHook removes the hook of this server from the repository. Tokens
// without admin scope disable the hook instead.
func (s *Service) DeleteHook(ctx context.Context, req HookActionRequest) (outcome DeleteOutcome, err error) {
	startedAt := time.Now().UTC()
	fields := actionFields(req)
	defer func() {
		fields["outcome"] = string(outcome)
		s.observeOperation(ctx, startedAt, "delete_hook", err, fields)
	}()

	client, err := s.clientFor(ctx, req)
	if err != nil {
		err = s.mapError(err)
		return "", err
	}
	defer s.reportQuota(ctx, req.Repository.Server, client)

	outcome, err = s.deleteWith(ctx, client, req.Repository)
	if err != nil {
		err = s.mapError(err)
		return "", err
	}
	return outcome, nil
}

func (s *Service) deleteWith(ctx context.Context, client RemoteHookClient, repo RepoKey) (DeleteOutcome, error) {
	matched, err := s.reconcileWith(ctx, client, repo)
	if err != nil {
		return "", err
	}
	if len(matched) == 0 {
		return DeleteOutcomeNeverExisted, nil
	}

	// a hook the token may not delete is disabled and kept with its auth data
	keep := map[string]bool{}
	for _, hook := range matched {
		err := client.DeleteHook(ctx, repo, hook.Remote.ID)
		if err == nil {
			continue
		}
		if !IsTokenScopeMismatch(err) {
			return "", err
		}
		pubKey, _ := PubKeyFromPath(hook.Remote.CallbackURL, s.config.CallbackPath)
		keep[pubKey] = true
		if hook.Record.Status == HookStatusDisabled {
			continue
		}
		if disableErr := client.SetHookActive(ctx, repo, hook.Remote.ID, false); disableErr != nil {
			return "", disableErr
		}
		s.registry.Update(repo, func(r *HookRecord) {
			r.Status = HookStatusDisabled
		})
	}

	if len(keep) == 0 {
		s.registry.Delete(repo)
	}
	for _, hook := range matched {
		if pubKey, ok := PubKeyFromPath(hook.Remote.CallbackURL, s.config.CallbackPath); ok && !keep[pubKey] {
			s.authData.Delete(pubKey)
		}
	}
	return DeleteOutcomeRemoved, nil
}

// TestHook asks GitHub to redeliver the latest push.
func (s *Service) TestHook(ctx context.Context, req HookActionRequest) (outcome TestOutcome, err error) {
	return s.triggerHook(ctx, req, "test_hook", func(client RemoteHookClient, id int64) error {
		return client.TestHook(ctx, req.Repository, id)
	})
}

// PingHook asks GitHub to send a ping event to the hook.
func (s *Service) PingHook(ctx context.Context, req HookActionRequest) (outcome TestOutcome, err error) {
	return s.triggerHook(ctx, req, "ping_hook", func(client RemoteHookClient, id int64) error {
		return client.PingHook(ctx, req.Repository, id)
	})
}

func (s *Service) triggerHook(
	ctx context.Context,
	req HookActionRequest,
	operation string,
	call func(RemoteHookClient, int64) error,
) (outcome TestOutcome, err error) {
	startedAt := time.Now().UTC()
	fields := actionFields(req)
	defer func() {
		fields["outcome"] = string(outcome)
		s.observeOperation(ctx, startedAt, operation, err, fields)
	}()

	record, ok := s.registry.Get(req.Repository)
	if !ok {
		return TestOutcomeNotFound, nil
	}
	client, err := s.clientFor(ctx, req)
	if err != nil {
		err = s.mapError(err)
		return "", err
	}
	defer s.reportQuota(ctx, req.Repository.Server, client)

	if err = call(client, record.ID); err != nil {
		err = s.mapError(err)
		return "", err
	}
	return TestOutcomeTriggered, nil
}

// GetPullRequest loads the head and merge commit of a pull request.
func (s *Service) GetPullRequest(ctx context.Context, req HookActionRequest, number int) (info PullRequestInfo, err error) {
	startedAt := time.Now().UTC()
	fields := actionFields(req)
	fields["pull_request"] = number
	defer func() {
		s.observeOperation(ctx, startedAt, "get_pull_request", err, fields)
	}()

	info, err = s.getPullRequest(ctx, req, number)
	if err != nil {
		err = s.mapError(err)
		return PullRequestInfo{}, err
	}
	return info, nil
}

func (s *Service) getPullRequest(ctx context.Context, req HookActionRequest, number int) (PullRequestInfo, error) {
	if number <= 0 {
		return PullRequestInfo{}, fmt.Errorf("core: pull request number is invalid")
	}
	client, err := s.clientFor(ctx, req)
	if err != nil {
		return PullRequestInfo{}, err
	}
	defer s.reportQuota(ctx, req.Repository.Server, client)
	return client.GetPullRequest(ctx, req.Repository, number)
}

// GetPullRequestMergeSHA returns the merge commit sha, empty while GitHub is
// still computing it.
func (s *Service) GetPullRequestMergeSHA(ctx context.Context, req HookActionRequest, number int) (string, error) {
	info, err := s.GetPullRequest(ctx, req, number)
	if err != nil {
		return "", err
	}
	return info.MergeCommitSHA, nil
}
