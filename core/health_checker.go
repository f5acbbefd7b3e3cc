package core

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"
)

const maxCheckRequeues = 3

// QuotaGate is implemented by quota observers that remember exhausted servers
// across passes.
type QuotaGate interface {
	Exhausted(server string, now time.Time) bool
}

type HookCheckOutcome struct {
	Repository RepoKey
	HookID     int64
	Status     HookStatus
	Reason     string
	Forgotten  bool
	Skipped    bool
}

type HealthReport struct {
	StartedAt       time.Time
	FinishedAt      time.Time
	Outcomes        []HookCheckOutcome
	IgnoredServers  []string
	Pinged          int
	AuthDataRemoved int
}

func (r HealthReport) Outcome(repo RepoKey) (HookCheckOutcome, bool) {
	for i := len(r.Outcomes) - 1; i >= 0; i-- {
		if r.Outcomes[i].Repository.Equal(repo) {
			return r.Outcomes[i], true
		}
	}
	return HookCheckOutcome{}, false
}

// HealthChecker revalidates every known hook against the remote API.
type HealthChecker struct {
	service *Service
	logger  Logger
	cleaner *AuthDataCleaner
	running sync.Mutex
}

func NewHealthChecker(service *Service) *HealthChecker {
	cfg := service.Config()
	return &HealthChecker{
		service: service,
		logger:  service.NamedLogger("commithooks.healthcheck"),
		cleaner: NewAuthDataCleaner(cfg.Check.UnusedAuthDataTTL, cfg.CallbackPath),
	}
}

type queuedCheck struct {
	entry    HookEntry
	requeues int
}

type queuedPing struct {
	repo   RepoKey
	hookID int64
	client RemoteHookClient
}

// checkPass holds the state of a single RunOnce call.
type checkPass struct {
	queue   []queuedCheck
	pings   []queuedPing
	ignored map[string]struct{}
	report  *HealthReport
}

func (p *checkPass) ignore(server string) {
	p.ignored[server] = struct{}{}
}

func (p *checkPass) isIgnored(server string) bool {
	_, ok := p.ignored[server]
	return ok
}

func (p *checkPass) dropQueued(repo RepoKey) {
	kept := p.queue[:0]
	for _, item := range p.queue {
		if !item.entry.Repository.Equal(repo) {
			kept = append(kept, item)
		}
	}
	p.queue = kept
}

// RunOnce performs one full check pass. A failing repository never aborts the
// pass; the returned error is only set when the checker is misconfigured.
func (c *HealthChecker) RunOnce(ctx context.Context) (report HealthReport, err error) {
	if c == nil || c.service == nil {
		return HealthReport{}, fmt.Errorf("core: health checker is not configured")
	}
	c.running.Lock()
	defer c.running.Unlock()

	s := c.service
	startedAt := time.Now().UTC()
	report.StartedAt = s.now()
	fields := map[string]any{}
	defer func() {
		fields["hooks"] = len(report.Outcomes)
		fields["ignored_servers"] = len(report.IgnoredServers)
		fields["pinged"] = report.Pinged
		s.observeOperation(ctx, startedAt, "health_check", err, fields)
	}()

	report.AuthDataRemoved = c.cleaner.Cleanup(s.now(), s.registry, s.authData)

	pass := &checkPass{ignored: map[string]struct{}{}, report: &report}
	for _, entry := range s.registry.ListAll() {
		pass.queue = append(pass.queue, queuedCheck{entry: entry})
	}
	c.log(ctx, "debug", "health check started", map[string]any{"hooks": len(pass.queue)})

	for len(pass.queue) > 0 {
		if ctx.Err() != nil {
			err = ctx.Err()
			return report, err
		}
		item := pass.queue[0]
		pass.queue = pass.queue[1:]
		c.checkHook(ctx, pass, item)
	}

	for _, ping := range pass.pings {
		if pass.isIgnored(ping.repo.Server) {
			continue
		}
		if pingErr := ping.client.PingHook(ctx, ping.repo, ping.hookID); pingErr != nil {
			c.log(ctx, "debug", "ping failed", map[string]any{"repository": ping.repo.String(), "error": pingErr.Error()})
		} else {
			report.Pinged++
		}
		c.checkQuota(ctx, pass, ping.repo.Server, ping.client)
	}

	for server := range pass.ignored {
		report.IgnoredServers = append(report.IgnoredServers, server)
	}
	sort.Strings(report.IgnoredServers)
	report.FinishedAt = s.now()
	return report, nil
}

func (c *HealthChecker) checkHook(ctx context.Context, pass *checkPass, item queuedCheck) {
	s := c.service
	repo := item.entry.Repository
	hook := item.entry.Hook

	pubKey, ok := PubKeyFromPath(hook.CallbackURL, s.config.CallbackPath)
	if !ok {
		c.reportHook(ctx, pass, repo, hook, HookStatusIncorrect, "Unexpected callback url")
		s.ForgetHook(ctx, repo)
		c.markForgotten(pass)
		return
	}

	authData, found := s.authData.Find(pubKey)
	if !found {
		if s.config.Check.RemovesCorruptedHooks() {
			c.removeCorrupted(ctx, pass, repo, hook)
			return
		}
		c.reportHook(ctx, pass, repo, hook, HookStatusIncorrect, "Webhook callback url is incorrect or internal storage was corrupted")
		return
	}

	connection, user, tokens, reason := s.resolveCredentials(ctx, authData)
	if reason != "" {
		c.reportHook(ctx, pass, repo, hook, HookStatusNoInfo, reason)
		return
	}

	if pass.isIgnored(repo.Server) || c.quotaExhausted(repo.Server) {
		pass.ignore(repo.Server)
		pass.report.Outcomes = append(pass.report.Outcomes, HookCheckOutcome{
			Repository: repo,
			HookID:     hook.ID,
			Status:     hook.Status,
			Skipped:    true,
		})
		return
	}

	success := false
	retry := false
	var lastClient RemoteHookClient
tokenLoop:
	for _, token := range tokens {
		req := HookActionRequest{Repository: repo, UserID: user.ID, Connection: connection, Token: token}
		client, err := s.clientFor(ctx, req)
		if err != nil {
			c.log(ctx, "warn", "remote client unavailable", map[string]any{"repository": repo.String(), "error": err.Error()})
			continue
		}
		lastClient = client

		matched, err := s.reconcileWith(ctx, client, repo)
		s.reportQuota(ctx, repo.Server, client)
		if err == nil {
			pass.dropQueued(repo)
			c.applyReconciled(ctx, pass, repo, hook, pubKey, matched, client)
			success = true
			break
		}

		fields := map[string]any{"repository": repo.String(), "login": token.Login, "error": err.Error()}
		switch {
		case IsInvalidCredentials(err):
			c.log(ctx, "warn", "removing invalid token", fields)
			if s.tokenStore != nil {
				if removeErr := s.tokenStore.RemoveToken(ctx, token); removeErr != nil {
					c.log(ctx, "warn", "token removal failed", map[string]any{"error": removeErr.Error()})
				}
			}
			retry = true
		case IsTokenScopeMismatch(err):
			c.log(ctx, "warn", "token scope is not enough to check hook", fields)
			s.incorrectTokens.MarkIncorrect(token)
			retry = true
		case IsUserHaveNoAccess(err):
			c.log(ctx, "warn", "user has no access to repository", fields)
			if singleLogin(tokens) {
				c.reportHook(ctx, pass, repo, hook, HookStatusNoInfo,
					fmt.Sprintf("User %s (%s) that installed the webhook no longer has access to the repository", user.ID, token.Login))
				s.ForgetHook(ctx, repo)
				c.markForgotten(pass)
				return
			}
			retry = false
		case IsInternalServerError(err):
			c.log(ctx, "info", "remote server error, will check later", fields)
			pass.ignore(repo.Server)
			break tokenLoop
		case IsMoved(err):
			c.log(ctx, "info", "repository moved", fields)
			retry = false
		case IsNoAccess(err):
			c.log(ctx, "warn", "no access to repository", fields)
			retry = false
		default:
			c.log(ctx, "warn", "hook check failed", fields)
			retry = false
		}
	}

	if !success && retry && item.requeues < maxCheckRequeues {
		if current, ok := s.registry.Get(repo); ok {
			pass.queue = append(pass.queue, queuedCheck{
				entry:    HookEntry{Repository: repo, Hook: current},
				requeues: item.requeues + 1,
			})
		}
	}
	c.checkQuota(ctx, pass, repo.Server, lastClient)
}

// removeCorrupted deletes a hook whose auth data is gone, remotely when any
// known auth data for the repository yields a usable token.
func (c *HealthChecker) removeCorrupted(ctx context.Context, pass *checkPass, repo RepoKey, hook HookRecord) {
	s := c.service
	for _, candidate := range s.authData.FindAllForRepository(repo) {
		connection, user, tokens, reason := s.resolveCredentials(ctx, candidate)
		if reason != "" {
			continue
		}
		req := HookActionRequest{Repository: repo, UserID: user.ID, Connection: connection, Token: tokens[0]}
		client, err := s.clientFor(ctx, req)
		if err != nil {
			continue
		}
		if deleteErr := client.DeleteHook(ctx, repo, hook.ID); deleteErr != nil {
			c.log(ctx, "warn", "corrupted hook could not be removed remotely", map[string]any{
				"repository": repo.String(),
				"error":      deleteErr.Error(),
			})
		}
		s.reportQuota(ctx, repo.Server, client)
		break
	}
	c.log(ctx, "warn", "auth data missing, hook removed", map[string]any{"repository": repo.String(), "hook": hook.URL})
	s.ForgetHook(ctx, repo)
	pass.report.Outcomes = append(pass.report.Outcomes, HookCheckOutcome{
		Repository: repo,
		HookID:     hook.ID,
		Status:     HookStatusIncorrect,
		Reason:     "Auth data missing",
		Forgotten:  true,
	})
}

func (c *HealthChecker) applyReconciled(
	ctx context.Context,
	pass *checkPass,
	repo RepoKey,
	previous HookRecord,
	previousPubKey string,
	matched []ReconciledHook,
	client RemoteHookClient,
) {
	s := c.service
	if _, ok := s.registry.Get(repo); !ok {
		s.authData.Delete(previousPubKey)
		if key, err := previous.Key(); err == nil {
			s.reasons.Forget(key)
		}
		c.log(ctx, "info", "hook missing on remote server, removed locally", map[string]any{"repository": repo.String()})
		pass.report.Outcomes = append(pass.report.Outcomes, HookCheckOutcome{
			Repository: repo,
			HookID:     previous.ID,
			Status:     HookStatusMissing,
			Forgotten:  true,
		})
		return
	}

	for _, hook := range matched {
		code := hook.Remote.LastResponse.Code
		switch {
		case code == nil || *code == 0:
			pass.pings = append(pass.pings, queuedPing{repo: repo, hookID: hook.Remote.ID, client: client})
			pass.report.Outcomes = append(pass.report.Outcomes, HookCheckOutcome{
				Repository: repo,
				HookID:     hook.Record.ID,
				Status:     hook.Record.Status,
			})
		case *code >= http.StatusOK && *code < http.StatusMultipleChoices:
			status := HookStatusOK
			if !hook.Remote.Active {
				status = HookStatusDisabled
			}
			updated, _ := s.registry.Update(repo, func(r *HookRecord) {
				r.Status = status
			})
			pass.report.Outcomes = append(pass.report.Outcomes, HookCheckOutcome{
				Repository: repo,
				HookID:     updated.ID,
				Status:     updated.Status,
			})
		case *code >= http.StatusBadRequest && *code < 600:
			reason := fmt.Sprintf("Last payload delivery failed: (%d) %s", *code, hook.Remote.LastResponse.Message)
			c.reportHook(ctx, pass, repo, hook.Record, HookStatusIncorrect, reason)
		default:
			reason := fmt.Sprintf("Unexpected payload delivery response: (%d) %s", *code, hook.Remote.LastResponse.Message)
			c.reportHook(ctx, pass, repo, hook.Record, HookStatusIncorrect, reason)
		}
	}
}

// reportHook stores the reason and moves the record to status.
func (c *HealthChecker) reportHook(ctx context.Context, pass *checkPass, repo RepoKey, hook HookRecord, status HookStatus, reason string) {
	s := c.service
	if key, err := hook.Key(); err == nil {
		s.reasons.Put(key, reason)
	}
	s.registry.Update(repo, func(r *HookRecord) {
		r.Status = status
	})
	c.log(ctx, "info", "hook problem reported", map[string]any{
		"repository": repo.String(),
		"status":     string(status),
		"reason":     reason,
	})
	pass.report.Outcomes = append(pass.report.Outcomes, HookCheckOutcome{
		Repository: repo,
		HookID:     hook.ID,
		Status:     status,
		Reason:     reason,
	})
}

func (c *HealthChecker) markForgotten(pass *checkPass) {
	if n := len(pass.report.Outcomes); n > 0 {
		pass.report.Outcomes[n-1].Forgotten = true
	}
}

// checkQuota ignores a server for the rest of the pass once its remaining
// request budget reaches the low water mark.
func (c *HealthChecker) checkQuota(ctx context.Context, pass *checkPass, server string, client RemoteHookClient) {
	if client == nil {
		return
	}
	quota := client.Quota()
	if !quota.Known {
		return
	}
	if quota.Remaining >= 0 && quota.Remaining <= c.service.config.Quota.LowWaterMark {
		c.log(ctx, "debug", "request quota nearly exhausted, server ignored", map[string]any{
			"server":    server,
			"remaining": quota.Remaining,
			"limit":     quota.Limit,
		})
		pass.ignore(server)
	}
}

func (c *HealthChecker) quotaExhausted(server string) bool {
	gate, ok := c.service.quotaObserver.(QuotaGate)
	if !ok {
		return false
	}
	return gate.Exhausted(server, c.service.now())
}

func (c *HealthChecker) log(ctx context.Context, level string, message string, fields map[string]any) {
	logWithLevel(ctx, c.logger, level, message, fields)
}

func singleLogin(tokens []Token) bool {
	logins := map[string]struct{}{}
	for _, token := range tokens {
		logins[token.Login] = struct{}{}
	}
	return len(logins) == 1
}
