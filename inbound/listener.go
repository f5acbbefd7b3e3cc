package inbound

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	gh "github.com/google/go-github/v66/github"

	"github.com/goliatone/go-commit-hooks/core"
)

const (
	HeaderEvent     = "X-GitHub-Event"
	HeaderSignature = "X-Hub-Signature"
	HeaderDelivery  = "X-GitHub-Delivery"

	EventPing        = "ping"
	EventPush        = "push"
	EventPullRequest = "pull_request"

	defaultPingPollInterval = time.Second
)

var acceptedPullRequestActions = []string{
	"opened", "edited", "closed", "reopened", "synchronize", "labeled", "unlabeled",
}

// Delivery is one request GitHub posted to a callback url.
type Delivery struct {
	Path    string
	Headers http.Header
	Body    []byte
}

func (d Delivery) header(name string) string {
	if d.Headers == nil {
		return ""
	}
	return strings.TrimSpace(d.Headers.Get(name))
}

// Result is the status and plain text answer returned to GitHub.
type Result struct {
	StatusCode int
	Message    string
}

func result(status int, format string, args ...any) Result {
	return Result{StatusCode: status, Message: fmt.Sprintf(format, args...)}
}

// HookManager is the part of the engine the listener touches.
type HookManager interface {
	FindAuthData(pubKey string) (core.AuthData, bool)
	StoreAuthData(data core.AuthData)
	HookForPubKey(pubKey string) (core.HookEntry, bool)
	UpdateLastUsed(ctx context.Context, repo core.RepoKey, at time.Time) bool
	UpdateBranchRevisions(ctx context.Context, repo core.RepoKey, revisions map[string]string) bool
	RemoveAuthDataForUser(ctx context.Context, userID string) int
}

// AuthLookup resolves public keys the in-memory store does not know, such as
// hooks installed by another instance sharing the same database.
type AuthLookup interface {
	Lookup(ctx context.Context, pubKey string) (core.AuthData, bool, error)
}

// MergePoller waits for the merge commit of a freshly opened pull request.
type MergePoller interface {
	Schedule(repo core.RepoKey, number int) bool
}

type Listener struct {
	Hooks  HookManager
	Users  core.UserDirectory
	Checks core.VcsCheckScheduler
	Poller MergePoller
	Claims core.IdempotencyClaimStore
	Auth   AuthLookup
	Bursts *BurstGuard
	Logger core.Logger

	CallbackPath     string
	MaxPayloadSize   int64
	PingWait         time.Duration
	PingPollInterval time.Duration
	DedupTTL         time.Duration
	Now              func() time.Time
}

// NewListener wires a listener to a service. poller and claims may be nil.
func NewListener(service *core.Service, poller MergePoller, claims core.IdempotencyClaimStore) (*Listener, error) {
	if service == nil {
		return nil, inboundBadInput("inbound: service is required", nil)
	}
	cfg := service.Config()
	deps := service.Dependencies()
	return &Listener{
		Hooks:            service,
		Users:            deps.UserDirectory,
		Checks:           deps.VcsCheckScheduler,
		Poller:           poller,
		Claims:           claims,
		Bursts:           NewBurstGuard(cfg.Inbound.BurstWindow),
		Logger:           service.NamedLogger("commithooks.inbound"),
		CallbackPath:     cfg.CallbackPath,
		MaxPayloadSize:   cfg.Inbound.MaxPayloadSize,
		PingWait:         cfg.Inbound.PingWait,
		PingPollInterval: defaultPingPollInterval,
		DedupTTL:         cfg.Inbound.DedupTTL,
	}, nil
}

// Handle authenticates and applies a delivery. Failures are answered, never
// returned.
func (l *Listener) Handle(ctx context.Context, delivery Delivery) Result {
	if ctx == nil {
		ctx = context.Background()
	}
	eventType := delivery.header(HeaderEvent)
	if eventType == "" {
		l.log(ctx, "warn", "delivery without event type", map[string]any{"path": delivery.Path})
		return result(http.StatusBadRequest, "'%s' header is missing", HeaderEvent)
	}
	if eventType != EventPing && eventType != EventPush && eventType != EventPullRequest {
		l.log(ctx, "info", "unsupported event type ignored", map[string]any{"event_type": eventType})
		return result(http.StatusAccepted, "Unsupported event type '%s'", eventType)
	}

	signature := delivery.header(HeaderSignature)
	if signature == "" {
		l.log(ctx, "warn", "delivery without signature", map[string]any{"event_type": eventType})
		return result(http.StatusBadRequest, "'%s' header is missing", HeaderSignature)
	}

	pubKey, ok := core.PubKeyFromPath(delivery.Path, l.callbackPath())
	if !ok {
		l.log(ctx, "warn", "signed delivery without public key", map[string]any{"path": delivery.Path})
		return result(http.StatusBadRequest, "'%s' is present but request url does not contain public key part", HeaderSignature)
	}

	authData, ok, err := l.findAuthData(ctx, pubKey)
	if err != nil {
		l.log(ctx, "error", "auth data lookup failed", map[string]any{"public_key": pubKey, "error": err.Error()})
		return result(http.StatusServiceUnavailable, "Failed to load auth data: %s", err.Error())
	}
	if !ok {
		l.log(ctx, "warn", "no auth data for public key", map[string]any{"public_key": pubKey})
		return result(http.StatusNotFound,
			"No stored auth data (secret key) found for public key '%s'. Reinstall the webhook.", pubKey)
	}

	if res, ok := l.checkUser(ctx, authData); !ok {
		return res
	}

	if int64(len(delivery.Body)) >= l.maxPayloadSize() {
		l.log(ctx, "info", "payload too large", map[string]any{"path": delivery.Path, "size": len(delivery.Body)})
		return result(http.StatusRequestEntityTooLarge, "Payload size exceed %d bytes limit", l.maxPayloadSize())
	}

	if !core.VerifySignature(signature, delivery.Body, authData.Secret) {
		l.log(ctx, "warn", "signature verification failed", map[string]any{
			"event_type": eventType,
			"repository": authData.Repository.String(),
		})
		return result(http.StatusForbidden,
			"Payload signature verification failed. Ensure request url, '%s' header and payload are correct", HeaderSignature)
	}

	claimID, duplicate := l.claim(ctx, delivery.header(HeaderDelivery))
	if duplicate {
		return result(http.StatusOK, "Delivery already processed")
	}
	res := l.dispatch(ctx, eventType, pubKey, authData, delivery.Body)
	l.settle(ctx, claimID, res)
	return res
}

func (l *Listener) checkUser(ctx context.Context, authData core.AuthData) (Result, bool) {
	if l.Users == nil {
		return result(http.StatusServiceUnavailable, "User directory is unavailable"), false
	}
	_, found, err := l.Users.FindUser(ctx, authData.UserID)
	if err != nil {
		l.log(ctx, "warn", "user lookup failed", map[string]any{"user_id": authData.UserID, "error": err.Error()})
		return result(http.StatusServiceUnavailable, "Failed to look up user: %v", err), false
	}
	if !found {
		l.Hooks.RemoveAuthDataForUser(ctx, authData.UserID)
		l.log(ctx, "warn", "user which installed the webhook not found", map[string]any{"user_id": authData.UserID})
		return result(http.StatusNotFound,
			"User installed webhook no longer registered. Remove and reinstall webhook."), false
	}
	return Result{}, true
}

func (l *Listener) dispatch(ctx context.Context, eventType, pubKey string, authData core.AuthData, body []byte) Result {
	event, err := gh.ParseWebHook(eventType, body)
	if err != nil {
		l.log(ctx, "warn", "failed to parse payload", map[string]any{"event_type": eventType, "error": err.Error()})
		return result(http.StatusServiceUnavailable, "Failed to parse payload: %v", err)
	}
	hook, found := l.hookFor(ctx, pubKey, eventType)
	if !found {
		// local state was cleared or the hook belongs to an organization
		l.log(ctx, "warn", "no stored hook for public key", map[string]any{
			"public_key": pubKey,
			"repository": authData.Repository.String(),
		})
	}
	var entry *core.HookEntry
	if found {
		entry = &hook
	}

	switch payload := event.(type) {
	case *gh.PingEvent:
		return l.HandlePing(ctx, authData, entry, payload)
	case *gh.PushEvent:
		return l.HandlePush(ctx, authData, entry, payload)
	case *gh.PullRequestEvent:
		return l.HandlePullRequest(ctx, authData, entry, payload)
	default:
		return result(http.StatusServiceUnavailable, "Failed to process request (event type is '%s')", eventType)
	}
}

// hookFor polls for the hook of a ping, which can arrive before the creating
// call stored the record.
func (l *Listener) hookFor(ctx context.Context, pubKey, eventType string) (core.HookEntry, bool) {
	entry, ok := l.Hooks.HookForPubKey(pubKey)
	if ok || eventType != EventPing || l.PingWait <= 0 {
		return entry, ok
	}
	interval := l.PingPollInterval
	if interval <= 0 {
		interval = defaultPingPollInterval
	}
	deadline := time.NewTimer(l.PingWait)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return core.HookEntry{}, false
		case <-deadline.C:
			return l.Hooks.HookForPubKey(pubKey)
		case <-ticker.C:
			if entry, ok := l.Hooks.HookForPubKey(pubKey); ok {
				return entry, true
			}
		}
	}
}

func (l *Listener) HandlePing(ctx context.Context, authData core.AuthData, hook *core.HookEntry, payload *gh.PingEvent) Result {
	repo, ok := core.ParseRepoURL(payload.GetRepo().GetHTMLURL())
	if !ok {
		repo = authData.Repository
	}
	l.log(ctx, "info", "received ping", map[string]any{
		"hook_id":    payload.GetHookID(),
		"repository": repo.String(),
	})
	if hook != nil {
		l.Hooks.UpdateLastUsed(ctx, hook.Repository, l.now())
	}
	return l.scheduleCheck(ctx, repo, EventPing)
}

func (l *Listener) HandlePush(ctx context.Context, authData core.AuthData, hook *core.HookEntry, payload *gh.PushEvent) Result {
	repo, ok := core.ParseRepoURL(payload.GetRepo().GetHTMLURL())
	if !ok {
		repo = authData.Repository
	}
	l.log(ctx, "info", "received push", map[string]any{"repository": repo.String(), "ref": payload.GetRef()})
	if hook != nil {
		l.Hooks.UpdateLastUsed(ctx, hook.Repository, l.now())
		if ref, after := payload.GetRef(), payload.GetAfter(); ref != "" && after != "" {
			l.Hooks.UpdateBranchRevisions(ctx, hook.Repository, map[string]string{ref: after})
		}
	}
	return l.scheduleCheck(ctx, repo, EventPush)
}

func (l *Listener) HandlePullRequest(ctx context.Context, authData core.AuthData, hook *core.HookEntry, payload *gh.PullRequestEvent) Result {
	action := payload.GetAction()
	if !acceptedAction(action) {
		l.log(ctx, "info", "unrelated pull request action ignored", map[string]any{
			"action":     action,
			"repository": authData.Repository.String(),
		})
		return result(http.StatusAccepted, "Unrelated action, expected one of %s", strings.Join(acceptedPullRequestActions, ", "))
	}
	pr := payload.GetPullRequest()
	url := pr.GetBase().GetRepo().GetHTMLURL()
	if url == "" {
		l.log(ctx, "warn", "pull request payload without repository url", nil)
		return result(http.StatusBadRequest,
			"'pull_request' event payload has no repository url specified in object path 'pull_request.base.repo.html_url'")
	}
	repo, ok := core.ParseRepoURL(url)
	if !ok {
		l.log(ctx, "warn", "cannot determine repository from url", map[string]any{"url": url})
		return result(http.StatusServiceUnavailable, "Cannot determine repository info from url '%s'", url)
	}
	number := payload.GetNumber()
	if number == 0 {
		number = pr.GetNumber()
	}
	l.log(ctx, "info", "received pull request", map[string]any{
		"repository":   repo.String(),
		"action":       action,
		"pull_request": number,
	})

	if hook != nil {
		l.Hooks.UpdateLastUsed(ctx, hook.Repository, l.now())
		if head := pr.GetHead().GetSHA(); head != "" {
			l.Hooks.UpdateBranchRevisions(ctx, hook.Repository, map[string]string{
				fmt.Sprintf("refs/pull/%d/head", number): head,
			})
		}
		mergeRef := fmt.Sprintf("refs/pull/%d/merge", number)
		if merge := pr.GetMergeCommitSHA(); merge != "" {
			l.Hooks.UpdateBranchRevisions(ctx, hook.Repository, map[string]string{mergeRef: merge})
		} else if hook.Hook.LastBranchRevisions[mergeRef] == "" && l.Poller != nil {
			// merge branch not computed yet, usually a brand new pull request
			l.Poller.Schedule(repo, number)
		}
	}
	return l.scheduleCheck(ctx, repo, EventPullRequest)
}

func (l *Listener) scheduleCheck(ctx context.Context, repo core.RepoKey, reason string) Result {
	if l.Checks == nil {
		return result(http.StatusOK, "No relevant VCS roots found")
	}
	if !l.Bursts.Allow(repo, l.now()) {
		l.log(ctx, "debug", "check request coalesced", map[string]any{"repository": repo.String(), "reason": reason})
		return result(http.StatusAccepted, "Checking for changes already scheduled for %s", repo.String())
	}
	relevant, err := l.Checks.ScheduleVcsCheck(ctx, core.VcsCheckRequest{
		Repository:  repo,
		Identifiers: repo.Identifiers(),
		Reason:      reason,
	})
	if err != nil {
		l.log(ctx, "error", "scheduling check for changes failed", map[string]any{
			"repository": repo.String(),
			"error":      err.Error(),
		})
		return result(http.StatusServiceUnavailable, "Failed to process request (event type is '%s')", reason)
	}
	if !relevant {
		return result(http.StatusOK, "No relevant VCS roots found")
	}
	return result(http.StatusAccepted, "Checking for changes scheduled for %s", repo.String())
}

// claim reports true for a delivery that was already processed. Claim store
// failures do not block the delivery.
func (l *Listener) claim(ctx context.Context, deliveryID string) (string, bool) {
	if l.Claims == nil || deliveryID == "" {
		return "", false
	}
	claimID, accepted, err := l.Claims.Claim(ctx, deliveryID, l.DedupTTL)
	if err != nil {
		l.log(ctx, "warn", "delivery claim failed", map[string]any{"delivery_id": deliveryID, "error": err.Error()})
		return "", false
	}
	if !accepted {
		l.log(ctx, "info", "duplicate delivery ignored", map[string]any{"delivery_id": deliveryID})
		return "", true
	}
	return claimID, false
}

func (l *Listener) settle(ctx context.Context, claimID string, res Result) {
	if l.Claims == nil || claimID == "" {
		return
	}
	var err error
	if res.StatusCode >= http.StatusInternalServerError {
		err = l.Claims.Fail(ctx, claimID, inboundInternal(res.Message, nil), l.now())
	} else {
		err = l.Claims.Complete(ctx, claimID)
	}
	if err != nil {
		l.log(ctx, "warn", "delivery claim not settled", map[string]any{"claim_id": claimID, "error": err.Error()})
	}
}

func acceptedAction(action string) bool {
	for _, candidate := range acceptedPullRequestActions {
		if candidate == action {
			return true
		}
	}
	return false
}

func (l *Listener) callbackPath() string {
	if strings.TrimSpace(l.CallbackPath) == "" {
		return core.DefaultCallbackPath
	}
	return l.CallbackPath
}

func (l *Listener) maxPayloadSize() int64 {
	if l.MaxPayloadSize <= 0 {
		return core.DefaultMaxPayloadSize
	}
	return l.MaxPayloadSize
}

func (l *Listener) now() time.Time {
	if l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

func (l *Listener) log(ctx context.Context, level, message string, fields map[string]any) {
	if l.Logger == nil {
		return
	}
	logger := l.Logger.WithContext(ctx)
	args := make([]any, 0, len(fields)*2)
	for key, value := range fields {
		args = append(args, key, value)
	}
	switch level {
	case "error":
		logger.Error(message, args...)
	case "warn":
		logger.Warn(message, args...)
	case "debug":
		logger.Debug(message, args...)
	default:
		logger.Info(message, args...)
	}
}

func (l *Listener) findAuthData(ctx context.Context, pubKey string) (core.AuthData, bool, error) {
	if data, ok := l.Hooks.FindAuthData(pubKey); ok {
		return data, true, nil
	}
	if l.Auth == nil {
		return core.AuthData{}, false, nil
	}
	data, ok, err := l.Auth.Lookup(ctx, pubKey)
	if err != nil || !ok {
		return data, ok, err
	}
	l.Hooks.StoreAuthData(data)
	l.log(ctx, "debug", "auth data adopted from shared lookup", map[string]any{"repository": data.Repository.String()})
	return data, true, nil
}
