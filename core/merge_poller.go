package core

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

type mergePollTask struct {
	repo      RepoKey
	number    int
	attempt   int
	timer     *time.Timer
	running   atomic.Bool
	cancelled atomic.Bool
}

// MergeCommitPoller waits for GitHub to compute the merge commit of a pull
// request and asks the host to check for changes once it exists. There is at
// most one task per repository.
type MergeCommitPoller struct {
	service *Service
	logger  Logger
	delays  []time.Duration
	pool    *semaphore.Weighted

	mu      sync.Mutex
	tasks   map[RepoKey]*mergePollTask
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewMergeCommitPoller(service *Service) *MergeCommitPoller {
	cfg := service.Config()
	delays := append([]time.Duration(nil), cfg.MergePoll.Delays...)
	if len(delays) == 0 {
		delays = DefaultMergePollDelays()
	}
	concurrency := cfg.MergePoll.Concurrency
	if concurrency < 1 {
		concurrency = DefaultMergePollConcurrency
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &MergeCommitPoller{
		service: service,
		logger:  service.NamedLogger("commithooks.mergepoll"),
		delays:  delays,
		pool:    semaphore.NewWeighted(int64(concurrency)),
		tasks:   map[RepoKey]*mergePollTask{},
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Schedule starts polling for a pull request, replacing any pending task of
// the same repository.
func (p *MergeCommitPoller) Schedule(repo RepoKey, number int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return false
	}
	key := repo.Normalized()
	if previous, ok := p.tasks[key]; ok {
		previous.cancelled.Store(true)
		if previous.timer != nil {
			previous.timer.Stop()
		}
	}
	task := &mergePollTask{repo: repo, number: number}
	p.tasks[key] = task
	p.armLocked(task)
	logWithLevel(p.ctx, p.logger, "info", "merge commit check scheduled", map[string]any{
		"repository":   repo.String(),
		"pull_request": number,
	})
	return true
}

// Pending reports whether a task exists for repo.
func (p *MergeCommitPoller) Pending(repo RepoKey) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.tasks[repo.Normalized()]
	return ok
}

// Stop cancels every pending task and waits for running attempts.
func (p *MergeCommitPoller) Stop() {
	p.mu.Lock()
	p.stopped = true
	for key, task := range p.tasks {
		task.cancelled.Store(true)
		if task.timer != nil {
			task.timer.Stop()
		}
		delete(p.tasks, key)
	}
	p.mu.Unlock()
	p.cancel()
	p.wg.Wait()
}

// armLocked waits for the delay of the current attempt. It returns false once
// the delay table is exhausted.
func (p *MergeCommitPoller) armLocked(task *mergePollTask) bool {
	if task.attempt >= len(p.delays) {
		return false
	}
	delay := p.delays[task.attempt]
	task.attempt++
	task.timer = time.AfterFunc(delay, func() { p.tick(task) })
	return true
}

func (p *MergeCommitPoller) tick(task *mergePollTask) {
	if task.cancelled.Load() {
		return
	}
	if !task.running.CompareAndSwap(false, true) {
		p.retry(task)
		return
	}
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		task.running.Store(false)
		return
	}
	p.wg.Add(1)
	p.mu.Unlock()
	go func() {
		defer p.wg.Done()
		if err := p.pool.Acquire(p.ctx, 1); err != nil {
			task.running.Store(false)
			return
		}
		retry := p.attempt(p.ctx, task)
		p.pool.Release(1)
		task.running.Store(false)
		if retry {
			p.retry(task)
			return
		}
		p.finish(task)
	}()
}

func (p *MergeCommitPoller) retry(task *mergePollTask) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if task.cancelled.Load() || p.stopped {
		return
	}
	if !p.armLocked(task) {
		logWithLevel(p.ctx, p.logger, "info", "gave up waiting for merge commit", map[string]any{
			"repository":   task.repo.String(),
			"pull_request": task.number,
		})
		p.removeLocked(task)
	}
}

func (p *MergeCommitPoller) finish(task *mergePollTask) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeLocked(task)
}

func (p *MergeCommitPoller) removeLocked(task *mergePollTask) {
	key := task.repo.Normalized()
	if current, ok := p.tasks[key]; ok && current == task {
		delete(p.tasks, key)
	}
}

// attempt reports whether the lookup should be tried again later.
func (p *MergeCommitPoller) attempt(ctx context.Context, task *mergePollTask) bool {
	s := p.service
	fields := map[string]any{"repository": task.repo.String(), "pull_request": task.number}

	entry, ok := s.registry.Get(task.repo)
	if !ok {
		logWithLevel(ctx, p.logger, "debug", "hook no longer known, merge check dropped", fields)
		return false
	}
	pubKey, ok := PubKeyFromPath(entry.CallbackURL, s.config.CallbackPath)
	if !ok {
		logWithLevel(ctx, p.logger, "warn", "hook callback has no public key", fields)
		return false
	}
	authData, ok := s.authData.Find(pubKey)
	if !ok {
		logWithLevel(ctx, p.logger, "warn", "auth data not found for hook", fields)
		return false
	}
	connection, user, tokens, reason := s.resolveCredentials(ctx, authData)
	if reason != "" {
		fields["reason"] = reason
		logWithLevel(ctx, p.logger, "warn", "cannot check merge commit", fields)
		return false
	}

	for _, token := range tokens {
		req := HookActionRequest{Repository: task.repo, UserID: user.ID, Connection: connection, Token: token}
		info, err := s.getPullRequest(ctx, req, task.number)
		if err != nil {
			if IsInternalServerError(err) {
				return true
			}
			fields["error"] = err.Error()
			logWithLevel(ctx, p.logger, "info", "cannot check merge commit", fields)
			continue
		}
		if info.MergeCommitSHA == "" {
			return true
		}
		fields["merge_sha"] = info.MergeCommitSHA
		if task.cancelled.Load() {
			logWithLevel(ctx, p.logger, "debug", "merge check superseded by a newer pull request", fields)
			return false
		}
		logWithLevel(ctx, p.logger, "info", "merge commit available", fields)
		p.requestCheck(ctx, task)
		return false
	}
	return false
}

func (p *MergeCommitPoller) requestCheck(ctx context.Context, task *mergePollTask) {
	s := p.service
	if s.vcsChecks == nil {
		return
	}
	_, err := s.vcsChecks.ScheduleVcsCheck(ctx, VcsCheckRequest{
		Repository:  task.repo,
		Identifiers: task.repo.Identifiers(),
		Reason:      "pull_request_merge",
	})
	if err != nil {
		logWithLevel(ctx, p.logger, "warn", "scheduling check for changes failed", map[string]any{
			"repository": task.repo.String(),
			"error":      err.Error(),
		})
	}
}
