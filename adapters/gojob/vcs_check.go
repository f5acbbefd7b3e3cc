package gojob

import (
	"context"
	"fmt"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-commit-hooks/core"
)

const vcsCheckDedupPolicy = "drop"

// VcsCheckEnqueuer turns check-for-changes requests into queued jobs so the
// host can run them on its own workers. Requests for the same repository
// share an idempotency key and collapse while one is pending.
type VcsCheckEnqueuer struct {
	enqueuer core.JobEnqueuer
}

func NewVcsCheckEnqueuer(enqueuer core.JobEnqueuer) *VcsCheckEnqueuer {
	return &VcsCheckEnqueuer{enqueuer: enqueuer}
}

func (e *VcsCheckEnqueuer) ScheduleVcsCheck(ctx context.Context, req core.VcsCheckRequest) (bool, error) {
	if e == nil || e.enqueuer == nil {
		return false, fmt.Errorf("gojob: enqueuer is not configured")
	}
	if err := req.Repository.Validate(); err != nil {
		return false, err
	}
	if err := e.enqueuer.Enqueue(ctx, VcsCheckJob(req)); err != nil {
		return false, err
	}
	return true, nil
}

// VcsCheckJob builds the queued form of req.
func VcsCheckJob(req core.VcsCheckRequest) *core.JobExecutionMessage {
	identifiers := make([]any, 0, len(req.Identifiers))
	for _, id := range req.Identifiers {
		identifiers = append(identifiers, id)
	}
	return &core.JobExecutionMessage{
		JobID:      JobIDVcsCheck,
		ScriptPath: JobIDVcsCheck,
		Parameters: map[string]any{
			"server":      req.Repository.Server,
			"owner":       req.Repository.Owner,
			"name":        req.Repository.Name,
			"identifiers": identifiers,
			"reason":      req.Reason,
		},
		IdempotencyKey: JobIDVcsCheck + ":" + req.Repository.Normalized().String(),
		DedupPolicy:    vcsCheckDedupPolicy,
	}
}

// VcsCheckFromJob decodes a queued check request.
func VcsCheckFromJob(msg *core.JobExecutionMessage) (core.VcsCheckRequest, error) {
	if msg == nil {
		return core.VcsCheckRequest{}, fmt.Errorf("gojob: execution message is required")
	}
	if msg.JobID != JobIDVcsCheck {
		return core.VcsCheckRequest{}, fmt.Errorf("gojob: unexpected job %q", msg.JobID)
	}
	req := core.VcsCheckRequest{
		Repository: core.NewRepoKey(
			stringParam(msg.Parameters, "server"),
			stringParam(msg.Parameters, "owner"),
			stringParam(msg.Parameters, "name"),
		),
		Reason: stringParam(msg.Parameters, "reason"),
	}
	switch ids := msg.Parameters["identifiers"].(type) {
	case []string:
		req.Identifiers = append(req.Identifiers, ids...)
	case []any:
		for _, id := range ids {
			if s, ok := id.(string); ok && strings.TrimSpace(s) != "" {
				req.Identifiers = append(req.Identifiers, s)
			}
		}
	}
	if len(req.Identifiers) == 0 {
		req.Identifiers = req.Repository.Identifiers()
	}
	if err := req.Repository.Validate(); err != nil {
		return core.VcsCheckRequest{}, err
	}
	return req, nil
}

// VcsCheckWorker drains queued check requests into the host scheduler.
type VcsCheckWorker struct {
	dequeuer core.JobDequeuer
	target   core.VcsCheckScheduler
	logger   core.Logger
	backoff  time.Duration
}

func NewVcsCheckWorker(dequeuer core.JobDequeuer, target core.VcsCheckScheduler, logger core.Logger) *VcsCheckWorker {
	if logger == nil {
		logger = glog.Nop()
	}
	return &VcsCheckWorker{dequeuer: dequeuer, target: target, logger: logger, backoff: 30 * time.Second}
}

// ProcessOne handles a single delivery. Malformed jobs are dead-lettered and
// failed checks are requeued with a delay.
func (w *VcsCheckWorker) ProcessOne(ctx context.Context) error {
	if w == nil || w.dequeuer == nil || w.target == nil {
		return fmt.Errorf("gojob: vcs check worker is not configured")
	}
	delivery, err := w.dequeuer.Dequeue(ctx)
	if err != nil {
		return err
	}
	req, err := VcsCheckFromJob(delivery.Message())
	if err != nil {
		w.logger.Warn("dropping malformed vcs check job", "error", err)
		return delivery.Nack(ctx, core.JobNackOptions{DeadLetter: true, Reason: err.Error()})
	}
	matched, err := w.target.ScheduleVcsCheck(ctx, req)
	if err != nil {
		w.logger.Warn("vcs check failed", "repository", req.Repository.String(), "error", err)
		return delivery.Nack(ctx, core.JobNackOptions{Delay: w.backoff, Requeue: true, Reason: err.Error()})
	}
	if !matched {
		w.logger.Debug("no vcs root matched check request", "repository", req.Repository.String())
	}
	return delivery.Ack(ctx)
}

func stringParam(params map[string]any, key string) string {
	value, _ := params[key].(string)
	return strings.TrimSpace(value)
}

var _ core.VcsCheckScheduler = (*VcsCheckEnqueuer)(nil)
