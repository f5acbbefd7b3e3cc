package gojob

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-commit-hooks/core"
)

const (
	JobIDVcsCheck    = "commithooks.vcs.check"
	JobIDHealthCheck = "commithooks.health.check"
	JobIDFlush       = "commithooks.flush"
)

// RetryPolicy bounds how often a failed hook job goes back on the queue.
type RetryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// DefaultRetryPolicy gives a check request a handful of tries over a few
// minutes before it lands in the dead letter queue.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, MaxDelay: 10 * time.Minute, DeadLetterOnMax: true}
}

// Bound applies the policy to a nack issued on the given attempt.
func (p RetryPolicy) Bound(opts core.JobNackOptions, attempt int) core.JobNackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	out.Delay = max(out.Delay, 0)
	if p.MaxDelay > 0 {
		out.Delay = min(out.Delay, p.MaxDelay)
	}
	exhausted := p.MaxAttempts > 0 && attempt >= p.MaxAttempts
	// a nack either requeues or dead-letters, it never drops
	switch {
	case out.DeadLetter:
		out.Requeue = false
	case exhausted && p.DeadLetterOnMax:
		out.Requeue = false
		out.DeadLetter = true
	default:
		out.Requeue = true
	}
	return out
}

// ToExecutionMessage converts a hook job into its go-job form.
func ToExecutionMessage(msg *core.JobExecutionMessage) *job.ExecutionMessage {
	if msg == nil {
		return nil
	}
	return &job.ExecutionMessage{
		JobID:          strings.TrimSpace(msg.JobID),
		ScriptPath:     strings.TrimSpace(msg.ScriptPath),
		Parameters:     cloneParams(msg.Parameters),
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
		DedupPolicy:    job.DeduplicationPolicy(strings.TrimSpace(msg.DedupPolicy)),
	}
}

// FromExecutionMessage is the inverse of ToExecutionMessage.
func FromExecutionMessage(msg *job.ExecutionMessage) *core.JobExecutionMessage {
	if msg == nil {
		return nil
	}
	return &core.JobExecutionMessage{
		JobID:          strings.TrimSpace(msg.JobID),
		ScriptPath:     strings.TrimSpace(msg.ScriptPath),
		Parameters:     cloneParams(msg.Parameters),
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
		DedupPolicy:    strings.TrimSpace(string(msg.DedupPolicy)),
	}
}

// EnqueuerAdapter puts hook jobs on a go-job queue.
type EnqueuerAdapter struct {
	enqueuer queue.Enqueuer
}

func NewEnqueuerAdapter(enqueuer queue.Enqueuer) *EnqueuerAdapter {
	return &EnqueuerAdapter{enqueuer: enqueuer}
}

func (a *EnqueuerAdapter) Enqueue(ctx context.Context, msg *core.JobExecutionMessage) error {
	if a == nil || a.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	if msg == nil || strings.TrimSpace(msg.JobID) == "" {
		return fmt.Errorf("gojob: job id is required")
	}
	return a.enqueuer.Enqueue(ctx, ToExecutionMessage(msg))
}

// DeliveryAdapter exposes a go-job delivery as a core.JobDelivery. Nacks go
// through the retry policy.
type DeliveryAdapter struct {
	delivery queue.Delivery
	policy   RetryPolicy
}

func NewDeliveryAdapter(delivery queue.Delivery, policy RetryPolicy) *DeliveryAdapter {
	return &DeliveryAdapter{delivery: delivery, policy: policy}
}

func (d *DeliveryAdapter) Message() *core.JobExecutionMessage {
	if d == nil || d.delivery == nil {
		return nil
	}
	return FromExecutionMessage(d.delivery.Message())
}

func (d *DeliveryAdapter) Ack(ctx context.Context) error {
	if d == nil || d.delivery == nil {
		return fmt.Errorf("gojob: delivery is not configured")
	}
	return d.delivery.Ack(ctx)
}

func (d *DeliveryAdapter) Nack(ctx context.Context, opts core.JobNackOptions) error {
	return d.NackForAttempt(ctx, opts, 0)
}

func (d *DeliveryAdapter) NackForAttempt(ctx context.Context, opts core.JobNackOptions, attempt int) error {
	if d == nil || d.delivery == nil {
		return fmt.Errorf("gojob: delivery is not configured")
	}
	bounded := d.policy.Bound(opts, attempt)
	return d.delivery.Nack(ctx, queue.NackOptions{
		Delay:      bounded.Delay,
		Requeue:    bounded.Requeue,
		DeadLetter: bounded.DeadLetter,
		Reason:     bounded.Reason,
	})
}

// DequeuerAdapter feeds go-job deliveries to VcsCheckWorker.
type DequeuerAdapter struct {
	dequeuer queue.Dequeuer
	policy   RetryPolicy
}

func NewDequeuerAdapter(dequeuer queue.Dequeuer, policy RetryPolicy) *DequeuerAdapter {
	return &DequeuerAdapter{dequeuer: dequeuer, policy: policy}
}

func (a *DequeuerAdapter) Dequeue(ctx context.Context) (core.JobDelivery, error) {
	if a == nil || a.dequeuer == nil {
		return nil, fmt.Errorf("gojob: dequeuer is not configured")
	}
	delivery, err := a.dequeuer.Dequeue(ctx)
	if err != nil {
		return nil, err
	}
	return NewDeliveryAdapter(delivery, a.policy), nil
}

// JobMetricsHook is a go-job worker hook that records hook job outcomes as
// commithooks.job.<outcome>.total counters and commithooks.job.duration_ms,
// tagged with the job id. Jobs outside the commithooks namespace are ignored.
type JobMetricsHook struct {
	metrics core.MetricsRecorder
	logger  core.Logger
}

func NewJobMetricsHook(metrics core.MetricsRecorder, logger core.Logger) *JobMetricsHook {
	if metrics == nil {
		metrics = core.NopMetricsRecorder{}
	}
	return &JobMetricsHook{metrics: metrics, logger: glog.Ensure(logger)}
}

func (h *JobMetricsHook) OnStart(ctx context.Context, event worker.Event) {
	h.record(ctx, "started", event)
}

func (h *JobMetricsHook) OnSuccess(ctx context.Context, event worker.Event) {
	h.record(ctx, "succeeded", event)
}

func (h *JobMetricsHook) OnFailure(ctx context.Context, event worker.Event) {
	if id, ok := hookJobID(event); ok {
		h.logger.WithContext(ctx).Error("hook job failed", "job_id", id, "attempt", event.Attempt, "error", errText(event.Err))
	}
	h.record(ctx, "failed", event)
}

func (h *JobMetricsHook) OnRetry(ctx context.Context, event worker.Event) {
	if id, ok := hookJobID(event); ok {
		h.logger.WithContext(ctx).Warn("hook job retry scheduled",
			"job_id", id, "attempt", event.Attempt, "delay", event.Delay.String(), "error", errText(event.Err))
	}
	h.record(ctx, "retried", event)
}

func (h *JobMetricsHook) record(ctx context.Context, outcome string, event worker.Event) {
	if h == nil {
		return
	}
	id, ok := hookJobID(event)
	if !ok {
		return
	}
	tags := map[string]string{"job_id": id}
	h.metrics.IncCounter(ctx, "commithooks.job."+outcome+".total", 1, tags)
	if outcome == "succeeded" || outcome == "failed" {
		h.metrics.ObserveHistogram(ctx, "commithooks.job.duration_ms", float64(event.Duration.Milliseconds()), tags)
	}
}

func hookJobID(event worker.Event) (string, bool) {
	msg := event.Message
	if msg == nil && event.Delivery != nil {
		msg = event.Delivery.Message()
	}
	if msg == nil {
		return "", false
	}
	id := strings.TrimSpace(msg.JobID)
	return id, strings.HasPrefix(id, "commithooks.")
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func cloneParams(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	return maps.Clone(in)
}

var (
	_ core.JobEnqueuer = (*EnqueuerAdapter)(nil)
	_ core.JobDelivery = (*DeliveryAdapter)(nil)
	_ core.JobDequeuer = (*DequeuerAdapter)(nil)
	_ worker.Hook      = (*JobMetricsHook)(nil)
)
