package core

import (
	"context"
	"errors"
	"maps"
	"sync"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

type capturedCounter struct {
	name  string
	value int64
	tags  map[string]string
}

type capturedHistogram struct {
	name  string
	value float64
	tags  map[string]string
}

type captureMetricsRecorder struct {
	mu         sync.Mutex
	counters   []capturedCounter
	histograms []capturedHistogram
}

func (m *captureMetricsRecorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = append(m.counters, capturedCounter{name: name, value: value, tags: maps.Clone(tags)})
}

func (m *captureMetricsRecorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histograms = append(m.histograms, capturedHistogram{name: name, value: value, tags: maps.Clone(tags)})
}

type capturedLog struct {
	level  string
	msg    string
	fields map[string]any
}

type captureLogger struct {
	mu       *sync.Mutex
	records  *[]capturedLog
	defaults map[string]any
}

func newCaptureLogger() *captureLogger {
	records := []capturedLog{}
	return &captureLogger{mu: &sync.Mutex{}, records: &records, defaults: map[string]any{}}
}

func (l *captureLogger) WithFields(fields map[string]any) Logger {
	merged := cloneFields(l.defaults)
	for key, value := range fields {
		merged[key] = value
	}
	return &captureLogger{mu: l.mu, records: l.records, defaults: merged}
}

func (l *captureLogger) Trace(msg string, args ...any) { l.record("trace", msg, args...) }
func (l *captureLogger) Debug(msg string, args ...any) { l.record("debug", msg, args...) }
func (l *captureLogger) Info(msg string, args ...any)  { l.record("info", msg, args...) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args...) }
func (l *captureLogger) Error(msg string, args ...any) { l.record("error", msg, args...) }
func (l *captureLogger) Fatal(msg string, args ...any) { l.record("fatal", msg, args...) }

func (l *captureLogger) WithContext(context.Context) Logger {
	return &captureLogger{mu: l.mu, records: l.records, defaults: cloneFields(l.defaults)}
}

func (l *captureLogger) record(level string, msg string, args ...any) {
	fields := cloneFields(l.defaults)
	for index := 0; index+1 < len(args); index += 2 {
		key, ok := args[index].(string)
		if !ok {
			continue
		}
		fields[key] = args[index+1]
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.records = append(*l.records, capturedLog{level: level, msg: msg, fields: fields})
}

func (l *captureLogger) snapshot() []capturedLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]capturedLog, len(*l.records))
	copy(out, *l.records)
	return out
}

func TestServiceObservability_CreateHookSuccess(t *testing.T) {
	metrics := &captureMetricsRecorder{}
	logger := newCaptureLogger()
	fx, err := newTestFixture(Config{}, nil,
		WithMetricsRecorder(metrics),
		WithLoggerProvider(stubLoggerProvider{logger: logger}),
		WithLogger(logger),
	)
	if err != nil {
		t.Fatalf("fixture: %v", err)
	}

	if _, err := fx.svc.CreateHook(context.Background(), fx.request(testToken("t1", "repo"))); err != nil {
		t.Fatalf("create hook: %v", err)
	}

	if !hasCounter(metrics.counters, "commithooks.create_hook.total", "success") {
		t.Fatalf("expected commithooks.create_hook.total success counter")
	}
	if !hasHistogram(metrics.histograms, "commithooks.create_hook.duration_ms", "success") {
		t.Fatalf("expected commithooks.create_hook.duration_ms histogram")
	}
	for _, counter := range metrics.counters {
		if counter.name != "commithooks.create_hook.total" {
			continue
		}
		if counter.tags["repository"] != "github.com/acme/widgets" || counter.tags["outcome"] != string(CreateOutcomeCreated) {
			t.Fatalf("unexpected counter tags %#v", counter.tags)
		}
	}
	if !hasLog(logger.snapshot(), "info", "create_hook succeeded", "create_hook") {
		t.Fatalf("expected create_hook succeeded structured log")
	}
}

func TestServiceObservability_DeleteHookFailure(t *testing.T) {
	metrics := &captureMetricsRecorder{}
	logger := newCaptureLogger()
	fx, err := newTestFixture(Config{}, nil,
		WithMetricsRecorder(metrics),
		WithLoggerProvider(stubLoggerProvider{logger: logger}),
		WithLogger(logger),
	)
	if err != nil {
		t.Fatalf("fixture: %v", err)
	}

	req := fx.request(testToken("", "repo"))
	if _, err := fx.svc.DeleteHook(context.Background(), req); err == nil {
		t.Fatalf("expected delete without an access token to fail")
	}
	if !hasCounter(metrics.counters, "commithooks.delete_hook.total", "failure") {
		t.Fatalf("expected delete_hook failure counter")
	}
	if !hasLog(logger.snapshot(), "error", "delete_hook failed", "delete_hook") {
		t.Fatalf("expected delete_hook failure log")
	}
}

func TestServiceObservability_EnrichesStructuredErrorFields(t *testing.T) {
	logger := newCaptureLogger()
	svc, err := NewService(Config{},
		WithLoggerProvider(stubLoggerProvider{logger: logger}),
		WithLogger(logger),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	remote := NewRemoteError(RemoteInternalServerError, 502, "Bad Gateway", errors.New("bad gateway"))
	svc.observeOperation(
		context.Background(),
		time.Now().UTC().Add(-100*time.Millisecond),
		"reconcile_hooks",
		svc.mapError(remote),
		map[string]any{"repository": "github.com/acme/widgets"},
	)

	records := logger.snapshot()
	if len(records) == 0 {
		t.Fatalf("expected logs to be emitted")
	}
	last := records[len(records)-1]
	if last.fields["error_category"] != string(goerrors.CategoryExternal) {
		t.Fatalf("expected external error category, got %#v", last.fields["error_category"])
	}
	if last.fields["error_text_code"] != HookErrorRemoteUnavailable {
		t.Fatalf("expected error_text_code %q, got %#v", HookErrorRemoteUnavailable, last.fields["error_text_code"])
	}
	if last.fields["repository"] != "github.com/acme/widgets" {
		t.Fatalf("expected repository field, got %#v", last.fields["repository"])
	}
}

func TestFlattenFields_SortsKeys(t *testing.T) {
	args := flattenFields(map[string]any{"b": 2, "a": 1, "c": 3})
	if len(args) != 6 || args[0] != "a" || args[2] != "b" || args[4] != "c" {
		t.Fatalf("expected sorted key/value pairs, got %v", args)
	}
}

func hasCounter(items []capturedCounter, name string, status string) bool {
	for _, item := range items {
		if item.name == name && item.tags["status"] == status {
			return true
		}
	}
	return false
}

func hasHistogram(items []capturedHistogram, name string, status string) bool {
	for _, item := range items {
		if item.name == name && item.tags["status"] == status {
			return true
		}
	}
	return false
}

func hasLog(items []capturedLog, level string, message string, eventType string) bool {
	for _, item := range items {
		if item.level != level || item.msg != message {
			continue
		}
		if item.fields["event_type"] == eventType {
			return true
		}
	}
	return false
}
