package gologger

import (
	"context"
	"errors"
	"testing"

	glog "github.com/goliatone/go-logger/glog"
)

func TestResolveDeterministicFallback(t *testing.T) {
	loggerOnly := &capturingLogger{id: "logger"}
	providerLogger := &capturingLogger{id: "provider"}
	provider := &capturingProvider{logger: providerLogger}

	var resolvedProvider glog.LoggerProvider
	_, resolved := Resolve("commithooks", provider, loggerOnly)
	got := resolved.(*capturingLogger)
	if got.id != "provider" {
		t.Fatalf("expected provider logger precedence, got %q", got.id)
	}

	resolvedProvider, resolved = Resolve("commithooks", nil, loggerOnly)
	got = resolved.(*capturingLogger)
	if got.id != "logger" {
		t.Fatalf("expected direct logger when provider is nil, got %q", got.id)
	}
	if resolvedProvider == nil {
		t.Fatalf("expected provider wrapper from logger")
	}

	_, resolved = Resolve("commithooks", nil, nil)
	if resolved == nil {
		t.Fatalf("expected nop logger fallback")
	}
}

func TestGoJobBridgeCompatibility(t *testing.T) {
	providerLogger := &capturingLogger{id: "provider"}
	provider := &capturingProvider{logger: providerLogger}

	_, _, jobProvider, jobLogger := ResolveForJob("commithooks", provider, nil)
	if jobProvider == nil {
		t.Fatalf("expected go-job provider bridge")
	}
	if jobLogger == nil {
		t.Fatalf("expected go-job logger bridge")
	}

	bridged := jobProvider.GetLogger("commithooks")
	bridged.Info("hello", "k", "v")

	captured := providerLogger.lastInfo
	if captured.msg != "hello" {
		t.Fatalf("expected bridged message, got %q", captured.msg)
	}
	if captured.args[0] != "k" || captured.args[1] != "v" {
		t.Fatalf("expected bridged args, got %#v", captured.args)
	}
}

func TestToCronLoggerRoutesLevels(t *testing.T) {
	logger := &capturingLogger{id: "cron"}
	cronLogger := ToCronLogger(logger)

	cronLogger.Info("wake", "now", 1)
	if logger.lastInfo.msg != "" {
		t.Fatalf("expected cron info to stay below info level, got %q", logger.lastInfo.msg)
	}
	cronLogger.Error(errors.New("panic"), "job failed")
	if logger.errors != 1 {
		t.Fatalf("expected cron error to reach error level, got %d", logger.errors)
	}

	ToCronLogger(nil).Info("no logger")
}

var (
	_ glog.Logger         = (*capturingLogger)(nil)
	_ glog.LoggerProvider = (*capturingProvider)(nil)
)

type capturingProvider struct {
	logger *capturingLogger
}

func (p *capturingProvider) GetLogger(string) glog.Logger {
	if p == nil || p.logger == nil {
		return glog.Nop()
	}
	return p.logger
}

type infoCall struct {
	msg  string
	args []any
}

type capturingLogger struct {
	id       string
	lastInfo infoCall
	errors   int
}

func (l *capturingLogger) Trace(string, ...any) {}
func (l *capturingLogger) Debug(string, ...any) {}
func (l *capturingLogger) Warn(string, ...any)  {}
func (l *capturingLogger) Fatal(string, ...any) {}

func (l *capturingLogger) Error(string, ...any) { l.errors++ }

func (l *capturingLogger) Info(msg string, args ...any) {
	l.lastInfo = infoCall{
		msg:  msg,
		args: append([]any(nil), args...),
	}
}

func (l *capturingLogger) WithContext(context.Context) glog.Logger {
	return l
}
