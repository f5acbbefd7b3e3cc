package gologger

import (
	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/robfig/cron/v3"

	"github.com/goliatone/go-commit-hooks/core"
)

// DefaultName is the logger name used when hosts do not pick one.
const DefaultName = "commithooks"

// Resolve uses deterministic precedence provider > logger > nop.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	if name == "" {
		name = DefaultName
	}
	return glog.Resolve(name, provider, logger)
}

// ToJobProvider maps a glog provider to the go-job logger provider contract.
func ToJobProvider(provider glog.LoggerProvider) job.LoggerProvider {
	if provider == nil {
		return nil
	}
	return job.GoLoggerProvider(provider)
}

// ToJobLogger maps a glog logger to the go-job logger contract.
func ToJobLogger(logger glog.Logger) job.Logger {
	if logger == nil {
		return nil
	}
	return job.GoLogger(logger)
}

// ResolveForJob resolves glog logger/provider then returns equivalent go-job adapters.
func ResolveForJob(
	name string,
	provider glog.LoggerProvider,
	logger glog.Logger,
) (glog.LoggerProvider, glog.Logger, job.LoggerProvider, job.Logger) {
	resolvedProvider, resolvedLogger := Resolve(name, provider, logger)
	return resolvedProvider, resolvedLogger, ToJobProvider(resolvedProvider), ToJobLogger(resolvedLogger)
}

// ToCronLogger maps a glog logger to the cron logger contract used by the
// health check scheduler. Routine cron chatter is logged at debug.
func ToCronLogger(logger glog.Logger) cron.Logger {
	return core.NewCronLogger(glog.Ensure(logger))
}
