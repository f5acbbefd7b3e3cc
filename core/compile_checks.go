package core

import (
	glog "github.com/goliatone/go-logger/glog"
	"github.com/robfig/cron/v3"
)

var (
	_ WebhooksManager   = (*Service)(nil)
	_ RemoteHookActions = (*Service)(nil)
	_ MetricsRecorder   = NopMetricsRecorder{}
	_ cron.Schedule     = delayedSchedule{}
	_ cron.Logger       = CronLogger{}

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
