package core

import (
	"context"
	"maps"
	"sort"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

func (s *Service) observeOperation(
	ctx context.Context,
	startedAt time.Time,
	operation string,
	err error,
	fields map[string]any,
) {
	if s == nil {
		return
	}
	operation = normalizeOperation(operation)
	if operation == "" {
		operation = "unknown"
	}
	status := "success"
	if err != nil {
		status = "failure"
	}

	contextFields := cloneFields(fields)
	contextFields["event_type"] = operation
	contextFields["status"] = status
	contextFields["duration_ms"] = time.Since(startedAt).Milliseconds()
	if err != nil {
		contextFields["error"] = err.Error()
		var rich *goerrors.Error
		if goerrors.As(err, &rich) && rich != nil {
			contextFields["error_category"] = string(rich.Category)
			if rich.TextCode != "" {
				contextFields["error_text_code"] = rich.TextCode
			}
		}
	}

	tags := operationTags(operation, status, contextFields)
	s.recordCounter(ctx, operationMetric(operation, "total"), 1, tags)
	s.recordHistogram(ctx, operationMetric(operation, "duration_ms"), float64(time.Since(startedAt).Milliseconds()), tags)

	if err != nil {
		s.logError(ctx, operation+" failed", contextFields)
		return
	}
	s.logInfo(ctx, operation+" succeeded", contextFields)
}

func (s *Service) logInfo(ctx context.Context, message string, fields map[string]any) {
	if s == nil {
		return
	}
	logWithLevel(ctx, s.logger, "info", message, fields)
}

func (s *Service) logWarn(ctx context.Context, message string, fields map[string]any) {
	if s == nil {
		return
	}
	logWithLevel(ctx, s.logger, "warn", message, fields)
}

func (s *Service) logError(ctx context.Context, message string, fields map[string]any) {
	if s == nil {
		return
	}
	logWithLevel(ctx, s.logger, "error", message, fields)
}

func logWithLevel(ctx context.Context, logger Logger, level string, message string, fields map[string]any) {
	if logger == nil {
		return
	}
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	if fieldsLogger, ok := logger.(FieldsLogger); ok {
		logger = fieldsLogger.WithFields(cloneFields(fields))
	}
	args := flattenFields(fields)
	switch strings.ToLower(strings.TrimSpace(level)) {
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

func (s *Service) recordCounter(ctx context.Context, name string, value int64, tags map[string]string) {
	if s == nil || s.metricsRecorder == nil {
		return
	}
	s.metricsRecorder.IncCounter(ctx, strings.TrimSpace(name), value, maps.Clone(tags))
}

func (s *Service) recordHistogram(ctx context.Context, name string, value float64, tags map[string]string) {
	if s == nil || s.metricsRecorder == nil {
		return
	}
	s.metricsRecorder.ObserveHistogram(ctx, strings.TrimSpace(name), value, maps.Clone(tags))
}

func cloneFields(fields map[string]any) map[string]any {
	if len(fields) == 0 {
		return map[string]any{}
	}
	copied := make(map[string]any, len(fields))
	for key, value := range fields {
		copied[key] = value
	}
	return copied
}

func flattenFields(fields map[string]any) []any {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	args := make([]any, 0, len(keys)*2)
	for _, key := range keys {
		args = append(args, key, fields[key])
	}
	return args
}

func normalizeOperation(operation string) string {
	operation = strings.TrimSpace(strings.ToLower(operation))
	operation = strings.ReplaceAll(operation, " ", "_")
	operation = strings.ReplaceAll(operation, "-", "_")
	return operation
}
