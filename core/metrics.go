package core

import (
	"context"
	"fmt"
	"strings"
)

const metricPrefix = "commithooks"

// NopMetricsRecorder drops every sample.
type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

// operationTagKeys are the operation fields promoted to metric tags. Anything
// else (public keys, hook urls, error text) would explode cardinality.
var operationTagKeys = []string{"server", "repository", "outcome"}

func operationMetric(operation, suffix string) string {
	return metricPrefix + "." + operation + "." + suffix
}

// operationTags tags a hook operation sample. Server and repository are
// lower-cased so one repository never splits into several series.
func operationTags(operation, status string, fields map[string]any) map[string]string {
	tags := map[string]string{
		"operation": operation,
		"status":    status,
	}
	for _, key := range operationTagKeys {
		raw, ok := fields[key]
		if !ok || raw == nil {
			continue
		}
		value := strings.TrimSpace(fmt.Sprint(raw))
		if value == "" {
			continue
		}
		if key != "outcome" {
			value = strings.ToLower(value)
		}
		tags[key] = value
	}
	return tags
}
