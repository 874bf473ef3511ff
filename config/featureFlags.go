package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// MetricsPeriodDays is the default trailing window for dashboard KPIs.
//
// Set via env:
// - METRICS_PERIOD_DAYS (default 90)
func MetricsPeriodDays() int {
	return intFromEnv("METRICS_PERIOD_DAYS", 90)
}

// AlertLookaheadDays controls how far ahead the upcoming_payment rule looks.
//
// Set via env:
// - ALERT_LOOKAHEAD_DAYS (default 7)
func AlertLookaheadDays() int {
	return intFromEnv("ALERT_LOOKAHEAD_DAYS", 7)
}

// PredictionRetentionDays controls how long superseded, never-reconciled
// prediction rows are kept before the maintenance job purges them.
// Reconciled rows are never purged (accuracy audit trail).
//
// Set via env:
// - PREDICTION_RETENTION_DAYS (default 365)
func PredictionRetentionDays() int {
	return intFromEnv("PREDICTION_RETENTION_DAYS", 365)
}

// DashboardCacheTTL is how long cached dashboard reads live in Redis.
//
// Set via env:
// - DASHBOARD_CACHE_TTL_SECONDS (default 300)
func DashboardCacheTTL() time.Duration {
	return time.Duration(intFromEnv("DASHBOARD_CACHE_TTL_SECONDS", 300)) * time.Second
}

// YearOverYearEnabled toggles comparison_value computation on time series.
//
// Set via env:
// - METRICS_YOY_ENABLED (default true)
func YearOverYearEnabled() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("METRICS_YOY_ENABLED")))
	if v == "" {
		return true
	}
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// ModelDeployedTopic is the Pub/Sub topic deployment events are announced
// on. Empty disables publishing.
//
// Set via env:
// - MODEL_DEPLOYED_TOPIC
func ModelDeployedTopic() string {
	return strings.TrimSpace(os.Getenv("MODEL_DEPLOYED_TOPIC"))
}

// JobInterval reads a per-job schedule interval with a default.
//
// Set via env, e.g.:
// - METRICS_RECOMPUTE_INTERVAL_SECONDS
// - ALERT_EVALUATE_INTERVAL_SECONDS
func JobInterval(envKey string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(envKey))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return time.Duration(n) * time.Second
}
