package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"bitbucket.org/mmdatafocus/finsight_backend/config"
	"bitbucket.org/mmdatafocus/finsight_backend/workflow"
)

// metrics-recompute runs one dashboard recompute for an explicit window and
// exits. Useful after a backfill sync, when waiting for the next scheduled
// tick would leave the dashboard stale.
func main() {
	endFlag := flag.String("end", "", "Window end as YYYY-MM-DD (default: now)")
	days := flag.Int("days", 0, "Window length in days (default: METRICS_PERIOD_DAYS)")
	flag.Parse()

	end := time.Now().UTC()
	if *endFlag != "" {
		t, err := time.Parse("2006-01-02", *endFlag)
		if err != nil {
			fmt.Fprintln(os.Stderr, "--end must be YYYY-MM-DD")
			os.Exit(1)
		}
		end = t
	}
	window := *days
	if window <= 0 {
		window = config.MetricsPeriodDays()
	}
	start := end.AddDate(0, 0, -window)

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := config.GetLogger()

	if err := workflow.RecomputeMetrics(context.Background(), db, logger, start, end); err != nil {
		fmt.Fprintln(os.Stderr, "recompute failed:", err)
		os.Exit(1)
	}
	fmt.Printf("recompute complete for %s .. %s\n", start.Format("2006-01-02"), end.Format("2006-01-02"))
}
