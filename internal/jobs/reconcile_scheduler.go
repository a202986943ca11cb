package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"emp-payments-backend/internal/services/reconciliation"

	"github.com/robfig/cron/v3"
)

const (
	defaultSchedule = "0 * * * *" // hourly
	jobTimeout      = 30 * time.Minute
)

type ReconcileConfig struct {
	Schedule string
	TimeZone string
}

// BulkReconciler is what the scheduled job drives.
type BulkReconciler interface {
	ReconcileRecent(ctx context.Context) (reconciliation.BulkResult, error)
}

// StartReconcileScheduler schedules the bulk reconcile and starts the cron
// runner. The returned cron can be stopped on shutdown.
func StartReconcileScheduler(cfg ReconcileConfig, svc BulkReconciler) (*cron.Cron, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = defaultSchedule
	}
	loc, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		log.Printf("[CRON] invalid timezone %q, falling back to UTC: %v", cfg.TimeZone, err)
		loc = time.UTC
	}

	c := cron.New(cron.WithLocation(loc), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := c.AddFunc(cfg.Schedule, func() { runBulkReconcile(svc, loc) }); err != nil {
		return nil, fmt.Errorf("unable to schedule bulk reconcile: %w", err)
	}

	c.Start()
	log.Printf("[CRON] bulk reconcile scheduled: %s (%s)", cfg.Schedule, loc)
	return c, nil
}

func runBulkReconcile(svc BulkReconciler, loc *time.Location) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	started := time.Now()
	log.Printf("[CRON] starting bulk reconcile at %s", started.In(loc).Format(time.RFC3339))
	res, err := svc.ReconcileRecent(ctx)
	if err != nil {
		log.Printf("[CRON] bulk reconcile failed: %v", err)
		return
	}
	log.Printf("[CRON] bulk reconcile done in %s: uploads=%d skipped=%d failed=%d rows updated=%d",
		time.Since(started).Round(time.Second), res.Uploads, res.Skipped, res.Failed, res.RowsUpdated)
}
