package control

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/vietddude/harvester/internal/core/config"
)

// schedule registers one job per configured query import.
func (h *Harvester) schedule(ctx context.Context) (gocron.Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	for _, sc := range h.cfg.Schedule {
		var def gocron.JobDefinition
		if sc.Every > 0 {
			def = gocron.DurationJob(sc.Every)
		} else {
			def = gocron.CronJob(sc.Cron, false)
		}

		job, err := s.NewJob(
			def,
			gocron.NewTask(func() { h.runScheduled(ctx, sc) }),
			gocron.WithName(fmt.Sprintf("%s: %s", sc.Source, sc.Query)),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			_ = s.Shutdown()
			return nil, fmt.Errorf("failed to schedule %s query %q: %w", sc.Source, sc.Query, err)
		}

		if next, err := job.NextRun(); err == nil {
			h.log.Info("Job Scheduled",
				"job_name", job.Name(),
				"job_id", job.ID(),
				"next_run", next.Format(time.RFC3339),
			)
		}
	}

	s.Start()
	return s, nil
}

// runScheduled runs one query import. With Redis configured only one
// harvester instance runs a given job at a time.
func (h *Harvester) runScheduled(ctx context.Context, sc config.ScheduleConfig) {
	log := h.log.With("source", sc.Source, "query", sc.Query)

	imp, err := h.Importer(sc.Source)
	if err != nil {
		log.Error("Scheduled import skipped", "error", err)
		return
	}

	if h.redisClient != nil {
		lock := "schedule:" + sc.Source + ":" + sc.Query
		ttl := sc.Every
		if ttl <= 0 {
			ttl = time.Hour
		}
		ok, err := h.redisClient.AcquireLock(ctx, lock, ttl)
		if err != nil {
			log.Warn("Failed to acquire schedule lock", "error", err)
			return
		}
		if !ok {
			log.Debug("Scheduled import running elsewhere")
			return
		}
		defer func() {
			if err := h.redisClient.ReleaseLock(context.WithoutCancel(ctx), lock); err != nil {
				log.Warn("Failed to release schedule lock", "error", err)
			}
		}()
	}

	report, err := imp.ImportQuery(ctx, sc.Query, sc.PageSize, sc.Limit)
	if err != nil {
		log.Error("Scheduled import failed", "error", err, "imported", report.Imported)
		return
	}
	log.Info("Scheduled import completed", "run", report.RunID, "imported", report.Imported, "failed", report.Failed)
}
