package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultPruneSchedule runs retention once a day at midnight UTC.
const DefaultPruneSchedule = "@daily"

// Pruner deletes audit entries older than the retention period.
type Pruner struct {
	repo      Repository
	retention time.Duration
	schedule  cron.Schedule
	spec      string
	logger    *slog.Logger
	now       func() time.Time
}

// NewPruner validates the schedule (standard five-field cron or a
// descriptor such as @daily) and returns a Pruner. retentionDays must be
// positive.
func NewPruner(repo Repository, retentionDays int, schedule string, logger *slog.Logger) (*Pruner, error) {
	if retentionDays <= 0 {
		return nil, fmt.Errorf("audit retention must be positive, got %d days", retentionDays)
	}
	if schedule == "" {
		schedule = DefaultPruneSchedule
	}
	parsed, err := cron.ParseStandard(schedule)
	if err != nil {
		return nil, fmt.Errorf("parsing audit prune schedule %q: %w", schedule, err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Pruner{
		repo:      repo,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		schedule:  parsed,
		spec:      schedule,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Next returns the next scheduled run after t.
func (p *Pruner) Next(t time.Time) time.Time {
	return p.schedule.Next(t)
}

// Prune deletes entries created before now minus the retention period.
func (p *Pruner) Prune(ctx context.Context, now time.Time) (int64, error) {
	cutoff := now.Add(-p.retention)
	n, err := p.repo.PurgeBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		p.logger.Info("audit logs pruned", "removed", n, "cutoff", cutoff.UTC().Format(time.RFC3339))
	}
	return n, nil
}

// Run schedules Prune on the cron schedule until ctx is cancelled. A run in
// progress is allowed to finish before Run returns.
func (p *Pruner) Run(ctx context.Context) {
	c := cron.New(cron.WithLocation(time.UTC))
	c.Schedule(p.schedule, cron.FuncJob(func() {
		if _, err := p.Prune(ctx, p.now()); err != nil && ctx.Err() == nil {
			p.logger.Error("audit prune failed", "error", err)
		}
	}))

	p.logger.Info("audit pruner started", "schedule", p.spec, "retention", p.retention.String())
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
}
