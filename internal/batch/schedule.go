package batch

import (
	"context"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/kayz/sdxlprompt/internal/logger"
)

// normalizeCron prepends "0 " to standard 5-field cron expressions
// so they work with the 6-field (with seconds) parser.
func normalizeCron(schedule string) string {
	if len(strings.Fields(schedule)) == 5 {
		return "0 " + schedule
	}
	return schedule
}

// ParseSchedule validates a cron expression or descriptor such as @hourly.
func ParseSchedule(schedule string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	s, err := parser.Parse(normalizeCron(strings.TrimSpace(schedule)))
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Schedule runs the batch over dir on every tick until ctx is done. A run
// still in progress when the next tick fires makes that tick a no-op.
// onReport, when set, receives every finished run.
func (r *Runner) Schedule(ctx context.Context, schedule, dir string, onReport func(*Report, error)) error {
	sched, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}

	c := cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(sched, cron.FuncJob(func() {
		report, err := r.Run(ctx, dir)
		if err != nil {
			logger.Error("scheduled batch failed: %v", err)
		}
		if onReport != nil {
			onReport(report, err)
		}
	}))

	c.Start()
	logger.Info("batch scheduled (%s) over %s", schedule, dir)

	<-ctx.Done()
	stopCtx := c.Stop()
	<-stopCtx.Done()
	logger.Info("batch schedule stopped")
	return nil
}
