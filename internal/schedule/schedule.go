// Package schedule runs a job on a cron schedule until its context ends.
package schedule

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	appLog "inkpanel/internal/log"
)

// cronLogger bridges cron's logging into the application log.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...any) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...any) {
	appLog.Error("cron: "+msg, err, kv...)
}

// Run calls job on every tick of spec, a standard 5-field expression or a
// descriptor such as "@hourly". A tick is skipped while the previous run is
// still going. Run blocks until ctx is done and any running job returned.
func Run(ctx context.Context, spec string, job func(context.Context)) error {
	var l cronLogger
	c := cron.New(
		cron.WithLogger(l),
		cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
	)
	if _, err := c.AddFunc(spec, func() { job(ctx) }); err != nil {
		return fmt.Errorf("schedule: %q: %w", spec, err)
	}

	appLog.Info("schedule started", "spec", spec)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	appLog.Info("schedule stopped", "spec", spec)
	return nil
}
