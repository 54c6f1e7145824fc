// Package clockcheck periodically samples the system clock discipline and
// records whether the display clock can be trusted.
package clockcheck

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"

	"onairsync/internal/command"
	"onairsync/internal/dispatch"
	"onairsync/internal/logger"
)

// TimeService reports the synchronization status of the local clock.
// known is false when the offset could not be estimated.
type TimeService interface {
	Status() (synced bool, offset time.Duration, known bool, err error)
}

// Dispatcher applies internal commands.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd command.Command) (dispatch.Result, error)
}

// Checker runs the health check on a gocron duration job.
type Checker struct {
	svc      TimeService
	disp     Dispatcher
	interval time.Duration
	log      *logger.Log
}

// New creates a checker sampling svc every interval.
func New(svc TimeService, disp Dispatcher, interval time.Duration, log *logger.Log) *Checker {
	return &Checker{svc: svc, disp: disp, interval: interval, log: log.Module("clock")}
}

// Run schedules the check, first run immediately, and blocks until ctx is done.
func (c *Checker) Run(ctx context.Context) error {
	s, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	_, err = s.NewJob(
		gocron.DurationJob(c.interval),
		gocron.NewTask(func() { c.Check(ctx) }),
		gocron.WithName("clock-check"),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("failed to create clock check job: %w", err)
	}

	s.Start()
	c.log.With(logger.Fields{"interval": c.interval.String()}).Info("clock check scheduled")
	<-ctx.Done()
	return s.Shutdown()
}

// Check samples the time service once and records the result. A failing
// time service counts as unsynchronized.
func (c *Checker) Check(ctx context.Context) {
	synced, offset, known, err := c.svc.Status()
	if err != nil {
		c.log.With(logger.Fields{"error": err.Error()}).Warn("time service unavailable")
		synced, known = false, false
	}

	verb := command.VerbUnsynced
	if synced {
		verb = command.VerbSynced
	}
	value := ""
	if known {
		value = offset.String()
	}
	cmd := command.Internal(command.NsClock, 0, verb, value, known)
	if _, err := c.disp.Dispatch(ctx, cmd); err != nil {
		c.log.With(logger.Fields{"error": err.Error()}).Error("record clock health")
		return
	}
	fields := logger.Fields{"synchronized": synced}
	if known {
		fields["offset"] = offset.String()
	}
	c.log.With(fields).Debug("clock checked")
}
