package app

import (
	"github.com/NeoboundAI/Skiddly-sub000/internal/scheduler"
)

// Job names, shared with the admin API.
const (
	JobCartScan   = "cart-scan"
	JobQueueDrain = "queue-drain"
	JobStuckSweep = "stuck-sweep"
)

// RegisterJobs wires the recovery pipeline's background jobs onto a scheduler.
func RegisterJobs(s *scheduler.Scheduler, c *Container) error {
	services := c.Services()

	if err := s.Register(JobCartScan, c.Config.Scanner.Interval,
		services.Scanner.Scan, scheduler.Options{RunOnStart: true}); err != nil {
		return err
	}
	if err := s.Register(JobQueueDrain, c.Config.Processor.Interval,
		services.Processor.ProcessBatch, scheduler.Options{}); err != nil {
		return err
	}
	if err := s.Register(JobStuckSweep, c.Config.Processor.StuckSweepInterval,
		services.Processor.SweepStuck, scheduler.Options{}); err != nil {
		return err
	}
	return nil
}
