// Package jobs runs the autohost's periodic housekeeping.
package jobs

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	PruneFloodSpec = "@hourly"
	SweepBansSpec  = "5 * * * *"
)

// Maintainer is the part of the orchestrator the jobs poke. Both calls only
// post a message to its loop.
type Maintainer interface {
	PruneFlood()
	SweepBans()
}

// Register adds the housekeeping jobs to c.
func Register(c *cron.Cron, m Maintainer, logger *zap.Logger) error {
	if _, err := c.AddFunc(PruneFloodSpec, func() {
		logger.Debug("job: prune flood windows")
		m.PruneFlood()
	}); err != nil {
		return fmt.Errorf("schedule flood prune: %w", err)
	}
	if _, err := c.AddFunc(SweepBansSpec, func() {
		logger.Debug("job: sweep expired bans")
		m.SweepBans()
	}); err != nil {
		return fmt.Errorf("schedule ban sweep: %w", err)
	}
	return nil
}

// Start runs the jobs until ctx is done.
func Start(ctx context.Context, m Maintainer, logger *zap.Logger) (*cron.Cron, error) {
	logger = logger.Named("jobs")
	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger)))
	if err := Register(c, m, logger); err != nil {
		return nil, err
	}
	c.Start()
	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
		logger.Info("jobs stopped")
	}()
	return c, nil
}
