package session

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultRetention keeps sessions for 30 days of inactivity.
const DefaultRetention = 30 * 24 * time.Hour

// Cleanup periodically removes idle sessions on a cron schedule.
type Cleanup struct {
	store     *Store
	retention time.Duration
	schedule  string
	cron      *cron.Cron
	logger    zerolog.Logger
}

// NewCleanup creates a cleanup job. An empty schedule defaults to
// hourly; a zero retention defaults to DefaultRetention.
func NewCleanup(store *Store, retention time.Duration, schedule string, logger zerolog.Logger) *Cleanup {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if schedule == "" {
		schedule = "@hourly"
	}
	return &Cleanup{
		store:     store,
		retention: retention,
		schedule:  schedule,
		logger:    logger.With().Str("module", "session-cleanup").Logger(),
	}
}

// Start schedules the cleanup job.
func (c *Cleanup) Start() error {
	if c.cron != nil {
		return fmt.Errorf("cleanup is already running")
	}

	c.cron = cron.New()
	if _, err := c.cron.AddFunc(c.schedule, c.runOnce); err != nil {
		c.cron = nil
		return fmt.Errorf("invalid cleanup schedule %q: %w", c.schedule, err)
	}
	c.cron.Start()

	c.logger.Info().Str("schedule", c.schedule).Dur("retention", c.retention).
		Msg("Session cleanup started")
	return nil
}

// Stop cancels the scheduled job and waits for a running pass.
func (c *Cleanup) Stop() {
	if c.cron == nil {
		return
	}
	<-c.cron.Stop().Done()
	c.cron = nil
	c.logger.Info().Msg("Session cleanup stopped")
}

func (c *Cleanup) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	removed, err := c.store.DeleteIdleSessions(ctx, c.retention)
	if err != nil {
		c.logger.Error().Err(err).Msg("Session cleanup pass failed")
		return
	}
	if removed > 0 {
		c.logger.Info().Int("removed", removed).Msg("Idle sessions removed")
	}
}
