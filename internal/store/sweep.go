package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// RetentionSweeper periodically soft-deletes conversations whose updated_at has aged
// past retentionDays, per SPEC_FULL.md §6.2. It exercises robfig/cron/v3, the
// teacher's own scheduling dependency, repurposed here as the gateway's only
// background job.
type RetentionSweeper struct {
	store         *Store
	retentionDays int
	logger        *slog.Logger

	cron *cron.Cron
}

// NewRetentionSweeper builds a sweeper that runs on schedule (a standard 5-field cron
// expression, e.g. "0 3 * * *" for daily at 03:00) until Stop is called.
func NewRetentionSweeper(s *Store, retentionDays int, schedule string, logger *slog.Logger) (*RetentionSweeper, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rs := &RetentionSweeper{store: s, retentionDays: retentionDays, logger: logger, cron: cron.New()}
	if _, err := rs.cron.AddFunc(schedule, rs.runOnce); err != nil {
		return nil, err
	}
	return rs, nil
}

// Start begins the cron scheduler in the background.
func (rs *RetentionSweeper) Start() { rs.cron.Start() }

// Stop halts the scheduler, waiting for any in-flight run to finish.
func (rs *RetentionSweeper) Stop() { <-rs.cron.Stop().Done() }

func (rs *RetentionSweeper) runOnce() {
	if rs.retentionDays <= 0 {
		return
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -rs.retentionDays)
	affected, err := rs.store.SweepExpiredConversations(context.Background(), cutoff)
	if err != nil {
		rs.logger.Error("retention sweep failed", "error", err)
		return
	}
	rs.logger.Info("retention sweep completed", "conversations_deleted", affected, "cutoff", cutoff)
}
