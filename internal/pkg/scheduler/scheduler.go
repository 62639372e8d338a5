// Package scheduler runs periodic maintenance: plugin log retention and
// job queue gauges.
package scheduler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/robfig/cron/v3"
)

const (
	PruneSchedule  = "@daily"
	GaugesSchedule = "@every 1m"
)

// LogPruner deletes plugin log rows older than cutoff.
type LogPruner interface {
	PruneOlderThan(cutoff time.Time) (int64, error)
}

// GaugeRefresher updates queue size gauges.
type GaugeRefresher interface {
	RefreshGauges(ctx context.Context) error
}

type Scheduler struct {
	cron      *cron.Cron
	logs      LogPruner
	gauges    GaugeRefresher
	retention time.Duration
	now       func() time.Time
}

// New returns a scheduler keeping retentionDays of plugin logs. gauges may
// be nil when no queue runs.
func New(logs LogPruner, gauges GaugeRefresher, retentionDays int) *Scheduler {
	if retentionDays < 1 {
		retentionDays = 1
	}
	return &Scheduler{
		cron:      cron.New(),
		logs:      logs,
		gauges:    gauges,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		now:       time.Now,
	}
}

// Start registers the maintenance jobs and starts the cron loop.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(PruneSchedule, func() { _, _ = s.PruneLogs() }); err != nil {
		return err
	}
	if s.gauges != nil {
		if _, err := s.cron.AddFunc(GaugesSchedule, s.RefreshGauges); err != nil {
			return err
		}
	}
	s.cron.Start()
	log.Infof("[Scheduler] Started with %d jobs, plugin log retention %s", len(s.cron.Entries()), s.retention)
	return nil
}

// Stop halts the cron loop and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	log.Info("[Scheduler] Stopped")
}

// PruneLogs removes plugin log rows past the retention window.
func (s *Scheduler) PruneLogs() (int64, error) {
	cutoff := s.now().Add(-s.retention)
	n, err := s.logs.PruneOlderThan(cutoff)
	if err != nil {
		log.Errorf("[Scheduler] Plugin log prune failed: %v", err)
		return 0, err
	}
	if n > 0 {
		log.Infof("[Scheduler] Pruned %d plugin log rows older than %s", n, cutoff.Format(time.RFC3339))
	}
	return n, nil
}

func (s *Scheduler) RefreshGauges() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.gauges.RefreshGauges(ctx); err != nil {
		log.Warnf("[Scheduler] Queue gauge refresh failed: %v", err)
	}
}
