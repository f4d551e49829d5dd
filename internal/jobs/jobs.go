// Package jobs schedules the periodic cleanup work: expired blacklist rows,
// expired reset tokens and audit rows past retention.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/iliyamo/guardian-auth/internal/logging"
)

// jobTimeout bounds a single run.
const jobTimeout = time.Minute

// Expirer deletes rows whose expiry is at or before now.
// *repository.BlacklistRepo and *repository.ResetTokenRepo implement it.
type Expirer interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// AuditPurger deletes audit rows created before cutoff.
type AuditPurger interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Schedules holds six-field cron expressions (seconds first).
type Schedules struct {
	BlacklistCleanup  string
	ResetTokenCleanup string
	AuditPurge        string
}

type Manager struct {
	cron      *cron.Cron
	blacklist Expirer
	resets    Expirer
	audit     AuditPurger
	retention time.Duration
	log       logging.Logger
	now       func() time.Time
}

func NewManager(blacklist, resets Expirer, audit AuditPurger, retention time.Duration, log logging.Logger) *Manager {
	if log == nil {
		log = logging.Discard()
	}
	return &Manager{
		cron:      cron.New(cron.WithSeconds()),
		blacklist: blacklist,
		resets:    resets,
		audit:     audit,
		retention: retention,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the manager's time source.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// Start registers every job and starts the scheduler. An empty schedule
// disables that job.
func (m *Manager) Start(s Schedules) error {
	jobs := []struct {
		name, spec string
		run        func(context.Context) (int64, error)
	}{
		{"blacklist_cleanup", s.BlacklistCleanup, m.CleanupBlacklist},
		{"reset_token_cleanup", s.ResetTokenCleanup, m.CleanupResetTokens},
		{"audit_purge", s.AuditPurge, m.PurgeAuditLogs},
	}
	for _, j := range jobs {
		if j.spec == "" {
			continue
		}
		name, run := j.name, j.run
		if _, err := m.cron.AddFunc(j.spec, func() { m.execute(name, run) }); err != nil {
			return fmt.Errorf("jobs: schedule %s %q: %w", name, j.spec, err)
		}
	}
	m.cron.Start()
	m.log.Infof("[cron] started %d job(s)", len(m.cron.Entries()))
	return nil
}

// Stop halts the scheduler and waits for running jobs.
func (m *Manager) Stop() {
	<-m.cron.Stop().Done()
	m.log.Infof("[cron] stopped")
}

func (m *Manager) execute(name string, run func(context.Context) (int64, error)) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	start := time.Now()
	n, err := run(ctx)
	if err != nil {
		m.log.Errorf("[cron] %s failed: %v", name, err)
		return
	}
	m.log.Infof("[cron] %s removed %d row(s) in %s", name, n, time.Since(start).Round(time.Millisecond))
}

// CleanupBlacklist deletes blacklist entries whose token has expired.
func (m *Manager) CleanupBlacklist(ctx context.Context) (int64, error) {
	return m.blacklist.DeleteExpired(ctx, m.now())
}

// CleanupResetTokens deletes reset tokens past their expiry.
func (m *Manager) CleanupResetTokens(ctx context.Context) (int64, error) {
	return m.resets.DeleteExpired(ctx, m.now())
}

// PurgeAuditLogs deletes audit rows older than the retention window. A
// non-positive retention keeps everything.
func (m *Manager) PurgeAuditLogs(ctx context.Context) (int64, error) {
	if m.retention <= 0 {
		return 0, nil
	}
	return m.audit.DeleteOlderThan(ctx, m.now().Add(-m.retention))
}
