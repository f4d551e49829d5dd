package jobs

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeExpirer struct {
	calls []time.Time
	n     int64
	err   error
}

func (f *fakeExpirer) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	f.calls = append(f.calls, now)
	return f.n, f.err
}

type fakePurger struct {
	cutoffs []time.Time
}

func (f *fakePurger) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, cutoff)
	return 3, nil
}

var fixedNow = time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC)

func newTestManager(retention time.Duration) (*Manager, *fakeExpirer, *fakeExpirer, *fakePurger) {
	bl, rt, au := &fakeExpirer{n: 2}, &fakeExpirer{n: 1}, &fakePurger{}
	m := NewManager(bl, rt, au, retention, nil)
	m.SetClock(func() time.Time { return fixedNow })
	return m, bl, rt, au
}

func TestCleanupUsesCurrentTime(t *testing.T) {
	m, bl, rt, _ := newTestManager(0)
	ctx := context.Background()

	if n, err := m.CleanupBlacklist(ctx); err != nil || n != 2 {
		t.Fatalf("blacklist cleanup = %d, %v", n, err)
	}
	if n, err := m.CleanupResetTokens(ctx); err != nil || n != 1 {
		t.Fatalf("reset cleanup = %d, %v", n, err)
	}
	if len(bl.calls) != 1 || !bl.calls[0].Equal(fixedNow) {
		t.Fatalf("blacklist called with %v", bl.calls)
	}
	if len(rt.calls) != 1 || !rt.calls[0].Equal(fixedNow) {
		t.Fatalf("reset tokens called with %v", rt.calls)
	}
}

func TestPurgeAuditLogsAppliesRetention(t *testing.T) {
	m, _, _, au := newTestManager(90 * 24 * time.Hour)
	n, err := m.PurgeAuditLogs(context.Background())
	if err != nil || n != 3 {
		t.Fatalf("purge = %d, %v", n, err)
	}
	want := fixedNow.AddDate(0, 0, -90)
	if len(au.cutoffs) != 1 || !au.cutoffs[0].Equal(want) {
		t.Fatalf("cutoff = %v, want %v", au.cutoffs, want)
	}
}

func TestPurgeAuditLogsDisabledWithoutRetention(t *testing.T) {
	m, _, _, au := newTestManager(0)
	if n, err := m.PurgeAuditLogs(context.Background()); err != nil || n != 0 {
		t.Fatalf("purge = %d, %v", n, err)
	}
	if len(au.cutoffs) != 0 {
		t.Fatalf("purger must not be called")
	}
}

func TestExecuteSwallowsErrors(t *testing.T) {
	m, bl, _, _ := newTestManager(0)
	bl.err = errors.New("db down")
	m.execute("blacklist_cleanup", m.CleanupBlacklist)
	if len(bl.calls) != 1 {
		t.Fatalf("expected one call, got %d", len(bl.calls))
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	m, _, _, _ := newTestManager(0)
	if err := m.Start(Schedules{BlacklistCleanup: "not a cron"}); err == nil {
		t.Fatalf("expected schedule error")
	}
}

func TestStartRegistersConfiguredJobs(t *testing.T) {
	m, _, _, _ := newTestManager(time.Hour)
	if err := m.Start(Schedules{BlacklistCleanup: "0 0 * * * *", AuditPurge: "0 0 3 * * *"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer m.Stop()
	if got := len(m.cron.Entries()); got != 2 {
		t.Fatalf("entries = %d, want 2", got)
	}
}
