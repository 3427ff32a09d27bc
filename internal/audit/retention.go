package audit

import (
	"context"
	"time"
)

// StartRetentionJob purges entries older than retention once immediately and
// then every day at hour:00 local time, until ctx is done.
func (t *Trail) StartRetentionJob(ctx context.Context, retention time.Duration, hour int) {
	if retention <= 0 {
		t.log.Info("audit retention disabled")
		return
	}
	t.log.Info("starting audit retention job", "retention", retention.String(), "hour", hour)

	go func() {
		t.runRetention(ctx, retention)
		for {
			wait := nextRun(t.now(), hour).Sub(t.now())
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				t.log.Info("stopping audit retention job")
				return
			case <-timer.C:
				t.runRetention(ctx, retention)
			}
		}
	}()
}

func (t *Trail) runRetention(ctx context.Context, retention time.Duration) {
	if _, err := t.Purge(ctx, retention); err != nil {
		t.log.Error("audit retention cleanup failed", "error", err)
	}
}

// nextRun returns the first hour:00 strictly after now, in now's location.
func nextRun(now time.Time, hour int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
