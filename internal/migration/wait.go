package migration

import "log/slog"

// awaitSyncPass reports whether both engines completed a pass after
// this phase's watermarks. Watermarks are recorded once per phase and
// persisted before any engine is asked to sync. It never blocks: an
// unsettled wait returns false and relies on the next kick.
func (r *run) awaitSyncPass() (bool, error) {
	o := r.o

	if !o.state.AutoSync() {
		o.setEnginesEnabled(false)
		o.notifier.AutoSyncDisabled(o.account)
		r.logger.Info("master auto-sync is off, waiting for it to be enabled")

		return false, nil
	}

	o.setEnginesEnabled(true)

	now := o.now().UnixMilli()
	changed := false

	if r.m.FirstCalendarSyncAt == nil {
		ts := lastSyncOr(o.calSync, now)
		r.m.FirstCalendarSyncAt = &ts
		changed = true
	}

	if r.m.FirstAddressbookSyncAt == nil {
		ts := lastSyncOr(o.abSync, now)
		r.m.FirstAddressbookSyncAt = &ts
		changed = true
	}

	if changed {
		if err := r.save(); err != nil {
			return false, err
		}

		r.logger.Info("recorded sync watermarks",
			slog.Int64("calendar", *r.m.FirstCalendarSyncAt),
			slog.Int64("addressbook", *r.m.FirstAddressbookSyncAt),
		)
	}

	if o.calSync.SyncInProgress(o.account) || o.abSync.SyncInProgress(o.account) {
		r.logger.Debug("sync in flight, not yet settled")
		o.setEnginesEnabled(false)

		return false, nil
	}

	calDone := syncedAfter(o.calSync, *r.m.FirstCalendarSyncAt)
	abDone := syncedAfter(o.abSync, *r.m.FirstAddressbookSyncAt)

	if !calDone {
		o.calSync.RequestSync()
	}

	if !abDone {
		o.abSync.RequestSync()
	}

	return calDone && abDone, nil
}

func lastSyncOr(c SyncCoordinator, fallback int64) int64 {
	if ts, ok := c.TimeLastSync(); ok {
		return ts
	}

	return fallback
}

func syncedAfter(c SyncCoordinator, watermark int64) bool {
	ts, ok := c.TimeLastSync()
	return ok && ts > watermark
}
