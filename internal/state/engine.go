package state

import (
	bolt "go.etcd.io/bbolt"
)

func lastSyncKey(domain string) []byte { return []byte(domain + ".lastSync") }
func enabledKey(domain string) []byte  { return []byte(domain + ".enabled") }

// LastSync returns the millisecond timestamp of the last completed sync
// pass for a domain, and false if the domain never completed one.
func (s *State) LastSync(account, domain string) (int64, bool) {
	var ts *int64

	_ = s.db.View(func(tx *bolt.Tx) error {
		var err error
		ts, err = getInt64(tx.Bucket(accountBucket(account, "engine")), lastSyncKey(domain))

		return err
	})

	if ts == nil {
		return 0, false
	}

	return *ts, true
}

// SetLastSync records the completion time of a sync pass.
func (s *State) SetLastSync(account, domain string, ts int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(accountBucket(account, "engine"))
		if err != nil {
			return err
		}

		return putInt64(b, lastSyncKey(domain), &ts)
	})
}

// SyncEnabled reports whether automatic sync is enabled for a domain.
// Domains default to enabled.
func (s *State) SyncEnabled(account, domain string) bool {
	enabled := true

	_ = s.db.View(func(tx *bolt.Tx) error {
		enabled = getBool(tx.Bucket(accountBucket(account, "engine")), enabledKey(domain), true)
		return nil
	})

	return enabled
}

// SetSyncEnabled persists the per-domain automatic sync flag.
func (s *State) SetSyncEnabled(account, domain string, enabled bool) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(accountBucket(account, "engine"))
		if err != nil {
			return err
		}

		return putBool(b, enabledKey(domain), enabled)
	})
}
