package state

import (
	"fmt"

	bolt "go.etcd.io/bbolt"
)

var (
	migrationStateKey       = []byte("migration.state")
	firstCalendarSyncKey    = []byte("migration.firstCalendarSyncAt")
	firstAddressbookSyncKey = []byte("migration.firstAddressbookSyncAt")
	uiDisabledKey           = []byte("migration.uiDisabled")
)

// Migration is the persisted progress marker of an account's key scheme
// migration. State holds the integer value of the migration state; the
// watermarks are millisecond timestamps scoped to the wait phase that set
// them and are nil when absent.
type Migration struct {
	State                  int
	FirstCalendarSyncAt    *int64
	FirstAddressbookSyncAt *int64
	UIDisabled             bool
}

// Migration returns the persisted migration record for an account. An
// account that never ran the migration gets the zero value.
func (s *State) Migration(account string) (Migration, error) {
	var m Migration

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(accountBucket(account, "migration"))
		if b == nil {
			return nil
		}

		st, err := getInt64(b, migrationStateKey)
		if err != nil {
			return err
		}

		if st != nil {
			m.State = int(*st)
		}

		if m.FirstCalendarSyncAt, err = getInt64(b, firstCalendarSyncKey); err != nil {
			return err
		}

		if m.FirstAddressbookSyncAt, err = getInt64(b, firstAddressbookSyncKey); err != nil {
			return err
		}

		m.UIDisabled = getBool(b, uiDisabledKey, false)

		return nil
	})
	if err != nil {
		return Migration{}, fmt.Errorf("reading migration state for %s: %w", account, err)
	}

	return m, nil
}

// CommitMigration writes the state, both watermarks and the UI flag in a
// single transaction, so a crash can never leave a cleared watermark next
// to a state that has not advanced.
func (s *State) CommitMigration(account string, m Migration) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(accountBucket(account, "migration"))
		if err != nil {
			return err
		}

		st := int64(m.State)
		if err := putInt64(b, migrationStateKey, &st); err != nil {
			return err
		}

		if err := putInt64(b, firstCalendarSyncKey, m.FirstCalendarSyncAt); err != nil {
			return err
		}

		if err := putInt64(b, firstAddressbookSyncKey, m.FirstAddressbookSyncAt); err != nil {
			return err
		}

		return putBool(b, uiDisabledKey, m.UIDisabled)
	})
	if err != nil {
		return fmt.Errorf("committing migration state for %s: %w", account, err)
	}

	return nil
}
