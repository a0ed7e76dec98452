package migration

import "fmt"

// State is the persisted migration progress marker. Values are ordered
// and only ever increase, except for the revert to SyncedWithRemote.
type State int

const (
	None State = iota
	StartedMigration
	SyncedWithRemote
	DeletedKeyCollection
	GeneratedNewKeys
	ReplacedKeyCollection
	ReplacedKeys
	DeletedRemoteCollections
	ReplacedRemoteCalendars
	ReplacedRemoteAddressbooks
	ReadyToReplaceRecords
	ReplacedRecords
	MigrationComplete
)

var stateNames = [...]string{
	None:                       "NONE",
	StartedMigration:           "STARTED_MIGRATION",
	SyncedWithRemote:           "SYNCED_WITH_REMOTE",
	DeletedKeyCollection:       "DELETED_KEY_COLLECTION",
	GeneratedNewKeys:           "GENERATED_NEW_KEYS",
	ReplacedKeyCollection:      "REPLACED_KEY_COLLECTION",
	ReplacedKeys:               "REPLACED_KEYS",
	DeletedRemoteCollections:   "DELETED_REMOTE_COLLECTIONS",
	ReplacedRemoteCalendars:    "REPLACED_REMOTE_CALENDARS",
	ReplacedRemoteAddressbooks: "REPLACED_REMOTE_ADDRESSBOOKS",
	ReadyToReplaceRecords:      "READY_TO_REPLACE_RECORDS",
	ReplacedRecords:            "REPLACED_RECORDS",
	MigrationComplete:          "MIGRATION_COMPLETE",
}

func (s State) String() string {
	if s.Valid() {
		return stateNames[s]
	}

	return fmt.Sprintf("State(%d)", int(s))
}

// Valid reports whether s is one of the defined states.
func (s State) Valid() bool {
	return s >= None && s <= MigrationComplete
}

// InProgress reports whether a migration has started but not finished.
func (s State) InProgress() bool {
	return s > None && s < MigrationComplete
}
