package migration

import (
	"context"

	"github.com/alexjbarnes/dav-sync/internal/dav"
	"github.com/alexjbarnes/dav-sync/internal/events"
	"github.com/alexjbarnes/dav-sync/internal/keys"
	"github.com/alexjbarnes/dav-sync/internal/state"
)

//go:generate mockgen -destination=mocks_test.go -package=migration github.com/alexjbarnes/dav-sync/internal/migration SyncCoordinator,KeyCollection

// SyncCoordinator is the externally visible surface of one sync engine.
// Commands are fire-and-forget.
type SyncCoordinator interface {
	RequestSync()
	TimeLastSync() (int64, bool)
	SyncInProgress(account string) bool
	SetSyncEnabled(account string, enabled bool)
	CancelPendingSyncs(account string)
}

// KeyMaterial is the local key material store.
type KeyMaterial interface {
	SetLegacyCompat(on bool) error
	Generate() error
	Material() (*state.KeyMaterial, error)
	Cipher() (*keys.Cipher, error)
}

// KeyCollection is the remote key collection. Lookup returns nil
// without error when the collection does not exist.
type KeyCollection interface {
	Lookup(ctx context.Context) (*dav.KeyCollection, error)
	Create(ctx context.Context) error
	Delete(ctx context.Context) error
	SetKeyMaterial(ctx context.Context, salt, encrypted string) error
	SetMigrationStarted(ctx context.Context) error
	SetMigrationComplete(ctx context.Context) error
}

// RemoteCollections lists and mutates remote collections of one kind.
type RemoteCollections interface {
	List(ctx context.Context) ([]dav.Collection, error)
	Add(ctx context.Context, c dav.Collection) error
	Remove(ctx context.Context, path string) error
}

// HidingStores builds the calendar and addressbook stores that hide
// collection metadata under the given cipher.
type HidingStores func(h dav.Hider) (calendars, addressbooks RemoteCollections)

// ProtocolUpgrader tells the operator's own service about the account's
// protocol version.
type ProtocolUpgrader interface {
	SetProtocolVersion(ctx context.Context, version int) error
}

// Notifier renders progress to the user.
type Notifier interface {
	Progress(account string, s State)
	AutoSyncDisabled(account string)
	ReleaseNotes(version string, notes []string)
	Complete(account string)
}

// Publisher broadcasts lifecycle events.
type Publisher interface {
	Publish(e events.Event)
}

// Observer receives orchestrator telemetry.
type Observer interface {
	MigrationState(account string, s int)
	StepFailed(step string, transient bool)
	Reverted(account string)
	Run(account string)
}
