package migration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alexjbarnes/dav-sync/internal/dav"
	apperrors "github.com/alexjbarnes/dav-sync/internal/errors"
	"github.com/alexjbarnes/dav-sync/internal/state"
)

// Importer stores key material published by another device.
type Importer interface {
	Material() (*state.KeyMaterial, error)
	Import(salt, encryptedKey string) error
	ImportLegacy(salt, check string) error
}

// Bootstrap prepares a device that has no local key material yet by
// importing what the key collection holds. When the collection already
// carries new-scheme keys the account has been migrated elsewhere and
// the local state is set to complete directly.
func Bootstrap(ctx context.Context, st *state.State, account string, imp Importer, kc KeyCollection, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	logger = logger.With(slog.String("component", "bootstrap"))

	_, err := imp.Material()
	if err == nil {
		return nil
	}

	if !errors.Is(err, apperrors.ErrKeyMaterialMissing) {
		return err
	}

	remote, err := kc.Lookup(ctx)
	if err != nil {
		return fmt.Errorf("looking up key collection: %w", err)
	}

	if remote == nil || !remote.HasMaterial() {
		logger.Info("no remote key material to import")
		return nil
	}

	switch {
	case remote.MigrationComplete:
		return importMigrated(st, account, imp, remote, logger)
	case remote.MigrationStarted:
		// Material may be mid-rotation; retry on the next start.
		logger.Info("another device is migrating, deferring key import")
		return nil
	default:
		if err := imp.ImportLegacy(remote.Salt, remote.EncryptedKeyMaterial); err != nil {
			return fmt.Errorf("importing legacy key material: %w", err)
		}

		logger.Info("imported legacy key material")

		return nil
	}
}

func importMigrated(st *state.State, account string, imp Importer, remote *dav.KeyCollection, logger *slog.Logger) error {
	if err := imp.Import(remote.Salt, remote.EncryptedKeyMaterial); err != nil {
		return fmt.Errorf("importing key material: %w", err)
	}

	if err := st.CommitMigration(account, state.Migration{State: int(MigrationComplete)}); err != nil {
		return fmt.Errorf("persisting migration state: %w", err)
	}

	logger.Info("imported migrated key material, migration not needed")

	return nil
}
