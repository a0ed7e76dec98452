package migration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alexjbarnes/dav-sync/internal/dav"
	apperrors "github.com/alexjbarnes/dav-sync/internal/errors"
	"github.com/alexjbarnes/dav-sync/internal/events"
	"github.com/alexjbarnes/dav-sync/internal/keys"
	"github.com/alexjbarnes/dav-sync/internal/state"
)

// start enters the migration for accounts holding legacy key material.
// Accounts without material stay in None; accounts already on the
// per-collection scheme are marked complete. Legacy compatibility stays
// on so records in the old format remain readable until every record is
// rewritten.
func (r *run) start(ctx context.Context) (outcome, error) {
	o := r.o

	km, err := o.keys.Material()
	if errors.Is(err, apperrors.ErrKeyMaterialMissing) {
		r.logger.Info("no local key material, migration not needed yet")
		return halted, nil
	}

	if err != nil {
		return halted, fmt.Errorf("reading key material: %w", err)
	}

	if km.Version == keys.VersionCollection {
		r.m.UIDisabled = false

		if err := r.commit(MigrationComplete); err != nil {
			return halted, err
		}

		r.logger.Info("key material already per-collection, migration not needed")

		return advanced, nil
	}

	if err := o.keys.SetLegacyCompat(true); err != nil {
		return halted, err
	}

	if o.protocol != nil {
		if err := o.protocol.SetProtocolVersion(ctx, protocolVersion); err != nil {
			return halted, fmt.Errorf("announcing protocol version: %w", err)
		}
	}

	// Other devices read this flag to hold off importing key material.
	// The collection may not exist for accounts that never had one.
	if err := o.keyCollection.SetMigrationStarted(ctx); err != nil {
		r.logger.Warn("flagging key collection as migrating", slog.String("error", err.Error()))
	}

	r.m.UIDisabled = true

	if err := r.commit(StartedMigration); err != nil {
		return halted, err
	}

	o.publish(events.MigrationStarted{Account: o.account})

	return advanced, nil
}

// syncWithRemote waits for a full pass of both engines so every pending
// local change reaches the server under the legacy scheme.
func (r *run) syncWithRemote(ctx context.Context) (outcome, error) {
	settled, err := r.awaitSyncPass()
	if err != nil || !settled {
		return halted, err
	}

	if err := r.o.keys.SetLegacyCompat(false); err != nil {
		return halted, err
	}

	r.m.FirstCalendarSyncAt = nil
	r.m.FirstAddressbookSyncAt = nil

	if err := r.commit(SyncedWithRemote); err != nil {
		return halted, err
	}

	return advanced, nil
}

func (r *run) deleteKeyCollection(ctx context.Context) (outcome, error) {
	err := r.o.keyCollection.Delete(ctx)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return halted, fmt.Errorf("deleting key collection: %w", err)
	}

	if err := r.commit(DeletedKeyCollection); err != nil {
		return halted, err
	}

	return advanced, nil
}

func (r *run) generateKeys(context.Context) (outcome, error) {
	if err := r.o.keys.Generate(); err != nil {
		return halted, fmt.Errorf("generating key material: %w", err)
	}

	if _, err := r.o.keys.Cipher(); err != nil {
		return halted, fmt.Errorf("loading cipher: %w", err)
	}

	if err := r.commit(GeneratedNewKeys); err != nil {
		return halted, err
	}

	return advanced, nil
}

// replaceKeyCollection creates the new key collection. Forbidden means
// it already exists from an earlier attempt.
func (r *run) replaceKeyCollection(ctx context.Context) (outcome, error) {
	err := r.o.keyCollection.Create(ctx)
	if err != nil && !errors.Is(err, apperrors.ErrForbidden) {
		return halted, fmt.Errorf("creating key collection: %w", err)
	}

	if err := r.commit(ReplacedKeyCollection); err != nil {
		return halted, err
	}

	return advanced, nil
}

func (r *run) replaceKeys(ctx context.Context) (outcome, error) {
	o := r.o

	kc, err := o.keyCollection.Lookup(ctx)
	if err != nil {
		return halted, fmt.Errorf("looking up key collection: %w", err)
	}

	if kc == nil {
		return r.revert(apperrors.ErrKeyCollectionMissing.Error())
	}

	km, err := o.keys.Material()
	if errors.Is(err, apperrors.ErrKeyMaterialMissing) {
		return r.revert(err.Error())
	}

	if err != nil {
		return halted, err
	}

	if km.Version != keys.VersionCollection {
		return r.revert(fmt.Sprintf("local key material has version %d", km.Version))
	}

	// The recreated collection carries no flags. Other devices must see
	// it as migrating before new-scheme material appears in it.
	if err := o.keyCollection.SetMigrationStarted(ctx); err != nil {
		return halted, fmt.Errorf("flagging key collection as migrating: %w", err)
	}

	if err := o.keyCollection.SetKeyMaterial(ctx, km.Salt, km.EncryptedKey); err != nil {
		return halted, fmt.Errorf("uploading key material: %w", err)
	}

	if err := r.commit(ReplacedKeys); err != nil {
		return halted, err
	}

	return advanced, nil
}

// deleteRemoteCollections removes every locally known collection from
// the server so it can be recreated with hidden metadata.
func (r *run) deleteRemoteCollections(ctx context.Context) (outcome, error) {
	o := r.o

	for _, kind := range state.Kinds {
		cols, err := o.state.Collections(o.account, kind)
		if err != nil {
			return halted, err
		}

		store := o.plainStore(kind)

		for _, c := range cols {
			err := store.Remove(ctx, c.Path)
			if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
				return halted, fmt.Errorf("removing %s: %w", c.Path, err)
			}
		}
	}

	if err := r.commit(DeletedRemoteCollections); err != nil {
		return halted, err
	}

	return advanced, nil
}

func (r *run) replaceCalendars(ctx context.Context) (outcome, error) {
	return r.replaceCollections(ctx, state.KindCalendar, ReplacedRemoteCalendars)
}

func (r *run) replaceAddressbooks(ctx context.Context) (outcome, error) {
	return r.replaceCollections(ctx, state.KindAddressbook, ReplacedRemoteAddressbooks)
}

// replaceCollections recreates every locally known collection of kind
// that is missing remotely, through the hiding store.
func (r *run) replaceCollections(ctx context.Context, kind state.Kind, to State) (outcome, error) {
	o := r.o

	cipher, err := o.keys.Cipher()
	if errors.Is(err, apperrors.ErrKeyMaterialMissing) {
		return r.revert(err.Error())
	}

	if err != nil {
		return halted, err
	}

	calendars, addressbooks := o.hiding(cipher)

	store := calendars
	if kind == state.KindAddressbook {
		store = addressbooks
	}

	remote, err := store.List(ctx)
	if err != nil {
		return halted, fmt.Errorf("listing remote %s collections: %w", kind, err)
	}

	present := make(map[string]bool, len(remote))
	for _, c := range remote {
		present[c.Path] = true
	}

	local, err := o.state.Collections(o.account, kind)
	if err != nil {
		return halted, err
	}

	for _, c := range local {
		if present[c.Path] {
			continue
		}

		color := c.Color
		if color == "" {
			color = o.theme.DefaultColor(string(kind))
		}

		err := store.Add(ctx, dav.Collection{Path: c.Path, DisplayName: c.DisplayName, Color: color})
		if errors.Is(err, apperrors.ErrForbidden) {
			r.logger.Debug("collection already recreated", slog.String("path", c.Path))
			continue
		}

		if err != nil {
			return halted, fmt.Errorf("recreating %s: %w", c.Path, err)
		}
	}

	if err := r.commit(to); err != nil {
		return halted, err
	}

	return advanced, nil
}

// queueRecords marks every cached record dirty so the engines rewrite
// it under the new scheme.
func (r *run) queueRecords(context.Context) (outcome, error) {
	n, err := r.o.state.QueueAllRecordsForMigration(r.o.account)
	if err != nil {
		return halted, fmt.Errorf("queueing records: %w", err)
	}

	r.logger.Info("queued records for re-encryption", slog.Int("count", n))

	if err := r.commit(ReadyToReplaceRecords); err != nil {
		return halted, err
	}

	return advanced, nil
}

// replaceRecords waits for a full pass of both engines after the
// records were queued. A push notification can move the last sync time
// forward before this device pushed its queue, so the wait also holds
// until no queued record is left.
func (r *run) replaceRecords(context.Context) (outcome, error) {
	o := r.o

	settled, err := r.awaitSyncPass()
	if err != nil || !settled {
		return halted, err
	}

	pending, err := o.state.PendingRecords(o.account)
	if err != nil {
		return halted, err
	}

	if pending > 0 {
		r.logger.Info("records still queued for re-encryption", slog.Int("count", pending))
		o.calSync.RequestSync()
		o.abSync.RequestSync()

		return halted, nil
	}

	r.m.FirstCalendarSyncAt = nil
	r.m.FirstAddressbookSyncAt = nil

	if err := r.commit(ReplacedRecords); err != nil {
		return halted, err
	}

	return advanced, nil
}

func (r *run) markComplete(ctx context.Context) (outcome, error) {
	kc, err := r.o.keyCollection.Lookup(ctx)
	if err != nil {
		return halted, fmt.Errorf("looking up key collection: %w", err)
	}

	if kc == nil {
		return r.revert(apperrors.ErrKeyCollectionMissing.Error())
	}

	if err := r.o.keyCollection.SetMigrationComplete(ctx); err != nil {
		return halted, fmt.Errorf("flagging key collection complete: %w", err)
	}

	r.m.UIDisabled = false

	if err := r.commit(MigrationComplete); err != nil {
		return halted, err
	}

	return advanced, nil
}

// complete runs on every invocation in the terminal state. Receivers
// of the completion signal tolerate duplicates.
func (r *run) complete(context.Context) (outcome, error) {
	o := r.o

	o.publish(events.MigrationComplete{Account: o.account})
	o.notifier.Complete(o.account)

	if o.onComplete != nil {
		o.onComplete()
	}

	return finished, nil
}

func (o *Orchestrator) plainStore(kind state.Kind) RemoteCollections {
	if kind == state.KindAddressbook {
		return o.addressbooks
	}

	return o.calendars
}

func (o *Orchestrator) publish(e events.Event) {
	if o.publisher != nil {
		o.publisher.Publish(e)
	}
}
