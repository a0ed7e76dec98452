package syncengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	apperrors "github.com/alexjbarnes/dav-sync/internal/errors"
	"github.com/alexjbarnes/dav-sync/internal/keys"
	"github.com/alexjbarnes/dav-sync/internal/state"
)

// pass refreshes collections, then pulls and pushes records of every
// locally known collection.
func (e *Engine) pass(ctx context.Context) error {
	cipher, err := e.keys.Cipher()
	if err != nil {
		return fmt.Errorf("loading cipher: %w", err)
	}

	if err := e.refreshCollections(ctx, cipher); err != nil {
		return err
	}

	cols, err := e.state.Collections(e.account, e.kind)
	if err != nil {
		return err
	}

	for _, col := range cols {
		if err := e.syncCollection(ctx, cipher, col.Path); err != nil {
			return err
		}
	}

	return nil
}

// refreshCollections adds remote collections the local cache does not
// know yet. Known entries keep their locally held metadata.
func (e *Engine) refreshCollections(ctx context.Context, cipher *keys.Cipher) error {
	source := e.collections
	if e.hiding != nil {
		source = e.hiding(cipher)
	}

	remote, err := source.List(ctx)
	if err != nil {
		return fmt.Errorf("listing remote collections: %w", err)
	}

	for _, rc := range remote {
		known, err := e.state.Collection(e.account, e.kind, rc.Path)
		if err != nil {
			return err
		}

		if known != nil {
			continue
		}

		err = e.state.PutCollection(e.account, e.kind, state.Collection{
			Path:        rc.Path,
			DisplayName: rc.DisplayName,
			Color:       rc.Color,
		})
		if err != nil {
			return err
		}

		e.logger.Info("discovered remote collection", slog.String("path", rc.Path))
	}

	return nil
}

func (e *Engine) syncCollection(ctx context.Context, cipher *keys.Cipher, collection string) error {
	infos, err := e.records.ListRecords(ctx, collection)
	if errors.Is(err, apperrors.ErrNotFound) {
		// Collection is gone remotely; dirty records are pushed once it
		// is recreated.
		return nil
	}

	if err != nil {
		return err
	}

	local, err := e.state.Records(e.account, collection)
	if err != nil {
		return err
	}

	byHref := make(map[string]state.Record, len(local))
	for _, r := range local {
		byHref[r.Href] = r
	}

	remoteETags := make(map[string]string, len(infos))

	for _, info := range infos {
		remoteETags[info.Href] = info.ETag

		lr, ok := byHref[info.Href]
		if ok && (lr.Dirty || lr.ETag == info.ETag) {
			continue
		}

		if err := e.pull(ctx, cipher, collection, info.Href); err != nil {
			return err
		}
	}

	dirty, err := e.state.DirtyRecords(e.account, collection)
	if err != nil {
		return err
	}

	// Records missing remotely are created; the rest are written
	// conditionally on the server's current ETag.
	for _, r := range dirty {
		if err := e.push(ctx, cipher, collection, r, remoteETags[r.Href]); err != nil {
			return err
		}
	}

	return nil
}

func (e *Engine) pull(ctx context.Context, cipher *keys.Cipher, collection, href string) error {
	rec, err := e.records.GetRecord(ctx, href)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil
	}

	if err != nil {
		return err
	}

	plain, err := cipher.DecryptRecord(collection, rec.Data)
	if err != nil {
		e.logger.Warn("skipping undecryptable record",
			slog.String("href", href),
			slog.String("error", err.Error()),
		)

		return nil
	}

	return e.state.PutRecord(e.account, collection, state.Record{Href: href, ETag: rec.ETag, Data: plain})
}

func (e *Engine) push(ctx context.Context, cipher *keys.Cipher, collection string, r state.Record, etag string) error {
	ct, err := cipher.EncryptRecord(collection, r.Data)
	if err != nil {
		return fmt.Errorf("encrypting %s: %w", r.Href, err)
	}

	newETag, err := e.records.PutRecord(ctx, r.Href, ct, etag)
	if errors.Is(err, apperrors.ErrConflict) {
		e.logger.Warn("record changed remotely, retrying next pass", slog.String("href", r.Href))
		return nil
	}

	if err != nil {
		return fmt.Errorf("pushing %s: %w", r.Href, err)
	}

	return e.state.ClearDirty(e.account, collection, r.Href, newETag)
}
