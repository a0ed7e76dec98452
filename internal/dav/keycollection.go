package dav

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"

	apperrors "github.com/alexjbarnes/dav-sync/internal/errors"
)

var (
	saltProp              = xml.Name{Space: nsDavSync, Local: "salt"}
	keyMaterialProp       = xml.Name{Space: nsDavSync, Local: "encrypted-key-material"}
	migrationStartedProp  = xml.Name{Space: nsDavSync, Local: "migration-started"}
	migrationCompleteProp = xml.Name{Space: nsDavSync, Local: "migration-complete"}
	protocolVersionProp   = xml.Name{Space: nsDavSync, Local: "protocol-version"}

	keyCollectionProps = []xml.Name{
		resourceTypeProp, saltProp, keyMaterialProp, migrationStartedProp, migrationCompleteProp,
	}
)

// KeyCollection is the remote record holding the account's salt and
// encrypted key material plus the migration progress flags.
type KeyCollection struct {
	Path                 string
	Salt                 string
	EncryptedKeyMaterial string
	MigrationStarted     bool
	MigrationComplete    bool
}

// HasMaterial reports whether both salt and key material are present.
func (k *KeyCollection) HasMaterial() bool {
	return k.Salt != "" && k.EncryptedKeyMaterial != ""
}

// KeyCollections manages the key collection at a fixed path.
type KeyCollections struct {
	client *Client
	path   string
}

// NewKeyCollections returns an accessor for the key collection at path.
func NewKeyCollections(c *Client, path string) *KeyCollections {
	return &KeyCollections{client: c, path: path}
}

// Lookup fetches the key collection. Returns nil without error when it
// does not exist.
func (k *KeyCollections) Lookup(ctx context.Context) (*KeyCollection, error) {
	resps, err := k.client.propfind(ctx, k.path, 0, keyCollectionProps)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("looking up key collection: %w", err)
	}

	if len(resps) == 0 {
		return nil, nil
	}

	r := resps[0]

	return &KeyCollection{
		Path:                 k.path,
		Salt:                 r.text(saltProp),
		EncryptedKeyMaterial: r.text(keyMaterialProp),
		MigrationStarted:     r.text(migrationStartedProp) == "true",
		MigrationComplete:    r.text(migrationCompleteProp) == "true",
	}, nil
}

// Create makes an empty key collection. An existing collection is
// reported as ErrForbidden.
func (k *KeyCollections) Create(ctx context.Context) error {
	return k.client.mkcol(ctx, k.path, []xml.Name{collectionType}, nil)
}

// Delete removes the key collection.
func (k *KeyCollections) Delete(ctx context.Context) error {
	return k.client.remove(ctx, k.path)
}

// SetKeyMaterial stores salt and encrypted key material.
func (k *KeyCollections) SetKeyMaterial(ctx context.Context, salt, encrypted string) error {
	return k.client.proppatch(ctx, k.path, []property{
		{Name: saltProp, Value: salt},
		{Name: keyMaterialProp, Value: encrypted},
	})
}

// SetMigrationStarted flags the collection as mid-migration so other
// devices hold off importing its key material.
func (k *KeyCollections) SetMigrationStarted(ctx context.Context) error {
	return k.client.proppatch(ctx, k.path, []property{{Name: migrationStartedProp, Value: "true"}})
}

// SetMigrationComplete flags the collection as holding new-scheme keys.
func (k *KeyCollections) SetMigrationComplete(ctx context.Context) error {
	return k.client.proppatch(ctx, k.path, []property{{Name: migrationCompleteProp, Value: "true"}})
}

// SetProtocolVersion informs the operator's service that the account
// uses the given protocol version. Only meaningful on that service.
func (c *Client) SetProtocolVersion(ctx context.Context, version int) error {
	return c.proppatch(ctx, "/", []property{{Name: protocolVersionProp, Value: fmt.Sprint(version)}})
}
