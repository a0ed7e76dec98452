package state

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

var (
	keyMaterialKey  = []byte("material")
	legacyCompatKey = []byte("legacyCompat")
)

// KeyMaterial is the locally held salt and encrypted key material for an
// account. Version 1 is the legacy single shared secret, where
// EncryptedKey holds the passphrase check value. Version 2 is the
// per-collection scheme, where EncryptedKey holds the wrapped master key.
type KeyMaterial struct {
	Version      int    `json:"version"`
	Salt         string `json:"salt"`
	EncryptedKey string `json:"encrypted_key"`
}

// KeyMaterial returns the stored key material, or nil if none exists.
func (s *State) KeyMaterial(account string) (*KeyMaterial, error) {
	var km *KeyMaterial

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(accountBucket(account, "keys"))
		if b == nil {
			return nil
		}

		v := b.Get(keyMaterialKey)
		if v == nil {
			return nil
		}

		km = &KeyMaterial{}

		return json.Unmarshal(v, km)
	})
	if err != nil {
		return nil, fmt.Errorf("reading key material: %w", err)
	}

	return km, nil
}

// SetKeyMaterial replaces the stored key material.
func (s *State) SetKeyMaterial(account string, km KeyMaterial) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(accountBucket(account, "keys"))
		if err != nil {
			return err
		}

		data, err := json.Marshal(km)
		if err != nil {
			return err
		}

		return b.Put(keyMaterialKey, data)
	})
}

// DeleteKeyMaterial removes the stored key material. Deleting absent
// material is not an error.
func (s *State) DeleteKeyMaterial(account string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(accountBucket(account, "keys"))
		if b == nil {
			return nil
		}

		return b.Delete(keyMaterialKey)
	})
}

// LegacyCompat reports whether the local encryption layer should still
// read and write the legacy record format.
func (s *State) LegacyCompat(account string) bool {
	var on bool

	_ = s.db.View(func(tx *bolt.Tx) error {
		on = getBool(tx.Bucket(accountBucket(account, "keys")), legacyCompatKey, false)
		return nil
	})

	return on
}

// SetLegacyCompat persists the legacy compatibility flag.
func (s *State) SetLegacyCompat(account string, on bool) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(accountBucket(account, "keys"))
		if err != nil {
			return err
		}

		return putBool(b, legacyCompatKey, on)
	})
}
