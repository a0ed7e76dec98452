// Package keys owns the account's key material: deriving the key
// encryption key from the passphrase, generating and wrapping the
// per-collection master key, importing material published by another
// device, and producing the Cipher used by the sync engines.
package keys

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"sync"

	"golang.org/x/crypto/scrypt"
	"golang.org/x/text/unicode/norm"

	apperrors "github.com/alexjbarnes/dav-sync/internal/errors"
	"github.com/alexjbarnes/dav-sync/internal/events"
	"github.com/alexjbarnes/dav-sync/internal/state"
)

const (
	// scryptN is the CPU/memory cost parameter for scrypt key derivation (2^15).
	scryptN = 32768

	// scryptR is the block size parameter for scrypt key derivation.
	scryptR = 8

	// scryptP is the parallelization parameter for scrypt key derivation.
	scryptP = 1

	// saltLen is the length of freshly generated salts in bytes.
	saltLen = 16

	// VersionLegacy is the single shared secret scheme.
	VersionLegacy = 1

	// VersionCollection is the per-collection key scheme.
	VersionCollection = 2
)

// checkPlaintext is sealed under the legacy secret to let another device
// verify the passphrase without revealing the secret.
var checkPlaintext = []byte("dav-sync key check")

// Publisher receives lifecycle events.
type Publisher interface {
	Publish(events.Event)
}

// Store manages key material for one account. It is safe for concurrent
// use.
type Store struct {
	state      *state.State
	account    string
	passphrase string
	publisher  Publisher

	// cost overrides scryptN; tests lower it.
	cost int

	mu           sync.Mutex
	cached       *Cipher
	cachedFor    state.KeyMaterial
	cachedLegacy bool
}

// NewStore creates a key store. publisher may be nil.
func NewStore(st *state.State, account, passphrase string, publisher Publisher) *Store {
	return &Store{
		state:      st,
		account:    account,
		passphrase: passphrase,
		publisher:  publisher,
		cost:       scryptN,
	}
}

// DeriveKey derives a 32-byte key from passphrase and salt using scrypt.
// Both inputs are normalized to NFKC before hashing.
func DeriveKey(passphrase, salt string) ([]byte, error) {
	return deriveKey(passphrase, salt, scryptN)
}

func deriveKey(passphrase, salt string, n int) ([]byte, error) {
	passphrase = norm.NFKC.String(passphrase)
	salt = norm.NFKC.String(salt)

	key, err := scrypt.Key([]byte(passphrase), []byte(salt), n, scryptR, scryptP, masterKeyLen)
	if err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}

	return key, nil
}

// LegacyCheck computes the check value stored alongside a legacy salt.
func LegacyCheck(passphrase, salt string) (string, error) {
	return legacyCheck(passphrase, salt, scryptN)
}

func legacyCheck(passphrase, salt string, n int) (string, error) {
	key, err := deriveKey(passphrase, salt, n)
	if err != nil {
		return "", err
	}
	defer ZeroKey(key)

	return wrap(key, checkPlaintext)
}

// Material returns the locally stored key material. Returns
// ErrKeyMaterialMissing if there is none.
func (s *Store) Material() (*state.KeyMaterial, error) {
	km, err := s.state.KeyMaterial(s.account)
	if err != nil {
		return nil, err
	}

	if km == nil {
		return nil, apperrors.ErrKeyMaterialMissing
	}

	return km, nil
}

// Generate creates a fresh random master key, wraps it under a key
// derived from the passphrase and a new salt, and stores it locally as
// version 2 material. Any previous material is replaced.
func (s *Store) Generate() error {
	master := make([]byte, masterKeyLen)
	if _, err := rand.Read(master); err != nil {
		return fmt.Errorf("generating master key: %w", err)
	}
	defer ZeroKey(master)

	rawSalt := make([]byte, saltLen)
	if _, err := rand.Read(rawSalt); err != nil {
		return fmt.Errorf("generating salt: %w", err)
	}

	salt := base64.RawURLEncoding.EncodeToString(rawSalt)

	kek, err := deriveKey(s.passphrase, salt, s.cost)
	if err != nil {
		return err
	}
	defer ZeroKey(kek)

	enc, err := wrap(kek, master)
	if err != nil {
		return err
	}

	km := state.KeyMaterial{Version: VersionCollection, Salt: salt, EncryptedKey: enc}
	if err := s.state.SetKeyMaterial(s.account, km); err != nil {
		return fmt.Errorf("storing key material: %w", err)
	}

	s.invalidate()

	return nil
}

// Import verifies version 2 material published by another device and
// stores it locally. Returns ErrInvalidPassphrase if the passphrase does
// not unwrap the key.
func (s *Store) Import(salt, encryptedKey string) error {
	kek, err := deriveKey(s.passphrase, salt, s.cost)
	if err != nil {
		return err
	}
	defer ZeroKey(kek)

	master, err := unwrap(kek, encryptedKey)
	if err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrInvalidPassphrase, err)
	}
	ZeroKey(master)

	return s.store(state.KeyMaterial{Version: VersionCollection, Salt: salt, EncryptedKey: encryptedKey})
}

// ImportLegacy verifies a legacy salt and check value and stores them
// locally as version 1 material.
func (s *Store) ImportLegacy(salt, check string) error {
	key, err := deriveKey(s.passphrase, salt, s.cost)
	if err != nil {
		return err
	}
	defer ZeroKey(key)

	plain, err := unwrap(key, check)
	if err != nil || subtle.ConstantTimeCompare(plain, checkPlaintext) != 1 {
		return apperrors.ErrInvalidPassphrase
	}

	return s.store(state.KeyMaterial{Version: VersionLegacy, Salt: salt, EncryptedKey: check})
}

func (s *Store) store(km state.KeyMaterial) error {
	if err := s.state.SetKeyMaterial(s.account, km); err != nil {
		return fmt.Errorf("storing key material: %w", err)
	}

	s.invalidate()

	if s.publisher != nil {
		s.publisher.Publish(events.KeyMaterialImported{Account: s.account, Version: km.Version})
	}

	return nil
}

// Invalidate drops the stored key material and any cached cipher.
func (s *Store) Invalidate() error {
	s.invalidate()
	return s.state.DeleteKeyMaterial(s.account)
}

func (s *Store) invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

// LegacyCompat reports whether records are still read and written in
// the legacy format.
func (s *Store) LegacyCompat() bool {
	return s.state.LegacyCompat(s.account)
}

// SetLegacyCompat toggles the legacy record format.
func (s *Store) SetLegacyCompat(on bool) error {
	if err := s.state.SetLegacyCompat(s.account, on); err != nil {
		return fmt.Errorf("setting legacy compat: %w", err)
	}

	return nil
}

// Cipher returns a cipher for the current key material and legacy
// flag. Results are cached until the material or flag changes. Returns
// ErrKeyMaterialMissing if no material is stored.
func (s *Store) Cipher() (*Cipher, error) {
	km, err := s.Material()
	if err != nil {
		return nil, err
	}

	legacy := s.LegacyCompat()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil && s.cachedFor == *km && s.cachedLegacy == legacy {
		return s.cached, nil
	}

	master, err := s.masterKey(km)
	if err != nil {
		return nil, err
	}
	defer ZeroKey(master)

	c, err := NewCipher(master, legacy)
	if err != nil {
		return nil, err
	}

	s.cached, s.cachedFor, s.cachedLegacy = c, *km, legacy

	return c, nil
}

func (s *Store) masterKey(km *state.KeyMaterial) ([]byte, error) {
	key, err := deriveKey(s.passphrase, km.Salt, s.cost)
	if err != nil {
		return nil, err
	}

	switch km.Version {
	case VersionLegacy:
		return key, nil
	case VersionCollection:
		defer ZeroKey(key)

		master, err := unwrap(key, km.EncryptedKey)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", apperrors.ErrInvalidPassphrase, err)
		}

		return master, nil
	default:
		ZeroKey(key)
		return nil, fmt.Errorf("unsupported key material version %d", km.Version)
	}
}

func wrap(kek, plain []byte) (string, error) {
	gcm, err := newGCM(kek)
	if err != nil {
		return "", err
	}

	ct, err := seal(gcm, plain)
	if err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(ct), nil
}

func unwrap(kek []byte, encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding base64: %w", err)
	}

	gcm, err := newGCM(kek)
	if err != nil {
		return nil, err
	}

	return open(gcm, raw)
}
