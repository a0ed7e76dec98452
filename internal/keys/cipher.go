package keys

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// masterKeyLen is the length of the master key in bytes.
	masterKeyLen = 32

	// subkeyLen is the output length of HKDF-derived subkeys.
	subkeyLen = 32

	metadataInfo   = "dav-sync collection metadata"
	collectionInfo = "dav-sync collection:"
)

// recordMagic prefixes every record written in the per-collection format.
var recordMagic = []byte("DS2\x00")

// Cipher is the capability object derived from the user secret. A
// legacy cipher writes the old single-secret format and still reads it;
// otherwise records are written under a key derived per collection.
//
// Record formats:
//
//	legacy:         [12-byte IV][ciphertext+GCM tag]        key = master
//	per-collection: "DS2\0"[12-byte IV][ciphertext+GCM tag] key = HKDF(master, path)
type Cipher struct {
	master   []byte
	legacy   bool
	shared   cipher.AEAD
	metadata cipher.AEAD
}

// NewCipher creates a cipher from a 32-byte master key. The key is
// copied; callers may zero their slice afterwards.
func NewCipher(master []byte, legacy bool) (*Cipher, error) {
	if len(master) != masterKeyLen {
		return nil, fmt.Errorf("invalid key length %d: expected %d bytes", len(master), masterKeyLen)
	}

	key := append([]byte(nil), master...)

	shared, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	metaKey, err := hkdfDeriveKey(key, []byte(metadataInfo))
	if err != nil {
		return nil, fmt.Errorf("deriving metadata key: %w", err)
	}

	metadata, err := newGCM(metaKey)
	if err != nil {
		return nil, err
	}

	ZeroKey(metaKey)

	return &Cipher{master: key, legacy: legacy, shared: shared, metadata: metadata}, nil
}

// Legacy reports whether the cipher writes the legacy record format.
func (c *Cipher) Legacy() bool {
	return c.legacy
}

// EncryptRecord encrypts a record belonging to the given collection.
func (c *Cipher) EncryptRecord(collection string, data []byte) ([]byte, error) {
	if c.legacy {
		return seal(c.shared, data)
	}

	gcm, err := c.collectionGCM(collection)
	if err != nil {
		return nil, err
	}

	ct, err := seal(gcm, data)
	if err != nil {
		return nil, err
	}

	return append(append([]byte(nil), recordMagic...), ct...), nil
}

// DecryptRecord decrypts a record. The per-collection format is always
// accepted; the legacy format only while the cipher is in legacy mode.
func (c *Cipher) DecryptRecord(collection string, data []byte) ([]byte, error) {
	if bytes.HasPrefix(data, recordMagic) {
		gcm, err := c.collectionGCM(collection)
		if err != nil {
			return nil, err
		}

		plain, err := open(gcm, data[len(recordMagic):])
		if err == nil || !c.legacy {
			return plain, err
		}
	}

	if !c.legacy {
		return nil, fmt.Errorf("legacy record format is no longer accepted")
	}

	return open(c.shared, data)
}

// EncryptString hides a short metadata value such as a display name.
// The result is base64 encoded.
func (c *Cipher) EncryptString(s string) (string, error) {
	ct, err := seal(c.metadata, []byte(s))
	if err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(ct), nil
}

// DecryptString reverses EncryptString.
func (c *Cipher) DecryptString(s string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("decoding base64: %w", err)
	}

	plain, err := open(c.metadata, raw)
	if err != nil {
		return "", err
	}

	return string(plain), nil
}

func (c *Cipher) collectionGCM(collection string) (cipher.AEAD, error) {
	key, err := hkdfDeriveKey(c.master, []byte(collectionInfo+collection))
	if err != nil {
		return nil, fmt.Errorf("deriving collection key: %w", err)
	}
	defer ZeroKey(key)

	return newGCM(key)
}

// ZeroKey overwrites the key material in the given slice.
func ZeroKey(key []byte) {
	for i := range key {
		key[i] = 0
	}
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	return gcm, nil
}

// seal encrypts with a random IV. Returns [IV][ciphertext+tag].
func seal(gcm cipher.AEAD, data []byte) ([]byte, error) {
	iv := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("generating IV: %w", err)
	}

	ct := gcm.Seal(nil, iv, data, nil)
	result := make([]byte, len(iv)+len(ct))
	copy(result, iv)
	copy(result[len(iv):], ct)

	return result, nil
}

func open(gcm cipher.AEAD, data []byte) ([]byte, error) {
	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize+gcm.Overhead() {
		return nil, fmt.Errorf("ciphertext too short: %d bytes", len(data))
	}

	plain, err := gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}

	return plain, nil
}

// hkdfDeriveKey derives a subkey from ikm using HKDF-SHA256 with no salt.
func hkdfDeriveKey(ikm, info []byte) ([]byte, error) {
	r := hkdf.New(sha256.New, ikm, nil, info)

	out := make([]byte, subkeyLen)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}

	return out, nil
}
