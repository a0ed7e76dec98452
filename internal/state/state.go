package state

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory (~/.dav-sync/).
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

var (
	appBucket = []byte("app")

	appVersionKey    = []byte("app.version")
	updateHandledKey = []byte("migration.updateHandled")
	masterAutoSync   = []byte("sync.masterAutoSync")
)

func accountBucket(account, scope string) []byte {
	return []byte("account:" + account + ":" + scope)
}

// State wraps a bbolt database for all persistent application state.
// Every write goes through a bolt Update transaction, which is fsync'd
// before it returns, so callers may act on a write as soon as it
// succeeds.
type State struct {
	db *bolt.DB
}

// Load opens the state database at ~/.dav-sync/state.db, creating it
// if it does not exist.
func Load() (*State, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}

	return LoadAt(path)
}

// LoadAt opens a state database at the given path, creating it if it
// does not exist. Useful for tests that need an isolated database.
func LoadAt(path string) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(appBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &State{db: db}, nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// DefaultPath returns ~/.dav-sync/state.db.
func DefaultPath() (string, error) {
	dir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(dir, ".dav-sync", "state.db"), nil
}

// AppVersion returns the application version recorded at the last
// upgrade check, or "" on first run.
func (s *State) AppVersion() string {
	var v string

	_ = s.db.View(func(tx *bolt.Tx) error {
		v = string(tx.Bucket(appBucket).Get(appVersionKey))
		return nil
	})

	return v
}

// SetAppVersion records the running application version.
func (s *State) SetAppVersion(version string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(appBucket).Put(appVersionKey, []byte(version))
	})
}

// UpdateHandled reports whether the one-shot upgrade trigger already
// fired for the recorded application version.
func (s *State) UpdateHandled() bool {
	var handled bool

	_ = s.db.View(func(tx *bolt.Tx) error {
		handled = getBool(tx.Bucket(appBucket), updateHandledKey, false)
		return nil
	})

	return handled
}

// SetUpdateHandled persists the upgrade trigger flag.
func (s *State) SetUpdateHandled(handled bool) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putBool(tx.Bucket(appBucket), updateHandledKey, handled)
	})
}

// AutoSync returns the device-wide master auto-sync switch. It defaults
// to on.
func (s *State) AutoSync() bool {
	enabled := true

	_ = s.db.View(func(tx *bolt.Tx) error {
		enabled = getBool(tx.Bucket(appBucket), masterAutoSync, true)
		return nil
	})

	return enabled
}

// SetAutoSync flips the master auto-sync switch.
func (s *State) SetAutoSync(enabled bool) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putBool(tx.Bucket(appBucket), masterAutoSync, enabled)
	})
}

func getBool(b *bolt.Bucket, key []byte, def bool) bool {
	if b == nil {
		return def
	}

	v := b.Get(key)
	if v == nil {
		return def
	}

	parsed, err := strconv.ParseBool(string(v))
	if err != nil {
		return def
	}

	return parsed
}

func putBool(b *bolt.Bucket, key []byte, v bool) error {
	return b.Put(key, []byte(strconv.FormatBool(v)))
}

// getInt64 returns the decimal integer stored at key, or nil when absent.
func getInt64(b *bolt.Bucket, key []byte) (*int64, error) {
	if b == nil {
		return nil, nil
	}

	v := b.Get(key)
	if v == nil {
		return nil, nil
	}

	n, err := strconv.ParseInt(string(v), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", key, err)
	}

	return &n, nil
}

// putInt64 stores v at key, deleting the key when v is nil.
func putInt64(b *bolt.Bucket, key []byte, v *int64) error {
	if v == nil {
		return b.Delete(key)
	}

	return b.Put(key, []byte(strconv.FormatInt(*v, 10)))
}
