package state

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// Kind identifies a collection type in the local cache.
type Kind string

const (
	KindCalendar    Kind = "calendar"
	KindAddressbook Kind = "addressbook"
)

// Kinds lists every collection kind held in the cache.
var Kinds = []Kind{KindCalendar, KindAddressbook}

func collectionsBucket(account string, kind Kind) []byte {
	return accountBucket(account, "collections:"+string(kind))
}

func recordsBucket(account, collection string) []byte {
	return accountBucket(account, "records:"+collection)
}

// Collection is a locally cached remote calendar or addressbook.
type Collection struct {
	Path        string `json:"path"`
	DisplayName string `json:"display_name"`
	Color       string `json:"color"`
}

// Record is a locally cached contact or event. Data holds plaintext.
// Dirty marks records that must be pushed on the next sync pass.
type Record struct {
	Href  string `json:"href"`
	ETag  string `json:"etag"`
	Data  []byte `json:"data"`
	Dirty bool   `json:"dirty"`
}

// Collections returns every cached collection of a kind, ordered by path.
func (s *State) Collections(account string, kind Kind) ([]Collection, error) {
	var cols []Collection

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(collectionsBucket(account, kind))
		if b == nil {
			return nil
		}

		return b.ForEach(func(k, v []byte) error {
			var c Collection
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}

			cols = append(cols, c)

			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s collections: %w", kind, err)
	}

	return cols, nil
}

// Collection returns a cached collection, or nil if it is not cached.
func (s *State) Collection(account string, kind Kind, path string) (*Collection, error) {
	var c *Collection

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(collectionsBucket(account, kind))
		if b == nil {
			return nil
		}

		v := b.Get([]byte(path))
		if v == nil {
			return nil
		}

		c = &Collection{}

		return json.Unmarshal(v, c)
	})

	return c, err
}

// PutCollection inserts or replaces a cached collection.
func (s *State) PutCollection(account string, kind Kind, c Collection) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(collectionsBucket(account, kind))
		if err != nil {
			return err
		}

		data, err := json.Marshal(c)
		if err != nil {
			return err
		}

		return b.Put([]byte(c.Path), data)
	})
}

// DeleteCollection removes a cached collection together with its records.
func (s *State) DeleteCollection(account string, kind Kind, path string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if b := tx.Bucket(collectionsBucket(account, kind)); b != nil {
			if err := b.Delete([]byte(path)); err != nil {
				return err
			}
		}

		if tx.Bucket(recordsBucket(account, path)) == nil {
			return nil
		}

		return tx.DeleteBucket(recordsBucket(account, path))
	})
}

// Records returns every cached record of a collection.
func (s *State) Records(account, collection string) ([]Record, error) {
	return s.records(account, collection, false)
}

// DirtyRecords returns the records of a collection awaiting a push.
func (s *State) DirtyRecords(account, collection string) ([]Record, error) {
	return s.records(account, collection, true)
}

func (s *State) records(account, collection string, dirtyOnly bool) ([]Record, error) {
	var recs []Record

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(recordsBucket(account, collection))
		if b == nil {
			return nil
		}

		return b.ForEach(func(k, v []byte) error {
			var r Record
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}

			if dirtyOnly && !r.Dirty {
				return nil
			}

			recs = append(recs, r)

			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("listing records of %s: %w", collection, err)
	}

	return recs, nil
}

// PutRecord inserts or replaces a cached record.
func (s *State) PutRecord(account, collection string, r Record) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(recordsBucket(account, collection))
		if err != nil {
			return err
		}

		data, err := json.Marshal(r)
		if err != nil {
			return err
		}

		return b.Put([]byte(r.Href), data)
	})
}

// ClearDirty marks a pushed record clean and stores the ETag the server
// returned for it. A record that vanished in the meantime is ignored.
func (s *State) ClearDirty(account, collection, href, etag string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(recordsBucket(account, collection))
		if b == nil {
			return nil
		}

		v := b.Get([]byte(href))
		if v == nil {
			return nil
		}

		var r Record
		if err := json.Unmarshal(v, &r); err != nil {
			return err
		}

		r.Dirty = false
		r.ETag = etag

		data, err := json.Marshal(r)
		if err != nil {
			return err
		}

		return b.Put([]byte(href), data)
	})
}

// QueueAllRecordsForMigration marks every cached record of every
// collection dirty in one transaction so the next sync pass re-pushes it.
// Records already dirty are left untouched, which makes the call safe to
// repeat. It returns the number of records newly queued.
func (s *State) QueueAllRecordsForMigration(account string) (int, error) {
	queued := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		for _, kind := range Kinds {
			cols := tx.Bucket(collectionsBucket(account, kind))
			if cols == nil {
				continue
			}

			err := cols.ForEach(func(path, _ []byte) error {
				recs := tx.Bucket(recordsBucket(account, string(path)))
				if recs == nil {
					return nil
				}

				// Collect first: bolt forbids mutating a bucket while
				// iterating it with ForEach.
				var pending []Record

				err := recs.ForEach(func(_, v []byte) error {
					var r Record
					if err := json.Unmarshal(v, &r); err != nil {
						return err
					}

					if !r.Dirty {
						pending = append(pending, r)
					}

					return nil
				})
				if err != nil {
					return err
				}

				for _, r := range pending {
					r.Dirty = true

					data, err := json.Marshal(r)
					if err != nil {
						return err
					}

					if err := recs.Put([]byte(r.Href), data); err != nil {
						return err
					}
				}

				queued += len(pending)

				return nil
			})
			if err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("queueing records for migration: %w", err)
	}

	return queued, nil
}

// PendingRecords counts the dirty records across every cached
// collection of the account.
func (s *State) PendingRecords(account string) (int, error) {
	pending := 0

	err := s.db.View(func(tx *bolt.Tx) error {
		for _, kind := range Kinds {
			cols := tx.Bucket(collectionsBucket(account, kind))
			if cols == nil {
				continue
			}

			err := cols.ForEach(func(path, _ []byte) error {
				recs := tx.Bucket(recordsBucket(account, string(path)))
				if recs == nil {
					return nil
				}

				return recs.ForEach(func(_, v []byte) error {
					var r Record
					if err := json.Unmarshal(v, &r); err != nil {
						return err
					}

					if r.Dirty {
						pending++
					}

					return nil
				})
			})
			if err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("counting pending records: %w", err)
	}

	return pending, nil
}
