// Package store wraps one embedded, process-exclusive key-value database per
// collection. It is the on-disk home for FolderRecords and position records
// (and, in a store of its own, the transcode cache's entry index); the
// search postings and the recent ring are in-memory views built from the
// FolderRecords.
//
// Modeled on the BadgerStore wrapper from xg2g: JSON values behind a typed
// key prefix, single db.Update per write so Badger's own transaction
// serialization gives us the "single writer per collection" guarantee the
// index and position subsystems both rely on.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
)

// DirName returns the on-disk directory name for a collection root:
// <last_segment>_<16 lower-hex digits of xxhash(cleaned path)>.
func DirName(absPath string) string {
	clean := filepath.Clean(absPath)
	last := filepath.Base(clean)
	h := xxhash.Sum64String(clean)
	return fmt.Sprintf("%s_%016x", last, h)
}

// Store is one collection's embedded key-value database.
type Store struct {
	db   *badger.DB
	path string
}

// Open creates or opens the store for a collection root under
// <dataDir>/col_db/<DirName(absPath)>/.
func Open(dataDir, absPath string) (*Store, error) {
	dir := filepath.Join(dataDir, "col_db", DirName(absPath))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: mkdir %s: %w", dir, err)
	}
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dir, err)
	}
	return &Store{db: db, path: dir}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Path is the on-disk directory backing this store.
func (s *Store) Path() string { return s.path }

// IsEmpty reports whether the store has never been written to, used by the
// startup scan to decide between a full walk and a verification walk.
func (s *Store) IsEmpty() bool {
	empty := true
	_ = s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		it.Rewind()
		empty = !it.Valid()
		return nil
	})
	return empty
}

// PutJSON marshals v and writes it under key.
func (s *Store) PutJSON(key string, v interface{}) error {
	buf, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: marshal %s: %w", key, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), buf)
	})
}

// GetJSON reads key into v. It returns badger.ErrKeyNotFound (unwrapped, so
// callers can use errors.Is) when the key is absent.
func (s *Store) GetJSON(key string, v interface{}) error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
}

// Delete removes key, silently succeeding if it did not exist.
func (s *Store) Delete(key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

// DeletePrefix removes every key under prefix.
func (s *Store) DeletePrefix(prefix string) error {
	return s.db.DropPrefix([]byte(prefix))
}

// ScanPrefix calls fn for every key/value pair under prefix. Iteration uses a
// single read-only transaction, giving callers a point-in-time snapshot.
func (s *Store) ScanPrefix(prefix string, fn func(key string, val []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			item := it.Item()
			key := string(item.Key())
			var retErr error
			err := item.Value(func(val []byte) error {
				retErr = fn(key, val)
				return nil
			})
			if err != nil {
				return err
			}
			if retErr != nil {
				return retErr
			}
		}
		return nil
	})
}

// TrimPrefix is a small helper for callers that stored "<prefix><rest>" keys
// and want just <rest> back.
func TrimPrefix(key, prefix string) string {
	return strings.TrimPrefix(key, prefix)
}
