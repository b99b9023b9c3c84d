package engine

import (
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

// BoltStore keeps every preference file as a bucket in a single bbolt database.
// Writes are synchronous and durable when they return.
type BoltStore struct {
	db *bbolt.DB
}

var _ Backend = (*BoltStore)(nil)

// OpenBolt opens (or creates) the database at path.
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt database: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Close closes the underlying database.
func (b *BoltStore) Close() error {
	return b.db.Close()
}

// Open creates the bucket for name if needed. Bolt files share the database
// permission, so mode is not applied per file.
func (b *BoltStore) Open(name string, mode Mode) (Store, error) {
	if name == "" {
		return nil, fmt.Errorf("bolt: empty file name")
	}
	err := b.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(name))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("bolt: create bucket %s: %w", name, err)
	}
	return &boltFile{db: b.db, bucket: []byte(name)}, nil
}

// Files lists all buckets, sorted.
func (b *BoltStore) Files() ([]string, error) {
	var list []string
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
			list = append(list, string(name))
			return nil
		})
	})
	sort.Strings(list)
	return list, err
}

type boltFile struct {
	db     *bbolt.DB
	bucket []byte
}

func (f *boltFile) Get(key string) (string, error) {
	var val string
	err := f.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(f.bucket)
		if b == nil {
			return ErrFileNotFound
		}
		v := b.Get([]byte(key))
		if v == nil {
			return ErrKeyNotFound
		}
		val = string(v)
		return nil
	})
	return val, err
}

func (f *boltFile) All() (map[string]string, error) {
	out := make(map[string]string)
	err := f.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(f.bucket)
		if b == nil {
			return ErrFileNotFound
		}
		return b.ForEach(func(k, v []byte) error {
			out[string(k)] = string(v)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (f *boltFile) Put(key, value string) error {
	return f.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(f.bucket)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), []byte(value))
	})
}

func (f *boltFile) Remove(key string) error {
	return f.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(f.bucket)
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
}

func (f *boltFile) Clear() error {
	return f.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(f.bucket) != nil {
			if err := tx.DeleteBucket(f.bucket); err != nil {
				return err
			}
		}
		_, err := tx.CreateBucket(f.bucket)
		return err
	})
}
