package bolt

import (
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/fastygo/tasksync/repository"
)

const defaultBucket = "cache"

// Cache is a LocalCache persisted in a single BoltDB bucket.
type Cache struct {
	db     *bolt.DB
	bucket []byte
}

// Open initializes the BoltDB file and ensures the bucket exists.
func Open(path string, bucket string) (*Cache, error) {
	if bucket == "" {
		bucket = defaultBucket
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucket))
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}

	return &Cache{db: db, bucket: []byte(bucket)}, nil
}

func (c *Cache) Read(key string) ([]byte, bool, error) {
	if c == nil || c.db == nil {
		return nil, false, bolt.ErrDatabaseNotOpen
	}
	var out []byte
	err := c.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(c.bucket).Get([]byte(key))
		if v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, out != nil, nil
}

func (c *Cache) Write(key string, value []byte) error {
	if c == nil || c.db == nil {
		return bolt.ErrDatabaseNotOpen
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(c.bucket).Put([]byte(key), value)
	})
}

func (c *Cache) Remove(key string) error {
	if c == nil || c.db == nil {
		return bolt.ErrDatabaseNotOpen
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(c.bucket).Delete([]byte(key))
	})
}

// Close closes the Bolt database.
func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Ping reports whether the database file is still usable.
func (c *Cache) Ping() error {
	if c == nil || c.db == nil {
		return bolt.ErrDatabaseNotOpen
	}
	return c.db.View(func(tx *bolt.Tx) error { return nil })
}

var _ repository.LocalCache = (*Cache)(nil)
