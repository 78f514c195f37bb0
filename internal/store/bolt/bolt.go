// Package bolt is a durable store.Backend on top of bbolt. Each entity kind
// is a top-level bucket; compare-and-swap runs inside a single read-write
// transaction.
package bolt

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"conductor/internal/store"
)

const (
	defaultMode        = 0600
	defaultOpenTimeout = 5 * time.Second
)

var buckets = []string{
	store.BucketDefinitions,
	store.BucketInstances,
	store.BucketParticipants,
}

// Backend is a bbolt-backed store.Backend.
type Backend struct {
	db *bbolt.DB
}

// Open opens (creating if needed) the database file at path and makes sure
// every bucket exists.
func Open(path string) (*Backend, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	db, err := bbolt.Open(path, defaultMode, &bbolt.Options{Timeout: defaultOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &Backend{db: db}, nil
}

// OpenStore opens the database at path and wraps it in a store.Store.
func OpenStore(path string) (*store.Store, error) {
	b, err := Open(path)
	if err != nil {
		return nil, err
	}
	return store.New(b), nil
}

func bucket(tx *bbolt.Tx, name string) (*bbolt.Bucket, error) {
	b := tx.Bucket([]byte(name))
	if b == nil {
		return nil, fmt.Errorf("bucket %s does not exist", name)
	}
	return b, nil
}

// Get implements store.Backend.
func (b *Backend) Get(ctx context.Context, name, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		bk, err := bucket(tx, name)
		if err != nil {
			return err
		}
		if v := bk.Get([]byte(key)); v != nil {
			// Values are only valid for the life of the transaction.
			out = append([]byte(nil), v...)
		}
		return nil
	})
	return out, err
}

// Put implements store.Backend.
func (b *Backend) Put(ctx context.Context, name, key string, value []byte, check func([]byte) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		bk, err := bucket(tx, name)
		if err != nil {
			return err
		}
		if check != nil {
			var current []byte
			if v := bk.Get([]byte(key)); v != nil {
				current = append([]byte(nil), v...)
			}
			if err := check(current); err != nil {
				return err
			}
		}
		return bk.Put([]byte(key), value)
	})
}

// Delete implements store.Backend.
func (b *Backend) Delete(ctx context.Context, name, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		bk, err := bucket(tx, name)
		if err != nil {
			return err
		}
		return bk.Delete([]byte(key))
	})
}

// List implements store.Backend. Values are returned in key order.
func (b *Backend) List(ctx context.Context, name string) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out [][]byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		bk, err := bucket(tx, name)
		if err != nil {
			return err
		}
		return bk.ForEach(func(_, v []byte) error {
			out = append(out, append([]byte(nil), v...))
			return nil
		})
	})
	return out, err
}

// Close implements store.Backend.
func (b *Backend) Close() error {
	return b.db.Close()
}
