package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cockroachdb/pebble/v2"
)

// DB is the client's local key-value database. Session credentials and chat
// transcripts share one pebble instance because pebble locks its directory.
type DB struct {
	db *pebble.DB
}

// Open creates dir if needed and opens the pebble database inside it.
func Open(dir string) (*DB, error) {
	if dir == "" {
		return nil, fmt.Errorf("open store: empty data directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	pdb, err := pebble.Open(filepath.Join(filepath.Clean(dir), "pebble"), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble db: %w", err)
	}
	return &DB{db: pdb}, nil
}

// Close flushes and releases the database.
func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

// get copies the value stored at key. found is false when the key is absent.
func (d *DB) get(key []byte) (value []byte, found bool, err error) {
	data, closer, err := d.db.Get(key)
	if err != nil {
		if err == pebble.ErrNotFound {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer closer.Close()

	buf := make([]byte, len(data))
	copy(buf, data)
	return buf, true, nil
}

// upperBound returns the smallest key greater than every key with prefix.
func upperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
