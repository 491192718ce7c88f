package storage

import (
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	ldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Database wraps LevelDB with chain-specific operations. The node runs
// it over an in-memory backend; state does not survive a restart.
type Database struct {
	db *leveldb.DB
}

// OpenMemory opens a LevelDB instance backed by memory storage.
func OpenMemory() (*Database, error) {
	db, err := leveldb.Open(ldbstorage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &Database{db: db}, nil
}

// Close closes the database.
func (db *Database) Close() error {
	return db.db.Close()
}

// Get retrieves value for key. Returns nil for a missing key.
func (db *Database) Get(key []byte) ([]byte, error) {
	value, err := db.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	return value, err
}

// Put stores key-value pair.
func (db *Database) Put(key, value []byte) error {
	return db.db.Put(key, value, nil)
}

// Has checks if key exists.
func (db *Database) Has(key []byte) (bool, error) {
	return db.db.Has(key, nil)
}

// Iterator for prefix range queries.
type Iterator struct {
	iter iterator.Iterator
}

// NewIterator creates an iterator over all keys with the prefix.
func (db *Database) NewIterator(prefix []byte) *Iterator {
	iter := db.db.NewIterator(util.BytesPrefix(prefix), nil)
	return &Iterator{iter: iter}
}

// Next moves to the next key.
func (it *Iterator) Next() bool {
	return it.iter.Next()
}

// Key returns the current key.
func (it *Iterator) Key() []byte {
	return it.iter.Key()
}

// Value returns the current value.
func (it *Iterator) Value() []byte {
	return it.iter.Value()
}

// Release releases iterator resources.
func (it *Iterator) Release() {
	it.iter.Release()
}

// Error returns any error encountered during iteration.
func (it *Iterator) Error() error {
	return it.iter.Error()
}
