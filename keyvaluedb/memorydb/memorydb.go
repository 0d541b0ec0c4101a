package memorydb

import (
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/alphabill-org/wsv/keyvaluedb"
)

type (
	EncodeFn func(v any) ([]byte, error)
	DecodeFn func(data []byte, v any) error

	MemoryDB struct {
		db       map[string][]byte
		encoder  EncodeFn
		decoder  DecodeFn
		writeErr error
		closed   bool
		lock     sync.RWMutex
	}
)

// New creates in-memory key-value database, values are CBOR encoded like in
// the persistent backends.
func New() *MemoryDB {
	return &MemoryDB{
		db:      make(map[string][]byte),
		encoder: cbor.Marshal,
		decoder: cbor.Unmarshal,
	}
}

// Read retrieves the given key if it's present in the key-value store.
func (db *MemoryDB) Read(key []byte, value any) (bool, error) {
	db.lock.RLock()
	defer db.lock.RUnlock()

	if err := keyvaluedb.CheckKeyAndValue(key, value); err != nil {
		return false, err
	}
	if db.closed {
		return false, keyvaluedb.ErrClosed
	}
	if data, ok := db.db[string(key)]; ok {
		return true, db.decoder(data, value)
	}
	return false, nil
}

// Write inserts the given value into the key-value store.
func (db *MemoryDB) Write(key []byte, value any) error {
	db.lock.Lock()
	defer db.lock.Unlock()
	if err := keyvaluedb.CheckKeyAndValue(key, value); err != nil {
		return err
	}
	if db.closed {
		return keyvaluedb.ErrClosed
	}
	if db.writeErr != nil {
		return db.writeErr
	}
	b, err := db.encoder(value)
	if err != nil {
		return err
	}
	db.db[string(key)] = b
	return nil
}

// Delete removes the key from the key-value store.
func (db *MemoryDB) Delete(key []byte) error {
	db.lock.Lock()
	defer db.lock.Unlock()
	if err := keyvaluedb.CheckKey(key); err != nil {
		return err
	}
	if db.closed {
		return keyvaluedb.ErrClosed
	}
	delete(db.db, string(key))
	return nil
}

// First returns forward iterator to the first element in DB
func (db *MemoryDB) First() keyvaluedb.Iterator {
	db.lock.RLock()
	defer db.lock.RUnlock()
	it := newIterator(db.snapshot(), db.decoder)
	it.first()
	return it
}

// Last returns reverse iterator from the last element in DB
func (db *MemoryDB) Last() keyvaluedb.Iterator {
	db.lock.RLock()
	defer db.lock.RUnlock()
	it := newIterator(db.snapshot(), db.decoder)
	it.last()
	return it
}

// Find returns the closest binary search match
func (db *MemoryDB) Find(key []byte) keyvaluedb.Iterator {
	db.lock.RLock()
	defer db.lock.RUnlock()
	it := newIterator(db.snapshot(), db.decoder)
	it.seek(key)
	return it
}

func (db *MemoryDB) StartTx() (keyvaluedb.DBTransaction, error) {
	db.lock.RLock()
	defer db.lock.RUnlock()
	if db.closed {
		return nil, keyvaluedb.ErrClosed
	}
	tx, err := NewMapTx(db)
	if err != nil {
		return nil, fmt.Errorf("failed to start memory db tx, %w", err)
	}
	return tx, nil
}

func (db *MemoryDB) Close() error {
	db.lock.Lock()
	defer db.lock.Unlock()
	db.closed = true
	return nil
}

// Reopen makes closed database usable again, content is preserved.
func (db *MemoryDB) Reopen() {
	db.lock.Lock()
	defer db.lock.Unlock()
	db.closed = false
}

// MockWriteError makes all following writes fail with given error, nil clears it.
func (db *MemoryDB) MockWriteError(err error) {
	db.lock.Lock()
	defer db.lock.Unlock()
	db.writeErr = err
}

// Len returns number of keys in the database.
func (db *MemoryDB) Len() int {
	db.lock.RLock()
	defer db.lock.RUnlock()
	return len(db.db)
}

// snapshot returns nil map when db is closed so that iterators are exhausted.
func (db *MemoryDB) snapshot() map[string][]byte {
	if db.closed {
		return nil
	}
	return db.db
}
