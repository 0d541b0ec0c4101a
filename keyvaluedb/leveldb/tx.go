package leveldb

import (
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"

	"github.com/alphabill-org/wsv/keyvaluedb"
)

// Tx wraps leveldb transaction. While the transaction is open all writes
// outside of it are blocked.
type Tx struct {
	tx  *leveldb.Transaction
	enc EncodeFn
	dec DecodeFn
}

func (t *Tx) Read(key []byte, v any) (bool, error) {
	if err := keyvaluedb.CheckKeyAndValue(key, v); err != nil {
		return false, err
	}
	data, err := t.tx.Get(key, nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("leveldb tx read failed, %w", err)
	}
	return true, t.dec(data, v)
}

func (t *Tx) Write(key []byte, value any) error {
	if err := keyvaluedb.CheckKeyAndValue(key, value); err != nil {
		return err
	}
	b, err := t.enc(value)
	if err != nil {
		return err
	}
	return t.tx.Put(key, b, nil)
}

func (t *Tx) Delete(key []byte) error {
	if err := keyvaluedb.CheckKey(key); err != nil {
		return err
	}
	return t.tx.Delete(key, nil)
}

func (t *Tx) Rollback() error {
	t.tx.Discard()
	return nil
}

func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return mapError(err)
	}
	return nil
}
