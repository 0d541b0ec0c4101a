package boltdb

import (
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/alphabill-org/wsv/keyvaluedb"
)

// Tx is read-write bolt transaction, bolt allows only one at a time per database.
type Tx struct {
	tx  *bolt.Tx
	b   *bolt.Bucket
	enc EncodeFn
	dec DecodeFn
}

func (t *Tx) Read(key []byte, v any) (bool, error) {
	if err := keyvaluedb.CheckKeyAndValue(key, v); err != nil {
		return false, err
	}
	if t.tx.DB() == nil {
		return false, mapError(bolt.ErrTxClosed)
	}
	data := t.b.Get(key)
	if data == nil {
		return false, nil
	}
	return true, t.dec(data, v)
}

func (t *Tx) Write(key []byte, value any) error {
	if err := keyvaluedb.CheckKeyAndValue(key, value); err != nil {
		return err
	}
	b, err := t.enc(value)
	if err != nil {
		return fmt.Errorf("encoding value of %X: %w", key, err)
	}
	return mapError(t.b.Put(key, b))
}

func (t *Tx) Delete(key []byte) error {
	if err := keyvaluedb.CheckKey(key); err != nil {
		return err
	}
	return mapError(t.b.Delete(key))
}

func (t *Tx) Rollback() error {
	return mapError(t.tx.Rollback())
}

func (t *Tx) Commit() error {
	return mapError(t.tx.Commit())
}
