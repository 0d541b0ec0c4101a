package boltdb

import (
	"errors"

	bolt "go.etcd.io/bbolt"
)

// itr holds a read-only bolt transaction open until Close is called.
type itr struct {
	tx      *bolt.Tx
	cursor  *bolt.Cursor
	decoder DecodeFn
	key     []byte
	value   []byte
}

// newIterator returns exhausted iterator when the read transaction can't be started.
func newIterator(db *bolt.DB, bucket []byte, d DecodeFn) *itr {
	tx, err := db.Begin(false)
	if err != nil {
		return &itr{}
	}
	return &itr{tx: tx, cursor: tx.Bucket(bucket).Cursor(), decoder: d}
}

func (it *itr) move(to func() ([]byte, []byte)) {
	if it.cursor != nil {
		it.key, it.value = to()
	}
}

func (it *itr) Next() {
	if it.Valid() {
		it.move(it.cursor.Next)
	}
}

func (it *itr) Prev() {
	if it.Valid() {
		it.move(it.cursor.Prev)
	}
}

func (it *itr) Valid() bool {
	return it.key != nil
}

func (it *itr) Key() []byte {
	return it.key
}

func (it *itr) Value(v any) error {
	if !it.Valid() {
		return errors.New("iterator is exhausted")
	}
	return it.decoder(it.value, v)
}

func (it *itr) Close() error {
	it.key, it.value, it.cursor = nil, nil, nil
	if it.tx == nil {
		return nil
	}
	tx := it.tx
	it.tx = nil
	return tx.Rollback()
}
