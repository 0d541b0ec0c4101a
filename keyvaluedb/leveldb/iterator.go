package leveldb

import (
	"bytes"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
)

type Itr struct {
	it      iterator.Iterator
	decoder DecodeFn
	valid   bool
}

func newIterator(db *leveldb.DB, d DecodeFn) *Itr {
	return &Itr{it: db.NewIterator(nil, nil), decoder: d}
}

func (it *Itr) first() {
	it.valid = it.it.First()
}

func (it *Itr) last() {
	it.valid = it.it.Last()
}

func (it *Itr) seek(key []byte) {
	it.valid = it.it.Seek(key)
}

func (it *Itr) Next() {
	if !it.Valid() {
		return
	}
	it.valid = it.it.Next()
}

func (it *Itr) Prev() {
	if !it.Valid() {
		return
	}
	it.valid = it.it.Prev()
}

func (it *Itr) Valid() bool {
	return it.valid
}

// Key returns copy of the current key, leveldb reuses the underlying buffer.
func (it *Itr) Key() []byte {
	if !it.Valid() {
		return nil
	}
	return bytes.Clone(it.it.Key())
}

func (it *Itr) Value(v any) error {
	if !it.Valid() {
		return fmt.Errorf("iterator invalid")
	}
	return it.decoder(it.it.Value(), v)
}

func (it *Itr) Close() error {
	it.valid = false
	it.it.Release()
	return nil
}
