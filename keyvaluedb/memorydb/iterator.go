package memorydb

import (
	"bytes"
	"errors"
	"slices"
)

type entry struct {
	key   []byte
	value []byte
}

// itr iterates over a sorted copy of the database, later writes are not visible through it.
type itr struct {
	entries []entry
	decoder DecodeFn
	// -1 when the iterator is exhausted
	pos int
}

func newIterator(data map[string][]byte, d DecodeFn) *itr {
	entries := make([]entry, 0, len(data))
	for k, v := range data {
		entries = append(entries, entry{key: []byte(k), value: v})
	}
	slices.SortFunc(entries, func(a, b entry) int { return bytes.Compare(a.key, b.key) })
	return &itr{entries: entries, decoder: d, pos: -1}
}

func (it *itr) first() {
	if len(it.entries) > 0 {
		it.pos = 0
	}
}

func (it *itr) last() {
	it.pos = len(it.entries) - 1
}

// seek positions the iterator at the first key which is not less than "key".
func (it *itr) seek(key []byte) {
	idx, _ := slices.BinarySearchFunc(it.entries, key, func(e entry, k []byte) int { return bytes.Compare(e.key, k) })
	if idx < len(it.entries) {
		it.pos = idx
	}
}

func (it *itr) Next() {
	if !it.Valid() {
		return
	}
	if it.pos++; it.pos == len(it.entries) {
		it.pos = -1
	}
}

func (it *itr) Prev() {
	if it.Valid() {
		it.pos--
	}
}

func (it *itr) Valid() bool {
	return it.pos >= 0
}

func (it *itr) Key() []byte {
	if !it.Valid() {
		return nil
	}
	return it.entries[it.pos].key
}

func (it *itr) Value(v any) error {
	if !it.Valid() {
		return errors.New("iterator is exhausted")
	}
	return it.decoder(it.entries[it.pos].value, v)
}

func (it *itr) Close() error {
	return nil
}
