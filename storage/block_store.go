package storage

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/alphabill-org/wsv/keyvaluedb"
	"github.com/alphabill-org/wsv/types"
)

var ErrBlockNotFound = errors.New("block not found")

const blockPrefix = "block/"

// BlockStore keeps committed blocks in a key-value database keyed by height.
type BlockStore struct {
	db keyvaluedb.KeyValueDB
}

func NewBlockStore(db keyvaluedb.KeyValueDB) (*BlockStore, error) {
	if db == nil {
		return nil, errors.New("block database is nil")
	}
	return &BlockStore{db: db}, nil
}

func blockKey(height uint64) []byte {
	return binary.BigEndian.AppendUint64([]byte(blockPrefix), height)
}

func (bs *BlockStore) Get(height uint64) (*types.Block, error) {
	b := &types.Block{}
	found, err := bs.db.Read(blockKey(height), b)
	if err != nil {
		return nil, fmt.Errorf("reading block %d: %w", height, err)
	}
	if !found {
		return nil, fmt.Errorf("block %d: %w", height, ErrBlockNotFound)
	}
	return b, nil
}

func (bs *BlockStore) Has(height uint64) (bool, error) {
	var b types.Block
	found, err := bs.db.Read(blockKey(height), &b)
	if err != nil {
		return false, fmt.Errorf("reading block %d: %w", height, err)
	}
	return found, nil
}

func (bs *BlockStore) Put(b *types.Block) error {
	if err := bs.db.Write(blockKey(b.Height), b); err != nil {
		return fmt.Errorf("writing block %d: %w", b.Height, err)
	}
	return nil
}

func (bs *BlockStore) Delete(height uint64) error {
	if err := bs.db.Delete(blockKey(height)); err != nil {
		return fmt.Errorf("deleting block %d: %w", height, err)
	}
	return nil
}

// Top returns the block with the greatest height, nil when the store is empty.
func (bs *BlockStore) Top() (*types.Block, error) {
	it := bs.db.Last()
	defer func() { _ = it.Close() }()
	for ; it.Valid(); it.Prev() {
		key := it.Key()
		if len(key) != len(blockPrefix)+8 || string(key[:len(blockPrefix)]) != blockPrefix {
			continue
		}
		b := &types.Block{}
		if err := it.Value(b); err != nil {
			return nil, fmt.Errorf("reading top block: %w", err)
		}
		return b, nil
	}
	// Last on a closed database returns invalid iterator
	if _, err := bs.Has(0); err != nil {
		return nil, err
	}
	return nil, nil
}

// ForEach calls fn for the blocks starting from height "from" in ascending order
// until fn returns false or error or there are no more blocks.
func (bs *BlockStore) ForEach(from uint64, fn func(b *types.Block) (bool, error)) (err error) {
	if _, err := bs.Has(from); err != nil {
		return err
	}
	it := bs.db.Find(blockKey(from))
	defer func() { err = errors.Join(err, it.Close()) }()
	for ; it.Valid(); it.Next() {
		key := it.Key()
		if len(key) != len(blockPrefix)+8 || string(key[:len(blockPrefix)]) != blockPrefix {
			break
		}
		b := &types.Block{}
		if err := it.Value(b); err != nil {
			return fmt.Errorf("reading block %d: %w", binary.BigEndian.Uint64(key[len(blockPrefix):]), err)
		}
		cont, err := fn(b)
		if err != nil || !cont {
			return err
		}
	}
	return nil
}

// Clear removes all blocks.
func (bs *BlockStore) Clear() error {
	if err := keyvaluedb.DeletePrefix(bs.db, []byte(blockPrefix)); err != nil {
		return fmt.Errorf("clearing block store: %w", err)
	}
	return nil
}

func (bs *BlockStore) Close() error {
	return bs.db.Close()
}
