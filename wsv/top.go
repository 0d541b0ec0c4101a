package wsv

import (
	"errors"
	"fmt"

	"github.com/alphabill-org/wsv/types"
)

/*
Top is the last block applied to the world state view. It is written in the
same session as the changes of the block so the view and its top are always
committed together.

Hash is empty when the block was prepared before its header was known, the block
is then identified by Height and PrevHash.
*/
type Top struct {
	_        struct{} `cbor:",toarray"`
	Height   uint64
	Hash     types.Hash
	PrevHash types.Hash
}

// Matches reports whether b is the block described by the top.
func (t *Top) Matches(b *types.Block) (bool, error) {
	if b.Height != t.Height {
		return false, nil
	}
	if len(t.Hash) == 0 {
		return b.PrevHash.Eq(t.PrevHash), nil
	}
	hash, err := b.Hash()
	if err != nil {
		return false, fmt.Errorf("hashing block %d: %w", b.Height, err)
	}
	return hash.Eq(t.Hash), nil
}

func (w *Writer) SetTop(top *Top) error {
	if err := w.put(topKey, top); err != nil {
		return fmt.Errorf("setting top block %d: %w", top.Height, err)
	}
	return nil
}

// GetTop returns the last applied block, nil when no block has been applied.
func (q *Reader) GetTop() (*Top, error) {
	top := &Top{}
	if err := q.read(topKey, top); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading top block: %w", err)
	}
	return top, nil
}
