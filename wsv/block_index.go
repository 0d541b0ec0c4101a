package wsv

import (
	"fmt"

	"github.com/alphabill-org/wsv/types"
)

// TxPosition locates a transaction in the chain. Rejected transactions are not
// part of the block body, only their hashes are, Index is zero for them.
type TxPosition struct {
	_        struct{} `cbor:",toarray"`
	Hash     types.Hash
	Height   uint64
	Index    uint32
	Rejected bool
}

// IndexBlock adds the transactions of the block to the block index: by hash,
// by creator account and for transfers by (account, asset) of both parties.
func (w *Writer) IndexBlock(b *types.Block) error {
	for i, tx := range b.Transactions {
		hash, err := tx.Hash()
		if err != nil {
			return fmt.Errorf("hashing transaction %d of block %d: %w", i, b.Height, err)
		}
		pos := &TxPosition{Hash: hash, Height: b.Height, Index: uint32(i)}
		if err := w.put(txKey(hash), pos); err != nil {
			return fmt.Errorf("indexing transaction %s: %w", hash, err)
		}
		if err := w.put(accountTxKey(tx.CreatorAccountID, pos.Height, pos.Index), pos); err != nil {
			return fmt.Errorf("indexing transaction %s: %w", hash, err)
		}
		for _, cmd := range tx.Commands {
			transfer, ok := cmd.(*types.TransferAsset)
			if !ok {
				continue
			}
			for _, acc := range []types.AccountID{transfer.SrcAccountID, transfer.DestAccountID} {
				if err := w.put(transferTxKey(acc, transfer.AssetID, pos.Height, pos.Index), pos); err != nil {
					return fmt.Errorf("indexing transfer %s: %w", hash, err)
				}
			}
		}
	}
	for _, hash := range b.RejectedTxHashes {
		pos := &TxPosition{Hash: hash, Height: b.Height, Rejected: true}
		if err := w.put(txKey(hash), pos); err != nil {
			return fmt.Errorf("indexing rejected transaction %s: %w", hash, err)
		}
	}
	return nil
}

// GetTxPosition returns position of the committed or rejected transaction, ErrNotFound when
// the transaction is not in the index.
func (q *Reader) GetTxPosition(hash types.Hash) (*TxPosition, error) {
	pos := &TxPosition{}
	if err := q.read(txKey(hash), pos); err != nil {
		return nil, fmt.Errorf("transaction %s: %w", hash, err)
	}
	return pos, nil
}

// GetAccountTxPositions returns positions of the transactions created by the account in chain order.
func (q *Reader) GetAccountTxPositions(id types.AccountID) ([]*TxPosition, error) {
	res, err := q.positions(accountTxPrefix(id))
	if err != nil {
		return nil, fmt.Errorf("transactions of %q: %w", id, err)
	}
	return res, nil
}

// GetTransferTxPositions returns positions of the transactions transferring the asset
// to or from the account in chain order.
func (q *Reader) GetTransferTxPositions(id types.AccountID, asset types.AssetID) ([]*TxPosition, error) {
	res, err := q.positions(transferTxPrefix(id, asset))
	if err != nil {
		return nil, fmt.Errorf("transfers of %q of %q: %w", asset, id, err)
	}
	return res, nil
}

func (q *Reader) positions(prefix []byte) ([]*TxPosition, error) {
	var res []*TxPosition
	err := q.scan(prefix, func(_, value []byte) error {
		pos := &TxPosition{}
		if err := types.Cbor.Unmarshal(value, pos); err != nil {
			return err
		}
		res = append(res, pos)
		return nil
	})
	return res, err
}
