package storage

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/patrickmn/go-cache"

	"github.com/alphabill-org/wsv/logger"
	"github.com/alphabill-org/wsv/types"
	"github.com/alphabill-org/wsv/wsv"
)

type TxStatus int

const (
	TxMissing TxStatus = iota
	TxCommitted
	TxRejected
	// TxUnknown means the store could not be reached
	TxUnknown
)

func (s TxStatus) String() string {
	switch s {
	case TxMissing:
		return "missing"
	case TxCommitted:
		return "committed"
	case TxRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

type (
	TxPresence struct {
		Status TxStatus
		Hash   types.Hash
		// Height of the block the transaction was committed or rejected in
		Height uint64
	}

	// BlockQuery reads committed blocks and the block index.
	BlockQuery struct {
		blocks *BlockStore
		index  *wsv.Reader
		// tx hash -> *TxPresence, only final answers are cached
		cache *cache.Cache
		log   *slog.Logger
	}
)

func newBlockQuery(blocks *BlockStore, index *wsv.Reader, c *cache.Cache, log *slog.Logger) *BlockQuery {
	return &BlockQuery{blocks: blocks, index: index, cache: c, log: log}
}

func (q *BlockQuery) GetBlock(height uint64) (*types.Block, error) {
	return q.blocks.Get(height)
}

// GetBlocks returns at most count blocks starting from height "from".
func (q *BlockQuery) GetBlocks(from uint64, count int) ([]*types.Block, error) {
	var res []*types.Block
	err := q.blocks.ForEach(from, func(b *types.Block) (bool, error) {
		res = append(res, b)
		return len(res) < count, nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// GetTopBlock returns the last committed block, ErrBlockNotFound when there are no blocks.
func (q *BlockQuery) GetTopBlock() (*types.Block, error) {
	b, err := q.blocks.Top()
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, ErrBlockNotFound
	}
	return b, nil
}

func (q *BlockQuery) GetTopBlockHeight() (uint64, error) {
	b, err := q.blocks.Top()
	if err != nil {
		return 0, err
	}
	return b.GetHeight(), nil
}

/*
CheckTxPresence reports whether the transaction has been committed or rejected.
When the index can not be read the status is TxUnknown, never TxMissing.
*/
func (q *BlockQuery) CheckTxPresence(hash types.Hash) TxPresence {
	key := string(hash)
	if v, ok := q.cache.Get(key); ok {
		return *v.(*TxPresence)
	}
	pos, err := q.index.GetTxPosition(hash)
	switch {
	case errors.Is(err, wsv.ErrNotFound):
		return TxPresence{Status: TxMissing, Hash: hash}
	case err != nil:
		q.log.Warn(fmt.Sprintf("checking presence of transaction %s", hash), logger.Error(err))
		return TxPresence{Status: TxUnknown, Hash: hash}
	}
	res := &TxPresence{Status: TxCommitted, Hash: hash, Height: pos.Height}
	if pos.Rejected {
		res.Status = TxRejected
	}
	q.cache.SetDefault(key, res)
	return *res
}

// GetTransaction returns the committed transaction with given hash.
func (q *BlockQuery) GetTransaction(hash types.Hash) (*types.Transaction, error) {
	pos, err := q.index.GetTxPosition(hash)
	if err != nil {
		return nil, err
	}
	return q.transactionAt(pos)
}

func (q *BlockQuery) transactionAt(pos *wsv.TxPosition) (*types.Transaction, error) {
	if pos.Rejected {
		return nil, fmt.Errorf("transaction %s was rejected: %w", pos.Hash, wsv.ErrNotFound)
	}
	b, err := q.blocks.Get(pos.Height)
	if err != nil {
		return nil, err
	}
	if int(pos.Index) >= len(b.Transactions) {
		return nil, fmt.Errorf("block %d has no transaction %d", pos.Height, pos.Index)
	}
	return b.Transactions[pos.Index], nil
}
