package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/alphabill-org/wsv/executor"
	"github.com/alphabill-org/wsv/logger"
	"github.com/alphabill-org/wsv/session"
	"github.com/alphabill-org/wsv/types"
	"github.com/alphabill-org/wsv/wsv"
)

const blockSavepoint = "block_apply"

type msState int

const (
	msOpen msState = iota
	msCommitted
	msRolledBack
)

type (
	/*
	MutableStorage applies blocks to the world state view inside a session which
	is committed by StorageImpl.Commit. Failed block is rolled back entirely,
	blocks applied before it are kept. Close rolls the session back unless it
	has been committed.

	MutableStorage must not be used concurrently.
	*/
	MutableStorage struct {
		owner    *StorageImpl
		ses      session.Session
		wsv      *wsv.Writer
		exec     *executor.Executor
		peers    *PeerQuery
		validate bool
		log      *slog.Logger
		metrics  *metrics

		// ledger state the storage was created on
		base LedgerState
		top  LedgerState
		// applied blocks by height, heights in the order of application
		blocks  map[uint64]*types.Block
		heights []uint64
		state   msState
	}

	// ChainPredicate decides whether the block can be applied on top of the
	// block with hash topHash.
	ChainPredicate func(b *types.Block, peers *PeerQuery, topHash types.Hash) bool
)

func newMutableStorage(owner *StorageImpl, ses session.Session, validate bool) *MutableStorage {
	w := wsv.NewCommand(ses)
	ledger := owner.LedgerState()
	return &MutableStorage{
		owner:    owner,
		ses:      ses,
		wsv:      w,
		exec:     executor.New(w, w),
		peers:    NewPeerQuery(w),
		validate: validate,
		log:      owner.log,
		metrics:  owner.metrics,
		base:     ledger,
		top:      ledger,
		blocks:   make(map[uint64]*types.Block),
	}
}

// ExtendsTop is a ChainPredicate accepting blocks which directly follow the top block.
func ExtendsTop(b *types.Block, _ *PeerQuery, topHash types.Hash) bool {
	return b.PrevHash.Eq(topHash)
}

// Apply applies the block and reports whether it succeeded. When any of the
// commands fails the world state is left as it was before the call.
func (ms *MutableStorage) Apply(b *types.Block) bool {
	return ms.applyBlock(b, nil) == nil
}

// ApplyIf applies the block when predicate accepts it, see Apply.
func (ms *MutableStorage) ApplyIf(b *types.Block, predicate ChainPredicate) bool {
	return ms.applyBlock(b, predicate) == nil
}

// Check evaluates predicate against the block and current top hash without
// changing the state.
func (ms *MutableStorage) Check(b *types.Block, predicate ChainPredicate) bool {
	return predicate(b, ms.peers, ms.top.TopHash())
}

func (ms *MutableStorage) applyBlock(b *types.Block, predicate ChainPredicate) (rErr error) {
	if ms.state != msOpen {
		return ErrStorageDone
	}
	if err := b.IsValid(); err != nil {
		return fmt.Errorf("invalid block: %w", err)
	}
	hash, err := b.Hash()
	if err != nil {
		return fmt.Errorf("hashing block: %w", err)
	}
	if predicate != nil && !ms.Check(b, predicate) {
		ms.log.Warn(fmt.Sprintf("block %d does not satisfy the predicate", b.Height), logger.Height(b.Height))
		return fmt.Errorf("%w: block %d does not satisfy the predicate", ErrBlockRejected, b.Height)
	}
	defer func() {
		ctx := context.Background()
		if rErr != nil {
			ms.metrics.blockRejected.Add(ctx, 1)
		} else {
			ms.metrics.blockApplied.Add(ctx, 1)
		}
	}()

	sp, err := newSavepoint(ms.ses, blockSavepoint, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := sp.Close(); err != nil {
			rErr = errors.Join(rErr, err)
		}
	}()

	for i, tx := range b.Transactions {
		for _, cmd := range tx.Commands {
			if err := ms.exec.Execute(tx.CreatorAccountID, cmd, ms.validate); err != nil {
				ms.log.Warn(err.Error(), logger.Height(b.Height), logger.TxHash(tx.MustHash()), logger.Account(tx.CreatorAccountID))
				return fmt.Errorf("%w: transaction %d of block %d: %w", ErrBlockRejected, i, b.Height, err)
			}
		}
	}
	if err := ms.wsv.IndexBlock(b); err != nil {
		return fmt.Errorf("indexing block %d: %w", b.Height, err)
	}
	if err := ms.wsv.SetTop(&wsv.Top{Height: b.Height, Hash: hash, PrevHash: b.PrevHash}); err != nil {
		return err
	}
	if err := sp.Release(); err != nil {
		return err
	}
	if _, ok := ms.blocks[b.Height]; !ok {
		ms.heights = append(ms.heights, b.Height)
	}
	ms.blocks[b.Height] = b
	ms.top = LedgerState{Height: b.Height, Hash: hash}
	return nil
}

// Block returns the applied block with given height.
func (ms *MutableStorage) Block(height uint64) (*types.Block, bool) {
	b, ok := ms.blocks[height]
	return b, ok
}

// Blocks returns applied blocks in ascending order of height.
func (ms *MutableStorage) Blocks() []*types.Block {
	heights := slices.Clone(ms.heights)
	slices.Sort(heights)
	res := make([]*types.Block, 0, len(heights))
	for _, h := range heights {
		res = append(res, ms.blocks[h])
	}
	return res
}

// Top returns the state of the last applied block.
func (ms *MutableStorage) Top() LedgerState {
	return ms.top
}

// Query returns query of the (uncommitted) state of the storage.
func (ms *MutableStorage) Query() wsv.Query {
	return ms.wsv
}

// BlockIndex returns block index lookups of the (uncommitted) state.
func (ms *MutableStorage) BlockIndex() *wsv.Reader {
	return ms.wsv.Reader
}

// Close rolls back the session unless the storage has been committed.
func (ms *MutableStorage) Close() error {
	if ms.state != msOpen {
		return nil
	}
	ms.state = msRolledBack
	if err := ms.ses.Rollback(); err != nil {
		return fmt.Errorf("rolling back mutable storage: %w", err)
	}
	return nil
}
