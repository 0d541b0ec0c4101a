package restore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alphabill-org/wsv/logger"
	"github.com/alphabill-org/wsv/storage"
	"github.com/alphabill-org/wsv/types"
)

const defaultBatchSize = 100

type (
	Options struct {
		batchSize int
		validate  bool
	}

	Option func(*Options)

	// Restorer rebuilds the world state view by replaying the blocks of the block store.
	Restorer struct {
		log  *slog.Logger
		opts Options
	}
)

// WithBatchSize sets how many blocks are applied in a single session.
func WithBatchSize(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

/*
WithValidation makes restorer check permissions and chaining of the blocks
while replaying them. Use it when the blocks come from an untrusted source,
by default blocks are trusted to be validated already. The genesis block
is always trusted.
*/
func WithValidation() Option {
	return func(o *Options) {
		o.validate = true
	}
}

func New(log *slog.Logger, opts ...Option) *Restorer {
	r := &Restorer{log: log, opts: Options{batchSize: defaultBatchSize}}
	for _, opt := range opts {
		opt(&r.opts)
	}
	return r
}

/*
RestoreWsv resets the world state view of the storage and replays all the
blocks starting from height 1. Replay stops at the first failure, the state
is then incomplete and the storage must not be used before a successful
restore.
*/
func (r *Restorer) RestoreWsv(ctx context.Context, s storage.Storage) error {
	if err := s.ResetWsv(ctx); err != nil {
		return fmt.Errorf("restore wsv: %w", err)
	}
	height := uint64(1)
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("restore wsv: %w", err)
		}
		bq, err := s.BlockQuery()
		if err != nil {
			return fmt.Errorf("restore wsv: %w", err)
		}
		blocks, err := bq.GetBlocks(height, r.opts.batchSize)
		if err != nil {
			return fmt.Errorf("restore wsv: reading blocks from %d: %w", height, err)
		}
		if len(blocks) == 0 {
			break
		}
		for i, b := range blocks {
			if b.Height != height+uint64(i) {
				return fmt.Errorf("restore wsv: expected block %d, got %d", height+uint64(i), b.Height)
			}
		}
		if err := r.apply(ctx, s, blocks); err != nil {
			return fmt.Errorf("restore wsv: %w", err)
		}
		height += uint64(len(blocks))
		r.log.Debug(fmt.Sprintf("restored blocks up to %d", height-1), logger.Height(height-1))
	}
	r.log.Info(fmt.Sprintf("world state restored from %d block(s)", height-1), logger.Height(height-1))
	return nil
}

func (r *Restorer) apply(ctx context.Context, s storage.Storage, blocks []*types.Block) error {
	if !r.opts.validate {
		return s.InsertBlocks(ctx, blocks)
	}
	if blocks[0].Height == 1 {
		// genesis creates the accounts and roles permissions are checked against
		if err := s.InsertBlock(ctx, blocks[0]); err != nil {
			return err
		}
		if blocks = blocks[1:]; len(blocks) == 0 {
			return nil
		}
	}
	ms, err := s.CreateMutableStorage(ctx, storage.WithCommandValidation())
	if err != nil {
		return err
	}
	for _, b := range blocks {
		if !ms.ApplyIf(b, storage.ExtendsTop) {
			return errors.Join(fmt.Errorf("block %d: %w", b.Height, storage.ErrBlockRejected), ms.Close())
		}
	}
	if _, err := s.Commit(ms); err != nil {
		return fmt.Errorf("committing blocks %d..%d: %w", blocks[0].Height, blocks[len(blocks)-1].Height, err)
	}
	return nil
}
