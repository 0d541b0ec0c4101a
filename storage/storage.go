package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	EventBus "github.com/asaskevich/EventBus"
	"github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel/metric"

	"github.com/alphabill-org/wsv/logger"
	"github.com/alphabill-org/wsv/session"
	"github.com/alphabill-org/wsv/types"
	"github.com/alphabill-org/wsv/wsv"
)

var (
	ErrBlockRejected   = errors.New("block was not applied")
	ErrNoPreparedBlock = errors.New("no matching prepared block")
	ErrLedgerChanged   = errors.New("ledger has changed since the storage was created")
	ErrStorageDone     = errors.New("storage has already been committed or rolled back")
	ErrForeignStorage  = errors.New("storage was created by another storage instance")
	ErrStorageClosed   = errors.New("storage is closed")
	ErrWsvBehind       = errors.New("world state view is behind the block store")
	ErrWsvDiverged     = errors.New("world state view does not match the block store")
)

// TopicCommit is the EventBus topic committed blocks are published on.
const TopicCommit = "block:committed"

type (
	Observability interface {
		Meter(name string, opts ...metric.MeterOption) metric.Meter
		Logger() *slog.Logger
	}

	// Storage is the surface of the canonical block and world state storage.
	Storage interface {
		WsvQuery() (wsv.Query, error)
		BlockQuery() (*BlockQuery, error)
		CreatePeerQuery() (*PeerQuery, error)
		CreateQueryExecutor(creator types.AccountID) (*QueryExecutor, error)
		CreateMutableStorage(ctx context.Context, opts ...MutableStorageOption) (*MutableStorage, error)
		CreateTemporaryWsv(ctx context.Context) (*TemporaryWsv, error)
		InsertBlock(ctx context.Context, b *types.Block) error
		InsertBlocks(ctx context.Context, blocks []*types.Block) error
		Commit(ms *MutableStorage) (LedgerState, error)
		PrepareBlock(tw *TemporaryWsv) error
		CommitPrepared(ctx context.Context, b *types.Block) (LedgerState, error)
		OnCommit(fn func(b *types.Block)) (func(), error)
		LedgerState() LedgerState
		Reset(ctx context.Context) error
		ResetWsv(ctx context.Context) error
		DropStorage(ctx context.Context) error
		FreeConnections() error
	}

	// LedgerState describes the last committed block.
	LedgerState struct {
		Height uint64
		Hash   types.Hash
	}

	// StorageImpl keeps the world state view (and block index) in a session
	// store and the blocks in a key-value database.
	StorageImpl struct {
		store   session.Store
		blocks  *BlockStore
		bus     EventBus.Bus
		txCache *cache.Cache
		log     *slog.Logger
		metrics *metrics
		opts    *Options

		// commitMu serializes the commit path
		commitMu sync.Mutex
		prepared *preparedBlock
		closed   bool

		mu     sync.RWMutex
		ledger LedgerState
	}

	preparedBlock struct {
		height   uint64
		prevHash types.Hash
		txHashes []types.Hash
	}

	// dropper is implemented by stores which are able to drop their schema.
	dropper interface {
		Drop(ctx context.Context) error
	}
)

var _ Storage = (*StorageImpl)(nil)

/*
New creates storage on top of the world state store and the block store.
Ledger state is the top block recorded in the world state store, the block
store must contain that block. When the block store has blocks above it (the
process crashed before the world state was committed) ErrWsvBehind is returned
unless the storage is opened with AllowWsvBehind. A stale prepared block left
behind by a crashed process is rolled back.
*/
func New(ctx context.Context, store session.Store, blocks *BlockStore, obs Observability, opts ...Option) (*StorageImpl, error) {
	if store == nil {
		return nil, errors.New("world state store is nil")
	}
	if blocks == nil {
		return nil, errors.New("block store is nil")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if !session.ValidName(o.preparedBlockName) {
		return nil, fmt.Errorf("invalid prepared block name %q", o.preparedBlockName)
	}
	if o.bus == nil {
		o.bus = EventBus.New()
	}
	if err := store.Ping(ctx); err != nil {
		return nil, fmt.Errorf("connecting to world state store: %w", err)
	}
	s := &StorageImpl{
		store:   store,
		blocks:  blocks,
		bus:     o.bus,
		txCache: cache.New(o.txCacheTTL, 2*o.txCacheTTL),
		log:     obs.Logger(),
		opts:    o,
	}
	if err := s.rollbackPrepared(ctx); err != nil {
		return nil, err
	}
	if err := s.loadLedgerState(); err != nil {
		return nil, err
	}
	var err error
	if s.metrics, err = newMetrics(obs.Meter("storage"), s); err != nil {
		return nil, fmt.Errorf("initializing metrics: %w", err)
	}
	return s, nil
}

// loadLedgerState checks the top of the world state view against the block store.
func (s *StorageImpl) loadLedgerState() error {
	wsvTop, err := wsv.NewQuery(s.store.Reader()).GetTop()
	if err != nil {
		return fmt.Errorf("loading world state top: %w", err)
	}
	if wsvTop != nil {
		b, err := s.blocks.Get(wsvTop.Height)
		if err != nil {
			if errors.Is(err, ErrBlockNotFound) {
				return fmt.Errorf("%w: block %d is not in the block store", ErrWsvDiverged, wsvTop.Height)
			}
			return fmt.Errorf("loading block %d: %w", wsvTop.Height, err)
		}
		ok, err := wsvTop.Matches(b)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: block %d differs", ErrWsvDiverged, wsvTop.Height)
		}
		s.ledger = LedgerState{Height: b.Height, Hash: b.MustHash()}
	}

	top, err := s.blocks.Top()
	if err != nil {
		return fmt.Errorf("loading top block: %w", err)
	}
	if top != nil && top.Height > s.ledger.Height {
		if !s.opts.allowWsvBehind {
			return fmt.Errorf("%w: world state height %d, block store height %d, restore the world state", ErrWsvBehind, s.ledger.Height, top.Height)
		}
		s.log.Warn(fmt.Sprintf("world state height %d is behind block store height %d", s.ledger.Height, top.Height), logger.Height(s.ledger.Height))
	}
	return nil
}

func (s *StorageImpl) LedgerState() LedgerState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ledger
}

// TopHash returns the hash the next block must refer to as previous hash.
func (ls LedgerState) TopHash() types.Hash {
	if ls.Height == 0 {
		return types.ZeroHash()
	}
	return ls.Hash
}

func (s *StorageImpl) setLedgerState(ls LedgerState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledger = ls
}

// WsvQuery returns query of the committed world state view.
func (s *StorageImpl) WsvQuery() (wsv.Query, error) {
	if err := s.store.Ping(context.Background()); err != nil {
		return nil, err
	}
	return wsv.NewQuery(s.store.Reader()), nil
}

func (s *StorageImpl) BlockQuery() (*BlockQuery, error) {
	if err := s.store.Ping(context.Background()); err != nil {
		return nil, err
	}
	return newBlockQuery(s.blocks, wsv.NewQuery(s.store.Reader()), s.txCache, s.log), nil
}

func (s *StorageImpl) CreatePeerQuery() (*PeerQuery, error) {
	q, err := s.WsvQuery()
	if err != nil {
		return nil, err
	}
	return NewPeerQuery(q), nil
}

func (s *StorageImpl) CreateQueryExecutor(creator types.AccountID) (*QueryExecutor, error) {
	bq, err := s.BlockQuery()
	if err != nil {
		return nil, err
	}
	return NewQueryExecutor(creator, wsv.NewQuery(s.store.Reader()), bq), nil
}

func (s *StorageImpl) CreateMutableStorage(ctx context.Context, opts ...MutableStorageOption) (*MutableStorage, error) {
	ses, err := s.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating mutable storage: %w", err)
	}
	o := &mutableStorageOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return newMutableStorage(s, ses, o.validate), nil
}

func (s *StorageImpl) CreateTemporaryWsv(ctx context.Context) (*TemporaryWsv, error) {
	ses, err := s.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating temporary wsv: %w", err)
	}
	return newTemporaryWsv(s, ses), nil
}

// InsertBlock applies the block without validation and commits it.
func (s *StorageImpl) InsertBlock(ctx context.Context, b *types.Block) error {
	return s.InsertBlocks(ctx, []*types.Block{b})
}

// InsertBlocks applies the blocks without validation and commits them at once.
func (s *StorageImpl) InsertBlocks(ctx context.Context, blocks []*types.Block) error {
	ms, err := s.CreateMutableStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = ms.Close() }()

	for _, b := range blocks {
		if err := ms.applyBlock(b, nil); err != nil {
			return fmt.Errorf("inserting block %d: %w", b.GetHeight(), err)
		}
	}
	_, err = s.Commit(ms)
	return err
}

/*
Commit persists the blocks applied to the mutable storage and commits its
session. Blocks are written to the block store first and removed again when
the session fails to commit. Subscribers of OnCommit are notified about every
block after the commit succeeded.
*/
func (s *StorageImpl) Commit(ms *MutableStorage) (LedgerState, error) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	if ms.state != msOpen {
		return LedgerState{}, ErrStorageDone
	}
	if ms.owner != s {
		return LedgerState{}, errors.Join(ErrForeignStorage, ms.Close())
	}
	if s.closed {
		return LedgerState{}, errors.Join(ErrStorageClosed, ms.Close())
	}
	if ledger := s.LedgerState(); !ledger.Hash.Eq(ms.base.Hash) || ledger.Height != ms.base.Height {
		return LedgerState{}, errors.Join(ErrLedgerChanged, ms.Close())
	}
	blocks := ms.Blocks()
	var written []uint64
	for _, b := range blocks {
		if err := s.storeBlock(b, &written); err != nil {
			return LedgerState{}, errors.Join(err, s.deleteBlocks(written), ms.Close())
		}
	}
	if err := ms.ses.Commit(); err != nil {
		ms.state = msRolledBack
		return LedgerState{}, errors.Join(fmt.Errorf("committing world state: %w", err), s.deleteBlocks(written))
	}
	ms.state = msCommitted
	s.metrics.commits.Add(context.Background(), 1)
	if len(blocks) == 0 {
		return s.LedgerState(), nil
	}
	s.setLedgerState(ms.top)
	for _, b := range blocks {
		s.bus.Publish(TopicCommit, b)
	}
	s.log.Debug(fmt.Sprintf("committed %d block(s), top height %d", len(blocks), ms.top.Height), logger.Height(ms.top.Height))
	return ms.top, nil
}

// storeBlock writes the block unless the same block is already stored.
func (s *StorageImpl) storeBlock(b *types.Block, written *[]uint64) error {
	old, err := s.blocks.Get(b.Height)
	switch {
	case errors.Is(err, ErrBlockNotFound):
	case err != nil:
		return err
	default:
		oldHash, err := old.Hash()
		if err != nil {
			return fmt.Errorf("hashing stored block %d: %w", old.Height, err)
		}
		if !oldHash.Eq(b.MustHash()) {
			return fmt.Errorf("block store already has a different block with height %d", b.Height)
		}
		return nil
	}
	if err := s.blocks.Put(b); err != nil {
		return err
	}
	*written = append(*written, b.Height)
	return nil
}

func (s *StorageImpl) deleteBlocks(heights []uint64) error {
	var errs []error
	for _, h := range heights {
		if err := s.blocks.Delete(h); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

/*
PrepareBlock turns the session of the temporary wsv into a prepared transaction
so that the block consisting of the transactions applied to it can later be
committed without executing them again, see CommitPrepared. Previously
prepared block is discarded.
*/
func (s *StorageImpl) PrepareBlock(tw *TemporaryWsv) error {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	if tw.state != twOpen {
		return ErrStorageDone
	}
	if tw.owner != s {
		return errors.Join(ErrForeignStorage, tw.Close())
	}
	if s.closed {
		return errors.Join(ErrStorageClosed, tw.Close())
	}
	if err := s.rollbackPrepared(context.Background()); err != nil {
		return err
	}
	ledger := s.LedgerState()
	pb := &preparedBlock{height: ledger.Height + 1, prevHash: ledger.TopHash()}
	for _, tx := range tw.applied {
		pb.txHashes = append(pb.txHashes, tx.MustHash())
	}
	// transactions are indexed in the prepared session, rejected ones on commit
	if err := tw.wsv.IndexBlock(&types.Block{Height: pb.height, Transactions: tw.applied}); err != nil {
		return errors.Join(fmt.Errorf("indexing prepared block: %w", err), tw.Close())
	}
	// header of the block is not known yet, loadLedgerState identifies it by the previous hash
	if err := tw.wsv.SetTop(&wsv.Top{Height: pb.height, PrevHash: pb.prevHash}); err != nil {
		return errors.Join(err, tw.Close())
	}
	tw.state = twPrepared
	if err := tw.ses.Prepare(s.opts.preparedBlockName); err != nil {
		return fmt.Errorf("preparing block %d: %w", pb.height, err)
	}
	s.prepared = pb
	return nil
}

/*
CommitPrepared commits the block prepared by PrepareBlock. ErrNoPreparedBlock
is returned when there is no prepared block or the block is not the one which
was prepared, caller should then apply the block with MutableStorage.
*/
func (s *StorageImpl) CommitPrepared(ctx context.Context, b *types.Block) (LedgerState, error) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	pb := s.prepared
	if pb == nil {
		return LedgerState{}, ErrNoPreparedBlock
	}
	ledger := s.LedgerState()
	if !pb.matches(b) || !ledger.TopHash().Eq(pb.prevHash) {
		return LedgerState{}, errors.Join(ErrNoPreparedBlock, s.rollbackPrepared(ctx))
	}
	hash, err := b.Hash()
	if err != nil {
		return LedgerState{}, errors.Join(fmt.Errorf("hashing block: %w", err), s.rollbackPrepared(ctx))
	}
	var written []uint64
	if err := s.storeBlock(b, &written); err != nil {
		return LedgerState{}, errors.Join(err, s.rollbackPrepared(ctx))
	}
	s.prepared = nil
	if err := s.store.CommitPrepared(ctx, s.opts.preparedBlockName); err != nil {
		return LedgerState{}, errors.Join(fmt.Errorf("committing prepared block %d: %w", b.Height, err), s.deleteBlocks(written))
	}
	if len(b.RejectedTxHashes) > 0 {
		if err := s.indexRejected(ctx, b); err != nil {
			s.log.Warn(fmt.Sprintf("indexing rejected transactions of block %d", b.Height), logger.Error(err))
		}
	}
	ls := LedgerState{Height: b.Height, Hash: hash}
	s.setLedgerState(ls)
	s.metrics.commits.Add(ctx, 1)
	s.bus.Publish(TopicCommit, b)
	return ls, nil
}

func (pb *preparedBlock) matches(b *types.Block) bool {
	if b == nil || b.Height != pb.height || !b.PrevHash.Eq(pb.prevHash) || len(b.Transactions) != len(pb.txHashes) {
		return false
	}
	for i, tx := range b.Transactions {
		h, err := tx.Hash()
		if err != nil || !h.Eq(pb.txHashes[i]) {
			return false
		}
	}
	return true
}

func (s *StorageImpl) indexRejected(ctx context.Context, b *types.Block) error {
	ses, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	if err := wsv.NewCommand(ses).IndexBlock(&types.Block{Height: b.Height, RejectedTxHashes: b.RejectedTxHashes}); err != nil {
		return errors.Join(err, ses.Rollback())
	}
	return ses.Commit()
}

// rollbackPrepared discards the prepared block, must be called holding commitMu.
func (s *StorageImpl) rollbackPrepared(ctx context.Context) error {
	s.prepared = nil
	if err := s.store.RollbackPrepared(ctx, s.opts.preparedBlockName); err != nil && !errors.Is(err, session.ErrNotPrepared) {
		return fmt.Errorf("rolling back prepared block: %w", err)
	}
	return nil
}

// OnCommit subscribes fn to committed blocks. fn is called synchronously by the
// committing goroutine, in the order of block heights. Call the returned func
// to unsubscribe.
func (s *StorageImpl) OnCommit(fn func(b *types.Block)) (func(), error) {
	if err := s.bus.Subscribe(TopicCommit, fn); err != nil {
		return nil, fmt.Errorf("subscribing to commit notifications: %w", err)
	}
	return func() { _ = s.bus.Unsubscribe(TopicCommit, fn) }, nil
}

// Reset removes the world state view, block index and all blocks.
func (s *StorageImpl) Reset(ctx context.Context) error {
	if err := s.resetWsv(ctx, true); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	return nil
}

// ResetWsv removes the world state view and block index, blocks are kept so
// that the state can be restored from them.
func (s *StorageImpl) ResetWsv(ctx context.Context) error {
	if err := s.resetWsv(ctx, false); err != nil {
		return fmt.Errorf("reset wsv: %w", err)
	}
	return nil
}

func (s *StorageImpl) resetWsv(ctx context.Context, blocks bool) error {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	if err := s.rollbackPrepared(ctx); err != nil {
		return err
	}
	ses, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	for _, prefix := range slices.Concat(wsv.WsvPrefixes, wsv.IndexPrefixes, wsv.MetaPrefixes) {
		if err := ses.DeletePrefix([]byte(prefix)); err != nil {
			return errors.Join(fmt.Errorf("deleting %q: %w", prefix, err), ses.Rollback())
		}
	}
	if err := ses.Commit(); err != nil {
		return err
	}
	if blocks {
		if err := s.blocks.Clear(); err != nil {
			return err
		}
	}
	s.txCache.Flush()
	s.setLedgerState(LedgerState{})
	return nil
}

// DropStorage removes all data and releases the storage.
func (s *StorageImpl) DropStorage(ctx context.Context) error {
	if err := s.Reset(ctx); err != nil {
		return fmt.Errorf("drop storage: %w", err)
	}
	if d, ok := s.store.(dropper); ok {
		if err := d.Drop(ctx); err != nil {
			return fmt.Errorf("drop storage: %w", err)
		}
	}
	return s.Close()
}

// FreeConnections closes the world state store, storage can not be used after that.
func (s *StorageImpl) FreeConnections() error {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.prepared = nil
	var errs []error
	if err := s.metrics.unregister(); err != nil {
		errs = append(errs, fmt.Errorf("unregistering metrics: %w", err))
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing world state store: %w", err))
	}
	return errors.Join(errs...)
}

func (s *StorageImpl) Close() error {
	return errors.Join(s.FreeConnections(), s.blocks.Close())
}
