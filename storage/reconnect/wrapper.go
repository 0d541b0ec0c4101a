package reconnect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	EventBus "github.com/asaskevich/EventBus"
	"go.opentelemetry.io/otel/metric"

	"github.com/alphabill-org/wsv/logger"
	"github.com/alphabill-org/wsv/observability"
	"github.com/alphabill-org/wsv/session"
	"github.com/alphabill-org/wsv/storage"
	"github.com/alphabill-org/wsv/types"
	"github.com/alphabill-org/wsv/wsv"
)

var ErrReconnectFailed = errors.New("storage is unavailable, reconnection attempts exhausted")

const defaultAttempts = 5

type (
	// Factory creates new storage instance, opts must be passed to storage.New.
	Factory func(ctx context.Context, opts ...storage.Option) (*storage.StorageImpl, error)

	Options struct {
		strategy   Strategy
		retryDelay time.Duration
	}

	Option func(*Options)

	/*
	ConnectionWrapper is storage.Storage which recreates the underlying storage
	when it loses connectivity to the persisted store. Calls failing with
	session.ErrUnavailable are retried against the new instance until the
	reconnection strategy gives up.

	Commit, CommitPrepared, PrepareBlock and CreateTemporaryWsv are never
	retried, they are bound to the storage instance which is current at the
	time of the call. Mutable storage and temporary wsv created before the
	storage was recreated can't be committed or prepared, they fail with
	storage.ErrForeignStorage.
	*/
	ConnectionWrapper struct {
		factory  Factory
		strategy Strategy
		delay    time.Duration
		// shared by all storage instances so that OnCommit subscriptions survive reconnects
		bus       EventBus.Bus
		log       *slog.Logger
		reconnect metric.Int64Counter

		mu      sync.RWMutex
		current *storage.StorageImpl
		// incremented every time the storage is recreated
		generation uint64
	}
)

var _ storage.Storage = (*ConnectionWrapper)(nil)

// WithStrategy sets the reconnection strategy, default is KTimes(5).
func WithStrategy(s Strategy) Option {
	return func(o *Options) {
		o.strategy = s
	}
}

// WithRetryDelay sets the pause before recreating the storage.
func WithRetryDelay(d time.Duration) Option {
	return func(o *Options) {
		o.retryDelay = d
	}
}

/*
New creates ConnectionWrapper. The storage is created lazily, on the first call
which needs it.
*/
func New(factory Factory, obs storage.Observability, opts ...Option) (*ConnectionWrapper, error) {
	if factory == nil {
		return nil, errors.New("storage factory is nil")
	}
	o := &Options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.strategy == nil {
		o.strategy = NewKTimes(defaultAttempts)
	}
	w := &ConnectionWrapper{
		factory:  factory,
		strategy: o.strategy,
		delay:    o.retryDelay,
		bus:      EventBus.New(),
		log:      obs.Logger(),
	}
	var err error
	if w.reconnect, err = obs.Meter("storage").Int64Counter("storage.reconnect",
		metric.WithDescription("Number of times the storage was recreated after losing connectivity"),
		metric.WithUnit("{reconnect}")); err != nil {
		return nil, fmt.Errorf("creating storage.reconnect counter: %w", err)
	}
	return w, nil
}

// snapshot returns the current storage and its generation.
func (w *ConnectionWrapper) snapshot() (*storage.StorageImpl, uint64) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current, w.generation
}

/*
reinitialize recreates the storage unless it has been already recreated after
the generation "gen" failed.
*/
func (w *ConnectionWrapper) reinitialize(ctx context.Context, op string, gen uint64) (rErr error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current != nil && w.generation != gen {
		return nil
	}
	defer func() {
		w.reconnect.Add(ctx, 1, observability.Operation(op, observability.ErrStatus(rErr)))
	}()

	if w.current != nil {
		if err := w.current.FreeConnections(); err != nil {
			w.log.Debug("closing unavailable storage", logger.Error(err))
		}
		w.current = nil
	}
	// no pause before the first connection
	if w.delay > 0 && w.generation > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.delay):
		}
	}
	s, err := w.factory(ctx, storage.WithEventBus(w.bus))
	if err != nil {
		return fmt.Errorf("creating storage: %w", err)
	}
	w.current = s
	w.generation++
	return nil
}

/*
retry calls fn with the current storage until it succeeds or fails with
error other than session.ErrUnavailable. Storage is recreated between the
attempts.
*/
func retry[T any](ctx context.Context, w *ConnectionWrapper, op string, fn func(s *storage.StorageImpl) (T, error)) (T, error) {
	budget := NewBudget(w.strategy, op)
	defer budget.Done()

	var lastErr error
	for budget.Next() {
		s, gen := w.snapshot()
		if s != nil {
			res, err := fn(s)
			if err == nil || !session.Unavailable(err) {
				return res, err
			}
			lastErr = err
			w.log.Warn(fmt.Sprintf("%s failed, reconnecting", op), logger.Error(err), logger.Tag(budget.Tag()))
		}
		if err := w.reinitialize(ctx, op, gen); err != nil {
			if ctx.Err() != nil {
				var zero T
				return zero, err
			}
			lastErr = err
			w.log.Warn(fmt.Sprintf("%s: recreating storage", op), logger.Error(err), logger.Tag(budget.Tag()))
		}
	}
	var zero T
	return zero, fmt.Errorf("%w: %s: %w", ErrReconnectFailed, op, lastErr)
}

func (w *ConnectionWrapper) retryErr(ctx context.Context, op string, fn func(s *storage.StorageImpl) error) error {
	_, err := retry(ctx, w, op, func(s *storage.StorageImpl) (struct{}, error) {
		return struct{}{}, fn(s)
	})
	return err
}

// bound returns the current storage without trying to create one.
func (w *ConnectionWrapper) bound() (*storage.StorageImpl, error) {
	s, _ := w.snapshot()
	if s == nil {
		return nil, fmt.Errorf("storage is not connected: %w", session.ErrUnavailable)
	}
	return s, nil
}

func (w *ConnectionWrapper) WsvQuery() (wsv.Query, error) {
	return retry(context.Background(), w, "WsvQuery", func(s *storage.StorageImpl) (wsv.Query, error) {
		return s.WsvQuery()
	})
}

func (w *ConnectionWrapper) BlockQuery() (*storage.BlockQuery, error) {
	return retry(context.Background(), w, "BlockQuery", func(s *storage.StorageImpl) (*storage.BlockQuery, error) {
		return s.BlockQuery()
	})
}

func (w *ConnectionWrapper) CreatePeerQuery() (*storage.PeerQuery, error) {
	return retry(context.Background(), w, "CreatePeerQuery", func(s *storage.StorageImpl) (*storage.PeerQuery, error) {
		return s.CreatePeerQuery()
	})
}

func (w *ConnectionWrapper) CreateQueryExecutor(creator types.AccountID) (*storage.QueryExecutor, error) {
	return retry(context.Background(), w, "CreateQueryExecutor", func(s *storage.StorageImpl) (*storage.QueryExecutor, error) {
		return s.CreateQueryExecutor(creator)
	})
}

func (w *ConnectionWrapper) CreateMutableStorage(ctx context.Context, opts ...storage.MutableStorageOption) (*storage.MutableStorage, error) {
	return retry(ctx, w, "CreateMutableStorage", func(s *storage.StorageImpl) (*storage.MutableStorage, error) {
		return s.CreateMutableStorage(ctx, opts...)
	})
}

func (w *ConnectionWrapper) CreateTemporaryWsv(ctx context.Context) (*storage.TemporaryWsv, error) {
	s, err := w.bound()
	if err != nil {
		return nil, err
	}
	return s.CreateTemporaryWsv(ctx)
}

func (w *ConnectionWrapper) InsertBlock(ctx context.Context, b *types.Block) error {
	return w.retryErr(ctx, "InsertBlock", func(s *storage.StorageImpl) error {
		return s.InsertBlock(ctx, b)
	})
}

func (w *ConnectionWrapper) InsertBlocks(ctx context.Context, blocks []*types.Block) error {
	return w.retryErr(ctx, "InsertBlocks", func(s *storage.StorageImpl) error {
		return s.InsertBlocks(ctx, blocks)
	})
}

func (w *ConnectionWrapper) Commit(ms *storage.MutableStorage) (storage.LedgerState, error) {
	s, err := w.bound()
	if err != nil {
		return storage.LedgerState{}, errors.Join(err, ms.Close())
	}
	return s.Commit(ms)
}

func (w *ConnectionWrapper) PrepareBlock(tw *storage.TemporaryWsv) error {
	s, err := w.bound()
	if err != nil {
		return err
	}
	return s.PrepareBlock(tw)
}

func (w *ConnectionWrapper) CommitPrepared(ctx context.Context, b *types.Block) (storage.LedgerState, error) {
	s, err := w.bound()
	if err != nil {
		return storage.LedgerState{}, err
	}
	return s.CommitPrepared(ctx, b)
}

func (w *ConnectionWrapper) OnCommit(fn func(b *types.Block)) (func(), error) {
	if err := w.bus.Subscribe(storage.TopicCommit, fn); err != nil {
		return nil, fmt.Errorf("subscribing to commit notifications: %w", err)
	}
	return func() { _ = w.bus.Unsubscribe(storage.TopicCommit, fn) }, nil
}

// LedgerState returns ledger state of the current storage, zero value when
// the storage has not been created yet.
func (w *ConnectionWrapper) LedgerState() storage.LedgerState {
	if s, _ := w.snapshot(); s != nil {
		return s.LedgerState()
	}
	return storage.LedgerState{}
}

func (w *ConnectionWrapper) Reset(ctx context.Context) error {
	return w.retryErr(ctx, "Reset", func(s *storage.StorageImpl) error {
		return s.Reset(ctx)
	})
}

func (w *ConnectionWrapper) ResetWsv(ctx context.Context) error {
	return w.retryErr(ctx, "ResetWsv", func(s *storage.StorageImpl) error {
		return s.ResetWsv(ctx)
	})
}

// DropStorage drops all data, the wrapper creates new storage on the next call.
func (w *ConnectionWrapper) DropStorage(ctx context.Context) error {
	err := w.retryErr(ctx, "DropStorage", func(s *storage.StorageImpl) error {
		return s.DropStorage(ctx)
	})
	if err == nil {
		w.forget()
	}
	return err
}

func (w *ConnectionWrapper) FreeConnections() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == nil {
		return nil
	}
	err := w.current.FreeConnections()
	w.current = nil
	w.generation++
	return err
}

func (w *ConnectionWrapper) forget() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.current = nil
	w.generation++
}
