package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/alphabill-org/wsv/keyvaluedb"
	"github.com/alphabill-org/wsv/keyvaluedb/boltdb"
	"github.com/alphabill-org/wsv/keyvaluedb/leveldb"
	"github.com/alphabill-org/wsv/keyvaluedb/memorydb"
	"github.com/alphabill-org/wsv/session"
	"github.com/alphabill-org/wsv/session/postgres"
	"github.com/alphabill-org/wsv/storage"
	"github.com/alphabill-org/wsv/storage/reconnect"
)

const (
	backendMemory   = "memory"
	backendBolt     = "bolt:"
	backendLevelDB  = "leveldb:"
	backendPostgres = "postgres://"
	backendPsql     = "postgresql://"

	defaultWsvDBFile    = "wsv.db"
	defaultBlocksDBFile = "blocks.db"

	flagNameWsvDB             = "wsv-db"
	flagNameBlocksDB          = "blocks-db"
	flagNameReconnectAttempts = "reconnect-attempts"
	flagNameReconnectDelay    = "reconnect-delay"
)

type storageConfiguration struct {
	Base *baseConfiguration
	// world state store, one of: memory, bolt:<file>, leveldb:<dir>, postgres://...
	WsvDB string
	// block store, one of: memory, bolt:<file>, leveldb:<dir>
	BlocksDB          string
	ReconnectAttempts uint
	ReconnectDelay    time.Duration
}

func (c *storageConfiguration) addStorageFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&c.WsvDB, flagNameWsvDB, "", fmt.Sprintf("world state store: %s, %s<file>, %s<dir> or PostgreSQL connection URL (default is %s$WSV_HOME/%s)", backendMemory, backendBolt, backendLevelDB, backendBolt, defaultWsvDBFile))
	cmd.Flags().StringVar(&c.BlocksDB, flagNameBlocksDB, "", fmt.Sprintf("block store: %s, %s<file> or %s<dir> (default is %s$WSV_HOME/%s)", backendMemory, backendBolt, backendLevelDB, backendBolt, defaultBlocksDBFile))
	cmd.Flags().UintVar(&c.ReconnectAttempts, flagNameReconnectAttempts, 5, "how many times an operation is attempted when the world state store is unavailable")
	cmd.Flags().DurationVar(&c.ReconnectDelay, flagNameReconnectDelay, 500*time.Millisecond, "pause before reconnecting to the world state store")
}

func (c *storageConfiguration) wsvDB() string {
	if c.WsvDB == "" {
		return backendBolt + filepath.Join(c.Base.HomeDir, defaultWsvDBFile)
	}
	return c.WsvDB
}

func (c *storageConfiguration) blocksDB() string {
	if c.BlocksDB == "" {
		return backendBolt + filepath.Join(c.Base.HomeDir, defaultBlocksDBFile)
	}
	return c.BlocksDB
}

// openKV opens embedded key-value database at "location", ie "bolt:/var/wsv/blocks.db".
func openKV(location string) (keyvaluedb.KeyValueDB, error) {
	switch {
	case location == backendMemory:
		return memorydb.New(), nil
	case strings.HasPrefix(location, backendBolt):
		db, err := boltdb.New(strings.TrimPrefix(location, backendBolt))
		if err != nil {
			return nil, fmt.Errorf("opening bolt database: %w", err)
		}
		return db, nil
	case strings.HasPrefix(location, backendLevelDB):
		db, err := leveldb.New(strings.TrimPrefix(location, backendLevelDB))
		if err != nil {
			return nil, fmt.Errorf("opening leveldb database: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported key-value database %q", location)
	}
}

func isPostgres(location string) bool {
	return strings.HasPrefix(location, backendPostgres) || strings.HasPrefix(location, backendPsql)
}

/*
storeOpener returns func which opens the world state store. In-memory database
is created once and reopened on subsequent calls so that the state survives
reconnects.
*/
func (c *storageConfiguration) storeOpener() func(ctx context.Context) (session.Store, error) {
	location := c.wsvDB()
	if isPostgres(location) {
		return func(ctx context.Context) (session.Store, error) {
			return postgres.New(ctx, location)
		}
	}
	var mem *memorydb.MemoryDB
	if location == backendMemory {
		mem = memorydb.New()
	}
	return func(ctx context.Context) (session.Store, error) {
		if mem != nil {
			mem.Reopen()
			return session.NewKVStore(mem), nil
		}
		db, err := openKV(location)
		if err != nil {
			return nil, err
		}
		return session.NewKVStore(db), nil
	}
}

// openStore opens the world state store without reconnection support.
func (c *storageConfiguration) openStore(ctx context.Context) (session.Store, error) {
	store, err := c.storeOpener()(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening world state store: %w", err)
	}
	c.Base.addCloser(store.Close)
	return store, nil
}

/*
openStorage opens the block store and returns storage which reconnects to the
world state store when connectivity is lost. "opts" are passed to every
storage instance created.
*/
func (c *storageConfiguration) openStorage(ctx context.Context, opts ...storage.Option) (*reconnect.ConnectionWrapper, error) {
	if isPostgres(c.blocksDB()) {
		return nil, errors.New("block store must be a key-value database")
	}
	db, err := openKV(c.blocksDB())
	if err != nil {
		return nil, fmt.Errorf("opening block store: %w", err)
	}
	blocks, err := storage.NewBlockStore(db)
	if err != nil {
		return nil, errors.Join(err, db.Close())
	}

	obs := c.Base.observe
	openStore := c.storeOpener()
	factory := func(ctx context.Context, wrapperOpts ...storage.Option) (*storage.StorageImpl, error) {
		store, err := openStore(ctx)
		if err != nil {
			return nil, err
		}
		s, err := storage.New(ctx, store, blocks, obs, slices.Concat(opts, wrapperOpts)...)
		if err != nil {
			return nil, errors.Join(err, store.Close())
		}
		return s, nil
	}
	w, err := reconnect.New(factory, obs,
		reconnect.WithStrategy(reconnect.NewKTimes(c.ReconnectAttempts)),
		reconnect.WithRetryDelay(c.ReconnectDelay))
	if err != nil {
		return nil, errors.Join(err, blocks.Close())
	}
	c.Base.addCloser(func() error {
		return errors.Join(w.FreeConnections(), blocks.Close())
	})
	return w, nil
}
