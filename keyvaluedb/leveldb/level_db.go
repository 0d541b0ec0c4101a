package leveldb

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"

	"github.com/alphabill-org/wsv/keyvaluedb"
)

type (
	EncodeFn func(v any) ([]byte, error)
	DecodeFn func(data []byte, v any) error

	LevelDB struct {
		db      *leveldb.DB
		path    string
		encoder EncodeFn
		decoder DecodeFn
	}
)

// New opens (or creates) LevelDB database in the directory dbPath.
func New(dbPath string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(dbPath, &opt.Options{ErrorIfMissing: false})
	if err != nil {
		return nil, fmt.Errorf("opening leveldb %q: %w", dbPath, err)
	}
	return &LevelDB{
		db:      db,
		path:    dbPath,
		encoder: cbor.Marshal,
		decoder: cbor.Unmarshal,
	}, nil
}

func (db *LevelDB) Path() string {
	return db.path
}

func (db *LevelDB) Read(key []byte, v any) (bool, error) {
	if err := keyvaluedb.CheckKeyAndValue(key, v); err != nil {
		return false, err
	}
	data, err := db.db.Get(key, nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("leveldb read failed, %w", mapError(err))
	}
	return true, db.decoder(data, v)
}

func (db *LevelDB) Write(key []byte, v any) error {
	if err := keyvaluedb.CheckKeyAndValue(key, v); err != nil {
		return err
	}
	b, err := db.encoder(v)
	if err != nil {
		return err
	}
	if err := db.db.Put(key, b, nil); err != nil {
		return fmt.Errorf("leveldb write failed, %w", mapError(err))
	}
	return nil
}

func (db *LevelDB) Delete(key []byte) error {
	if err := keyvaluedb.CheckKey(key); err != nil {
		return err
	}
	if err := db.db.Delete(key, nil); err != nil {
		return fmt.Errorf("leveldb delete failed, %w", mapError(err))
	}
	return nil
}

func (db *LevelDB) First() keyvaluedb.Iterator {
	it := newIterator(db.db, db.decoder)
	it.first()
	return it
}

func (db *LevelDB) Last() keyvaluedb.Iterator {
	it := newIterator(db.db, db.decoder)
	it.last()
	return it
}

func (db *LevelDB) Find(key []byte) keyvaluedb.Iterator {
	it := newIterator(db.db, db.decoder)
	it.seek(key)
	return it
}

func (db *LevelDB) StartTx() (keyvaluedb.DBTransaction, error) {
	tx, err := db.db.OpenTransaction()
	if err != nil {
		return nil, fmt.Errorf("failed to start leveldb tx, %w", mapError(err))
	}
	return &Tx{tx: tx, enc: db.encoder, dec: db.decoder}, nil
}

func (db *LevelDB) Close() error {
	if err := db.db.Close(); err != nil && !errors.Is(err, leveldb.ErrClosed) {
		return err
	}
	return nil
}

func mapError(err error) error {
	if errors.Is(err, leveldb.ErrClosed) {
		return fmt.Errorf("%w: %w", keyvaluedb.ErrClosed, err)
	}
	return err
}
