package boltdb

import (
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/alphabill-org/wsv/keyvaluedb"
)

const (
	defaultBucket      = "records"
	defaultOpenTimeout = 3 * time.Second
)

type (
	EncodeFn func(v any) ([]byte, error)
	DecodeFn func(data []byte, v any) error

	// BoltDB keeps all the records in a single bucket of the database file.
	BoltDB struct {
		db      *bolt.DB
		bucket  []byte
		encoder EncodeFn
		decoder DecodeFn
	}

	Options struct {
		bucket  string
		timeout time.Duration
	}

	Option func(*Options)
)

/*
WithBucket sets the bucket the records are stored in. Different buckets allow
to keep block store and world state in the same file.
*/
func WithBucket(name string) Option {
	return func(o *Options) {
		o.bucket = name
	}
}

// WithOpenTimeout sets how long to wait for the file lock held by another process.
func WithOpenTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.timeout = d
	}
}

// New opens (or creates) bolt database file.
func New(dbFile string, opts ...Option) (*BoltDB, error) {
	o := &Options{bucket: defaultBucket, timeout: defaultOpenTimeout}
	for _, opt := range opts {
		opt(o)
	}
	if o.bucket == "" {
		return nil, errors.New("bucket name is empty")
	}
	db, err := bolt.Open(dbFile, 0600, &bolt.Options{Timeout: o.timeout})
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", dbFile, err)
	}
	s := &BoltDB{
		db:      db,
		bucket:  []byte(o.bucket),
		encoder: cbor.Marshal,
		decoder: cbor.Unmarshal,
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(s.bucket)
		return err
	}); err != nil {
		return nil, errors.Join(fmt.Errorf("creating bucket %q: %w", o.bucket, err), db.Close())
	}
	return s, nil
}

func (db *BoltDB) Path() string {
	return db.db.Path()
}

func (db *BoltDB) Read(key []byte, v any) (found bool, err error) {
	if err := keyvaluedb.CheckKeyAndValue(key, v); err != nil {
		return false, err
	}
	err = db.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(db.bucket).Get(key)
		if found = data != nil; !found {
			return nil
		}
		return db.decoder(data, v)
	})
	if err != nil {
		return found, fmt.Errorf("reading %X: %w", key, mapError(err))
	}
	return found, nil
}

func (db *BoltDB) Write(key []byte, v any) error {
	if err := keyvaluedb.CheckKeyAndValue(key, v); err != nil {
		return err
	}
	b, err := db.encoder(v)
	if err != nil {
		return fmt.Errorf("encoding value of %X: %w", key, err)
	}
	if err := db.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(db.bucket).Put(key, b)
	}); err != nil {
		return fmt.Errorf("writing %X: %w", key, mapError(err))
	}
	return nil
}

func (db *BoltDB) Delete(key []byte) error {
	if err := keyvaluedb.CheckKey(key); err != nil {
		return err
	}
	if err := db.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(db.bucket).Delete(key)
	}); err != nil {
		return fmt.Errorf("deleting %X: %w", key, mapError(err))
	}
	return nil
}

func (db *BoltDB) First() keyvaluedb.Iterator {
	it := newIterator(db.db, db.bucket, db.decoder)
	it.move(it.cursor.First)
	return it
}

func (db *BoltDB) Last() keyvaluedb.Iterator {
	it := newIterator(db.db, db.bucket, db.decoder)
	it.move(it.cursor.Last)
	return it
}

func (db *BoltDB) Find(key []byte) keyvaluedb.Iterator {
	it := newIterator(db.db, db.bucket, db.decoder)
	it.move(func() ([]byte, []byte) { return it.cursor.Seek(key) })
	return it
}

func (db *BoltDB) StartTx() (keyvaluedb.DBTransaction, error) {
	tx, err := db.db.Begin(true)
	if err != nil {
		return nil, fmt.Errorf("starting bolt transaction: %w", mapError(err))
	}
	return &Tx{tx: tx, b: tx.Bucket(db.bucket), enc: db.encoder, dec: db.decoder}, nil
}

func (db *BoltDB) Close() error {
	if db.db == nil {
		return nil
	}
	return db.db.Close()
}

func mapError(err error) error {
	if errors.Is(err, bolt.ErrDatabaseNotOpen) {
		return fmt.Errorf("%w: %w", keyvaluedb.ErrClosed, err)
	}
	return err
}
