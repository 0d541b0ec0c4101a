package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/alphabill-org/wsv/keyvaluedb"
)

var probeKey = []byte{0}

// KVStore implements Store on top of an embedded key-value database. Sessions
// keep their changes in memory as a stack of overlays (one per savepoint) and
// write them to the database in a single database transaction on commit.
type KVStore struct {
	db keyvaluedb.KeyValueDB

	mu       sync.Mutex
	prepared map[string]map[string][]byte
}

type (
	kvSession struct {
		store *KVStore
		// layers[0] holds changes made outside of any savepoint
		layers []*layer
		state  sessionState
	}

	layer struct {
		name string
		// nil value marks deleted key
		writes map[string][]byte
	}

	sessionState int
)

const (
	sessionOpen sessionState = iota
	sessionCommitted
	sessionRolledBack
	sessionPrepared
)

func NewKVStore(db keyvaluedb.KeyValueDB) *KVStore {
	return &KVStore{
		db:       db,
		prepared: make(map[string]map[string][]byte),
	}
}

func (s *KVStore) Begin(ctx context.Context) (Session, error) {
	if err := s.Ping(ctx); err != nil {
		return nil, fmt.Errorf("begin session: %w", err)
	}
	return &kvSession{
		store:  s,
		layers: []*layer{newLayer("")},
	}, nil
}

func (s *KVStore) Reader() Reader {
	return &kvReader{db: s.db}
}

// Ping checks that the underlying database is open.
func (s *KVStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var v []byte
	if _, err := s.db.Read(probeKey, &v); err != nil {
		return mapError(err)
	}
	return nil
}

func (s *KVStore) CommitPrepared(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	writes, ok := s.prepared[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotPrepared, name)
	}
	if err := s.write(writes); err != nil {
		return fmt.Errorf("commit prepared %q: %w", name, err)
	}
	delete(s.prepared, name)
	return nil
}

func (s *KVStore) RollbackPrepared(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.prepared[name]; !ok {
		return fmt.Errorf("%w: %q", ErrNotPrepared, name)
	}
	delete(s.prepared, name)
	return nil
}

func (s *KVStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prepared = make(map[string]map[string][]byte)
	return s.db.Close()
}

// write must be called holding s.mu
func (s *KVStore) write(writes map[string][]byte) error {
	if len(writes) == 0 {
		return nil
	}
	tx, err := s.db.StartTx()
	if err != nil {
		return mapError(err)
	}
	for k, v := range writes {
		if v == nil {
			err = tx.Delete([]byte(k))
		} else {
			err = tx.Write([]byte(k), v)
		}
		if err != nil {
			return errors.Join(mapError(err), tx.Rollback())
		}
	}
	if err := tx.Commit(); err != nil {
		return mapError(err)
	}
	return nil
}

func newLayer(name string) *layer {
	return &layer{name: name, writes: make(map[string][]byte)}
}

func (s *kvSession) Get(key []byte) ([]byte, bool, error) {
	if err := s.checkOpen(); err != nil {
		return nil, false, err
	}
	for i := len(s.layers) - 1; i >= 0; i-- {
		if v, ok := s.layers[i].writes[string(key)]; ok {
			return bytes.Clone(v), v != nil, nil
		}
	}
	return readKey(s.store.db, key)
}

func (s *kvSession) Scan(prefix []byte, fn func(key, value []byte) error) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	merged, err := scanDB(s.store.db, prefix)
	if err != nil {
		return err
	}
	for _, l := range s.layers {
		for k, v := range l.writes {
			if bytes.HasPrefix([]byte(k), prefix) {
				merged[k] = v
			}
		}
	}
	return visitSorted(merged, fn)
}

func (s *kvSession) Put(key, value []byte) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := keyvaluedb.CheckKey(key); err != nil {
		return err
	}
	if value == nil {
		return fmt.Errorf("value for key %X is nil", key)
	}
	s.top().writes[string(key)] = bytes.Clone(value)
	return nil
}

func (s *kvSession) Delete(key []byte) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := keyvaluedb.CheckKey(key); err != nil {
		return err
	}
	s.top().writes[string(key)] = nil
	return nil
}

func (s *kvSession) DeletePrefix(prefix []byte) error {
	var keys [][]byte
	if err := s.Scan(prefix, func(key, _ []byte) error {
		keys = append(keys, key)
		return nil
	}); err != nil {
		return err
	}
	for _, k := range keys {
		if err := s.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func (s *kvSession) Savepoint(name string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if !ValidName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	s.layers = append(s.layers, newLayer(name))
	return nil
}

func (s *kvSession) RollbackTo(name string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	idx := s.find(name)
	if idx < 0 {
		return fmt.Errorf("rollback to savepoint: %w %q", ErrUnknownSavepoint, name)
	}
	s.layers = s.layers[:idx+1]
	s.layers[idx].writes = make(map[string][]byte)
	return nil
}

func (s *kvSession) Release(name string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	idx := s.find(name)
	if idx < 0 {
		return fmt.Errorf("release savepoint: %w %q", ErrUnknownSavepoint, name)
	}
	below := s.layers[idx-1]
	for _, l := range s.layers[idx:] {
		for k, v := range l.writes {
			below.writes[k] = v
		}
	}
	s.layers = s.layers[:idx]
	return nil
}

func (s *kvSession) Commit() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	if err := s.store.write(s.flatten()); err != nil {
		s.finish(sessionRolledBack)
		return fmt.Errorf("commit session: %w", err)
	}
	s.finish(sessionCommitted)
	return nil
}

func (s *kvSession) Rollback() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.finish(sessionRolledBack)
	return nil
}

func (s *kvSession) Prepare(name string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if !ValidName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	if _, ok := s.store.prepared[name]; ok {
		s.finish(sessionRolledBack)
		return fmt.Errorf("transaction %q is already prepared", name)
	}
	s.store.prepared[name] = s.flatten()
	s.finish(sessionPrepared)
	return nil
}

func (s *kvSession) checkOpen() error {
	if s.state != sessionOpen {
		return ErrTxDone
	}
	return nil
}

func (s *kvSession) top() *layer {
	return s.layers[len(s.layers)-1]
}

// find returns index of the most recent savepoint with given name, -1 when not found
func (s *kvSession) find(name string) int {
	for i := len(s.layers) - 1; i > 0; i-- {
		if s.layers[i].name == name {
			return i
		}
	}
	return -1
}

func (s *kvSession) flatten() map[string][]byte {
	all := make(map[string][]byte)
	for _, l := range s.layers {
		for k, v := range l.writes {
			all[k] = v
		}
	}
	return all
}

func (s *kvSession) finish(state sessionState) {
	s.layers = nil
	s.state = state
}

type kvReader struct {
	db keyvaluedb.KeyValueDB
}

func (r *kvReader) Get(key []byte) ([]byte, bool, error) {
	return readKey(r.db, key)
}

func (r *kvReader) Scan(prefix []byte, fn func(key, value []byte) error) error {
	merged, err := scanDB(r.db, prefix)
	if err != nil {
		return err
	}
	return visitSorted(merged, fn)
}

func readKey(db keyvaluedb.KeyValueDB, key []byte) ([]byte, bool, error) {
	var v []byte
	found, err := db.Read(key, &v)
	if err != nil {
		return nil, false, mapError(err)
	}
	return v, found, nil
}

func scanDB(db keyvaluedb.KeyValueDB, prefix []byte) (map[string][]byte, error) {
	// iterators of a closed database are silently invalid, probe first
	var probe []byte
	if _, err := db.Read(probeKey, &probe); err != nil {
		return nil, mapError(err)
	}
	var it keyvaluedb.Iterator
	if len(prefix) == 0 {
		it = db.First()
	} else {
		it = db.Find(prefix)
	}
	defer func() { _ = it.Close() }()

	res := make(map[string][]byte)
	for ; it.Valid() && bytes.HasPrefix(it.Key(), prefix); it.Next() {
		var v []byte
		if err := it.Value(&v); err != nil {
			return nil, fmt.Errorf("reading value of key %X: %w", it.Key(), err)
		}
		res[string(it.Key())] = v
	}
	return res, nil
}

func visitSorted(kv map[string][]byte, fn func(key, value []byte) error) error {
	keys := make([]string, 0, len(kv))
	for k, v := range kv {
		if v != nil {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := fn([]byte(k), bytes.Clone(kv[k])); err != nil {
			return err
		}
	}
	return nil
}

func mapError(err error) error {
	if errors.Is(err, keyvaluedb.ErrClosed) && !errors.Is(err, ErrUnavailable) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}
