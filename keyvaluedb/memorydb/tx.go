package memorydb

import (
	"fmt"

	"github.com/alphabill-org/wsv/keyvaluedb"
)

// Tx buffers changes until Commit, nil value in pending marks deleted key.
type Tx struct {
	mem     *MemoryDB
	pending map[string][]byte
	closed  bool
}

func NewMapTx(m *MemoryDB) (*Tx, error) {
	if m == nil {
		return nil, fmt.Errorf("memory db is nil")
	}
	if m.db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	return &Tx{
		mem:     m,
		pending: make(map[string][]byte),
	}, nil
}

func (t *Tx) Read(key []byte, v any) (bool, error) {
	t.mem.lock.RLock()
	defer t.mem.lock.RUnlock()
	if t.closed {
		return false, fmt.Errorf("memdb tx read failed, tx closed")
	}
	if data, ok := t.pending[string(key)]; ok {
		if data == nil {
			return false, nil
		}
		return true, t.mem.decoder(data, v)
	}
	if data, ok := t.mem.db[string(key)]; ok {
		return true, t.mem.decoder(data, v)
	}
	return false, nil
}

func (t *Tx) Write(key []byte, value any) error {
	t.mem.lock.Lock()
	defer t.mem.lock.Unlock()
	if t.closed {
		return fmt.Errorf("memdb tx write failed, tx closed")
	}
	if t.mem.writeErr != nil {
		return t.mem.writeErr
	}
	b, err := t.mem.encoder(value)
	if err != nil {
		return err
	}
	t.pending[string(key)] = b
	return nil
}

func (t *Tx) Delete(key []byte) error {
	t.mem.lock.Lock()
	defer t.mem.lock.Unlock()
	if t.closed {
		return fmt.Errorf("memdb tx delete failed, tx closed")
	}
	t.pending[string(key)] = nil
	return nil
}

func (t *Tx) Rollback() error {
	t.mem.lock.Lock()
	defer t.mem.lock.Unlock()
	t.pending = nil
	t.closed = true
	return nil
}

func (t *Tx) Commit() error {
	t.mem.lock.Lock()
	defer t.mem.lock.Unlock()
	if t.closed {
		return fmt.Errorf("memdb tx commit failed, tx closed")
	}
	if t.mem.closed {
		return fmt.Errorf("memdb tx commit failed: %w", keyvaluedb.ErrClosed)
	}
	for k, v := range t.pending {
		if v == nil {
			delete(t.mem.db, k)
			continue
		}
		t.mem.db[k] = v
	}
	t.pending = nil
	t.closed = true
	return nil
}
