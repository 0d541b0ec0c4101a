package storage

import (
	"errors"
	"fmt"

	"github.com/alphabill-org/wsv/session"
)

type savepointState int

const (
	savepointOpen savepointState = iota
	savepointReleased
	savepointRolledBack
)

/*
Savepoint is a nested transaction scope of a session. Changes made after the
savepoint was created are kept when Release is called, Close rolls them back
unless the savepoint has been released. Use it with defer:

	sp, err := tw.CreateSavepoint("batch")
	if err != nil {
		return err
	}
	defer sp.Close()
	...
	return sp.Release()

Both Release and Close are no-op on a savepoint which is already released or
rolled back.
*/
type Savepoint struct {
	ses   session.Session
	name  string
	state savepointState
	// onRollback is called after successful rollback
	onRollback func()
}

func newSavepoint(ses session.Session, name string, onRollback func()) (*Savepoint, error) {
	if err := ses.Savepoint(name); err != nil {
		return nil, fmt.Errorf("creating savepoint %q: %w", name, err)
	}
	return &Savepoint{ses: ses, name: name, onRollback: onRollback}, nil
}

func (sp *Savepoint) Name() string { return sp.name }

// Release keeps the changes made after the savepoint was created.
func (sp *Savepoint) Release() error {
	if sp.state != savepointOpen {
		return nil
	}
	sp.state = savepointReleased
	if err := sp.ses.Release(sp.name); err != nil {
		return fmt.Errorf("releasing savepoint %q: %w", sp.name, err)
	}
	return nil
}

// Close rolls back the changes made after the savepoint was created unless
// Release has been called.
func (sp *Savepoint) Close() error {
	if sp.state != savepointOpen {
		return nil
	}
	sp.state = savepointRolledBack
	if err := sp.ses.RollbackTo(sp.name); err != nil {
		return fmt.Errorf("rolling back to savepoint %q: %w", sp.name, err)
	}
	if sp.onRollback != nil {
		sp.onRollback()
	}
	if err := sp.ses.Release(sp.name); err != nil && !errors.Is(err, session.ErrUnknownSavepoint) {
		return fmt.Errorf("releasing savepoint %q: %w", sp.name, err)
	}
	return nil
}
