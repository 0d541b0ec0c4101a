package session

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable wraps every failure caused by lost connectivity to the
	// persisted store. Callers may retry such operations against a fresh store.
	ErrUnavailable = errors.New("persisted store is unavailable")

	ErrTxDone           = errors.New("session has already been committed or rolled back")
	ErrUnknownSavepoint = errors.New("unknown savepoint")
	ErrNotPrepared      = errors.New("no prepared transaction with given name")
	ErrInvalidName      = errors.New("invalid savepoint or transaction name")
)

type (
	// Reader gives read access to the keys of the store. Scan visits keys with
	// given prefix in binary-alphabetical order, returning error from the callback
	// stops the scan and the error is returned to the caller.
	Reader interface {
		Get(key []byte) ([]byte, bool, error)
		Scan(prefix []byte, fn func(key, value []byte) error) error
	}

	// Session is a single transaction against the persisted store. Changes are
	// visible to the session itself immediately and to others only after Commit.
	//
	// Savepoint establishes a named marker, RollbackTo undoes all changes made
	// after the marker (the marker stays), Release forgets the marker keeping the
	// changes. When names repeat the most recent savepoint with the name is used.
	//
	// The session ends with Commit, Rollback or Prepare even when they fail, all
	// other calls return ErrTxDone after that.
	//
	// Prepare ends the session the same way as Commit does except that changes are
	// kept by the store under given name until Store.CommitPrepared or
	// Store.RollbackPrepared is called.
	Session interface {
		Reader
		Put(key, value []byte) error
		Delete(key []byte) error
		DeletePrefix(prefix []byte) error

		Savepoint(name string) error
		RollbackTo(name string) error
		Release(name string) error

		Commit() error
		Rollback() error
		Prepare(name string) error
	}

	Store interface {
		Begin(ctx context.Context) (Session, error)
		// Reader returns reader of the committed state.
		Reader() Reader
		CommitPrepared(ctx context.Context, name string) error
		RollbackPrepared(ctx context.Context, name string) error
		Ping(ctx context.Context) error
		Close() error
	}
)

// Unavailable reports whether err was caused by lost connectivity.
func Unavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

func ValidName(name string) bool {
	if name == "" || len(name) > 63 {
		return false
	}
	for _, c := range name {
		if !(c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}
