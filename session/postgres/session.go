package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/alphabill-org/wsv/keyvaluedb"
	"github.com/alphabill-org/wsv/session"
)

// pgSession is a transaction started with explicit BEGIN on a dedicated
// connection. The connection goes back to the pool once the transaction ends.
type pgSession struct {
	ctx  context.Context
	conn *sql.Conn
	q    queries
}

func (s *pgSession) Get(key []byte) ([]byte, bool, error) {
	if s.conn == nil {
		return nil, false, session.ErrTxDone
	}
	return s.q.get(s.ctx, key)
}

func (s *pgSession) Scan(prefix []byte, fn func(key, value []byte) error) error {
	if s.conn == nil {
		return session.ErrTxDone
	}
	return s.q.scan(s.ctx, prefix, fn)
}

func (s *pgSession) Put(key, value []byte) error {
	if s.conn == nil {
		return session.ErrTxDone
	}
	if err := keyvaluedb.CheckKey(key); err != nil {
		return err
	}
	if value == nil {
		return fmt.Errorf("value for key %X is nil", key)
	}
	return s.q.put(s.ctx, key, value)
}

func (s *pgSession) Delete(key []byte) error {
	if s.conn == nil {
		return session.ErrTxDone
	}
	if err := keyvaluedb.CheckKey(key); err != nil {
		return err
	}
	return s.q.delete(s.ctx, key)
}

func (s *pgSession) DeletePrefix(prefix []byte) error {
	if s.conn == nil {
		return session.ErrTxDone
	}
	return s.q.deletePrefix(s.ctx, prefix)
}

func (s *pgSession) Savepoint(name string) error {
	return s.savepointStmt("SAVEPOINT ", name)
}

func (s *pgSession) RollbackTo(name string) error {
	return s.savepointStmt("ROLLBACK TO SAVEPOINT ", name)
}

func (s *pgSession) Release(name string) error {
	return s.savepointStmt("RELEASE SAVEPOINT ", name)
}

func (s *pgSession) savepointStmt(stmt, name string) error {
	if s.conn == nil {
		return session.ErrTxDone
	}
	if !session.ValidName(name) {
		return fmt.Errorf("%w: %q", session.ErrInvalidName, name)
	}
	if _, err := s.conn.ExecContext(s.ctx, stmt+pq.QuoteIdentifier(name)); err != nil {
		var pqErr *pq.Error
		// 3B001 - invalid_savepoint_specification
		if errors.As(err, &pqErr) && pqErr.Code == "3B001" {
			return fmt.Errorf("%w %q: %w", session.ErrUnknownSavepoint, name, err)
		}
		return mapError(err)
	}
	return nil
}

func (s *pgSession) Commit() error {
	return s.end("COMMIT")
}

func (s *pgSession) Rollback() error {
	return s.end("ROLLBACK")
}

func (s *pgSession) Prepare(name string) error {
	if !session.ValidName(name) {
		return fmt.Errorf("%w: %q", session.ErrInvalidName, name)
	}
	return s.end("PREPARE TRANSACTION " + pq.QuoteLiteral(name))
}

// end runs the statement finishing the transaction. The session is closed
// even when the statement fails, Postgres aborts the transaction in that case.
func (s *pgSession) end(stmt string) error {
	if s.conn == nil {
		return session.ErrTxDone
	}
	conn := s.conn
	s.conn = nil
	_, err := conn.ExecContext(s.ctx, stmt)
	if err != nil {
		// make sure the connection is not returned to the pool mid-transaction
		_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		return errors.Join(fmt.Errorf("%s: %w", stmt, mapError(err)), conn.Close())
	}
	return conn.Close()
}
