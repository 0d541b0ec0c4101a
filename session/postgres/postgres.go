package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/lib/pq"

	"github.com/alphabill-org/wsv/session"
)

const DefaultTableName = "wsv_kv"

type (
	// Store implements session.Store on PostgreSQL. All keys live in a single
	// table (key bytea primary key, value bytea). Every session runs on its own
	// connection so that savepoints and prepared transactions map directly to
	// the corresponding SQL statements.
	Store struct {
		db    *sql.DB
		table string // quoted
	}

	Options struct {
		tableName   string
		maxOpenConn int
	}

	Option func(*Options)
)

func WithTableName(name string) Option {
	return func(o *Options) {
		o.tableName = name
	}
}

func WithMaxOpenConnections(n int) Option {
	return func(o *Options) {
		o.maxOpenConn = n
	}
}

// New connects to the database and creates the backing table when it does not exist.
func New(ctx context.Context, connStr string, opts ...Option) (*Store, error) {
	o := &Options{tableName: DefaultTableName}
	for _, opt := range opts {
		opt(o)
	}
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if o.maxOpenConn > 0 {
		db.SetMaxOpenConns(o.maxOpenConn)
	}
	s := &Store{db: db, table: pq.QuoteIdentifier(o.tableName)}

	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		key bytea PRIMARY KEY,
		value bytea NOT NULL
		)`, s.table)
	if _, err := db.ExecContext(ctx, query); err != nil {
		return nil, errors.Join(fmt.Errorf("creating table: %w", mapError(err)), db.Close())
	}
	return s, nil
}

func (s *Store) Begin(ctx context.Context) (session.Session, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection: %w", mapError(err))
	}
	if _, err := conn.ExecContext(ctx, "BEGIN"); err != nil {
		return nil, errors.Join(fmt.Errorf("begin: %w", mapError(err)), conn.Close())
	}
	return &pgSession{ctx: ctx, conn: conn, q: queries{table: s.table, ex: conn}}, nil
}

func (s *Store) Reader() session.Reader {
	return &queries{table: s.table, ex: s.db}
}

func (s *Store) CommitPrepared(ctx context.Context, name string) error {
	if !session.ValidName(name) {
		return fmt.Errorf("%w: %q", session.ErrInvalidName, name)
	}
	if _, err := s.db.ExecContext(ctx, "COMMIT PREPARED "+pq.QuoteLiteral(name)); err != nil {
		return fmt.Errorf("commit prepared %q: %w", name, preparedError(err))
	}
	return nil
}

func (s *Store) RollbackPrepared(ctx context.Context, name string) error {
	if !session.ValidName(name) {
		return fmt.Errorf("%w: %q", session.ErrInvalidName, name)
	}
	if _, err := s.db.ExecContext(ctx, "ROLLBACK PREPARED "+pq.QuoteLiteral(name)); err != nil {
		return fmt.Errorf("rollback prepared %q: %w", name, preparedError(err))
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return mapError(err)
	}
	return nil
}

// Drop removes the backing table.
func (s *Store) Drop(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, s.table)); err != nil {
		return mapError(err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements row level operations, either in a session (ex is *sql.Conn)
// or in autocommit mode (ex is *sql.DB).
type queries struct {
	table string
	ex    executor
}

func (q *queries) Get(key []byte) ([]byte, bool, error) {
	return q.get(context.Background(), key)
}

func (q *queries) Scan(prefix []byte, fn func(key, value []byte) error) error {
	return q.scan(context.Background(), prefix, fn)
}

func (q *queries) get(ctx context.Context, key []byte) ([]byte, bool, error) {
	var value []byte
	query := fmt.Sprintf(`SELECT value FROM %s WHERE key = $1`, q.table)
	if err := q.ex.QueryRowContext(ctx, query, key).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, mapError(err)
	}
	return value, true, nil
}

func (q *queries) scan(ctx context.Context, prefix []byte, fn func(key, value []byte) error) error {
	query := fmt.Sprintf(`SELECT key, value FROM %s WHERE substring(key from 1 for $2) = $1 ORDER BY key`, q.table)
	rows, err := q.ex.QueryContext(ctx, query, notNull(prefix), len(prefix))
	if err != nil {
		return mapError(err)
	}
	defer rows.Close()
	for rows.Next() {
		var key, value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return mapError(err)
		}
		if err := fn(key, value); err != nil {
			return err
		}
	}
	return mapError(rows.Err())
}

func (q *queries) put(ctx context.Context, key, value []byte) error {
	query := fmt.Sprintf(`INSERT INTO %s (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, q.table)
	_, err := q.ex.ExecContext(ctx, query, key, value)
	return mapError(err)
}

func (q *queries) delete(ctx context.Context, key []byte) error {
	_, err := q.ex.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, q.table), key)
	return mapError(err)
}

func (q *queries) deletePrefix(ctx context.Context, prefix []byte) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE substring(key from 1 for $2) = $1`, q.table)
	_, err := q.ex.ExecContext(ctx, query, notNull(prefix), len(prefix))
	return mapError(err)
}

// notNull makes sure empty prefix is not sent as NULL
func notNull(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

// mapError marks connectivity failures with session.ErrUnavailable.
func mapError(err error) error {
	if err == nil || errors.Is(err, session.ErrUnavailable) {
		return err
	}
	if isConnectionError(err) {
		return fmt.Errorf("%w: %w", session.ErrUnavailable, err)
	}
	return err
}

func isConnectionError(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// class 08 - connection exception, 57P01..57P03 - server shutting down or not ready
		switch {
		case pqErr.Code.Class() == "08":
			return true
		case pqErr.Code == "57P01", pqErr.Code == "57P02", pqErr.Code == "57P03":
			return true
		}
	}
	return false
}

func preparedError(err error) error {
	var pqErr *pq.Error
	// 42704 - undefined_object: prepared transaction with given identifier does not exist
	if errors.As(err, &pqErr) && pqErr.Code == "42704" {
		return fmt.Errorf("%w: %w", session.ErrNotPrepared, err)
	}
	return mapError(err)
}
