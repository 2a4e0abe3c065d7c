package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"crmloader/internal/query"
)

const savepointName = "crm_row"

// Session is the exclusive database handle of a single import. It pins one
// connection, opens a transaction lazily on the first write, and keeps it
// until Commit or Rollback. Reads go through the open transaction so rows
// written earlier in the same batch are visible.
type Session struct {
	conn    *sqlx.Conn
	tx      *sqlx.Tx
	dialect Dialect
	log     *slog.Logger
	pending int
}

// Session pins a connection from the pool for one import.
func (db *DB) Session(ctx context.Context) (*Session, error) {
	conn, err := db.Connx(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	log := db.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Session{conn: conn, dialect: db.Dialect, log: log}, nil
}

// Builder returns a statement builder for this session's backend.
func (s *Session) Builder() query.Builder { return query.NewBuilder(s.dialect.Placeholder) }

// InTx reports whether a transaction is open.
func (s *Session) InTx() bool { return s.tx != nil }

// Pending is the number of statements executed since the last commit.
func (s *Session) Pending() int { return s.pending }

func (s *Session) begin(ctx context.Context) error {
	if s.tx != nil {
		return nil
	}
	// The transaction outlives a cancelled run long enough to commit the
	// pending batch, so it must not inherit cancellation.
	tx, err := s.conn.BeginTxx(context.WithoutCancel(ctx), nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	s.tx = tx
	s.pending = 0
	s.log.Debug("transaction started")
	return nil
}

func (s *Session) reader() Reader {
	if s.tx != nil {
		return Reader{q: s.tx, ph: s.dialect.Placeholder}
	}
	return Reader{q: s.conn, ph: s.dialect.Placeholder}
}

// Exec runs st inside the session transaction, beginning one if needed. On
// backends that abort the transaction after a failed statement the statement
// is isolated in a savepoint, so a row error never poisons the batch.
func (s *Session) Exec(ctx context.Context, st query.Statement) (sql.Result, error) {
	if err := s.begin(ctx); err != nil {
		return nil, err
	}
	var res sql.Result
	err := s.guard(ctx, func() error {
		var err error
		res, err = s.tx.ExecContext(ctx, st.SQL, st.Args...)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.pending++
	return res, nil
}

// guard runs fn inside a savepoint when the dialect needs one.
func (s *Session) guard(ctx context.Context, fn func() error) error {
	if s.tx == nil || !s.dialect.Savepoints {
		return fn()
	}
	sp := s.dialect.savepoints()
	if _, err := s.tx.ExecContext(ctx, fmt.Sprintf(sp.Create, savepointName)); err != nil {
		return fmt.Errorf("savepoint: %w", err)
	}
	if err := fn(); err != nil {
		if _, rerr := s.tx.ExecContext(ctx, fmt.Sprintf(sp.RollbackTo, savepointName)); rerr != nil {
			return errors.Join(err, fmt.Errorf("rollback to savepoint: %w", rerr))
		}
		return err
	}
	if sp.Release == "" {
		return nil
	}
	if _, err := s.tx.ExecContext(ctx, fmt.Sprintf(sp.Release, savepointName)); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}
	return nil
}

// Commit commits the open transaction, if any. It returns the number of
// statements the commit made durable.
func (s *Session) Commit(ctx context.Context) (int, error) {
	if s.tx == nil {
		return 0, nil
	}
	n := s.pending
	tx := s.tx
	s.tx = nil
	s.pending = 0
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	s.log.Debug("transaction committed", "statements", n)
	return n, nil
}

// Rollback discards the open transaction, if any.
func (s *Session) Rollback() error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	s.pending = 0
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// Close rolls back anything uncommitted and returns the connection to the pool.
func (s *Session) Close() error {
	rerr := s.Rollback()
	cerr := s.conn.Close()
	return errors.Join(rerr, cerr)
}

// FindByNaturalKey is Reader.FindByNaturalKey on the session transaction.
func (s *Session) FindByNaturalKey(ctx context.Context, kl KeyLookup, key string, excludeID *int64) (*Match, error) {
	var m *Match
	err := s.guard(ctx, func() error {
		var err error
		m, err = s.reader().FindByNaturalKey(ctx, kl, key, excludeID)
		return err
	})
	return m, err
}

// Exists is Reader.Exists on the session transaction.
func (s *Session) Exists(ctx context.Context, table, column string, value any) (bool, error) {
	var ok bool
	err := s.guard(ctx, func() error {
		var err error
		ok, err = s.reader().Exists(ctx, table, column, value)
		return err
	})
	return ok, err
}

// Count is Reader.Count on the session transaction.
func (s *Session) Count(ctx context.Context, table string) (int64, error) {
	var n int64
	err := s.guard(ctx, func() error {
		var err error
		n, err = s.reader().Count(ctx, table)
		return err
	})
	return n, err
}
