// Package store owns database access for an import: opening the connection
// pool for the configured backend, the per-import transactional Session, and
// the read-only lookups the classifier and verifier rely on.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"crmloader/internal/query"
)

const pingTimeout = 10 * time.Second

// DB is a connection pool bound to a dialect.
type DB struct {
	*sqlx.DB
	Dialect Dialect
	Logger  *slog.Logger
}

// Open connects to the backend registered under driver and pings it.
func Open(ctx context.Context, driver, dsn string) (*DB, error) {
	d, err := Lookup(driver)
	if err != nil {
		return nil, err
	}
	x, err := sqlx.Open(d.DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if d.Configure != nil {
		d.Configure(x, dsn)
	}
	pctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := x.PingContext(pctx); err != nil {
		_ = x.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return &DB{DB: x, Dialect: d, Logger: slog.Default()}, nil
}

// Wrap adopts an already-open *sql.DB (tests use it with sqlmock).
func Wrap(db *sql.DB, d Dialect) *DB {
	return &DB{DB: sqlx.NewDb(db, d.DriverName), Dialect: d, Logger: slog.Default()}
}

// Builder returns a query builder in this backend's placeholder style.
func (db *DB) Builder() query.Builder { return query.NewBuilder(db.Dialect.Placeholder) }

// Reader runs lookups directly on the pool.
func (db *DB) Reader() Reader { return Reader{q: db.DB, ph: db.Dialect.Placeholder} }

// Match is an existing row found by natural key.
type Match struct {
	ID   int64          `db:"match_id"`
	Name sql.NullString `db:"match_name"`
	Key  sql.NullString `db:"match_key"`
}

// KeyLookup names the columns used to find a row by natural key.
type KeyLookup struct {
	Table         string
	IDColumn      string
	KeyColumn     string
	DisplayColumn string
}

// Reader runs read-only queries against a pool, connection or transaction.
type Reader struct {
	q  sqlx.QueryerContext
	ph sq.PlaceholderFormat
}

func (r Reader) sb() sq.StatementBuilderType {
	ph := r.ph
	if ph == nil {
		ph = sq.Question
	}
	return sq.StatementBuilder.PlaceholderFormat(ph)
}

// FindByNaturalKey returns the first row whose key column, with spaces and
// hyphens removed, equals key. excludeID, when non-nil, skips that row. A
// miss returns (nil, nil).
func (r Reader) FindByNaturalKey(ctx context.Context, kl KeyLookup, key string, excludeID *int64) (*Match, error) {
	name := "NULL"
	if kl.DisplayColumn != "" {
		name = kl.DisplayColumn
	}
	sel := r.sb().
		Select(
			kl.IDColumn+" AS match_id",
			name+" AS match_name",
			kl.KeyColumn+" AS match_key",
		).
		From(kl.Table).
		Where(sq.Expr("REPLACE(REPLACE("+kl.KeyColumn+", ' ', ''), '-', '') = ?", key)).
		OrderBy(kl.IDColumn)
	if excludeID != nil {
		sel = sel.Where(sq.NotEq{kl.IDColumn: *excludeID})
	}
	sqlStr, args, err := sel.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build lookup: %w", err)
	}

	var m Match
	err = sqlx.GetContext(ctx, r.q, &m, sqlStr, args...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup %s by %s: %w", kl.Table, kl.KeyColumn, err)
	}
	return &m, nil
}

// Exists reports whether table has a row with column = value.
func (r Reader) Exists(ctx context.Context, table, column string, value any) (bool, error) {
	sqlStr, args, err := r.sb().Select("COUNT(*)").From(table).Where(sq.Eq{column: value}).ToSql()
	if err != nil {
		return false, fmt.Errorf("build exists: %w", err)
	}
	var n int64
	if err := sqlx.GetContext(ctx, r.q, &n, sqlStr, args...); err != nil {
		return false, fmt.Errorf("exists in %s: %w", table, err)
	}
	return n > 0, nil
}

// Count returns the number of rows in table.
func (r Reader) Count(ctx context.Context, table string) (int64, error) {
	sqlStr, args, err := r.sb().Select("COUNT(*)").From(table).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count: %w", err)
	}
	var n int64
	if err := sqlx.GetContext(ctx, r.q, &n, sqlStr, args...); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}
