// Package sqlite registers the SQLite dialect (pure-Go modernc driver). It is
// used for local dry runs and the end-to-end tests.
package sqlite

import (
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"crmloader/internal/store"
)

func init() {
	store.Register(store.Dialect{
		Name:        "sqlite",
		DriverName:  "sqlite",
		Placeholder: sq.Question,
		BuildDSN: func(p store.DSNParts) string {
			return "file:" + p.Database + "?_pragma=busy_timeout(5000)"
		},
		Configure: configure,
	})
}

// configure limits the pool to one connection. SQLite has a single writer,
// and every connection to :memory: would otherwise see its own empty database.
func configure(db *sqlx.DB, dsn string) {
	db.SetMaxOpenConns(1)
	if strings.Contains(dsn, ":memory:") {
		db.SetConnMaxLifetime(0)
		db.SetMaxIdleConns(1)
	}
}
