// Package postgres registers the PostgreSQL dialect (pgx stdlib driver).
package postgres

import (
	"net"
	"net/url"
	"strconv"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib"

	"crmloader/internal/store"
)

func init() {
	store.Register(store.Dialect{
		Name:        "postgres",
		DriverName:  "pgx",
		Placeholder: sq.Dollar,
		// A failed statement aborts the whole transaction in postgres.
		Savepoints: true,
		BuildDSN:   buildDSN,
	})
}

func buildDSN(p store.DSNParts) string {
	port := p.Port
	if port == 0 {
		port = 5432
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(p.User, p.Password),
		Host:   net.JoinHostPort(p.Host, strconv.Itoa(port)),
		Path:   "/" + p.Database,
	}
	return u.String()
}
