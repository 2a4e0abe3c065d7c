// Package sqlserver registers the Microsoft SQL Server dialect.
package sqlserver

import (
	"net"
	"net/url"
	"strconv"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/microsoft/go-mssqldb"

	"crmloader/internal/store"
)

func init() {
	store.Register(store.Dialect{
		Name:        "sqlserver",
		DriverName:  "sqlserver",
		Placeholder: sq.AtP,
		// Conversion errors abort the transaction even with XACT_ABORT OFF.
		Savepoints:      true,
		SavepointSyntax: &savepoints,
		BuildDSN:        buildDSN,
	})
}

// SQL Server has no RELEASE; a named savepoint simply stays until commit.
var savepoints = store.SavepointSyntax{
	Create:     "SAVE TRANSACTION %s",
	RollbackTo: "ROLLBACK TRANSACTION %s",
}

func buildDSN(p store.DSNParts) string {
	port := p.Port
	if port == 0 {
		port = 1433
	}
	q := url.Values{}
	q.Set("database", p.Database)
	u := url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(p.User, p.Password),
		Host:     net.JoinHostPort(p.Host, strconv.Itoa(port)),
		RawQuery: q.Encode(),
	}
	return u.String()
}
