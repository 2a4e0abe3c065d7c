// Package oracle registers the Oracle dialect (pure-Go go-ora driver).
package oracle

import (
	sq "github.com/Masterminds/squirrel"
	go_ora "github.com/sijms/go-ora/v2"

	"crmloader/internal/store"
)

func init() {
	store.Register(store.Dialect{
		Name:        "oracle",
		DriverName:  "oracle",
		Placeholder: sq.Colon,
		BuildDSN: func(p store.DSNParts) string {
			port := p.Port
			if port == 0 {
				port = 1521
			}
			// Database is the service name.
			return go_ora.BuildUrl(p.Host, port, p.Database, p.User, p.Password, nil)
		},
	})
}
