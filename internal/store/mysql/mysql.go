// Package mysql registers the MySQL dialect, the default backend of the CRM.
package mysql

import (
	"net"
	"strconv"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-sql-driver/mysql"

	"crmloader/internal/store"
)

func init() {
	store.Register(store.Dialect{
		Name:        "mysql",
		DriverName:  "mysql",
		Placeholder: sq.Question,
		BuildDSN:    buildDSN,
	})
}

func buildDSN(p store.DSNParts) string {
	cfg := mysql.NewConfig()
	cfg.User = p.User
	cfg.Passwd = p.Password
	cfg.Net = "tcp"
	port := p.Port
	if port == 0 {
		port = 3306
	}
	cfg.Addr = net.JoinHostPort(p.Host, strconv.Itoa(port))
	cfg.DBName = p.Database
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}
