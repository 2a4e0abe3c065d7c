package store

import (
	"fmt"
	"sort"
	"sync"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
)

// DSNParts are the connection settings a Dialect assembles into a driver DSN
// when no explicit DSN is configured.
type DSNParts struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// Dialect describes how to talk to one database backend.
type Dialect struct {
	// Name is the configuration value that selects this dialect (db_driver).
	Name string
	// DriverName is the database/sql driver name registered by the driver package.
	DriverName string
	// Placeholder is the bind-variable style of the backend.
	Placeholder sq.PlaceholderFormat
	// Savepoints wraps each statement of a batch in a savepoint. Needed where a
	// failed statement can abort the enclosing transaction (postgres, sqlserver).
	Savepoints bool
	// SavepointSyntax spells the savepoint statements. Nil means
	// StandardSavepoints.
	SavepointSyntax *SavepointSyntax
	// BuildDSN assembles a DSN from parts.
	BuildDSN func(DSNParts) string
	// Configure tunes the pool after open. Optional.
	Configure func(db *sqlx.DB, dsn string)
}

// SavepointSyntax holds fmt formats taking the savepoint name. An empty
// Release means the backend has no release statement.
type SavepointSyntax struct {
	Create     string
	RollbackTo string
	Release    string
}

// StandardSavepoints is the SQL standard form used by postgres.
var StandardSavepoints = SavepointSyntax{
	Create:     "SAVEPOINT %s",
	RollbackTo: "ROLLBACK TO SAVEPOINT %s",
	Release:    "RELEASE SAVEPOINT %s",
}

func (d Dialect) savepoints() SavepointSyntax {
	if d.SavepointSyntax != nil {
		return *d.SavepointSyntax
	}
	return StandardSavepoints
}

var (
	dialectMu sync.RWMutex
	dialects  = map[string]Dialect{}
)

// Register registers (or replaces) a Dialect. Backend packages call it from
// init; import crmloader/internal/store/all to enable every backend.
func Register(d Dialect) {
	dialectMu.Lock()
	defer dialectMu.Unlock()
	dialects[d.Name] = d
}

// Lookup returns the dialect registered under name.
func Lookup(name string) (Dialect, error) {
	dialectMu.RLock()
	d, ok := dialects[name]
	dialectMu.RUnlock()
	if !ok {
		return Dialect{}, fmt.Errorf("no database dialect registered for driver %q (known: %v)", name, Names())
	}
	return d, nil
}

// Names lists registered dialects in sorted order.
func Names() []string {
	dialectMu.RLock()
	defer dialectMu.RUnlock()
	out := make([]string, 0, len(dialects))
	for n := range dialects {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// BuildDSN assembles a DSN for the named dialect.
func BuildDSN(name string, p DSNParts) (string, error) {
	d, err := Lookup(name)
	if err != nil {
		return "", err
	}
	if d.BuildDSN == nil {
		return "", fmt.Errorf("driver %q needs an explicit DSN", name)
	}
	return d.BuildDSN(p), nil
}
