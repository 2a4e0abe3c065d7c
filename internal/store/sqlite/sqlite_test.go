package sqlite_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crmloader/internal/normalize"
	"crmloader/internal/query"
	"crmloader/internal/store"
	_ "crmloader/internal/store/sqlite"
)

/*
TestSession_ReadYourWrites verifies against a real in-memory SQLite database
that a row inserted earlier in an uncommitted batch is visible to the natural
key lookup, with spaces and hyphens ignored on the stored side.
*/
func TestSession_ReadYourWrites(t *testing.T) {
	ctx := context.Background()
	db, err := store.Open(ctx, "sqlite", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	_, err = db.ExecContext(ctx, `CREATE TABLE clientes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		telefono TEXT, nombre TEXT, updated_at TEXT)`)
	require.NoError(t, err)

	s, err := db.Session(ctx)
	require.NoError(t, err)

	st, err := s.Builder().Insert("clientes", query.Fields{
		"telefono": normalize.Text("999-111 222"),
		"nombre":   normalize.Text("Ana"),
	}, "id")
	require.NoError(t, err)
	_, err = s.Exec(ctx, st)
	require.NoError(t, err)

	kl := store.KeyLookup{Table: "clientes", IDColumn: "id", KeyColumn: "telefono", DisplayColumn: "nombre"}
	m, err := s.FindByNaturalKey(ctx, kl, "999111222", nil)
	require.NoError(t, err)
	require.NotNil(t, m, "uncommitted insert must be visible inside the session")
	assert.Equal(t, "Ana", m.Name.String)

	exclude := m.ID
	m2, err := s.FindByNaturalKey(ctx, kl, "999111222", &exclude)
	require.NoError(t, err)
	assert.Nil(t, m2)

	ok, err := s.Exists(ctx, "clientes", "id", m.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	n, err := s.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, s.Close())

	count, err := db.Reader().Count(ctx, "clientes")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestBuildDSN(t *testing.T) {
	dsn, err := store.BuildDSN("sqlite", store.DSNParts{Database: "crm.db"})
	require.NoError(t, err)
	assert.Equal(t, "file:crm.db?_pragma=busy_timeout(5000)", dsn)
}
