package importer

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crmloader/internal/query"
	"crmloader/internal/schema"
	"crmloader/internal/source"
	"crmloader/internal/store"
	_ "crmloader/internal/store/sqlite"
)

const ddl = `
CREATE TABLE clientes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	telefono TEXT,
	nombre TEXT,
	email TEXT,
	edad INTEGER CHECK (edad IS NULL OR edad >= 0),
	precio_plan REAL,
	wizard_completado INTEGER,
	fecha_nacimiento TEXT,
	created_at TEXT,
	updated_at TEXT
);
CREATE TABLE usuarios (id INTEGER PRIMARY KEY, nombre TEXT);
CREATE TABLE historial_cliente (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	cliente_id INTEGER,
	usuario_id INTEGER,
	accion TEXT,
	descripcion TEXT,
	estado_anterior TEXT,
	estado_nuevo TEXT,
	comentarios TEXT,
	created_at TEXT
);`

func newDB(t *testing.T) *store.DB {
	t.Helper()
	ctx := context.Background()
	db, err := store.Open(ctx, "sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.ExecContext(ctx, ddl)
	require.NoError(t, err)
	return db
}

func table(t *testing.T, csv string) *source.Table {
	t.Helper()
	tbl, err := source.ParseCSV([]byte(csv), source.Options{})
	require.NoError(t, err)
	return tbl
}

// run imports csv through a fresh session and returns the results after the
// session is released, so the caller can query the database directly.
func run(t *testing.T, db *store.DB, desc *schema.Descriptor, csv string, opt Options) (*Results, *Importer, error) {
	t.Helper()
	ctx := context.Background()
	s, err := db.Session(ctx)
	require.NoError(t, err)
	defer s.Close()

	im, err := New(desc, s, opt)
	require.NoError(t, err)
	res, err := im.Run(ctx, table(t, csv))
	return res, im, err
}

func countRows(t *testing.T, db *store.DB, tbl string) int64 {
	t.Helper()
	n, err := db.Reader().Count(context.Background(), tbl)
	require.NoError(t, err)
	return n
}

func seedClient(t *testing.T, db *store.DB, tel, name, email string) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO clientes (telefono, nombre, email) VALUES (?, ?, ?)`, tel, name, email)
	require.NoError(t, err)
}

/*
TestRun_MixedOutcomes is the reference scenario: one new row, one row whose
phone already exists (with different formatting) and one row without a phone,
imported insert_only.
*/
func TestRun_MixedOutcomes(t *testing.T) {
	db := newDB(t)
	seedClient(t, db, "999111222", "Existente", "")

	csv := "telefono;nombre\n" +
		"555000111;Nuevo\n" +
		"999-111 222;Duplicado\n" +
		";Sin Telefono\n"

	res, im, err := run(t, db, schema.ClientsDescriptor(), csv, Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 0, res.Updated)
	assert.Equal(t, 1, res.DuplicateSkipped)
	assert.Equal(t, 1, res.Omitted)
	assert.Equal(t, 0, res.Errors)
	assert.Equal(t, 3, res.Total)
	assert.True(t, res.Conserved())
	assert.Equal(t, Done, im.State())

	require.Len(t, res.Rows, 3)
	assert.Equal(t, 2, res.Rows[0].Line)
	assert.Equal(t, DuplicateSkipped, res.Rows[1].Outcome)
	assert.Contains(t, res.Rows[2].Message, "telefono")
	assert.Equal(t, int64(2), countRows(t, db, "clientes"))
}

func TestRun_InsertOnlyIsIdempotent(t *testing.T) {
	db := newDB(t)
	csv := "telefono;nombre;edad\n111;A;30\n222;B;\n333;C;41\n"

	first, _, err := run(t, db, schema.ClientsDescriptor(), csv, Options{Mode: InsertOnly})
	require.NoError(t, err)
	assert.Equal(t, 3, first.Inserted)

	second, _, err := run(t, db, schema.ClientsDescriptor(), csv, Options{Mode: InsertOnly})
	require.NoError(t, err)
	assert.Equal(t, 0, second.Inserted)
	assert.Equal(t, 3, second.DuplicateSkipped)
	assert.True(t, second.Conserved())
	assert.Equal(t, int64(3), countRows(t, db, "clientes"))
}

/*
TestRun_DuplicateWithinFile verifies that a row inserted earlier in the same
uncommitted batch is seen by the classifier for later rows.
*/
func TestRun_DuplicateWithinFile(t *testing.T) {
	db := newDB(t)
	csv := "telefono;nombre\n111-222;A\n111 222;B\n"

	res, _, err := run(t, db, schema.ClientsDescriptor(), csv, Options{BatchSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.DuplicateSkipped)
}

func TestRun_BatchCommits(t *testing.T) {
	db := newDB(t)
	csv := "telefono;nombre\n1;A\n2;B\n3;C\n4;D\n5;E\n"

	res, _, err := run(t, db, schema.ClientsDescriptor(), csv, Options{BatchSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, res.Inserted)
	assert.Equal(t, 3, res.Commits, "2 full batches plus the remainder at end of file")
	assert.Equal(t, int64(5), countRows(t, db, "clientes"))
}

/*
TestRun_UpdateOnlyIsLenient verifies that under update_only a row matching an
existing key is updated (non-null fields only, updated_at stamped) and a row
without a match is skipped, not reported as an error.
*/
func TestRun_UpdateOnlyIsLenient(t *testing.T) {
	db := newDB(t)
	seedClient(t, db, "999111222", "Viejo", "viejo@example.com")
	now := time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)

	csv := "telefono;nombre;email\n999-111-222;Nuevo Nombre;\n000000;Nadie;x@example.com\n"
	res, _, err := run(t, db, schema.ClientsDescriptor(), csv, Options{
		Mode: UpdateOnly,
		Now:  func() time.Time { return now },
	})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 1, res.DuplicateSkipped)
	assert.Equal(t, 0, res.Errors)
	assert.Equal(t, 0, res.Inserted)
	assert.Equal(t, "no existing row to update", res.Rows[1].Message)

	var got struct {
		Nombre    string `db:"nombre"`
		Email     string `db:"email"`
		UpdatedAt string `db:"updated_at"`
	}
	require.NoError(t, db.Get(&got, `SELECT nombre, email, updated_at FROM clientes WHERE id = 1`))
	assert.Equal(t, "Nuevo Nombre", got.Nombre)
	assert.Equal(t, "viejo@example.com", got.Email, "null cells must not overwrite stored values")
	assert.Equal(t, "2025-02-03 04:05:06", got.UpdatedAt)
	assert.Equal(t, int64(1), countRows(t, db, "clientes"))
}

func TestRun_Upsert(t *testing.T) {
	db := newDB(t)
	seedClient(t, db, "111", "Uno", "")

	csv := "telefono;nombre;precio_plan;wizard_completado\n111;Uno Bis;79,90;SI\n222;Dos;10;no\n"
	res, _, err := run(t, db, schema.ClientsDescriptor(), csv, Options{Mode: Upsert, Decimal: ','})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 1, res.Inserted)

	var precio float64
	var wizard int
	require.NoError(t, db.QueryRow(`SELECT precio_plan, wizard_completado FROM clientes WHERE telefono = '111'`).Scan(&precio, &wizard))
	assert.Equal(t, 79.9, precio)
	assert.Equal(t, 1, wizard)
}

/*
TestRun_RowErrorDoesNotAbort verifies that a statement rejected by the
database is recorded as an error outcome and the remaining rows of the same
batch still land.
*/
func TestRun_RowErrorDoesNotAbort(t *testing.T) {
	db := newDB(t)
	csv := "telefono;nombre;edad\n1;A;20\n2;B;-5\n3;C;30\n"

	res, _, err := run(t, db, schema.ClientsDescriptor(), csv, Options{BatchSize: 100})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, 1, res.Errors)
	assert.Equal(t, Error, res.Rows[1].Outcome)
	assert.Equal(t, 3, res.Rows[1].Line)
	assert.True(t, res.Conserved())
	assert.Equal(t, int64(2), countRows(t, db, "clientes"))
}

func TestRun_UnparseableDateIsNotFatal(t *testing.T) {
	db := newDB(t)
	csv := "telefono;nombre;fecha_nacimiento\n1;A;not-a-date\n2;B;15/01/1990\n"

	res, _, err := run(t, db, schema.ClientsDescriptor(), csv, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)

	var dates []sql.NullString
	require.NoError(t, db.Select(&dates, `SELECT fecha_nacimiento FROM clientes ORDER BY id`))
	require.Len(t, dates, 2)
	assert.False(t, dates[0].Valid, "unparseable date is stored as NULL")
	require.True(t, dates[1].Valid)
	assert.Equal(t, "1990-01-15 00:00:00", dates[1].String)
}

func TestRun_MissingRequiredColumn(t *testing.T) {
	db := newDB(t)
	res, im, err := run(t, db, schema.ClientsDescriptor(), "nombre;email\nA;a@x\n", Options{})
	assert.Nil(t, res)
	assert.True(t, source.IsUnreadable(err))
	assert.Equal(t, Failed, im.State())
}

func TestRun_HistoryReferences(t *testing.T) {
	db := newDB(t)
	seedClient(t, db, "111", "Uno", "")
	_, err := db.Exec(`INSERT INTO usuarios (id, nombre) VALUES (1, 'asesor')`)
	require.NoError(t, err)

	csv := "cliente_id;usuario_id;accion;comentarios\n" +
		"1;1;llamada;ok\n" +
		"99;1;llamada;\n" +
		"1;7;visita;\n" +
		"1;;visita;\n"
	res, _, err := run(t, db, schema.HistoryDescriptor(), csv, Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 3, res.Omitted)
	assert.Equal(t, "cliente_id 99 not found in clientes", res.Rows[1].Message)
	assert.Equal(t, "usuario_id 7 not found in usuarios", res.Rows[2].Message)
	assert.Equal(t, "missing required field usuario_id", res.Rows[3].Message)
	assert.Equal(t, int64(1), countRows(t, db, "historial_cliente"))
}

func TestNew_UpdateModesNeedNaturalKey(t *testing.T) {
	_, err := New(schema.HistoryDescriptor(), nil, Options{Mode: Upsert})
	assert.Error(t, err)
	_, err = New(schema.ClientsDescriptor(), nil, Options{Mode: "merge"})
	assert.Error(t, err)
}

func TestRun_EmptyStatementIsFatal(t *testing.T) {
	db := newDB(t)
	desc := &schema.Descriptor{
		Name:     "sparse",
		Table:    "clientes",
		IDColumn: "id",
		Fields:   schema.ClientsDescriptor().Fields,
	}
	res, im, err := run(t, db, desc, "id;email\n1;\n", Options{})
	assert.ErrorIs(t, err, query.ErrEmptyStatement)
	assert.Equal(t, Failed, im.State())
	assert.Equal(t, 0, res.Processed)
}

type failingCommit struct {
	*store.Session
}

func (failingCommit) Commit(context.Context) (int, error) {
	return 0, errors.New("disk full")
}

func TestRun_CommitErrorIsFatal(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()
	s, err := db.Session(ctx)
	require.NoError(t, err)
	defer s.Close()

	im, err := New(schema.ClientsDescriptor(), failingCommit{s}, Options{BatchSize: 2})
	require.NoError(t, err)
	res, err := im.Run(ctx, table(t, "telefono;nombre\n1;A\n2;B\n3;C\n"))

	var ce *CommitError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 2, ce.Processed)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, Failed, im.State())

	// Nothing of the failed batch is durable, so nothing counts as inserted.
	assert.Equal(t, 0, res.Inserted)
	assert.Equal(t, 2, res.Errors)
	assert.Equal(t, 2, res.RolledBack)
	assert.True(t, res.Conserved())
	assert.Contains(t, res.Rows[0].Message, "rolled back")
}

/*
TestRun_FatalErrorReportsRolledBackRows verifies that rows written in the
batch that a fatal error rolls back are reported as errors, while rows of
batches committed earlier stay inserted.
*/
func TestRun_FatalErrorReportsRolledBackRows(t *testing.T) {
	db := newDB(t)
	desc := &schema.Descriptor{
		Name:     "sparse",
		Table:    "clientes",
		IDColumn: "id",
		Fields:   schema.ClientsDescriptor().Fields,
	}
	csv := "telefono;nombre\n1;A\n2;B\n3;C\n;\n"

	res, _, err := run(t, db, desc, csv, Options{BatchSize: 2})
	require.ErrorIs(t, err, query.ErrEmptyStatement)
	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, 2, res.Inserted, "first batch was committed")
	assert.Equal(t, 1, res.Errors)
	assert.Equal(t, 1, res.RolledBack)
	assert.Equal(t, Error, res.Rows[2].Outcome)
	assert.True(t, res.Conserved())
	assert.Equal(t, int64(2), countRows(t, db, "clientes"))
}

/*
TestRun_CancelCommitsPending verifies that cancelling between rows commits
what was already executed and returns partial results with the context error.
*/
func TestRun_CancelCommitsPending(t *testing.T) {
	db := newDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := db.Session(ctx)
	require.NoError(t, err)

	im, err := New(schema.ClientsDescriptor(), s, Options{
		BatchSize: 100,
		Progress: func(_ float64, current, _ int) {
			if current == 2 {
				cancel()
			}
		},
	})
	require.NoError(t, err)

	res, err := im.Run(ctx, table(t, "telefono;nombre\n1;A\n2;B\n3;C\n4;D\n"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsFatal(err))
	require.NotNil(t, res)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 4, res.Total)
	assert.Equal(t, 1, res.Commits)
	require.NoError(t, s.Close())

	assert.Equal(t, int64(2), countRows(t, db, "clientes"))
}

type skipSink struct{ reasons []string }

func (s *skipSink) Add(reason string, _ int, _, _ string, _ []string) {
	s.reasons = append(s.reasons, reason)
}

func TestRun_ProgressSkipsAndReport(t *testing.T) {
	db := newDB(t)
	seedClient(t, db, "2", "B", "")

	var percents []float64
	var reported *Results
	sink := &skipSink{}
	res, _, err := run(t, db, schema.ClientsDescriptor(), "telefono;nombre\n1;A\n2;B\n;C\n4;D\n", Options{
		Progress: func(p float64, _, _ int) { percents = append(percents, p) },
		Skips:    sink,
		Report:   func(r *Results) { reported = r },
		RunID:    "run-1",
	})
	require.NoError(t, err)

	assert.Equal(t, []float64{25, 50, 75, 100}, percents)
	assert.Equal(t, []string{"duplicate_skipped", "omitted"}, sink.reasons)
	assert.Same(t, res, reported)
	assert.Equal(t, "run-1", res.RunID)
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"": InsertOnly, "UPSERT": Upsert, " update_only ": UpdateOnly} {
		got, err := ParseMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseMode("replace")
	assert.Error(t, err)
}

/*
TestRun_TableDecimalOverridesOption verifies that a source whose format fixes
the decimal point (spreadsheets) is parsed with it even when the run is
configured for comma decimals.
*/
func TestRun_TableDecimalOverridesOption(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()
	tbl := table(t, "telefono;nombre;precio_plan\n1;A;1234.5\n")
	tbl.Decimal = '.'

	func() {
		s, err := db.Session(ctx)
		require.NoError(t, err)
		defer s.Close()
		im, err := New(schema.ClientsDescriptor(), s, Options{Decimal: ','})
		require.NoError(t, err)
		_, err = im.Run(ctx, tbl)
		require.NoError(t, err)
	}()

	var price float64
	require.NoError(t, db.Get(&price, `SELECT precio_plan FROM clientes`))
	assert.InDelta(t, 1234.5, price, 1e-9)
}
