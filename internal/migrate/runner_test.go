package migrate_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fisioflow/fisioflow-backend/internal/migrate"
	"github.com/fisioflow/fisioflow-backend/pkg/database"
	"github.com/fisioflow/fisioflow-backend/pkg/logger"
	"github.com/fisioflow/fisioflow-backend/pkg/testutil"
)

func newRunnerFixture(t *testing.T, migrations ...*migrate.Migration) (*testutil.MockDB, *migrate.Runner) {
	t.Helper()
	mockDB := testutil.NewMockDB(t)
	t.Cleanup(func() { mockDB.Close() })

	registry := migrate.NewRegistry()
	for _, m := range migrations {
		require.NoError(t, registry.Register(m))
	}

	log := logger.New("test", "test")
	db := database.NewFromSqlx(mockDB.DB, "public", log)
	return mockDB, migrate.NewRunner(db, registry, "compliance", log)
}

func recordColumns() []string {
	return []string{"id", "name", "database", "status", "started_at", "completed_at", "error_message", "checksum"}
}

func expectLedger(m *testutil.MockDB) {
	m.Mock.ExpectExec(`CREATE TABLE IF NOT EXISTS public\.schema_migrations`).
		WillReturnResult(sqlmock.NewResult(0, 0))
}

func expectApply(m *testutil.MockDB, upPattern string) {
	m.Mock.ExpectQuery(`FROM public\.schema_migrations`).WillReturnError(errNoRows())
	m.Mock.ExpectExec(`INSERT INTO public\.schema_migrations`).
		WillReturnResult(sqlmock.NewResult(0, 1)) // running
	m.ExpectBegin()
	m.Mock.ExpectExec(upPattern).WillReturnResult(sqlmock.NewResult(0, 0))
	m.ExpectCommit()
	m.Mock.ExpectExec(`INSERT INTO public\.schema_migrations`).
		WillReturnResult(sqlmock.NewResult(0, 1)) // completed
}

func errNoRows() error {
	return sql.ErrNoRows
}

func TestRunner_RunAppliesPendingInOrder(t *testing.T) {
	first := &migrate.Migration{Name: "001_tenants", Database: "compliance", Up: "CREATE TABLE tenants ()"}
	second := &migrate.Migration{Name: "002_users", Database: "compliance", Up: "CREATE TABLE users ()"}
	mockDB, runner := newRunnerFixture(t, second, first)

	expectLedger(mockDB)
	expectApply(mockDB, `CREATE TABLE tenants`)
	expectApply(mockDB, `CREATE TABLE users`)

	summary, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 2, summary.Executed)
	assert.Equal(t, 0, summary.Skipped)
	assert.Equal(t, 0, summary.Failed)
	require.Len(t, summary.Results, 2)
	assert.Equal(t, "001_tenants", summary.Results[0].Name)
	assert.Equal(t, "002_users", summary.Results[1].Name)
	assert.True(t, summary.Ok())
	mockDB.ExpectationsWereMet(t)
}

func TestRunner_RunSkipsCompleted(t *testing.T) {
	m := &migrate.Migration{Name: "001_tenants", Database: "compliance", Up: "CREATE TABLE tenants ()"}
	mockDB, runner := newRunnerFixture(t, m)

	now := time.Now()
	expectLedger(mockDB)
	mockDB.Mock.ExpectQuery(`FROM public\.schema_migrations`).
		WillReturnRows(testutil.MockRows(recordColumns()...).
			AddRow(1, m.Name, "compliance", string(migrate.StatusCompleted), now, now, nil, m.Checksum()))

	summary, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 0, summary.Executed)
	assert.Equal(t, 1, summary.Skipped)
	mockDB.ExpectationsWereMet(t)
}

func TestRunner_RunStopsAtFirstFailure(t *testing.T) {
	first := &migrate.Migration{Name: "001_tenants", Database: "compliance", Up: "CREATE TABLE tenants ()"}
	second := &migrate.Migration{Name: "002_users", Database: "compliance", Up: "CREATE TABLE users ()"}
	mockDB, runner := newRunnerFixture(t, first, second)

	expectLedger(mockDB)
	mockDB.Mock.ExpectQuery(`FROM public\.schema_migrations`).WillReturnError(errNoRows())
	mockDB.Mock.ExpectExec(`INSERT INTO public\.schema_migrations`).
		WillReturnResult(sqlmock.NewResult(0, 1)) // running
	mockDB.ExpectBegin()
	mockDB.Mock.ExpectExec(`CREATE TABLE tenants`).
		WillReturnError(errors.New("syntax error"))
	mockDB.ExpectRollback()
	mockDB.Mock.ExpectExec(`INSERT INTO public\.schema_migrations`).
		WillReturnResult(sqlmock.NewResult(0, 1)) // failed

	summary, err := runner.Run(context.Background())
	require.NoError(t, err, "a failing migration is reported via the summary")
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 0, summary.Executed)
	assert.Equal(t, 0, summary.Skipped)
	assert.Equal(t, 1, summary.Failed)
	assert.False(t, summary.Ok())

	// 002_users was never attempted: absent from results, no further
	// expectations queued against the mock.
	require.Len(t, summary.Results, 1)
	assert.Equal(t, "001_tenants", summary.Results[0].Name)
	assert.Equal(t, migrate.StatusFailed, summary.Results[0].Status)
	assert.Contains(t, summary.Results[0].Error, "syntax error")
	mockDB.ExpectationsWereMet(t)
}

func TestRunner_RollbackLatest(t *testing.T) {
	m := &migrate.Migration{
		Name:     "002_users",
		Database: "compliance",
		Up:       "CREATE TABLE users ()",
		Down:     "DROP TABLE users",
	}
	mockDB, runner := newRunnerFixture(t, m)

	now := time.Now()
	expectLedger(mockDB)
	mockDB.Mock.ExpectQuery(`ORDER BY completed_at DESC`).
		WillReturnRows(testutil.MockRows("id").AddRow(2))
	mockDB.Mock.ExpectQuery(`FROM public\.schema_migrations`).
		WillReturnRows(testutil.MockRows(recordColumns()...).
			AddRow(2, m.Name, "compliance", string(migrate.StatusCompleted), now, now, nil, m.Checksum()))
	mockDB.ExpectBegin()
	mockDB.Mock.ExpectExec(`DROP TABLE users`).WillReturnResult(sqlmock.NewResult(0, 0))
	mockDB.ExpectCommit()
	mockDB.Mock.ExpectExec(`INSERT INTO public\.schema_migrations`).
		WillReturnResult(sqlmock.NewResult(0, 1)) // rolled_back

	require.NoError(t, runner.Rollback(context.Background(), 0))
	mockDB.ExpectationsWereMet(t)
}

func TestRunner_RollbackWithNothingCompleted(t *testing.T) {
	m := &migrate.Migration{Name: "001_tenants", Database: "compliance", Up: "x", Down: "y"}
	mockDB, runner := newRunnerFixture(t, m)

	expectLedger(mockDB)
	mockDB.Mock.ExpectQuery(`ORDER BY completed_at DESC`).WillReturnError(errNoRows())

	err := runner.Rollback(context.Background(), 0)
	assert.ErrorIs(t, err, migrate.ErrNothingToRollback)
	mockDB.ExpectationsWereMet(t)
}

func TestRunner_RollbackRefusesWithoutDownStep(t *testing.T) {
	m := &migrate.Migration{Name: "001_tenants", Database: "compliance", Up: "CREATE TABLE tenants ()"}
	mockDB, runner := newRunnerFixture(t, m)

	now := time.Now()
	expectLedger(mockDB)
	mockDB.Mock.ExpectQuery(`FROM public\.schema_migrations`).
		WillReturnRows(testutil.MockRows(recordColumns()...).
			AddRow(1, m.Name, "compliance", string(migrate.StatusCompleted), now, now, nil, m.Checksum()))

	err := runner.Rollback(context.Background(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no down step")
	mockDB.ExpectationsWereMet(t)
}

func TestRunner_Status(t *testing.T) {
	applied := &migrate.Migration{Name: "001_tenants", Database: "compliance", Up: "CREATE TABLE tenants ()"}
	pending := &migrate.Migration{Name: "002_users", Database: "compliance", Up: "CREATE TABLE users ()"}
	mockDB, runner := newRunnerFixture(t, applied, pending)

	now := time.Now()
	expectLedger(mockDB)
	mockDB.Mock.ExpectQuery(`ORDER BY id ASC`).
		WillReturnRows(testutil.MockRows(recordColumns()...).
			AddRow(1, applied.Name, "compliance", string(migrate.StatusCompleted), now, now, nil, "deadbeefdeadbeef").
			AddRow(9, "009_removed", "compliance", string(migrate.StatusCompleted), now, now, nil, "cafebabecafebabe"))

	entries, err := runner.Status(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, migrate.StatusCompleted, entries[0].Status)
	assert.True(t, entries[0].Drifted, "recorded checksum differs from current content")

	assert.Equal(t, migrate.StatusPending, entries[1].Status)
	assert.False(t, entries[1].Drifted)

	assert.True(t, entries[2].Unknown, "ledger row without a registered migration")
	assert.Equal(t, "009_removed", entries[2].Name)
}
