package testutil

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
)

// MockDB pairs a sqlmock connection with a sqlx wrapper so repositories
// can be constructed against it via database.NewFromSqlx.
type MockDB struct {
	DB   *sqlx.DB
	Mock sqlmock.Sqlmock
}

// NewMockDB opens a sqlmock-backed database for unit tests. Expectations
// go through the embedded Mock; queries are matched as regular
// expressions, so quote literal SQL with regexp.QuoteMeta.
func NewMockDB(t *testing.T) *MockDB {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	return &MockDB{DB: sqlx.NewDb(db, "postgres"), Mock: mock}
}

func (m *MockDB) Close() error { return m.DB.Close() }

// ExpectBegin, ExpectCommit and ExpectRollback forward to the underlying
// mock so fixtures read naturally when only transaction boundaries matter.

func (m *MockDB) ExpectBegin() *sqlmock.ExpectedBegin { return m.Mock.ExpectBegin() }

func (m *MockDB) ExpectCommit() *sqlmock.ExpectedCommit { return m.Mock.ExpectCommit() }

func (m *MockDB) ExpectRollback() *sqlmock.ExpectedRollback { return m.Mock.ExpectRollback() }

// ExpectTenantTx expects the begin plus the two SET LOCAL statements that
// open every tenant-scoped transaction. Follow with expectations for the
// statements inside, then ExpectCommit or ExpectRollback.
func (m *MockDB) ExpectTenantTx(searchPath, tenantID string) {
	m.Mock.ExpectBegin()
	m.Mock.ExpectExec(regexp.QuoteMeta("SET LOCAL search_path TO " + searchPath)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	m.Mock.ExpectExec(regexp.QuoteMeta("SET LOCAL app.current_tenant = '" + tenantID + "'")).
		WillReturnResult(sqlmock.NewResult(0, 0))
}

// ExpectationsWereMet fails the test if any expectation is unfulfilled.
func (m *MockDB) ExpectationsWereMet(t *testing.T) {
	t.Helper()
	if err := m.Mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled mock expectations: %v", err)
	}
}

// MockRows builds a sqlmock row set with the given columns.
func MockRows(columns ...string) *sqlmock.Rows {
	return sqlmock.NewRows(columns)
}

// MockPublisher records published events in place of a broker connection.
type MockPublisher struct {
	PublishedEvents []PublishedEvent
}

type PublishedEvent struct {
	Type    string
	Payload interface{}
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{PublishedEvents: make([]PublishedEvent, 0)}
}

func (m *MockPublisher) Publish(ctx context.Context, eventType string, payload interface{}) error {
	m.PublishedEvents = append(m.PublishedEvents, PublishedEvent{Type: eventType, Payload: payload})
	return nil
}

// AssertEventPublished fails the test unless an event of the given type
// was recorded.
func (m *MockPublisher) AssertEventPublished(t *testing.T, eventType string) {
	t.Helper()
	for _, e := range m.PublishedEvents {
		if e.Type == eventType {
			return
		}
	}
	t.Errorf("expected event %q to be published", eventType)
}
