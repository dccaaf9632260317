package service_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fisioflow/fisioflow-backend/internal/compliance/domain"
	"github.com/fisioflow/fisioflow-backend/internal/compliance/repository"
	"github.com/fisioflow/fisioflow-backend/internal/compliance/service"
	"github.com/fisioflow/fisioflow-backend/pkg/config"
	"github.com/fisioflow/fisioflow-backend/pkg/database"
	apperrors "github.com/fisioflow/fisioflow-backend/pkg/errors"
	"github.com/fisioflow/fisioflow-backend/pkg/logger"
	"github.com/fisioflow/fisioflow-backend/pkg/messaging"
	"github.com/fisioflow/fisioflow-backend/pkg/testutil"
)

const testSearchPath = "compliance, public"

var fixedNow = time.Date(2026, 3, 15, 9, 30, 0, 0, time.UTC)

type fakeIdentity struct {
	deleted []string
	err     error
}

func (f *fakeIdentity) DeleteUser(ctx context.Context, userID string) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, userID)
	return nil
}

type fakeBlobs struct {
	prefixes []string
	count    int
	err      error
}

func (f *fakeBlobs) DeletePrefix(prefix string) (int, error) {
	f.prefixes = append(f.prefixes, prefix)
	return f.count, f.err
}

type fixture struct {
	mock      *testutil.MockDB
	service   *service.DeletionService
	identity  *fakeIdentity
	blobs     *fakeBlobs
	publisher *testutil.MockPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mockDB := testutil.NewMockDB(t)
	t.Cleanup(func() { mockDB.Close() })

	log := logger.New("test", "test")
	db := database.NewFromSqlx(mockDB.DB, testSearchPath, log)

	identity := &fakeIdentity{}
	blobs := &fakeBlobs{count: 3}
	publisher := testutil.NewMockPublisher()

	svc := service.NewDeletionService(
		db,
		repository.NewRequestRepository(db),
		repository.NewAuditRepository(db),
		repository.NewErasureRepository(db),
		repository.NewUserCacheRepository(db),
		identity,
		blobs,
		publisher,
		&config.RetentionConfig{GracePeriod: 30 * 24 * time.Hour},
		log,
	).WithClock(func() time.Time { return fixedNow })

	return &fixture{
		mock:      mockDB,
		service:   svc,
		identity:  identity,
		blobs:     blobs,
		publisher: publisher,
	}
}

func requestColumns() []string {
	return []string{
		"id", "user_id", "status", "requested_at", "scheduled_date",
		"ip_address", "user_agent", "cancelled_at", "completed_at",
		"created_at", "updated_at",
	}
}

func pendingRow(id, userID string, scheduled time.Time) *sqlmock.Rows {
	return testutil.MockRows(requestColumns()...).AddRow(
		id, userID, domain.StatusPending, fixedNow, scheduled,
		nil, nil, nil, nil, fixedNow, fixedNow,
	)
}

func TestRequestDeletion_Success(t *testing.T) {
	f := newFixture(t)
	tenantID := uuid.New().String()
	userID := uuid.New().String()

	f.mock.ExpectTenantTx(testSearchPath, tenantID)
	f.mock.Mock.ExpectQuery(`WHERE user_id = \$1 AND status = \$2`).
		WillReturnError(sql.ErrNoRows)
	f.mock.Mock.ExpectQuery(`INSERT INTO deletion_requests`).
		WillReturnRows(testutil.MockRows("created_at", "updated_at").AddRow(fixedNow, fixedNow))
	f.mock.Mock.ExpectQuery(`INSERT INTO audit_logs`).
		WillReturnRows(testutil.MockRows("created_at").AddRow(fixedNow))
	f.mock.ExpectCommit()

	req, alreadyScheduled, err := f.service.RequestDeletion(context.Background(), tenantID, userID, testutil.PtrString("203.0.113.1"), nil)
	require.NoError(t, err)

	assert.False(t, alreadyScheduled)
	assert.Equal(t, domain.StatusPending, req.Status)
	assert.Equal(t, fixedNow, req.RequestedAt)
	assert.Equal(t, fixedNow.Add(30*24*time.Hour), req.ScheduledDate)
	f.publisher.AssertEventPublished(t, messaging.EventDeletionRequested)
	f.mock.ExpectationsWereMet(t)
}

func TestRequestDeletion_AlreadyPendingReturnsExistingSchedule(t *testing.T) {
	f := newFixture(t)
	tenantID := uuid.New().String()
	userID := uuid.New().String()
	existingID := uuid.New().String()
	existingSchedule := fixedNow.Add(20 * 24 * time.Hour)

	f.mock.ExpectTenantTx(testSearchPath, tenantID)
	f.mock.Mock.ExpectQuery(`WHERE user_id = \$1 AND status = \$2`).
		WillReturnRows(pendingRow(existingID, userID, existingSchedule))
	f.mock.ExpectCommit()

	req, alreadyScheduled, err := f.service.RequestDeletion(context.Background(), tenantID, userID, nil, nil)
	require.NoError(t, err)

	assert.True(t, alreadyScheduled)
	assert.Equal(t, existingID, req.ID)
	assert.Equal(t, existingSchedule, req.ScheduledDate)
	assert.Empty(t, f.publisher.PublishedEvents)
	f.mock.ExpectationsWereMet(t)
}

func TestCancelDeletion_Success(t *testing.T) {
	f := newFixture(t)
	tenantID := uuid.New().String()
	userID := uuid.New().String()

	f.mock.ExpectTenantTx(testSearchPath, tenantID)
	f.mock.Mock.ExpectExec(`UPDATE deletion_requests`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.Mock.ExpectQuery(`INSERT INTO audit_logs`).
		WillReturnRows(testutil.MockRows("created_at").AddRow(fixedNow))
	f.mock.ExpectCommit()

	err := f.service.CancelDeletion(context.Background(), tenantID, userID, nil, nil)
	require.NoError(t, err)
	f.publisher.AssertEventPublished(t, messaging.EventDeletionCancelled)
	f.mock.ExpectationsWereMet(t)
}

func TestCancelDeletion_NothingPending(t *testing.T) {
	f := newFixture(t)
	tenantID := uuid.New().String()
	userID := uuid.New().String()

	f.mock.ExpectTenantTx(testSearchPath, tenantID)
	f.mock.Mock.ExpectExec(`UPDATE deletion_requests`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	f.mock.ExpectRollback()

	err := f.service.CancelDeletion(context.Background(), tenantID, userID, nil, nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
	assert.Empty(t, f.publisher.PublishedEvents)
	f.mock.ExpectationsWereMet(t)
}

func TestGetStatus(t *testing.T) {
	f := newFixture(t)
	tenantID := uuid.New().String()
	userID := uuid.New().String()
	requestID := uuid.New().String()

	f.mock.ExpectTenantTx(testSearchPath, tenantID)
	f.mock.Mock.ExpectQuery(`ORDER BY requested_at DESC`).
		WillReturnRows(pendingRow(requestID, userID, fixedNow.Add(10*24*time.Hour)))
	f.mock.ExpectCommit()

	status, err := f.service.GetStatus(context.Background(), tenantID, userID)
	require.NoError(t, err)
	assert.Equal(t, requestID, status.Request.ID)
	assert.Equal(t, 10, status.DaysRemaining)
	f.mock.ExpectationsWereMet(t)
}

// expectErasure queues the full per-user erasure transaction: one statement
// per table in schedule order, the cache eviction and the status flip.
func expectErasure(f *fixture, tenantID string) {
	f.mock.ExpectTenantTx(testSearchPath, tenantID)
	for _, cp := range domain.RetentionSchedule() {
		f.mock.Mock.ExpectExec(`"` + cp.Table + `"`).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	f.mock.Mock.ExpectExec(`DELETE FROM user_cache`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.Mock.ExpectExec(`UPDATE deletion_requests`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectCommit()
}

func expectAuditEntry(f *fixture, tenantID string) {
	f.mock.ExpectTenantTx(testSearchPath, tenantID)
	f.mock.Mock.ExpectQuery(`INSERT INTO audit_logs`).
		WillReturnRows(testutil.MockRows("created_at").AddRow(fixedNow))
	f.mock.ExpectCommit()
}

func TestExecuteNow(t *testing.T) {
	f := newFixture(t)
	tenantID := uuid.New().String()
	userID := uuid.New().String()
	requestID := uuid.New().String()

	f.mock.ExpectTenantTx(testSearchPath, tenantID)
	f.mock.Mock.ExpectQuery(`WHERE user_id = \$1 AND status = \$2`).
		WillReturnRows(pendingRow(requestID, userID, fixedNow.Add(25*24*time.Hour)))
	f.mock.ExpectCommit()

	expectErasure(f, tenantID)
	expectAuditEntry(f, tenantID)

	summary, err := f.service.ExecuteNow(context.Background(), tenantID, userID)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"device_tokens", "notifications"}, summary.Deleted)
	assert.ElementsMatch(t, []string{
		"crm_leads", "appointments", "exercise_logs",
		"exercise_prescriptions", "pain_diary_entries", "payments", "invoices",
	}, summary.Anonymized)
	assert.ElementsMatch(t, []string{
		"medical_records", "clinical_evolutions", "body_assessments",
	}, summary.Retained)
	assert.Equal(t, 3, summary.BlobsDeleted)

	assert.Equal(t, []string{userID}, f.identity.deleted)
	require.Len(t, f.blobs.prefixes, 1)
	assert.Contains(t, f.blobs.prefixes[0], userID)
	f.publisher.AssertEventPublished(t, messaging.EventAccountDeleted)
	f.mock.ExpectationsWereMet(t)
}

func TestExecuteNow_SummaryListsOnlyTouchedTables(t *testing.T) {
	f := newFixture(t)
	tenantID := uuid.New().String()
	userID := uuid.New().String()
	requestID := uuid.New().String()

	f.mock.ExpectTenantTx(testSearchPath, tenantID)
	f.mock.Mock.ExpectQuery(`WHERE user_id = \$1 AND status = \$2`).
		WillReturnRows(pendingRow(requestID, userID, fixedNow.Add(25*24*time.Hour)))
	f.mock.ExpectCommit()

	// The user only ever had device tokens and appointments.
	f.mock.ExpectTenantTx(testSearchPath, tenantID)
	for _, cp := range domain.RetentionSchedule() {
		rows := int64(0)
		if cp.Table == "device_tokens" || cp.Table == "appointments" {
			rows = 4
		}
		f.mock.Mock.ExpectExec(`"` + cp.Table + `"`).
			WillReturnResult(sqlmock.NewResult(0, rows))
	}
	f.mock.Mock.ExpectExec(`DELETE FROM user_cache`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.Mock.ExpectExec(`UPDATE deletion_requests`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectCommit()
	expectAuditEntry(f, tenantID)

	summary, err := f.service.ExecuteNow(context.Background(), tenantID, userID)
	require.NoError(t, err)

	assert.Equal(t, []string{"device_tokens"}, summary.Deleted)
	assert.Equal(t, []string{"appointments"}, summary.Anonymized)
	assert.Empty(t, summary.Retained, "untouched tables must not show up in the summary")
	f.mock.ExpectationsWereMet(t)
}

func TestExecuteNow_RepeatOverScrubbedDataIsANoOp(t *testing.T) {
	f := newFixture(t)
	tenantID := uuid.New().String()
	userID := uuid.New().String()
	requestID := uuid.New().String()

	f.mock.ExpectTenantTx(testSearchPath, tenantID)
	f.mock.Mock.ExpectQuery(`WHERE user_id = \$1 AND status = \$2`).
		WillReturnRows(pendingRow(requestID, userID, fixedNow.Add(25*24*time.Hour)))
	f.mock.ExpectCommit()

	// Every statement matches zero rows: the data is already gone.
	f.mock.ExpectTenantTx(testSearchPath, tenantID)
	for _, cp := range domain.RetentionSchedule() {
		f.mock.Mock.ExpectExec(`"` + cp.Table + `"`).
			WillReturnResult(sqlmock.NewResult(0, 0))
	}
	f.mock.Mock.ExpectExec(`DELETE FROM user_cache`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	f.mock.Mock.ExpectExec(`UPDATE deletion_requests`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectCommit()
	expectAuditEntry(f, tenantID)

	summary, err := f.service.ExecuteNow(context.Background(), tenantID, userID)
	require.NoError(t, err)

	assert.Empty(t, summary.Deleted)
	assert.Empty(t, summary.Anonymized)
	assert.Empty(t, summary.Retained)
	f.publisher.AssertEventPublished(t, messaging.EventAccountDeleted)
	f.mock.ExpectationsWereMet(t)
}

func TestExecuteNow_IdentityFailureDoesNotUndoErasure(t *testing.T) {
	f := newFixture(t)
	f.identity.err = errors.New("identity provider unavailable")
	tenantID := uuid.New().String()
	userID := uuid.New().String()

	f.mock.ExpectTenantTx(testSearchPath, tenantID)
	f.mock.Mock.ExpectQuery(`WHERE user_id = \$1 AND status = \$2`).
		WillReturnRows(pendingRow(uuid.New().String(), userID, fixedNow.Add(25*24*time.Hour)))
	f.mock.ExpectCommit()

	expectErasure(f, tenantID)
	expectAuditEntry(f, tenantID)

	summary, err := f.service.ExecuteNow(context.Background(), tenantID, userID)
	require.NoError(t, err, "the tenant data is scrubbed; the auth record is retried later")
	assert.NotEmpty(t, summary.Deleted)

	assert.Empty(t, f.identity.deleted)
	f.publisher.AssertEventPublished(t, messaging.EventAccountDeleted)
	f.mock.ExpectationsWereMet(t)
}

func TestRunDue_ContinuesAfterFailure(t *testing.T) {
	f := newFixture(t)
	tenantID := uuid.New().String()
	userA := uuid.New().String()
	userB := uuid.New().String()

	f.mock.ExpectTenantTx(testSearchPath, tenantID)
	f.mock.Mock.ExpectQuery(`WHERE status = \$1 AND scheduled_date <= \$2`).
		WillReturnRows(testutil.MockRows(requestColumns()...).
			AddRow(uuid.New().String(), userA, domain.StatusPending, fixedNow, fixedNow.Add(-time.Hour),
				nil, nil, nil, nil, fixedNow, fixedNow).
			AddRow(uuid.New().String(), userB, domain.StatusPending, fixedNow, fixedNow.Add(-time.Hour),
				nil, nil, nil, nil, fixedNow, fixedNow))
	f.mock.ExpectCommit()

	// User A's erasure fails on the first table and rolls back.
	f.mock.ExpectTenantTx(testSearchPath, tenantID)
	f.mock.Mock.ExpectExec(`"device_tokens"`).
		WillReturnError(errors.New("relation is locked"))
	f.mock.ExpectRollback()
	expectAuditEntry(f, tenantID) // failure entry

	// User B's erasure runs to completion.
	expectErasure(f, tenantID)
	expectAuditEntry(f, tenantID)

	executed, err := f.service.RunDue(context.Background(), tenantID)
	require.NoError(t, err)
	assert.Equal(t, 1, executed)

	assert.Equal(t, []string{userB}, f.identity.deleted)
	f.publisher.AssertEventPublished(t, messaging.EventAccountDeleted)
	f.mock.ExpectationsWereMet(t)
}

func TestRunDue_NoDueRequests(t *testing.T) {
	f := newFixture(t)
	tenantID := uuid.New().String()

	// The cutoff is the current instant, with no slack in either
	// direction: a request scheduled for this exact moment is due, one
	// scheduled a millisecond later is not.
	f.mock.ExpectTenantTx(testSearchPath, tenantID)
	f.mock.Mock.ExpectQuery(`WHERE status = \$1 AND scheduled_date <= \$2`).
		WithArgs(domain.StatusPending, fixedNow).
		WillReturnRows(testutil.MockRows(requestColumns()...))
	f.mock.ExpectCommit()

	executed, err := f.service.RunDue(context.Background(), tenantID)
	require.NoError(t, err)
	assert.Zero(t, executed)
	assert.Empty(t, f.publisher.PublishedEvents)
	f.mock.ExpectationsWereMet(t)
}
