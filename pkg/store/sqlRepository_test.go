package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/zoff-tech/petsync/pkg/action"
)

// The sqlmock tests exercise the postgres-bound statement set ($n
// placeholders); behavioral coverage runs on in-memory sqlite in
// sqliteStore_test.go.
func newMockRepo(t *testing.T) (*SQLRepository, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	repo := &SQLRepository{db: db, system: "postgresql", rebind: true}
	return repo, mock, func() { db.Close() }
}

func TestQueueAction_InsertsPendingRecord(t *testing.T) {
	repo, mock, cleanup := newMockRepo(t)
	defer cleanup()

	mock.ExpectExec(`INSERT INTO queued_actions`).
		WithArgs(sqlmock.AnyArg(), "mark-pet-found", sqlmock.AnyArg(), "pending", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	id, err := repo.QueueAction(context.Background(), action.MarkPetFoundPayload{PetID: "P1"})
	assert.NoError(t, err)
	assert.NotEmpty(t, id)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchPendingActions_OrdersOldestFirst(t *testing.T) {
	repo, mock, cleanup := newMockRepo(t)
	defer cleanup()

	now := time.Now().UnixNano()
	rows := sqlmock.NewRows([]string{"id", "action_type", "payload", "status", "retry_count", "last_error", "created_at"}).
		AddRow("a1", "mark-pet-lost", `{"type":"mark-pet-lost","payload":{}}`, "pending", 0, "", now-int64(time.Minute)).
		AddRow("a2", "update-pet", `{"type":"update-pet","payload":{}}`, "pending", 2, "", now)

	mock.ExpectQuery(`SELECT id, action_type, payload, status, retry_count, last_error, created_at\s+FROM queued_actions WHERE status = \$1 ORDER BY created_at ASC, id ASC`).
		WithArgs("pending").
		WillReturnRows(rows)

	actions, err := repo.FetchPendingActions(context.Background())
	assert.NoError(t, err)
	assert.Len(t, actions, 2)
	assert.Equal(t, "a1", actions[0].ID)
	assert.Equal(t, action.TypeMarkPetLost, actions[0].Type)
	assert.Equal(t, 0, actions[0].RetryCount)
	assert.Equal(t, "a2", actions[1].ID)
	assert.Equal(t, 2, actions[1].RetryCount)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFailAction_MarksFailedBelowCeiling(t *testing.T) {
	repo, mock, cleanup := newMockRepo(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT retry_count FROM queued_actions WHERE id = \$1`).
		WithArgs("a1").
		WillReturnRows(sqlmock.NewRows([]string{"retry_count"}).AddRow(1))
	mock.ExpectExec(`UPDATE queued_actions SET status = \$1, retry_count = \$2, last_error = \$3 WHERE id = \$4`).
		WithArgs("failed", 2, "server error", "a1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := repo.FailAction(context.Background(), "a1", "server error", true)
	assert.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFailAction_DeletesAtCeiling(t *testing.T) {
	repo, mock, cleanup := newMockRepo(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT retry_count FROM queued_actions WHERE id = \$1`).
		WithArgs("a1").
		WillReturnRows(sqlmock.NewRows([]string{"retry_count"}).AddRow(4))
	mock.ExpectExec(`DELETE FROM queued_actions WHERE id = \$1`).
		WithArgs("a1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := repo.FailAction(context.Background(), "a1", "server error", true)
	assert.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFailAction_WithoutIncrementKeepsCount(t *testing.T) {
	repo, mock, cleanup := newMockRepo(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT retry_count FROM queued_actions WHERE id = \$1`).
		WithArgs("a1").
		WillReturnRows(sqlmock.NewRows([]string{"retry_count"}).AddRow(3))
	mock.ExpectExec(`UPDATE queued_actions SET status = \$1, retry_count = \$2, last_error = \$3 WHERE id = \$4`).
		WithArgs("failed", 3, "must re-authenticate", "a1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := repo.FailAction(context.Background(), "a1", "must re-authenticate", false)
	assert.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteAction_MissingIDIsNoOp(t *testing.T) {
	repo, mock, cleanup := newMockRepo(t)
	defer cleanup()

	mock.ExpectExec(`DELETE FROM queued_actions WHERE id = \$1`).
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.CompleteAction(context.Background(), "missing")
	assert.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClearAllData_RunsInOneTransaction(t *testing.T) {
	repo, mock, cleanup := newMockRepo(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM queued_actions`).WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(`DELETE FROM pets`).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`DELETE FROM alerts`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM success_stories`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := repo.ClearAllData(context.Background())
	assert.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBind_RewritesPlaceholders(t *testing.T) {
	repo := &SQLRepository{rebind: true}
	assert.Equal(t, `SELECT $1, $2, $3`, repo.bind(`SELECT ?, ?, ?`))

	repo = &SQLRepository{rebind: false}
	assert.Equal(t, `SELECT ?, ?`, repo.bind(`SELECT ?, ?`))
}
