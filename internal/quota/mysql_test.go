package quota

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/jmehdipour/innbot/internal/repository"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	sqlDay  = "2025-03-01"
	sqlUser = int64(7)
)

var deadlock = &mysql.MySQLError{Number: 1213, Message: "Deadlock found when trying to get lock"}

func newSQLCounter(t *testing.T) (*SQLCounter, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})

	dbx := sqlx.NewDb(db, "mysql")
	c := NewSQLCounter(dbx, repository.NewQuotaRepository(dbx), repository.NewLedgerRepository(), repository.NewUsersRepository(dbx))
	c.retryWait = 0
	return c, mock
}

func slot(id string) Slot {
	return Slot{UserID: sqlUser, Day: sqlDay, ReservationID: id, Limit: 3}
}

func expectLockedDay(mock sqlmock.Sqlmock, used int) {
	mock.ExpectExec(`INSERT INTO daily_quota`).
		WithArgs(sqlUser, sqlDay).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT used\s+FROM daily_quota\s+WHERE user_id = \? AND day = \?\s+FOR UPDATE`).
		WithArgs(sqlUser, sqlDay).
		WillReturnRows(sqlmock.NewRows([]string{"used"}).AddRow(used))
}

func expectLedgerLookup(mock sqlmock.Sqlmock, idem string, found bool) {
	rows := sqlmock.NewRows([]string{"1"})
	if found {
		rows.AddRow(1)
	}
	mock.ExpectQuery(`SELECT 1 FROM quota_ledger WHERE idempotency_key = \?`).
		WithArgs(idem).
		WillReturnRows(rows)
}

func expectReserveWrites(mock sqlmock.Sqlmock, id string, left int) {
	mock.ExpectExec(`UPDATE daily_quota`).
		WithArgs(1, sqlUser, sqlDay).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO quota_ledger`).
		WithArgs(sqlUser, "reserve", 1, sqlDay, id, "reserve-"+id).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`UPDATE users SET free_checks_left`).
		WithArgs(left, sqlUser).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestSQLReserveLocksThenCounts(t *testing.T) {
	c, mock := newSQLCounter(t)

	mock.ExpectBegin()
	expectLockedDay(mock, 1)
	expectReserveWrites(mock, "r1", 1)
	mock.ExpectCommit()

	used, ok, err := c.Reserve(context.Background(), slot("r1"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, used)
}

func TestSQLReserveAtLimitWritesNothing(t *testing.T) {
	c, mock := newSQLCounter(t)

	mock.ExpectBegin()
	expectLockedDay(mock, 3)
	mock.ExpectCommit()

	used, ok, err := c.Reserve(context.Background(), slot("r1"))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 3, used)
}

func TestSQLReleaseReturnsTheUnitOnce(t *testing.T) {
	c, mock := newSQLCounter(t)
	ctx := context.Background()

	// first release
	mock.ExpectBegin()
	expectLockedDay(mock, 2)
	expectLedgerLookup(mock, "capture-r1", false)
	expectLedgerLookup(mock, "release-r1", false)
	mock.ExpectExec(`UPDATE daily_quota`).
		WithArgs(-1, sqlUser, sqlDay).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO quota_ledger`).
		WithArgs(sqlUser, "release", 1, sqlDay, "r1", "release-r1").
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectExec(`UPDATE users SET free_checks_left`).
		WithArgs(2, sqlUser).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	// replay finds the release row and changes nothing
	mock.ExpectBegin()
	expectLockedDay(mock, 1)
	expectLedgerLookup(mock, "capture-r1", false)
	expectLedgerLookup(mock, "release-r1", true)
	mock.ExpectCommit()

	used, err := c.Release(ctx, slot("r1"))
	require.NoError(t, err)
	assert.Equal(t, 1, used)

	used, err = c.Release(ctx, slot("r1"))
	require.NoError(t, err)
	assert.Equal(t, 1, used)
}

func TestSQLReleaseAfterCaptureIsNoop(t *testing.T) {
	c, mock := newSQLCounter(t)

	mock.ExpectBegin()
	expectLockedDay(mock, 1)
	expectLedgerLookup(mock, "capture-r1", true)
	mock.ExpectCommit()

	used, err := c.Release(context.Background(), slot("r1"))
	require.NoError(t, err)
	assert.Equal(t, 1, used)
}

func TestSQLReleaseNeverGoesBelowZero(t *testing.T) {
	c, mock := newSQLCounter(t)

	mock.ExpectBegin()
	expectLockedDay(mock, 0)
	expectLedgerLookup(mock, "capture-r1", false)
	expectLedgerLookup(mock, "release-r1", false)
	mock.ExpectExec(`GREATEST\(CAST\(used AS SIGNED\) \+ \?, 0\)`).
		WithArgs(-1, sqlUser, sqlDay).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO quota_ledger`).
		WillReturnResult(sqlmock.NewResult(3, 1))
	mock.ExpectExec(`UPDATE users SET free_checks_left`).
		WithArgs(3, sqlUser).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	used, err := c.Release(context.Background(), slot("r1"))
	require.NoError(t, err)
	assert.Equal(t, 0, used)
}

func TestSQLCaptureIsIdempotent(t *testing.T) {
	c, mock := newSQLCounter(t)
	ctx := context.Background()

	mock.ExpectBegin()
	expectLedgerLookup(mock, "capture-r1", false)
	expectLedgerLookup(mock, "release-r1", false)
	mock.ExpectExec(`INSERT INTO quota_ledger`).
		WithArgs(sqlUser, "capture", 1, sqlDay, "r1", "capture-r1").
		WillReturnResult(sqlmock.NewResult(4, 1))
	mock.ExpectCommit()

	mock.ExpectBegin()
	expectLedgerLookup(mock, "capture-r1", true)
	mock.ExpectCommit()

	require.NoError(t, c.Capture(ctx, slot("r1")))
	require.NoError(t, c.Capture(ctx, slot("r1")))
}

func TestSQLReserveRetriesDeadlock(t *testing.T) {
	c, mock := newSQLCounter(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO daily_quota`).WillReturnError(deadlock)
	mock.ExpectRollback()

	mock.ExpectBegin()
	expectLockedDay(mock, 0)
	expectReserveWrites(mock, "r1", 2)
	mock.ExpectCommit()

	used, ok, err := c.Reserve(context.Background(), slot("r1"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, used)
}

func TestSQLReserveGivesUpAfterRepeatedLockWaits(t *testing.T) {
	c, mock := newSQLCounter(t)
	lockWait := &mysql.MySQLError{Number: 1205, Message: "Lock wait timeout exceeded"}

	for range 3 {
		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO daily_quota`).WillReturnError(lockWait)
		mock.ExpectRollback()
	}

	_, _, err := c.Reserve(context.Background(), slot("r1"))
	var me *mysql.MySQLError
	require.ErrorAs(t, err, &me)
	assert.EqualValues(t, 1205, me.Number)
}

func TestSQLReserveDoesNotRetryOtherErrors(t *testing.T) {
	c, mock := newSQLCounter(t)
	boom := errors.New("connection refused")

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO daily_quota`).WillReturnError(boom)
	mock.ExpectRollback()

	_, _, err := c.Reserve(context.Background(), slot("r1"))
	require.ErrorIs(t, err, boom)
}

func TestLedgerOverSQLCounterCountsAfterDeadlock(t *testing.T) {
	c, mock := newSQLCounter(t)
	l := New(c, Options{DailyLimit: 3, FailOpen: true, Location: msk}, nil)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO daily_quota`).WillReturnError(deadlock)
	mock.ExpectRollback()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO daily_quota`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`FOR UPDATE`).WillReturnRows(sqlmock.NewRows([]string{"used"}).AddRow(0))
	mock.ExpectExec(`UPDATE daily_quota`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO quota_ledger`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`UPDATE users SET free_checks_left`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	r, err := l.CheckAndReserve(context.Background(), freeUser(sqlUser))
	require.NoError(t, err)
	assert.True(t, r.Allowed)
	assert.Equal(t, 2, r.Remaining, "counted, not a fail-open pass")
	assert.NotEmpty(t, r.ID)
}
