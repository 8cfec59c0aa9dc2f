package repositories

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sessionRowColumns = []string{"id", "booking_id", "requester_id", "fulfiller_id", "status", "last_message_at", "message_count", "created_at", "ended_at"}

// membershipQuery matches the active-only three-way predicate with the user
// bound to every branch.
var membershipQuery = regexp.QuoteMeta("WHERE cs.status = 'active'") + `\s+` +
	regexp.QuoteMeta("AND (cs.requester_id = $1 OR cs.fulfiller_id = $1 OR EXISTS (") + `\s+` +
	regexp.QuoteMeta("SELECT 1 FROM booking_assignments ba") + `\s+` +
	regexp.QuoteMeta("JOIN workers w ON w.id = ba.worker_id") + `\s+` +
	regexp.QuoteMeta("WHERE ba.booking_id = cs.booking_id AND w.user_id = $1))")

func TestListAuthorizedSessionIDsUsesMembershipPredicate(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(membershipQuery).
		WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)).AddRow(int64(8)))

	ids, err := NewSessionRepo(db).ListAuthorizedSessionIDs(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 8}, ids)
}

func TestListSessionsForUserIncludesEndedSessions(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now()
	mock.ExpectQuery(`WHERE cs\.requester_id = \$1 OR cs\.fulfiller_id = \$1 OR EXISTS`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(sessionRowColumns).
			AddRow(int64(7), int64(70), int64(1), int64(2), "ended", nil, int64(3), now, now))

	sessions, err := NewSessionRepo(db).ListSessionsForUser(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.False(t, sessions[0].IsActive())
	require.NotNil(t, sessions[0].FulfillerID)
	assert.Equal(t, int64(2), *sessions[0].FulfillerID)
}

func TestGetMembershipLoadsAssignedUsers(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM chat_sessions WHERE id=$1")).
		WithArgs(int64(8)).
		WillReturnRows(sqlmock.NewRows(sessionRowColumns).
			AddRow(int64(8), int64(80), int64(1), nil, "active", nil, int64(0), now, nil))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE ba.booking_id = $1")).
		WithArgs(int64(80)).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(int64(4)).AddRow(int64(5)))

	m, err := NewSessionRepo(db).GetMembership(context.Background(), 8)
	require.NoError(t, err)
	assert.Nil(t, m.Session.FulfillerID)
	assert.Equal(t, []int64{4, 5}, m.AssignedUserIDs)
}

func TestGetMembershipUnknownSession(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM chat_sessions WHERE id=$1")).
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows(sessionRowColumns))

	_, err := NewSessionRepo(db).GetMembership(context.Background(), 99)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestEndOnlyFlipsActiveSessions(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSessionRepo(db)
	now := time.Now()

	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND status = 'active'")).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	ended, err := repo.End(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, ended)

	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND status = 'active'")).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM chat_sessions WHERE id=$1")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(sessionRowColumns).
			AddRow(int64(7), int64(70), int64(1), int64(2), "ended", nil, int64(0), now, now))
	ended, err = repo.End(context.Background(), 7)
	require.NoError(t, err)
	assert.False(t, ended)
}

func TestDeleteUnknownSession(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM chat_sessions WHERE id = $1")).
		WithArgs(int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, NewSessionRepo(db).Delete(context.Background(), 42), ErrSessionNotFound)
}

func TestCreateOrGetKeepsExistingFulfiller(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (booking_id) DO UPDATE SET fulfiller_id = COALESCE(EXCLUDED.fulfiller_id, chat_sessions.fulfiller_id)")).
		WithArgs(int64(70), int64(1), nil).
		WillReturnRows(sqlmock.NewRows(sessionRowColumns).
			AddRow(int64(7), int64(70), int64(1), int64(2), "active", nil, int64(0), now, nil))

	session, err := NewSessionRepo(db).CreateOrGet(context.Background(), 70, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(7), session.ID)
}
