package repositories

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"booking-chat/internal/models"
)

var messageRowColumns = []string{"id", "session_id", "sender_id", "sender_type", "message_type", "content", "file_url", "file_name", "file_size", "is_read", "read_at", "created_at"}

func TestMessageCreateBumpsSessionInOneTx(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepo(db)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO chat_messages")).
		WithArgs(int64(7), int64(1), "requester", "text", "hi", nil, nil, nil).
		WillReturnRows(sqlmock.NewRows(messageRowColumns).
			AddRow(int64(11), int64(7), int64(1), "requester", "text", "hi", nil, nil, nil, false, nil, now))
	mock.ExpectExec(regexp.QuoteMeta("SET message_count = message_count + 1, last_message_at = $2")).
		WithArgs(int64(7), now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	msg, err := repo.Create(context.Background(), models.NewMessage{
		SessionID:   7,
		SenderID:    1,
		SenderType:  models.RoleRequester,
		MessageType: models.MessageText,
		Content:     "hi",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(11), msg.ID)
	assert.Equal(t, models.RoleRequester, msg.SenderType)
	assert.Nil(t, msg.FileSize)
}

func TestMessageCreateRollsBackWhenSessionUpdateFails(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepo(db)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO chat_messages")).
		WillReturnRows(sqlmock.NewRows(messageRowColumns).
			AddRow(int64(11), int64(7), int64(1), "requester", "text", "hi", nil, nil, nil, false, nil, now))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE chat_sessions")).WillReturnError(errors.New("deadlock"))
	mock.ExpectRollback()

	_, err := repo.Create(context.Background(), models.NewMessage{SessionID: 7, SenderID: 1, Content: "hi"})
	assert.ErrorContains(t, err, "touch session")
}

func TestMarkReadExcludesReadersOwnMessages(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE session_id = $1 AND sender_id <> $2 AND id = ANY($3) AND is_read = FALSE")).
		WithArgs(int64(7), int64(2), "{3,4,9}").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(3)).AddRow(int64(9)))

	updated, err := repo.MarkRead(context.Background(), 7, 2, []int64{3, 4, 9})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 9}, updated)
}

func TestMarkReadWithoutIDsSkipsQuery(t *testing.T) {
	db, _ := newMockDB(t)
	updated, err := NewMessageRepo(db).MarkRead(context.Background(), 7, 2, nil)
	require.NoError(t, err)
	assert.Empty(t, updated)
}

func TestListRecentPagesNewestFirstByID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepo(db)
	now := time.Now()

	mock.ExpectQuery(`LEFT JOIN users u ON u\.id = m\.sender_id\s+WHERE m\.session_id = \$1\s+ORDER BY m\.id DESC\s+LIMIT \$2 OFFSET \$3`).
		WithArgs(int64(7), 2, 4).
		WillReturnRows(sqlmock.NewRows([]string{"id", "session_id", "sender_id", "content", "created_at", "sender_name", "sender_phone"}).
			AddRow(int64(6), int64(7), int64(1), "later", now, "Rita", nil).
			AddRow(int64(5), int64(7), int64(99), "earlier", now, nil, nil))

	views, err := repo.ListRecent(context.Background(), 7, 2, 4)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, int64(6), views[0].ID)
	require.NotNil(t, views[0].SenderName)
	assert.Equal(t, "Rita", *views[0].SenderName)
	assert.Nil(t, views[1].SenderName)
}
