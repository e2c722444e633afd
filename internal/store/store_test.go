package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goranbacvar/Cyviz/internal/apperr"
	"github.com/goranbacvar/Cyviz/internal/model"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &Store{db: sqlx.NewDb(db, "postgres")}, mock
}

func TestCreateCommandDuplicateKey(t *testing.T) {
	s, mock := newMockStore(t)

	cmd := &model.Command{
		ID: "cmd-1", DeviceID: "dev-1", IdempotencyKey: "key-1",
		Verb: "power-on", CreatedAt: time.Now(), Status: model.CommandPending,
	}

	mock.ExpectExec("INSERT INTO commands").
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	err := s.CreateCommand(context.Background(), cmd)
	assert.ErrorIs(t, err, apperr.ErrDuplicateKey)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateCommandTerminalNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE commands SET status").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.UpdateCommandTerminal(context.Background(), "missing", model.CommandCompleted, "ok", 12)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateDeviceFieldsConcurrencyMismatch(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE devices SET location").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT \\* FROM devices WHERE id = \\$1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name", "kind", "transport", "capabilities", "status",
			"last_seen", "firmware_tag", "location", "concurrency_tag",
		}).AddRow("dev-1", "Lobby Display", "display", "http-json", "", "online", nil, "v1", "lobby", "tag-current"))

	err := s.UpdateDeviceFields(context.Background(), "dev-1", "tag-stale", "lobby", "v2", "tag-new")
	assert.ErrorIs(t, err, apperr.ErrConcurrencyMismatch)
	require.NoError(t, mock.ExpectationsWereMet())
}
