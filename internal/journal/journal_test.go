package journal

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *Journal) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock, New(db, zap.NewNop())
}

func TestMigrate(t *testing.T) {
	db, mock, j := setupMockDB(t)
	defer db.Close()

	mock.ExpectExec(`CREATE SEQUENCE IF NOT EXISTS wfs_writes_id`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS wfs_writes`).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, j.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecord(t *testing.T) {
	db, mock, j := setupMockDB(t)
	defer db.Close()

	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	j.now = func() time.Time { return at }

	mock.ExpectExec(`INSERT INTO wfs_writes`).
		WithArgs("insert", "batiments", "batiments.12", true, "", at).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := j.Record(context.Background(), Entry{
		Op: "insert", TypeName: "batiments", FeatureID: "batiments.12", Confirmed: true,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordFailure(t *testing.T) {
	db, mock, j := setupMockDB(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO wfs_writes`).WillReturnError(errors.New("disk full"))

	err := j.Record(context.Background(), Entry{Op: "update", TypeName: "batiments"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record update")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecent(t *testing.T) {
	db, mock, j := setupMockDB(t)
	defer db.Close()

	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "op", "type_name", "feature_id", "confirmed", "error", "created_at"}).
		AddRow(2, "link", "batiment_service", "", false, "wfs: write outcome not confirmed", at).
		AddRow(1, "insert", "batiments", "batiments.12", true, "", at)

	mock.ExpectQuery(`SELECT id, op, type_name`).WithArgs(10).WillReturnRows(rows)

	entries, err := j.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(2), entries[0].ID)
	assert.False(t, entries[0].Confirmed)
	assert.Equal(t, "batiments.12", entries[1].FeatureID)
	assert.Equal(t, at, entries[1].CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentDefaultLimit(t *testing.T) {
	db, mock, j := setupMockDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT id, op, type_name`).WithArgs(50).
		WillReturnRows(sqlmock.NewRows([]string{"id", "op", "type_name", "feature_id", "confirmed", "error", "created_at"}))

	entries, err := j.Recent(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNilJournal(t *testing.T) {
	var j *Journal
	assert.NoError(t, j.Record(context.Background(), Entry{Op: "insert"}))
	entries, err := j.Recent(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.NoError(t, j.Close())
}
