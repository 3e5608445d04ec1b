package events

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	return db, mock, func() { db.Close() }
}

func TestInsertOnceNewRow(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	store := NewStore(db)

	mock.ExpectExec(`INSERT INTO email_events`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	inserted, err := store.InsertOnce(context.Background(), &Event{
		Provider:   "sendgrid",
		DedupeKey:  "evt-1",
		CompanyID:  "comp-1",
		Email:      "dana@example.com",
		EventType:  "bounce",
		OccurredAt: time.Now(),
	})
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertOnceDuplicateIsNoop(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	store := NewStore(db)

	// ON CONFLICT DO NOTHING reports zero affected rows
	mock.ExpectExec(`INSERT INTO email_events`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	inserted, err := store.InsertOnce(context.Background(), &Event{
		Provider:  "sendgrid",
		DedupeKey: "evt-1",
		EventType: "bounce",
	})
	require.NoError(t, err)
	assert.False(t, inserted)
}

func TestCountByTypesBetween(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	store := NewStore(db)

	mock.ExpectQuery(`SELECT COUNT`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	now := time.Now()
	n, err := store.CountByTypesBetween(context.Background(), "comp-1", BounceClass, now.Add(-24*time.Hour), now)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}
