package company

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

func stateRowColumns() []string {
	return []string{
		"company_id", "paused", "paused_at", "paused_by", "pause_reason",
		"pause_meta", "warmup_enabled", "warmup_started_at", "warmup_ended_at",
		"warmup_days_total", "warmup_schedule", "updated_at",
	}
}

func TestGetMissingRowYieldsZeroState(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	store := NewStore(db)

	mock.ExpectQuery(`FROM company_email_state`).WillReturnError(sql.ErrNoRows)

	st, err := store.Get(context.Background(), "comp-1")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, "comp-1", st.CompanyID)
	assert.False(t, st.Paused)
}

func TestGetDecodesPauseMeta(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	store := NewStore(db)

	now := time.Now()
	mock.ExpectQuery(`FROM company_email_state`).
		WillReturnRows(sqlmock.NewRows(stateRowColumns()).
			AddRow("comp-1", true, &now, "system", "bounce rate 8.0% over 5.0%",
				`{"bounceRate":0.08}`, false, nil, nil, 0, "[]", now))

	st, err := store.Get(context.Background(), "comp-1")
	require.NoError(t, err)
	assert.True(t, st.Paused)
	assert.Equal(t, "system", st.PausedBy)
	assert.Equal(t, 0.08, st.PauseMeta["bounceRate"])
}

func TestPauseIsIdempotent(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	store := NewStore(db)

	mock.ExpectExec(`INSERT INTO company_email_state`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	changed, err := store.Pause(context.Background(), "comp-1", "admin", "manual", nil)
	require.NoError(t, err)
	assert.True(t, changed)

	// Second pause hits the paused=FALSE guard and changes nothing
	mock.ExpectExec(`INSERT INTO company_email_state`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	changed, err = store.Pause(context.Background(), "comp-1", "admin", "manual", nil)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResumeOnlyWhenPaused(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	store := NewStore(db)

	mock.ExpectExec(`UPDATE company_email_state`).
		WithArgs("comp-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	changed, err := store.Resume(context.Background(), "comp-1")
	require.NoError(t, err)
	assert.False(t, changed)
}
