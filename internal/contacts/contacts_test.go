package contacts

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

func contactColumns() []string {
	return []string{
		"id", "company_id", "realtor_id", "community_id", "first_name", "last_name",
		"email", "phone", "status", "do_not_email", "paused", "tags",
		"follow_up_schedule_id", "updated_at",
	}
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "dana@example.com", NormalizeEmail("  Dana@Example.COM "))
	assert.Equal(t, "", NormalizeEmail("   "))
}

func TestMergeData(t *testing.T) {
	c := &Contact{FirstName: "Dana", LastName: "Lee", Email: "dana@example.com", Status: "Hot"}
	r := &Realtor{Name: "Sam Agent", Email: "sam@broker.com", Phone: "555-0100"}

	data := MergeData(c, r)
	assert.Equal(t, "Dana", data["firstName"])
	assert.Equal(t, "Sam Agent", data["realtorName"])

	// No contact still yields the base keys so renders never nil-deref
	data = MergeData(nil, nil)
	assert.Equal(t, "", data["firstName"])
	_, hasRealtor := data["realtorName"]
	assert.False(t, hasRealtor)
}

func TestFindContactByEmailNormalizes(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	store := NewStore(db)

	mock.ExpectQuery(`FROM contacts WHERE company_id`).
		WithArgs("comp-1", "dana@example.com").
		WillReturnRows(sqlmock.NewRows(contactColumns()).
			AddRow("contact-1", "comp-1", "", "", "Dana", "Lee",
				"dana@example.com", "", "Hot", false, false, "{}", "", time.Now()))

	c, err := store.FindContactByEmail(context.Background(), "comp-1", " Dana@Example.com ")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "contact-1", c.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindContactByEmailMissing(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	store := NewStore(db)

	mock.ExpectQuery(`FROM contacts WHERE company_id`).WillReturnError(sql.ErrNoRows)

	c, err := store.FindContactByEmail(context.Background(), "comp-1", "nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestListContactsFilter(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	store := NewStore(db)

	mock.ExpectQuery(`FROM contacts WHERE company_id`).
		WillReturnRows(sqlmock.NewRows(contactColumns()).
			AddRow("contact-1", "comp-1", "", "comm-1", "Dana", "Lee",
				"dana@example.com", "", "Hot", false, false, "{}", "", time.Now()))

	list, err := store.ListContacts(context.Background(), "comp-1", Filter{
		Statuses:    []string{"Hot"},
		CommunityID: "comm-1",
	})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Hot", list[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetDoNotEmail(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	store := NewStore(db)

	mock.ExpectExec(`UPDATE contacts SET do_not_email`).
		WithArgs("contact-1", true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.SetDoNotEmail(context.Background(), "contact-1", true)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
