package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"marketplace/internal/models"
	"marketplace/internal/testutil"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock
}

func TestProfileRepository_FindByField(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewProfileRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, "uid-1", models.ProfileFields{
		LoginID:   "tester1",
		Nickname:  "tester",
		Email:     "t@example.com",
		AuthEmail: "t@example.com",
		CreatedAt: time.Now(),
	}))

	tests := []struct {
		name    string
		field   ProfileField
		value   string
		wantUID string
		wantErr bool
	}{
		{"By login id", ProfileLoginID, "tester1", "uid-1", false},
		{"By nickname", ProfileNickname, "tester", "uid-1", false},
		{"By email", ProfileEmail, "t@example.com", "uid-1", false},
		{"By auth email", ProfileAuthEmail, "t@example.com", "uid-1", false},
		{"Absent", ProfileNickname, "nobody", "", false},
		{"Unknown field", ProfileField("password"), "x", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := repo.FindByField(ctx, tt.field, tt.value)
			if tt.wantErr {
				assert.Equal(t, models.CodeValidation, models.ErrorCode(err))
				return
			}
			require.NoError(t, err)
			if tt.wantUID == "" {
				assert.Nil(t, p)
				return
			}
			require.NotNil(t, p)
			assert.Equal(t, tt.wantUID, p.UID)
		})
	}
}

func TestProfileRepository_UpsertConflicts(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewProfileRepository(db)
	ctx := context.Background()

	fields := models.ProfileFields{LoginID: "tester1", Nickname: "tester", Email: "a@example.com", AuthEmail: "a@example.com"}
	require.NoError(t, repo.Upsert(ctx, "uid-1", fields))

	// Same uid rewrites in place.
	fields.Nickname = "renamed"
	require.NoError(t, repo.Upsert(ctx, "uid-1", fields))
	p, err := repo.Get(ctx, "uid-1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", p.Nickname)

	// Another uid may not take the same nickname.
	err = repo.Upsert(ctx, "uid-2", models.ProfileFields{LoginID: "other1", Nickname: "renamed", Email: "b@example.com", AuthEmail: "b@example.com"})
	assert.Equal(t, models.CodeConflict, models.ErrorCode(err))

	many, err := repo.GetMany(ctx, []string{"uid-1", "uid-2"})
	require.NoError(t, err)
	assert.Len(t, many, 1)
}

func TestProfileRepository_PostgresUniqueViolation(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewProfileRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "profiles"`)).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"})
	mock.ExpectRollback()

	err := repo.Upsert(context.Background(), "uid-1", models.ProfileFields{LoginID: "tester1"})
	assert.Equal(t, models.CodeConflict, models.ErrorCode(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProfileRepository_PostgresLookup(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewProfileRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "profiles" WHERE nickname = $1 LIMIT $2`)).
		WithArgs("tester", 1).
		WillReturnRows(sqlmock.NewRows([]string{"uid", "login_id", "nickname"}).AddRow("uid-1", "tester1", "tester"))

	p, err := repo.FindByField(context.Background(), ProfileNickname, "tester")
	require.NoError(t, err)
	assert.Equal(t, "tester1", p.LoginID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsUniqueViolation(t *testing.T) {
	t.Parallel()

	assert.True(t, isUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.True(t, isUniqueViolation(errors.New("UNIQUE constraint failed: profiles.nickname")))
	assert.True(t, isUniqueViolation(gorm.ErrDuplicatedKey))
	assert.False(t, isUniqueViolation(nil))
}
