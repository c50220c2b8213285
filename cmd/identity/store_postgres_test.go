package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var accountCols = []string{"id", "username", "password", "identity", "gender", "age", "phone", "created_time"}

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	st, err := NewPostgresStore(mock)
	require.NoError(t, err)
	return st, mock
}

func TestNewPostgresStore_Options(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	st, err := NewPostgresStore(mock, WithSchema("tenant_a"))
	require.NoError(t, err)
	assert.Equal(t, `"tenant_a"."users"`, st.users)

	_, err = NewPostgresStore(mock, WithSchema("bad-schema;"))
	require.Error(t, err)

	_, err = NewPostgresStore(nil)
	require.Error(t, err)
}

func TestPostgresStore_Exists(t *testing.T) {
	t.Parallel()
	st, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM "medgate"."users" WHERE username = \$1\)`).
		WithArgs("alice123").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := st.Exists(context.Background(), "alice123")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Insert(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(mock pgxmock.PgxPoolIface)
		check     func(t *testing.T, got Account, err error)
	}{
		{
			name: "success returns id",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`INSERT INTO "medgate"."users"`).
					WithArgs("alice123", "h", 1, "female", 30, "13800138000", pgxmock.AnyArg()).
					WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))
			},
			check: func(t *testing.T, got Account, err error) {
				require.NoError(t, err)
				assert.Equal(t, int64(7), got.ID)
				assert.False(t, got.CreatedAt.IsZero())
			},
		},
		{
			name: "unique violation is a conflict",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`INSERT INTO "medgate"."users"`).
					WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "uq_users_username"})
			},
			check: func(t *testing.T, _ Account, err error) {
				assert.True(t, IsConflict(err))
			},
		},
		{
			name: "other failure is unavailable",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`INSERT INTO "medgate"."users"`).
					WillReturnError(errors.New("connection refused"))
			},
			check: func(t *testing.T, _ Account, err error) {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrUnavailable)
				assert.False(t, IsConflict(err))
				assert.Contains(t, err.Error(), "connection refused")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, mock := newMockStore(t)
			tt.setupMock(mock)

			got, err := st.Insert(context.Background(), Account{
				Username: "alice123", PasswordHash: "h", Role: RolePractitioner,
				Gender: GenderFemale, Age: 30, Phone: "13800138000",
			})
			tt.check(t, got, err)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresStore_Lookup(t *testing.T) {
	t.Parallel()
	st, mock := newMockStore(t)
	created := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT id, username, password, identity, gender, age, phone, created_time`).
		WithArgs("alice123").
		WillReturnRows(pgxmock.NewRows(accountCols).
			AddRow(int64(3), "alice123", "h", 1, "女", 30, "13800138000", created))
	mock.ExpectQuery(`SELECT id, username, password`).
		WithArgs("ghost").
		WillReturnRows(pgxmock.NewRows(accountCols))

	got, err := st.Lookup(context.Background(), "alice123")
	require.NoError(t, err)
	assert.Equal(t, RolePractitioner, got.Role)
	assert.Equal(t, GenderFemale, got.Gender)
	assert.Equal(t, created, got.CreatedAt)

	_, err = st.Lookup(context.Background(), "ghost")
	assert.True(t, IsNotFound(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdatePasswordHash(t *testing.T) {
	t.Parallel()
	st, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE "medgate"."users" SET password = \$2 WHERE username = \$1`).
		WithArgs("alice123", "new").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE "medgate"."users"`).
		WithArgs("ghost", "new").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, st.UpdatePasswordHash(context.Background(), "alice123", "new"))
	assert.True(t, IsNotFound(st.UpdatePasswordHash(context.Background(), "ghost", "new")))
	require.NoError(t, mock.ExpectationsWereMet())
}
