package memberships

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	ctx := context.Background()

	t.Run("inserts with generated id", func(t *testing.T) {
		now := time.Now()
		mock.ExpectQuery(`INSERT INTO memberships (.+) ON CONFLICT \(invitation_id, owner_id\) DO NOTHING`).
			WithArgs(sqlmock.AnyArg(), "inv-1", "a@x.com", "A B", "kc-1", "ACC1").
			WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(now))

		m, err := store.Create(ctx, &Membership{
			InvitationID: "inv-1", Email: "a@x.com", Name: "A B", OwnerID: "kc-1", AccountID: "ACC1",
		})
		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, m.ID)
		assert.Equal(t, now, m.CreatedAt)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("keeps provided id", func(t *testing.T) {
		id := uuid.New()
		mock.ExpectQuery(`INSERT INTO memberships`).
			WithArgs(id, "inv-2", "a@x.com", "A B", "kc-1", "ACC2").
			WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))

		m, err := store.Create(ctx, &Membership{
			ID: id, InvitationID: "inv-2", Email: "a@x.com", Name: "A B", OwnerID: "kc-1", AccountID: "ACC2",
		})
		require.NoError(t, err)
		assert.Equal(t, id, m.ID)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate returns ErrAlreadyExists", func(t *testing.T) {
		mock.ExpectQuery(`INSERT INTO memberships`).
			WillReturnRows(sqlmock.NewRows([]string{"created_at"}))

		m, err := store.Create(ctx, &Membership{InvitationID: "inv-1", OwnerID: "kc-1"})
		assert.Nil(t, m)
		assert.ErrorIs(t, err, ErrAlreadyExists)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("database error", func(t *testing.T) {
		mock.ExpectQuery(`INSERT INTO memberships`).
			WillReturnError(fmt.Errorf("connection refused"))

		_, err := store.Create(ctx, &Membership{InvitationID: "inv-3", OwnerID: "kc-1"})
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrAlreadyExists)
		assert.Contains(t, err.Error(), "failed to create membership")

		require.NoError(t, mock.ExpectationsWereMet())
	})
}
