package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	billingdomain "github.com/smallbiznis/valkyrie/internal/billing/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, *sql.DB) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	dialector := postgres.New(postgres.Config{
		Conn:       mockDB,
		DriverName: "postgres",
	})
	gormDB, err := gorm.Open(dialector, &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	return gormDB, mock, mockDB
}

func TestInsertIfAbsent(t *testing.T) {
	now := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	inv := &billingdomain.Invoice{
		ID:            snowflake.ID(1),
		PartnerID:     snowflake.ID(2),
		InvoiceNumber: "VLK-202401-1",
		Period:        "2024-01",
		Currency:      "KES",
		Amount:        decimal.NewFromInt(10),
		Status:        billingdomain.StatusDraft,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	t.Run("reports insert", func(t *testing.T) {
		db, mock, mockDB := newMockDB(t)
		defer mockDB.Close()

		mock.ExpectExec(`INSERT INTO invoices .* ON CONFLICT \(partner_id, period\) DO NOTHING`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		inserted, err := Provide().InsertIfAbsent(context.Background(), db, inv)
		require.NoError(t, err)
		assert.True(t, inserted)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("reports conflict", func(t *testing.T) {
		db, mock, mockDB := newMockDB(t)
		defer mockDB.Close()

		mock.ExpectExec(`INSERT INTO invoices`).
			WillReturnResult(sqlmock.NewResult(0, 0))

		inserted, err := Provide().InsertIfAbsent(context.Background(), db, inv)
		require.NoError(t, err)
		assert.False(t, inserted)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("surfaces driver errors", func(t *testing.T) {
		db, mock, mockDB := newMockDB(t)
		defer mockDB.Close()

		connErr := errors.New("connection reset by peer")
		mock.ExpectExec(`INSERT INTO invoices`).WillReturnError(connErr)

		inserted, err := Provide().InsertIfAbsent(context.Background(), db, inv)
		assert.ErrorIs(t, err, connErr)
		assert.False(t, inserted)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTransitionIsConditionalOnStatus(t *testing.T) {
	now := time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC)

	t.Run("stale status changes nothing", func(t *testing.T) {
		db, mock, mockDB := newMockDB(t)
		defer mockDB.Close()

		mock.ExpectExec(`UPDATE "invoices" SET .* WHERE id = \$\d+ AND status = \$\d+`).
			WillReturnResult(sqlmock.NewResult(0, 0))

		n, err := Provide().Transition(context.Background(), db, snowflake.ID(9), billingdomain.StatusDraft, billingdomain.StatusIssued, billingdomain.TransitionFields{
			IssuedAt:  &now,
			DueDate:   &now,
			UpdatedAt: now,
		})
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("surfaces driver errors", func(t *testing.T) {
		db, mock, mockDB := newMockDB(t)
		defer mockDB.Close()

		mock.ExpectExec(`UPDATE "invoices"`).WillReturnError(sql.ErrConnDone)

		_, err := Provide().Transition(context.Background(), db, snowflake.ID(9), billingdomain.StatusIssued, billingdomain.StatusPaid, billingdomain.TransitionFields{
			PaidDate:  &now,
			UpdatedAt: now,
		})
		assert.ErrorIs(t, err, sql.ErrConnDone)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestFindByIDNotFound(t *testing.T) {
	db, mock, mockDB := newMockDB(t)
	defer mockDB.Close()

	mock.ExpectQuery(`SELECT \* FROM invoices WHERE id = \$1`).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	inv, err := Provide().FindByID(context.Background(), db, snowflake.ID(5))
	require.NoError(t, err)
	assert.Nil(t, inv)
	assert.NoError(t, mock.ExpectationsWereMet())
}
