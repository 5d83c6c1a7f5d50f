package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"

	"github.com/BigCrunchTheory/watermap-service/internal/model"
)

func newMockRepository(t *testing.T) (*PostgresRepository, pgxmock.PgxPoolIface) {
	t.Helper()

	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("new mock pool: %v", err)
	}
	t.Cleanup(mock.Close)

	return &PostgresRepository{pool: mock}, mock
}

func testPayment() *model.Payment {
	return &model.Payment{
		UserID:        7,
		WaterPointID:  3,
		Volume:        40,
		Amount:        80,
		PaymentMethod: model.PaymentMethodBonus,
		BonusUsed:     80,
		BonusEarned:   10,
	}
}

func TestCreatePaymentRejectsOverdraft(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT bonus_balance FROM users").
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"bonus_balance"}).AddRow(50.0))
	mock.ExpectRollback()

	_, err := repo.CreatePayment(context.Background(), testPayment(), 80)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	// Баланс меньше списания: ни UPDATE, ни INSERT выполняться не должны.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreatePaymentAppliesDebitAndRecord(t *testing.T) {
	repo, mock := newMockRepository(t)
	createdAt := time.Date(2026, 8, 14, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT bonus_balance FROM users").
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"bonus_balance"}).AddRow(100.0))
	mock.ExpectExec("UPDATE users").
		WithArgs(int64(7), 80.0, 10.0, 40.0).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("INSERT INTO payments").
		WithArgs(int64(7), int64(3), 40.0, 80.0, "bonus", 80.0, 10.0).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(int64(42), createdAt))
	mock.ExpectCommit()

	stored, err := repo.CreatePayment(context.Background(), testPayment(), 80)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored.ID != 42 {
		t.Errorf("expected payment id 42, got %d", stored.ID)
	}
	if !stored.CreatedAt.Equal(createdAt) {
		t.Errorf("expected created_at %v, got %v", createdAt, stored.CreatedAt)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreatePaymentUserMissing(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT bonus_balance FROM users").
		WithArgs(int64(7)).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err := repo.CreatePayment(context.Background(), testPayment(), 80)
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestCreatePaymentWaterPointRemoved(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT bonus_balance FROM users").
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"bonus_balance"}).AddRow(100.0))
	mock.ExpectExec("UPDATE users").
		WithArgs(int64(7), 80.0, 10.0, 40.0).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("INSERT INTO payments").
		WithArgs(int64(7), int64(3), 40.0, 80.0, "bonus", 80.0, 10.0).
		WillReturnError(&pgconn.PgError{Code: pgerrcode.ForeignKeyViolation})
	mock.ExpectRollback()

	_, err := repo.CreatePayment(context.Background(), testPayment(), 80)
	if !errors.Is(err, ErrWaterPointNotFound) {
		t.Fatalf("expected ErrWaterPointNotFound, got %v", err)
	}
}

func TestDeleteUserWithPayments(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec("DELETE FROM users").
		WithArgs(int64(7)).
		WillReturnError(&pgconn.PgError{Code: pgerrcode.ForeignKeyViolation})

	err := repo.DeleteUser(context.Background(), 7)
	if !errors.Is(err, ErrUserHasPayments) {
		t.Fatalf("expected ErrUserHasPayments, got %v", err)
	}
}

func TestDeleteWaterPointWithPayments(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec("DELETE FROM water_points").
		WithArgs(int64(3)).
		WillReturnError(&pgconn.PgError{Code: pgerrcode.ForeignKeyViolation})

	err := repo.DeleteWaterPoint(context.Background(), 3)
	if !errors.Is(err, ErrWaterPointHasPayments) {
		t.Fatalf("expected ErrWaterPointHasPayments, got %v", err)
	}
}

func TestReplaceAdminSingleRow(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM admins").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectQuery("INSERT INTO admins").
		WithArgs("duty", "hash").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(5)))
	mock.ExpectCommit()

	id, err := repo.ReplaceAdmin(context.Background(), "duty", "hash")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != 5 {
		t.Errorf("expected admin id 5, got %d", id)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
