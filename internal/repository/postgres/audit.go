package postgres

import (
	"context"
	"time"

	"car-rental-backend/internal/domain"
	"car-rental-backend/internal/pkg/errs"
	"car-rental-backend/internal/repository"
)

type paymentAuditRepository struct {
	db DBTX
}

func NewPaymentAuditRepository(db DBTX) repository.PaymentAuditRepository {
	return &paymentAuditRepository{db: db}
}

func (r *paymentAuditRepository) Record(ctx context.Context, a *domain.PaymentAttempt) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	query := `INSERT INTO payment_audit (rental_id, payment_id, operation, amount, currency, idempotency_key, attempt,
	          outcome, status_code, transaction_id, message, created_at)
	          VALUES ($1, NULLIF($2, 0), $3, $4, $5, $6, $7, $8, $9, $10, $11, $12) RETURNING id`
	err := r.db.QueryRowContext(ctx, query, a.RentalID, a.PaymentID, a.Operation, a.Amount, a.Currency, a.IdempotencyKey,
		a.Attempt, a.Outcome, a.StatusCode, a.TransactionID, a.Message, a.CreatedAt).Scan(&a.ID)
	if err != nil {
		return errs.Wrap(err, "insert payment audit")
	}
	return nil
}

func (r *paymentAuditRepository) ListByRental(ctx context.Context, rentalID int64) ([]domain.PaymentAttempt, error) {
	query := `SELECT id, rental_id, COALESCE(payment_id, 0), operation, amount, currency, idempotency_key, attempt,
	          outcome, status_code, transaction_id, message, created_at
	          FROM payment_audit WHERE rental_id = $1 ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, rentalID)
	if err != nil {
		return nil, errs.Wrap(err, "list payment audit")
	}
	defer rows.Close()

	var attempts []domain.PaymentAttempt
	for rows.Next() {
		var a domain.PaymentAttempt
		if err := rows.Scan(&a.ID, &a.RentalID, &a.PaymentID, &a.Operation, &a.Amount, &a.Currency, &a.IdempotencyKey,
			&a.Attempt, &a.Outcome, &a.StatusCode, &a.TransactionID, &a.Message, &a.CreatedAt); err != nil {
			return nil, errs.Wrap(err, "scan payment audit")
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}
