package postgres

import (
	"context"
	"database/sql"
	"time"

	"car-rental-backend/internal/domain"
	"car-rental-backend/internal/pkg/errs"
	"car-rental-backend/internal/repository"
)

const paymentColumns = `id, rental_id, amount, currency, status, payment_method, COALESCE(transaction_id, ''),
	refunded_amount, failure_reason, gateway_response, deleted, created_at, updated_at`

type paymentRepository struct {
	db DBTX
}

func NewPaymentRepository(db DBTX) repository.PaymentRepository {
	return &paymentRepository{db: db}
}

func scanPayment(row rowScanner) (*domain.Payment, error) {
	var p domain.Payment
	err := row.Scan(&p.ID, &p.RentalID, &p.Amount, &p.Currency, &p.Status, &p.Method, &p.TransactionID,
		&p.RefundedAmount, &p.FailureReason, &p.GatewayResponse, &p.Deleted, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *paymentRepository) Create(ctx context.Context, p *domain.Payment) error {
	now := time.Now().UTC()
	query := `INSERT INTO payments (rental_id, amount, currency, status, payment_method, transaction_id, refunded_amount,
	          failure_reason, gateway_response, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, $10, $11) RETURNING id`
	err := r.db.QueryRowContext(ctx, query, p.RentalID, p.Amount, p.Currency, p.Status, p.Method, p.TransactionID,
		p.RefundedAmount, p.FailureReason, p.GatewayResponse, now, now).Scan(&p.ID)
	if err != nil {
		return errs.Wrap(err, "insert payment")
	}
	p.CreatedAt = now
	p.UpdatedAt = now
	return nil
}

func (r *paymentRepository) GetByID(ctx context.Context, id int64) (*domain.Payment, error) {
	return r.getOne(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1 AND deleted = false`, id)
}

func (r *paymentRepository) GetForUpdate(ctx context.Context, id int64) (*domain.Payment, error) {
	return r.getOne(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1 AND deleted = false FOR UPDATE`, id)
}

func (r *paymentRepository) FindActiveBase(ctx context.Context, rentalID int64) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments
	          WHERE rental_id = $1 AND payment_method <> 'PENALTY' AND deleted = false
	          AND status IN ('PENDING', 'AUTHORIZED', 'CAPTURED')
	          ORDER BY id DESC LIMIT 1 FOR UPDATE`
	return r.getOne(ctx, query, rentalID)
}

func (r *paymentRepository) FindCapturedPenalty(ctx context.Context, rentalID int64) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments
	          WHERE rental_id = $1 AND payment_method = 'PENALTY' AND deleted = false AND status = 'CAPTURED'
	          ORDER BY id DESC LIMIT 1 FOR UPDATE`
	return r.getOne(ctx, query, rentalID)
}

func (r *paymentRepository) getOne(ctx context.Context, query string, arg int64) (*domain.Payment, error) {
	p, err := scanPayment(r.db.QueryRowContext(ctx, query, arg))
	if err == sql.ErrNoRows {
		return nil, domain.ErrPaymentNotFound
	}
	if err != nil {
		return nil, errs.Wrap(err, "select payment")
	}
	return p, nil
}

func (r *paymentRepository) Update(ctx context.Context, p *domain.Payment) error {
	now := time.Now().UTC()
	query := `UPDATE payments SET status=$2, transaction_id=NULLIF($3, ''), refunded_amount=$4, failure_reason=$5,
	          gateway_response=$6, deleted=$7, updated_at=$8 WHERE id=$1`
	res, err := r.db.ExecContext(ctx, query, p.ID, p.Status, p.TransactionID, p.RefundedAmount, p.FailureReason,
		p.GatewayResponse, p.Deleted, now)
	if err != nil {
		return errs.Wrapf(err, "update payment %d", p.ID)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrPaymentNotFound
	}
	p.UpdatedAt = now
	return nil
}

func (r *paymentRepository) ListByRental(ctx context.Context, rentalID int64) ([]domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE rental_id = $1 AND deleted = false ORDER BY id`
	return r.list(ctx, query, rentalID)
}

func (r *paymentRepository) ListCreatedBetween(ctx context.Context, from, to time.Time) ([]domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments
	          WHERE created_at >= $1 AND created_at < $2 AND deleted = false ORDER BY id`
	return r.list(ctx, query, from, to)
}

func (r *paymentRepository) list(ctx context.Context, query string, args ...any) ([]domain.Payment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Wrap(err, "list payments")
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, errs.Wrap(err, "scan payment")
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}
