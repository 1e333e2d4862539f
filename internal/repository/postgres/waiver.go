package postgres

import (
	"context"

	"car-rental-backend/internal/domain"
	"car-rental-backend/internal/pkg/errs"
	"car-rental-backend/internal/repository"
)

type waiverRepository struct {
	db DBTX
}

func NewWaiverRepository(db DBTX) repository.WaiverRepository {
	return &waiverRepository{db: db}
}

func (r *waiverRepository) Create(ctx context.Context, w *domain.PenaltyWaiver) error {
	query := `INSERT INTO penalty_waivers (rental_id, original_penalty, waived_amount, remaining_penalty, reason, admin_id,
	          waived_at, refund_initiated, refund_transaction_id)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`
	err := r.db.QueryRowContext(ctx, query, w.RentalID, w.OriginalPenalty, w.WaivedAmount, w.RemainingPenalty, w.Reason,
		w.AdminID, w.WaivedAt, w.RefundInitiated, w.RefundTransactionID).Scan(&w.ID)
	if err != nil {
		return errs.Wrap(err, "insert penalty waiver")
	}
	return nil
}

// Update only touches the refund fields; the rest of a waiver is immutable.
func (r *waiverRepository) Update(ctx context.Context, w *domain.PenaltyWaiver) error {
	query := `UPDATE penalty_waivers SET refund_initiated=$2, refund_transaction_id=$3 WHERE id=$1`
	if _, err := r.db.ExecContext(ctx, query, w.ID, w.RefundInitiated, w.RefundTransactionID); err != nil {
		return errs.Wrapf(err, "update penalty waiver %d", w.ID)
	}
	return nil
}

func (r *waiverRepository) ListByRental(ctx context.Context, rentalID int64) ([]domain.PenaltyWaiver, error) {
	query := `SELECT id, rental_id, original_penalty, waived_amount, remaining_penalty, reason, admin_id, waived_at,
	          refund_initiated, refund_transaction_id
	          FROM penalty_waivers WHERE rental_id = $1 ORDER BY waived_at, id`
	rows, err := r.db.QueryContext(ctx, query, rentalID)
	if err != nil {
		return nil, errs.Wrap(err, "list penalty waivers")
	}
	defer rows.Close()

	var waivers []domain.PenaltyWaiver
	for rows.Next() {
		var w domain.PenaltyWaiver
		if err := rows.Scan(&w.ID, &w.RentalID, &w.OriginalPenalty, &w.WaivedAmount, &w.RemainingPenalty, &w.Reason,
			&w.AdminID, &w.WaivedAt, &w.RefundInitiated, &w.RefundTransactionID); err != nil {
			return nil, errs.Wrap(err, "scan penalty waiver")
		}
		waivers = append(waivers, w)
	}
	return waivers, rows.Err()
}
