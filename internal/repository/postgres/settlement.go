package postgres

import (
	"context"
	"time"

	"car-rental-backend/internal/domain"
	"car-rental-backend/internal/pkg/errs"
	"car-rental-backend/internal/repository"
)

// settlementRepository mirrors the gateway's settled-charge ledger as reported
// by its notifications.
type settlementRepository struct {
	db DBTX
}

func NewSettlementRepository(db DBTX) repository.SettlementRepository {
	return &settlementRepository{db: db}
}

func (r *settlementRepository) Upsert(ctx context.Context, c *domain.SettledCharge) error {
	query := `INSERT INTO gateway_settlements (transaction_id, order_id, amount, currency, status, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)
	          ON CONFLICT (transaction_id) DO UPDATE SET status = EXCLUDED.status, amount = EXCLUDED.amount,
	          updated_at = EXCLUDED.updated_at`
	_, err := r.db.ExecContext(ctx, query, c.TransactionID, c.OrderID, c.Amount, c.Currency, c.Status, c.CreatedAt, time.Now().UTC())
	if err != nil {
		return errs.Wrapf(err, "upsert settlement %s", c.TransactionID)
	}
	return nil
}

func (r *settlementRepository) ListSettledCharges(ctx context.Context, from, to time.Time) ([]domain.SettledCharge, error) {
	query := `SELECT transaction_id, order_id, amount, currency, status, created_at
	          FROM gateway_settlements WHERE created_at >= $1 AND created_at < $2 ORDER BY created_at`
	rows, err := r.db.QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, errs.Wrap(err, "list settlements")
	}
	defer rows.Close()

	var charges []domain.SettledCharge
	for rows.Next() {
		var c domain.SettledCharge
		if err := rows.Scan(&c.TransactionID, &c.OrderID, &c.Amount, &c.Currency, &c.Status, &c.CreatedAt); err != nil {
			return nil, errs.Wrap(err, "scan settlement")
		}
		charges = append(charges, c)
	}
	return charges, rows.Err()
}
