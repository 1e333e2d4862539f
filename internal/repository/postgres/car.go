package postgres

import (
	"context"
	"database/sql"

	"car-rental-backend/internal/domain"
	"car-rental-backend/internal/pkg/errs"
	"car-rental-backend/internal/repository"
)

type carRepository struct {
	db DBTX
}

func NewCarRepository(db DBTX) repository.CarRepository {
	return &carRepository{db: db}
}

func (r *carRepository) GetByID(ctx context.Context, id int64) (*domain.CarSnapshot, error) {
	return r.get(ctx, `SELECT id, brand, model, plate, daily_price, currency, status FROM cars WHERE id = $1`, id)
}

func (r *carRepository) LockForUpdate(ctx context.Context, id int64) (*domain.CarSnapshot, error) {
	return r.get(ctx, `SELECT id, brand, model, plate, daily_price, currency, status FROM cars WHERE id = $1 FOR UPDATE`, id)
}

func (r *carRepository) get(ctx context.Context, query string, id int64) (*domain.CarSnapshot, error) {
	var c domain.CarSnapshot
	err := r.db.QueryRowContext(ctx, query, id).Scan(&c.ID, &c.Brand, &c.Model, &c.Plate, &c.DailyPrice, &c.Currency, &c.Status)
	if err == sql.ErrNoRows {
		return nil, domain.ErrCarNotFound
	}
	if err != nil {
		return nil, errs.Wrapf(err, "select car %d", id)
	}
	return &c, nil
}

func (r *carRepository) UpdateStatus(ctx context.Context, id int64, status domain.CarStatus) error {
	res, err := r.db.ExecContext(ctx, `UPDATE cars SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return errs.Wrapf(err, "update car %d status", id)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrCarNotFound
	}
	return nil
}
