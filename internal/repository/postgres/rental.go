package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"car-rental-backend/internal/domain"
	"car-rental-backend/internal/pkg/errs"
	"car-rental-backend/internal/repository"

	"github.com/shopspring/decimal"
)

const rentalColumns = `id, user_id, car_id, car_brand, car_model, car_plate, start_date, end_date,
	daily_price, total_price, currency, customer_ref, status, penalty_amount, penalty_paid,
	late_return_status, late_detected_at, late_hours, actual_return_time, pickup_note, return_note,
	cancel_reason, deleted, version, created_at, updated_at`

type rentalRepository struct {
	db DBTX
}

func NewRentalRepository(db DBTX) repository.RentalRepository {
	return &rentalRepository{db: db}
}

func scanRental(row rowScanner) (*domain.Rental, error) {
	var (
		rt             domain.Rental
		penalty        decimal.NullDecimal
		lateDetectedAt sql.NullTime
		actualReturn   sql.NullTime
	)
	err := row.Scan(&rt.ID, &rt.UserID, &rt.CarID, &rt.CarBrand, &rt.CarModel, &rt.CarPlate, &rt.StartDate, &rt.EndDate,
		&rt.DailyPrice, &rt.TotalPrice, &rt.Currency, &rt.CustomerRef, &rt.Status, &penalty, &rt.PenaltyPaid,
		&rt.LateReturnStatus, &lateDetectedAt, &rt.LateHours, &actualReturn, &rt.PickupNote, &rt.ReturnNote,
		&rt.CancelReason, &rt.Deleted, &rt.Version, &rt.CreatedAt, &rt.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if penalty.Valid {
		p := penalty.Decimal
		rt.PenaltyAmount = &p
	}
	rt.LateDetectedAt = timePtr(lateDetectedAt)
	rt.ActualReturnTime = timePtr(actualReturn)
	rt.StartDate = rt.StartDate.UTC()
	rt.EndDate = rt.EndDate.UTC()
	return &rt, nil
}

func nullPenalty(p *decimal.Decimal) decimal.NullDecimal {
	if p == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *p, Valid: true}
}

func (r *rentalRepository) Create(ctx context.Context, rt *domain.Rental) error {
	now := time.Now().UTC()
	if rt.LateReturnStatus == "" {
		rt.LateReturnStatus = domain.LateStatusOnTime
	}
	query := `INSERT INTO rentals (user_id, car_id, car_brand, car_model, car_plate, start_date, end_date,
	          daily_price, total_price, currency, customer_ref, status, late_return_status, version, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 1, $14, $15) RETURNING id`
	err := r.db.QueryRowContext(ctx, query, rt.UserID, rt.CarID, rt.CarBrand, rt.CarModel, rt.CarPlate, rt.StartDate, rt.EndDate,
		rt.DailyPrice, rt.TotalPrice, rt.Currency, rt.CustomerRef, rt.Status, rt.LateReturnStatus, now, now).Scan(&rt.ID)
	if err != nil {
		return errs.Wrap(err, "insert rental")
	}
	rt.Version = 1
	rt.CreatedAt = now
	rt.UpdatedAt = now
	return nil
}

func (r *rentalRepository) GetByID(ctx context.Context, id int64) (*domain.Rental, error) {
	query := `SELECT ` + rentalColumns + ` FROM rentals WHERE id = $1 AND deleted = false`
	return r.get(ctx, query, id)
}

func (r *rentalRepository) GetForUpdate(ctx context.Context, id int64) (*domain.Rental, error) {
	query := `SELECT ` + rentalColumns + ` FROM rentals WHERE id = $1 AND deleted = false FOR UPDATE`
	return r.get(ctx, query, id)
}

func (r *rentalRepository) get(ctx context.Context, query string, id int64) (*domain.Rental, error) {
	rt, err := scanRental(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, domain.ErrRentalNotFound
	}
	if err != nil {
		return nil, errs.Wrapf(err, "select rental %d", id)
	}
	return rt, nil
}

func (r *rentalRepository) Update(ctx context.Context, rt *domain.Rental) error {
	now := time.Now().UTC()
	query := `UPDATE rentals SET status=$3, penalty_amount=$4, penalty_paid=$5, late_return_status=$6, late_detected_at=$7,
	          late_hours=$8, actual_return_time=$9, pickup_note=$10, return_note=$11, cancel_reason=$12, deleted=$13,
	          version = version + 1, updated_at=$14
	          WHERE id=$1 AND version=$2`
	res, err := r.db.ExecContext(ctx, query, rt.ID, rt.Version, rt.Status, nullPenalty(rt.PenaltyAmount), rt.PenaltyPaid,
		rt.LateReturnStatus, nullTime(rt.LateDetectedAt), rt.LateHours, nullTime(rt.ActualReturnTime),
		rt.PickupNote, rt.ReturnNote, rt.CancelReason, rt.Deleted, now)
	if err != nil {
		return errs.Wrapf(err, "update rental %d", rt.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errs.Wrap(err, "rows affected")
	}
	if n == 0 {
		return domain.ErrConcurrentUpdate
	}
	rt.Version++
	rt.UpdatedAt = now
	return nil
}

func (r *rentalRepository) HasOverlap(ctx context.Context, carID int64, start, end time.Time, excludeID int64) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM rentals
	          WHERE car_id = $1 AND deleted = false AND status <> 'CANCELLED' AND id <> $4
	          AND start_date <= $3 AND end_date >= $2)`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, carID, start, end, excludeID).Scan(&exists); err != nil {
		return false, errs.Wrap(err, "check rental overlap")
	}
	return exists, nil
}

func (r *rentalRepository) ListOverdueInUse(ctx context.Context, before time.Time, afterID int64, limit int) ([]domain.Rental, error) {
	query := `SELECT ` + rentalColumns + ` FROM rentals
	          WHERE status = 'IN_USE' AND deleted = false AND end_date < $1 AND id > $2
	          ORDER BY id LIMIT $3`
	rows, err := r.db.QueryContext(ctx, query, before, afterID, limit)
	if err != nil {
		return nil, errs.Wrap(err, "list overdue rentals")
	}
	defer rows.Close()
	return collectRentals(rows)
}

func (r *rentalRepository) List(ctx context.Context, filter domain.RentalFilter) ([]domain.Rental, int, error) {
	filter = filter.Normalize()
	conds := []string{"deleted = false"}
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.UserID != 0 {
		add("user_id = $%d", filter.UserID)
	}
	if filter.CarID != 0 {
		add("car_id = $%d", filter.CarID)
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	where := " WHERE " + strings.Join(conds, " AND ")

	var count int
	if err := r.db.QueryRowContext(ctx, "SELECT count(*) FROM rentals"+where, args...).Scan(&count); err != nil {
		return nil, 0, errs.Wrap(err, "count rentals")
	}

	query := `SELECT ` + rentalColumns + ` FROM rentals` + where +
		fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, filter.PageSize, (filter.Page-1)*filter.PageSize)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, errs.Wrap(err, "list rentals")
	}
	defer rows.Close()
	rentals, err := collectRentals(rows)
	if err != nil {
		return nil, 0, err
	}
	return rentals, count, nil
}

func collectRentals(rows *sql.Rows) ([]domain.Rental, error) {
	var rentals []domain.Rental
	for rows.Next() {
		rt, err := scanRental(rows)
		if err != nil {
			return nil, errs.Wrap(err, "scan rental")
		}
		rentals = append(rentals, *rt)
	}
	return rentals, rows.Err()
}
