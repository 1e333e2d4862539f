package postgres

import (
	"context"
	"database/sql"
	"time"

	"car-rental-backend/internal/logger"
	"car-rental-backend/internal/pkg/errs"
	"car-rental-backend/internal/repository"

	"github.com/lib/pq"
)

var (
	ErrTransactionBegin   = errs.New("failed to begin transaction")
	ErrTransactionCommit  = errs.New("failed to commit transaction")
	ErrMaxRetriesExceeded = errs.New("transaction failed after max retries")
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// Store owns the connection pool. Outside a transaction its repositories run
// straight on the pool.
type Store struct {
	db         *sql.DB
	maxRetries int

	rentals     repository.RentalRepository
	payments    repository.PaymentRepository
	waivers     repository.WaiverRepository
	cars        repository.CarRepository
	audit       repository.PaymentAuditRepository
	settlements repository.SettlementRepository
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		db:          db,
		maxRetries:  3,
		rentals:     NewRentalRepository(db),
		payments:    NewPaymentRepository(db),
		waivers:     NewWaiverRepository(db),
		cars:        NewCarRepository(db),
		audit:       NewPaymentAuditRepository(db),
		settlements: NewSettlementRepository(db),
	}
}

func (s *Store) Rentals() repository.RentalRepository         { return s.rentals }
func (s *Store) Payments() repository.PaymentRepository       { return s.payments }
func (s *Store) Waivers() repository.WaiverRepository         { return s.waivers }
func (s *Store) Cars() repository.CarRepository               { return s.cars }
func (s *Store) Audit() repository.PaymentAuditRepository     { return s.audit }
func (s *Store) Settlements() repository.SettlementRepository { return s.settlements }

type txRepos struct {
	tx *sql.Tx
}

func (r txRepos) Rentals() repository.RentalRepository   { return NewRentalRepository(r.tx) }
func (r txRepos) Payments() repository.PaymentRepository { return NewPaymentRepository(r.tx) }
func (r txRepos) Waivers() repository.WaiverRepository   { return NewWaiverRepository(r.tx) }
func (r txRepos) Cars() repository.CarRepository         { return NewCarRepository(r.tx) }

// WithinTx runs fn in a transaction, retrying serialization failures and
// deadlocks with a short linear backoff.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, repos repository.Repos) error) error {
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		err := s.runInTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !isRetryableError(err) {
			return err
		}
		if attempt == s.maxRetries {
			logger.Error("transaction failed after max retries", "attempts", attempt+1, "error", err)
			return errs.Mark(err, ErrMaxRetriesExceeded)
		}

		waitTime := time.Duration(attempt+1) * 100 * time.Millisecond
		logger.Warn("retrying transaction due to retryable error", "attempt", attempt+1, "wait_time", waitTime, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitTime):
		}
	}
	return ErrMaxRetriesExceeded
}

func (s *Store) runInTx(ctx context.Context, fn func(ctx context.Context, repos repository.Repos) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Mark(err, ErrTransactionBegin)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			logger.Warn("failed to rollback transaction", "error", rbErr)
		}
	}()

	if err := fn(ctx, txRepos{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errs.Mark(err, ErrTransactionCommit)
	}
	return nil
}

func isRetryableError(err error) bool {
	var pqErr *pq.Error
	if !errs.As(err, &pqErr) {
		return false
	}
	// 40001: serialization_failure
	// 40P01: deadlock_detected
	switch pqErr.Code {
	case "40001", "40P01":
		return true
	default:
		return false
	}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
