package service

import (
	"context"
	"time"

	"car-rental-backend/internal/domain"
	"car-rental-backend/internal/events"
	"car-rental-backend/internal/gateway"
	"car-rental-backend/internal/logger"
	"car-rental-backend/internal/metrics"
	"car-rental-backend/internal/pkg/clock"
	"car-rental-backend/internal/pkg/errs"
	"car-rental-backend/internal/repository"
)

type reconciliationService struct {
	payments  repository.PaymentRepository
	source    gateway.SettlementSource
	publisher events.Publisher
	metrics   *metrics.Metrics
	clock     clock.Clock
}

func NewReconciliationService(
	payments repository.PaymentRepository,
	source gateway.SettlementSource,
	publisher events.Publisher,
	m *metrics.Metrics,
	clk clock.Clock,
) ReconciliationService {
	return &reconciliationService{
		payments:  payments,
		source:    source,
		publisher: publisher,
		metrics:   m,
		clock:     clk,
	}
}

// RunDailyReconciliation diffs the local ledger against the gateway for the
// UTC day containing date. Nothing is corrected; the report is the output.
// A failure to read either side fails the whole run.
func (s *reconciliationService) RunDailyReconciliation(ctx context.Context, date time.Time) (*domain.ReconciliationReport, error) {
	from := clock.DateOf(date)
	to := from.AddDate(0, 0, 1)
	log := logger.WithJob("reconciliation")
	log.Info("Starting reconciliation", "date", from.Format(time.DateOnly))

	local, err := s.payments.ListCreatedBetween(ctx, from, to)
	if err != nil {
		log.Error("Failed to load local payments", "error", err)
		return nil, errs.Wrapf(domain.ErrReconciliationFetch, "local payments: %v", err)
	}
	external, err := s.source.ListSettledCharges(ctx, from, to)
	if err != nil {
		log.Error("Failed to load settled charges", "error", err)
		return nil, errs.Wrapf(domain.ErrReconciliationFetch, "settled charges: %v", err)
	}

	report := Reconcile(local, external)
	report.Date = from
	report.GeneratedAt = s.clock.Now()

	counts := report.CountByKind()
	for kind, n := range counts {
		s.metrics.Discrepancy(string(kind), n)
	}
	if report.HasDiscrepancies {
		for _, d := range report.Discrepancies {
			log.Warn("Reconciliation discrepancy", "kind", d.Kind, "transactionID", d.TransactionID,
				"paymentID", d.PaymentID, "localStatus", d.LocalStatus, "externalStatus", d.ExternalStatus)
		}
	}
	log.Info("Reconciliation finished", "local", report.LocalCount, "external", report.ExternalCount,
		"matched", report.Matched, "skipped", report.Skipped, "discrepancies", len(report.Discrepancies))

	if s.publisher != nil {
		s.publisher.Publish(domain.ReconciliationCompleted{
			EventMeta:        domain.NewEventMeta(domain.EventReconciliationCompleted, 0, 0, report.GeneratedAt),
			Date:             from,
			HasDiscrepancies: report.HasDiscrepancies,
			Counts:           counts,
		})
	}
	return report, nil
}

// Reconcile compares the two ledgers by gateway transaction id. Local
// payments without a transaction id never reached the gateway and are
// skipped.
func Reconcile(local []domain.Payment, external []domain.SettledCharge) *domain.ReconciliationReport {
	report := &domain.ReconciliationReport{
		LocalCount:    len(local),
		ExternalCount: len(external),
		Discrepancies: []domain.Discrepancy{},
	}

	byTxn := make(map[string]domain.SettledCharge, len(external))
	for _, c := range external {
		byTxn[c.TransactionID] = c
	}
	seen := make(map[string]bool, len(local))

	for _, p := range local {
		if p.TransactionID == "" {
			report.Skipped++
			continue
		}
		seen[p.TransactionID] = true
		c, ok := byTxn[p.TransactionID]
		if !ok {
			amt := p.Amount
			report.Add(domain.Discrepancy{
				Kind:          domain.DiscrepancyMissingInGateway,
				TransactionID: p.TransactionID,
				PaymentID:     p.ID,
				RentalID:      p.RentalID,
				LocalAmount:   &amt,
				LocalStatus:   p.Status,
			})
			continue
		}
		clean := true
		if !p.Amount.Equal(c.Amount) {
			clean = false
			localAmt, extAmt := p.Amount, c.Amount
			report.Add(domain.Discrepancy{
				Kind:           domain.DiscrepancyAmountMismatch,
				TransactionID:  p.TransactionID,
				PaymentID:      p.ID,
				RentalID:       p.RentalID,
				LocalAmount:    &localAmt,
				ExternalAmount: &extAmt,
			})
		}
		if !domain.StatusEquivalent(p.Status, c.Status) {
			clean = false
			report.Add(domain.Discrepancy{
				Kind:           domain.DiscrepancyStatusMismatch,
				TransactionID:  p.TransactionID,
				PaymentID:      p.ID,
				RentalID:       p.RentalID,
				LocalStatus:    p.Status,
				ExternalStatus: c.Status,
			})
		}
		if clean {
			report.Matched++
		}
	}

	for _, c := range external {
		if seen[c.TransactionID] {
			continue
		}
		amt := c.Amount
		report.Add(domain.Discrepancy{
			Kind:           domain.DiscrepancyMissingInDatabase,
			TransactionID:  c.TransactionID,
			ExternalAmount: &amt,
			ExternalStatus: c.Status,
		})
	}
	return report
}
