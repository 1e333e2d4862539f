package domain

import "car-rental-backend/internal/pkg/errs"

// Validation failures. Rejected before any state is written.
var (
	ErrInvalidDateRange  = errs.New("invalid date range")
	ErrRentalTooLong     = errs.New("rental exceeds maximum duration")
	ErrDateOverlap       = errs.New("car already rented for overlapping dates")
	ErrCarUnavailable    = errs.New("car is not available")
	ErrInvalidTransition = errs.New("invalid rental state transition")
	ErrConcurrentUpdate  = errs.New("rental was modified concurrently")
	ErrInvalidWaiver     = errs.New("invalid penalty waiver")
	ErrNoPenalty         = errs.New("rental has no outstanding penalty")
	ErrInvalidAmount     = errs.New("invalid monetary amount")
	ErrRefundExceeds     = errs.New("refund exceeds captured amount")
	ErrInvalidPayment    = errs.New("invalid payment state")
	ErrMissingReference  = errs.New("payment has no gateway transaction id")
	ErrAlreadyReturned   = errs.New("actual return time already recorded")
	ErrRefundRecorded    = errs.New("waiver refund already recorded")
	ErrUnknownStatus     = errs.New("unknown rental status")
)

// Authorization failures.
var (
	ErrForbidden       = errs.New("caller is not allowed to perform this operation")
	ErrUnauthenticated = errs.New("caller identity is missing")
)

// Lookup failures.
var (
	ErrRentalNotFound  = errs.New("rental not found")
	ErrPaymentNotFound = errs.New("payment not found")
	ErrCarNotFound     = errs.New("car not found")
)

// Payment gateway failures.
var (
	// ErrPaymentDeclined is a permanent gateway refusal; retrying will not help.
	ErrPaymentDeclined = errs.New("payment declined")
	// ErrGatewayUnavailable is returned once transient retries are exhausted.
	ErrGatewayUnavailable = errs.New("payment gateway unavailable")
	// ErrRefundFailed flags a refund that must be retried by an operator.
	ErrRefundFailed = errs.New("refund failed")
)

// ErrReconciliationFetch fails a whole reconciliation run.
var ErrReconciliationFetch = errs.New("failed to fetch reconciliation data")

type ErrorKind string

const (
	KindValidation     ErrorKind = "VALIDATION"
	KindConflict       ErrorKind = "CONFLICT"
	KindAuthorization  ErrorKind = "AUTHORIZATION"
	KindNotFound       ErrorKind = "NOT_FOUND"
	KindPaymentFailed  ErrorKind = "PAYMENT_FAILED"
	KindGatewayFailure ErrorKind = "GATEWAY_FAILURE"
	KindInternal       ErrorKind = "INTERNAL"
)

// Kind buckets err into the error taxonomy so transports can map it.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case anyIs(err, ErrForbidden, ErrUnauthenticated):
		return KindAuthorization
	case anyIs(err, ErrRentalNotFound, ErrPaymentNotFound, ErrCarNotFound):
		return KindNotFound
	case anyIs(err, ErrDateOverlap, ErrConcurrentUpdate, ErrInvalidTransition, ErrCarUnavailable):
		return KindConflict
	case anyIs(err, ErrInvalidDateRange, ErrRentalTooLong, ErrInvalidWaiver, ErrNoPenalty,
		ErrInvalidAmount, ErrRefundExceeds, ErrInvalidPayment, ErrMissingReference,
		ErrAlreadyReturned, ErrRefundRecorded, ErrUnknownStatus):
		return KindValidation
	case anyIs(err, ErrPaymentDeclined, ErrRefundFailed):
		return KindPaymentFailed
	case anyIs(err, ErrGatewayUnavailable, ErrReconciliationFetch):
		return KindGatewayFailure
	default:
		return KindInternal
	}
}

func anyIs(err error, targets ...error) bool {
	for _, t := range targets {
		if errs.Is(err, t) {
			return true
		}
	}
	return false
}
