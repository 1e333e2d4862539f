package domain

// rentalTransitions is the complete forward transition table. RETURNED and
// CANCELLED are terminal.
var rentalTransitions = map[RentalStatus][]RentalStatus{
	RentalStatusRequested: {RentalStatusConfirmed, RentalStatusCancelled},
	RentalStatusConfirmed: {RentalStatusInUse, RentalStatusCancelled},
	RentalStatusInUse:     {RentalStatusReturned, RentalStatusCancelled},
}

func CanTransition(from, to RentalStatus) bool {
	for _, next := range rentalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func CanConfirm(s RentalStatus) bool { return CanTransition(s, RentalStatusConfirmed) }
func CanPickup(s RentalStatus) bool  { return CanTransition(s, RentalStatusInUse) }
func CanReturn(s RentalStatus) bool  { return CanTransition(s, RentalStatusReturned) }
func CanCancel(s RentalStatus) bool  { return CanTransition(s, RentalStatusCancelled) }

func IsTerminal(s RentalStatus) bool {
	return len(rentalTransitions[s]) == 0
}

// HoldsCar reports whether a rental in s keeps its car reserved or rented.
func HoldsCar(s RentalStatus) bool {
	return s == RentalStatusConfirmed || s == RentalStatusInUse
}

func IsValidRentalStatus(s RentalStatus) bool {
	switch s {
	case RentalStatusRequested, RentalStatusConfirmed, RentalStatusInUse,
		RentalStatusReturned, RentalStatusCancelled:
		return true
	default:
		return false
	}
}

// IsActivePayment reports whether a payment still represents live money:
// either in flight or held by the gateway.
func IsActivePayment(s PaymentStatus) bool {
	return s == PaymentStatusPending || s == PaymentStatusAuthorized || s == PaymentStatusCaptured
}

func CanCapture(s PaymentStatus) bool { return s == PaymentStatusAuthorized }
func CanRefund(s PaymentStatus) bool  { return s == PaymentStatusCaptured }
