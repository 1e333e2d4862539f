package domain

import "github.com/shopspring/decimal"

type CarStatus string

const (
	CarStatusAvailable    CarStatus = "AVAILABLE"
	CarStatusReserved     CarStatus = "RESERVED"
	CarStatusRented       CarStatus = "RENTED"
	CarStatusMaintenance  CarStatus = "MAINTENANCE"
	CarStatusOutOfService CarStatus = "OUT_OF_SERVICE"
)

// IsBlocking reports whether a car in this status cannot take new requests.
func IsBlocking(s CarStatus) bool {
	return s == CarStatusMaintenance || s == CarStatusOutOfService
}

// CarSnapshot is what the inventory collaborator tells us about a car.
type CarSnapshot struct {
	ID         int64           `json:"id"`
	Brand      string          `json:"brand"`
	Model      string          `json:"model"`
	Plate      string          `json:"plate"`
	DailyPrice decimal.Decimal `json:"daily_price"`
	Currency   string          `json:"currency"`
	Status     CarStatus       `json:"status"`
}
