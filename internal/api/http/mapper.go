package http

import (
	"time"

	"car-rental-backend/internal/domain"
	"car-rental-backend/internal/service"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

type penaltyView struct {
	Status      domain.LateReturnStatus `json:"late_return_status"`
	LateMinutes int                     `json:"late_minutes"`
	LateHours   int                     `json:"late_hours"`
	LateDays    int                     `json:"late_days"`
	Amount      decimal.Decimal         `json:"amount"`
	Capped      bool                    `json:"capped"`
}

type transitionResponse struct {
	Rental           *domain.Rental     `json:"rental"`
	Payment          *domain.Payment    `json:"payment,omitempty"`
	PenaltyPayment   *domain.Payment    `json:"penalty_payment,omitempty"`
	Penalty          *penaltyView       `json:"penalty,omitempty"`
	Events           []domain.EventType `json:"events"`
	SettlementFailed bool               `json:"settlement_failed"`
}

func mapTransition(res *service.TransitionResult) transitionResponse {
	out := transitionResponse{
		Rental:           res.Rental,
		Payment:          res.Payment,
		PenaltyPayment:   res.PenaltyPayment,
		Events:           make([]domain.EventType, 0, len(res.Events)),
		SettlementFailed: res.SettlementFailed,
	}
	for _, e := range res.Events {
		out.Events = append(out.Events, e.Meta().Type)
	}
	if p := res.Penalty; p != nil {
		out.Penalty = &penaltyView{
			Status:      p.Status,
			LateMinutes: p.LateMinutes,
			LateHours:   p.LateHours,
			LateDays:    p.LateDays,
			Amount:      p.Penalty,
			Capped:      p.Capped,
		}
	}
	return out
}

type rentalListResponse struct {
	Rentals  []domain.Rental `json:"rentals"`
	Total    int             `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
}

func parseDate(s string) (time.Time, error) {
	return time.ParseInLocation(dateLayout, s, time.UTC)
}
