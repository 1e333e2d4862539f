package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"car-rental-backend/internal/domain"
	"car-rental-backend/internal/service"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

const maxBodyBytes = 1 << 20

type RentalHandler struct {
	rentals   service.RentalService
	penalties service.PenaltyService
}

func NewRentalHandler(rentals service.RentalService, penalties service.PenaltyService) *RentalHandler {
	return &RentalHandler{rentals: rentals, penalties: penalties}
}

type requestRentalBody struct {
	CarID       int64  `json:"car_id"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
	CustomerRef string `json:"payment_method_token"`
}

type noteBody struct {
	Note string `json:"note"`
}

type cancelBody struct {
	Reason string `json:"reason"`
}

type waiveBody struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
}

func (h *RentalHandler) RequestRental(w http.ResponseWriter, r *http.Request) {
	var body requestRentalBody
	if !decodeBody(w, r, &body) {
		return
	}
	if body.CarID <= 0 {
		writeMessage(w, http.StatusBadRequest, "car_id is required")
		return
	}
	start, err := parseDate(body.StartDate)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "start_date must be YYYY-MM-DD")
		return
	}
	end, err := parseDate(body.EndDate)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "end_date must be YYYY-MM-DD")
		return
	}

	res, err := h.rentals.RequestRental(r.Context(), CallerFromContext(r.Context()), service.RentalRequest{
		CarID:       body.CarID,
		StartDate:   start,
		EndDate:     end,
		CustomerRef: body.CustomerRef,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, mapTransition(res))
}

func (h *RentalHandler) GetRental(w http.ResponseWriter, r *http.Request) {
	id, ok := rentalID(w, r)
	if !ok {
		return
	}
	rental, err := h.rentals.GetRental(r.Context(), CallerFromContext(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rental)
}

func (h *RentalHandler) ListRentals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.RentalFilter{
		Status: domain.RentalStatus(q.Get("status")),
	}
	var err error
	if filter.UserID, err = queryInt(q.Get("user_id")); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid user_id")
		return
	}
	if filter.CarID, err = queryInt(q.Get("car_id")); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid car_id")
		return
	}
	page, err := queryInt(q.Get("page"))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid page")
		return
	}
	size, err := queryInt(q.Get("page_size"))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid page_size")
		return
	}
	filter.Page, filter.PageSize = int(page), int(size)
	filter = filter.Normalize()

	rentals, total, err := h.rentals.ListRentals(r.Context(), CallerFromContext(r.Context()), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rentals == nil {
		rentals = []domain.Rental{}
	}
	writeJSON(w, http.StatusOK, rentalListResponse{
		Rentals:  rentals,
		Total:    total,
		Page:     filter.Page,
		PageSize: filter.PageSize,
	})
}

func (h *RentalHandler) ConfirmRental(w http.ResponseWriter, r *http.Request) {
	id, ok := rentalID(w, r)
	if !ok {
		return
	}
	res, err := h.rentals.ConfirmRental(r.Context(), CallerFromContext(r.Context()), id)
	h.writeTransition(w, r, res, err)
}

func (h *RentalHandler) PickupRental(w http.ResponseWriter, r *http.Request) {
	id, ok := rentalID(w, r)
	if !ok {
		return
	}
	var body noteBody
	if !decodeOptionalBody(w, r, &body) {
		return
	}
	res, err := h.rentals.PickupRental(r.Context(), CallerFromContext(r.Context()), id, body.Note)
	h.writeTransition(w, r, res, err)
}

func (h *RentalHandler) ReturnRental(w http.ResponseWriter, r *http.Request) {
	id, ok := rentalID(w, r)
	if !ok {
		return
	}
	var body noteBody
	if !decodeOptionalBody(w, r, &body) {
		return
	}
	res, err := h.rentals.ReturnRental(r.Context(), CallerFromContext(r.Context()), id, body.Note)
	h.writeTransition(w, r, res, err)
}

func (h *RentalHandler) CancelRental(w http.ResponseWriter, r *http.Request) {
	id, ok := rentalID(w, r)
	if !ok {
		return
	}
	var body cancelBody
	if !decodeOptionalBody(w, r, &body) {
		return
	}
	res, err := h.rentals.CancelRental(r.Context(), CallerFromContext(r.Context()), id, body.Reason)
	h.writeTransition(w, r, res, err)
}

func (h *RentalHandler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	id, ok := rentalID(w, r)
	if !ok {
		return
	}
	session, err := h.rentals.CreateCheckoutSession(r.Context(), CallerFromContext(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (h *RentalHandler) ListPayments(w http.ResponseWriter, r *http.Request) {
	id, ok := rentalID(w, r)
	if !ok {
		return
	}
	payments, err := h.rentals.ListPayments(r.Context(), CallerFromContext(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if payments == nil {
		payments = []domain.Payment{}
	}
	writeJSON(w, http.StatusOK, payments)
}

func (h *RentalHandler) PaymentAudit(w http.ResponseWriter, r *http.Request) {
	id, ok := rentalID(w, r)
	if !ok {
		return
	}
	attempts, err := h.rentals.PaymentAudit(r.Context(), CallerFromContext(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if attempts == nil {
		attempts = []domain.PaymentAttempt{}
	}
	writeJSON(w, http.StatusOK, attempts)
}

func (h *RentalHandler) WaivePenalty(w http.ResponseWriter, r *http.Request) {
	id, ok := rentalID(w, r)
	if !ok {
		return
	}
	var body waiveBody
	if !decodeBody(w, r, &body) {
		return
	}
	waiver, err := h.penalties.WaivePenalty(r.Context(), CallerFromContext(r.Context()), id, body.Amount, body.Reason)
	h.writeWaiver(w, r, waiver, err)
}

func (h *RentalHandler) WaiveFullPenalty(w http.ResponseWriter, r *http.Request) {
	id, ok := rentalID(w, r)
	if !ok {
		return
	}
	var body cancelBody
	if !decodeBody(w, r, &body) {
		return
	}
	waiver, err := h.penalties.WaiveFullPenalty(r.Context(), CallerFromContext(r.Context()), id, body.Reason)
	h.writeWaiver(w, r, waiver, err)
}

func (h *RentalHandler) PenaltyHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := rentalID(w, r)
	if !ok {
		return
	}
	history, err := h.penalties.GetPenaltyHistory(r.Context(), CallerFromContext(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if history == nil {
		history = []domain.PenaltyWaiver{}
	}
	writeJSON(w, http.StatusOK, history)
}

func (h *RentalHandler) writeTransition(w http.ResponseWriter, r *http.Request, res *service.TransitionResult, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapTransition(res))
}

// writeWaiver reports a waiver whose refund failed as accepted: the waiver
// stands and the refund is left to an operator.
func (h *RentalHandler) writeWaiver(w http.ResponseWriter, r *http.Request, waiver *domain.PenaltyWaiver, err error) {
	if err != nil && waiver == nil {
		writeError(w, r, err)
		return
	}
	if err != nil {
		writeJSON(w, http.StatusAccepted, struct {
			*domain.PenaltyWaiver
			RefundError string `json:"refund_error"`
		}{waiver, err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, waiver)
}

func rentalID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		writeMessage(w, http.StatusBadRequest, "invalid rental id")
		return 0, false
	}
	return id, true
}

func queryInt(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := jsonDecoder(w, r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func jsonDecoder(w http.ResponseWriter, r *http.Request) *json.Decoder {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
}

// decodeOptionalBody accepts an empty body for operations whose fields are
// all optional.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	return decodeBody(w, r, v)
}
