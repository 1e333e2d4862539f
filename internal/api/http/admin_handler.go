package http

import (
	"net/http"

	"car-rental-backend/internal/domain"
	"car-rental-backend/internal/pkg/clock"
	"car-rental-backend/internal/service"
)

// AdminHandler exposes manual triggers for the scheduled jobs.
type AdminHandler struct {
	reconciliation service.ReconciliationService
	lateReturns    service.LateReturnService
	clock          clock.Clock
}

func NewAdminHandler(reconciliation service.ReconciliationService, lateReturns service.LateReturnService, clk clock.Clock) *AdminHandler {
	return &AdminHandler{
		reconciliation: reconciliation,
		lateReturns:    lateReturns,
		clock:          clk,
	}
}

// RunReconciliation reconciles ?date=YYYY-MM-DD, defaulting to yesterday.
func (h *AdminHandler) RunReconciliation(w http.ResponseWriter, r *http.Request) {
	if err := domain.RequireAdmin(CallerFromContext(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	date := clock.Today(h.clock).AddDate(0, 0, -1)
	if s := r.URL.Query().Get("date"); s != "" {
		d, err := parseDate(s)
		if err != nil {
			writeMessage(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		date = d
	}

	report, err := h.reconciliation.RunDailyReconciliation(r.Context(), date)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type detectionResponse struct {
	Scanned  int `json:"scanned"`
	Updated  int `json:"updated"`
	Notified int `json:"notified"`
	Failed   int `json:"failed"`
}

func (h *AdminHandler) DetectLateReturns(w http.ResponseWriter, r *http.Request) {
	if err := domain.RequireAdmin(CallerFromContext(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	summary, err := h.lateReturns.DetectLateReturns(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detectionResponse{
		Scanned:  summary.Scanned,
		Updated:  summary.Updated,
		Notified: summary.Notified,
		Failed:   summary.Failed,
	})
}
