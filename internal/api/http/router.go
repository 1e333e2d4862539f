package http

import (
	"context"
	"net/http"
	"time"

	"car-rental-backend/internal/config"
	"car-rental-backend/internal/security"

	"github.com/gorilla/mux"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Handlers bundles everything the router serves.
type Handlers struct {
	Rentals *RentalHandler
	Admin   *AdminHandler
	Webhook *WebhookHandler
	Metrics http.Handler
	DB      Pinger
}

// NewRouter registers every route under its security name.
func NewRouter(h Handlers, tm security.TokenManager) *mux.Router {
	router := mux.NewRouter()
	router.Use(RequestLogger, NewAuthMiddleware(tm).Handler)

	router.HandleFunc("/healthz", health(h.DB)).Methods(http.MethodGet).Name(config.RouteHealth)
	if h.Metrics != nil {
		router.Handle("/metrics", h.Metrics).Methods(http.MethodGet).Name(config.RouteMetrics)
	}

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/webhooks/gateway", h.Webhook.HandleNotification).Methods(http.MethodPost).Name(config.RouteGatewayWebhook)

	rentals := h.Rentals
	api.HandleFunc("/rentals", rentals.RequestRental).Methods(http.MethodPost).Name(config.RouteRequestRental)
	api.HandleFunc("/rentals", rentals.ListRentals).Methods(http.MethodGet).Name(config.RouteListRentals)
	api.HandleFunc("/rentals/{id:[0-9]+}", rentals.GetRental).Methods(http.MethodGet).Name(config.RouteGetRental)
	api.HandleFunc("/rentals/{id:[0-9]+}/confirm", rentals.ConfirmRental).Methods(http.MethodPost).Name(config.RouteConfirmRental)
	api.HandleFunc("/rentals/{id:[0-9]+}/pickup", rentals.PickupRental).Methods(http.MethodPost).Name(config.RoutePickupRental)
	api.HandleFunc("/rentals/{id:[0-9]+}/return", rentals.ReturnRental).Methods(http.MethodPost).Name(config.RouteReturnRental)
	api.HandleFunc("/rentals/{id:[0-9]+}/cancel", rentals.CancelRental).Methods(http.MethodPost).Name(config.RouteCancelRental)
	api.HandleFunc("/rentals/{id:[0-9]+}/checkout", rentals.CreateCheckoutSession).Methods(http.MethodPost).Name(config.RouteCheckout)
	api.HandleFunc("/rentals/{id:[0-9]+}/payments", rentals.ListPayments).Methods(http.MethodGet).Name(config.RouteListPayments)
	api.HandleFunc("/rentals/{id:[0-9]+}/payments/audit", rentals.PaymentAudit).Methods(http.MethodGet).Name(config.RoutePaymentAudit)
	api.HandleFunc("/rentals/{id:[0-9]+}/penalty/waive", rentals.WaivePenalty).Methods(http.MethodPost).Name(config.RouteWaivePenalty)
	api.HandleFunc("/rentals/{id:[0-9]+}/penalty/waive-full", rentals.WaiveFullPenalty).Methods(http.MethodPost).Name(config.RouteWaiveFullPenalty)
	api.HandleFunc("/rentals/{id:[0-9]+}/penalty/waivers", rentals.PenaltyHistory).Methods(http.MethodGet).Name(config.RoutePenaltyHistory)

	api.HandleFunc("/admin/reconciliation", h.Admin.RunReconciliation).Methods(http.MethodPost).Name(config.RouteRunReconciliation)
	api.HandleFunc("/admin/late-returns/detect", h.Admin.DetectLateReturns).Methods(http.MethodPost).Name(config.RouteDetectLateReturns)

	return router
}

func health(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "database": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
