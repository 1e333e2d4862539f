package http

import (
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"time"

	"car-rental-backend/internal/domain"
	"car-rental-backend/internal/gateway"
	"car-rental-backend/internal/logger"
	"car-rental-backend/internal/pkg/clock"
	"car-rental-backend/internal/repository"

	"github.com/shopspring/decimal"
)

// Midtrans reports transaction_time in Western Indonesia Time.
var gatewayZone = time.FixedZone("WIB", 7*60*60)

const gatewayTimeLayout = "2006-01-02 15:04:05"

// gatewayNotification is the HTTP notification body sent by Midtrans.
type gatewayNotification struct {
	TransactionID     string `json:"transaction_id"`
	OrderID           string `json:"order_id"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	Currency          string `json:"currency"`
	TransactionStatus string `json:"transaction_status"`
	TransactionTime   string `json:"transaction_time"`
	SignatureKey      string `json:"signature_key"`
}

// WebhookHandler mirrors gateway notifications into the settlement table
// read by reconciliation.
type WebhookHandler struct {
	settlements repository.SettlementRepository
	serverKey   string
	clock       clock.Clock
}

func NewWebhookHandler(settlements repository.SettlementRepository, serverKey string, clk clock.Clock) *WebhookHandler {
	return &WebhookHandler{
		settlements: settlements,
		serverKey:   serverKey,
		clock:       clk,
	}
}

func (h *WebhookHandler) HandleNotification(w http.ResponseWriter, r *http.Request) {
	var n gatewayNotification
	dec := jsonDecoder(w, r)
	if err := dec.Decode(&n); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid notification body")
		return
	}
	log := logger.WithService("gateway-webhook").With("orderID", n.OrderID, "status", n.TransactionStatus)

	if h.serverKey == "" {
		log.Error("Gateway server key not configured")
		writeMessage(w, http.StatusInternalServerError, "server configuration error")
		return
	}
	if !h.validSignature(n) {
		log.Warn("Gateway notification signature mismatch")
		writeMessage(w, http.StatusUnauthorized, "invalid signature")
		return
	}
	if n.TransactionID == "" {
		writeMessage(w, http.StatusBadRequest, "transaction_id is required")
		return
	}
	amount, err := decimal.NewFromString(n.GrossAmount)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid gross_amount")
		return
	}

	charge := &domain.SettledCharge{
		TransactionID: n.TransactionID,
		OrderID:       n.OrderID,
		Amount:        amount.Round(2),
		Currency:      n.Currency,
		Status:        gateway.NormalizeStatus(n.TransactionStatus),
		CreatedAt:     h.transactionTime(n.TransactionTime),
	}
	if err := h.settlements.Upsert(r.Context(), charge); err != nil {
		log.Error("Failed to record gateway notification", "error", err)
		writeMessage(w, http.StatusInternalServerError, "failed to record notification")
		return
	}
	log.Info("Gateway notification recorded", "transactionID", charge.TransactionID, "normalized", charge.Status)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// validSignature checks SHA512(order_id + status_code + gross_amount + server_key).
func (h *WebhookHandler) validSignature(n gatewayNotification) bool {
	sum := sha512.Sum512([]byte(n.OrderID + n.StatusCode + n.GrossAmount + h.serverKey))
	expected := hex.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(expected), []byte(n.SignatureKey)) == 1
}

func (h *WebhookHandler) transactionTime(s string) time.Time {
	t, err := time.ParseInLocation(gatewayTimeLayout, s, gatewayZone)
	if err != nil {
		return h.clock.Now().UTC()
	}
	return t.UTC()
}
