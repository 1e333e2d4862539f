package gateway

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"car-rental-backend/internal/domain"
	"car-rental-backend/internal/pkg/errs"

	"github.com/shopspring/decimal"

	"github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
	"github.com/midtrans/midtrans-go/snap"
)

// Midtrans talks to the Midtrans Core API for card authorization, capture and
// refund, and to Snap for hosted checkout.
type Midtrans struct {
	serverKey string
	env       midtrans.EnvironmentType
}

func NewMidtrans(serverKey, environment string) *Midtrans {
	env := midtrans.Sandbox
	if environment == "production" {
		env = midtrans.Production
	}
	return &Midtrans{serverKey: serverKey, env: env}
}

// core returns a client scoped to one call so the idempotency key option is
// not shared between goroutines.
func (m *Midtrans) core(ctx context.Context, idempotencyKey string) *coreapi.Client {
	var c coreapi.Client
	c.New(m.serverKey, m.env)
	opts := &midtrans.ConfigOptions{}
	opts.SetPaymentIdempotencyKey(idempotencyKey)
	opts.SetContext(ctx)
	c.Options = opts
	return &c
}

// midtransCurrency is the only currency Midtrans settles in. It has no minor
// unit, so every amount sent must be whole.
const midtransCurrency = "IDR"

// wholeAmount converts an amount to the integer Midtrans expects. Fractional
// amounts and other currencies are refused as a permanent 400 marked
// domain.ErrInvalidAmount.
func wholeAmount(amount decimal.Decimal, currency string) (int64, error) {
	if currency != "" && !strings.EqualFold(currency, midtransCurrency) {
		return 0, errs.Mark(&Error{StatusCode: 400, Message: "midtrans does not settle " + currency}, domain.ErrInvalidAmount)
	}
	if !amount.Equal(amount.Truncate(0)) {
		return 0, errs.Mark(&Error{StatusCode: 400, Message: "midtrans amounts have no minor unit, got " + amount.String()}, domain.ErrInvalidAmount)
	}
	return amount.IntPart(), nil
}

func (m *Midtrans) Authorize(ctx context.Context, req AuthorizeRequest) (*Response, error) {
	gross, err := wholeAmount(req.Amount, req.Currency)
	if err != nil {
		return nil, err
	}
	resp, mErr := m.core(ctx, req.IdempotencyKey).ChargeTransaction(&coreapi.ChargeReq{
		PaymentType: coreapi.PaymentTypeCreditCard,
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  req.OrderID,
			GrossAmt: gross,
		},
		CreditCard: &coreapi.CreditCardDetails{
			TokenID:        req.CustomerRef,
			Authentication: false,
			Type:           "authorize",
		},
	})
	if mErr != nil {
		return nil, translateError(mErr)
	}
	if err := checkStatus(resp.StatusCode, resp.StatusMessage); err != nil {
		return nil, err
	}
	return &Response{TransactionID: resp.TransactionID, Status: resp.TransactionStatus, Raw: marshalRaw(resp)}, nil
}

func (m *Midtrans) Capture(ctx context.Context, req CaptureRequest) (*Response, error) {
	gross, err := wholeAmount(req.Amount, "")
	if err != nil {
		return nil, err
	}
	resp, mErr := m.core(ctx, req.IdempotencyKey).CaptureTransaction(&coreapi.CaptureReq{
		TransactionID: req.TransactionID,
		GrossAmt:      float64(gross),
	})
	if mErr != nil {
		return nil, translateError(mErr)
	}
	if err := checkStatus(resp.StatusCode, resp.StatusMessage); err != nil {
		return nil, err
	}
	txn := resp.TransactionID
	if txn == "" {
		txn = req.TransactionID
	}
	return &Response{TransactionID: txn, Status: resp.TransactionStatus, Raw: marshalRaw(resp)}, nil
}

func (m *Midtrans) Refund(ctx context.Context, req RefundRequest) (*Response, error) {
	amount, err := wholeAmount(req.Amount, "")
	if err != nil {
		return nil, err
	}
	resp, mErr := m.core(ctx, req.IdempotencyKey).RefundTransaction(req.TransactionID, &coreapi.RefundReq{
		RefundKey: req.IdempotencyKey,
		Amount:    amount,
		Reason:    req.Reason,
	})
	if mErr != nil {
		return nil, translateError(mErr)
	}
	if err := checkStatus(resp.StatusCode, resp.StatusMessage); err != nil {
		return nil, err
	}
	return &Response{TransactionID: req.TransactionID, Status: resp.TransactionStatus, Raw: marshalRaw(resp)}, nil
}

func (m *Midtrans) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	gross, err := wholeAmount(req.Amount, req.Currency)
	if err != nil {
		return nil, err
	}
	var s snap.Client
	s.New(m.serverKey, m.env)
	opts := &midtrans.ConfigOptions{}
	opts.SetPaymentIdempotencyKey(req.IdempotencyKey)
	opts.SetContext(ctx)
	s.Options = opts

	resp, mErr := s.CreateTransaction(&snap.Request{
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  req.OrderID,
			GrossAmt: gross,
		},
		CreditCard: &snap.CreditCardDetails{
			Secure: true,
		},
		Items: &[]midtrans.ItemDetails{
			{
				ID:    req.OrderID,
				Price: gross,
				Qty:   1,
				Name:  req.Description,
			},
		},
		EnabledPayments: snap.AllSnapPaymentType,
	})
	if mErr != nil {
		return nil, translateError(mErr)
	}
	return &CheckoutSession{OrderID: req.OrderID, Token: resp.Token, RedirectURL: resp.RedirectURL}, nil
}

func translateError(mErr *midtrans.Error) error {
	return &Error{StatusCode: mErr.StatusCode, Message: mErr.Message}
}

// checkStatus turns a non-2xx status carried in a response body into an Error.
// Midtrans reports card denials as 202.
func checkStatus(statusCode, message string) error {
	code, err := strconv.Atoi(statusCode)
	if err != nil || statusCode == "" {
		return nil
	}
	switch {
	case code == 202:
		return &Error{StatusCode: 402, Message: message}
	case code >= 300:
		return &Error{StatusCode: code, Message: message}
	}
	return nil
}

func marshalRaw(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
