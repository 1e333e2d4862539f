package service_test

import (
	"context"
	"testing"

	"car-rental-backend/internal/domain"
	"car-rental-backend/internal/gateway"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestPenaltyService_WaivePenalty(t *testing.T) {
	ctx := context.Background()

	t.Run("Partial waiver refunds the paid penalty", func(t *testing.T) {
		f := newFixture(t)
		r := f.returnedLate(t)
		f.gw.On("Refund", mock.Anything, mock.MatchedBy(func(req gateway.RefundRequest) bool {
			return req.TransactionID == "pen-1" && req.Amount.Equal(amount("4.00"))
		})).Return(&gateway.Response{TransactionID: "ref-9", Status: "partial_refund"}, nil).Once()

		w, err := f.penalties.WaivePenalty(ctx, admin, r.ID, amount("4.00"), "traffic accident on toll road")
		require.NoError(t, err)
		assert.True(t, w.OriginalPenalty.Equal(amount("10.00")))
		assert.True(t, w.WaivedAmount.Equal(amount("4.00")))
		assert.True(t, w.RemainingPenalty.Equal(amount("6.00")))
		assert.Equal(t, admin.UserID, w.AdminID)
		assert.True(t, w.RefundInitiated)
		assert.Equal(t, "ref-9", w.RefundTransactionID)

		assert.True(t, f.store.rental(t, r.ID).OutstandingPenalty().Equal(amount("6.00")))
		penalties := f.store.paymentsOf(r.ID, domain.PaymentMethodPenalty)
		require.Len(t, penalties, 1)
		assert.Equal(t, domain.PaymentStatusCaptured, penalties[0].Status)
		assert.True(t, penalties[0].RefundedAmount.Equal(amount("4.00")))
		assert.Contains(t, f.events.types(), domain.EventPenaltyWaived)
		f.gw.AssertNumberOfCalls(t, "Refund", 1)
	})

	t.Run("Two partial waivers then nothing is left", func(t *testing.T) {
		f := newFixture(t)
		r := f.returnedLate(t)
		f.gw.On("Refund", mock.Anything, mock.Anything).
			Return(&gateway.Response{TransactionID: "ref", Status: "refund"}, nil).Twice()

		_, err := f.penalties.WaivePenalty(ctx, admin, r.ID, amount("4.00"), "first")
		require.NoError(t, err)
		w, err := f.penalties.WaiveFullPenalty(ctx, admin, r.ID, "second")
		require.NoError(t, err)
		assert.True(t, w.WaivedAmount.Equal(amount("6.00")))
		assert.True(t, w.RemainingPenalty.IsZero())

		penalties := f.store.paymentsOf(r.ID, domain.PaymentMethodPenalty)
		assert.Equal(t, domain.PaymentStatusRefunded, penalties[0].Status)

		_, err = f.penalties.WaiveFullPenalty(ctx, admin, r.ID, "third")
		assert.ErrorIs(t, err, domain.ErrNoPenalty)

		history, err := f.penalties.GetPenaltyHistory(ctx, customer, r.ID)
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, "first", history[0].Reason)
		assert.Equal(t, "second", history[1].Reason)
	})

	t.Run("Unpaid penalty is waived without a refund", func(t *testing.T) {
		f := newFixture(t)
		r := f.returnedLate(t)
		stored := f.store.rental(t, r.ID)
		stored.PenaltyPaid = false
		f.store.rentals[r.ID] = *stored

		w, err := f.penalties.WaiveFullPenalty(ctx, admin, r.ID, "goodwill")
		require.NoError(t, err)
		assert.False(t, w.RefundInitiated)
		f.gw.AssertNotCalled(t, "Refund", mock.Anything, mock.Anything)
	})

	t.Run("Refund failure keeps the waiver and asks for follow-up", func(t *testing.T) {
		f := newFixture(t)
		r := f.returnedLate(t)
		f.gw.On("Refund", mock.Anything, mock.Anything).
			Return(nil, &gateway.Error{StatusCode: 409, Message: "refund not allowed"}).Once()

		w, err := f.penalties.WaivePenalty(ctx, admin, r.ID, amount("10.00"), "system error")
		assert.ErrorIs(t, err, domain.ErrRefundFailed)
		require.NotNil(t, w)
		assert.False(t, w.RefundInitiated)
		assert.True(t, f.store.rental(t, r.ID).OutstandingPenalty().IsZero())

		penalties := f.store.paymentsOf(r.ID, domain.PaymentMethodPenalty)
		assert.Equal(t, domain.PaymentStatusCaptured, penalties[0].Status)
		assert.Contains(t, penalties[0].FailureReason, "refund not allowed")
		assert.Contains(t, f.events.types(), domain.EventPaymentEscalated)
	})

	invalid := []struct {
		name    string
		amount  string
		reason  string
		wantErr error
	}{
		{name: "Zero amount", amount: "0", reason: "x", wantErr: domain.ErrInvalidWaiver},
		{name: "Negative amount", amount: "-1", reason: "x", wantErr: domain.ErrInvalidWaiver},
		{name: "More than outstanding", amount: "10.01", reason: "x", wantErr: domain.ErrInvalidWaiver},
		{name: "Blank reason", amount: "1", reason: "  ", wantErr: domain.ErrInvalidWaiver},
	}
	for _, tc := range invalid {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			r := f.returnedLate(t)
			_, err := f.penalties.WaivePenalty(ctx, admin, r.ID, amount(tc.amount), tc.reason)
			assert.ErrorIs(t, err, tc.wantErr)
			assert.True(t, f.store.rental(t, r.ID).OutstandingPenalty().Equal(amount("10.00")))
			assert.Empty(t, f.store.waivers)
		})
	}

	t.Run("Customers cannot waive", func(t *testing.T) {
		f := newFixture(t)
		r := f.returnedLate(t)
		_, err := f.penalties.WaivePenalty(ctx, customer, r.ID, amount("1"), "please")
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})

	t.Run("Penalties are only waived after return", func(t *testing.T) {
		f := newFixture(t)
		r := f.pickedUp(t)
		_, err := f.penalties.WaiveFullPenalty(ctx, admin, r.ID, "early")
		assert.ErrorIs(t, err, domain.ErrNoPenalty)
	})

	t.Run("On-time returns have nothing to waive", func(t *testing.T) {
		f := newFixture(t)
		r := f.pickedUp(t)
		_, err := f.rentals.ReturnRental(ctx, admin, r.ID, "")
		require.NoError(t, err)
		_, err = f.penalties.WaiveFullPenalty(ctx, admin, r.ID, "nothing")
		assert.ErrorIs(t, err, domain.ErrNoPenalty)
	})

	t.Run("Strangers cannot read the history", func(t *testing.T) {
		f := newFixture(t)
		r := f.returnedLate(t)
		_, err := f.penalties.GetPenaltyHistory(ctx, stranger, r.ID)
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})
}
