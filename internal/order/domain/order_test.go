package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOrder(status OrderStatus) *Order {
	return &Order{
		OrderID:        "ORD-1",
		UserID:         "U-1",
		LotID:          "LOT-1",
		Round:          1,
		Quantity:       2,
		Amount:         decimal.NewFromInt(20),
		Status:         status,
		IdempotencyKey: "chk-1",
	}
}

func TestOrderLifecycle(t *testing.T) {
	o := newOrder(StatusCreated)

	require.NoError(t, o.MarkPaid("LGR-1"))
	assert.Equal(t, StatusPaid, o.Status)
	assert.Equal(t, "LGR-1", o.PaymentEntryID)

	require.NoError(t, o.Complete())
	assert.Equal(t, StatusCompleted, o.Status)
	assert.True(t, o.IsTerminal())
}

func TestOrderRefundPath(t *testing.T) {
	o := newOrder(StatusCreated)
	require.NoError(t, o.MarkPaid("LGR-1"))

	require.NoError(t, o.Refund("LGR-2"))
	assert.Equal(t, StatusRefunded, o.Status)
	assert.Equal(t, "LGR-2", o.RefundEntryID)
}

func TestOrderTransitionRequiresLedgerAnchor(t *testing.T) {
	o := newOrder(StatusCreated)
	assert.ErrorIs(t, o.MarkPaid(""), ErrMissingLedgerAnchor)
	assert.Equal(t, StatusCreated, o.Status)

	require.NoError(t, o.MarkPaid("LGR-1"))
	assert.ErrorIs(t, o.Refund(""), ErrMissingLedgerAnchor)
	assert.Equal(t, StatusPaid, o.Status)
}

func TestOrderIllegalTransitions(t *testing.T) {
	assert.ErrorIs(t, newOrder(StatusCreated).Complete(), ErrInvalidOrderTransition)
	assert.ErrorIs(t, newOrder(StatusCreated).Refund("LGR-1"), ErrInvalidOrderTransition)
	assert.ErrorIs(t, newOrder(StatusPaid).Cancel(), ErrInvalidOrderTransition)
	assert.ErrorIs(t, newOrder(StatusPaid).MarkPaid("LGR-1"), ErrInvalidOrderTransition)
	assert.ErrorIs(t, newOrder(StatusCompleted).Refund("LGR-1"), ErrInvalidOrderTransition)
	assert.ErrorIs(t, newOrder(StatusRefunded).Complete(), ErrInvalidOrderTransition)
	assert.ErrorIs(t, newOrder(StatusCancelled).MarkPaid("LGR-1"), ErrInvalidOrderTransition)
}
