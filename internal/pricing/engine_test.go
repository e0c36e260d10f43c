package pricing

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokokasir/backend/internal/bill"
	"tokokasir/backend/internal/discount"
	"tokokasir/backend/internal/domain"
	"tokokasir/backend/internal/money"
)

func billWith(t *testing.T, lines ...bill.Line) *bill.Bill {
	t.Helper()
	b := bill.New("B-P", domain.ChannelPOS, "tester", time.Now())
	for _, l := range lines {
		l.Reservations = []domain.Reservation{{BatchID: 1, ItemCode: l.ItemCode, Pool: domain.PoolShelf, Qty: l.Qty}}
		require.NoError(t, b.AddLine(l))
	}
	return b
}

func TestFinalizeWithoutPolicy(t *testing.T) {
	engine, err := New(decimal.NewFromInt(11), nil)
	require.NoError(t, err)
	b := billWith(t, bill.Line{ItemCode: "A", UnitPrice: money.MustParse("3.33"), Qty: 3})

	totals, err := engine.Finalize(b)
	require.NoError(t, err)
	assert.Equal(t, "9.99", totals.Subtotal.String())
	assert.Equal(t, "0.00", totals.Discount.String())
	assert.Equal(t, "1.10", totals.Tax.String())
	assert.Equal(t, "11.09", totals.Total.String())
	assert.Equal(t, "11.09", b.Totals().Total.String())
}

func TestFinalizeAppliesDiscountBeforeTax(t *testing.T) {
	engine, err := New(decimal.NewFromInt(10), discount.Bogo{})
	require.NoError(t, err)
	b := billWith(t,
		bill.Line{ItemCode: "A", UnitPrice: money.MustParse("10.00"), Qty: 5},
		bill.Line{ItemCode: "B", UnitPrice: money.MustParse("2.50"), Qty: 4},
	)

	totals, err := engine.Finalize(b)
	require.NoError(t, err)
	assert.Equal(t, "45.00", totals.Subtotal.String())
	assert.Equal(t, "25.00", totals.Discount.String())
	assert.Equal(t, "BOGO", totals.DiscountCode)
	assert.Equal(t, "2.00", totals.Tax.String())
	assert.Equal(t, "22.00", totals.Total.String())
}

func TestFinalizeIsIdempotent(t *testing.T) {
	pct, err := discount.NewPercentage(decimal.RequireFromString("12.5"))
	require.NoError(t, err)
	engine, err := New(decimal.NewFromInt(7), pct)
	require.NoError(t, err)
	b := billWith(t, bill.Line{ItemCode: "A", UnitPrice: money.MustParse("19.99"), Qty: 2})

	first, err := engine.Finalize(b)
	require.NoError(t, err)
	second, err := engine.Finalize(b)
	require.NoError(t, err)
	assert.Equal(t, first.Total.String(), second.Total.String())
	assert.Equal(t, first.Tax.String(), second.Tax.String())
}

func TestFullDiscountZeroesTotal(t *testing.T) {
	full, err := discount.NewPercentage(decimal.NewFromInt(100))
	require.NoError(t, err)
	engine, err := New(decimal.Zero, full)
	require.NoError(t, err)
	b := billWith(t, bill.Line{ItemCode: "A", UnitPrice: money.MustParse("12.34"), Qty: 1})

	totals, err := engine.Finalize(b)
	require.NoError(t, err)
	assert.Equal(t, "12.34", totals.Discount.String())
	assert.Equal(t, "0.00", totals.Total.String())
}

func TestCompositeDiscountCanDriveTotalNegative(t *testing.T) {
	full, err := discount.NewPercentage(decimal.NewFromInt(100))
	require.NoError(t, err)
	engine, err := New(decimal.Zero, discount.NewComposite(full, discount.Bogo{}))
	require.NoError(t, err)
	b := billWith(t, bill.Line{ItemCode: "A", UnitPrice: money.MustParse("10.00"), Qty: 2})

	totals, err := engine.Finalize(b)
	require.NoError(t, err)
	assert.Equal(t, "-10.00", totals.Total.String())
}

func TestQuoteDoesNotWriteBill(t *testing.T) {
	engine, err := New(decimal.Zero, nil)
	require.NoError(t, err)
	b := billWith(t, bill.Line{ItemCode: "A", UnitPrice: money.MustParse("1.00"), Qty: 1})

	assert.Equal(t, "1.00", engine.Quote(b).Total.String())
	assert.True(t, b.Totals().Total.IsZero())
}

func TestNewRejectsBadTaxRate(t *testing.T) {
	_, err := New(decimal.NewFromInt(-1), nil)
	assert.True(t, errors.Is(err, domain.ErrValidation))
	_, err = New(decimal.NewFromInt(101), nil)
	assert.True(t, errors.Is(err, domain.ErrValidation))
}
