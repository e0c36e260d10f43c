package transaction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tokokasir/backend/internal/bill"
	"tokokasir/backend/internal/discount"
	"tokokasir/backend/internal/domain"
	"tokokasir/backend/internal/events"
	"tokokasir/backend/internal/money"
	"tokokasir/backend/internal/payment"
	"tokokasir/backend/internal/pricing"
	"tokokasir/backend/internal/store/memory"
)

var fixedNow = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

type sequence struct{ n int }

func (s *sequence) Next() string {
	s.n++
	return fmt.Sprintf("B-%03d", s.n)
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(_ context.Context, e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) byKind(k events.Kind) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, e := range r.events {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

type flakyReceipts struct {
	fail    bool
	written []domain.BillRecord
}

func (f *flakyReceipts) Write(_ context.Context, rec domain.BillRecord) error {
	if f.fail {
		return errors.New("disk full")
	}
	f.written = append(f.written, rec)
	return nil
}

type countingLedger struct {
	*memory.Store
	commits int
}

func (c *countingLedger) CommitReservations(ctx context.Context, r []domain.Reservation) error {
	c.commits++
	return c.Store.CommitReservations(ctx, r)
}

type fixture struct {
	store    *memory.Store
	ledger   *countingLedger
	receipts *flakyReceipts
	events   *recorder
	ctrl     *Controller
}

func date(days int) *time.Time {
	d := fixedNow.AddDate(0, 0, days)
	return &d
}

func newFixture(t *testing.T, policy discount.Policy, configure func(*Config)) *fixture {
	t.Helper()
	s := memory.New()
	for _, it := range []struct {
		code, name, price string
		restock           int
	}{
		{"A", "Apel", "10.00", 1},
		{"B", "Beras", "2.50", 1},
		{"C", "Cokelat", "12.34", 0},
	} {
		item, err := domain.NewItem(it.code, it.name, money.MustParse(it.price), it.restock)
		require.NoError(t, err)
		s.PutItem(item)
	}
	s.AddBatch(domain.Batch{ItemCode: "A", ExpiryDate: date(30), QtyShelf: 4, QtyStore: 1})
	s.AddBatch(domain.Batch{ItemCode: "A", ExpiryDate: date(5), QtyShelf: 3})
	s.AddBatch(domain.Batch{ItemCode: "B", QtyShelf: 5, QtyStore: 5})
	s.AddBatch(domain.Batch{ItemCode: "C", ExpiryDate: date(-1), QtyShelf: 1})
	s.AddBatch(domain.Batch{ItemCode: "C", ExpiryDate: date(60), QtyShelf: 2})

	engine, err := pricing.New(decimal.Zero, policy)
	require.NoError(t, err)

	f := &fixture{
		store:    s,
		ledger:   &countingLedger{Store: s},
		receipts: &flakyReceipts{},
		events:   &recorder{},
	}
	cfg := Config{
		Items:    s,
		Ledger:   f.ledger,
		Bills:    s,
		Receipts: f.receipts,
		Payments: payment.DefaultRegistry(payment.DefaultMaxCashTender),
		Pricing:  engine,
		Events:   f.events,
		Numbers:  &sequence{},
		Clock:    func() time.Time { return fixedNow },
		Logger:   zap.NewNop(),
		Operator: "cashier",
	}
	if configure != nil {
		configure(&cfg)
	}
	f.ctrl, err = New(cfg)
	require.NoError(t, err)
	return f
}

func cash(amount string) payment.Request {
	return payment.Cash{Tendered: money.MustParse(amount)}
}

func TestEmptyControllerOnlyAcceptsAddItem(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	assert.ErrorIs(t, f.ctrl.RemoveItem(ctx, "A"), domain.ErrIllegalState)
	_, err := f.ctrl.ProcessPayment(ctx, cash("1"))
	assert.ErrorIs(t, err, domain.ErrIllegalState)
	_, err = f.ctrl.Finalize(ctx)
	assert.ErrorIs(t, err, domain.ErrIllegalState)
	assert.Equal(t, Empty, f.ctrl.State())

	require.NoError(t, f.ctrl.AddItem(ctx, "a", 1))
	assert.Equal(t, Active, f.ctrl.State())
}

func TestRemovingLastLineReturnsToEmpty(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	require.NoError(t, f.ctrl.AddItem(ctx, "A", 2))
	require.NoError(t, f.ctrl.AddItem(ctx, "B", 1))
	require.NoError(t, f.ctrl.RemoveItem(ctx, "A"))
	assert.Equal(t, Active, f.ctrl.State())

	assert.ErrorIs(t, f.ctrl.RemoveItem(ctx, "A"), domain.ErrNotFound)

	require.NoError(t, f.ctrl.RemoveItem(ctx, "b"))
	assert.Equal(t, Empty, f.ctrl.State())
	_, ok := f.ctrl.Snapshot()
	assert.False(t, ok)

	require.NoError(t, f.ctrl.AddItem(ctx, "A", 1))
	rec, ok := f.ctrl.Snapshot()
	require.True(t, ok)
	assert.Equal(t, "B-002", rec.Number, "a new bill is opened after emptying")
}

func TestFailedFirstAddStaysEmpty(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	assert.ErrorIs(t, f.ctrl.AddItem(ctx, "A", 8), domain.ErrInsufficientStock)
	assert.ErrorIs(t, f.ctrl.AddItem(ctx, "NOPE", 1), domain.ErrNotFound)
	assert.ErrorIs(t, f.ctrl.AddItem(ctx, "A", 0), domain.ErrValidation)
	assert.Equal(t, Empty, f.ctrl.State())
}

func TestAddItemAllocatesFEFOWithoutDoubleClaiming(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	require.NoError(t, f.ctrl.AddItem(ctx, "A", 4))
	rec, _ := f.ctrl.Snapshot()
	require.Len(t, rec.Lines, 1)
	require.Len(t, rec.Lines[0].Reservations, 2)
	assert.Equal(t, int64(2), rec.Lines[0].Reservations[0].BatchID)
	assert.Equal(t, 3, rec.Lines[0].Reservations[0].Qty)
	assert.Equal(t, int64(1), rec.Lines[0].Reservations[1].BatchID)

	require.NoError(t, f.ctrl.AddItem(ctx, "A", 3))
	assert.ErrorIs(t, f.ctrl.AddItem(ctx, "A", 1), domain.ErrInsufficientStock)

	rec, _ = f.ctrl.Snapshot()
	assert.Equal(t, 7, rec.Lines[0].Qty)

	b, err := f.store.GetBatch(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 4, b.QtyShelf, "allocation must not touch the ledger")
}

func TestSkipExpiredBatches(t *testing.T) {
	f := newFixture(t, nil, func(c *Config) { c.SkipExpired = true })
	ctx := context.Background()

	require.NoError(t, f.ctrl.AddItem(ctx, "C", 2))
	rec, _ := f.ctrl.Snapshot()
	assert.Equal(t, int64(5), rec.Lines[0].Reservations[0].BatchID)
	assert.ErrorIs(t, f.ctrl.AddItem(ctx, "C", 1), domain.ErrInsufficientStock)
}

func TestBogoCashCheckoutEndToEnd(t *testing.T) {
	f := newFixture(t, discount.Bogo{}, nil)
	ctx := context.Background()

	require.NoError(t, f.ctrl.AddItem(ctx, "A", 5))
	require.NoError(t, f.ctrl.AddItem(ctx, "B", 4))

	_, err := f.ctrl.Finalize(ctx)
	assert.ErrorIs(t, err, domain.ErrIllegalState, "finalize needs payment first")

	p, err := f.ctrl.ProcessPayment(ctx, cash("20.00"))
	require.NoError(t, err)
	assert.Equal(t, "CASH", p.Method)
	assert.Equal(t, "0.00", p.Change.String())
	assert.Equal(t, Paid, f.ctrl.State())

	totals, _, _ := f.ctrl.Quote(ctx)
	assert.Equal(t, "45.00", totals.Subtotal.String())
	assert.Equal(t, "25.00", totals.Discount.String())
	assert.Equal(t, "20.00", totals.Total.String())

	assert.ErrorIs(t, f.ctrl.AddItem(ctx, "A", 1), domain.ErrIllegalState)
	assert.ErrorIs(t, f.ctrl.RemoveItem(ctx, "A"), domain.ErrIllegalState)
	_, err = f.ctrl.ProcessPayment(ctx, cash("20.00"))
	assert.ErrorIs(t, err, domain.ErrIllegalState)

	rec, err := f.ctrl.Finalize(ctx)
	require.NoError(t, err)
	assert.Equal(t, Completed, f.ctrl.State())
	assert.Equal(t, "paid", rec.State)
	assert.Equal(t, "CASH", rec.Method)

	b1, _ := f.store.GetBatch(ctx, 1)
	b2, _ := f.store.GetBatch(ctx, 2)
	assert.Equal(t, 0, b2.QtyShelf)
	assert.Equal(t, 2, b1.QtyShelf)

	saved, err := f.store.GetBill(ctx, rec.Number)
	require.NoError(t, err)
	assert.Equal(t, "20.00", saved.Total.String())
	require.Len(t, f.receipts.written, 1)

	paid := f.events.byKind(events.KindBillPaid)
	require.Len(t, paid, 1)
	assert.Equal(t, "20.00", paid[0].Amount.String())

	restock := f.events.byKind(events.KindRestockThreshold)
	require.Len(t, restock, 1)
	assert.Equal(t, "B", restock[0].ItemCode)
	assert.Equal(t, 1, restock[0].Remaining)

	_, err = f.ctrl.Finalize(ctx)
	assert.ErrorIs(t, err, domain.ErrIllegalState)
	assert.ErrorIs(t, f.ctrl.AddItem(ctx, "A", 1), domain.ErrIllegalState)
}

func TestFullPercentageDiscountZeroesTotal(t *testing.T) {
	full, err := discount.NewPercentage(decimal.NewFromInt(100))
	require.NoError(t, err)
	f := newFixture(t, full, nil)
	ctx := context.Background()

	require.NoError(t, f.ctrl.AddItem(ctx, "C", 1))
	p, err := f.ctrl.ProcessPayment(ctx, payment.Card{Suffix: "1234", Tendered: money.Zero})
	require.NoError(t, err)
	assert.Equal(t, "0.00", p.Paid.String())

	totals, _, _ := f.ctrl.Quote(ctx)
	assert.Equal(t, "12.34", totals.Discount.String())
	assert.Equal(t, "0.00", totals.Total.String())
}

func TestRejectedTenderKeepsBillOpen(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	require.NoError(t, f.ctrl.AddItem(ctx, "A", 2))
	_, err := f.ctrl.ProcessPayment(ctx, cash("19.99"))
	assert.ErrorIs(t, err, domain.ErrInsufficientPayment)
	_, err = f.ctrl.ProcessPayment(ctx, payment.Card{Suffix: "1234", Tendered: money.MustParse("25")})
	assert.ErrorIs(t, err, domain.ErrPaymentMismatch)
	_, err = f.ctrl.ProcessPayment(ctx, cash("0"))
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, Active, f.ctrl.State())
	assert.Empty(t, f.events.byKind(events.KindBillPaid))

	require.NoError(t, f.ctrl.AddItem(ctx, "B", 1))
	p, err := f.ctrl.ProcessPayment(ctx, cash("25"))
	require.NoError(t, err)
	assert.Equal(t, "2.50", p.Change.String())
}

func TestCommitRevalidatesStock(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	require.NoError(t, f.ctrl.AddItem(ctx, "A", 7))
	_, err := f.ctrl.ProcessPayment(ctx, cash("70"))
	require.NoError(t, err)

	require.NoError(t, f.store.CommitReservations(ctx, []domain.Reservation{{BatchID: 2, ItemCode: "A", Pool: domain.PoolShelf, Qty: 1}}))

	_, err = f.ctrl.Finalize(ctx)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Equal(t, Paid, f.ctrl.State())

	b1, _ := f.store.GetBatch(ctx, 1)
	assert.Equal(t, 4, b1.QtyShelf, "failed commit leaves the ledger untouched")
}

func TestReceiptFailureRetryDoesNotCommitTwice(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	f.receipts.fail = true

	require.NoError(t, f.ctrl.AddItem(ctx, "B", 2))
	_, err := f.ctrl.ProcessPayment(ctx, cash("5"))
	require.NoError(t, err)

	_, err = f.ctrl.Finalize(ctx)
	require.Error(t, err)
	assert.Equal(t, Paid, f.ctrl.State())

	f.receipts.fail = false
	_, err = f.ctrl.Finalize(ctx)
	require.NoError(t, err)
	assert.Equal(t, Completed, f.ctrl.State())
	assert.Equal(t, 1, f.ledger.commits)

	b, _ := f.store.GetBatch(ctx, 3)
	assert.Equal(t, 3, b.QtyShelf)
}

func TestDepletedStockIsSignalled(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	require.NoError(t, f.ctrl.AddItem(ctx, "C", 3))
	_, err := f.ctrl.ProcessPayment(ctx, cash("37.02"))
	require.NoError(t, err)
	_, err = f.ctrl.Finalize(ctx)
	require.NoError(t, err)

	depleted := f.events.byKind(events.KindStockDepleted)
	require.Len(t, depleted, 1)
	assert.Equal(t, "C", depleted[0].ItemCode)
	assert.Empty(t, f.events.byKind(events.KindRestockThreshold))
}

func TestOnlineChannelSellsFromStorePool(t *testing.T) {
	f := newFixture(t, nil, func(c *Config) { c.Channel = domain.ChannelOnline })
	ctx := context.Background()

	require.NoError(t, f.ctrl.AddItem(ctx, "A", 1))
	assert.ErrorIs(t, f.ctrl.AddItem(ctx, "A", 1), domain.ErrInsufficientStock)

	rec, _ := f.ctrl.Snapshot()
	assert.Equal(t, domain.PoolStore, rec.Lines[0].Reservations[0].Pool)
	assert.Equal(t, domain.ChannelOnline, rec.Channel)
}

func TestBatchDiscountsApplyAtPayment(t *testing.T) {
	f := newFixture(t, nil, func(c *Config) { c.BatchDiscounts = true })
	ctx := context.Background()

	_, err := f.store.SaveBatchDiscount(ctx, domain.BatchDiscountRecord{
		BatchID:   2,
		Type:      "PERCENTAGE",
		Percent:   "50",
		ValidFrom: fixedNow.AddDate(0, 0, -1),
		Active:    true,
	})
	require.NoError(t, err)

	require.NoError(t, f.ctrl.AddItem(ctx, "A", 4))
	_, err = f.ctrl.ProcessPayment(ctx, payment.Card{Suffix: "9999", Tendered: money.MustParse("25.00")})
	require.NoError(t, err)

	totals, _, _ := f.ctrl.Quote(ctx)
	assert.Equal(t, "15.00", totals.Discount.String())
	assert.Equal(t, "BATCH", totals.DiscountCode)
}

func TestQuoteMatchesChargedTotalWithBatchDiscounts(t *testing.T) {
	f := newFixture(t, nil, func(c *Config) { c.BatchDiscounts = true })
	ctx := context.Background()

	_, err := f.store.SaveBatchDiscount(ctx, domain.BatchDiscountRecord{
		BatchID:   2,
		Type:      "PERCENTAGE",
		Percent:   "50",
		ValidFrom: fixedNow.AddDate(0, 0, -1),
		Active:    true,
	})
	require.NoError(t, err)
	require.NoError(t, f.ctrl.AddItem(ctx, "A", 4))

	quoted, ok, err := f.ctrl.Quote(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "25.00", quoted.Total.String())
	assert.Equal(t, "BATCH", quoted.DiscountCode)

	p, err := f.ctrl.ProcessPayment(ctx, payment.Card{Suffix: "4321", Tendered: quoted.Total})
	require.NoError(t, err)
	assert.Equal(t, quoted.Total.String(), p.Paid.String())

	settled, _, err := f.ctrl.Quote(ctx)
	require.NoError(t, err)
	assert.Equal(t, quoted.Total.String(), settled.Total.String())
	assert.Equal(t, quoted.Discount.String(), settled.Discount.String())
}

func TestQuoteWithoutBillIsEmpty(t *testing.T) {
	f := newFixture(t, nil, nil)

	_, ok, err := f.ctrl.Quote(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLineKeepsPriceFromAddTime(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	require.NoError(t, f.ctrl.AddItem(ctx, "A", 2))
	repriced, err := domain.NewItem("A", "Apel", money.MustParse("99.00"), 1)
	require.NoError(t, err)
	f.store.PutItem(repriced)

	totals, _, err := f.ctrl.Quote(ctx)
	require.NoError(t, err)
	assert.Equal(t, "20.00", totals.Total.String())

	_, err = f.ctrl.ProcessPayment(ctx, cash("20.00"))
	require.NoError(t, err)
	rec, err := f.ctrl.Finalize(ctx)
	require.NoError(t, err)
	require.Len(t, rec.Lines, 1)
	assert.Equal(t, "10.00", rec.Lines[0].UnitPrice.String())
	assert.Equal(t, "20.00", rec.Total.String())
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestStateNames(t *testing.T) {
	assert.Equal(t, "completed", Completed.String())
	assert.Equal(t, bill.Paid.String(), Paid.String())
}
