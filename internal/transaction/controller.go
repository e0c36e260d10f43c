// Package transaction drives one checkout from first scanned item to stored
// receipt.
//
// The controller owns its bill and composes the bill's Draft/Paid machine:
// items are allocated FEFO against the ledger without mutating it, payment
// goes through the payment registry, and only Finalize touches stock.
package transaction

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"tokokasir/backend/internal/bill"
	"tokokasir/backend/internal/discount"
	"tokokasir/backend/internal/domain"
	"tokokasir/backend/internal/events"
	"tokokasir/backend/internal/fefo"
	"tokokasir/backend/internal/payment"
	"tokokasir/backend/internal/pricing"
	"tokokasir/backend/internal/receipt"
	"tokokasir/backend/internal/store"
)

type State int

const (
	Empty State = iota
	Active
	Paid
	Completed
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case Active:
		return "active"
	case Paid:
		return "paid"
	case Completed:
		return "completed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type operation int

const (
	opAddItem operation = iota
	opRemoveItem
	opProcessPayment
	opFinalize
)

func (o operation) String() string {
	return [...]string{"add item", "remove item", "process payment", "finalize"}[o]
}

var allowed = map[State]map[operation]bool{
	Empty:     {opAddItem: true},
	Active:    {opAddItem: true, opRemoveItem: true, opProcessPayment: true},
	Paid:      {opFinalize: true},
	Completed: {},
}

// BillNumbers issues bill numbers.
type BillNumbers interface {
	Next() string
}

type Payer interface {
	Pay(b *bill.Bill, pricer payment.Pricer, req payment.Request) (bill.Payment, error)
}

type Config struct {
	Items    store.ItemStore
	Ledger   store.Ledger
	Bills    store.BillStore
	Receipts receipt.Writer
	Payments Payer
	Pricing  *pricing.Engine
	Events   events.Publisher
	Numbers  BillNumbers
	Clock    func() time.Time
	Logger   *zap.Logger

	Channel  domain.Channel
	Operator string

	// BatchDiscounts adds active batch markdowns on reserved batches to the
	// pricing policy at payment time.
	BatchDiscounts bool
	// SkipExpired keeps batches past their expiry date out of allocation.
	SkipExpired bool
}

type Controller struct {
	cfg       Config
	logger    *zap.Logger
	state     State
	bill      *bill.Bill
	committed bool
	saved     bool
}

func New(cfg Config) (*Controller, error) {
	if cfg.Items == nil || cfg.Ledger == nil || cfg.Payments == nil || cfg.Pricing == nil || cfg.Numbers == nil {
		return nil, fmt.Errorf("%w: controller needs items, ledger, payments, pricing and bill numbers", domain.ErrValidation)
	}
	if cfg.Receipts == nil {
		cfg.Receipts = receipt.Discard{}
	}
	if cfg.Events == nil {
		cfg.Events = events.Discard{}
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Channel == "" {
		cfg.Channel = domain.ChannelPOS
	}
	return &Controller{
		cfg:    cfg,
		logger: cfg.Logger.Named("transaction").With(zap.String("channel", string(cfg.Channel))),
		state:  Empty,
	}, nil
}

func (c *Controller) State() State { return c.state }

func (c *Controller) Channel() domain.Channel { return c.cfg.Channel }

// Snapshot returns the current bill, if any.
func (c *Controller) Snapshot() (domain.BillRecord, bool) {
	if c.bill == nil {
		return domain.BillRecord{}, false
	}
	return c.bill.Record(), true
}

// Quote prices the open bill without finalizing it, with the same policies
// ProcessPayment charges by. A paid bill reports its settled totals.
func (c *Controller) Quote(ctx context.Context) (bill.Totals, bool, error) {
	if c.bill == nil {
		return bill.Totals{}, false, nil
	}
	if c.state != Active {
		return c.bill.Totals(), true, nil
	}
	engine, err := c.pricer(ctx)
	if err != nil {
		return bill.Totals{}, true, err
	}
	return engine.Quote(c.bill), true, nil
}

func (c *Controller) check(op operation) error {
	if !allowed[c.state][op] {
		return fmt.Errorf("%w: cannot %s while transaction is %s", domain.ErrIllegalState, op, c.state)
	}
	return nil
}

// AddItem reserves qty units of the item from the channel's sale pool and
// puts them on the bill, opening a bill first when there is none.
func (c *Controller) AddItem(ctx context.Context, code string, qty int) error {
	if err := c.check(opAddItem); err != nil {
		return err
	}
	code = normalizeCode(code)
	if code == "" {
		return fmt.Errorf("%w: item code is required", domain.ErrValidation)
	}
	if qty < 1 {
		return fmt.Errorf("%w: quantity must be positive, got %d", domain.ErrValidation, qty)
	}

	item, err := c.cfg.Items.GetItem(ctx, code)
	if err != nil {
		return fmt.Errorf("item %s: %w", code, err)
	}

	pool := c.cfg.Channel.SalePool()
	batches, err := c.cfg.Ledger.ListBatches(ctx, item.Code, pool)
	if err != nil {
		return fmt.Errorf("batches for %s: %w", item.Code, err)
	}
	if c.cfg.SkipExpired {
		batches = fefo.Unexpired(batches, c.cfg.Clock())
	}
	if c.bill != nil {
		batches = fefo.Net(batches, c.bill.Reservations())
	}

	reservations, err := fefo.Allocate(item.Code, qty, pool, batches)
	if err != nil {
		return err
	}

	b := c.bill
	if b == nil {
		b = bill.New(c.cfg.Numbers.Next(), c.cfg.Channel, c.cfg.Operator, c.cfg.Clock().UTC())
	}
	if err := b.AddLine(bill.Line{
		ItemCode:     item.Code,
		ItemName:     item.Name,
		UnitPrice:    item.UnitPrice,
		Qty:          qty,
		Reservations: reservations,
	}); err != nil {
		return err
	}

	if c.state == Empty {
		c.bill = b
		c.state = Active
		c.logger.Debug("bill opened", zap.String("bill", b.Number()))
	}
	return nil
}

// RemoveItem drops every line for the item. Removing the last line closes
// the bill and returns the controller to Empty.
func (c *Controller) RemoveItem(_ context.Context, code string) error {
	if err := c.check(opRemoveItem); err != nil {
		return err
	}
	if _, err := c.bill.RemoveLineByCode(normalizeCode(code)); err != nil {
		return err
	}
	if c.bill.IsEmpty() {
		c.logger.Debug("bill emptied", zap.String("bill", c.bill.Number()))
		c.bill = nil
		c.state = Empty
	}
	return nil
}

// ProcessPayment prices the bill and settles it with the requested tender.
// A rejected tender leaves the bill open for another attempt.
func (c *Controller) ProcessPayment(ctx context.Context, req payment.Request) (bill.Payment, error) {
	if err := c.check(opProcessPayment); err != nil {
		return bill.Payment{}, err
	}

	pricer, err := c.pricer(ctx)
	if err != nil {
		return bill.Payment{}, err
	}
	p, err := c.cfg.Payments.Pay(c.bill, pricer, req)
	if err != nil {
		return bill.Payment{}, err
	}
	c.bill.ApplyPayment(p)
	c.state = Paid

	totals := c.bill.Totals()
	c.logger.Info("bill paid",
		zap.String("bill", c.bill.Number()),
		zap.String("method", p.Method),
		zap.Stringer("total", totals.Total),
	)
	c.cfg.Events.Publish(ctx, events.Event{
		Kind:       events.KindBillPaid,
		At:         c.cfg.Clock().UTC(),
		BillNumber: c.bill.Number(),
		Channel:    c.cfg.Channel,
		Method:     p.Method,
		Amount:     totals.Total,
	})
	return p, nil
}

// Finalize commits the bill's reservations, stores the bill and its receipt
// and completes the transaction. When a later step fails the controller
// stays Paid and a retry resumes after the steps already done.
func (c *Controller) Finalize(ctx context.Context) (domain.BillRecord, error) {
	if err := c.check(opFinalize); err != nil {
		return domain.BillRecord{}, err
	}

	if !c.committed {
		if err := c.cfg.Ledger.CommitReservations(ctx, c.bill.Reservations()); err != nil {
			return domain.BillRecord{}, fmt.Errorf("commit bill %s: %w", c.bill.Number(), err)
		}
		c.committed = true
	}

	rec := c.bill.Record()
	if c.cfg.Bills != nil && !c.saved {
		if err := c.cfg.Bills.SaveBill(ctx, rec); err != nil {
			return domain.BillRecord{}, fmt.Errorf("save bill %s: %w", rec.Number, err)
		}
		c.saved = true
	}
	if err := c.cfg.Receipts.Write(ctx, rec); err != nil {
		c.logger.Error("receipt write failed", zap.String("bill", rec.Number), zap.Error(err))
		return domain.BillRecord{}, fmt.Errorf("receipt for bill %s: %w", rec.Number, err)
	}

	c.state = Completed
	c.logger.Info("bill completed", zap.String("bill", rec.Number))
	c.checkStock(ctx, rec)
	return rec, nil
}

// pricer returns the engine to price this bill with, extended by any batch
// markdowns on the batches the bill draws from.
func (c *Controller) pricer(ctx context.Context) (*pricing.Engine, error) {
	if !c.cfg.BatchDiscounts {
		return c.cfg.Pricing, nil
	}

	seen := make(map[int64]bool)
	ids := make([]int64, 0, 4)
	for _, r := range c.bill.Reservations() {
		if !seen[r.BatchID] {
			seen[r.BatchID] = true
			ids = append(ids, r.BatchID)
		}
	}
	records, err := c.cfg.Ledger.GetBatchDiscounts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("batch discounts: %w", err)
	}

	discounts := make([]discount.BatchDiscount, 0, len(records))
	for _, rec := range records {
		d, err := discount.FromRecord(rec)
		if err != nil {
			c.logger.Warn("skipping invalid batch discount", zap.Int64("discount_id", rec.ID), zap.Error(err))
			continue
		}
		discounts = append(discounts, d)
	}
	if len(discounts) == 0 {
		return c.cfg.Pricing, nil
	}

	batch := discount.NewBatchPolicy(discounts, c.cfg.Clock())
	if base := c.cfg.Pricing.Policy(); base != nil {
		return c.cfg.Pricing.WithPolicy(discount.NewComposite(base, batch)), nil
	}
	return c.cfg.Pricing.WithPolicy(batch), nil
}

func (c *Controller) checkStock(ctx context.Context, rec domain.BillRecord) {
	pool := c.cfg.Channel.SalePool()
	checked := make(map[string]bool, len(rec.Lines))
	for _, line := range rec.Lines {
		if checked[line.ItemCode] {
			continue
		}
		checked[line.ItemCode] = true

		item, err := c.cfg.Items.GetItem(ctx, line.ItemCode)
		if err != nil {
			c.logger.Warn("stock check: item lookup failed", zap.String("item", line.ItemCode), zap.Error(err))
			continue
		}
		batches, err := c.cfg.Ledger.ListBatches(ctx, line.ItemCode, pool)
		if err != nil {
			c.logger.Warn("stock check: batch lookup failed", zap.String("item", line.ItemCode), zap.Error(err))
			continue
		}
		remaining := 0
		for _, b := range batches {
			remaining += b.Available(pool)
		}

		event := events.Event{
			At:         c.cfg.Clock().UTC(),
			BillNumber: rec.Number,
			Channel:    c.cfg.Channel,
			ItemCode:   line.ItemCode,
			Remaining:  remaining,
			Threshold:  item.RestockLevel,
		}
		switch {
		case remaining == 0:
			event.Kind = events.KindStockDepleted
		case remaining <= item.RestockLevel:
			event.Kind = events.KindRestockThreshold
		default:
			continue
		}
		c.cfg.Events.Publish(ctx, event)
	}
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
