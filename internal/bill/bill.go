// Package bill holds the sale aggregate and its Draft/Paid lifecycle.
package bill

import (
	"fmt"
	"strings"
	"time"

	"tokokasir/backend/internal/domain"
	"tokokasir/backend/internal/money"
)

type State int

const (
	Draft State = iota
	Paid
)

func (s State) String() string {
	switch s {
	case Draft:
		return "draft"
	case Paid:
		return "paid"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type operation int

const (
	opAddLine operation = iota
	opRemoveLine
	opPrice
	opApplyPayment
)

func (o operation) String() string {
	return [...]string{"add line", "remove line", "price", "apply payment"}[o]
}

// outcome of an operation in a given state.
type outcome int

const (
	rejected outcome = iota
	allowed
	ignored
)

var transitions = map[State]map[operation]outcome{
	Draft: {
		opAddLine:      allowed,
		opRemoveLine:   allowed,
		opPrice:        allowed,
		opApplyPayment: allowed,
	},
	Paid: {
		opAddLine:      rejected,
		opRemoveLine:   rejected,
		opPrice:        ignored,
		opApplyPayment: ignored,
	},
}

type Line struct {
	ItemCode     string
	ItemName     string
	UnitPrice    money.Money
	Qty          int
	Reservations []domain.Reservation
}

func (l Line) Total() money.Money {
	return l.UnitPrice.MulInt(int64(l.Qty))
}

type Totals struct {
	Subtotal     money.Money
	Discount     money.Money
	DiscountCode string
	Tax          money.Money
	Total        money.Money
}

// Payment is the receipt a payment strategy hands back once tender passed.
type Payment struct {
	Method     string
	Paid       money.Money
	Change     money.Money
	CardSuffix string
}

type Bill struct {
	number    string
	createdAt time.Time
	channel   domain.Channel
	operator  string
	lines     []Line
	totals    Totals
	payment   Payment
	state     State
}

func New(number string, channel domain.Channel, operator string, createdAt time.Time) *Bill {
	if channel == "" {
		channel = domain.ChannelPOS
	}
	return &Bill{
		number:    number,
		createdAt: createdAt,
		channel:   channel,
		operator:  operator,
		state:     Draft,
	}
}

func (b *Bill) Number() string { return b.number }
func (b *Bill) CreatedAt() time.Time { return b.createdAt }
func (b *Bill) Channel() domain.Channel { return b.channel }
func (b *Bill) Operator() string { return b.operator }
func (b *Bill) State() State { return b.state }
func (b *Bill) Totals() Totals { return b.totals }
func (b *Bill) IsEmpty() bool { return len(b.lines) == 0 }
func (b *Bill) Payment() (Payment, bool) { return b.payment, b.state == Paid }

func (b *Bill) Lines() []Line {
	out := make([]Line, len(b.lines))
	for i, l := range b.lines {
		l.Reservations = append([]domain.Reservation(nil), l.Reservations...)
		out[i] = l
	}
	return out
}

func (b *Bill) Subtotal() money.Money {
	total := money.Zero
	for _, l := range b.lines {
		total = total.Add(l.Total())
	}
	return total
}

// Reservations returns every reservation held by the bill in line order.
func (b *Bill) Reservations() []domain.Reservation {
	var out []domain.Reservation
	for _, l := range b.lines {
		out = append(out, l.Reservations...)
	}
	return out
}

func (b *Bill) check(op operation) (outcome, error) {
	result := transitions[b.state][op]
	if result == rejected {
		return rejected, fmt.Errorf("%w: cannot %s on %s bill %s", domain.ErrIllegalState, op, b.state, b.number)
	}
	return result, nil
}

// AddLine appends a line. A line for an item already on the bill at the same
// unit price is merged into the existing one.
func (b *Bill) AddLine(line Line) error {
	if _, err := b.check(opAddLine); err != nil {
		return err
	}
	if strings.TrimSpace(line.ItemCode) == "" {
		return fmt.Errorf("%w: line item code is required", domain.ErrValidation)
	}
	if line.Qty < 1 {
		return fmt.Errorf("%w: line quantity must be positive, got %d", domain.ErrValidation, line.Qty)
	}
	reserved := 0
	for _, r := range line.Reservations {
		reserved += r.Qty
	}
	if reserved != line.Qty {
		return fmt.Errorf("%w: line %s reserves %d of %d units", domain.ErrValidation, line.ItemCode, reserved, line.Qty)
	}

	line.Reservations = append([]domain.Reservation(nil), line.Reservations...)
	for i := range b.lines {
		if b.lines[i].ItemCode == line.ItemCode && b.lines[i].UnitPrice.Equal(line.UnitPrice) {
			b.lines[i].Qty += line.Qty
			b.lines[i].Reservations = append(b.lines[i].Reservations, line.Reservations...)
			return nil
		}
	}
	b.lines = append(b.lines, line)
	return nil
}

// RemoveLineByCode drops every line for the item and returns what was removed.
func (b *Bill) RemoveLineByCode(itemCode string) ([]Line, error) {
	if _, err := b.check(opRemoveLine); err != nil {
		return nil, err
	}
	kept := b.lines[:0:0]
	var removed []Line
	for _, l := range b.lines {
		if l.ItemCode == itemCode {
			removed = append(removed, l)
			continue
		}
		kept = append(kept, l)
	}
	if len(removed) == 0 {
		return nil, fmt.Errorf("%w: item %s is not on bill %s", domain.ErrNotFound, itemCode, b.number)
	}
	b.lines = kept
	return removed, nil
}

// ApplyPricing stores finalized totals. It is a no-op once the bill is paid.
func (b *Bill) ApplyPricing(t Totals) error {
	result, err := b.check(opPrice)
	if err != nil {
		return err
	}
	if result == allowed {
		b.totals = t
	}
	return nil
}

// ApplyPayment copies the payment receipt into the bill and marks it paid.
// On a bill that is already paid it does nothing and reports false.
func (b *Bill) ApplyPayment(p Payment) bool {
	result, _ := b.check(opApplyPayment)
	if result != allowed {
		return false
	}
	b.payment = p
	b.state = Paid
	return true
}

func (b *Bill) Record() domain.BillRecord {
	lines := make([]domain.BillLineRecord, 0, len(b.lines))
	for _, l := range b.lines {
		lines = append(lines, domain.BillLineRecord{
			ItemCode:     l.ItemCode,
			ItemName:     l.ItemName,
			UnitPrice:    l.UnitPrice,
			Qty:          l.Qty,
			LineTotal:    l.Total(),
			Reservations: append([]domain.Reservation(nil), l.Reservations...),
		})
	}
	return domain.BillRecord{
		Number:       b.number,
		CreatedAt:    b.createdAt,
		Channel:      b.channel,
		Operator:     b.operator,
		State:        b.state.String(),
		Lines:        lines,
		Subtotal:     b.totals.Subtotal,
		Discount:     b.totals.Discount,
		DiscountCode: b.totals.DiscountCode,
		Tax:          b.totals.Tax,
		Total:        b.totals.Total,
		Method:       b.payment.Method,
		Paid:         b.payment.Paid,
		Change:       b.payment.Change,
		CardSuffix:   b.payment.CardSuffix,
	}
}
