package discount

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tokokasir/backend/internal/bill"
	"tokokasir/backend/internal/domain"
	"tokokasir/backend/internal/money"
)

type BatchDiscountType string

const (
	BatchPercentage BatchDiscountType = "PERCENTAGE"
	BatchFixed      BatchDiscountType = "FIXED"
)

// BatchDiscount marks down the price of units drawn from one batch during a
// validity window.
type BatchDiscount struct {
	ID         int64
	BatchID    int64
	Type       BatchDiscountType
	Percent    decimal.Decimal
	Amount     money.Money
	ValidFrom  time.Time
	ValidUntil *time.Time
	Active     bool
}

func FromRecord(rec domain.BatchDiscountRecord) (BatchDiscount, error) {
	d := BatchDiscount{
		ID:         rec.ID,
		BatchID:    rec.BatchID,
		Type:       BatchDiscountType(strings.ToUpper(strings.TrimSpace(rec.Type))),
		Amount:     rec.Amount,
		ValidFrom:  rec.ValidFrom,
		ValidUntil: rec.ValidUntil,
		Active:     rec.Active,
	}
	if rec.Percent != "" {
		p, err := decimal.NewFromString(rec.Percent)
		if err != nil {
			return BatchDiscount{}, fmt.Errorf("%w: invalid batch discount percentage %q", domain.ErrValidation, rec.Percent)
		}
		d.Percent = p
	}
	if err := d.Validate(); err != nil {
		return BatchDiscount{}, err
	}
	return d, nil
}

func (d BatchDiscount) Validate() error {
	switch d.Type {
	case BatchPercentage:
		if d.Percent.IsNegative() || d.Percent.GreaterThan(hundred) {
			return fmt.Errorf("%w: batch discount percentage must be within [0,100], got %s", domain.ErrValidation, d.Percent)
		}
	case BatchFixed:
		if d.Amount.IsNegative() {
			return fmt.Errorf("%w: batch discount amount must not be negative", domain.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown batch discount type %q", domain.ErrValidation, d.Type)
	}
	if d.ValidUntil != nil && d.ValidUntil.Before(d.ValidFrom) {
		return fmt.Errorf("%w: batch discount ends before it starts", domain.ErrValidation)
	}
	return nil
}

func (d BatchDiscount) Record() domain.BatchDiscountRecord {
	rec := domain.BatchDiscountRecord{
		ID:         d.ID,
		BatchID:    d.BatchID,
		Type:       string(d.Type),
		Amount:     d.Amount,
		ValidFrom:  d.ValidFrom,
		ValidUntil: d.ValidUntil,
		Active:     d.Active,
	}
	if d.Type == BatchPercentage {
		rec.Percent = d.Percent.String()
	}
	return rec
}

// AppliesAt reports whether the discount is active and now falls in
// [ValidFrom, ValidUntil).
func (d BatchDiscount) AppliesAt(now time.Time) bool {
	if !d.Active || now.Before(d.ValidFrom) {
		return false
	}
	return d.ValidUntil == nil || now.Before(*d.ValidUntil)
}

// DiscountedPrice returns price after the discount, or price unchanged when
// the discount does not apply at now. A fixed amount larger than the price
// yields a negative result.
func (d BatchDiscount) DiscountedPrice(price money.Money, now time.Time) money.Money {
	if !d.AppliesAt(now) {
		return price
	}
	switch d.Type {
	case BatchPercentage:
		return price.Mul(decimal.NewFromInt(1).Sub(d.Percent.Div(hundred)))
	case BatchFixed:
		return price.Sub(d.Amount)
	}
	return price
}

// BatchPolicy discounts units according to the batch they were reserved from.
type BatchPolicy struct {
	byBatch map[int64]BatchDiscount
	now     time.Time
}

func NewBatchPolicy(discounts []BatchDiscount, now time.Time) BatchPolicy {
	byBatch := make(map[int64]BatchDiscount, len(discounts))
	for _, d := range discounts {
		if existing, ok := byBatch[d.BatchID]; ok && existing.AppliesAt(now) && !d.AppliesAt(now) {
			continue
		}
		byBatch[d.BatchID] = d
	}
	return BatchPolicy{byBatch: byBatch, now: now}
}

func (BatchPolicy) Code() string { return "BATCH" }

func (p BatchPolicy) Discount(b *bill.Bill) money.Money {
	total := money.Zero
	for _, l := range b.Lines() {
		for _, r := range l.Reservations {
			d, ok := p.byBatch[r.BatchID]
			if !ok {
				continue
			}
			perUnit := l.UnitPrice.Sub(d.DiscountedPrice(l.UnitPrice, p.now))
			total = total.Add(perUnit.MulInt(int64(r.Qty)))
		}
	}
	return total
}
