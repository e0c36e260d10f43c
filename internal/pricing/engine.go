package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"tokokasir/backend/internal/bill"
	"tokokasir/backend/internal/discount"
	"tokokasir/backend/internal/domain"
	"tokokasir/backend/internal/money"
)

var hundred = decimal.NewFromInt(100)

// Engine turns a bill's lines into subtotal, discount, tax and total using a
// flat tax percentage and an optional discount policy.
type Engine struct {
	taxPercent decimal.Decimal
	policy     discount.Policy
}

func New(taxPercent decimal.Decimal, policy discount.Policy) (*Engine, error) {
	if taxPercent.IsNegative() || taxPercent.GreaterThan(hundred) {
		return nil, fmt.Errorf("%w: tax rate must be within [0,100], got %s", domain.ErrValidation, taxPercent)
	}
	return &Engine{taxPercent: taxPercent, policy: policy}, nil
}

func (e *Engine) TaxPercent() decimal.Decimal { return e.taxPercent }

func (e *Engine) Policy() discount.Policy { return e.policy }

// WithPolicy returns a copy of the engine using policy instead.
func (e *Engine) WithPolicy(policy discount.Policy) *Engine {
	return &Engine{taxPercent: e.taxPercent, policy: policy}
}

// Quote computes totals without touching the bill.
func (e *Engine) Quote(b *bill.Bill) bill.Totals {
	subtotal := b.Subtotal()
	disc := money.Zero
	code := ""
	if e.policy != nil {
		disc = e.policy.Discount(b)
		code = e.policy.Code()
	}
	taxable := subtotal.Sub(disc)
	tax := taxable.Mul(e.taxPercent.Div(hundred))
	return bill.Totals{
		Subtotal:     subtotal,
		Discount:     disc,
		DiscountCode: code,
		Tax:          tax,
		Total:        taxable.Add(tax),
	}
}

// Finalize writes the quoted totals onto the bill in one step. Calling it
// again with the same lines and policy produces the same totals.
func (e *Engine) Finalize(b *bill.Bill) (bill.Totals, error) {
	totals := e.Quote(b)
	if err := b.ApplyPricing(totals); err != nil {
		return bill.Totals{}, err
	}
	return b.Totals(), nil
}
