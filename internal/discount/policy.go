// Package discount computes bill-level discounts.
package discount

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"tokokasir/backend/internal/bill"
	"tokokasir/backend/internal/domain"
	"tokokasir/backend/internal/money"
)

var hundred = decimal.NewFromInt(100)

// Policy computes a discount from a bill's contents. Implementations hold no
// per-bill state.
type Policy interface {
	Code() string
	Discount(b *bill.Bill) money.Money
}

type Percentage struct {
	percent decimal.Decimal
}

func NewPercentage(percent decimal.Decimal) (Percentage, error) {
	if percent.IsNegative() || percent.GreaterThan(hundred) {
		return Percentage{}, fmt.Errorf("%w: discount percentage must be within [0,100], got %s", domain.ErrValidation, percent)
	}
	return Percentage{percent: percent}, nil
}

func (p Percentage) Code() string {
	return "PCT" + p.percent.String()
}

func (p Percentage) Discount(b *bill.Bill) money.Money {
	return b.Subtotal().Mul(p.percent.Div(hundred))
}

// Bogo gives one unit free for every two on a line.
type Bogo struct{}

func (Bogo) Code() string { return "BOGO" }

func (Bogo) Discount(b *bill.Bill) money.Money {
	total := money.Zero
	for _, l := range b.Lines() {
		free := l.Qty / 2
		if free == 0 {
			continue
		}
		total = total.Add(l.UnitPrice.MulInt(int64(free)))
	}
	return total
}

// Composite sums its policies. The sum is not capped at the bill subtotal.
type Composite struct {
	policies []Policy
}

func NewComposite(policies ...Policy) Composite {
	kept := make([]Policy, 0, len(policies))
	for _, p := range policies {
		if p != nil {
			kept = append(kept, p)
		}
	}
	return Composite{policies: kept}
}

func (c Composite) Code() string {
	codes := make([]string, 0, len(c.policies))
	for _, p := range c.policies {
		codes = append(codes, p.Code())
	}
	return "COMPOSITE(" + strings.Join(codes, "+") + ")"
}

func (c Composite) Discount(b *bill.Bill) money.Money {
	total := money.Zero
	for _, p := range c.policies {
		total = total.Add(p.Discount(b))
	}
	return total
}

// Parse builds a policy from a configuration string such as "bogo",
// "percent:10" or "bogo,percent:5". Empty and "none" yield a nil policy.
func Parse(spec string) (Policy, error) {
	spec = strings.ToLower(strings.TrimSpace(spec))
	if spec == "" || spec == "none" {
		return nil, nil
	}

	var policies []Policy
	for _, token := range strings.Split(spec, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		name, arg, _ := strings.Cut(token, ":")
		switch name {
		case "bogo":
			policies = append(policies, Bogo{})
		case "percent", "pct":
			p, err := decimal.NewFromString(strings.TrimSpace(arg))
			if err != nil {
				return nil, fmt.Errorf("%w: invalid percentage %q", domain.ErrValidation, arg)
			}
			policy, err := NewPercentage(p)
			if err != nil {
				return nil, err
			}
			policies = append(policies, policy)
		default:
			return nil, fmt.Errorf("%w: unknown discount policy %q", domain.ErrValidation, name)
		}
	}

	switch len(policies) {
	case 0:
		return nil, nil
	case 1:
		return policies[0], nil
	}
	return NewComposite(policies...), nil
}
