package payment

import (
	"fmt"

	"tokokasir/backend/internal/bill"
	"tokokasir/backend/internal/domain"
	"tokokasir/backend/internal/money"
)

type CashStrategy struct {
	maxTender money.Money
}

func NewCashStrategy(maxTender money.Money) CashStrategy {
	if !maxTender.IsPositive() {
		maxTender = DefaultMaxCashTender
	}
	return CashStrategy{maxTender: maxTender}
}

func (CashStrategy) Method() Method { return MethodCash }

func (s CashStrategy) Pay(b *bill.Bill, pricer Pricer, req Request) (bill.Payment, error) {
	cash, ok := req.(Cash)
	if !ok {
		return bill.Payment{}, fmt.Errorf("%w: cash strategy got a %s request", domain.ErrValidation, req.Method())
	}
	if !cash.Tendered.IsPositive() {
		return bill.Payment{}, fmt.Errorf("%w: cash tender must be positive", domain.ErrValidation)
	}
	if cash.Tendered.GreaterThan(s.maxTender) {
		return bill.Payment{}, fmt.Errorf("%w: cash tender %s exceeds maximum %s", domain.ErrValidation, cash.Tendered, s.maxTender)
	}

	totals, err := pricer.Finalize(b)
	if err != nil {
		return bill.Payment{}, err
	}
	if cash.Tendered.LessThan(totals.Total) {
		return bill.Payment{}, fmt.Errorf("%w: tendered %s, total %s", domain.ErrInsufficientPayment, cash.Tendered, totals.Total)
	}

	return bill.Payment{
		Method: string(MethodCash),
		Paid:   cash.Tendered,
		Change: cash.Tendered.Sub(totals.Total),
	}, nil
}

type CardStrategy struct{}

func (CardStrategy) Method() Method { return MethodCard }

func (CardStrategy) Pay(b *bill.Bill, pricer Pricer, req Request) (bill.Payment, error) {
	card, ok := req.(Card)
	if !ok {
		return bill.Payment{}, fmt.Errorf("%w: card strategy got a %s request", domain.ErrValidation, req.Method())
	}
	if !validSuffix(card.Suffix) {
		return bill.Payment{}, fmt.Errorf("%w: card suffix must be exactly 4 digits", domain.ErrValidation)
	}

	totals, err := pricer.Finalize(b)
	if err != nil {
		return bill.Payment{}, err
	}
	if !card.Tendered.Equal(totals.Total) {
		return bill.Payment{}, fmt.Errorf("%w: card amount %s must equal total %s", domain.ErrPaymentMismatch, card.Tendered, totals.Total)
	}

	return bill.Payment{
		Method:     string(MethodCard),
		Paid:       card.Tendered,
		Change:     money.Zero,
		CardSuffix: card.Suffix,
	}, nil
}

func validSuffix(s string) bool {
	if len(s) != 4 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// MaskCard renders a stored suffix for display.
func MaskCard(suffix string) string {
	if suffix == "" {
		return ""
	}
	return "**** " + suffix
}
