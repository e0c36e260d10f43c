// Package payment settles a finalized bill by cash or card.
package payment

import (
	"fmt"
	"strings"

	"tokokasir/backend/internal/bill"
	"tokokasir/backend/internal/domain"
	"tokokasir/backend/internal/money"
)

type Method string

const (
	MethodCash Method = "CASH"
	MethodCard Method = "CARD"
)

// DefaultMaxCashTender caps a single cash tender.
var DefaultMaxCashTender = money.FromInt(100000)

// Request is the tender a customer offers. It is one of Cash or Card.
type Request interface {
	Method() Method
}

type Cash struct {
	Tendered money.Money
}

func (Cash) Method() Method { return MethodCash }

type Card struct {
	Suffix   string
	Tendered money.Money
}

func (Card) Method() Method { return MethodCard }

// Pricer finalizes a bill's totals before tender is checked.
type Pricer interface {
	Finalize(b *bill.Bill) (bill.Totals, error)
}

type Strategy interface {
	Method() Method
	Pay(b *bill.Bill, pricer Pricer, req Request) (bill.Payment, error)
}

// NewRequest builds a typed request from loosely typed input such as an
// HTTP body.
func NewRequest(method string, tendered money.Money, cardSuffix string) (Request, error) {
	switch Method(strings.ToUpper(strings.TrimSpace(method))) {
	case MethodCash:
		return Cash{Tendered: tendered}, nil
	case MethodCard:
		return Card{Suffix: strings.TrimSpace(cardSuffix), Tendered: tendered}, nil
	}
	return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedPaymentMethod, method)
}

type Registry struct {
	strategies map[Method]Strategy
}

func NewRegistry(strategies ...Strategy) *Registry {
	r := &Registry{strategies: make(map[Method]Strategy, len(strategies))}
	for _, s := range strategies {
		r.strategies[s.Method()] = s
	}
	return r
}

// DefaultRegistry registers cash (capped at maxCash) and card.
func DefaultRegistry(maxCash money.Money) *Registry {
	return NewRegistry(NewCashStrategy(maxCash), CardStrategy{})
}

// Lookup finds a strategy by case-insensitive method name.
func (r *Registry) Lookup(name string) (Strategy, error) {
	s, ok := r.strategies[Method(strings.ToUpper(strings.TrimSpace(name)))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedPaymentMethod, name)
	}
	return s, nil
}

// Pay dispatches req to the strategy for its method.
func (r *Registry) Pay(b *bill.Bill, pricer Pricer, req Request) (bill.Payment, error) {
	if req == nil {
		return bill.Payment{}, fmt.Errorf("%w: payment request is required", domain.ErrValidation)
	}
	s, err := r.Lookup(string(req.Method()))
	if err != nil {
		return bill.Payment{}, err
	}
	return s.Pay(b, pricer, req)
}
