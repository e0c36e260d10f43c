package auth

import (
	"context"
	"fmt"

	"tokokasir/backend/internal/domain"
	"tokokasir/backend/internal/store"
)

// GuardedLedger requires a manager or admin for moving stock out of the main
// pool and for changing batch discounts. Everything else passes through.
type GuardedLedger struct {
	store.Ledger
	actors ActorSource
}

func NewGuardedLedger(ledger store.Ledger, actors ActorSource) *GuardedLedger {
	return &GuardedLedger{Ledger: ledger, actors: actors}
}

func (g *GuardedLedger) Transfer(ctx context.Context, transfer domain.StockTransfer) error {
	if transfer.From == domain.PoolMain && (transfer.To == domain.PoolShelf || transfer.To == domain.PoolStore) {
		if err := g.require(ctx, fmt.Sprintf("transfer %s from main to %s", transfer.ItemCode, transfer.To)); err != nil {
			return err
		}
	}
	return g.Ledger.Transfer(ctx, transfer)
}

func (g *GuardedLedger) SaveBatchDiscount(ctx context.Context, rec domain.BatchDiscountRecord) (*domain.BatchDiscountRecord, error) {
	if err := g.require(ctx, fmt.Sprintf("change discount on batch %d", rec.BatchID)); err != nil {
		return nil, err
	}
	return g.Ledger.SaveBatchDiscount(ctx, rec)
}

func (g *GuardedLedger) require(ctx context.Context, action string) error {
	if g.actors == nil {
		return fmt.Errorf("%w: nobody is logged in to %s", domain.ErrPermissionDenied, action)
	}
	actor, ok := g.actors.CurrentActor(ctx)
	if !ok {
		return fmt.Errorf("%w: nobody is logged in to %s", domain.ErrPermissionDenied, action)
	}
	if !actor.IsPrivileged() {
		return fmt.Errorf("%w: %s (%s) may not %s", domain.ErrPermissionDenied, actor.Username, actor.Role, action)
	}
	return nil
}
