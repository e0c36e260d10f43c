// Package fefo computes first-expire-first-out stock reservations.
//
// Allocation is read-only: it decides which batches a quantity would come
// from and leaves the ledger untouched. Deducting stock is the ledger's
// CommitReservations, done only once payment succeeded.
package fefo

import (
	"fmt"
	"slices"
	"time"

	"tokokasir/backend/internal/domain"
)

// Allocate reserves qty units of itemCode from the given pool, consuming
// batches soonest-expiry first. Batches without an expiry date go last and
// equal expiries are ordered by batch id. The result sums exactly to qty;
// if the pool cannot cover qty nothing is returned.
func Allocate(itemCode string, qty int, pool domain.Pool, batches []domain.Batch) ([]domain.Reservation, error) {
	if qty < 1 {
		return nil, fmt.Errorf("%w: quantity must be positive, got %d", domain.ErrValidation, qty)
	}

	ordered := make([]domain.Batch, 0, len(batches))
	available := 0
	for _, b := range batches {
		if b.ItemCode != itemCode || b.Available(pool) < 1 {
			continue
		}
		ordered = append(ordered, b)
		available += b.Available(pool)
	}
	if available < qty {
		return nil, fmt.Errorf("%w: %s needs %d from %s, %d available", domain.ErrInsufficientStock, itemCode, qty, pool, available)
	}

	slices.SortFunc(ordered, Compare)

	reservations := make([]domain.Reservation, 0, len(ordered))
	remaining := qty
	for _, b := range ordered {
		if remaining == 0 {
			break
		}
		used := min(remaining, b.Available(pool))
		reservations = append(reservations, domain.Reservation{
			BatchID:  b.ID,
			ItemCode: itemCode,
			Pool:     pool,
			Qty:      used,
		})
		remaining -= used
	}
	return reservations, nil
}

// Compare orders batches for FEFO consumption.
func Compare(a domain.Batch, b domain.Batch) int {
	if a.ExpiryDate == nil && b.ExpiryDate != nil {
		return 1
	}
	if a.ExpiryDate != nil && b.ExpiryDate == nil {
		return -1
	}
	if a.ExpiryDate != nil && b.ExpiryDate != nil {
		if a.ExpiryDate.Before(*b.ExpiryDate) {
			return -1
		}
		if a.ExpiryDate.After(*b.ExpiryDate) {
			return 1
		}
	}
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}

// Unexpired drops batches whose expiry date lies before the day of now.
func Unexpired(batches []domain.Batch, now time.Time) []domain.Batch {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	kept := make([]domain.Batch, 0, len(batches))
	for _, b := range batches {
		if b.ExpiryDate != nil && b.ExpiryDate.Before(today) {
			continue
		}
		kept = append(kept, b)
	}
	return kept
}

// Net subtracts quantities already held by reservations from the matching
// batches, so a second allocation does not claim the same units twice.
func Net(batches []domain.Batch, held []domain.Reservation) []domain.Batch {
	if len(held) == 0 {
		return batches
	}
	type key struct {
		id   int64
		pool domain.Pool
	}
	claimed := make(map[key]int, len(held))
	for _, r := range held {
		claimed[key{r.BatchID, r.Pool}] += r.Qty
	}

	out := make([]domain.Batch, len(batches))
	copy(out, batches)
	for i := range out {
		for _, pool := range []domain.Pool{domain.PoolShelf, domain.PoolStore, domain.PoolMain} {
			qty := claimed[key{out[i].ID, pool}]
			if qty == 0 {
				continue
			}
			qty = min(qty, out[i].Available(pool))
			_ = out[i].Adjust(pool, -qty)
		}
	}
	return out
}
