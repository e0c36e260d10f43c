package store

import (
	"context"
	"errors"

	"tokokasir/backend/internal/domain"
)

var (
	ErrNotFound           = domain.ErrNotFound
	ErrInsufficientStock  = domain.ErrInsufficientStock
	ErrInvalidTransaction = errors.New("invalid transaction")
)

type ItemStore interface {
	GetItem(ctx context.Context, code string) (*domain.Item, error)
}

// Ledger owns batch quantities. Reads never mutate; CommitReservations and
// Transfer re-check availability and apply all changes or none.
type Ledger interface {
	ListBatches(ctx context.Context, itemCode string, pool domain.Pool) ([]domain.Batch, error)
	CommitReservations(ctx context.Context, reservations []domain.Reservation) error
	Transfer(ctx context.Context, transfer domain.StockTransfer) error
	GetBatchDiscounts(ctx context.Context, batchIDs []int64) ([]domain.BatchDiscountRecord, error)
	SaveBatchDiscount(ctx context.Context, rec domain.BatchDiscountRecord) (*domain.BatchDiscountRecord, error)
}

type BillStore interface {
	SaveBill(ctx context.Context, rec domain.BillRecord) error
}

type UserStore interface {
	GetUser(ctx context.Context, username string) (*domain.UserAccount, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type Repository interface {
	ItemStore
	Ledger
	BillStore
	UserStore
	ListItems(ctx context.Context) ([]domain.Item, error)
}
