package domain

import (
	"fmt"
	"strings"
	"time"

	"tokokasir/backend/internal/money"
)

const DefaultRestockLevel = 50

type Item struct {
	Code         string      `json:"code"`
	Name         string      `json:"name"`
	UnitPrice    money.Money `json:"unit_price"`
	RestockLevel int         `json:"restock_level"`
}

func NewItem(code string, name string, unitPrice money.Money, restockLevel int) (Item, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	name = strings.TrimSpace(name)
	if code == "" || name == "" {
		return Item{}, fmt.Errorf("%w: item code and name are required", ErrValidation)
	}
	if unitPrice.IsNegative() {
		return Item{}, fmt.Errorf("%w: unit price must not be negative", ErrValidation)
	}
	if restockLevel < 0 {
		return Item{}, fmt.Errorf("%w: restock level must not be negative", ErrValidation)
	}
	return Item{Code: code, Name: name, UnitPrice: unitPrice, RestockLevel: restockLevel}, nil
}

// Pool names one of the three places a batch keeps stock.
type Pool string

const (
	PoolShelf Pool = "shelf"
	PoolStore Pool = "store"
	PoolMain  Pool = "main"
)

func ParsePool(raw string) (Pool, error) {
	switch Pool(strings.ToLower(strings.TrimSpace(raw))) {
	case PoolShelf:
		return PoolShelf, nil
	case PoolStore:
		return PoolStore, nil
	case PoolMain:
		return PoolMain, nil
	}
	return "", fmt.Errorf("%w: unknown stock pool %q", ErrValidation, raw)
}

type Batch struct {
	ID         int64      `json:"id"`
	ItemCode   string     `json:"item_code"`
	ExpiryDate *time.Time `json:"expiry_date,omitempty"`
	QtyShelf   int        `json:"qty_shelf"`
	QtyStore   int        `json:"qty_store"`
	QtyMain    int        `json:"qty_main"`
}

func (b Batch) Available(pool Pool) int {
	switch pool {
	case PoolShelf:
		return b.QtyShelf
	case PoolStore:
		return b.QtyStore
	case PoolMain:
		return b.QtyMain
	}
	return 0
}

// Adjust adds delta to the given pool. It refuses to drive the pool negative.
func (b *Batch) Adjust(pool Pool, delta int) error {
	var qty *int
	switch pool {
	case PoolShelf:
		qty = &b.QtyShelf
	case PoolStore:
		qty = &b.QtyStore
	case PoolMain:
		qty = &b.QtyMain
	default:
		return fmt.Errorf("%w: unknown stock pool %q", ErrValidation, pool)
	}
	if *qty+delta < 0 {
		return fmt.Errorf("%w: batch %d has %d in %s, need %d", ErrInsufficientStock, b.ID, *qty, pool, -delta)
	}
	*qty += delta
	return nil
}

// Reservation is a provisional claim on a batch, not yet deducted from stock.
type Reservation struct {
	BatchID  int64  `json:"batch_id"`
	ItemCode string `json:"item_code"`
	Pool     Pool   `json:"pool"`
	Qty      int    `json:"qty"`
}

type StockTransfer struct {
	ItemCode string `json:"item_code"`
	From     Pool   `json:"from"`
	To       Pool   `json:"to"`
	Qty      int    `json:"qty"`
}

// Channel is where a bill was rung up.
type Channel string

const (
	ChannelPOS    Channel = "pos"
	ChannelOnline Channel = "online"
)

// SalePool is the stock pool a channel sells from.
func (c Channel) SalePool() Pool {
	if c == ChannelOnline {
		return PoolStore
	}
	return PoolShelf
}

const (
	RoleCashier = "cashier"
	RoleManager = "manager"
	RoleAdmin   = "admin"
)

type Actor struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

func (a Actor) IsPrivileged() bool {
	return a.Role == RoleManager || a.Role == RoleAdmin
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

// BatchDiscountRecord is the stored form of a batch-level discount.
type BatchDiscountRecord struct {
	ID         int64       `json:"id"`
	BatchID    int64       `json:"batch_id"`
	Type       string      `json:"type"`
	Percent    string      `json:"percent,omitempty"`
	Amount     money.Money `json:"amount"`
	ValidFrom  time.Time   `json:"valid_from"`
	ValidUntil *time.Time  `json:"valid_until,omitempty"`
	Active     bool        `json:"active"`
}

type BillLineRecord struct {
	ItemCode     string        `json:"item_code"`
	ItemName     string        `json:"item_name"`
	UnitPrice    money.Money   `json:"unit_price"`
	Qty          int           `json:"qty"`
	LineTotal    money.Money   `json:"line_total"`
	Reservations []Reservation `json:"reservations"`
}

// BillRecord is the persisted and rendered snapshot of a bill.
type BillRecord struct {
	Number       string           `json:"number"`
	CreatedAt    time.Time        `json:"created_at"`
	Channel      Channel          `json:"channel"`
	Operator     string           `json:"operator"`
	State        string           `json:"state"`
	Lines        []BillLineRecord `json:"lines"`
	Subtotal     money.Money      `json:"subtotal"`
	Discount     money.Money      `json:"discount"`
	DiscountCode string           `json:"discount_code,omitempty"`
	Tax          money.Money      `json:"tax"`
	Total        money.Money      `json:"total"`
	Method       string           `json:"payment_method,omitempty"`
	Paid         money.Money      `json:"amount_paid"`
	Change       money.Money      `json:"change"`
	CardSuffix   string           `json:"card_suffix,omitempty"`
}
