package memory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"tokokasir/backend/internal/domain"
	"tokokasir/backend/internal/fefo"
	"tokokasir/backend/internal/money"
	"tokokasir/backend/internal/store"
)

type Store struct {
	mu              sync.RWMutex
	items           map[string]domain.Item
	batches         map[int64]domain.Batch
	nextBatchID     int64
	discounts       map[int64]domain.BatchDiscountRecord
	nextDiscountID  int64
	bills           map[string]domain.BillRecord
	usersByUsername map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		items:           make(map[string]domain.Item),
		batches:         make(map[int64]domain.Batch),
		discounts:       make(map[int64]domain.BatchDiscountRecord),
		bills:           make(map[string]domain.BillRecord),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD, SEED_MANAGER_PASSWORD and
// SEED_CASHIER_PASSWORD. If unset, dev defaults are used with a warning.
func seedUsers(logger *zap.Logger) (map[string]domain.UserAccount, error) {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	managerPwd := envOr("SEED_MANAGER_PASSWORD", "manager123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		logger.Warn("using default dev credentials; set SEED_ADMIN_PASSWORD, SEED_MANAGER_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"manager", managerPwd, domain.RoleManager},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash seed password for %s: %w", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store holding demo users, items and batches.
func NewSeeded(logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("memory-store")

	users, err := seedUsers(logger)
	if err != nil {
		return nil, err
	}
	s := New()
	s.usersByUsername = users

	items := []struct {
		code  string
		name  string
		price string
	}{
		{"MIE-01", "Mie Goreng Instan", "3.50"},
		{"TELUR-01", "Telur 10 Butir", "26.50"},
		{"SUSU-01", "Susu UHT 1L", "18.90"},
		{"ROTI-01", "Roti Tawar", "17.80"},
		{"KOPI-01", "Kopi Sachet", "2.60"},
		{"GULA-01", "Gula 1kg", "17.40"},
		{"TEH-01", "Teh Celup", "9.80"},
		{"AIR-01", "Air Mineral 600ml", "3.90"},
		{"SABUN-01", "Sabun Mandi", "7.40"},
	}

	today := nowDateUTC(time.Now())
	for i, it := range items {
		item, err := domain.NewItem(it.code, it.name, money.MustParse(it.price), domain.DefaultRestockLevel)
		if err != nil {
			return nil, fmt.Errorf("seed item %s: %w", it.code, err)
		}
		s.items[item.Code] = item

		soon := today.AddDate(0, 0, 7+i)
		later := today.AddDate(0, 3, i)
		s.addBatchLocked(domain.Batch{ItemCode: item.Code, ExpiryDate: &soon, QtyShelf: 40, QtyStore: 20, QtyMain: 60})
		s.addBatchLocked(domain.Batch{ItemCode: item.Code, ExpiryDate: &later, QtyShelf: 40, QtyStore: 40, QtyMain: 120})
	}
	logger.Info("seeded", zap.Int("items", len(items)), zap.Int("users", len(users)))
	return s, nil
}

// PutItem registers or replaces an item.
func (s *Store) PutItem(item domain.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.Code] = item
}

// AddBatch stores a batch and returns it with its assigned id.
func (s *Store) AddBatch(batch domain.Batch) domain.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addBatchLocked(batch)
}

func (s *Store) addBatchLocked(batch domain.Batch) domain.Batch {
	if batch.ID == 0 {
		s.nextBatchID++
		batch.ID = s.nextBatchID
	} else if batch.ID > s.nextBatchID {
		s.nextBatchID = batch.ID
	}
	s.batches[batch.ID] = cloneBatch(batch)
	return cloneBatch(batch)
}

func (s *Store) GetBatch(_ context.Context, id int64) (*domain.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.batches[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneBatch(b)
	return &out, nil
}

func (s *Store) ListItems(_ context.Context) ([]domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.Item, 0, len(s.items))
	for _, it := range s.items {
		items = append(items, it)
	}
	slices.SortFunc(items, func(a, b domain.Item) int {
		return cmpString(a.Code, b.Code)
	})
	return items, nil
}

func (s *Store) GetItem(_ context.Context, code string) (*domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &item, nil
}

func (s *Store) ListBatches(_ context.Context, itemCode string, pool domain.Pool) ([]domain.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Batch, 0, 4)
	for _, b := range s.batches {
		if b.ItemCode != itemCode || b.Available(pool) < 1 {
			continue
		}
		out = append(out, cloneBatch(b))
	}
	slices.SortFunc(out, fefo.Compare)
	return out, nil
}

func (s *Store) CommitReservations(_ context.Context, reservations []domain.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := make(map[int64]domain.Batch, len(reservations))
	for _, r := range reservations {
		if r.Qty < 1 {
			return fmt.Errorf("%w: reservation on batch %d has quantity %d", store.ErrInvalidTransaction, r.BatchID, r.Qty)
		}
		b, ok := staged[r.BatchID]
		if !ok {
			b, ok = s.batches[r.BatchID]
			if !ok {
				return fmt.Errorf("%w: batch %d", store.ErrNotFound, r.BatchID)
			}
		}
		if b.ItemCode != r.ItemCode {
			return fmt.Errorf("%w: batch %d holds %s, not %s", store.ErrInvalidTransaction, b.ID, b.ItemCode, r.ItemCode)
		}
		if err := b.Adjust(r.Pool, -r.Qty); err != nil {
			return err
		}
		staged[r.BatchID] = b
	}

	for id, b := range staged {
		s.batches[id] = b
	}
	return nil
}

func (s *Store) Transfer(_ context.Context, transfer domain.StockTransfer) error {
	for _, pool := range []domain.Pool{transfer.From, transfer.To} {
		if _, err := domain.ParsePool(string(pool)); err != nil {
			return err
		}
	}
	if transfer.From == transfer.To {
		return fmt.Errorf("%w: transfer needs two different pools", domain.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	candidates := make([]domain.Batch, 0, 4)
	for _, b := range s.batches {
		if b.ItemCode == transfer.ItemCode {
			candidates = append(candidates, b)
		}
	}
	moves, err := fefo.Allocate(transfer.ItemCode, transfer.Qty, transfer.From, candidates)
	if err != nil {
		return err
	}

	for _, m := range moves {
		b := s.batches[m.BatchID]
		if err := b.Adjust(transfer.From, -m.Qty); err != nil {
			return err
		}
		if err := b.Adjust(transfer.To, m.Qty); err != nil {
			return err
		}
		s.batches[m.BatchID] = b
	}
	return nil
}

func (s *Store) GetBatchDiscounts(_ context.Context, batchIDs []int64) ([]domain.BatchDiscountRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.BatchDiscountRecord, 0, len(batchIDs))
	for _, rec := range s.discounts {
		if slices.Contains(batchIDs, rec.BatchID) {
			out = append(out, cloneDiscount(rec))
		}
	}
	slices.SortFunc(out, func(a, b domain.BatchDiscountRecord) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out, nil
}

func (s *Store) SaveBatchDiscount(_ context.Context, rec domain.BatchDiscountRecord) (*domain.BatchDiscountRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.batches[rec.BatchID]; !ok {
		return nil, fmt.Errorf("%w: batch %d", store.ErrNotFound, rec.BatchID)
	}
	if rec.ID == 0 {
		s.nextDiscountID++
		rec.ID = s.nextDiscountID
	} else if _, ok := s.discounts[rec.ID]; !ok {
		return nil, fmt.Errorf("%w: batch discount %d", store.ErrNotFound, rec.ID)
	}
	s.discounts[rec.ID] = cloneDiscount(rec)
	saved := cloneDiscount(rec)
	return &saved, nil
}

func (s *Store) SaveBill(_ context.Context, rec domain.BillRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(rec.Number) == "" {
		return store.ErrInvalidTransaction
	}
	if _, exists := s.bills[rec.Number]; exists {
		return fmt.Errorf("%w: bill %s already saved", store.ErrInvalidTransaction, rec.Number)
	}
	rec.Lines = slices.Clone(rec.Lines)
	s.bills[rec.Number] = rec
	return nil
}

func (s *Store) GetBill(_ context.Context, number string) (*domain.BillRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.bills[number]
	if !ok {
		return nil, store.ErrNotFound
	}
	rec.Lines = slices.Clone(rec.Lines)
	return &rec, nil
}

func (s *Store) GetUser(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.usersByUsername[strings.ToLower(strings.TrimSpace(username))]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &user, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidTransaction
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func nowDateUTC(t time.Time) time.Time {
	return time.Date(t.UTC().Year(), t.UTC().Month(), t.UTC().Day(), 0, 0, 0, 0, time.UTC)
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneBatch(src domain.Batch) domain.Batch {
	out := src
	if src.ExpiryDate != nil {
		exp := *src.ExpiryDate
		out.ExpiryDate = &exp
	}
	return out
}

func cloneDiscount(src domain.BatchDiscountRecord) domain.BatchDiscountRecord {
	out := src
	if src.ValidUntil != nil {
		until := *src.ValidUntil
		out.ValidUntil = &until
	}
	return out
}
