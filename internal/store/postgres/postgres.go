package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"tokokasir/backend/internal/domain"
	"tokokasir/backend/internal/fefo"
	"tokokasir/backend/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListItems(ctx context.Context) ([]domain.Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT code, name, unit_price, restock_level
		FROM items
		ORDER BY code
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Item, 0, 64)
	for rows.Next() {
		var item domain.Item
		if err := rows.Scan(&item.Code, &item.Name, &item.UnitPrice, &item.RestockLevel); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) GetItem(ctx context.Context, code string) (*domain.Item, error) {
	var item domain.Item
	err := s.db.QueryRowContext(ctx, `
		SELECT code, name, unit_price, restock_level
		FROM items
		WHERE code = $1
	`, strings.ToUpper(strings.TrimSpace(code))).Scan(&item.Code, &item.Name, &item.UnitPrice, &item.RestockLevel)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

// PutItem inserts the item or updates its name, price and restock level.
func (s *Store) PutItem(ctx context.Context, item domain.Item) error {
	checked, err := domain.NewItem(item.Code, item.Name, item.UnitPrice, item.RestockLevel)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO items (code, name, unit_price, restock_level, created_at, updated_at)
		VALUES ($1,$2,$3,$4,now(),now())
		ON CONFLICT (code)
		DO UPDATE SET name = EXCLUDED.name, unit_price = EXCLUDED.unit_price,
			restock_level = EXCLUDED.restock_level, updated_at = now()
	`, checked.Code, checked.Name, checked.UnitPrice, checked.RestockLevel)
	return err
}

func (s *Store) AddBatch(ctx context.Context, batch domain.Batch) (*domain.Batch, error) {
	batch.ItemCode = strings.ToUpper(strings.TrimSpace(batch.ItemCode))
	if batch.QtyShelf < 0 || batch.QtyStore < 0 || batch.QtyMain < 0 {
		return nil, fmt.Errorf("%w: batch quantities must not be negative", domain.ErrValidation)
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO batches (item_code, expiry_date, qty_shelf, qty_store, qty_main, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
		RETURNING id
	`, batch.ItemCode, nullTime(batch.ExpiryDate), batch.QtyShelf, batch.QtyStore, batch.QtyMain).Scan(&batch.ID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &batch, nil
}

func (s *Store) GetBatch(ctx context.Context, id int64) (*domain.Batch, error) {
	batch, err := scanBatch(s.db.QueryRowContext(ctx, `
		SELECT id, item_code, expiry_date, qty_shelf, qty_store, qty_main
		FROM batches
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &batch, nil
}

// ListBatches returns the item's batches holding stock in pool, in FEFO order.
func (s *Store) ListBatches(ctx context.Context, itemCode string, pool domain.Pool) ([]domain.Batch, error) {
	column, err := poolColumn(pool)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, item_code, expiry_date, qty_shelf, qty_store, qty_main
		FROM batches
		WHERE item_code = $1 AND `+column+` > 0
		ORDER BY expiry_date ASC NULLS LAST, id ASC
	`, strings.ToUpper(strings.TrimSpace(itemCode)))
	if err != nil {
		return nil, err
	}
	return collectBatches(rows)
}

// CommitReservations deducts every reservation in one serializable
// transaction. Rows are locked in batch id order and re-checked, so a
// reservation that no longer fits rolls the whole commit back.
func (s *Store) CommitReservations(ctx context.Context, reservations []domain.Reservation) error {
	if len(reservations) == 0 {
		return nil
	}

	type key struct {
		batchID int64
		pool    domain.Pool
	}
	totals := make(map[key]int, len(reservations))
	itemOf := make(map[int64]string, len(reservations))
	ids := make([]int64, 0, len(reservations))
	for _, r := range reservations {
		if r.Qty < 1 {
			return fmt.Errorf("%w: reservation on batch %d has quantity %d", domain.ErrValidation, r.BatchID, r.Qty)
		}
		if _, err := poolColumn(r.Pool); err != nil {
			return err
		}
		if code, seen := itemOf[r.BatchID]; seen && code != r.ItemCode {
			return fmt.Errorf("%w: batch %d reserved for both %s and %s", store.ErrInvalidTransaction, r.BatchID, code, r.ItemCode)
		}
		itemOf[r.BatchID] = r.ItemCode
		k := key{r.BatchID, r.Pool}
		if _, seen := totals[k]; !seen {
			ids = append(ids, r.BatchID)
		}
		totals[k] += r.Qty
	}
	slices.Sort(ids)
	ids = slices.Compact(ids)

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = pgTx.Rollback() }()

	batches, err := lockBatches(ctx, pgTx, `id = ANY($1)`, ids)
	if err != nil {
		return err
	}
	for _, id := range ids {
		b, ok := batches[id]
		if !ok {
			return fmt.Errorf("batch %d: %w", id, store.ErrNotFound)
		}
		if b.ItemCode != itemOf[id] {
			return fmt.Errorf("%w: batch %d holds %s, not %s", store.ErrInvalidTransaction, id, b.ItemCode, itemOf[id])
		}
	}

	for k, qty := range totals {
		b := batches[k.batchID]
		if err := b.Adjust(k.pool, -qty); err != nil {
			return err
		}
		batches[k.batchID] = b
	}
	for _, id := range ids {
		if err := updateBatch(ctx, pgTx, batches[id]); err != nil {
			return err
		}
	}
	return pgTx.Commit()
}

// Transfer moves qty units of an item between pools, taking from the
// soonest-expiring batches of the source pool.
func (s *Store) Transfer(ctx context.Context, transfer domain.StockTransfer) error {
	from, err := domain.ParsePool(string(transfer.From))
	if err != nil {
		return err
	}
	to, err := domain.ParsePool(string(transfer.To))
	if err != nil {
		return err
	}
	if from == to {
		return fmt.Errorf("%w: transfer source and destination are both %s", domain.ErrValidation, from)
	}
	if transfer.Qty < 1 {
		return fmt.Errorf("%w: transfer quantity must be positive, got %d", domain.ErrValidation, transfer.Qty)
	}
	itemCode := strings.ToUpper(strings.TrimSpace(transfer.ItemCode))

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = pgTx.Rollback() }()

	locked, err := lockBatches(ctx, pgTx, `item_code = $1`, itemCode)
	if err != nil {
		return err
	}
	if len(locked) == 0 {
		if err := pgTx.QueryRowContext(ctx, `SELECT code FROM items WHERE code = $1`, itemCode).Scan(new(string)); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("item %s: %w", itemCode, store.ErrNotFound)
			}
			return err
		}
	}

	candidates := make([]domain.Batch, 0, len(locked))
	for _, b := range locked {
		candidates = append(candidates, b)
	}
	moves, err := fefo.Allocate(itemCode, transfer.Qty, from, candidates)
	if err != nil {
		return err
	}
	for _, m := range moves {
		b := locked[m.BatchID]
		if err := b.Adjust(from, -m.Qty); err != nil {
			return err
		}
		if err := b.Adjust(to, m.Qty); err != nil {
			return err
		}
		if err := updateBatch(ctx, pgTx, b); err != nil {
			return err
		}
	}
	return pgTx.Commit()
}

func (s *Store) GetBatchDiscounts(ctx context.Context, batchIDs []int64) ([]domain.BatchDiscountRecord, error) {
	if len(batchIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, batch_id, type, percent, amount, valid_from, valid_until, active
		FROM batch_discounts
		WHERE active = true AND batch_id = ANY($1)
		ORDER BY batch_id, id
	`, batchIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.BatchDiscountRecord, 0, len(batchIDs))
	for rows.Next() {
		var (
			rec     domain.BatchDiscountRecord
			percent sql.NullString
			until   sql.NullTime
		)
		if err := rows.Scan(&rec.ID, &rec.BatchID, &rec.Type, &percent, &rec.Amount, &rec.ValidFrom, &until, &rec.Active); err != nil {
			return nil, err
		}
		rec.Percent = percent.String
		rec.ValidFrom = rec.ValidFrom.UTC()
		if until.Valid {
			t := until.Time.UTC()
			rec.ValidUntil = &t
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) SaveBatchDiscount(ctx context.Context, rec domain.BatchDiscountRecord) (*domain.BatchDiscountRecord, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO batch_discounts (batch_id, type, percent, amount, valid_from, valid_until, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now())
		RETURNING id
	`, rec.BatchID, rec.Type, nullIfEmpty(rec.Percent), rec.Amount, rec.ValidFrom, nullTime(rec.ValidUntil), rec.Active).Scan(&rec.ID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("batch %d: %w", rec.BatchID, store.ErrNotFound)
		}
		return nil, err
	}
	return &rec, nil
}

// SaveBill stores the bill header and its lines. A bill number is written
// at most once.
func (s *Store) SaveBill(ctx context.Context, rec domain.BillRecord) error {
	if rec.Number == "" || len(rec.Lines) == 0 {
		return store.ErrInvalidTransaction
	}

	pgTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = pgTx.Rollback() }()

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO bills (number, created_at, channel, operator, state, subtotal, discount, discount_code,
			tax, total, method, amount_paid, change, card_suffix)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, rec.Number, rec.CreatedAt.UTC(), string(rec.Channel), rec.Operator, rec.State, rec.Subtotal, rec.Discount,
		rec.DiscountCode, rec.Tax, rec.Total, rec.Method, rec.Paid, rec.Change, rec.CardSuffix)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("bill %s already stored: %w", rec.Number, store.ErrInvalidTransaction)
		}
		return err
	}

	for i, line := range rec.Lines {
		reservations, err := json.Marshal(line.Reservations)
		if err != nil {
			return err
		}
		if _, err := pgTx.ExecContext(ctx, `
			INSERT INTO bill_lines (bill_number, line_no, item_code, item_name, unit_price, qty, line_total, reservations)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, rec.Number, i+1, line.ItemCode, line.ItemName, line.UnitPrice, line.Qty, line.LineTotal, reservations); err != nil {
			return err
		}
	}
	return pgTx.Commit()
}

func (s *Store) GetBill(ctx context.Context, number string) (*domain.BillRecord, error) {
	var (
		rec     domain.BillRecord
		channel string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT number, created_at, channel, operator, state, subtotal, discount, discount_code,
			tax, total, method, amount_paid, change, card_suffix
		FROM bills
		WHERE number = $1
	`, number).Scan(&rec.Number, &rec.CreatedAt, &channel, &rec.Operator, &rec.State, &rec.Subtotal, &rec.Discount,
		&rec.DiscountCode, &rec.Tax, &rec.Total, &rec.Method, &rec.Paid, &rec.Change, &rec.CardSuffix)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	rec.Channel = domain.Channel(channel)
	rec.CreatedAt = rec.CreatedAt.UTC()

	rows, err := s.db.QueryContext(ctx, `
		SELECT item_code, item_name, unit_price, qty, line_total, reservations
		FROM bill_lines
		WHERE bill_number = $1
		ORDER BY line_no
	`, number)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			line domain.BillLineRecord
			raw  []byte
		)
		if err := rows.Scan(&line.ItemCode, &line.ItemName, &line.UnitPrice, &line.Qty, &line.LineTotal, &raw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &line.Reservations); err != nil {
			return nil, fmt.Errorf("decode reservations for bill %s: %w", number, err)
		}
		rec.Lines = append(rec.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) GetUser(ctx context.Context, username string) (*domain.UserAccount, error) {
	var user domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		WHERE username = $1
	`, strings.ToLower(strings.TrimSpace(username))).Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidTransaction
		}
		return err
	}
	return nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(row rowScanner) (domain.Batch, error) {
	var (
		b      domain.Batch
		expiry sql.NullTime
	)
	if err := row.Scan(&b.ID, &b.ItemCode, &expiry, &b.QtyShelf, &b.QtyStore, &b.QtyMain); err != nil {
		return domain.Batch{}, err
	}
	if expiry.Valid {
		t := expiry.Time.UTC()
		b.ExpiryDate = &t
	}
	return b, nil
}

func collectBatches(rows *sql.Rows) ([]domain.Batch, error) {
	defer rows.Close()
	out := make([]domain.Batch, 0, 8)
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func lockBatches(ctx context.Context, tx *sql.Tx, where string, arg any) (map[int64]domain.Batch, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, item_code, expiry_date, qty_shelf, qty_store, qty_main
		FROM batches
		WHERE `+where+`
		ORDER BY id
		FOR UPDATE
	`, arg)
	if err != nil {
		return nil, err
	}
	batches, err := collectBatches(rows)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]domain.Batch, len(batches))
	for _, b := range batches {
		byID[b.ID] = b
	}
	return byID, nil
}

func updateBatch(ctx context.Context, tx *sql.Tx, b domain.Batch) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE batches
		SET qty_shelf = $2, qty_store = $3, qty_main = $4, updated_at = now()
		WHERE id = $1
	`, b.ID, b.QtyShelf, b.QtyStore, b.QtyMain)
	return err
}

func poolColumn(pool domain.Pool) (string, error) {
	switch pool {
	case domain.PoolShelf:
		return "qty_shelf", nil
	case domain.PoolStore:
		return "qty_store", nil
	case domain.PoolMain:
		return "qty_main", nil
	}
	return "", fmt.Errorf("%w: unknown stock pool %q", domain.ErrValidation, pool)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}
