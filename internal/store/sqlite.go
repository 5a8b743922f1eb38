package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"efriend-trader/internal/models"
)

// SQLiteStore implements OrderStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-based order journal.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Tracked orders, one row per (session, order number)
	CREATE TABLE IF NOT EXISTS orders (
		account TEXT NOT NULL,
		market TEXT NOT NULL,
		order_num TEXT NOT NULL,
		origin_order_num TEXT,
		market_code TEXT,
		product_code TEXT NOT NULL,
		product_name TEXT,
		side TEXT NOT NULL,
		count INTEGER NOT NULL,
		remaining INTEGER NOT NULL,
		price TEXT NOT NULL,
		executed_price TEXT,
		order_date TEXT,
		state TEXT NOT NULL,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (account, market, order_num)
	);

	-- State changes of tracked orders
	CREATE TABLE IF NOT EXISTS order_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account TEXT NOT NULL,
		market TEXT NOT NULL,
		order_num TEXT NOT NULL,
		state TEXT NOT NULL,
		remaining INTEGER NOT NULL,
		recorded_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_order_events_order ON order_events(account, market, order_num);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveOrder upserts order and records an event when its state or remaining
// quantity changed.
func (s *SQLiteStore) SaveOrder(ctx context.Context, key models.SessionKey, order *models.Order) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var prevState string
	var prevRemaining int
	err = tx.QueryRowContext(ctx, `
		SELECT state, remaining FROM orders WHERE account = ? AND market = ? AND order_num = ?
	`, key.Account, string(key.Market), order.OrderNum).Scan(&prevState, &prevRemaining)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to read order: %w", err)
	}
	changed := err == sql.ErrNoRows || prevState != string(order.State) || prevRemaining != order.Remaining

	updatedAt := order.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (account, market, order_num, origin_order_num, market_code, product_code, product_name, side, count, remaining, price, executed_price, order_date, state, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account, market, order_num) DO UPDATE SET
			origin_order_num = excluded.origin_order_num,
			market_code = excluded.market_code,
			product_name = excluded.product_name,
			count = excluded.count,
			remaining = excluded.remaining,
			price = excluded.price,
			executed_price = excluded.executed_price,
			order_date = excluded.order_date,
			state = excluded.state,
			updated_at = excluded.updated_at
	`, key.Account, string(key.Market), order.OrderNum, order.OriginOrderNum, order.MarketCode, order.ProductCode,
		order.ProductName, string(order.Side), order.Count, order.Remaining, order.Price.String(),
		order.ExecutedPrice.String(), order.OrderDate, string(order.State), updatedAt)
	if err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}

	if changed {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_events (account, market, order_num, state, remaining, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, key.Account, string(key.Market), order.OrderNum, string(order.State), order.Remaining, updatedAt)
		if err != nil {
			return fmt.Errorf("failed to record order event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// LoadOrders returns the journaled orders of key in first-seen order.
func (s *SQLiteStore) LoadOrders(ctx context.Context, key models.SessionKey) ([]models.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT order_num, origin_order_num, market_code, product_code, product_name, side, count, remaining, price, executed_price, order_date, state, updated_at
		FROM orders
		WHERE account = ? AND market = ?
		ORDER BY rowid ASC
	`, key.Account, string(key.Market))
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		var o models.Order
		var origin, marketCode, productName, executedPrice, orderDate sql.NullString
		var side, state, price string

		if err := rows.Scan(&o.OrderNum, &origin, &marketCode, &o.ProductCode, &productName, &side, &o.Count,
			&o.Remaining, &price, &executedPrice, &orderDate, &state, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}

		o.OriginOrderNum = origin.String
		o.MarketCode = marketCode.String
		o.ProductName = productName.String
		o.OrderDate = orderDate.String
		o.Side = models.OrderSide(side)
		o.State = models.OrderState(state)
		o.Price, _ = decimal.NewFromString(price)
		if executedPrice.Valid {
			o.ExecutedPrice, _ = decimal.NewFromString(executedPrice.String)
		}
		orders = append(orders, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating orders: %w", err)
	}
	return orders, nil
}

// DeleteOrders drops every journaled order of key.
func (s *SQLiteStore) DeleteOrders(ctx context.Context, key models.SessionKey) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"orders", "order_events"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE account = ? AND market = ?", key.Account, string(key.Market)); err != nil {
			return fmt.Errorf("failed to delete from %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// History returns the recorded state changes of one order, oldest first.
func (s *SQLiteStore) History(ctx context.Context, key models.SessionKey, orderNum string) ([]OrderEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT order_num, state, remaining, recorded_at
		FROM order_events
		WHERE account = ? AND market = ? AND order_num = ?
		ORDER BY id ASC
	`, key.Account, string(key.Market), orderNum)
	if err != nil {
		return nil, fmt.Errorf("failed to query order events: %w", err)
	}
	defer rows.Close()

	var events []OrderEvent
	for rows.Next() {
		var e OrderEvent
		var state string
		if err := rows.Scan(&e.OrderNum, &state, &e.Remaining, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order event: %w", err)
		}
		e.State = models.OrderState(state)
		events = append(events, e)
	}
	return events, rows.Err()
}
