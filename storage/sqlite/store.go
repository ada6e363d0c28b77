// Package sqlite provides a SQLite-backed order store so the ledger survives
// process restarts.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/peacprotocol/x402shop"
)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	order_id TEXT PRIMARY KEY,
	created_at_ms INTEGER NOT NULL,
	grand_total TEXT NOT NULL,
	payer TEXT NOT NULL,
	doc TEXT NOT NULL
);
`

// Store persists fulfilled orders in SQLite. It implements
// [x402shop.OrderStore].
type Store struct {
	sqlDB *sql.DB
}

// Open opens the order store at path and applies the schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Put inserts one order record. Orders are immutable; a second write for the
// same id replaces it with identical content.
func (s *Store) Put(ctx context.Context, order *x402shop.StoredOrder) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if order == nil || order.OrderID == "" {
		return errors.New("order id is required")
	}
	doc, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("serialize order: %w", err)
	}
	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT OR REPLACE INTO orders (order_id, created_at_ms, grand_total, payer, doc) VALUES (?, ?, ?, ?, ?)`,
		order.OrderID,
		order.CreatedAt.UTC().UnixMilli(),
		order.Totals.GrandTotal.String(),
		order.Payment.Payer,
		string(doc),
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// Get returns the order or [x402shop.ErrOrderNotFound].
func (s *Store) Get(ctx context.Context, id string) (*x402shop.StoredOrder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	row := s.sqlDB.QueryRowContext(ctx, `SELECT doc FROM orders WHERE order_id = ?`, id)
	var doc string
	if err := row.Scan(&doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, x402shop.ErrOrderNotFound
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}
	return decodeOrder(doc)
}

// List returns every stored order in insertion order.
func (s *Store) List(ctx context.Context) ([]*x402shop.StoredOrder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT doc FROM orders ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var orders []*x402shop.StoredOrder
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		order, err := decodeOrder(doc)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	return orders, nil
}

func decodeOrder(doc string) (*x402shop.StoredOrder, error) {
	var order x402shop.StoredOrder
	if err := json.Unmarshal([]byte(doc), &order); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	return &order, nil
}
