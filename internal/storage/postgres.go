package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"log/slog"

	"github.com/big-kim/castle-sub001/internal/engine"
	"github.com/big-kim/castle-sub001/internal/ledger"
)

// Postgres is the durable write-through store behind the in-memory state.
// Every save is an upsert keyed on id, so retried writes are harmless.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewPostgres(pool *pgxpool.Pool, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{pool: pool, logger: logger}
}

// EnsureSchema creates the tables on startup when they are missing.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS wallets (
			user_id UUID NOT NULL,
			asset TEXT NOT NULL,
			balance NUMERIC(36, 18) NOT NULL DEFAULT 0,
			total_earned NUMERIC(36, 18) NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (user_id, asset)
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL,
			asset TEXT NOT NULL,
			direction TEXT NOT NULL,
			amount NUMERIC(36, 18) NOT NULL,
			reason TEXT NOT NULL,
			counterparty_address TEXT NOT NULL DEFAULT '',
			failure_reason TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions (user_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL,
			side TEXT NOT NULL,
			base_asset TEXT NOT NULL,
			quote_asset TEXT NOT NULL,
			price NUMERIC(36, 18) NOT NULL,
			quantity NUMERIC(36, 18) NOT NULL,
			filled NUMERIC(36, 18) NOT NULL DEFAULT 0,
			total_value NUMERIC(36, 18) NOT NULL DEFAULT 0,
			payment_method TEXT NOT NULL DEFAULT '',
			metadata JSONB,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_open ON orders (base_asset, quote_asset) WHERE status IN ('active', 'partially_filled')`,
		`CREATE TABLE IF NOT EXISTS trades (
			id UUID PRIMARY KEY,
			buy_order_id UUID NOT NULL,
			sell_order_id UUID NOT NULL,
			buyer_id UUID NOT NULL,
			seller_id UUID NOT NULL,
			base_asset TEXT NOT NULL,
			quote_asset TEXT NOT NULL,
			price NUMERIC(36, 18) NOT NULL,
			quantity NUMERIC(36, 18) NOT NULL,
			status TEXT NOT NULL,
			failure_reason TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_buyer ON trades (buyer_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_seller ON trades (seller_id, created_at DESC)`,
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *Postgres) SaveWallet(ctx context.Context, w ledger.Wallet) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO wallets (user_id, asset, balance, total_earned, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, asset) DO UPDATE
		SET balance = EXCLUDED.balance, total_earned = EXCLUDED.total_earned, updated_at = EXCLUDED.updated_at
	`, w.UserID, strings.ToUpper(w.Asset), w.Balance.String(), w.TotalEarned.String(), w.CreatedAt, w.UpdatedAt)
	return err
}

func (s *Postgres) LoadWallets(ctx context.Context) ([]ledger.Wallet, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, asset, balance::text, total_earned::text, created_at, updated_at
		FROM wallets
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var wallets []ledger.Wallet
	for rows.Next() {
		var w ledger.Wallet
		var balanceStr, earnedStr string
		if err := rows.Scan(&w.UserID, &w.Asset, &balanceStr, &earnedStr, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, err
		}
		if w.Balance, err = decimal.NewFromString(balanceStr); err != nil {
			return nil, fmt.Errorf("parse wallet balance: %w", err)
		}
		if w.TotalEarned, err = decimal.NewFromString(earnedStr); err != nil {
			return nil, fmt.Errorf("parse wallet total earned: %w", err)
		}
		wallets = append(wallets, w)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return wallets, nil
}

func (s *Postgres) SaveTransaction(ctx context.Context, tx ledger.Transaction) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO transactions (id, user_id, asset, direction, amount, reason, counterparty_address, failure_reason, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE
		SET failure_reason = EXCLUDED.failure_reason, status = EXCLUDED.status, updated_at = EXCLUDED.updated_at
	`, tx.ID, tx.UserID, tx.Asset, tx.Direction, tx.Amount.String(), string(tx.Reason), tx.CounterpartyAddress, tx.FailureReason, tx.Status, tx.CreatedAt, tx.UpdatedAt)
	return err
}

func (s *Postgres) SaveOrder(ctx context.Context, order engine.Order) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO orders (id, user_id, side, base_asset, quote_asset, price, quantity, filled, total_value, payment_method, metadata, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE
		SET filled = EXCLUDED.filled, status = EXCLUDED.status, updated_at = EXCLUDED.updated_at
	`, order.ID, order.UserID, order.Side, order.BaseAsset, order.QuoteAsset,
		order.Price.String(), order.Quantity.String(), order.Filled.String(), order.TotalValue.String(),
		order.PaymentMethod, order.Metadata, order.Status, order.CreatedAt, order.UpdatedAt)
	return err
}

func (s *Postgres) SaveTrade(ctx context.Context, trade engine.Trade) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO trades (id, buy_order_id, sell_order_id, buyer_id, seller_id, base_asset, quote_asset, price, quantity, status, failure_reason, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status, failure_reason = EXCLUDED.failure_reason, completed_at = EXCLUDED.completed_at
	`, trade.ID, trade.BuyOrderID, trade.SellOrderID, trade.BuyerID, trade.SellerID,
		trade.BaseAsset, trade.QuoteAsset, trade.Price.String(), trade.Quantity.String(),
		trade.Status, trade.FailureReason, trade.CreatedAt, trade.CompletedAt)
	return err
}

func (s *Postgres) LoadOpenOrders(ctx context.Context, pair string) ([]*engine.Order, error) {
	query := `
		SELECT id, user_id, side, base_asset, quote_asset, price::text, quantity::text, filled::text, total_value::text, payment_method, metadata, status, created_at, updated_at
		FROM orders
		WHERE status IN ('active', 'partially_filled')
	`
	args := []any{}
	if trimmed := strings.ToUpper(strings.TrimSpace(pair)); trimmed != "" {
		parts := strings.SplitN(trimmed, "-", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("pair must be in BASE-QUOTE format")
		}
		query += ` AND base_asset = $1 AND quote_asset = $2`
		args = append(args, parts[0], parts[1])
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*engine.Order
	for rows.Next() {
		var order engine.Order
		var priceStr, quantityStr, filledStr, totalStr string
		if err := rows.Scan(&order.ID, &order.UserID, &order.Side, &order.BaseAsset, &order.QuoteAsset,
			&priceStr, &quantityStr, &filledStr, &totalStr, &order.PaymentMethod, &order.Metadata,
			&order.Status, &order.CreatedAt, &order.UpdatedAt); err != nil {
			return nil, err
		}
		if order.Price, err = decimal.NewFromString(priceStr); err != nil {
			return nil, fmt.Errorf("parse order price: %w", err)
		}
		if order.Quantity, err = decimal.NewFromString(quantityStr); err != nil {
			return nil, fmt.Errorf("parse order quantity: %w", err)
		}
		if order.Filled, err = decimal.NewFromString(filledStr); err != nil {
			return nil, fmt.Errorf("parse order filled: %w", err)
		}
		if order.TotalValue, err = decimal.NewFromString(totalStr); err != nil {
			return nil, fmt.Errorf("parse order total value: %w", err)
		}
		orders = append(orders, &order)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return orders, nil
}

// LoadTransactions pages a user's audit trail from storage, newest first.
func (s *Postgres) LoadTransactions(ctx context.Context, userID string, limit int) ([]ledger.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, asset, direction, amount::text, reason, counterparty_address, failure_reason, status, created_at, updated_at
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []ledger.Transaction
	for rows.Next() {
		var tx ledger.Transaction
		var amountStr, reasonStr string
		if err := rows.Scan(&tx.ID, &tx.UserID, &tx.Asset, &tx.Direction, &amountStr, &reasonStr,
			&tx.CounterpartyAddress, &tx.FailureReason, &tx.Status, &tx.CreatedAt, &tx.UpdatedAt); err != nil {
			return nil, err
		}
		if tx.Amount, err = decimal.NewFromString(amountStr); err != nil {
			return nil, fmt.Errorf("parse transaction amount: %w", err)
		}
		tx.Reason = ledger.Reason(reasonStr)
		transactions = append(transactions, tx)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return transactions, nil
}
