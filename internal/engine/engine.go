package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"log/slog"

	"github.com/big-kim/castle-sub001/internal/ledger"
)

type Store interface {
	SaveOrder(ctx context.Context, order Order) error
	SaveTrade(ctx context.Context, trade Trade) error
	LoadOpenOrders(ctx context.Context, pair string) ([]*Order, error)
}

// Confirmer receives trade ids whose deferred settlement confirmation is
// still outstanding.
type Confirmer interface {
	Enqueue(tradeID uuid.UUID)
}

type Metrics interface {
	ObserveMatch(pair string, trades int, duration time.Duration)
	ObserveSettlement(status string, duration time.Duration)
	ObserveConfirmation(status string)
	SetBookDepth(pair, side string, depth float64)
}

// Engine owns the order books and runs matching and settlement against the
// ledger.
type Engine struct {
	mu     sync.RWMutex
	books  map[string]*OrderBook
	orders map[uuid.UUID]*Order

	ledger        *ledger.Ledger
	trades        *tradeLog
	store         Store
	confirmations Confirmer
	logger        *slog.Logger
	metrics       Metrics
}

func New(assetLedger *ledger.Ledger, store Store, confirmations Confirmer, logger *slog.Logger, metrics Metrics) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		books:         make(map[string]*OrderBook),
		orders:        make(map[uuid.UUID]*Order),
		ledger:        assetLedger,
		trades:        newTradeLog(),
		store:         store,
		confirmations: confirmations,
		logger:        logger,
		metrics:       metrics,
	}
}

// SetConfirmer wires the deferred confirmation queue after construction. The
// worker needs the engine and the engine needs the worker's queue.
func (e *Engine) SetConfirmer(c Confirmer) {
	e.confirmations = c
}

// Insert validates and rests a new order in its pair's book. Matching is a
// separate step so callers control whether an auto-match pass runs.
func (e *Engine) Insert(ctx context.Context, order *Order) error {
	if err := validateOrder(order); err != nil {
		return err
	}
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	if order.Status == "" {
		order.Status = StatusActive
	}
	order.Side = normalizeSide(order.Side)
	order.BaseAsset = strings.ToUpper(strings.TrimSpace(order.BaseAsset))
	order.QuoteAsset = strings.ToUpper(strings.TrimSpace(order.QuoteAsset))
	if order.TotalValue.IsZero() {
		order.TotalValue = order.Price.Mul(order.Quantity)
	}

	book := e.getBook(order.Pair())
	if err := book.Insert(order); err != nil {
		return err
	}

	e.mu.Lock()
	e.orders[order.ID] = order
	e.mu.Unlock()

	e.persistOrder(ctx, order)
	e.updateDepth(book)
	return nil
}

// Cancel is a compare-and-swap on the order status: it fails with
// ErrOrderTerminal when the order has already completed or been cancelled.
func (e *Engine) Cancel(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	order, book, err := e.lookup(orderID)
	if err != nil {
		return nil, err
	}

	book.matchMu.Lock()
	defer book.matchMu.Unlock()

	if order.Terminal() {
		return nil, ErrOrderTerminal
	}
	order.Status = StatusCancelled
	order.UpdatedAt = time.Now().UTC()
	book.Remove(order.ID)

	e.persistOrder(ctx, order)
	e.updateDepth(book)

	snapshot := *order
	return &snapshot, nil
}

func (e *Engine) GetOrder(orderID uuid.UUID) (*Order, error) {
	e.mu.RLock()
	order := e.orders[orderID]
	e.mu.RUnlock()
	if order == nil {
		return nil, ErrOrderNotFound
	}

	book := e.getBook(order.Pair())
	book.matchMu.Lock()
	defer book.matchMu.Unlock()
	snapshot := *order
	return &snapshot, nil
}

// ListOrders returns a user's orders, newest first. Snapshots are taken under
// each book's match lock so a concurrent matching pass is never observed
// half-applied.
func (e *Engine) ListOrders(userID uuid.UUID, status string, limit int) []Order {
	e.mu.RLock()
	byPair := make(map[string][]*Order)
	for _, order := range e.orders {
		if order.UserID == userID {
			byPair[order.Pair()] = append(byPair[order.Pair()], order)
		}
	}
	e.mu.RUnlock()

	out := make([]Order, 0)
	for pair, orders := range byPair {
		book := e.getBook(pair)
		book.matchMu.Lock()
		for _, order := range orders {
			if status != "" && order.Status != status {
				continue
			}
			out = append(out, *order)
		}
		book.matchMu.Unlock()
	}
	sortOrdersNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (e *Engine) GetTrade(tradeID uuid.UUID) (*Trade, error) {
	return e.trades.get(tradeID)
}

func (e *Engine) ListTradesByUser(userID uuid.UUID, limit int) []Trade {
	return e.trades.listByUser(userID, limit)
}

func (e *Engine) ListTradesByOrder(orderID uuid.UUID) []Trade {
	return e.trades.listByOrder(orderID)
}

// ConfirmTrade flips a pending trade to completed. Safe to call any number of
// times; terminal trades are left untouched.
func (e *Engine) ConfirmTrade(ctx context.Context, tradeID uuid.UUID) (*Trade, error) {
	trade, changed, err := e.trades.finish(tradeID, TradeStatusCompleted, "")
	if err != nil {
		if e.metrics != nil {
			e.metrics.ObserveConfirmation("error")
		}
		return nil, err
	}
	if changed {
		e.persistTrade(ctx, trade)
	}
	if e.metrics != nil {
		status := "duplicate"
		if changed {
			status = "confirmed"
		}
		e.metrics.ObserveConfirmation(status)
	}
	return trade, nil
}

// FailTrade marks a pending trade failed. Idempotent like ConfirmTrade.
func (e *Engine) FailTrade(ctx context.Context, tradeID uuid.UUID, reason string) (*Trade, error) {
	trade, changed, err := e.trades.finish(tradeID, TradeStatusFailed, reason)
	if err != nil {
		return nil, err
	}
	if changed {
		e.persistTrade(ctx, trade)
	}
	return trade, nil
}

// Book returns the order book for a pair, creating it on first use.
func (e *Engine) Book(pair string) *OrderBook {
	return e.getBook(pair)
}

func (e *Engine) ActivePairs() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.books)
}

// LoadSnapshot rebuilds the books from persisted open orders. Run before the
// engine takes traffic.
func (e *Engine) LoadSnapshot(ctx context.Context) (int, error) {
	if e.store == nil {
		return 0, fmt.Errorf("order store not configured")
	}

	orders, err := e.store.LoadOpenOrders(ctx, "")
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	e.books = make(map[string]*OrderBook)
	e.orders = make(map[uuid.UUID]*Order)
	e.mu.Unlock()

	loaded := 0
	for _, order := range orders {
		if order == nil {
			continue
		}
		book := e.getBook(order.Pair())
		if err := book.Insert(order); err != nil {
			e.logger.Error("snapshot order load failed", "order_id", order.ID.String(), "error", err)
			continue
		}
		e.mu.Lock()
		e.orders[order.ID] = order
		e.mu.Unlock()
		loaded++
	}
	return loaded, nil
}

func (e *Engine) lookup(orderID uuid.UUID) (*Order, *OrderBook, error) {
	e.mu.RLock()
	order := e.orders[orderID]
	e.mu.RUnlock()
	if order == nil {
		return nil, nil, ErrOrderNotFound
	}
	return order, e.getBook(order.Pair()), nil
}

func (e *Engine) getBook(pair string) *OrderBook {
	key := strings.ToUpper(strings.TrimSpace(pair))

	e.mu.RLock()
	book := e.books[key]
	e.mu.RUnlock()
	if book != nil {
		return book
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	book = e.books[key]
	if book == nil {
		book = NewOrderBook(key)
		e.books[key] = book
	}
	return book
}

func (e *Engine) persistOrder(ctx context.Context, order *Order) {
	if e.store == nil {
		return
	}
	if err := e.store.SaveOrder(ctx, *order); err != nil {
		e.logger.Error("order persist failed", "order_id", order.ID.String(), "error", err)
	}
}

func (e *Engine) persistTrade(ctx context.Context, trade *Trade) {
	if e.store == nil {
		return
	}
	if err := e.store.SaveTrade(ctx, *trade); err != nil {
		e.logger.Error("trade persist failed", "trade_id", trade.ID.String(), "error", err)
	}
}

func (e *Engine) updateDepth(book *OrderBook) {
	if e.metrics == nil {
		return
	}
	e.metrics.SetBookDepth(book.Pair(), SideBuy, float64(book.Depth(SideBuy)))
	e.metrics.SetBookDepth(book.Pair(), SideSell, float64(book.Depth(SideSell)))
}

func validateOrder(order *Order) error {
	if order == nil {
		return fmt.Errorf("order required")
	}
	if order.UserID == uuid.Nil {
		return fmt.Errorf("user id required")
	}
	if normalizeSide(order.Side) == "" {
		return fmt.Errorf("invalid side")
	}
	if strings.TrimSpace(order.BaseAsset) == "" || strings.TrimSpace(order.QuoteAsset) == "" {
		return fmt.Errorf("base and quote assets required")
	}
	if strings.EqualFold(order.BaseAsset, order.QuoteAsset) {
		return fmt.Errorf("base and quote assets must differ")
	}
	if order.Quantity.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("quantity must be positive")
	}
	if order.Price.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("price must be positive")
	}
	return nil
}

func sortOrdersNewestFirst(orders []Order) {
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
}
