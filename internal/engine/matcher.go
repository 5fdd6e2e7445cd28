package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/big-kim/castle-sub001/internal/ledger"
)

// AutoMatch runs a matching pass for an order already resting in its book.
// Candidates are visited in price-time priority; the scan stops at the first
// candidate whose price no longer crosses, since later candidates only get
// worse. A candidate whose settlement fails on funds is skipped, not fatal.
func (e *Engine) AutoMatch(ctx context.Context, orderID uuid.UUID) ([]Trade, error) {
	start := time.Now()
	incoming, book, err := e.lookup(orderID)
	if err != nil {
		return nil, err
	}

	book.matchMu.Lock()
	defer book.matchMu.Unlock()

	if incoming.Terminal() {
		return nil, ErrOrderTerminal
	}

	trades := make([]Trade, 0)
	candidates := book.Active(oppositeSide(incoming.Side), incoming.UserID)
	for _, candidate := range candidates {
		if incoming.Remaining().LessThanOrEqual(decimal.Zero) {
			break
		}
		if candidate.Terminal() || candidate.Remaining().LessThanOrEqual(decimal.Zero) {
			continue
		}
		if !crossed(incoming, candidate) {
			break
		}

		qty := minDecimal(incoming.Remaining(), candidate.Remaining())
		buy, sell := orient(incoming, candidate)

		// The resting order sets the execution price.
		trade, err := e.settle(ctx, buy, sell, qty, candidate.Price)
		if err != nil {
			if errors.Is(err, ledger.ErrInsufficientBalance) {
				e.logger.Debug("match candidate skipped",
					"order_id", incoming.ID.String(),
					"candidate_id", candidate.ID.String(),
					"error", err)
				continue
			}
			return trades, err
		}

		e.applyFill(ctx, book, incoming, qty)
		e.applyFill(ctx, book, candidate, qty)
		trades = append(trades, *trade)
	}

	e.updateDepth(book)
	if e.metrics != nil {
		e.metrics.ObserveMatch(book.Pair(), len(trades), time.Since(start))
	}
	return trades, nil
}

// ManualExecute settles a specific order pair directly, bypassing the
// priority scan. The counter order is treated as the resting side and prices
// the trade. Ownership of one of the two orders is checked by the caller.
func (e *Engine) ManualExecute(ctx context.Context, orderID, counterOrderID uuid.UUID, qty decimal.Decimal) (*Trade, error) {
	if orderID == counterOrderID {
		return nil, ErrSelfTrade
	}
	order, book, err := e.lookup(orderID)
	if err != nil {
		return nil, err
	}
	counter, counterBook, err := e.lookup(counterOrderID)
	if err != nil {
		return nil, err
	}
	if book != counterBook {
		return nil, ErrPairMismatch
	}

	book.matchMu.Lock()
	defer book.matchMu.Unlock()

	if order.Terminal() || counter.Terminal() {
		return nil, ErrOrderTerminal
	}
	if order.UserID == counter.UserID {
		return nil, ErrSelfTrade
	}
	if normalizeSide(order.Side) == normalizeSide(counter.Side) {
		return nil, ErrSideMismatch
	}
	if !crossed(order, counter) {
		return nil, ErrIncompatiblePrice
	}
	if qty.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidQuantity
	}
	if qty.GreaterThan(order.Remaining()) || qty.GreaterThan(counter.Remaining()) {
		return nil, ErrExcessiveQuantity
	}

	buy, sell := orient(order, counter)
	trade, err := e.settle(ctx, buy, sell, qty, counter.Price)
	if err != nil {
		return nil, err
	}

	e.applyFill(ctx, book, order, qty)
	e.applyFill(ctx, book, counter, qty)
	e.updateDepth(book)
	return trade, nil
}

// MatchPreview is one prospective fill returned by FindCompatibleMatches.
type MatchPreview struct {
	OrderID  uuid.UUID
	UserID   uuid.UUID
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// FindCompatibleMatches reports the fills an auto-match pass would attempt
// for the order, without touching balances or the book.
func (e *Engine) FindCompatibleMatches(orderID uuid.UUID) ([]MatchPreview, error) {
	order, book, err := e.lookup(orderID)
	if err != nil {
		return nil, err
	}

	book.matchMu.Lock()
	defer book.matchMu.Unlock()

	if order.Terminal() {
		return nil, ErrOrderTerminal
	}

	previews := make([]MatchPreview, 0)
	remaining := order.Remaining()
	for _, candidate := range book.Active(oppositeSide(order.Side), order.UserID) {
		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}
		if !crossed(order, candidate) {
			break
		}
		qty := minDecimal(remaining, candidate.Remaining())
		previews = append(previews, MatchPreview{
			OrderID:  candidate.ID,
			UserID:   candidate.UserID,
			Price:    candidate.Price,
			Quantity: qty,
		})
		remaining = remaining.Sub(qty)
	}
	return previews, nil
}

func (e *Engine) applyFill(ctx context.Context, book *OrderBook, order *Order, qty decimal.Decimal) {
	order.fill(qty)
	if order.Status == StatusCompleted {
		book.Remove(order.ID)
	}
	e.persistOrder(ctx, order)
}

func crossed(a, b *Order) bool {
	buy, sell := orient(a, b)
	return buy.Price.GreaterThanOrEqual(sell.Price)
}

func orient(a, b *Order) (buy, sell *Order) {
	if normalizeSide(a.Side) == SideBuy {
		return a, b
	}
	return b, a
}

func minDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}
