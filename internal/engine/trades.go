package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	TradeStatusPending   = "pending"
	TradeStatusCompleted = "completed"
	TradeStatusFailed    = "failed"
)

// Trade is one settled match between a buy and a sell order on the same pair.
// Status moves pending -> completed/failed exactly once.
type Trade struct {
	ID            uuid.UUID
	BuyOrderID    uuid.UUID
	SellOrderID   uuid.UUID
	BuyerID       uuid.UUID
	SellerID      uuid.UUID
	BaseAsset     string
	QuoteAsset    string
	Price         decimal.Decimal
	Quantity      decimal.Decimal
	Status        string
	FailureReason string
	CreatedAt     time.Time
	CompletedAt   *time.Time
}

func (t *Trade) Terminal() bool {
	return t.Status == TradeStatusCompleted || t.Status == TradeStatusFailed
}

type tradeLog struct {
	mu    sync.RWMutex
	byID  map[uuid.UUID]*Trade
	order []uuid.UUID
}

func newTradeLog() *tradeLog {
	return &tradeLog{byID: make(map[uuid.UUID]*Trade)}
}

func (l *tradeLog) record(trade Trade) *Trade {
	if trade.ID == uuid.Nil {
		trade.ID = uuid.New()
	}
	if trade.CreatedAt.IsZero() {
		trade.CreatedAt = time.Now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	stored := trade
	l.byID[stored.ID] = &stored
	l.order = append(l.order, stored.ID)
	snapshot := stored
	return &snapshot
}

// finish flips a pending trade to a terminal status. A second call for the
// same trade is a no-op, which is what makes deferred confirmation retryable.
func (l *tradeLog) finish(id uuid.UUID, status, reason string) (*Trade, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	trade, ok := l.byID[id]
	if !ok {
		return nil, false, ErrTradeNotFound
	}
	if trade.Terminal() {
		snapshot := *trade
		return &snapshot, false, nil
	}
	now := time.Now().UTC()
	trade.Status = status
	trade.FailureReason = reason
	trade.CompletedAt = &now
	snapshot := *trade
	return &snapshot, true, nil
}

func (l *tradeLog) get(id uuid.UUID) (*Trade, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	trade, ok := l.byID[id]
	if !ok {
		return nil, ErrTradeNotFound
	}
	snapshot := *trade
	return &snapshot, nil
}

// listByUser returns trades involving the user, newest first.
func (l *tradeLog) listByUser(userID uuid.UUID, limit int) []Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Trade, 0)
	for i := len(l.order) - 1; i >= 0; i-- {
		trade := l.byID[l.order[i]]
		if trade.BuyerID != userID && trade.SellerID != userID {
			continue
		}
		out = append(out, *trade)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func (l *tradeLog) listByOrder(orderID uuid.UUID) []Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Trade, 0)
	for _, id := range l.order {
		trade := l.byID[id]
		if trade.BuyOrderID == orderID || trade.SellOrderID == orderID {
			out = append(out, *trade)
		}
	}
	return out
}
