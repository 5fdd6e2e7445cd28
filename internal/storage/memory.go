package storage

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/big-kim/castle-sub001/internal/engine"
	"github.com/big-kim/castle-sub001/internal/ledger"
)

// Memory keeps everything in process. It backs unit tests and single-node
// deployments that can rebuild state from upstream events.
type Memory struct {
	mu           sync.RWMutex
	wallets      map[string]ledger.Wallet
	transactions map[uuid.UUID]ledger.Transaction
	orders       map[uuid.UUID]engine.Order
	trades       map[uuid.UUID]engine.Trade
}

func NewMemory() *Memory {
	return &Memory{
		wallets:      make(map[string]ledger.Wallet),
		transactions: make(map[uuid.UUID]ledger.Transaction),
		orders:       make(map[uuid.UUID]engine.Order),
		trades:       make(map[uuid.UUID]engine.Trade),
	}
}

func (m *Memory) SaveWallet(_ context.Context, w ledger.Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wallets[w.UserID.String()+":"+strings.ToUpper(w.Asset)] = w
	return nil
}

func (m *Memory) LoadWallets(_ context.Context) ([]ledger.Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ledger.Wallet, 0, len(m.wallets))
	for _, w := range m.wallets {
		out = append(out, w)
	}
	return out, nil
}

func (m *Memory) SaveTransaction(_ context.Context, tx ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions[tx.ID] = tx
	return nil
}

func (m *Memory) SaveOrder(_ context.Context, order engine.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[order.ID] = order
	return nil
}

func (m *Memory) SaveTrade(_ context.Context, trade engine.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades[trade.ID] = trade
	return nil
}

// LoadOpenOrders returns persisted orders that still belong in a book. An
// empty pair loads every pair.
func (m *Memory) LoadOpenOrders(_ context.Context, pair string) ([]*engine.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pair = strings.ToUpper(strings.TrimSpace(pair))
	out := make([]*engine.Order, 0)
	for _, order := range m.orders {
		if order.Status != engine.StatusActive && order.Status != engine.StatusPartiallyFilled {
			continue
		}
		if pair != "" && order.Pair() != pair {
			continue
		}
		snapshot := order
		out = append(out, &snapshot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) Transaction(id uuid.UUID) (ledger.Transaction, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.transactions[id]
	return tx, ok
}

func (m *Memory) Order(id uuid.UUID) (engine.Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	order, ok := m.orders[id]
	return order, ok
}

func (m *Memory) Trade(id uuid.UUID) (engine.Trade, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	trade, ok := m.trades[id]
	return trade, ok
}
