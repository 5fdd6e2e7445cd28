package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/big-kim/castle-sub001/internal/engine"
	"github.com/big-kim/castle-sub001/internal/ledger"
)

func TestMemoryWalletRoundTrip(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	userID := uuid.New()

	w := ledger.Wallet{UserID: userID, Asset: "BTC", Balance: decimal.NewFromInt(5)}
	if err := m.SaveWallet(ctx, w); err != nil {
		t.Fatalf("save: %v", err)
	}
	// A second save for the same key overwrites.
	w.Balance = decimal.NewFromInt(7)
	if err := m.SaveWallet(ctx, w); err != nil {
		t.Fatalf("save: %v", err)
	}

	wallets, err := m.LoadWallets(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(wallets) != 1 {
		t.Fatalf("expected 1 wallet, got %d", len(wallets))
	}
	if !wallets[0].Balance.Equal(decimal.NewFromInt(7)) {
		t.Fatalf("expected latest balance, got %s", wallets[0].Balance.String())
	}
}

func TestMemoryLoadOpenOrders(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()

	save := func(pair string, status string, age time.Duration) uuid.UUID {
		parts := [2]string{"BTC", "USD"}
		if pair == "ETH-USD" {
			parts[0] = "ETH"
		}
		order := engine.Order{
			ID:         uuid.New(),
			UserID:     uuid.New(),
			Side:       engine.SideBuy,
			BaseAsset:  parts[0],
			QuoteAsset: parts[1],
			Price:      decimal.NewFromInt(100),
			Quantity:   decimal.NewFromInt(1),
			Status:     status,
			CreatedAt:  now.Add(-age),
		}
		if err := m.SaveOrder(ctx, order); err != nil {
			t.Fatalf("save order: %v", err)
		}
		return order.ID
	}

	oldest := save("BTC-USD", engine.StatusActive, 3*time.Hour)
	newest := save("BTC-USD", engine.StatusPartiallyFilled, time.Hour)
	save("BTC-USD", engine.StatusCompleted, 2*time.Hour)
	save("BTC-USD", engine.StatusCancelled, 2*time.Hour)
	other := save("ETH-USD", engine.StatusActive, 2*time.Hour)

	orders, err := m.LoadOpenOrders(ctx, "btc-usd")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("expected 2 open orders, got %d", len(orders))
	}
	if orders[0].ID != oldest || orders[1].ID != newest {
		t.Fatalf("expected oldest-first ordering")
	}

	all, err := m.LoadOpenOrders(ctx, "")
	if err != nil {
		t.Fatalf("load all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 open orders across pairs, got %d", len(all))
	}
	found := false
	for _, order := range all {
		if order.ID == other {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected the ETH-USD order in the unfiltered load")
	}
}

func TestMemoryTransactionAndTrade(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	tx := ledger.Transaction{ID: uuid.New(), UserID: uuid.New(), Asset: "BTC",
		Direction: ledger.DirectionCredit, Amount: decimal.NewFromInt(1),
		Status: ledger.TxStatusCompleted}
	if err := m.SaveTransaction(ctx, tx); err != nil {
		t.Fatalf("save transaction: %v", err)
	}
	got, ok := m.Transaction(tx.ID)
	if !ok || got.Status != ledger.TxStatusCompleted {
		t.Fatalf("transaction not stored")
	}

	trade := engine.Trade{ID: uuid.New(), Status: engine.TradeStatusPending,
		Price: decimal.NewFromInt(100), Quantity: decimal.NewFromInt(1)}
	if err := m.SaveTrade(ctx, trade); err != nil {
		t.Fatalf("save trade: %v", err)
	}
	if _, ok := m.Trade(trade.ID); !ok {
		t.Fatalf("trade not stored")
	}
}
