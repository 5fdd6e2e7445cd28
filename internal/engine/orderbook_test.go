package engine

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func bookOrder(userID uuid.UUID, side string, price, qty int64) *Order {
	return &Order{
		ID:         uuid.New(),
		UserID:     userID,
		Side:       side,
		BaseAsset:  "BTC",
		QuoteAsset: "USD",
		Price:      decimal.NewFromInt(price),
		Quantity:   decimal.NewFromInt(qty),
		Status:     StatusActive,
	}
}

func TestBookInsertAndRemove(t *testing.T) {
	book := NewOrderBook("BTC-USD")
	order := bookOrder(uuid.New(), SideBuy, 100, 1)

	if err := book.Insert(order); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !book.Contains(order.ID) {
		t.Fatalf("expected order in book")
	}
	// Re-insert of the same id is a no-op.
	if err := book.Insert(order); err != nil {
		t.Fatalf("re-insert: %v", err)
	}
	if got := book.Depth(SideBuy); got != 1 {
		t.Fatalf("expected depth 1, got %d", got)
	}

	if !book.Remove(order.ID) {
		t.Fatalf("expected remove to succeed")
	}
	if book.Remove(order.ID) {
		t.Fatalf("expected second remove to report missing")
	}
	if book.Contains(order.ID) {
		t.Fatalf("expected order gone")
	}
}

func TestBookIgnoresTerminalOrders(t *testing.T) {
	book := NewOrderBook("BTC-USD")

	cancelled := bookOrder(uuid.New(), SideBuy, 100, 1)
	cancelled.Status = StatusCancelled
	if err := book.Insert(cancelled); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if book.Contains(cancelled.ID) {
		t.Fatalf("terminal order must not enter the book")
	}

	filled := bookOrder(uuid.New(), SideSell, 100, 1)
	filled.Filled = filled.Quantity
	filled.Status = StatusActive
	if err := book.Insert(filled); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if book.Contains(filled.ID) {
		t.Fatalf("fully filled order must not enter the book")
	}
}

func TestActiveOrderingBuys(t *testing.T) {
	book := NewOrderBook("BTC-USD")

	low := bookOrder(uuid.New(), SideBuy, 98, 1)
	highFirst := bookOrder(uuid.New(), SideBuy, 100, 1)
	highSecond := bookOrder(uuid.New(), SideBuy, 100, 1)
	for _, o := range []*Order{low, highFirst, highSecond} {
		if err := book.Insert(o); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	active := book.Active(SideBuy, uuid.Nil)
	if len(active) != 3 {
		t.Fatalf("expected 3 orders, got %d", len(active))
	}
	if active[0].ID != highFirst.ID || active[1].ID != highSecond.ID || active[2].ID != low.ID {
		t.Fatalf("buys must come back price-descending, fifo within a level")
	}
}

func TestActiveOrderingSells(t *testing.T) {
	book := NewOrderBook("BTC-USD")

	high := bookOrder(uuid.New(), SideSell, 105, 1)
	cheap := bookOrder(uuid.New(), SideSell, 101, 1)
	for _, o := range []*Order{high, cheap} {
		if err := book.Insert(o); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	active := book.Active(SideSell, uuid.Nil)
	if len(active) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(active))
	}
	if active[0].ID != cheap.ID {
		t.Fatalf("sells must come back price-ascending")
	}
}

func TestActiveExcludesUser(t *testing.T) {
	book := NewOrderBook("BTC-USD")
	mine := uuid.New()

	own := bookOrder(mine, SideSell, 100, 1)
	other := bookOrder(uuid.New(), SideSell, 100, 1)
	for _, o := range []*Order{own, other} {
		if err := book.Insert(o); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	active := book.Active(SideSell, mine)
	if len(active) != 1 || active[0].ID != other.ID {
		t.Fatalf("expected own order excluded")
	}
}

func TestLevelsAggregation(t *testing.T) {
	book := NewOrderBook("BTC-USD")

	a := bookOrder(uuid.New(), SideBuy, 100, 2)
	b := bookOrder(uuid.New(), SideBuy, 100, 3)
	c := bookOrder(uuid.New(), SideBuy, 99, 1)
	b.Filled = decimal.NewFromInt(1)
	b.Status = StatusPartiallyFilled
	for _, o := range []*Order{a, b, c} {
		if err := book.Insert(o); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	levels := book.Levels(SideBuy)
	if len(levels) != 2 {
		t.Fatalf("expected 2 levels, got %d", len(levels))
	}
	// Remaining quantity is aggregated, not the original size.
	if !levels[0].Price.Equal(decimal.NewFromInt(100)) || !levels[0].Quantity.Equal(decimal.NewFromInt(4)) || levels[0].Orders != 2 {
		t.Fatalf("unexpected top level: %+v", levels[0])
	}
	if !levels[1].Price.Equal(decimal.NewFromInt(99)) {
		t.Fatalf("expected 99 level second, got %s", levels[1].Price.String())
	}
}
