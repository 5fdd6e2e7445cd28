package engine

import (
	"container/heap"
	"container/list"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	SideBuy  = "buy"
	SideSell = "sell"

	StatusActive          = "active"
	StatusPartiallyFilled = "partially_filled"
	StatusCompleted       = "completed"
	StatusCancelled       = "cancelled"
)

// Order is a resting or incoming limit order. Quantity is the original size;
// Filled only ever grows, so Remaining is non-increasing.
type Order struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	Side          string
	BaseAsset     string
	QuoteAsset    string
	Price         decimal.Decimal
	Quantity      decimal.Decimal
	Filled        decimal.Decimal
	TotalValue    decimal.Decimal
	PaymentMethod string
	Metadata      json.RawMessage
	Status        string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.Filled)
}

func (o *Order) Pair() string {
	return o.BaseAsset + "-" + o.QuoteAsset
}

func (o *Order) Terminal() bool {
	return o.Status == StatusCompleted || o.Status == StatusCancelled
}

// fill applies a matched quantity and moves the status forward. Callers hold
// the book's match lock.
func (o *Order) fill(qty decimal.Decimal) {
	o.Filled = o.Filled.Add(qty)
	if o.Remaining().LessThanOrEqual(decimal.Zero) {
		o.Status = StatusCompleted
	} else {
		o.Status = StatusPartiallyFilled
	}
	o.UpdatedAt = time.Now().UTC()
}

// OrderBook holds the active and partially filled orders of one trading pair.
// matchMu serializes matching passes and order mutation for the pair; mu only
// guards the book's internal containers.
type OrderBook struct {
	pair    string
	matchMu sync.Mutex
	mu      sync.Mutex
	buys    *bookSide
	sells   *bookSide
	orders  map[uuid.UUID]*orderRef
}

func NewOrderBook(pair string) *OrderBook {
	return &OrderBook{
		pair:   pair,
		buys:   newBookSide(true),
		sells:  newBookSide(false),
		orders: make(map[uuid.UUID]*orderRef),
	}
}

func (ob *OrderBook) Pair() string {
	return ob.pair
}

func (ob *OrderBook) Insert(order *Order) error {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	if order == nil {
		return fmt.Errorf("order required")
	}
	if order.ID == uuid.Nil {
		return fmt.Errorf("order id required")
	}
	if _, exists := ob.orders[order.ID]; exists {
		return nil
	}
	if order.Terminal() || order.Remaining().LessThanOrEqual(decimal.Zero) {
		return nil
	}

	switch normalizeSide(order.Side) {
	case SideBuy:
		ob.orders[order.ID] = ob.buys.add(order)
	case SideSell:
		ob.orders[order.ID] = ob.sells.add(order)
	default:
		return fmt.Errorf("invalid side")
	}
	return nil
}

func (ob *OrderBook) Remove(orderID uuid.UUID) bool {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	ref, ok := ob.orders[orderID]
	if !ok {
		return false
	}
	ref.sideBook.remove(ref)
	delete(ob.orders, orderID)
	return true
}

func (ob *OrderBook) Contains(orderID uuid.UUID) bool {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	_, ok := ob.orders[orderID]
	return ok
}

func (ob *OrderBook) Depth(side string) int {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	count := 0
	for _, ref := range ob.orders {
		if ref.side == side {
			count++
		}
	}
	return count
}

// Active returns the side's live orders in matching priority: buys by price
// descending, sells by price ascending, earliest first within a price level.
// Orders owned by excludeUser are left out so a user never meets their own
// order.
func (ob *OrderBook) Active(side string, excludeUser uuid.UUID) []*Order {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	sideBook := ob.sells
	if normalizeSide(side) == SideBuy {
		sideBook = ob.buys
	}

	levels := make([]*priceLevel, 0, len(sideBook.levels))
	for _, level := range sideBook.levels {
		levels = append(levels, level)
	}
	sort.Slice(levels, func(i, j int) bool {
		cmp := levels[i].price.Cmp(levels[j].price)
		if sideBook.isBuy {
			return cmp > 0
		}
		return cmp < 0
	})

	out := make([]*Order, 0, len(ob.orders))
	for _, level := range levels {
		for e := level.orders.Front(); e != nil; e = e.Next() {
			order := e.Value.(*Order)
			if excludeUser != uuid.Nil && order.UserID == excludeUser {
				continue
			}
			if order.Terminal() || order.Remaining().LessThanOrEqual(decimal.Zero) {
				continue
			}
			out = append(out, order)
		}
	}
	return out
}

// BookLevel is one aggregated price level of a depth snapshot.
type BookLevel struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
	Orders   int
}

func (ob *OrderBook) Levels(side string) []BookLevel {
	active := ob.Active(side, uuid.Nil)

	out := make([]BookLevel, 0, len(active))
	for _, order := range active {
		if n := len(out); n > 0 && out[n-1].Price.Equal(order.Price) {
			out[n-1].Quantity = out[n-1].Quantity.Add(order.Remaining())
			out[n-1].Orders++
			continue
		}
		out = append(out, BookLevel{Price: order.Price, Quantity: order.Remaining(), Orders: 1})
	}
	return out
}

type orderRef struct {
	order    *Order
	element  *list.Element
	level    *priceLevel
	side     string
	sideBook *bookSide
}

type priceLevel struct {
	price  decimal.Decimal
	key    string
	orders *list.List
	index  int
}

type bookSide struct {
	isBuy  bool
	levels map[string]*priceLevel
	heap   priceHeap
}

func newBookSide(isBuy bool) *bookSide {
	side := &bookSide{
		isBuy:  isBuy,
		levels: make(map[string]*priceLevel),
		heap:   priceHeap{isMax: isBuy},
	}
	heap.Init(&side.heap)
	return side
}

func (s *bookSide) add(order *Order) *orderRef {
	key := order.Price.String()
	level := s.levels[key]
	if level == nil {
		level = &priceLevel{price: order.Price, key: key, orders: list.New()}
		heap.Push(&s.heap, level)
		s.levels[key] = level
	}
	element := level.orders.PushBack(order)
	return &orderRef{order: order, element: element, level: level, side: normalizeSide(order.Side), sideBook: s}
}

func (s *bookSide) remove(ref *orderRef) {
	if ref == nil || ref.level == nil || ref.element == nil {
		return
	}
	ref.level.orders.Remove(ref.element)
	if ref.level.orders.Len() == 0 {
		heap.Remove(&s.heap, ref.level.index)
		delete(s.levels, ref.level.key)
	}
}

type priceHeap struct {
	levels []*priceLevel
	isMax  bool
}

func (h priceHeap) Len() int { return len(h.levels) }

func (h priceHeap) Less(i, j int) bool {
	cmp := h.levels[i].price.Cmp(h.levels[j].price)
	if h.isMax {
		return cmp > 0
	}
	return cmp < 0
}

func (h priceHeap) Swap(i, j int) {
	h.levels[i], h.levels[j] = h.levels[j], h.levels[i]
	h.levels[i].index = i
	h.levels[j].index = j
}

func (h *priceHeap) Push(x interface{}) {
	level := x.(*priceLevel)
	level.index = len(h.levels)
	h.levels = append(h.levels, level)
}

func (h *priceHeap) Pop() interface{} {
	old := h.levels
	n := len(old)
	item := old[n-1]
	item.index = -1
	h.levels = old[:n-1]
	return item
}

func normalizeSide(side string) string {
	trimmed := strings.ToLower(strings.TrimSpace(side))
	switch trimmed {
	case SideBuy:
		return SideBuy
	case SideSell:
		return SideSell
	default:
		return ""
	}
}

func oppositeSide(side string) string {
	if normalizeSide(side) == SideBuy {
		return SideSell
	}
	return SideBuy
}
