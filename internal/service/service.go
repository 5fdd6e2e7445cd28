package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"log/slog"

	"github.com/big-kim/castle-sub001/internal/engine"
	"github.com/big-kim/castle-sub001/internal/ledger"
	"github.com/big-kim/castle-sub001/libs/kafka"
)

var (
	ErrNotOrderOwner = errors.New("order does not belong to the user")
)

// ExchangeService is the application layer over the ledger and the matching
// engine. It owns event publishing and caller-facing authorization checks.
type ExchangeService struct {
	engine   *engine.Engine
	ledger   *ledger.Ledger
	producer kafka.Publisher
	logger   *slog.Logger
	metrics  *Metrics
	topics   Topics
}

func New(eng *engine.Engine, assetLedger *ledger.Ledger, producer kafka.Publisher, logger *slog.Logger, metrics *Metrics, topics Topics) *ExchangeService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExchangeService{
		engine:   eng,
		ledger:   assetLedger,
		producer: producer,
		logger:   logger,
		metrics:  metrics,
		topics:   topics,
	}
}

type CreateOrderInput struct {
	UserID        uuid.UUID
	Side          string
	BaseAsset     string
	QuoteAsset    string
	Price         decimal.Decimal
	Quantity      decimal.Decimal
	PaymentMethod string
	Metadata      []byte
	CorrelationID string
}

type CreateOrderResult struct {
	Order  *engine.Order
	Trades []engine.Trade
}

// CreateOrder rests the order in its book and immediately runs a matching
// pass against the opposite side. Fills that happen synchronously are
// returned with the order.
func (s *ExchangeService) CreateOrder(ctx context.Context, input CreateOrderInput) (*CreateOrderResult, error) {
	order := &engine.Order{
		UserID:        input.UserID,
		Side:          input.Side,
		BaseAsset:     input.BaseAsset,
		QuoteAsset:    input.QuoteAsset,
		Price:         input.Price,
		Quantity:      input.Quantity,
		PaymentMethod: input.PaymentMethod,
		Metadata:      input.Metadata,
	}
	if err := s.engine.Insert(ctx, order); err != nil {
		s.metrics.IncOrderSubmission("rejected")
		return nil, err
	}
	s.metrics.IncOrderSubmission("accepted")
	s.publishOrderAccepted(ctx, input.CorrelationID, order)

	trades, err := s.engine.AutoMatch(ctx, order.ID)
	if err != nil {
		s.logger.Error("auto match failed", "order_id", order.ID.String(), "error", err)
	}
	for i := range trades {
		s.publishTradeExecuted(ctx, input.CorrelationID, &trades[i])
	}

	current, getErr := s.engine.GetOrder(order.ID)
	if getErr != nil {
		current = order
	}
	return &CreateOrderResult{Order: current, Trades: trades}, nil
}

// CancelOrder removes the caller's own order from the book.
func (s *ExchangeService) CancelOrder(ctx context.Context, userID, orderID uuid.UUID, correlationID string) (*engine.Order, error) {
	order, err := s.engine.GetOrder(orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, ErrNotOrderOwner
	}

	cancelled, err := s.engine.Cancel(ctx, orderID)
	if err != nil {
		return nil, err
	}
	s.publishOrderCancelled(ctx, correlationID, cancelled)
	return cancelled, nil
}

type ManualExecuteInput struct {
	UserID         uuid.UUID
	OrderID        uuid.UUID
	CounterOrderID uuid.UUID
	Quantity       decimal.Decimal
	CorrelationID  string
}

// ManualExecute settles a chosen pair of orders. The caller must own one of
// the two orders.
func (s *ExchangeService) ManualExecute(ctx context.Context, input ManualExecuteInput) (*engine.Trade, error) {
	order, err := s.engine.GetOrder(input.OrderID)
	if err != nil {
		return nil, err
	}
	counter, err := s.engine.GetOrder(input.CounterOrderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != input.UserID && counter.UserID != input.UserID {
		return nil, ErrNotOrderOwner
	}

	trade, err := s.engine.ManualExecute(ctx, input.OrderID, input.CounterOrderID, input.Quantity)
	if err != nil {
		return nil, err
	}
	s.publishTradeExecuted(ctx, input.CorrelationID, trade)
	return trade, nil
}

// FindCompatibleMatches previews the fills an order would receive right now.
func (s *ExchangeService) FindCompatibleMatches(userID, orderID uuid.UUID) ([]engine.MatchPreview, error) {
	order, err := s.engine.GetOrder(orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, ErrNotOrderOwner
	}
	return s.engine.FindCompatibleMatches(orderID)
}

type BookSnapshot struct {
	Pair string
	Bids []engine.BookLevel
	Asks []engine.BookLevel
}

func (s *ExchangeService) GetOrderBook(pair string) BookSnapshot {
	book := s.engine.Book(pair)
	return BookSnapshot{
		Pair: book.Pair(),
		Bids: book.Levels(engine.SideBuy),
		Asks: book.Levels(engine.SideSell),
	}
}

func (s *ExchangeService) GetOrder(userID, orderID uuid.UUID) (*engine.Order, error) {
	order, err := s.engine.GetOrder(orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, engine.ErrOrderNotFound
	}
	return order, nil
}

func (s *ExchangeService) ListOrders(userID uuid.UUID, status string, limit int) []engine.Order {
	return s.engine.ListOrders(userID, status, limit)
}

func (s *ExchangeService) ListTrades(userID uuid.UUID, limit int) []engine.Trade {
	return s.engine.ListTradesByUser(userID, limit)
}

func (s *ExchangeService) GetWallets(userID uuid.UUID) []ledger.Wallet {
	return s.ledger.Wallets(userID)
}

func (s *ExchangeService) GetBalance(userID uuid.UUID, asset string) decimal.Decimal {
	return s.ledger.GetBalance(userID, asset)
}

func (s *ExchangeService) GetTransactions(userID uuid.UUID, filter ledger.TransactionFilter) []ledger.Transaction {
	return s.ledger.Transactions().ListByUser(userID, filter)
}

// Deposit credits external funds into a user's wallet.
func (s *ExchangeService) Deposit(ctx context.Context, userID uuid.UUID, asset string, amount decimal.Decimal, reason ledger.Reason, correlationID string) (*ledger.Transaction, error) {
	if reason == "" {
		reason = ledger.ReasonDeposit
	}
	tx, err := s.ledger.Credit(ctx, userID, asset, amount, reason)
	if err != nil {
		return nil, err
	}
	s.publishTransaction(ctx, correlationID, tx)
	return tx, nil
}

// Withdraw debits funds out of a user's wallet toward an external address.
func (s *ExchangeService) Withdraw(ctx context.Context, userID uuid.UUID, asset string, amount decimal.Decimal, address, correlationID string) (*ledger.Transaction, error) {
	tx, err := s.ledger.Debit(ctx, userID, asset, amount, ledger.ReasonWithdrawal, ledger.CreditOptions{CounterpartyAddress: address})
	if err != nil {
		return nil, err
	}
	s.publishTransaction(ctx, correlationID, tx)
	return tx, nil
}
