package service

import (
	"context"
	"time"

	"github.com/big-kim/castle-sub001/internal/engine"
	"github.com/big-kim/castle-sub001/internal/ledger"
	"github.com/big-kim/castle-sub001/libs/kafka"
)

// Topics holds the destination topic per published event type.
type Topics struct {
	OrdersAccepted  string
	OrdersCancelled string
	TradesExecuted  string
	Transactions    string
}

type OrderAcceptedEvent struct {
	kafka.Envelope
	OrderID    string `json:"order_id"`
	UserID     string `json:"user_id"`
	Pair       string `json:"pair"`
	Side       string `json:"side"`
	Price      string `json:"price"`
	Quantity   string `json:"quantity"`
	TotalValue string `json:"total_value"`
	Status     string `json:"status"`
	CreatedAt  string `json:"created_at"`
}

type OrderCancelledEvent struct {
	kafka.Envelope
	OrderID     string `json:"order_id"`
	UserID      string `json:"user_id"`
	Pair        string `json:"pair"`
	Filled      string `json:"filled"`
	Status      string `json:"status"`
	CancelledAt string `json:"cancelled_at"`
}

type TradeExecutedEvent struct {
	kafka.Envelope
	TradeID     string `json:"trade_id"`
	BuyOrderID  string `json:"buy_order_id"`
	SellOrderID string `json:"sell_order_id"`
	BuyerID     string `json:"buyer_id"`
	SellerID    string `json:"seller_id"`
	Pair        string `json:"pair"`
	Price       string `json:"price"`
	Quantity    string `json:"quantity"`
	Status      string `json:"status"`
	ExecutedAt  string `json:"executed_at"`
}

type TransactionEvent struct {
	kafka.Envelope
	TransactionID string `json:"transaction_id"`
	UserID        string `json:"user_id"`
	Asset         string `json:"asset"`
	Direction     string `json:"direction"`
	Amount        string `json:"amount"`
	Reason        string `json:"reason"`
	Status        string `json:"status"`
}

func (s *ExchangeService) publishOrderAccepted(ctx context.Context, correlationID string, order *engine.Order) {
	if s.producer == nil || order == nil {
		return
	}
	eventID := kafka.DeterministicEventID("orders.accepted", order.ID.String())
	env, err := kafka.NewEnvelopeWithID(eventID, "orders.accepted", 1, correlationID)
	if err != nil {
		s.logger.Error("build order accepted envelope failed", "error", err)
		return
	}

	payload := OrderAcceptedEvent{
		Envelope:   env,
		OrderID:    order.ID.String(),
		UserID:     order.UserID.String(),
		Pair:       order.Pair(),
		Side:       order.Side,
		Price:      order.Price.String(),
		Quantity:   order.Quantity.String(),
		TotalValue: order.TotalValue.String(),
		Status:     order.Status,
		CreatedAt:  order.CreatedAt.UTC().Format(time.RFC3339),
	}
	if _, _, err := s.producer.PublishJSON(ctx, s.topics.OrdersAccepted, order.Pair(), payload); err != nil {
		s.logger.Error("publish order accepted failed", "error", err)
	}
}

func (s *ExchangeService) publishOrderCancelled(ctx context.Context, correlationID string, order *engine.Order) {
	if s.producer == nil || order == nil {
		return
	}
	eventID := kafka.DeterministicEventID("orders.cancelled", order.ID.String())
	env, err := kafka.NewEnvelopeWithID(eventID, "orders.cancelled", 1, correlationID)
	if err != nil {
		s.logger.Error("build order cancelled envelope failed", "error", err)
		return
	}

	payload := OrderCancelledEvent{
		Envelope:    env,
		OrderID:     order.ID.String(),
		UserID:      order.UserID.String(),
		Pair:        order.Pair(),
		Filled:      order.Filled.String(),
		Status:      order.Status,
		CancelledAt: order.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if _, _, err := s.producer.PublishJSON(ctx, s.topics.OrdersCancelled, order.Pair(), payload); err != nil {
		s.logger.Error("publish order cancelled failed", "error", err)
	}
}

func (s *ExchangeService) publishTradeExecuted(ctx context.Context, correlationID string, trade *engine.Trade) {
	if s.producer == nil || trade == nil {
		return
	}
	eventID := kafka.DeterministicEventID("trades.executed", trade.ID.String())
	env, err := kafka.NewEnvelopeWithID(eventID, "trades.executed", 1, correlationID)
	if err != nil {
		s.logger.Error("build trade executed envelope failed", "error", err)
		return
	}

	pair := trade.BaseAsset + "-" + trade.QuoteAsset
	payload := TradeExecutedEvent{
		Envelope:    env,
		TradeID:     trade.ID.String(),
		BuyOrderID:  trade.BuyOrderID.String(),
		SellOrderID: trade.SellOrderID.String(),
		BuyerID:     trade.BuyerID.String(),
		SellerID:    trade.SellerID.String(),
		Pair:        pair,
		Price:       trade.Price.String(),
		Quantity:    trade.Quantity.String(),
		Status:      trade.Status,
		ExecutedAt:  trade.CreatedAt.UTC().Format(time.RFC3339),
	}
	if _, _, err := s.producer.PublishJSON(ctx, s.topics.TradesExecuted, pair, payload); err != nil {
		s.logger.Error("publish trade executed failed", "error", err)
	}
}

func (s *ExchangeService) publishTransaction(ctx context.Context, correlationID string, tx *ledger.Transaction) {
	if s.producer == nil || tx == nil {
		return
	}
	eventID := kafka.DeterministicEventID("transactions.recorded", tx.ID.String(), tx.Status)
	env, err := kafka.NewEnvelopeWithID(eventID, "transactions.recorded", 1, correlationID)
	if err != nil {
		s.logger.Error("build transaction envelope failed", "error", err)
		return
	}

	payload := TransactionEvent{
		Envelope:      env,
		TransactionID: tx.ID.String(),
		UserID:        tx.UserID.String(),
		Asset:         tx.Asset,
		Direction:     tx.Direction,
		Amount:        tx.Amount.String(),
		Reason:        string(tx.Reason),
		Status:        tx.Status,
	}
	if _, _, err := s.producer.PublishJSON(ctx, s.topics.Transactions, tx.UserID.String(), payload); err != nil {
		s.logger.Error("publish transaction failed", "error", err)
	}
}
