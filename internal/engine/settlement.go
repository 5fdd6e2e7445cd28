package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/big-kim/castle-sub001/internal/ledger"
)

// settle moves funds for one fill and records the trade. The transfer runs in
// four legs: debit buyer quote, debit seller base, credit seller quote, credit
// buyer base. A leg that fails after funds have moved triggers compensating
// credits so neither side is left short. The trade is recorded pending and
// handed to the confirmation queue; a worker flips it to completed.
func (e *Engine) settle(ctx context.Context, buy, sell *Order, qty, price decimal.Decimal) (*Trade, error) {
	start := time.Now()
	cost := price.Mul(qty)

	if _, err := e.ledger.Debit(ctx, buy.UserID, buy.QuoteAsset, cost, ledger.ReasonTradePayment); err != nil {
		e.observeSettlement("rejected", start)
		return nil, err
	}

	if _, err := e.ledger.Debit(ctx, sell.UserID, sell.BaseAsset, qty, ledger.ReasonTradeDelivery); err != nil {
		e.refund(ctx, buy.UserID, buy.QuoteAsset, cost)
		e.observeSettlement("rejected", start)
		return nil, err
	}

	if _, err := e.ledger.Credit(ctx, sell.UserID, sell.QuoteAsset, cost, ledger.ReasonTradeProceeds); err != nil {
		e.refund(ctx, sell.UserID, sell.BaseAsset, qty)
		e.refund(ctx, buy.UserID, buy.QuoteAsset, cost)
		e.observeSettlement("failed", start)
		return nil, fmt.Errorf("credit seller proceeds: %w", err)
	}

	if _, err := e.ledger.Credit(ctx, buy.UserID, buy.BaseAsset, qty, ledger.ReasonTradeDelivery); err != nil {
		e.refundDebit(ctx, sell.UserID, sell.QuoteAsset, cost)
		e.refund(ctx, sell.UserID, sell.BaseAsset, qty)
		e.refund(ctx, buy.UserID, buy.QuoteAsset, cost)
		e.observeSettlement("failed", start)
		return nil, fmt.Errorf("credit buyer assets: %w", err)
	}

	trade := e.trades.record(Trade{
		BuyOrderID:  buy.ID,
		SellOrderID: sell.ID,
		BuyerID:     buy.UserID,
		SellerID:    sell.UserID,
		BaseAsset:   buy.BaseAsset,
		QuoteAsset:  buy.QuoteAsset,
		Price:       price,
		Quantity:    qty,
		Status:      TradeStatusPending,
	})
	e.persistTrade(ctx, trade)

	if e.confirmations != nil {
		e.confirmations.Enqueue(trade.ID)
	}
	e.observeSettlement("settled", start)

	e.logger.Info("trade settled",
		"trade_id", trade.ID.String(),
		"pair", buy.Pair(),
		"price", price.String(),
		"quantity", qty.String())
	return trade, nil
}

// refund restores funds taken by an earlier debit in the same settlement. A
// refund failure means the ledger itself rejected a plain credit, which only
// happens on persistence loss; log loudly and move on.
func (e *Engine) refund(ctx context.Context, userID uuid.UUID, asset string, amount decimal.Decimal) {
	if _, err := e.ledger.Credit(ctx, userID, asset, amount, ledger.ReasonTradeRefund); err != nil {
		e.logger.Error("settlement refund failed",
			"user_id", userID.String(),
			"asset", asset,
			"amount", amount.String(),
			"error", err)
	}
}

// refundDebit claws back a credit made by an earlier leg.
func (e *Engine) refundDebit(ctx context.Context, userID uuid.UUID, asset string, amount decimal.Decimal) {
	if _, err := e.ledger.Debit(ctx, userID, asset, amount, ledger.ReasonTradeRefund); err != nil {
		e.logger.Error("settlement clawback failed",
			"user_id", userID.String(),
			"asset", asset,
			"amount", amount.String(),
			"error", err)
	}
}

func (e *Engine) observeSettlement(status string, start time.Time) {
	if e.metrics != nil {
		e.metrics.ObserveSettlement(status, time.Since(start))
	}
}
