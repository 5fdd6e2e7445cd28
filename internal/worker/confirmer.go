package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"log/slog"

	"github.com/big-kim/castle-sub001/internal/engine"
)

// TradeConfirmer flips pending trades to a terminal status. Implemented by
// the engine.
type TradeConfirmer interface {
	ConfirmTrade(ctx context.Context, tradeID uuid.UUID) (*engine.Trade, error)
	FailTrade(ctx context.Context, tradeID uuid.UUID, reason string) (*engine.Trade, error)
}

// Confirmer drains a bounded queue of freshly settled trade ids and confirms
// them asynchronously. Settlement only records the trade as pending; this
// worker performs the second phase.
type Confirmer struct {
	confirmer TradeConfirmer
	queue     chan uuid.UUID
	logger    *slog.Logger
	retries   int
	backoff   time.Duration
}

type Options struct {
	QueueSize int
	Retries   int
	Backoff   time.Duration
}

func NewConfirmer(confirmer TradeConfirmer, logger *slog.Logger, opts Options) *Confirmer {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.Retries <= 0 {
		opts.Retries = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 100 * time.Millisecond
	}
	return &Confirmer{
		confirmer: confirmer,
		queue:     make(chan uuid.UUID, opts.QueueSize),
		logger:    logger,
		retries:   opts.Retries,
		backoff:   opts.Backoff,
	}
}

// Enqueue hands a trade id to the worker. When the queue is full the id is
// dropped and logged; confirmation is idempotent and a startup reconcile can
// pick up stragglers.
func (c *Confirmer) Enqueue(tradeID uuid.UUID) {
	select {
	case c.queue <- tradeID:
	default:
		c.logger.Warn("confirmation queue full, dropping trade", "trade_id", tradeID.String())
	}
}

// Run drains the queue until the context is cancelled.
func (c *Confirmer) Run(ctx context.Context) {
	c.logger.Info("trade confirmation worker started", "queue_size", cap(c.queue))
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("trade confirmation worker stopped")
			return
		case tradeID := <-c.queue:
			c.confirm(ctx, tradeID)
		}
	}
}

func (c *Confirmer) confirm(ctx context.Context, tradeID uuid.UUID) {
	var err error
	for attempt := 0; attempt < c.retries; attempt++ {
		if _, err = c.confirmer.ConfirmTrade(ctx, tradeID); err == nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.backoff * time.Duration(attempt+1)):
		}
	}
	c.logger.Error("trade confirmation failed", "trade_id", tradeID.String(), "error", err)
	if _, failErr := c.confirmer.FailTrade(ctx, tradeID, "confirmation retries exhausted"); failErr != nil {
		c.logger.Error("trade fail mark failed", "trade_id", tradeID.String(), "error", failErr)
	}
}
