package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"log/slog"
)

const (
	DirectionCredit = "credit"
	DirectionDebit  = "debit"

	TxStatusPending   = "pending"
	TxStatusCompleted = "completed"
	TxStatusFailed    = "failed"
)

// Transaction is a single balance-affecting event. Once recorded it is only
// ever mutated by the pending -> completed/failed status flip.
type Transaction struct {
	ID                  uuid.UUID
	UserID              uuid.UUID
	Asset               string
	Direction           string
	Amount              decimal.Decimal
	Reason              Reason
	CounterpartyAddress string
	FailureReason       string
	Status              string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (t *Transaction) Terminal() bool {
	return t.Status == TxStatusCompleted || t.Status == TxStatusFailed
}

type TransactionPersister interface {
	SaveTransaction(ctx context.Context, tx Transaction) error
}

// TransactionLog is the append-only audit trail. Complete and Fail are
// idempotent so retried external confirmations cannot double-apply.
type TransactionLog struct {
	mu     sync.RWMutex
	byID   map[uuid.UUID]*Transaction
	byUser map[uuid.UUID][]uuid.UUID
	store  TransactionPersister
	logger *slog.Logger
}

func NewTransactionLog(store TransactionPersister, logger *slog.Logger) *TransactionLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &TransactionLog{
		byID:   make(map[uuid.UUID]*Transaction),
		byUser: make(map[uuid.UUID][]uuid.UUID),
		store:  store,
		logger: logger,
	}
}

func (l *TransactionLog) Record(ctx context.Context, tx Transaction) (*Transaction, error) {
	if tx.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	now := time.Now().UTC()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	tx.UpdatedAt = now
	tx.Status = TxStatusPending

	l.mu.Lock()
	stored := tx
	l.byID[stored.ID] = &stored
	l.byUser[stored.UserID] = append(l.byUser[stored.UserID], stored.ID)
	l.mu.Unlock()

	l.persist(ctx, &stored)
	return &stored, nil
}

// Complete flips a pending transaction to completed. Returns false without
// error when the transaction is already terminal.
func (l *TransactionLog) Complete(ctx context.Context, id uuid.UUID) (bool, error) {
	return l.finish(ctx, id, TxStatusCompleted, "")
}

// Fail flips a pending transaction to failed. Idempotent like Complete.
func (l *TransactionLog) Fail(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	return l.finish(ctx, id, TxStatusFailed, reason)
}

func (l *TransactionLog) finish(ctx context.Context, id uuid.UUID, status, reason string) (bool, error) {
	l.mu.Lock()
	tx, ok := l.byID[id]
	if !ok {
		l.mu.Unlock()
		return false, ErrTransactionNotFound
	}
	if tx.Terminal() {
		l.mu.Unlock()
		return false, nil
	}
	tx.Status = status
	tx.FailureReason = reason
	tx.UpdatedAt = time.Now().UTC()
	snapshot := *tx
	l.mu.Unlock()

	l.persist(ctx, &snapshot)
	return true, nil
}

func (l *TransactionLog) Get(id uuid.UUID) (*Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	tx, ok := l.byID[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	snapshot := *tx
	return &snapshot, nil
}

type TransactionFilter struct {
	Asset     string
	Direction string
	Status    string
	Limit     int
}

// ListByUser returns the user's transactions newest first.
func (l *TransactionLog) ListByUser(userID uuid.UUID, filter TransactionFilter) []Transaction {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ids := l.byUser[userID]
	out := make([]Transaction, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		tx, ok := l.byID[ids[i]]
		if !ok {
			continue
		}
		if filter.Asset != "" && tx.Asset != filter.Asset {
			continue
		}
		if filter.Direction != "" && tx.Direction != filter.Direction {
			continue
		}
		if filter.Status != "" && tx.Status != filter.Status {
			continue
		}
		out = append(out, *tx)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out
}

func (l *TransactionLog) persist(ctx context.Context, tx *Transaction) {
	if l.store == nil {
		return
	}
	if err := l.store.SaveTransaction(ctx, *tx); err != nil {
		l.logger.Error("transaction persist failed", "transaction_id", tx.ID.String(), "error", err)
	}
}
