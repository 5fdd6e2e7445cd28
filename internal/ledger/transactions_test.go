package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func TestRecordDefaults(t *testing.T) {
	log := NewTransactionLog(nil, nil)
	tx, err := log.Record(context.Background(), Transaction{
		UserID:    uuid.New(),
		Asset:     "BTC",
		Direction: DirectionCredit,
		Amount:    decimal.NewFromInt(1),
		Reason:    ReasonDeposit,
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if tx.ID == uuid.Nil {
		t.Fatalf("expected generated id")
	}
	if tx.Status != TxStatusPending {
		t.Fatalf("expected pending, got %s", tx.Status)
	}
	if tx.CreatedAt.IsZero() || tx.UpdatedAt.IsZero() {
		t.Fatalf("expected timestamps set")
	}
}

func TestCompleteIdempotent(t *testing.T) {
	log := NewTransactionLog(nil, nil)
	ctx := context.Background()
	tx, err := log.Record(ctx, Transaction{
		UserID: uuid.New(), Asset: "BTC", Direction: DirectionCredit,
		Amount: decimal.NewFromInt(1), Reason: ReasonDeposit,
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	changed, err := log.Complete(ctx, tx.ID)
	if err != nil || !changed {
		t.Fatalf("expected first complete to flip, changed=%v err=%v", changed, err)
	}
	changed, err = log.Complete(ctx, tx.ID)
	if err != nil || changed {
		t.Fatalf("expected second complete to no-op, changed=%v err=%v", changed, err)
	}

	// Fail after complete is also a no-op.
	changed, err = log.Fail(ctx, tx.ID, "too late")
	if err != nil || changed {
		t.Fatalf("expected fail on terminal to no-op, changed=%v err=%v", changed, err)
	}
	got, err := log.Get(tx.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != TxStatusCompleted || got.FailureReason != "" {
		t.Fatalf("expected completed without failure reason, got %s %q", got.Status, got.FailureReason)
	}
}

func TestFailRecordsReason(t *testing.T) {
	log := NewTransactionLog(nil, nil)
	ctx := context.Background()
	tx, err := log.Record(ctx, Transaction{
		UserID: uuid.New(), Asset: "BTC", Direction: DirectionDebit,
		Amount: decimal.NewFromInt(1), Reason: ReasonWithdrawal,
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	if changed, err := log.Fail(ctx, tx.ID, "node timeout"); err != nil || !changed {
		t.Fatalf("expected fail to flip, changed=%v err=%v", changed, err)
	}
	got, err := log.Get(tx.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != TxStatusFailed || got.FailureReason != "node timeout" {
		t.Fatalf("unexpected state: %s %q", got.Status, got.FailureReason)
	}
}

func TestFinishUnknownTransaction(t *testing.T) {
	log := NewTransactionLog(nil, nil)
	if _, err := log.Complete(context.Background(), uuid.New()); !errors.Is(err, ErrTransactionNotFound) {
		t.Fatalf("expected ErrTransactionNotFound, got %v", err)
	}
}

func TestListByUserFilters(t *testing.T) {
	log := NewTransactionLog(nil, nil)
	ctx := context.Background()
	userID := uuid.New()

	record := func(asset, direction string) *Transaction {
		tx, err := log.Record(ctx, Transaction{
			UserID: userID, Asset: asset, Direction: direction,
			Amount: decimal.NewFromInt(1), Reason: ReasonDeposit,
		})
		if err != nil {
			t.Fatalf("record: %v", err)
		}
		return tx
	}

	first := record("BTC", DirectionCredit)
	record("USD", DirectionCredit)
	last := record("BTC", DirectionDebit)
	record("ETH", DirectionCredit)
	if _, err := log.Complete(ctx, first.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	all := log.ListByUser(userID, TransactionFilter{})
	if len(all) != 4 {
		t.Fatalf("expected 4 transactions, got %d", len(all))
	}
	// Newest first.
	if all[1].ID != last.ID {
		t.Fatalf("expected newest-first ordering")
	}

	btc := log.ListByUser(userID, TransactionFilter{Asset: "BTC"})
	if len(btc) != 2 {
		t.Fatalf("expected 2 BTC transactions, got %d", len(btc))
	}
	debits := log.ListByUser(userID, TransactionFilter{Direction: DirectionDebit})
	if len(debits) != 1 || debits[0].ID != last.ID {
		t.Fatalf("expected only the debit")
	}
	completed := log.ListByUser(userID, TransactionFilter{Status: TxStatusCompleted})
	if len(completed) != 1 || completed[0].ID != first.ID {
		t.Fatalf("expected only the completed transaction")
	}
	limited := log.ListByUser(userID, TransactionFilter{Limit: 2})
	if len(limited) != 2 {
		t.Fatalf("expected limit to apply, got %d", len(limited))
	}
}
