package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"log/slog"
)

// Wallet is a per-(user, asset) balance row. It is materialized lazily on the
// first mutation, never on a read.
type Wallet struct {
	UserID      uuid.UUID
	Asset       string
	Balance     decimal.Decimal
	TotalEarned decimal.Decimal
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type WalletPersister interface {
	SaveWallet(ctx context.Context, w Wallet) error
	LoadWallets(ctx context.Context) ([]Wallet, error)
}

type Metrics interface {
	ObserveLedgerOp(direction, status string, duration time.Duration)
}

type walletEntry struct {
	mu     sync.Mutex
	wallet Wallet
}

// Ledger is the authoritative source of truth for balances. All mutations for
// the same (user, asset) key are serialized on the entry mutex, so a debit can
// never observe a stale balance.
type Ledger struct {
	mu      sync.RWMutex
	wallets map[string]*walletEntry

	log     *TransactionLog
	store   WalletPersister
	logger  *slog.Logger
	metrics Metrics
}

func New(log *TransactionLog, store WalletPersister, logger *slog.Logger, metrics Metrics) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		wallets: make(map[string]*walletEntry),
		log:     log,
		store:   store,
		logger:  logger,
		metrics: metrics,
	}
}

func (l *Ledger) Transactions() *TransactionLog {
	return l.log
}

// LoadSnapshot rebuilds the wallet map from storage. Called once at startup
// before the ledger takes traffic.
func (l *Ledger) LoadSnapshot(ctx context.Context) (int, error) {
	if l.store == nil {
		return 0, fmt.Errorf("wallet store not configured")
	}
	wallets, err := l.store.LoadWallets(ctx)
	if err != nil {
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.wallets = make(map[string]*walletEntry, len(wallets))
	for _, w := range wallets {
		w.Asset = normalizeAsset(w.Asset)
		l.wallets[walletKey(w.UserID, w.Asset)] = &walletEntry{wallet: w}
	}
	return len(wallets), nil
}

// GetBalance never fails and never materializes a wallet row.
func (l *Ledger) GetBalance(userID uuid.UUID, asset string) decimal.Decimal {
	l.mu.RLock()
	entry := l.wallets[walletKey(userID, normalizeAsset(asset))]
	l.mu.RUnlock()
	if entry == nil {
		return decimal.Zero
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.wallet.Balance
}

// GetWallet returns a snapshot of the wallet row, or ErrWalletNotFound if it
// was never materialized.
func (l *Ledger) GetWallet(userID uuid.UUID, asset string) (Wallet, error) {
	l.mu.RLock()
	entry := l.wallets[walletKey(userID, normalizeAsset(asset))]
	l.mu.RUnlock()
	if entry == nil {
		return Wallet{}, ErrWalletNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.wallet, nil
}

// Wallets returns all materialized wallets for a user, sorted by asset.
func (l *Ledger) Wallets(userID uuid.UUID) []Wallet {
	l.mu.RLock()
	entries := make([]*walletEntry, 0, 4)
	prefix := userID.String() + ":"
	for key, entry := range l.wallets {
		if strings.HasPrefix(key, prefix) {
			entries = append(entries, entry)
		}
	}
	l.mu.RUnlock()

	out := make([]Wallet, 0, len(entries))
	for _, entry := range entries {
		entry.mu.Lock()
		out = append(out, entry.wallet)
		entry.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out
}

type CreditOptions struct {
	CounterpartyAddress string
}

// Credit increases the balance and records a completed transaction. Earned
// reasons also bump the wallet's total_earned counter.
func (l *Ledger) Credit(ctx context.Context, userID uuid.UUID, asset string, amount decimal.Decimal, reason Reason, opts ...CreditOptions) (*Transaction, error) {
	start := time.Now()
	tx, err := l.apply(ctx, userID, asset, amount, DirectionCredit, reason, counterparty(opts))
	l.observe(DirectionCredit, err, time.Since(start))
	return tx, err
}

// Debit decreases the balance or fails with ErrInsufficientBalance leaving no
// state change behind.
func (l *Ledger) Debit(ctx context.Context, userID uuid.UUID, asset string, amount decimal.Decimal, reason Reason, opts ...CreditOptions) (*Transaction, error) {
	start := time.Now()
	tx, err := l.apply(ctx, userID, asset, amount, DirectionDebit, reason, counterparty(opts))
	l.observe(DirectionDebit, err, time.Since(start))
	return tx, err
}

func (l *Ledger) apply(ctx context.Context, userID uuid.UUID, asset string, amount decimal.Decimal, direction string, reason Reason, addr string) (*Transaction, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}
	asset = normalizeAsset(asset)
	if asset == "" {
		return nil, fmt.Errorf("asset is required")
	}

	entry := l.getOrCreateEntry(userID, asset)
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if direction == DirectionDebit && entry.wallet.Balance.LessThan(amount) {
		return nil, ErrInsufficientBalance
	}

	tx, err := l.log.Record(ctx, Transaction{
		UserID:              userID,
		Asset:               asset,
		Direction:           direction,
		Amount:              amount,
		Reason:              reason,
		CounterpartyAddress: addr,
	})
	if err != nil {
		return nil, err
	}

	previous := entry.wallet
	now := time.Now().UTC()
	if direction == DirectionCredit {
		entry.wallet.Balance = entry.wallet.Balance.Add(amount)
		if reason.Earned() {
			entry.wallet.TotalEarned = entry.wallet.TotalEarned.Add(amount)
		}
	} else {
		entry.wallet.Balance = entry.wallet.Balance.Sub(amount)
	}
	entry.wallet.UpdatedAt = now

	if l.store != nil {
		if err := l.store.SaveWallet(ctx, entry.wallet); err != nil {
			entry.wallet = previous
			if _, failErr := l.log.Fail(ctx, tx.ID, "wallet persist failed"); failErr != nil {
				l.logger.Error("transaction fail flip failed", "transaction_id", tx.ID.String(), "error", failErr)
			}
			return nil, fmt.Errorf("persist wallet: %w", err)
		}
	}

	if _, err := l.log.Complete(ctx, tx.ID); err != nil {
		l.logger.Error("transaction complete flip failed", "transaction_id", tx.ID.String(), "error", err)
	}
	completed, getErr := l.log.Get(tx.ID)
	if getErr != nil {
		return tx, nil
	}
	return completed, nil
}

func (l *Ledger) getOrCreateEntry(userID uuid.UUID, asset string) *walletEntry {
	key := walletKey(userID, asset)

	l.mu.RLock()
	entry := l.wallets[key]
	l.mu.RUnlock()
	if entry != nil {
		return entry
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	entry = l.wallets[key]
	if entry == nil {
		now := time.Now().UTC()
		entry = &walletEntry{wallet: Wallet{
			UserID:      userID,
			Asset:       asset,
			Balance:     decimal.Zero,
			TotalEarned: decimal.Zero,
			CreatedAt:   now,
			UpdatedAt:   now,
		}}
		l.wallets[key] = entry
	}
	return entry
}

func (l *Ledger) observe(direction string, err error, duration time.Duration) {
	if l.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	l.metrics.ObserveLedgerOp(direction, status, duration)
}

func counterparty(opts []CreditOptions) string {
	if len(opts) == 0 {
		return ""
	}
	return strings.TrimSpace(opts[0].CounterpartyAddress)
}

func walletKey(userID uuid.UUID, asset string) string {
	return userID.String() + ":" + asset
}

func normalizeAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}
