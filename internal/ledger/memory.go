package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/communex/goldboard/internal/models"
)

// Memory is an in-process Adapter for tests. It ignores the executor
// argument, so it can stand in for the Postgres ledger while order rows
// still live in the database.
type Memory struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
	entries  []Entry
}

// NewMemory creates an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{balances: make(map[string]decimal.Decimal)}
}

func balanceKey(acct models.Account, currency string) string {
	return fmt.Sprintf("%s/%d/%s", acct.Type, acct.ID, currency)
}

// Fund seeds an account balance without writing an entry.
func (m *Memory) Fund(acct models.Account, currency string, amount decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := balanceKey(acct, currency)
	m.balances[key] = m.balances[key].Add(amount)
}

// BalanceOf returns the current balance of one account in one currency.
func (m *Memory) BalanceOf(acct models.Account, currency string) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[balanceKey(acct, currency)]
}

func (m *Memory) Debit(ctx context.Context, tx DBTX, acct models.Account, currency string, amount decimal.Decimal, kind Kind, meta Metadata) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("debit amount must be positive, got %s", amount)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := balanceKey(acct, currency)
	if m.balances[key].LessThan(amount) {
		return fmt.Errorf("debit %s of %s %s: %w", acct, amount, currency, ErrInsufficientFunds)
	}
	m.balances[key] = m.balances[key].Sub(amount)
	m.append(acct, currency, amount, "debit", kind, meta)
	return nil
}

func (m *Memory) Credit(ctx context.Context, tx DBTX, acct models.Account, currency string, amount decimal.Decimal, kind Kind, meta Metadata) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("credit amount must be positive, got %s", amount)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := balanceKey(acct, currency)
	m.balances[key] = m.balances[key].Add(amount)
	m.append(acct, currency, amount, "credit", kind, meta)
	return nil
}

func (m *Memory) Transfer(ctx context.Context, tx DBTX, from, to models.Account, currency string, amount decimal.Decimal, kind Kind, meta Metadata) error {
	if err := m.Debit(ctx, tx, from, currency, amount, kind, meta); err != nil {
		return err
	}
	return m.Credit(ctx, tx, to, currency, amount, kind, meta)
}

func (m *Memory) Balances(ctx context.Context, tx DBTX, acct models.Account) ([]Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prefix := fmt.Sprintf("%s/%d/", acct.Type, acct.ID)
	var balances []Balance
	for key, amount := range m.balances {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			balances = append(balances, Balance{
				Account:  acct,
				Currency: key[len(prefix):],
				Amount:   amount,
			})
		}
	}
	return balances, nil
}

// Entries returns a copy of every movement recorded so far.
func (m *Memory) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// append assumes m.mu is held.
func (m *Memory) append(acct models.Account, currency string, amount decimal.Decimal, direction string, kind Kind, meta Metadata) {
	m.entries = append(m.entries, Entry{
		ID:        uuid.NewString(),
		Account:   acct,
		Currency:  currency,
		Amount:    amount,
		Direction: direction,
		Kind:      kind,
		Metadata:  meta,
		CreatedAt: time.Now(),
	})
}
