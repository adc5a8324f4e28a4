package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/communex/goldboard/internal/models"
)

// PG writes balances and ledger entries to PostgreSQL. It is stateless; all
// statements run on the executor passed per call, so movements commit or
// roll back with the caller's transaction.
type PG struct{}

// NewPG creates a Postgres-backed ledger adapter.
func NewPG() *PG {
	return &PG{}
}

// Debit removes amount from the account's balance. The guarded UPDATE fails
// to match a row when the balance cannot cover the amount, which maps to
// ErrInsufficientFunds without a separate read.
func (l *PG) Debit(ctx context.Context, tx DBTX, acct models.Account, currency string, amount decimal.Decimal, kind Kind, meta Metadata) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("debit amount must be positive, got %s", amount)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE balances SET amount = amount - $4
		 WHERE owner_type = $1 AND owner_id = $2 AND currency = $3 AND amount >= $4`,
		acct.Type, acct.ID, currency, amount)
	if err != nil {
		return fmt.Errorf("failed to debit %s: %w", acct, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("debit %s of %s %s: %w", acct, amount, currency, ErrInsufficientFunds)
	}

	return l.appendEntry(ctx, tx, acct, currency, amount, "debit", kind, meta)
}

// Credit adds amount to the account's balance, creating the balance row on
// first use.
func (l *PG) Credit(ctx context.Context, tx DBTX, acct models.Account, currency string, amount decimal.Decimal, kind Kind, meta Metadata) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("credit amount must be positive, got %s", amount)
	}

	_, err := tx.Exec(ctx,
		`INSERT INTO balances (owner_type, owner_id, currency, amount) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (owner_type, owner_id, currency) DO UPDATE SET amount = balances.amount + EXCLUDED.amount`,
		acct.Type, acct.ID, currency, amount)
	if err != nil {
		return fmt.Errorf("failed to credit %s: %w", acct, err)
	}

	return l.appendEntry(ctx, tx, acct, currency, amount, "credit", kind, meta)
}

// Transfer debits from and credits to in one call, writing both legs' entries.
func (l *PG) Transfer(ctx context.Context, tx DBTX, from, to models.Account, currency string, amount decimal.Decimal, kind Kind, meta Metadata) error {
	if err := l.Debit(ctx, tx, from, currency, amount, kind, meta); err != nil {
		return err
	}
	return l.Credit(ctx, tx, to, currency, amount, kind, meta)
}

// Balances lists every currency the account holds.
func (l *PG) Balances(ctx context.Context, tx DBTX, acct models.Account) ([]Balance, error) {
	rows, err := tx.Query(ctx,
		`SELECT currency, amount FROM balances
		 WHERE owner_type = $1 AND owner_id = $2 ORDER BY currency`,
		acct.Type, acct.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get balances: %w", err)
	}
	defer rows.Close()

	var balances []Balance
	for rows.Next() {
		b := Balance{Account: acct}
		if err := rows.Scan(&b.Currency, &b.Amount); err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

func (l *PG) appendEntry(ctx context.Context, tx DBTX, acct models.Account, currency string, amount decimal.Decimal, direction string, kind Kind, meta Metadata) error {
	if meta == nil {
		meta = Metadata{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal entry metadata: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO ledger_entries (id, owner_type, owner_id, currency, amount, direction, kind, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		uuid.New(), acct.Type, acct.ID, currency, amount, direction, kind, metaJSON)
	if err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}
