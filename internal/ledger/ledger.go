// Package ledger is the boundary to the balance/transaction subsystem. The
// exchange engine never mutates balances directly; every escrow, fill and
// refund goes through an Adapter so that each movement leaves an append-only
// entry keyed by kind and order id.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/communex/goldboard/internal/models"
)

// Kind tags every ledger entry written by the exchange.
type Kind string

const (
	KindOrderLocked   Kind = "exchange_order_locked"
	KindOrderFilled   Kind = "exchange_order_filled"
	KindOrderRefunded Kind = "exchange_order_refunded"
)

// ErrInsufficientFunds is returned when a debit cannot be covered.
var ErrInsufficientFunds = errors.New("insufficient funds")

// Metadata is attached to every entry for reconciliation; the exchange
// always includes the order id.
type Metadata map[string]any

// DBTX is the executor a movement runs against. Both pgx.Tx and
// pgxpool.Pool satisfy it, so the adapter joins whatever transaction the
// caller already holds.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Balance is one account's holding in one currency.
type Balance struct {
	Account  models.Account  `json:"account"`
	Currency string          `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
}

// Entry is one recorded movement.
type Entry struct {
	ID        string          `json:"id"`
	Account   models.Account  `json:"account"`
	Currency  string          `json:"currency"`
	Amount    decimal.Decimal `json:"amount"`
	Direction string          `json:"direction"` // "debit" or "credit"
	Kind      Kind            `json:"kind"`
	Metadata  Metadata        `json:"metadata"`
	CreatedAt time.Time       `json:"created_at"`
}

// Adapter moves funds between accounts. Each call is atomic with respect to
// the executor it is given; the engine composes calls inside its own
// transactions.
type Adapter interface {
	Debit(ctx context.Context, tx DBTX, acct models.Account, currency string, amount decimal.Decimal, kind Kind, meta Metadata) error
	Credit(ctx context.Context, tx DBTX, acct models.Account, currency string, amount decimal.Decimal, kind Kind, meta Metadata) error
	Transfer(ctx context.Context, tx DBTX, from, to models.Account, currency string, amount decimal.Decimal, kind Kind, meta Metadata) error
	Balances(ctx context.Context, tx DBTX, acct models.Account) ([]Balance, error)
}
