package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/communex/goldboard/internal/ledger"
	"github.com/communex/goldboard/internal/models"
)

const orderColumns = "id, community_id, owner_type, owner_id, side, price, total_amount, remaining_amount, status, created_at, expires_at"

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(row scanner, o *models.ExchangeOrder) error {
	return row.Scan(&o.ID, &o.CommunityID, &o.Owner.Type, &o.Owner.ID, &o.Side,
		&o.Price, &o.TotalAmount, &o.RemainingAmount, &o.Status, &o.CreatedAt, &o.ExpiresAt)
}

func collectOrders(rows pgx.Rows) ([]models.ExchangeOrder, error) {
	defer rows.Close()
	var orders []models.ExchangeOrder
	for rows.Next() {
		var o models.ExchangeOrder
		if err := scanOrder(rows, &o); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// UserOrders returns the caller's active orders, newest first.
func (s *Service) UserOrders(ctx context.Context, acct models.Account) ([]models.ExchangeOrder, error) {
	rows, err := s.db.Pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE owner_type = $1 AND owner_id = $2 AND status IN ($3, $4)
		 ORDER BY created_at DESC, id DESC`,
		acct.Type, acct.ID, models.StatusOpen, models.StatusPartiallyFilled)
	if err != nil {
		return nil, fmt.Errorf("failed to get user orders: %w", err)
	}
	return collectOrders(rows)
}

// LiveOrders returns every fillable order for a community, oldest first.
// The book projector consumes this.
func (s *Service) LiveOrders(ctx context.Context, communityID int64) ([]models.ExchangeOrder, error) {
	rows, err := s.db.Pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE community_id = $1 AND status IN ($2, $3)
		 ORDER BY created_at ASC, id ASC`,
		communityID, models.StatusOpen, models.StatusPartiallyFilled)
	if err != nil {
		return nil, fmt.Errorf("failed to get live orders: %w", err)
	}
	return collectOrders(rows)
}

// UserTrades returns every trade where the account was taker or maker,
// newest first.
func (s *Service) UserTrades(ctx context.Context, acct models.Account) ([]models.ExchangeTrade, error) {
	rows, err := s.db.Pool.Query(ctx,
		`SELECT t.id, t.order_id, t.taker_type, t.taker_id, t.price, t.filled_amount, t.executed_at
		 FROM trades t JOIN orders o ON o.id = t.order_id
		 WHERE (t.taker_type = $1 AND t.taker_id = $2) OR (o.owner_type = $1 AND o.owner_id = $2)
		 ORDER BY t.executed_at DESC, t.id DESC`,
		acct.Type, acct.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user trades: %w", err)
	}
	defer rows.Close()

	var trades []models.ExchangeTrade
	for rows.Next() {
		var t models.ExchangeTrade
		if err := rows.Scan(&t.ID, &t.OrderID, &t.Taker.Type, &t.Taker.ID, &t.Price, &t.FilledAmount, &t.ExecutedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// RateHistory returns snapshots for a community sampled at or after since,
// oldest first.
func (s *Service) RateHistory(ctx context.Context, communityID int64, since time.Time) ([]models.RateSnapshot, error) {
	rows, err := s.db.Pool.Query(ctx,
		`SELECT id, community_id, rate, sampled_at FROM rate_snapshots
		 WHERE community_id = $1 AND sampled_at >= $2
		 ORDER BY sampled_at ASC`,
		communityID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to get rate history: %w", err)
	}
	defer rows.Close()

	var snapshots []models.RateSnapshot
	for rows.Next() {
		var snap models.RateSnapshot
		if err := rows.Scan(&snap.ID, &snap.CommunityID, &snap.Rate, &snap.SampledAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, rows.Err()
}

// Balances returns the caller's holdings across all currencies.
func (s *Service) Balances(ctx context.Context, acct models.Account) ([]ledger.Balance, error) {
	return s.ledger.Balances(ctx, s.db.Pool, acct)
}
