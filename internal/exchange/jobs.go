package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/communex/goldboard/internal/ledger"
	"github.com/communex/goldboard/internal/models"
)

var two = decimal.NewFromInt(2)

// SnapshotRate records the community's market rate for the hour containing
// at. The rate is the last trade executed inside that hour, falling back to
// the best bid/ask midpoint; with no trade and no two-sided book nothing is
// recorded and (nil, nil) is returned. Re-running inside the same hour
// overwrites the existing row instead of duplicating it.
func (s *Service) SnapshotRate(ctx context.Context, communityID int64, at time.Time) (*models.RateSnapshot, error) {
	bucket := at.UTC().Truncate(time.Hour)
	bucketEnd := bucket.Add(time.Hour)

	var rate decimal.Decimal
	err := s.db.Pool.QueryRow(ctx,
		`SELECT t.price FROM trades t JOIN orders o ON o.id = t.order_id
		 WHERE o.community_id = $1 AND t.executed_at >= $2 AND t.executed_at < $3
		 ORDER BY t.executed_at DESC, t.id DESC LIMIT 1`,
		communityID, bucket, bucketEnd).Scan(&rate)
	if errors.Is(err, pgx.ErrNoRows) {
		var bid, ask decimal.NullDecimal
		err = s.db.Pool.QueryRow(ctx,
			`SELECT MAX(price) FILTER (WHERE side = $2), MIN(price) FILTER (WHERE side = $3)
			 FROM orders WHERE community_id = $1 AND status IN ($4, $5)`,
			communityID, models.SideBuy, models.SideSell,
			models.StatusOpen, models.StatusPartiallyFilled).Scan(&bid, &ask)
		if err != nil {
			return nil, fmt.Errorf("failed to read best bid/ask: %w", err)
		}
		if !bid.Valid || !ask.Valid {
			// No market activity: never fabricate a rate.
			return nil, nil
		}
		rate = bid.Decimal.Add(ask.Decimal).Div(two)
	} else if err != nil {
		return nil, fmt.Errorf("failed to read last trade price: %w", err)
	}

	snap := &models.RateSnapshot{}
	err = s.db.Pool.QueryRow(ctx,
		`INSERT INTO rate_snapshots (community_id, rate, bucket, sampled_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (community_id, bucket)
		 DO UPDATE SET rate = EXCLUDED.rate, sampled_at = EXCLUDED.sampled_at
		 RETURNING id, community_id, rate, sampled_at`,
		communityID, rate, bucket, at).Scan(&snap.ID, &snap.CommunityID, &snap.Rate, &snap.SampledAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert snapshot: %w", err)
	}
	return snap, nil
}

// ExpireOldOrders refunds and expires every live order past its expiry
// time. Each order is handled in its own transaction under the same lock
// discipline as cancel, so a concurrent user action and the sweep can never
// both claim the same unfilled balance; per-order failures are logged and
// do not stop the sweep. Returns the number of orders expired.
func (s *Service) ExpireOldOrders(ctx context.Context) (int, error) {
	rows, err := s.db.Pool.Query(ctx,
		`SELECT id FROM orders WHERE status IN ($1, $2) AND expires_at <= now()`,
		models.StatusOpen, models.StatusPartiallyFilled)
	if err != nil {
		return 0, fmt.Errorf("failed to select expired orders: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan order id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	expired := 0
	for _, id := range ids {
		done, err := s.expireOne(ctx, id)
		if err != nil {
			s.log.Warn("expiry failed, order left for next sweep",
				zap.Int64("order_id", id), zap.Error(err))
			continue
		}
		if done {
			expired++
		}
	}
	return expired, nil
}

func (s *Service) expireOne(ctx context.Context, orderID int64) (bool, error) {
	expired := false
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		order, err := s.lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		// Re-check under the lock: a cancel, fill or earlier sweep run may
		// have won the race since the candidate scan.
		if !order.Status.CanTransition(models.StatusExpired) || order.ExpiresAt.After(time.Now()) {
			return nil
		}

		refund := order.EscrowFor(order.RemainingAmount)
		err = s.ledger.Credit(ctx, tx, order.Owner, order.EscrowCurrency(), refund,
			ledger.KindOrderRefunded, ledger.Metadata{"order_id": order.ID})
		if err != nil {
			return err
		}
		if err := s.setStatus(ctx, tx, order, models.StatusExpired, order.RemainingAmount); err != nil {
			return err
		}
		expired = true
		return nil
	})
	return expired, err
}
