// Package exchange implements the order board engine: order creation with
// escrow, concurrency-safe acceptance with partial fills, cancellation with
// refund, the expiry sweep and rate snapshots. Every mutation runs as one
// transaction spanning the order row and the ledger movements it implies,
// serialized per order with a row-level lock.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/communex/goldboard/internal/community"
	"github.com/communex/goldboard/internal/db"
	"github.com/communex/goldboard/internal/ledger"
	"github.com/communex/goldboard/internal/models"
)

// Service owns ExchangeOrder rows and is the only writer of ExchangeTrade
// and RateSnapshot rows. Balance movements go through the injected ledger
// adapter, never direct SQL.
type Service struct {
	db          *db.DB
	ledger      ledger.Adapter
	communities community.Directory
	log         *zap.Logger
}

// NewService creates the exchange engine.
func NewService(database *db.DB, adapter ledger.Adapter, dir community.Directory, log *zap.Logger) *Service {
	return &Service{db: database, ledger: adapter, communities: dir, log: log}
}

// inTx runs fn inside a transaction, rolling back on error.
func (s *Service) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// actingAccount resolves the account a user is operating as. Treasury use
// requires leadership of the community, checked once here at the boundary.
func (s *Service) actingAccount(ctx context.Context, userID, communityID int64, acctType models.AccountType) (models.Account, error) {
	switch acctType {
	case models.AccountPersonal:
		return models.PersonalAccount(userID), nil
	case models.AccountTreasury:
		isLeader, err := s.communities.IsLeader(ctx, userID, communityID)
		if err != nil {
			return models.Account{}, fmt.Errorf("failed to resolve leadership: %w", err)
		}
		if !isLeader {
			return models.Account{}, validationErr("user %d is not a leader of community %d", userID, communityID)
		}
		return models.TreasuryAccount(communityID), nil
	default:
		return models.Account{}, validationErr("invalid account type %q", acctType)
	}
}

// CreateOrder posts a resting order, escrowing the side the maker gives up
// (sell: the currency amount, buy: amount*price gold) atomically with the
// row insert. On insufficient funds no order is created.
func (s *Service) CreateOrder(ctx context.Context, callerUserID, communityID int64, side models.Side, price, amount decimal.Decimal, acctType models.AccountType) (*models.ExchangeOrder, error) {
	if !side.Valid() {
		return nil, validationErr("side must be %q or %q", models.SideBuy, models.SideSell)
	}
	if price.Sign() <= 0 {
		return nil, validationErr("price must be positive, got %s", price)
	}
	if amount.Sign() <= 0 {
		return nil, validationErr("amount must be positive, got %s", amount)
	}

	owner, err := s.actingAccount(ctx, callerUserID, communityID, acctType)
	if err != nil {
		return nil, err
	}

	order := &models.ExchangeOrder{
		CommunityID:     communityID,
		Owner:           owner,
		Side:            side,
		Price:           price,
		TotalAmount:     amount,
		RemainingAmount: amount,
		Status:          models.StatusOpen,
	}

	err = s.inTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`INSERT INTO orders (community_id, owner_type, owner_id, side, price, total_amount, remaining_amount, status, expires_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $6, $7, $8)
			 RETURNING `+orderColumns,
			communityID, owner.Type, owner.ID, side, price, amount, models.StatusOpen,
			time.Now().Add(models.OrderTTL))
		if err := scanOrder(row, order); err != nil {
			return fmt.Errorf("failed to insert order: %w", err)
		}

		escrow := order.EscrowFor(order.TotalAmount)
		err := s.ledger.Debit(ctx, tx, owner, order.EscrowCurrency(), escrow,
			ledger.KindOrderLocked, ledger.Metadata{"order_id": order.ID})
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			return orderErr(KindInsufficientFunds, order.ID, "escrow cannot be covered")
		}
		return err
	})
	if err != nil {
		return nil, wrapTxErr(err, 0)
	}
	return order, nil
}

// CancelOrder refunds the unfilled escrow and moves the order to Cancelled.
// Only the owner (or community leadership, for treasury orders) may cancel;
// a second cancel fails with InvalidState and never refunds twice.
func (s *Service) CancelOrder(ctx context.Context, orderID, callerUserID int64) (*models.ExchangeOrder, error) {
	var order *models.ExchangeOrder

	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		order, err = s.lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}

		if err := s.authorizeOwner(ctx, order, callerUserID); err != nil {
			return err
		}
		if !order.Status.CanTransition(models.StatusCancelled) {
			return orderErr(KindInvalidState, orderID, fmt.Sprintf("cannot cancel %s order", order.Status))
		}

		refund := order.EscrowFor(order.RemainingAmount)
		err = s.ledger.Credit(ctx, tx, order.Owner, order.EscrowCurrency(), refund,
			ledger.KindOrderRefunded, ledger.Metadata{"order_id": order.ID})
		if err != nil {
			return err
		}

		return s.setStatus(ctx, tx, order, models.StatusCancelled, order.RemainingAmount)
	})
	if err != nil {
		return nil, wrapTxErr(err, orderID)
	}
	return order, nil
}

// Accept fills a resting order for min(requested, remaining). The taker pays
// the opposite leg at the maker's price and receives the escrowed asset;
// both movements, the trade record and the order update commit as one unit.
func (s *Service) Accept(ctx context.Context, orderID, takerUserID int64, acctType models.AccountType, requested decimal.Decimal) (*models.ExchangeTrade, *models.ExchangeOrder, error) {
	if requested.Sign() <= 0 {
		return nil, nil, validationErr("requested amount must be positive, got %s", requested)
	}

	var (
		order *models.ExchangeOrder
		trade *models.ExchangeTrade
	)

	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		order, err = s.lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}

		switch order.Status {
		case models.StatusFilled:
			return orderErr(KindInsufficientRemainder, orderID, "order is fully filled")
		case models.StatusCancelled, models.StatusExpired:
			return orderErr(KindInvalidState, orderID, fmt.Sprintf("order is %s", order.Status))
		}

		taker, err := s.actingAccount(ctx, takerUserID, order.CommunityID, acctType)
		if err != nil {
			return err
		}
		if taker.Equal(order.Owner) {
			return orderErr(KindSelfTrade, orderID, "taker owns this order")
		}

		fill := decimal.Min(requested, order.RemainingAmount)
		goldLeg := fill.Mul(order.Price)
		currency := models.CommunityCurrency(order.CommunityID)
		meta := ledger.Metadata{"order_id": order.ID}

		// The taker pays the leg the maker wants and receives the escrowed
		// asset; the maker's escrow was debited at creation, so its release
		// is a plain credit to the taker.
		if order.Side == models.SideSell {
			err = s.ledger.Transfer(ctx, tx, taker, order.Owner, models.Gold, goldLeg, ledger.KindOrderFilled, meta)
			if err == nil {
				err = s.ledger.Credit(ctx, tx, taker, currency, fill, ledger.KindOrderFilled, meta)
			}
		} else {
			err = s.ledger.Transfer(ctx, tx, taker, order.Owner, currency, fill, ledger.KindOrderFilled, meta)
			if err == nil {
				err = s.ledger.Credit(ctx, tx, taker, models.Gold, goldLeg, ledger.KindOrderFilled, meta)
			}
		}
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			return orderErr(KindInsufficientFunds, orderID, "taker payment cannot be covered")
		}
		if err != nil {
			return err
		}

		trade = &models.ExchangeTrade{OrderID: order.ID, Taker: taker, Price: order.Price, FilledAmount: fill}
		err = tx.QueryRow(ctx,
			`INSERT INTO trades (order_id, taker_type, taker_id, price, filled_amount)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING id, executed_at`,
			order.ID, taker.Type, taker.ID, order.Price, fill).Scan(&trade.ID, &trade.ExecutedAt)
		if err != nil {
			return fmt.Errorf("failed to insert trade: %w", err)
		}

		remaining := order.RemainingAmount.Sub(fill)
		next := models.StatusPartiallyFilled
		if remaining.IsZero() {
			next = models.StatusFilled
		}
		if !order.Status.CanTransition(next) {
			return orderErr(KindInvalidState, orderID, fmt.Sprintf("cannot move %s order to %s", order.Status, next))
		}
		return s.setStatus(ctx, tx, order, next, remaining)
	})
	if err != nil {
		return nil, nil, wrapTxErr(err, orderID)
	}
	return trade, order, nil
}

// authorizeOwner checks that the caller may act for the order's owner.
func (s *Service) authorizeOwner(ctx context.Context, order *models.ExchangeOrder, callerUserID int64) error {
	if order.Owner.Type == models.AccountPersonal {
		if order.Owner.ID != callerUserID {
			return orderErr(KindNotOwner, order.ID, "order belongs to another user")
		}
		return nil
	}
	isLeader, err := s.communities.IsLeader(ctx, callerUserID, order.Owner.ID)
	if err != nil {
		return fmt.Errorf("failed to resolve leadership: %w", err)
	}
	if !isLeader {
		return orderErr(KindNotOwner, order.ID, "caller cannot act for the treasury")
	}
	return nil
}

// lockOrder loads an order under FOR UPDATE so no concurrent fill, cancel
// or expiry can read-modify-write the same row.
func (s *Service) lockOrder(ctx context.Context, tx pgx.Tx, orderID int64) (*models.ExchangeOrder, error) {
	order := &models.ExchangeOrder{}
	row := tx.QueryRow(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1 FOR UPDATE", orderID)
	if err := scanOrder(row, order); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, orderErr(KindNotFound, orderID, "order not found")
		}
		return nil, fmt.Errorf("failed to load order %d: %w", orderID, err)
	}
	return order, nil
}

// setStatus applies the remaining-amount decrement and status transition on
// the row the caller holds locked.
func (s *Service) setStatus(ctx context.Context, tx pgx.Tx, order *models.ExchangeOrder, next models.OrderStatus, remaining decimal.Decimal) error {
	tag, err := tx.Exec(ctx,
		"UPDATE orders SET status = $2, remaining_amount = $3 WHERE id = $1",
		order.ID, next, remaining)
	if err != nil {
		return fmt.Errorf("failed to update order %d: %w", order.ID, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("order %d vanished during update", order.ID)
	}
	order.Status = next
	order.RemainingAmount = remaining
	return nil
}
