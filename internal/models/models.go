package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Gold is the reference currency every community currency trades against.
const Gold = "gold"

// CommunityCurrency returns the ledger currency code for a community's own currency.
func CommunityCurrency(communityID int64) string {
	return fmt.Sprintf("cc/%d", communityID)
}

// Side of an order. A buy order offers gold for community currency,
// a sell order offers community currency for gold.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// OrderStatus is the closed set of order lifecycle states.
type OrderStatus string

const (
	StatusOpen            OrderStatus = "open"
	StatusPartiallyFilled OrderStatus = "partially_filled"
	StatusFilled          OrderStatus = "filled"
	StatusCancelled       OrderStatus = "cancelled"
	StatusExpired         OrderStatus = "expired"
)

// Live reports whether the order can still be filled or cancelled.
func (s OrderStatus) Live() bool {
	return s == StatusOpen || s == StatusPartiallyFilled
}

// Terminal states permit no further mutation.
func (s OrderStatus) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled || s == StatusExpired
}

var orderTransitions = map[OrderStatus][]OrderStatus{
	StatusOpen:            {StatusPartiallyFilled, StatusFilled, StatusCancelled, StatusExpired},
	StatusPartiallyFilled: {StatusPartiallyFilled, StatusFilled, StatusCancelled, StatusExpired},
}

// CanTransition reports whether the state machine allows moving from s to next.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// AccountType distinguishes personal wallets from community treasuries.
type AccountType string

const (
	AccountPersonal AccountType = "personal"
	AccountTreasury AccountType = "treasury"
)

func (t AccountType) Valid() bool {
	return t == AccountPersonal || t == AccountTreasury
}

// Account identifies a ledger account: either a user's personal wallet or a
// community treasury. ID is a user id for personal accounts and a community
// id for treasury accounts.
type Account struct {
	Type AccountType `json:"type"`
	ID   int64       `json:"id"`
}

func PersonalAccount(userID int64) Account {
	return Account{Type: AccountPersonal, ID: userID}
}

func TreasuryAccount(communityID int64) Account {
	return Account{Type: AccountTreasury, ID: communityID}
}

func (a Account) Equal(b Account) bool {
	return a.Type == b.Type && a.ID == b.ID
}

func (a Account) String() string {
	return fmt.Sprintf("%s/%d", a.Type, a.ID)
}

// OrderTTL is how long a resting order stays live before the expiry sweep
// reclaims it.
const OrderTTL = 30 * 24 * time.Hour

// ExchangeOrder is a maker's standing offer to trade community currency
// against gold at a fixed rate. Price is gold per unit of community currency;
// amounts are always denominated in community currency units.
type ExchangeOrder struct {
	ID              int64           `json:"id"`
	CommunityID     int64           `json:"community_id"`
	Owner           Account         `json:"owner"`
	Side            Side            `json:"side"`
	Price           decimal.Decimal `json:"price"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	RemainingAmount decimal.Decimal `json:"remaining_amount"`
	Status          OrderStatus     `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	ExpiresAt       time.Time       `json:"expires_at"`
}

// EscrowCurrency is the currency the maker gave up when posting the order:
// sell orders escrow community currency, buy orders escrow gold.
func (o *ExchangeOrder) EscrowCurrency() string {
	if o.Side == SideSell {
		return CommunityCurrency(o.CommunityID)
	}
	return Gold
}

// EscrowFor converts an amount of community currency into the escrowed
// asset: the amount itself for sell orders, amount*price gold for buy orders.
func (o *ExchangeOrder) EscrowFor(amount decimal.Decimal) decimal.Decimal {
	if o.Side == SideSell {
		return amount
	}
	return amount.Mul(o.Price)
}

// ExchangeTrade records one settlement against an order. Trades are
// append-only; the price is the order's price at execution time.
type ExchangeTrade struct {
	ID           int64           `json:"id"`
	OrderID      int64           `json:"order_id"`
	Taker        Account         `json:"taker"`
	Price        decimal.Decimal `json:"price"`
	FilledAmount decimal.Decimal `json:"filled_amount"`
	ExecutedAt   time.Time       `json:"executed_at"`
}

// RateSnapshot is an hourly observation of a community currency's gold rate.
type RateSnapshot struct {
	ID          int64           `json:"id"`
	CommunityID int64           `json:"community_id"`
	Rate        decimal.Decimal `json:"rate"`
	SampledAt   time.Time       `json:"sampled_at"`
}

// PriceLevel is one row of the aggregated order book: every live order on
// one side sharing one price, plus up to a handful of maker avatars.
type PriceLevel struct {
	Side           Side            `json:"side"`
	Price          decimal.Decimal `json:"price"`
	TotalRemaining decimal.Decimal `json:"total_remaining"`
	OrderCount     int             `json:"order_count"`
	Makers         []Account       `json:"makers"`
}

// User is a registered account holder.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Community is an independent economy with its own currency.
type Community struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
