package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestOrderStatus_Transitions(t *testing.T) {
	tests := []struct {
		from  OrderStatus
		to    OrderStatus
		allow bool
	}{
		{StatusOpen, StatusPartiallyFilled, true},
		{StatusOpen, StatusFilled, true},
		{StatusOpen, StatusCancelled, true},
		{StatusOpen, StatusExpired, true},
		{StatusPartiallyFilled, StatusPartiallyFilled, true},
		{StatusPartiallyFilled, StatusFilled, true},
		{StatusPartiallyFilled, StatusCancelled, true},
		{StatusPartiallyFilled, StatusExpired, true},
		{StatusFilled, StatusCancelled, false},
		{StatusFilled, StatusPartiallyFilled, false},
		{StatusCancelled, StatusCancelled, false},
		{StatusCancelled, StatusExpired, false},
		{StatusExpired, StatusCancelled, false},
		{StatusOpen, StatusOpen, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.allow {
			t.Errorf("%s -> %s: expected %v, got %v", tt.from, tt.to, tt.allow, got)
		}
	}
}

func TestOrderStatus_LiveAndTerminal(t *testing.T) {
	for _, s := range []OrderStatus{StatusOpen, StatusPartiallyFilled} {
		if !s.Live() || s.Terminal() {
			t.Errorf("%s should be live and not terminal", s)
		}
	}
	for _, s := range []OrderStatus{StatusFilled, StatusCancelled, StatusExpired} {
		if s.Live() || !s.Terminal() {
			t.Errorf("%s should be terminal and not live", s)
		}
	}
}

func TestAccount(t *testing.T) {
	personal := PersonalAccount(7)
	treasury := TreasuryAccount(7)

	if personal.Equal(treasury) {
		t.Error("personal and treasury accounts with the same id must differ")
	}
	if !personal.Equal(PersonalAccount(7)) {
		t.Error("identical personal accounts must be equal")
	}
	if personal.String() != "personal/7" || treasury.String() != "treasury/7" {
		t.Errorf("unexpected account strings: %s, %s", personal, treasury)
	}
}

func TestExchangeOrder_Escrow(t *testing.T) {
	sell := &ExchangeOrder{CommunityID: 3, Side: SideSell, Price: dec("0.1")}
	if sell.EscrowCurrency() != CommunityCurrency(3) {
		t.Errorf("sell order must escrow community currency, got %s", sell.EscrowCurrency())
	}
	if got := sell.EscrowFor(dec("500")); !got.Equal(dec("500")) {
		t.Errorf("sell escrow for 500 should be 500, got %s", got)
	}

	buy := &ExchangeOrder{CommunityID: 3, Side: SideBuy, Price: dec("2")}
	if buy.EscrowCurrency() != Gold {
		t.Errorf("buy order must escrow gold, got %s", buy.EscrowCurrency())
	}
	if got := buy.EscrowFor(dec("1000")); !got.Equal(dec("2000")) {
		t.Errorf("buy escrow for 1000 at 2 should be 2000, got %s", got)
	}
}

func TestCommunityCurrency(t *testing.T) {
	if CommunityCurrency(42) != "cc/42" {
		t.Errorf("unexpected currency code %s", CommunityCurrency(42))
	}
	if CommunityCurrency(42) == Gold {
		t.Error("community currency must never collide with gold")
	}
}
