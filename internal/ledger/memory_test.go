package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/communex/goldboard/internal/models"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestMemory_DebitCredit(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	acct := models.PersonalAccount(1)
	meta := Metadata{"order_id": int64(9)}

	m.Fund(acct, models.Gold, dec("100"))

	if err := m.Debit(ctx, nil, acct, models.Gold, dec("30"), KindOrderLocked, meta); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := m.BalanceOf(acct, models.Gold); !got.Equal(dec("70")) {
		t.Errorf("expected 70 after debit, got %s", got)
	}

	err := m.Debit(ctx, nil, acct, models.Gold, dec("1000"), KindOrderLocked, meta)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("expected insufficient funds, got %v", err)
	}
	if got := m.BalanceOf(acct, models.Gold); !got.Equal(dec("70")) {
		t.Errorf("failed debit must not change balance, got %s", got)
	}

	if err := m.Credit(ctx, nil, acct, models.Gold, dec("5"), KindOrderRefunded, meta); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := m.BalanceOf(acct, models.Gold); !got.Equal(dec("75")) {
		t.Errorf("expected 75 after credit, got %s", got)
	}

	if err := m.Debit(ctx, nil, acct, models.Gold, dec("0"), KindOrderLocked, meta); err == nil {
		t.Error("zero debit must be rejected")
	}
}

func TestMemory_Transfer(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	from := models.PersonalAccount(1)
	to := models.TreasuryAccount(2)

	m.Fund(from, models.Gold, dec("50"))

	if err := m.Transfer(ctx, nil, from, to, models.Gold, dec("20"), KindOrderFilled, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := m.BalanceOf(from, models.Gold); !got.Equal(dec("30")) {
		t.Errorf("expected 30 at sender, got %s", got)
	}
	if got := m.BalanceOf(to, models.Gold); !got.Equal(dec("20")) {
		t.Errorf("expected 20 at receiver, got %s", got)
	}

	err := m.Transfer(ctx, nil, from, to, models.Gold, dec("100"), KindOrderFilled, nil)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("expected insufficient funds, got %v", err)
	}
	if got := m.BalanceOf(to, models.Gold); !got.Equal(dec("20")) {
		t.Errorf("failed transfer must not credit receiver, got %s", got)
	}
}

func TestMemory_EntriesAppendOnly(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	acct := models.PersonalAccount(1)
	m.Fund(acct, models.Gold, dec("10"))

	_ = m.Debit(ctx, nil, acct, models.Gold, dec("4"), KindOrderLocked, Metadata{"order_id": int64(1)})
	_ = m.Credit(ctx, nil, acct, models.Gold, dec("4"), KindOrderRefunded, Metadata{"order_id": int64(1)})

	entries := m.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Kind != KindOrderLocked || entries[0].Direction != "debit" {
		t.Errorf("unexpected first entry: %+v", entries[0])
	}
	if entries[1].Kind != KindOrderRefunded || entries[1].Direction != "credit" {
		t.Errorf("unexpected second entry: %+v", entries[1])
	}
	// Fund is seeding, not a movement; it must not appear in the trail.
	for _, e := range entries {
		if e.Metadata["order_id"] != int64(1) {
			t.Errorf("entry missing order id metadata: %+v", e)
		}
	}
}

func TestMemory_Balances(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	acct := models.PersonalAccount(1)
	other := models.PersonalAccount(2)
	m.Fund(acct, models.Gold, dec("10"))
	m.Fund(acct, models.CommunityCurrency(3), dec("20"))
	m.Fund(other, models.Gold, dec("99"))

	balances, err := m.Balances(ctx, nil, acct)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(balances) != 2 {
		t.Fatalf("expected 2 balances, got %d", len(balances))
	}
	for _, b := range balances {
		if !b.Account.Equal(acct) {
			t.Errorf("foreign balance leaked: %+v", b)
		}
	}
}
