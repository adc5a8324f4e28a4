package book

import (
	"fmt"
	"testing"
	"time"

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

func order(id int64, owner int64, side models.Side, price, remaining string, age time.Duration) models.ExchangeOrder {
	return models.ExchangeOrder{
		ID:              id,
		CommunityID:     1,
		Owner:           models.PersonalAccount(owner),
		Side:            side,
		Price:           dec(price),
		TotalAmount:     dec(remaining),
		RemainingAmount: dec(remaining),
		Status:          models.StatusOpen,
		CreatedAt:       time.Now().Add(-age),
	}
}

func TestAggregate_Levels(t *testing.T) {
	orders := []models.ExchangeOrder{
		order(1, 10, models.SideBuy, "0.08", "100", 3*time.Minute),
		order(2, 11, models.SideBuy, "0.09", "50", 2*time.Minute),
		order(3, 12, models.SideBuy, "0.08", "200", time.Minute),
		order(4, 13, models.SideSell, "0.12", "300", 3*time.Minute),
		order(5, 14, models.SideSell, "0.11", "80", 2*time.Minute),
		order(6, 15, models.SideSell, "0.12", "20", time.Minute),
	}

	agg := Aggregate(orders, DefaultDepth)

	if len(agg.Bids) != 2 || len(agg.Asks) != 2 {
		t.Fatalf("expected 2 levels per side, got %d/%d", len(agg.Bids), len(agg.Asks))
	}
	// Best bid first, best ask first.
	if !agg.Bids[0].Price.Equal(dec("0.09")) {
		t.Errorf("expected best bid 0.09 first, got %s", agg.Bids[0].Price)
	}
	if !agg.Asks[0].Price.Equal(dec("0.11")) {
		t.Errorf("expected best ask 0.11 first, got %s", agg.Asks[0].Price)
	}
	// Remaining sums per level.
	if !agg.Bids[1].TotalRemaining.Equal(dec("300")) {
		t.Errorf("expected 300 at bid 0.08, got %s", agg.Bids[1].TotalRemaining)
	}
	if agg.Bids[1].OrderCount != 2 {
		t.Errorf("expected 2 orders at bid 0.08, got %d", agg.Bids[1].OrderCount)
	}
	// Makers ordered by remaining size, largest first.
	if len(agg.Bids[1].Makers) != 2 || agg.Bids[1].Makers[0].ID != 12 {
		t.Errorf("expected maker 12 (largest) first, got %+v", agg.Bids[1].Makers)
	}
	if agg.Asks[1].Makers[0].ID != 13 {
		t.Errorf("expected maker 13 (largest) first, got %+v", agg.Asks[1].Makers)
	}
}

func TestAggregate_DepthTruncation(t *testing.T) {
	var orders []models.ExchangeOrder
	for i := 0; i < 15; i++ {
		orders = append(orders, order(int64(i+1), int64(i+1), models.SideSell,
			fmt.Sprintf("0.%02d", i+1), "10", time.Minute))
	}

	agg := Aggregate(orders, 10)
	if len(agg.Asks) != 10 {
		t.Fatalf("expected 10 ask levels, got %d", len(agg.Asks))
	}
	// Truncation keeps the best (lowest) asks.
	if !agg.Asks[0].Price.Equal(dec("0.01")) || !agg.Asks[9].Price.Equal(dec("0.10")) {
		t.Errorf("unexpected truncation window: %s .. %s", agg.Asks[0].Price, agg.Asks[9].Price)
	}
}

func TestAggregate_MakerCapAndDedupe(t *testing.T) {
	var orders []models.ExchangeOrder
	for i := 0; i < 8; i++ {
		o := order(int64(i+1), int64(i%6+1), models.SideBuy, "0.10",
			fmt.Sprintf("%d", (i+1)*10), time.Minute)
		orders = append(orders, o)
	}

	agg := Aggregate(orders, DefaultDepth)
	if len(agg.Bids) != 1 {
		t.Fatalf("expected a single level, got %d", len(agg.Bids))
	}
	lv := agg.Bids[0]
	if len(lv.Makers) != MaxMakersPerLevel {
		t.Errorf("expected %d makers, got %d", MaxMakersPerLevel, len(lv.Makers))
	}
	seen := map[models.Account]bool{}
	for _, m := range lv.Makers {
		if seen[m] {
			t.Errorf("duplicate maker %s surfaced", m)
		}
		seen[m] = true
	}
	// Owners 1 and 2 have two orders each; their larger orders (70, 80) rank
	// them first.
	if lv.Makers[0].ID != 2 || lv.Makers[1].ID != 1 {
		t.Errorf("unexpected maker ordering: %+v", lv.Makers)
	}
}

func TestAggregate_SkipsNonLiveOrders(t *testing.T) {
	filled := order(1, 1, models.SideBuy, "0.10", "100", time.Minute)
	filled.Status = models.StatusFilled
	cancelled := order(2, 2, models.SideSell, "0.20", "100", time.Minute)
	cancelled.Status = models.StatusCancelled
	partial := order(3, 3, models.SideBuy, "0.10", "30", time.Minute)
	partial.Status = models.StatusPartiallyFilled

	agg := Aggregate([]models.ExchangeOrder{filled, cancelled, partial}, DefaultDepth)
	if len(agg.Asks) != 0 {
		t.Errorf("cancelled order leaked into asks: %+v", agg.Asks)
	}
	if len(agg.Bids) != 1 || !agg.Bids[0].TotalRemaining.Equal(dec("30")) {
		t.Errorf("expected only the partial fill's 30 remaining, got %+v", agg.Bids)
	}
}

func TestAtLevel_OldestFirst(t *testing.T) {
	orders := []models.ExchangeOrder{
		order(3, 1, models.SideSell, "0.10", "10", time.Minute),
		order(1, 2, models.SideSell, "0.10", "20", 3*time.Minute),
		order(2, 3, models.SideSell, "0.10", "30", 2*time.Minute),
		order(4, 4, models.SideSell, "0.20", "40", 4*time.Minute), // other level
		order(5, 5, models.SideBuy, "0.10", "50", 5*time.Minute),  // other side
	}

	level := AtLevel(orders, models.SideSell, dec("0.10"))
	if len(level) != 3 {
		t.Fatalf("expected 3 orders at level, got %d", len(level))
	}
	for i, want := range []int64{1, 2, 3} {
		if level[i].ID != want {
			t.Errorf("position %d: expected order %d, got %d", i, want, level[i].ID)
		}
	}
}

func TestAtLevel_TieBreakByID(t *testing.T) {
	created := time.Now()
	a := order(2, 1, models.SideBuy, "0.10", "10", 0)
	b := order(1, 2, models.SideBuy, "0.10", "10", 0)
	a.CreatedAt = created
	b.CreatedAt = created

	level := AtLevel([]models.ExchangeOrder{a, b}, models.SideBuy, dec("0.10"))
	if level[0].ID != 1 || level[1].ID != 2 {
		t.Errorf("expected id ascending on created_at tie, got %d then %d", level[0].ID, level[1].ID)
	}
}
