// Package book projects live orders into display views: price-level
// aggregation for the board and per-level disaggregation for fill picking.
// It is read-only and works on order slices so it needs no store of its own.
package book

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/communex/goldboard/internal/models"
)

const (
	// DefaultDepth is the number of price levels shown per side.
	DefaultDepth = 10
	// MaxMakersPerLevel caps the maker avatars surfaced per price level.
	MaxMakersPerLevel = 5
)

// Aggregated is the two-sided book: best bid first, best ask first.
type Aggregated struct {
	Bids []models.PriceLevel `json:"bids"`
	Asks []models.PriceLevel `json:"asks"`
}

// Aggregate groups live orders by (side, price), sums remaining amounts and
// picks up to MaxMakersPerLevel distinct makers per level, largest remaining
// order first with order id as the tie break so the view is deterministic.
// Each side is truncated to depth levels.
func Aggregate(orders []models.ExchangeOrder, depth int) Aggregated {
	if depth <= 0 {
		depth = DefaultDepth
	}

	type level struct {
		price  decimal.Decimal
		orders []models.ExchangeOrder
	}
	var bids, asks []*level

	find := func(levels []*level, price decimal.Decimal) *level {
		for _, lv := range levels {
			if lv.price.Equal(price) {
				return lv
			}
		}
		return nil
	}

	for _, o := range orders {
		if !o.Status.Live() {
			continue
		}
		side := &bids
		if o.Side == models.SideSell {
			side = &asks
		}
		lv := find(*side, o.Price)
		if lv == nil {
			lv = &level{price: o.Price}
			*side = append(*side, lv)
		}
		lv.orders = append(lv.orders, o)
	}

	build := func(levels []*level, side models.Side, bestFirst func(a, b decimal.Decimal) bool) []models.PriceLevel {
		sort.Slice(levels, func(i, j int) bool {
			return bestFirst(levels[i].price, levels[j].price)
		})
		if len(levels) > depth {
			levels = levels[:depth]
		}

		out := make([]models.PriceLevel, 0, len(levels))
		for _, lv := range levels {
			sort.Slice(lv.orders, func(i, j int) bool {
				if !lv.orders[i].RemainingAmount.Equal(lv.orders[j].RemainingAmount) {
					return lv.orders[i].RemainingAmount.GreaterThan(lv.orders[j].RemainingAmount)
				}
				return lv.orders[i].ID < lv.orders[j].ID
			})

			pl := models.PriceLevel{
				Side:           side,
				Price:          lv.price,
				TotalRemaining: decimal.Zero,
				OrderCount:     len(lv.orders),
			}
			seen := make(map[models.Account]bool)
			for _, o := range lv.orders {
				pl.TotalRemaining = pl.TotalRemaining.Add(o.RemainingAmount)
				if len(pl.Makers) < MaxMakersPerLevel && !seen[o.Owner] {
					seen[o.Owner] = true
					pl.Makers = append(pl.Makers, o.Owner)
				}
			}
			out = append(out, pl)
		}
		return out
	}

	return Aggregated{
		Bids: build(bids, models.SideBuy, func(a, b decimal.Decimal) bool { return a.GreaterThan(b) }),
		Asks: build(asks, models.SideSell, func(a, b decimal.Decimal) bool { return a.LessThan(b) }),
	}
}

// AtLevel returns every live order at exactly (side, price), oldest first
// with id as the tie break. There is no matching priority to enforce; the
// stable ordering is for UI stability and for takers choosing whom to fill.
func AtLevel(orders []models.ExchangeOrder, side models.Side, price decimal.Decimal) []models.ExchangeOrder {
	var out []models.ExchangeOrder
	for _, o := range orders {
		if o.Status.Live() && o.Side == side && o.Price.Equal(price) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
