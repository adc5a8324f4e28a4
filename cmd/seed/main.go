// Seeds a local database with two communities, a few funded users and some
// resting orders so the board has something to show.
package main

import (
	"context"
	"log"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/communex/goldboard/internal/auth"
	"github.com/communex/goldboard/internal/community"
	"github.com/communex/goldboard/internal/config"
	"github.com/communex/goldboard/internal/db"
	"github.com/communex/goldboard/internal/exchange"
	"github.com/communex/goldboard/internal/ledger"
	"github.com/communex/goldboard/internal/models"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	database, err := db.New(ctx, cfg.DB.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	authSvc := auth.NewService(database.Pool, cfg.JWT.Secret, time.Duration(cfg.JWT.TTLHours)*time.Hour)
	svc := exchange.NewService(database, ledger.NewPG(), community.NewPG(database.Pool), logger)

	// Communities
	communityIDs := map[string]int64{}
	for _, name := range []string{"rivermarket", "hilltop"} {
		var id int64
		err := database.Pool.QueryRow(ctx,
			`INSERT INTO communities (name) VALUES ($1)
			 ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
			 RETURNING id`, name).Scan(&id)
		if err != nil {
			log.Fatalf("Failed to seed community %s: %v", name, err)
		}
		communityIDs[name] = id
	}

	// Users
	userIDs := map[string]int64{}
	for _, name := range []string{"alice", "bob", "carol"} {
		user, err := authSvc.Register(ctx, name, "password123")
		if err == nil {
			userIDs[name] = user.ID
			continue
		}
		// Already registered from a previous run
		var id int64
		if err := database.Pool.QueryRow(ctx,
			"SELECT id FROM users WHERE username = $1", name).Scan(&id); err != nil {
			log.Fatalf("Failed to seed user %s: %v", name, err)
		}
		userIDs[name] = id
	}

	// Alice leads rivermarket so she can trade its treasury.
	_, err = database.Pool.Exec(ctx,
		`INSERT INTO community_leaders (community_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		communityIDs["rivermarket"], userIDs["alice"])
	if err != nil {
		log.Fatalf("Failed to seed leadership: %v", err)
	}

	// Starting balances, written directly: seeding is an ops shortcut, not
	// an exchange movement, so it bypasses the ledger adapter on purpose.
	fund := func(acct models.Account, currency string, amount int64) {
		_, err := database.Pool.Exec(ctx,
			`INSERT INTO balances (owner_type, owner_id, currency, amount) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (owner_type, owner_id, currency) DO UPDATE SET amount = EXCLUDED.amount`,
			acct.Type, acct.ID, currency, decimal.NewFromInt(amount))
		if err != nil {
			log.Fatalf("Failed to fund %s: %v", acct, err)
		}
	}
	for _, name := range []string{"alice", "bob", "carol"} {
		acct := models.PersonalAccount(userIDs[name])
		fund(acct, models.Gold, 10_000)
		fund(acct, models.CommunityCurrency(communityIDs["rivermarket"]), 50_000)
		fund(acct, models.CommunityCurrency(communityIDs["hilltop"]), 50_000)
	}
	fund(models.TreasuryAccount(communityIDs["rivermarket"]), models.Gold, 100_000)

	// A small two-sided book on each community.
	type seedOrder struct {
		user     string
		comm     string
		side     models.Side
		price    string
		amount   string
		acctType models.AccountType
	}
	for _, o := range []seedOrder{
		{"alice", "rivermarket", models.SideSell, "0.10", "500", models.AccountPersonal},
		{"bob", "rivermarket", models.SideSell, "0.12", "1200", models.AccountPersonal},
		{"carol", "rivermarket", models.SideBuy, "0.08", "800", models.AccountPersonal},
		{"alice", "rivermarket", models.SideBuy, "0.09", "300", models.AccountTreasury},
		{"bob", "hilltop", models.SideSell, "2.50", "40", models.AccountPersonal},
		{"carol", "hilltop", models.SideBuy, "2.00", "60", models.AccountPersonal},
	} {
		price, _ := decimal.NewFromString(o.price)
		amount, _ := decimal.NewFromString(o.amount)
		order, err := svc.CreateOrder(ctx, userIDs[o.user], communityIDs[o.comm], o.side, price, amount, o.acctType)
		if err != nil {
			log.Printf("Skipping seed order for %s: %v", o.user, err)
			continue
		}
		log.Printf("Seeded order %d: %s %s %s @ %s on %s", order.ID, o.user, o.side, o.amount, o.price, o.comm)
	}

	log.Println("Seed complete")
}
