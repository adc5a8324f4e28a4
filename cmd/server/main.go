package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/communex/goldboard/internal/api"
	"github.com/communex/goldboard/internal/auth"
	"github.com/communex/goldboard/internal/book"
	"github.com/communex/goldboard/internal/community"
	"github.com/communex/goldboard/internal/config"
	"github.com/communex/goldboard/internal/db"
	"github.com/communex/goldboard/internal/exchange"
	"github.com/communex/goldboard/internal/ledger"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// hub pushes aggregated book updates to connected websocket clients.
type hub struct {
	mu      sync.RWMutex
	clients map[*wsClient]bool
	svc     *exchange.Service
	dir     community.Directory
	log     *zap.Logger
}

func newHub(svc *exchange.Service, dir community.Directory, log *zap.Logger) *hub {
	return &hub{clients: make(map[*wsClient]bool), svc: svc, dir: dir, log: log}
}

func (h *hub) snapshot(ctx context.Context) ([]byte, error) {
	communities, err := h.dir.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	books := make(map[string]book.Aggregated, len(communities))
	for _, c := range communities {
		orders, err := h.svc.LiveOrders(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		books[fmt.Sprintf("%d", c.ID)] = book.Aggregate(orders, book.DefaultDepth)
	}
	return json.Marshal(books)
}

func (h *hub) broadcast(ctx context.Context) {
	data, err := h.snapshot(ctx)
	if err != nil {
		h.log.Warn("failed to build book broadcast", zap.Error(err))
		return
	}

	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.mu.Lock()
		err := c.conn.WriteMessage(websocket.TextMessage, data)
		c.mu.Unlock()
		if err != nil {
			h.mu.Lock()
			delete(h.clients, c)
			h.mu.Unlock()
		}
	}
}

func (h *hub) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("failed to upgrade connection", zap.Error(err))
		return
	}

	client := &wsClient{conn: conn}
	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()

	// Send the current books right away, then keep reading to detect close.
	h.broadcast(r.Context())
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.mu.Lock()
			delete(h.clients, client)
			h.mu.Unlock()
			break
		}
	}
}

// runJobs drives the maintenance entry points: hourly rate snapshots per
// active community and a daily expiry sweep (also run at startup so a
// restarted server catches up immediately).
func runJobs(ctx context.Context, svc *exchange.Service, dir community.Directory, logger *zap.Logger) {
	sweep := func() {
		n, err := svc.ExpireOldOrders(ctx)
		if err != nil {
			logger.Error("expiry sweep failed", zap.Error(err))
			return
		}
		logger.Info("expiry sweep done", zap.Int("expired", n))
	}
	snapshotAll := func() {
		communities, err := dir.ListActive(ctx)
		if err != nil {
			logger.Error("failed to list communities for snapshots", zap.Error(err))
			return
		}
		for _, c := range communities {
			snap, err := svc.SnapshotRate(ctx, c.ID, time.Now())
			if err != nil {
				logger.Error("rate snapshot failed", zap.Int64("community_id", c.ID), zap.Error(err))
				continue
			}
			if snap != nil {
				logger.Info("rate snapshot taken",
					zap.Int64("community_id", c.ID), zap.String("rate", snap.Rate.String()))
			}
		}
	}

	sweep()
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			snapshotAll()
		}
	}()
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			sweep()
		}
	}()
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	var logger *zap.Logger
	if cfg.App.Environment == "production" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	database, err := db.New(ctx, cfg.DB.URL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	dir := community.NewPG(database.Pool)
	svc := exchange.NewService(database, ledger.NewPG(), dir, logger)
	authSvc := auth.NewService(database.Pool, cfg.JWT.Secret, time.Duration(cfg.JWT.TTLHours)*time.Hour)
	handler := api.NewHandler(svc, authSvc, logger)

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	bookHub := newHub(svc, dir, logger)
	r.Get("/ws", bookHub.handle)

	// Public endpoints
	r.Post("/auth/register", handler.Register)
	r.Post("/auth/login", handler.Login)
	r.Get("/communities/{id}/orderbook", handler.GetOrderBook)
	r.Get("/communities/{id}/orderbook/level", handler.GetOrderBookLevel)
	r.Get("/communities/{id}/rates", handler.GetRateHistory)

	// Protected endpoints (require JWT)
	r.Group(func(r chi.Router) {
		r.Use(handler.JWTAuthMiddleware)
		r.Post("/orders", handler.PlaceOrder)
		r.Get("/orders", handler.GetUserOrders)
		r.Delete("/orders/{id}", handler.CancelOrder)
		r.Post("/orders/{id}/accept", handler.AcceptOrder)
		r.Get("/trades", handler.GetUserTrades)
		r.Get("/balances", handler.GetBalances)
	})

	runJobs(ctx, svc, dir, logger)

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			bookHub.broadcast(ctx)
		}
	}()

	addr := fmt.Sprintf(":%d", cfg.App.Port)
	logger.Info("starting server", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, r); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}
