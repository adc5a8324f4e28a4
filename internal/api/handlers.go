package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/communex/goldboard/internal/auth"
	"github.com/communex/goldboard/internal/book"
	"github.com/communex/goldboard/internal/exchange"
	"github.com/communex/goldboard/internal/models"
)

type contextKey string

const userIDKey contextKey = "user_id"

// Handler contains dependencies for HTTP handlers
type Handler struct {
	Svc  *exchange.Service
	Auth *auth.Service
	Log  *zap.Logger
}

// NewHandler creates a new handler
func NewHandler(svc *exchange.Service, authSvc *auth.Service, log *zap.Logger) *Handler {
	return &Handler{Svc: svc, Auth: authSvc, Log: log}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps the engine's error taxonomy onto HTTP statuses with a
// structured body the client can render directly.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var opErr *exchange.Error
	if !errors.As(err, &opErr) {
		h.Log.Error("internal error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	status := http.StatusBadRequest
	switch opErr.Kind {
	case exchange.KindNotFound:
		status = http.StatusNotFound
	case exchange.KindNotOwner:
		status = http.StatusForbidden
	case exchange.KindInvalidState, exchange.KindInsufficientRemainder, exchange.KindConflict:
		status = http.StatusConflict
	}

	body := map[string]any{"error": opErr.Error(), "kind": opErr.Kind}
	if opErr.OrderID != 0 {
		body["order_id"] = opErr.OrderID
	}
	writeJSON(w, status, body)
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	user, err := h.Auth.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"id": user.ID, "username": user.Username})
}

// Login handles user login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	token, err := h.Auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// JWTAuthMiddleware verifies JWT tokens
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "authorization header required"})
			return
		}
		if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
			tokenString = tokenString[7:]
		}

		userID, err := h.Auth.UserFromToken(tokenString)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid or expired token"})
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func callerID(r *http.Request) (int64, bool) {
	id, ok := r.Context().Value(userIDKey).(int64)
	return id, ok
}

func accountType(s string) models.AccountType {
	if s == "" {
		return models.AccountPersonal
	}
	return models.AccountType(s)
}

// PlaceOrder creates a resting order with escrow.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var req struct {
		CommunityID int64           `json:"community_id"`
		Side        models.Side     `json:"side"`
		Price       decimal.Decimal `json:"price"`
		Amount      decimal.Decimal `json:"amount"`
		AccountType string          `json:"account_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	order, err := h.Svc.CreateOrder(r.Context(), userID, req.CommunityID, req.Side, req.Price, req.Amount, accountType(req.AccountType))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

// CancelOrder cancels an open order, refunding the unfilled escrow.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	orderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order id"})
		return
	}

	order, err := h.Svc.CancelOrder(r.Context(), orderID, userID)
	if errors.Is(err, exchange.ErrConflict) {
		order, err = h.Svc.CancelOrder(r.Context(), orderID, userID)
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// AcceptOrder fills a resting order for up to the requested amount.
func (h *Handler) AcceptOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	orderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order id"})
		return
	}

	var req struct {
		Amount      decimal.Decimal `json:"amount"`
		AccountType string          `json:"account_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	trade, order, err := h.Svc.Accept(r.Context(), orderID, userID, accountType(req.AccountType), req.Amount)
	if errors.Is(err, exchange.ErrConflict) {
		// Transient serialization failure: one retry against the updated order.
		trade, order, err = h.Svc.Accept(r.Context(), orderID, userID, accountType(req.AccountType), req.Amount)
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"trade": trade, "order": order})
}

// GetUserOrders retrieves the caller's active orders.
func (h *Handler) GetUserOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	orders, err := h.Svc.UserOrders(r.Context(), models.PersonalAccount(userID))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if orders == nil {
		orders = []models.ExchangeOrder{}
	}
	writeJSON(w, http.StatusOK, orders)
}

// GetUserTrades retrieves the caller's trade history, maker and taker side.
func (h *Handler) GetUserTrades(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	trades, err := h.Svc.UserTrades(r.Context(), models.PersonalAccount(userID))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if trades == nil {
		trades = []models.ExchangeTrade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// GetBalances retrieves the caller's holdings.
func (h *Handler) GetBalances(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	balances, err := h.Svc.Balances(r.Context(), models.PersonalAccount(userID))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balances)
}

func communityID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

// GetOrderBook returns the aggregated book for a community.
func (h *Handler) GetOrderBook(w http.ResponseWriter, r *http.Request) {
	id, err := communityID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid community id"})
		return
	}
	depth := book.DefaultDepth
	if d := r.URL.Query().Get("depth"); d != "" {
		if depth, err = strconv.Atoi(d); err != nil || depth <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid depth"})
			return
		}
	}

	orders, err := h.Svc.LiveOrders(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, book.Aggregate(orders, depth))
}

// GetOrderBookLevel returns the individual orders at one (side, price).
func (h *Handler) GetOrderBookLevel(w http.ResponseWriter, r *http.Request) {
	id, err := communityID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid community id"})
		return
	}
	side := models.Side(r.URL.Query().Get("side"))
	if !side.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "side must be buy or sell"})
		return
	}
	price, err := decimal.NewFromString(r.URL.Query().Get("price"))
	if err != nil || price.Sign() <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid price"})
		return
	}

	orders, err := h.Svc.LiveOrders(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	level := book.AtLevel(orders, side, price)
	if level == nil {
		level = []models.ExchangeOrder{}
	}
	writeJSON(w, http.StatusOK, level)
}

// GetRateHistory returns snapshots for the requested trailing window.
func (h *Handler) GetRateHistory(w http.ResponseWriter, r *http.Request) {
	id, err := communityID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid community id"})
		return
	}
	hours := 168
	if v := r.URL.Query().Get("hours"); v != "" {
		if hours, err = strconv.Atoi(v); err != nil || hours <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid hours"})
			return
		}
	}

	snaps, err := h.Svc.RateHistory(r.Context(), id, time.Now().Add(-time.Duration(hours)*time.Hour))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if snaps == nil {
		snaps = []models.RateSnapshot{}
	}
	writeJSON(w, http.StatusOK, snaps)
}
