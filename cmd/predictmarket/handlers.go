package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/Aidin1998/predictmarket/internal/cache"
	"github.com/Aidin1998/predictmarket/internal/coordinator"
	"github.com/Aidin1998/predictmarket/internal/slo"
	"github.com/Aidin1998/predictmarket/pkg/models"
	"github.com/google/uuid"
)

// newMarketHandler serves GET /markets/{id}, reading through the multi-layer
// cache (C9) with the market store as the miss loader.
func newMarketHandler(markets *inMemoryMarketStore, c *cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		idStr := strings.TrimPrefix(r.URL.Path, "/markets/")
		id, err := uuid.Parse(idStr)
		if err != nil {
			http.Error(w, "invalid market id", http.StatusBadRequest)
			return
		}

		value, err := c.Get(r.Context(), "market:"+id.String(), func(ctx context.Context) (any, error) {
			return markets.Get(id)
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(value)
	}
}

// orderRequest is the wire shape for POST /orders.
type orderRequest struct {
	MarketID     uuid.UUID          `json:"market_id"`
	UserID       uuid.UUID          `json:"user_id"`
	Side         models.Side        `json:"side"`
	OutcomeIndex int                `json:"outcome_index"`
	Kind         models.OrderKind   `json:"kind"`
	Price        int64              `json:"price"`
	Size         int64              `json:"size"`
	Policy       models.MarketOrderPolicy `json:"policy,omitempty"`
}

// newOrderHandler serves POST /orders, submitting through the coordinator
// and recording the outcome against the "order-submit" SLO (C8).
func newOrderHandler(coord *coordinator.Coordinator, monitor *slo.Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req orderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		order := &models.Order{
			ID:           uuid.New(),
			MarketID:     req.MarketID,
			UserID:       req.UserID,
			Side:         req.Side,
			OutcomeIndex: req.OutcomeIndex,
			Kind:         req.Kind,
			Price:        req.Price,
			Size:         req.Size,
			Policy:       req.Policy,
			SubmitTime:   time.Now(),
		}

		start := time.Now()
		trades, err := coord.SubmitOrder(r.Context(), order)
		monitor.Record("order-submit", err == nil, time.Since(start))
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(struct {
			Order  *models.Order   `json:"order"`
			Trades []*models.Trade `json:"trades"`
		}{Order: order, Trades: trades})
	}
}
