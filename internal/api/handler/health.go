package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

type Pinger interface {
	PingContext(ctx context.Context) error
}

// BreakerState — pdp.Client.
type BreakerState interface {
	State() gobreaker.State
}

type HealthHandler struct {
	db  Pinger
	pdp BreakerState
}

func NewHealthHandler(db Pinger, pdp BreakerState) *HealthHandler {
	return &HealthHandler{db: db, pdp: pdp}
}

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	PDP      string `json:"pdp"`
}

// Health: 503 только без базы. Открытый breaker PDP — это деградация, решения
// продолжает принимать локальный evaluator.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Database: "up", PDP: h.pdp.State().String()}
	status := http.StatusOK

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.db.PingContext(ctx); err != nil {
		resp.Status, resp.Database = "unavailable", "down"
		status = http.StatusServiceUnavailable
	} else if h.pdp.State() == gobreaker.StateOpen {
		resp.Status = "degraded"
	}
	writeJSON(w, status, resp)
}
