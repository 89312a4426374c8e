package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"spot-accumulator/internal/engine"
	"spot-accumulator/internal/events"
	"spot-accumulator/internal/ledger"
	"spot-accumulator/pkg/config"
	"spot-accumulator/pkg/db"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type updateConfigRequest struct {
	SellClearance       *decimal.Decimal `json:"sellClearance"`
	BuyClearance        *decimal.Decimal `json:"buyClearance"`
	PerTradeVolumeFloor *decimal.Decimal `json:"perTradeVolumeFloor"`
	MaxCumulativeVolume *decimal.Decimal `json:"maxCumulativeVolume"`
}

func (r updateConfigRequest) patch() config.Patch {
	return config.Patch{
		SellClearance:       r.SellClearance,
		BuyClearance:        r.BuyClearance,
		PerTradeVolumeFloor: r.PerTradeVolumeFloor,
		MaxCumulativeVolume: r.MaxCumulativeVolume,
	}
}

type listOrdersQuery struct {
	Limit int `form:"limit"`
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// respondEngineError maps engine and ledger errors to HTTP statuses.
func respondEngineError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, engine.ErrUnknownPair):
		respondError(c, http.StatusNotFound, "UNKNOWN_PAIR", err.Error())
	case errors.Is(err, engine.ErrAlreadyRunning):
		respondError(c, http.StatusConflict, "ALREADY_RUNNING", err.Error())
	case errors.Is(err, engine.ErrAlreadyStopped):
		respondError(c, http.StatusConflict, "ALREADY_STOPPED", err.Error())
	case errors.Is(err, config.ErrInvalidConfig):
		respondError(c, http.StatusBadRequest, "INVALID_CONFIG", err.Error())
	case errors.Is(err, ledger.ErrStorage):
		respondError(c, http.StatusInternalServerError, "LEDGER_UNAVAILABLE", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		respondError(c, http.StatusGatewayTimeout, "TIMEOUT", "engine busy, try again")
	case errors.Is(err, engine.ErrRunnerClosed):
		respondError(c, http.StatusServiceUnavailable, "SHUTTING_DOWN", err.Error())
	default:
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

func (s *Server) engineReady(c *gin.Context) bool {
	if s.Engine == nil {
		respondError(c, http.StatusServiceUnavailable, "ENGINE_UNAVAILABLE", "engine not available")
		return false
	}
	return true
}

// --- Queries ---

func (s *Server) listPairs(c *gin.Context) {
	if !s.engineReady(c) {
		return
	}
	c.JSON(http.StatusOK, s.Engine.ListPairs(c.Request.Context()))
}

func (s *Server) getPairStatus(c *gin.Context) {
	if !s.engineReady(c) {
		return
	}
	st, err := s.Engine.Status(c.Request.Context(), c.Param("pair"))
	if err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) getTrades(c *gin.Context) {
	if !s.engineReady(c) {
		return
	}
	trades, err := s.Engine.Trades(c.Request.Context(), c.Param("pair"))
	if err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, trades)
}

func (s *Server) getOrders(c *gin.Context) {
	if !s.engineReady(c) {
		return
	}
	var q listOrdersQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if q.Limit <= 0 || q.Limit > 500 {
		q.Limit = 100
	}
	orders, err := s.Engine.Orders(c.Request.Context(), c.Param("pair"), q.Limit)
	if err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

// --- Commands ---

func (s *Server) startPair(c *gin.Context) {
	if !s.engineReady(c) {
		return
	}
	if err := s.Engine.Start(c.Request.Context(), c.Param("pair")); err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pair": engine.NormalizePair(c.Param("pair")), "running": true})
}

func (s *Server) stopPair(c *gin.Context) {
	if !s.engineReady(c) {
		return
	}
	if err := s.Engine.Stop(c.Request.Context(), c.Param("pair")); err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pair": engine.NormalizePair(c.Param("pair")), "running": false})
}

func (s *Server) updateConfig(c *gin.Context) {
	if !s.engineReady(c) {
		return
	}
	var req updateConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	cfg, err := s.Engine.UpdateConfig(c.Request.Context(), c.Param("pair"), req.patch())
	if err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"config": cfg, "running": false})
}

func (s *Server) cleanLedger(c *gin.Context) {
	if !s.engineReady(c) {
		return
	}
	if err := s.Engine.CleanLedger(c.Request.Context(), c.Param("pair")); err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pair": engine.NormalizePair(c.Param("pair")), "running": false, "cleaned": true})
}

// --- System ---

func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"dry_run":     s.Meta.DryRun,
		"venue":       s.Meta.Venue,
		"pairs":       s.Meta.Pairs,
		"store":       s.Meta.Store,
		"version":     s.Meta.Version,
		"server_time": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) getMetrics(c *gin.Context) {
	if s.Metrics == nil {
		respondError(c, http.StatusServiceUnavailable, "METRICS_UNAVAILABLE", "metrics not available")
		return
	}
	c.JSON(http.StatusOK, s.Metrics.GetSnapshot())
}

// eventPair returns the pair an event payload belongs to, or "" for
// process-wide events.
func eventPair(data any) string {
	switch v := data.(type) {
	case events.Notice:
		return v.Pair
	case events.EngineState:
		return v.Pair
	case events.Tick:
		return v.Pair
	case events.PositionChange:
		return v.Pair
	case db.Order:
		return v.PairKey
	}
	return ""
}
