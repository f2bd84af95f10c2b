package api

import (
	"net/http"
	"time"

	"deribit-core/internal/engine"
	"deribit-core/internal/risk"
	"deribit-core/internal/strategy"
	"deribit-core/pkg/cache"

	"github.com/gin-gonic/gin"
)

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now()})
}

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.Status())
}

func (s *Server) positions(c *gin.Context) {
	st := s.Engine.Status()
	c.JSON(http.StatusOK, gin.H{
		"open_positions": st.OpenPositions,
		"unrealized_pnl": st.UnrealizedPnl,
	})
}

func (s *Server) riskMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.RiskMgr.Snapshot())
}

func (s *Server) systemMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.Metrics.GetSnapshot())
}

func (s *Server) openOrders(c *gin.Context) {
	instrument := c.DefaultQuery("instrument", s.Instrument)
	orders := s.Orders.OpenOrders(c.Request.Context(), instrument)
	c.JSON(http.StatusOK, gin.H{"orders": orders, "count": len(orders)})
}

func (s *Server) prices(c *gin.Context) {
	if s.Quotes == nil {
		c.JSON(http.StatusOK, gin.H{"prices": gin.H{}, "count": 0})
		return
	}
	type quoteView struct {
		cache.Quote
		Stale bool `json:"stale"`
	}
	snap := s.Quotes.Snapshot()
	out := make(map[string]quoteView, len(snap))
	for inst, q := range snap {
		out[inst] = quoteView{Quote: q, Stale: q.Stale()}
	}
	c.JSON(http.StatusOK, gin.H{"prices": out, "count": len(out)})
}

func (s *Server) tradeHistory(c *gin.Context) {
	records := s.History.History()
	c.JSON(http.StatusOK, gin.H{"trades": records, "count": len(records)})
}

func (s *Server) startEngine(c *gin.Context) {
	s.Engine.Start(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"running": true})
}

func (s *Server) stopEngine(c *gin.Context) {
	s.Engine.Stop(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"running": false})
}

func (s *Server) setStrategy(c *gin.Context) {
	var req struct {
		Strategy string `json:"strategy" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "strategy required"})
		return
	}
	kind, err := strategy.Parse(req.Strategy)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.Engine.SetStrategy(kind)
	c.JSON(http.StatusOK, gin.H{"strategy": kind})
}

func (s *Server) setRiskLevel(c *gin.Context) {
	var req struct {
		Level string `json:"level" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "level required"})
		return
	}
	level, err := risk.ParseLevel(req.Level)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.Engine.SetRiskLevel(level)
	c.JSON(http.StatusOK, gin.H{"level": level})
}

func (s *Server) resumeTrading(c *gin.Context) {
	s.RiskMgr.Resume()
	c.JSON(http.StatusOK, gin.H{"stopped": false})
}

func (s *Server) setMandatoryOrder(c *gin.Context) {
	var order engine.MandatoryOrder
	if err := c.ShouldBindJSON(&order); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed order"})
		return
	}
	if err := s.Engine.SetMandatoryOrder(order); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"armed": true})
}

func (s *Server) clearMandatoryOrder(c *gin.Context) {
	s.Engine.ClearMandatoryOrder()
	c.JSON(http.StatusOK, gin.H{"armed": false})
}
