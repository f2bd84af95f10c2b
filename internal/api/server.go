package api

import (
	"context"

	"deribit-core/internal/engine"
	"deribit-core/internal/monitor"
	"deribit-core/internal/position"
	"deribit-core/internal/risk"
	"deribit-core/internal/strategy"
	"deribit-core/pkg/cache"
	"deribit-core/pkg/deribit"

	"github.com/gin-gonic/gin"
)

// EngineController is the slice of the engine the API layer drives.
type EngineController interface {
	Start(ctx context.Context)
	Stop(ctx context.Context)
	Status() engine.Status
	SetStrategy(kind strategy.Kind)
	SetRiskLevel(level risk.Level)
	SetMandatoryOrder(order engine.MandatoryOrder) error
	ClearMandatoryOrder()
	MandatoryOrderStatus() (engine.MandatoryOrder, bool, bool)
}

// OrderLister exposes resting orders to the read-only endpoints.
type OrderLister interface {
	OpenOrders(ctx context.Context, instrument string) []deribit.OpenOrder
}

// TradeHistory exposes the retained closed-trade records.
type TradeHistory interface {
	History() []position.ClosedPosition
}

// Server wires HTTP endpoints around the trading core.
type Server struct {
	Router      *gin.Engine
	Engine      EngineController
	RiskMgr     *risk.Manager
	Metrics     *monitor.SystemMetrics
	Orders      OrderLister
	Quotes      *cache.QuoteCache
	History     TradeHistory
	Instrument  string
	JWTSecret   string
	OperatorKey string
}

// Config carries server construction settings.
type Config struct {
	Instrument string
	JWTSecret  string
	// OperatorKey guards the token endpoint; empty disables token issuing
	// (pre-shared JWTs still work).
	OperatorKey string
}

// NewServer builds the router with the standard middleware stack.
func NewServer(cfg Config, eng EngineController, riskMgr *risk.Manager, metrics *monitor.SystemMetrics, orders OrderLister, quotes *cache.QuoteCache, history TradeHistory) *Server {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RateLimitMiddleware())
	r.Use(CORSMiddleware())

	s := &Server{
		Router:      r,
		Engine:      eng,
		RiskMgr:     riskMgr,
		Metrics:     metrics,
		Orders:      orders,
		Quotes:      quotes,
		History:     history,
		Instrument:  cfg.Instrument,
		JWTSecret:   cfg.JWTSecret,
		OperatorKey: cfg.OperatorKey,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.POST("/api/auth/token", s.issueToken)

	read := s.Router.Group("/api")
	{
		read.GET("/status", s.status)
		read.GET("/positions", s.positions)
		read.GET("/risk", s.riskMetrics)
		read.GET("/metrics", s.systemMetrics)
		read.GET("/orders", s.openOrders)
		read.GET("/prices", s.prices)
		read.GET("/history", s.tradeHistory)
	}

	control := s.Router.Group("/api", AuthMiddleware(s.JWTSecret))
	{
		control.POST("/engine/start", s.startEngine)
		control.POST("/engine/stop", s.stopEngine)
		control.PUT("/strategy", s.setStrategy)
		control.PUT("/risk/level", s.setRiskLevel)
		control.POST("/risk/resume", s.resumeTrading)
		control.POST("/mandatory-order", s.setMandatoryOrder)
		control.DELETE("/mandatory-order", s.clearMandatoryOrder)
	}
}
