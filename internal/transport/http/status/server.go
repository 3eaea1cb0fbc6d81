package statushttp

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"brisk/internal/engine"
	"brisk/internal/logger"
	"brisk/internal/store/gormstore"

	"github.com/gin-gonic/gin"
)

const (
	defaultTradeLimit = 50
	maxTradeLimit     = 500
)

// Engine is the part of the orchestrator exposed over HTTP.
type Engine interface {
	Status() engine.Status
	Ranking() engine.RankingSnapshot
	RestartCollector() error
	StopTrader() error
	StartTrader() error
}

type TradeLog interface {
	Recent(ctx context.Context, instrument string, limit int) ([]gormstore.TradeEventRecord, error)
}

type Config struct {
	Addr   string
	Engine Engine
	// Trades is optional; without it /api/trades answers 404.
	Trades TradeLog
}

// Server serves engine status and supervisor controls.
type Server struct {
	addr   string
	engine Engine
	trades TradeLog
	router *gin.Engine
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("status server: engine is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9990"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	s := &Server{
		addr:   cfg.Addr,
		engine: cfg.Engine,
		trades: cfg.Trades,
		router: router,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) Addr() string { return s.addr }

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.handleHealth)
	api := s.router.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/ranking", s.handleRanking)
	api.GET("/trades", s.handleTrades)
	api.POST("/collector/restart", s.handleControl("collector restart", s.engine.RestartCollector))
	api.POST("/trader/stop", s.handleControl("trader stop", s.engine.StopTrader))
	api.POST("/trader/start", s.handleControl("trader start", s.engine.StartTrader))
}

func (s *Server) handleHealth(c *gin.Context) {
	st := s.engine.Status()
	code := http.StatusOK
	if !st.Running {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"running": st.Running, "uptime_seconds": st.UptimeSeconds})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Status())
}

func (s *Server) handleRanking(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Ranking())
}

func (s *Server) handleTrades(c *gin.Context) {
	if s.trades == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "trade journal disabled"})
		return
	}
	limit := defaultTradeLimit
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(v, maxTradeLimit)
	}
	recs, err := s.trades.Recent(c.Request.Context(), c.Query("instrument"), limit)
	if err != nil {
		logger.Warnf("[http] trades query failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": recs, "count": len(recs)})
}

func (s *Server) handleControl(name string, fn func() error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := fn(); err != nil {
			logger.Warnf("[http] %s failed: %v", name, err)
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		logger.Infof("[http] %s requested by %s", name, c.ClientIP())
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Infof("[http] status server listening on %s", s.addr)

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
