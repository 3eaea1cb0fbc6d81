package trader

import (
	"fmt"
	"sync"
	"time"

	"brisk/internal/logger"
)

// Guard enforces daily limits on new entries. Counters reset 24h after the
// previous reset.
type Guard struct {
	mu sync.Mutex

	maxTradeLoss    float64
	maxDailyLoss    float64
	maxTradesPerDay int

	dailyLoss   float64
	tradesToday int
	lastReset   time.Time
}

func NewGuard(risk RiskConfig, now time.Time) *Guard {
	g := &Guard{lastReset: now}
	g.SetLimits(risk)
	return g
}

func (g *Guard) SetLimits(risk RiskConfig) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.maxTradeLoss = risk.MaxTradeLoss
	g.maxDailyLoss = risk.MaxDailyLoss
	g.maxTradesPerDay = risk.MaxTradesPerDay
}

// Allow checks a prospective trade whose worst case loses potentialLoss.
func (g *Guard) Allow(potentialLoss float64, now time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resetIfNeeded(now)
	if g.maxTradeLoss > 0 && potentialLoss > g.maxTradeLoss {
		return fmt.Errorf("%w: potential loss %.4f exceeds max trade loss %.4f", ErrRiskRejected, potentialLoss, g.maxTradeLoss)
	}
	if g.maxDailyLoss > 0 && g.dailyLoss+potentialLoss > g.maxDailyLoss {
		return fmt.Errorf("%w: daily loss %.4f + %.4f exceeds %.4f", ErrRiskRejected, g.dailyLoss, potentialLoss, g.maxDailyLoss)
	}
	if g.maxTradesPerDay > 0 && g.tradesToday >= g.maxTradesPerDay {
		return fmt.Errorf("%w: %d trades today", ErrRiskRejected, g.tradesToday)
	}
	return nil
}

// Record adds a closed trade's net result.
func (g *Guard) Record(net float64, now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resetIfNeeded(now)
	if net < 0 {
		g.dailyLoss -= net
	}
	g.tradesToday++
}

type GuardStats struct {
	DailyLoss   float64   `json:"daily_loss"`
	TradesToday int       `json:"trades_today"`
	LastReset   time.Time `json:"last_reset"`
}

func (g *Guard) Stats() GuardStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return GuardStats{DailyLoss: g.dailyLoss, TradesToday: g.tradesToday, LastReset: g.lastReset}
}

func (g *Guard) resetIfNeeded(now time.Time) {
	if now.Sub(g.lastReset) < 24*time.Hour {
		return
	}
	g.dailyLoss = 0
	g.tradesToday = 0
	g.lastReset = now
	logger.Infof("[trader] daily risk counters reset")
}
