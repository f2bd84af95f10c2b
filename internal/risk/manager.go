package risk

import (
	"fmt"
	"log"
	"sync"
	"time"

	"deribit-core/internal/events"
)

// recentWindow bounds the consecutive-loss guard.
const recentWindow = 5

// Manager owns realized-PnL accounting and every gate applied to a new
// entry: daily loss limit, daily profit target, open-position count, total
// exposure, trade spacing, and the consecutive-loss guard. Hitting a daily
// limit stops trading; the exposure gates merely deny the single entry.
type Manager struct {
	bus *events.Bus

	mu            sync.RWMutex
	level         Level
	params        Params
	stopped       bool
	stopReason    string
	dailyPnl      float64
	totalPnl      float64
	totalTrades   int
	winningTrades int
	highestProfit float64
	biggestLoss   float64
	lastTrade     time.Time
	dailyResetAt  time.Time
	recentPnls    []float64
}

// Metrics is a read-only snapshot of the accounting state.
type Metrics struct {
	Level         Level
	Stopped       bool
	StopReason    string
	DailyPnl      float64
	TotalPnl      float64
	TotalTrades   int
	WinningTrades int
	WinRate       float64
	HighestProfit float64
	BiggestLoss   float64
}

// NewManager builds a manager with the preset for the given level. The bus
// may be nil in tests.
func NewManager(level Level, bus *events.Bus) *Manager {
	p := PresetFor(level)
	log.Printf("risk: initialized level=%s stop_loss=%.1f%% take_profit=%.1f%%",
		level, p.StopLoss*100, p.TakeProfit*100)
	return &Manager{
		bus:          bus,
		level:        level,
		params:       p,
		dailyResetAt: time.Now(),
	}
}

// Params returns the active parameter set.
func (m *Manager) Params() Params {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.params
}

// SetLevel swaps in the preset for the level. The swap is atomic from the
// perspective of concurrent readers.
func (m *Manager) SetLevel(level Level) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.level = level
	m.params = PresetFor(level)
	log.Printf("risk: level updated to %s", level)
}

// AllowEntry applies the risk gates to a prospective entry given the
// current open-position count and summed open amount. A daily-limit breach
// stops trading entirely; the exposure gates deny only this entry.
func (m *Manager) AllowEntry(openPositions int, totalSize float64) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maybeResetDailyLocked()

	if m.stopped {
		return false, m.stopReason
	}
	if m.dailyPnl < -m.params.DailyLossLimit {
		m.stopLocked("daily loss limit reached")
		return false, m.stopReason
	}
	if m.dailyPnl >= m.params.DailyProfitTarget {
		m.stopLocked("daily profit target reached")
		return false, m.stopReason
	}
	if openPositions >= m.params.MaxOpenPositions {
		return false, "max open positions reached"
	}
	if totalSize >= m.params.MaxPositionSize {
		return false, "max total position size reached"
	}
	if !m.consecutiveLossGuardLocked() {
		return false, "consecutive losses"
	}
	return true, ""
}

// CanTradeNow enforces the minimum spacing between entries. Independent of
// AllowEntry so callers can distinguish "wait" from "denied".
func (m *Manager) CanTradeNow(now time.Time) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.lastTrade.IsZero() {
		return true
	}
	return now.Sub(m.lastTrade) >= m.params.MinTradeInterval
}

// RecordEntry marks the time of a successful entry for trade spacing.
func (m *Manager) RecordEntry(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastTrade = now
}

// RecordTrade folds one realized PnL into the daily and lifetime totals.
func (m *Manager) RecordTrade(pnl float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maybeResetDailyLocked()

	m.dailyPnl += pnl
	m.totalPnl += pnl
	m.totalTrades++
	if pnl > 0 {
		m.winningTrades++
	}
	if pnl > m.highestProfit {
		m.highestProfit = pnl
	}
	if pnl < m.biggestLoss {
		m.biggestLoss = pnl
	}
	m.recentPnls = append(m.recentPnls, pnl)
	if len(m.recentPnls) > recentWindow {
		m.recentPnls = m.recentPnls[len(m.recentPnls)-recentWindow:]
	}

	// Trip the stop at record time so the engine halts on the next tick
	// instead of waiting for an entry attempt.
	if m.stopped {
		return
	}
	if m.dailyPnl < -m.params.DailyLossLimit {
		m.stopLocked("daily loss limit reached")
	} else if m.dailyPnl >= m.params.DailyProfitTarget {
		m.stopLocked("daily profit target reached")
	}
}

// Stopped reports whether a daily limit halted trading.
func (m *Manager) Stopped() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stopped
}

// Resume clears a stop, typically after the daily window rolls over or an
// operator intervenes.
func (m *Manager) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = false
	m.stopReason = ""
}

// Snapshot returns the current metrics.
func (m *Manager) Snapshot() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	winRate := 0.0
	if m.totalTrades > 0 {
		winRate = float64(m.winningTrades) / float64(m.totalTrades) * 100
	}
	return Metrics{
		Level:         m.level,
		Stopped:       m.stopped,
		StopReason:    m.stopReason,
		DailyPnl:      m.dailyPnl,
		TotalPnl:      m.totalPnl,
		TotalTrades:   m.totalTrades,
		WinningTrades: m.winningTrades,
		WinRate:       winRate,
		HighestProfit: m.highestProfit,
		BiggestLoss:   m.biggestLoss,
	}
}

func (m *Manager) stopLocked(reason string) {
	m.stopped = true
	m.stopReason = reason
	log.Printf("risk: trading stopped: %s (daily pnl %.4f)", reason, m.dailyPnl)
	if m.bus != nil {
		m.bus.Publish(events.EventRiskAlert, events.RiskAlert{
			Rule:    reason,
			Detail:  fmt.Sprintf("daily pnl %.4f", m.dailyPnl),
			Stopped: true,
			Time:    time.Now(),
		})
	}
}

// consecutiveLossGuardLocked denies entries after three or more losses in
// the last five closed trades.
func (m *Manager) consecutiveLossGuardLocked() bool {
	losses := 0
	for _, pnl := range m.recentPnls {
		if pnl < 0 {
			losses++
		}
	}
	return losses < 3
}

// maybeResetDailyLocked rolls the daily accounting window every 24 hours.
func (m *Manager) maybeResetDailyLocked() {
	if time.Since(m.dailyResetAt) >= 24*time.Hour {
		m.dailyPnl = 0
		m.dailyResetAt = time.Now()
		if m.stopped {
			m.stopped = false
			m.stopReason = ""
			log.Print("risk: daily window rolled over, trading resumed")
		}
	}
}
