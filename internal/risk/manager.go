package risk

import (
	"sync"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/position"
	"main/internal/schema"
)

// SessionConfig carries the operational switches layered on top of the
// pure limit checks.
type SessionConfig struct {
	// KillSwitch rejects everything while set.
	KillSwitch bool
	// OrderRateLimit caps accepted intents per OrderRateWindow.
	// Zero disables the check.
	OrderRateLimit  int
	OrderRateWindow time.Duration
}

// Manager wraps the pure Evaluate with per-session state: the latched
// daily-loss halt, the kill switch and the accepted-order rate window.
// It is the sole gate between strategies and execution.
type Manager struct {
	limits   Limits
	session  SessionConfig
	registry *schema.Registry

	mu              sync.Mutex
	halted          bool
	rateWindowStart int64
	rateCount       int

	now func() time.Time
}

func NewManager(limits Limits, session SessionConfig, registry *schema.Registry) *Manager {
	return &Manager{
		limits:   limits,
		session:  session,
		registry: registry,
		now:      time.Now,
	}
}

// Evaluate gates one signal. The daily-loss halt latches: once breached,
// every later signal for any symbol is rejected until ResetSession.
func (m *Manager) Evaluate(sig schema.Signal, view position.View) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session.KillSwitch {
		return reject(ReasonKillSwitch)
	}
	if m.halted {
		return reject(ReasonHalted)
	}

	sym, ok := m.registry.Symbol(sig.SymbolID)
	if !ok {
		return reject(ReasonFlatSignal)
	}

	d := Evaluate(sig, view, m.limits, sym.Scale)
	if d.Halt {
		m.halted = true
		logs.Warnf("risk: daily loss limit breached, trading halted (realized %d)", view.RealizedPnL)
		return d
	}
	if !d.Accepted {
		return d
	}

	if !m.takeRateToken() {
		return reject(ReasonOrderRate)
	}
	return d
}

// takeRateToken enforces the accepted-order rate window. Caller holds mu.
func (m *Manager) takeRateToken() bool {
	if m.session.OrderRateLimit <= 0 || m.session.OrderRateWindow <= 0 {
		return true
	}
	now := m.now().UnixNano()
	window := int64(m.session.OrderRateWindow)
	if m.rateWindowStart == 0 || now-m.rateWindowStart >= window {
		m.rateWindowStart = now
		m.rateCount = 0
	}
	m.rateCount++
	return m.rateCount <= m.session.OrderRateLimit
}

// Halted reports whether the daily-loss halt is latched.
func (m *Manager) Halted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.halted
}

// ResetSession clears the halt and the rate window at the daily rollover.
func (m *Manager) ResetSession() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.halted = false
	m.rateWindowStart = 0
	m.rateCount = 0
}
