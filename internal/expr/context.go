package expr

import (
	"github.com/rxtech-lab/argo-playbook/internal/types"
)

// Context is the per-bar evaluation context. The simulator (or live bridge)
// builds one per bar close; the evaluator only reads it.
type Context struct {
	// Snapshot carries the bar plus current and previous indicator values.
	Snapshot *types.Snapshot
	// Vars holds the current variable values.
	Vars map[string]float64
	// Price is the current market mid (the bar close during backtests).
	Price float64
	// Spread is the configured spread in price increments.
	Spread float64
	// Risk exposes the playbook's risk limits to expressions.
	Risk types.RiskConfig
	// Trade is the open position, nil when flat.
	Trade *types.Position
	// BarIndex is the current bar's index in the run, for trade.bars_open.
	BarIndex int
	// PointValue converts price increments to account currency for trade.pnl.
	PointValue float64
}

// NewContext builds a Context for one bar close.
func NewContext(snapshot *types.Snapshot, vars map[string]float64, risk types.RiskConfig) *Context {
	return &Context{
		Snapshot: snapshot,
		Vars:     vars,
		Price:    snapshot.Bar.Mid(),
		Risk:     risk,
	}
}

// WithTrade attaches the open position to the context.
func (c *Context) WithTrade(trade *types.Position) *Context {
	c.Trade = trade

	return c
}

// WithSpread sets the spread exposed as _spread.
func (c *Context) WithSpread(spread float64) *Context {
	c.Spread = spread

	return c
}

// WithBarIndex sets the current bar index.
func (c *Context) WithBarIndex(index int) *Context {
	c.BarIndex = index

	return c
}

// WithPointValue sets the point value used by trade.pnl.
func (c *Context) WithPointValue(pointValue float64) *Context {
	c.PointValue = pointValue

	return c
}
