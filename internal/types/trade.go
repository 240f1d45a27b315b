package types

import (
	"time"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
)

type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// Sign returns +1 for buy, -1 for sell. Favorable price movement for the
// position is Sign() * (price - entry).
func (d Direction) Sign() float64 {
	if d == DirectionSell {
		return -1
	}

	return 1
}

type Outcome string

const (
	OutcomeWin       Outcome = "win"
	OutcomeLoss      Outcome = "loss"
	OutcomeBreakeven Outcome = "breakeven"
)

type ExitReason string

const (
	ExitReasonStopLoss    ExitReason = "sl"
	ExitReasonTakeProfit  ExitReason = "tp"
	ExitReasonTimeout     ExitReason = "timeout"
	ExitReasonManual      ExitReason = "manual"
	ExitReasonPhaseChange ExitReason = "phase_change"
)

// Position is the open-position reference held in runtime state while a trade
// is live. SL/TP are optional; management rules may set or move them later.
type Position struct {
	Ticket     string                    `json:"ticket" yaml:"ticket"`
	Symbol     string                    `json:"symbol" yaml:"symbol"`
	Direction  Direction                 `json:"direction" yaml:"direction"`
	OpenBar    int                       `json:"open_bar" yaml:"open_bar"`
	OpenTime   time.Time                 `json:"open_time" yaml:"open_time"`
	EntryPrice float64                   `json:"entry_price" yaml:"entry_price"`
	Lot        float64                   `json:"lot" yaml:"lot"`
	InitialLot float64                   `json:"initial_lot" yaml:"initial_lot"`
	StopLoss   optional.Option[float64]  `json:"stop_loss" yaml:"stop_loss"`
	TakeProfit optional.Option[float64]  `json:"take_profit" yaml:"take_profit"`
	// InitialStopLoss is the stop-loss set at entry, before any management
	// moves. rr_achieved is measured against it.
	InitialStopLoss optional.Option[float64] `json:"initial_stop_loss" yaml:"initial_stop_loss"`
	EntryPhase      string                   `json:"entry_phase" yaml:"entry_phase"`
	// EntryVars and EntryIndicators snapshot the evaluation context at entry
	// for audit; indicator keys are "<id>.<field>".
	EntryVars       map[string]float64 `json:"entry_vars" yaml:"entry_vars"`
	EntryIndicators map[string]float64 `json:"entry_indicators" yaml:"entry_indicators"`
	// LastTrailPrice is the price at which trail_sl last fired; the trail
	// re-arms only once price moves at least its step beyond this.
	LastTrailPrice optional.Option[float64] `json:"last_trail_price" yaml:"last_trail_price"`
	// RealizedPnL accumulates P&L banked by partial closes before the final
	// close.
	RealizedPnL float64 `json:"realized_pnl" yaml:"realized_pnl"`
}

// BarsOpen returns how many bars the position has been open as of barIndex.
func (p *Position) BarsOpen(barIndex int) int {
	if barIndex < p.OpenBar {
		return 0
	}

	return barIndex - p.OpenBar
}

// UnrealizedPoints returns the favorable price movement in price increments
// at the given price (positive = in profit).
func (p *Position) UnrealizedPoints(price float64) float64 {
	return p.Direction.Sign() * (price - p.EntryPrice)
}

// PnLAt computes the position's P&L in account currency if the remaining lot
// closed at the given price. pointValue is account currency per price
// increment per 1.0 lot. Decimal arithmetic keeps the accounting exact over
// long runs.
func (p *Position) PnLAt(price, pointValue float64) float64 {
	points := decimal.NewFromFloat(p.Direction.Sign()).
		Mul(decimal.NewFromFloat(price).Sub(decimal.NewFromFloat(p.EntryPrice)))
	pnl := points.Mul(decimal.NewFromFloat(pointValue)).Mul(decimal.NewFromFloat(p.Lot))

	result, _ := pnl.Float64()

	return result
}

// Trade is a finalized simulation output record. Immutable once the position
// closes.
type Trade struct {
	Ticket     string                   `json:"ticket" yaml:"ticket"`
	Symbol     string                   `json:"symbol" yaml:"symbol"`
	Direction  Direction                `json:"direction" yaml:"direction"`
	OpenBar    int                      `json:"open_bar" yaml:"open_bar"`
	CloseBar   int                      `json:"close_bar" yaml:"close_bar"`
	OpenTime   time.Time                `json:"open_time" yaml:"open_time"`
	CloseTime  time.Time                `json:"close_time" yaml:"close_time"`
	EntryPrice float64                  `json:"entry_price" yaml:"entry_price"`
	ClosePrice float64                  `json:"close_price" yaml:"close_price"`
	Lot        float64                  `json:"lot" yaml:"lot"`
	StopLoss   optional.Option[float64] `json:"stop_loss" yaml:"stop_loss"`
	TakeProfit optional.Option[float64] `json:"take_profit" yaml:"take_profit"`
	// PnL is realized profit/loss in account currency, including any partial
	// closes banked earlier in the position's lifetime.
	PnL float64 `json:"pnl" yaml:"pnl"`
	// PnLPoints is realized profit/loss in price increments on the final lot.
	PnLPoints float64 `json:"pnl_points" yaml:"pnl_points"`
	// RRAchieved is PnLPoints divided by the entry risk (entry to initial SL
	// distance); 0 when no stop-loss was set at entry.
	RRAchieved float64    `json:"rr_achieved" yaml:"rr_achieved"`
	Outcome    Outcome    `json:"outcome" yaml:"outcome"`
	ExitReason ExitReason `json:"exit_reason" yaml:"exit_reason"`
	EntryPhase string     `json:"entry_phase" yaml:"entry_phase"`

	EntryVars       map[string]float64 `json:"entry_vars" yaml:"entry_vars"`
	EntryIndicators map[string]float64 `json:"entry_indicators" yaml:"entry_indicators"`
}

// BarsHeld returns how many bars the trade stayed open.
func (t *Trade) BarsHeld() int {
	return t.CloseBar - t.OpenBar
}

// ManagementEvent records one fired position-management action for audit.
type ManagementEvent struct {
	Bar    int                  `json:"bar" yaml:"bar"`
	Time   time.Time            `json:"time" yaml:"time"`
	Rule   string               `json:"rule" yaml:"rule"`
	Action ManagementActionType `json:"action" yaml:"action"`
	Detail string               `json:"detail" yaml:"detail"`
}
