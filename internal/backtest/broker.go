// Package backtest replays a playbook over historical bars: the SimBroker
// fills trade intents with spread modeling, the Simulator drives the state
// machine bar by bar, and the RunStore persists finished runs to duckdb.
package backtest

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rxtech-lab/argo-playbook/internal/logger"
	"github.com/rxtech-lab/argo-playbook/internal/playbook"
	"github.com/rxtech-lab/argo-playbook/internal/types"
	"github.com/rxtech-lab/argo-playbook/pkg/errors"
)

// breakevenEpsilon separates win/loss from breakeven after decimal P&L is
// converted back to a float.
const breakevenEpsilon = 1e-9

// SimBroker fills trade intents against the bar currently being simulated.
// Entries pay half the spread on their side; stop-loss and take-profit exits
// fill at the stored level; every other close fills at the bar's mid (close).
type SimBroker struct {
	spread     float64
	pointValue float64
	logger     *logger.Logger

	bar      types.Bar
	barIndex int
}

// NewSimBroker builds a broker for one run. spread is in price increments,
// pointValue converts increments to account currency per 1.0 lot.
func NewSimBroker(spread, pointValue float64, log *logger.Logger) *SimBroker {
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &SimBroker{
		spread:     spread,
		pointValue: pointValue,
		logger:     log,
	}
}

// SetBar points the broker at the bar currently being simulated. The
// simulator calls this before driving the machine on each bar.
func (b *SimBroker) SetBar(bar types.Bar, index int) {
	b.bar = bar
	b.barIndex = index
}

// ExecuteOpen implements playbook.TradeExecutor. Buys fill at close plus half
// the spread, sells at close minus half. Stops and targets that would trigger
// on their own fill price are rejected.
func (b *SimBroker) ExecuteOpen(req types.OpenRequest) (types.Position, error) {
	if err := req.Validate(); err != nil {
		return types.Position{}, err
	}

	fill := b.bar.Close + req.Direction.Sign()*b.spread/2
	sign := req.Direction.Sign()

	if req.StopLoss.IsSome() && sign*(fill-req.StopLoss.Unwrap()) <= 0 {
		return types.Position{}, errors.Newf(errors.ErrCodeOrderRejected,
			"%s stop-loss %f would trigger on its own fill %f", req.Direction, req.StopLoss.Unwrap(), fill)
	}

	if req.TakeProfit.IsSome() && sign*(req.TakeProfit.Unwrap()-fill) <= 0 {
		return types.Position{}, errors.Newf(errors.ErrCodeOrderRejected,
			"%s take-profit %f would trigger on its own fill %f", req.Direction, req.TakeProfit.Unwrap(), fill)
	}

	b.logger.Debug("order filled",
		zap.String("ticket", req.Ticket),
		zap.String("direction", string(req.Direction)),
		zap.Float64("lot", req.Lot),
		zap.Float64("fill", fill))

	return types.Position{
		Ticket:          req.Ticket,
		Symbol:          req.Symbol,
		Direction:       req.Direction,
		OpenBar:         req.Bar,
		OpenTime:        req.Time,
		EntryPrice:      fill,
		Lot:             req.Lot,
		InitialLot:      req.Lot,
		StopLoss:        req.StopLoss,
		TakeProfit:      req.TakeProfit,
		InitialStopLoss: req.StopLoss,
		EntryPhase:      req.Phase,
		EntryVars:       req.Vars,
		EntryIndicators: req.Indicators,
	}, nil
}

// ExecuteClose implements playbook.TradeExecutor. The close price follows the
// exit reason: sl and tp fill at the stored level, everything else at the
// current mid.
func (b *SimBroker) ExecuteClose(pos *types.Position, req types.CloseRequest) (types.Trade, error) {
	if err := req.Validate(); err != nil {
		return types.Trade{}, err
	}

	price, err := b.closePrice(pos, req.Reason)
	if err != nil {
		return types.Trade{}, err
	}

	pnl := pos.PnLAt(price, b.pointValue) + pos.RealizedPnL
	pnlPoints := pos.UnrealizedPoints(price)

	trade := types.Trade{
		Ticket:          pos.Ticket,
		Symbol:          pos.Symbol,
		Direction:       pos.Direction,
		OpenBar:         pos.OpenBar,
		CloseBar:        req.Bar,
		OpenTime:        pos.OpenTime,
		CloseTime:       req.Time,
		EntryPrice:      pos.EntryPrice,
		ClosePrice:      price,
		Lot:             pos.InitialLot,
		StopLoss:        pos.StopLoss,
		TakeProfit:      pos.TakeProfit,
		PnL:             pnl,
		PnLPoints:       pnlPoints,
		RRAchieved:      rrAchieved(pos, pnlPoints),
		Outcome:         outcomeFor(pnl),
		ExitReason:      req.Reason,
		EntryPhase:      pos.EntryPhase,
		EntryVars:       pos.EntryVars,
		EntryIndicators: pos.EntryIndicators,
	}

	b.logger.Debug("position closed",
		zap.String("ticket", trade.Ticket),
		zap.String("reason", string(req.Reason)),
		zap.Float64("close", price),
		zap.Float64("pnl", pnl))

	return trade, nil
}

// ExecutePartialClose implements playbook.TradeExecutor. The closed fraction
// fills at the current mid and its P&L is banked into the position with
// decimal arithmetic so repeated closes stay exact.
func (b *SimBroker) ExecutePartialClose(pos *types.Position, req types.PartialCloseRequest) (types.ManagementEvent, error) {
	if err := req.Validate(); err != nil {
		return types.ManagementEvent{}, err
	}

	price := b.bar.Close

	lot := decimal.NewFromFloat(pos.Lot)
	closed := lot.Mul(decimal.NewFromFloat(req.Percent)).Div(decimal.NewFromFloat(100))
	remaining := lot.Sub(closed)

	points := decimal.NewFromFloat(pos.Direction.Sign()).
		Mul(decimal.NewFromFloat(price).Sub(decimal.NewFromFloat(pos.EntryPrice)))
	banked := points.Mul(decimal.NewFromFloat(b.pointValue)).Mul(closed)

	realized := decimal.NewFromFloat(pos.RealizedPnL).Add(banked)

	pos.Lot, _ = remaining.Float64()
	pos.RealizedPnL, _ = realized.Float64()

	closedLot, _ := closed.Float64()

	return types.ManagementEvent{
		Bar:    req.Bar,
		Time:   req.Time,
		Rule:   req.Rule,
		Action: types.ManagementPartialClose,
		Detail: fmt.Sprintf("closed %.2f%% (%.4f lot) at %.5f, %.4f lot remaining", req.Percent, closedLot, price, pos.Lot),
	}, nil
}

// ExecuteModify implements playbook.TradeExecutor. A stop or target that
// would trigger immediately at the current mid is rejected.
func (b *SimBroker) ExecuteModify(pos *types.Position, req types.ModifyRequest) (types.ManagementEvent, error) {
	if err := req.Validate(); err != nil {
		return types.ManagementEvent{}, err
	}

	sign := pos.Direction.Sign()
	price := b.bar.Close

	if req.StopLoss.IsSome() && sign*(price-req.StopLoss.Unwrap()) <= 0 {
		return types.ManagementEvent{}, errors.Newf(errors.ErrCodeOrderRejected,
			"%s stop-loss %f is not on the protective side of price %f", pos.Direction, req.StopLoss.Unwrap(), price)
	}

	if req.TakeProfit.IsSome() && sign*(req.TakeProfit.Unwrap()-price) <= 0 {
		return types.ManagementEvent{}, errors.Newf(errors.ErrCodeOrderRejected,
			"%s take-profit %f is not on the profit side of price %f", pos.Direction, req.TakeProfit.Unwrap(), price)
	}

	action := types.ManagementModifyTP
	detail := ""

	if req.StopLoss.IsSome() {
		pos.StopLoss = req.StopLoss
		action = types.ManagementModifySL
		detail = fmt.Sprintf("stop-loss moved to %.5f", req.StopLoss.Unwrap())
	}

	if req.TakeProfit.IsSome() {
		pos.TakeProfit = req.TakeProfit

		if detail != "" {
			detail += ", "
		}

		detail += fmt.Sprintf("take-profit moved to %.5f", req.TakeProfit.Unwrap())
	}

	return types.ManagementEvent{
		Bar:    req.Bar,
		Time:   req.Time,
		Rule:   req.Rule,
		Action: action,
		Detail: detail,
	}, nil
}

func (b *SimBroker) closePrice(pos *types.Position, reason types.ExitReason) (float64, error) {
	switch reason {
	case types.ExitReasonStopLoss:
		if pos.StopLoss.IsNone() {
			return 0, errors.New(errors.ErrCodeOrderRejected, "cannot close by stop-loss: position has none")
		}

		return pos.StopLoss.Unwrap(), nil

	case types.ExitReasonTakeProfit:
		if pos.TakeProfit.IsNone() {
			return 0, errors.New(errors.ErrCodeOrderRejected, "cannot close by take-profit: position has none")
		}

		return pos.TakeProfit.Unwrap(), nil

	default:
		return b.bar.Close, nil
	}
}

// rrAchieved measures realized points against the entry risk. Zero when no
// stop-loss was set at entry.
func rrAchieved(pos *types.Position, pnlPoints float64) float64 {
	if pos.InitialStopLoss.IsNone() {
		return 0
	}

	risk := math.Abs(pos.EntryPrice - pos.InitialStopLoss.Unwrap())
	if risk == 0 {
		return 0
	}

	return pnlPoints / risk
}

func outcomeFor(pnl float64) types.Outcome {
	switch {
	case pnl > breakevenEpsilon:
		return types.OutcomeWin
	case pnl < -breakevenEpsilon:
		return types.OutcomeLoss
	default:
		return types.OutcomeBreakeven
	}
}

var _ playbook.TradeExecutor = (*SimBroker)(nil)
