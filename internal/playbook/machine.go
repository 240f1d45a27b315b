// Package playbook validates, compiles and drives declarative multi-phase
// trading playbooks. The Machine is deterministic: identical playbook, bar
// sequence and starting state always produce identical transitions, trades
// and diagnostics. Trade fills live behind the TradeExecutor interface so the
// same machine drives both backtests and a live bridge.
package playbook

import (
	"fmt"
	"maps"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"go.uber.org/zap"

	"github.com/rxtech-lab/argo-playbook/internal/expr"
	"github.com/rxtech-lab/argo-playbook/internal/logger"
	"github.com/rxtech-lab/argo-playbook/internal/types"
	"github.com/rxtech-lab/argo-playbook/pkg/errors"
)

// TradeExecutor owns fills. The machine computes intents from expressions and
// risk limits; the executor decides prices and mutates the passed position.
type TradeExecutor interface {
	// ExecuteOpen fills an open request and returns the resulting position.
	ExecuteOpen(req types.OpenRequest) (types.Position, error)
	// ExecuteClose closes the full remaining lot and returns the finalized
	// trade record. The fill price follows req.Reason: sl/tp close at the
	// stored level, everything else at the current mid.
	ExecuteClose(pos *types.Position, req types.CloseRequest) (types.Trade, error)
	// ExecutePartialClose closes a percentage of the remaining lot, banking
	// its P&L into the position.
	ExecutePartialClose(pos *types.Position, req types.PartialCloseRequest) (types.ManagementEvent, error)
	// ExecuteModify moves the position's stop-loss and/or take-profit.
	ExecuteModify(pos *types.Position, req types.ModifyRequest) (types.ManagementEvent, error)
}

// RiskView is the caller's account-level context for risk checks. The machine
// itself only tracks one position; daily counts and drawdown belong to the
// simulator or bridge.
type RiskView struct {
	OpenPositions int
	TradesToday   int
	DrawdownPct   float64
}

// BarResult reports everything the machine did on one bar close.
type BarResult struct {
	// Transitioned is true when the phase changed, by condition or timeout.
	Transitioned bool
	From         string
	To           string
	TimedOut     bool
	// Opened is true when an open_trade action filled.
	Opened bool
	// Trades holds positions finalized during this step (close_trade,
	// timeout close, partial close reaching zero lot).
	Trades      []types.Trade
	Events      []types.ManagementEvent
	Diagnostics []types.Diagnostic
}

// Machine drives RuntimeState through a compiled playbook, one bar close at a
// time.
type Machine struct {
	playbook *CompiledPlaybook
	executor TradeExecutor
	logger   *logger.Logger
}

// NewMachine builds a machine for one compiled playbook. The executor must
// not be nil; pass logger.NewNopLogger() to silence it.
func NewMachine(cp *CompiledPlaybook, executor TradeExecutor, log *logger.Logger) *Machine {
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Machine{
		playbook: cp,
		executor: executor,
		logger:   log,
	}
}

// Playbook returns the compiled playbook the machine drives.
func (m *Machine) Playbook() *CompiledPlaybook {
	return m.playbook
}

// OnBarClose evaluates one bar close of timeframe tf. ctx must be built for
// the same bar, with ctx.Vars backed by st.Vars so set_var writes are visible
// to later expressions on the same bar.
//
// Evaluation order: transitions in ascending priority (first match wins),
// then the timeout counter when nothing fired, then the current phase's
// management rules while a position is open. A condition failure aborts the
// whole bar for this phase with no state mutation; an action failure skips
// only that action; a management failure aborts the remaining rules. Every
// recovery is reported in BarResult.Diagnostics.
func (m *Machine) OnBarClose(st *RuntimeState, ctx *expr.Context, tf types.Timeframe, risk RiskView) BarResult {
	res := BarResult{From: st.CurrentPhase}

	phase, ok := m.playbook.Phases[st.CurrentPhase]
	if !ok {
		res.Diagnostics = append(res.Diagnostics, m.diagnostic(ctx, st.CurrentPhase, types.ScopeCondition,
			errors.ErrCodeUnknownPhase, fmt.Sprintf("runtime state points at undeclared phase %q", st.CurrentPhase)))

		return res
	}

	if !phase.EvaluatesOn(tf) {
		return res
	}

	ctx.Trade = st.Position

	taken, aborted := m.pickTransition(phase, ctx, st, &res)
	if aborted {
		return res
	}

	switch {
	case taken != nil:
		m.runActions(st, ctx, &res, taken, risk)
		st.enterPhase(taken.To)

		res.Transitioned = true
		res.To = taken.To

		m.logger.Debug("phase transition",
			zap.String("playbook", st.PlaybookID),
			zap.String("from", res.From),
			zap.String("to", res.To),
			zap.Int("bar", ctx.BarIndex))

	case phase.Timeout != nil && tf == phase.Timeout.Timeframe:
		st.BarsInPhase++

		if st.BarsInPhase >= phase.Timeout.Bars {
			m.fireTimeout(st, ctx, &res, phase)
		}
	}

	// Management first applies on the bar after entry; the entry bar keeps
	// the levels the open request set.
	if st.Position != nil && st.Position.OpenBar != ctx.BarIndex {
		if current, ok := m.playbook.Phases[st.CurrentPhase]; ok && len(current.Manage) > 0 {
			m.runManagement(st, ctx, &res, current)
		}
	}

	return res
}

// OnPositionClosed tells the machine the executor closed the position outside
// a transition (stop-loss, take-profit, or end of data). It clears the
// position and fired-rule set and applies the current phase's on_trade_closed
// target, if declared.
func (m *Machine) OnPositionClosed(st *RuntimeState, reason types.ExitReason) (string, bool) {
	st.clearPosition()

	m.logger.Debug("position closed",
		zap.String("playbook", st.PlaybookID),
		zap.String("phase", st.CurrentPhase),
		zap.String("reason", string(reason)))

	phase, ok := m.playbook.Phases[st.CurrentPhase]
	if !ok || phase.OnTradeClosed == "" {
		return st.CurrentPhase, false
	}

	st.enterPhase(phase.OnTradeClosed)

	return phase.OnTradeClosed, true
}

// pickTransition walks transitions in priority order and returns the first
// whose condition holds. A condition error aborts the bar before any state
// mutation.
func (m *Machine) pickTransition(phase *CompiledPhase, ctx *expr.Context, st *RuntimeState, res *BarResult) (*CompiledTransition, bool) {
	for _, tr := range phase.Transitions {
		ok, err := tr.When.Eval(ctx)
		if err != nil {
			res.Diagnostics = append(res.Diagnostics, m.diagnosticFromErr(ctx, st.CurrentPhase, types.ScopeCondition, err))

			return nil, true
		}

		if ok {
			return tr, false
		}
	}

	return nil, false
}

func (m *Machine) fireTimeout(st *RuntimeState, ctx *expr.Context, res *BarResult, phase *CompiledPhase) {
	if st.Position != nil {
		m.closePosition(st, ctx, res, types.ExitReasonTimeout)
	}

	st.enterPhase(phase.Timeout.To)

	res.Transitioned = true
	res.TimedOut = true
	res.To = phase.Timeout.To

	m.logger.Debug("phase timeout",
		zap.String("playbook", st.PlaybookID),
		zap.String("from", res.From),
		zap.String("to", res.To),
		zap.Int("bar", ctx.BarIndex))
}

func (m *Machine) runActions(st *RuntimeState, ctx *expr.Context, res *BarResult, tr *CompiledTransition, risk RiskView) {
	for i := range tr.Actions {
		act := &tr.Actions[i]

		switch act.Type {
		case types.ActionSetVar:
			value, err := act.Value.Eval(ctx)
			if err != nil {
				res.Diagnostics = append(res.Diagnostics, m.diagnosticFromErr(ctx, st.CurrentPhase, types.ScopeAction, err))

				continue
			}

			st.Vars[act.Name] = value
			if ctx.Vars != nil {
				ctx.Vars[act.Name] = value
			}

		case types.ActionOpenTrade:
			m.openTrade(st, ctx, res, act, risk)

		case types.ActionCloseTrade:
			if st.Position == nil {
				res.Diagnostics = append(res.Diagnostics, m.diagnostic(ctx, st.CurrentPhase, types.ScopeAction,
					errors.ErrCodePositionNotFound, "close_trade with no open position"))

				continue
			}

			m.closePosition(st, ctx, res, types.ExitReasonPhaseChange)

		case types.ActionLog:
			m.logger.Info("playbook log",
				zap.String("playbook", st.PlaybookID),
				zap.String("phase", st.CurrentPhase),
				zap.Int("bar", ctx.BarIndex),
				zap.String("message", act.Message))
		}
	}
}

// openTrade computes the intent, checks risk limits and asks the executor for
// a fill. Every rejection is a diagnostic, never a run failure.
func (m *Machine) openTrade(st *RuntimeState, ctx *expr.Context, res *BarResult, act *CompiledAction, risk RiskView) {
	if st.Position != nil {
		res.Diagnostics = append(res.Diagnostics, m.diagnostic(ctx, st.CurrentPhase, types.ScopeAction,
			errors.ErrCodeOrderRejected, "open_trade while a position is already open"))

		return
	}

	lot, err := act.Lot.Eval(ctx)
	if err != nil {
		res.Diagnostics = append(res.Diagnostics, m.diagnosticFromErr(ctx, st.CurrentPhase, types.ScopeAction, err))

		return
	}

	if msg := m.riskViolation(lot, risk); msg != "" {
		res.Diagnostics = append(res.Diagnostics, m.diagnostic(ctx, st.CurrentPhase, types.ScopeRisk,
			errors.ErrCodeRiskLimitExceeded, msg))

		return
	}

	var stopLoss, takeProfit optional.Option[float64]

	if act.SL != nil {
		value, err := act.SL.Eval(ctx)
		if err != nil {
			res.Diagnostics = append(res.Diagnostics, m.diagnosticFromErr(ctx, st.CurrentPhase, types.ScopeAction, err))

			return
		}

		stopLoss = optional.Some(value)
	}

	if act.TP != nil {
		value, err := act.TP.Eval(ctx)
		if err != nil {
			res.Diagnostics = append(res.Diagnostics, m.diagnosticFromErr(ctx, st.CurrentPhase, types.ScopeAction, err))

			return
		}

		takeProfit = optional.Some(value)
	}

	req := types.OpenRequest{
		Ticket:     uuid.New().String(),
		Symbol:     st.Symbol,
		Direction:  act.Direction,
		Lot:        lot,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
		Phase:      st.CurrentPhase,
		Vars:       maps.Clone(st.Vars),
		Indicators: flattenIndicators(ctx.Snapshot.Indicators),
		Bar:        ctx.BarIndex,
		Time:       ctx.Snapshot.Bar.Time,
	}

	if err := req.Validate(); err != nil {
		res.Diagnostics = append(res.Diagnostics, m.diagnostic(ctx, st.CurrentPhase, types.ScopeAction,
			errors.GetCode(err), err.Error()))

		return
	}

	pos, err := m.executor.ExecuteOpen(req)
	if err != nil {
		res.Diagnostics = append(res.Diagnostics, m.diagnostic(ctx, st.CurrentPhase, types.ScopeAction,
			errors.GetCode(err), err.Error()))

		return
	}

	st.Position = &pos
	ctx.Trade = st.Position
	res.Opened = true

	m.logger.Debug("trade opened",
		zap.String("playbook", st.PlaybookID),
		zap.String("ticket", pos.Ticket),
		zap.String("direction", string(pos.Direction)),
		zap.Float64("lot", pos.Lot),
		zap.Float64("entry", pos.EntryPrice))
}

// riskViolation returns a non-empty message when the playbook's risk config
// forbids opening a trade of the given lot right now.
func (m *Machine) riskViolation(lot float64, risk RiskView) string {
	rc := m.playbook.Source.Risk

	switch {
	case lot <= 0:
		return fmt.Sprintf("computed lot %f is not positive", lot)
	case rc.MaxLot > 0 && lot > rc.MaxLot:
		return fmt.Sprintf("lot %f exceeds max_lot %f", lot, rc.MaxLot)
	case rc.MaxOpenPositions > 0 && risk.OpenPositions >= rc.MaxOpenPositions:
		return fmt.Sprintf("open positions %d reached max_open_positions %d", risk.OpenPositions, rc.MaxOpenPositions)
	case rc.MaxDailyTrades > 0 && risk.TradesToday >= rc.MaxDailyTrades:
		return fmt.Sprintf("trades today %d reached max_daily_trades %d", risk.TradesToday, rc.MaxDailyTrades)
	case rc.MaxDrawdownPct > 0 && risk.DrawdownPct >= rc.MaxDrawdownPct:
		return fmt.Sprintf("drawdown %.2f%% reached max_drawdown_pct %.2f%%", risk.DrawdownPct, rc.MaxDrawdownPct)
	}

	return ""
}

// closePosition closes the full position via the executor and clears it from
// the runtime state. The on_trade_closed hook is deliberately not applied
// here: explicit close_trade actions and timeouts carry their own target
// phase.
func (m *Machine) closePosition(st *RuntimeState, ctx *expr.Context, res *BarResult, reason types.ExitReason) {
	req := types.CloseRequest{
		Ticket: st.Position.Ticket,
		Reason: reason,
		Bar:    ctx.BarIndex,
		Time:   ctx.Snapshot.Bar.Time,
	}

	trade, err := m.executor.ExecuteClose(st.Position, req)
	if err != nil {
		res.Diagnostics = append(res.Diagnostics, m.diagnostic(ctx, st.CurrentPhase, types.ScopeAction,
			errors.GetCode(err), err.Error()))

		return
	}

	res.Trades = append(res.Trades, trade)
	st.clearPosition()
	ctx.Trade = nil
}

// runManagement applies the phase's rules in declared order. The first
// failing rule aborts the remainder for this bar.
func (m *Machine) runManagement(st *RuntimeState, ctx *expr.Context, res *BarResult, phase *CompiledPhase) {
	for _, rule := range phase.Manage {
		if st.Position == nil {
			return
		}

		if rule.Once {
			if _, fired := st.FiredRules[rule.Name]; fired {
				continue
			}
		}

		ok, err := rule.When.Eval(ctx)
		if err != nil {
			res.Diagnostics = append(res.Diagnostics, m.diagnosticFromErr(ctx, st.CurrentPhase, types.ScopeManagement, err))

			return
		}

		if !ok {
			continue
		}

		applied, err := m.applyManagement(st, ctx, res, rule)
		if err != nil {
			res.Diagnostics = append(res.Diagnostics, m.diagnosticFromErr(ctx, st.CurrentPhase, types.ScopeManagement, err))

			return
		}

		if applied && rule.Once {
			st.FiredRules[rule.Name] = struct{}{}
		}
	}
}

// applyManagement executes one rule's action. It reports whether the action
// actually changed anything; a trail that is not armed or would move the stop
// against the position applies nothing and does not consume a once flag.
func (m *Machine) applyManagement(st *RuntimeState, ctx *expr.Context, res *BarResult, rule *CompiledRule) (bool, error) {
	pos := st.Position

	switch rule.Action.Type {
	case types.ManagementModifySL, types.ManagementModifyTP:
		value, err := rule.Action.Value.Eval(ctx)
		if err != nil {
			return false, err
		}

		req := types.ModifyRequest{
			Ticket: pos.Ticket,
			Rule:   rule.Name,
			Bar:    ctx.BarIndex,
			Time:   ctx.Snapshot.Bar.Time,
		}

		if rule.Action.Type == types.ManagementModifySL {
			req.StopLoss = optional.Some(value)
		} else {
			req.TakeProfit = optional.Some(value)
		}

		event, err := m.executor.ExecuteModify(pos, req)
		if err != nil {
			return false, err
		}

		res.Events = append(res.Events, event)

		return true, nil

	case types.ManagementTrailSL:
		return m.applyTrail(st, ctx, res, rule)

	case types.ManagementPartialClose:
		return m.applyPartialClose(st, ctx, res, rule)

	default:
		return false, errors.Newf(errors.ErrCodeInvalidAction, "unknown management action type %q", rule.Action.Type)
	}
}

// applyTrail moves the stop-loss to price minus distance (buy; mirrored for
// sell) when the trail is armed and the move is favorable. The trail arms
// on its first opportunity and re-arms only after price moves at least step
// beyond the last trail fill.
func (m *Machine) applyTrail(st *RuntimeState, ctx *expr.Context, res *BarResult, rule *CompiledRule) (bool, error) {
	pos := st.Position
	price := ctx.Price

	distance, err := rule.Action.Distance.Eval(ctx)
	if err != nil {
		return false, err
	}

	if distance <= 0 {
		return false, errors.Newf(errors.ErrCodeInvalidAction, "trail_sl distance must be positive, got %f", distance)
	}

	step := 0.0

	if rule.Action.Step != nil {
		step, err = rule.Action.Step.Eval(ctx)
		if err != nil {
			return false, err
		}

		if step < 0 {
			return false, errors.Newf(errors.ErrCodeInvalidAction, "trail_sl step must not be negative, got %f", step)
		}
	}

	sign := pos.Direction.Sign()

	if pos.LastTrailPrice.IsSome() {
		last := pos.LastTrailPrice.Unwrap()
		if sign*(price-last) < step {
			return false, nil
		}
	}

	candidate := price - sign*distance

	if pos.StopLoss.IsSome() {
		current := pos.StopLoss.Unwrap()
		if sign*(candidate-current) <= 0 {
			return false, nil
		}
	}

	req := types.ModifyRequest{
		Ticket:   pos.Ticket,
		StopLoss: optional.Some(candidate),
		Rule:     rule.Name,
		Bar:      ctx.BarIndex,
		Time:     ctx.Snapshot.Bar.Time,
	}

	event, err := m.executor.ExecuteModify(pos, req)
	if err != nil {
		return false, err
	}

	pos.LastTrailPrice = optional.Some(price)
	res.Events = append(res.Events, event)

	return true, nil
}

// applyPartialClose banks a percentage of the remaining lot. Reaching zero
// lot finalizes the trade with exit reason manual and applies the
// on_trade_closed hook.
func (m *Machine) applyPartialClose(st *RuntimeState, ctx *expr.Context, res *BarResult, rule *CompiledRule) (bool, error) {
	pos := st.Position

	percent, err := rule.Action.Percent.Eval(ctx)
	if err != nil {
		return false, err
	}

	if percent <= 0 || percent > 100 {
		return false, errors.Newf(errors.ErrCodeInvalidAction, "partial_close percent must be in (0, 100], got %f", percent)
	}

	req := types.PartialCloseRequest{
		Ticket:  pos.Ticket,
		Percent: percent,
		Rule:    rule.Name,
		Bar:     ctx.BarIndex,
		Time:    ctx.Snapshot.Bar.Time,
	}

	event, err := m.executor.ExecutePartialClose(pos, req)
	if err != nil {
		return false, err
	}

	res.Events = append(res.Events, event)

	if pos.Lot <= lotEpsilon {
		m.closePosition(st, ctx, res, types.ExitReasonManual)

		if phase, ok := m.playbook.Phases[st.CurrentPhase]; ok && phase.OnTradeClosed != "" {
			st.enterPhase(phase.OnTradeClosed)

			res.Transitioned = true
			res.To = phase.OnTradeClosed
		}
	}

	return true, nil
}

// lotEpsilon treats floating residue from repeated percentage closes as zero.
const lotEpsilon = 1e-9

func (m *Machine) diagnostic(ctx *expr.Context, phase string, scope types.DiagnosticScope, code errors.ErrorCode, message string) types.Diagnostic {
	return types.Diagnostic{
		Bar:     ctx.BarIndex,
		Time:    ctx.Snapshot.Bar.Time,
		Phase:   phase,
		Scope:   scope,
		Code:    code,
		Message: message,
	}
}

// diagnosticFromErr maps an evaluation failure to a diagnostic, preserving
// the EvalError code when one is present.
func (m *Machine) diagnosticFromErr(ctx *expr.Context, phase string, scope types.DiagnosticScope, err error) types.Diagnostic {
	code := errors.ErrCodeEvalFailed

	if evalErr, ok := errors.AsEvalError(err); ok {
		code = evalErr.Code
	} else if c := errors.GetCode(err); c != errors.ErrCodeUnknown {
		code = c
	}

	return types.Diagnostic{
		Bar:     ctx.BarIndex,
		Time:    ctx.Snapshot.Bar.Time,
		Phase:   phase,
		Scope:   scope,
		Code:    code,
		Message: err.Error(),
	}
}

// flattenIndicators snapshots indicator values as "<id>.<field>" keys for the
// trade's entry audit record.
func flattenIndicators(indicators map[string]types.IndicatorValues) map[string]float64 {
	flat := make(map[string]float64)

	for id, values := range indicators {
		for field, value := range values {
			flat[id+"."+field] = value
		}
	}

	return flat
}
