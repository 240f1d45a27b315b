package expr

import (
	"math"

	"github.com/rxtech-lab/argo-playbook/pkg/errors"
	"github.com/rxtech-lab/argo-playbook/pkg/utils"
)

// Eval evaluates the expression against ctx. It never panics and never
// returns NaN or Inf: every failure, including division by zero and domain
// errors, surfaces as an *errors.EvalError so callers decide fallback policy
// explicitly.
func (e *Expr) Eval(ctx *Context) (float64, error) {
	return e.eval(e.root, ctx)
}

// EvalBool evaluates the expression and applies boolean semantics: non-zero
// is true. Used by iff conditions and anywhere an expression gates behavior.
func (e *Expr) EvalBool(ctx *Context) (bool, error) {
	v, err := e.Eval(ctx)
	if err != nil {
		return false, err
	}

	return v != 0, nil
}

func (e *Expr) eval(n node, ctx *Context) (float64, error) {
	switch n := n.(type) {
	case *literalNode:
		return n.value, nil

	case *refNode:
		return e.resolve(n.ref, ctx)

	case *unaryNode:
		v, err := e.eval(n.operand, ctx)
		if err != nil {
			return 0, err
		}

		return -v, nil

	case *binaryNode:
		return e.evalBinary(n, ctx)

	case *callNode:
		return e.evalCall(n, ctx)

	default:
		return 0, errors.NewEvalError(errors.ErrCodeEvalFailed, e.src, "", "unknown expression node")
	}
}

func (e *Expr) evalBinary(n *binaryNode, ctx *Context) (float64, error) {
	left, err := e.eval(n.left, ctx)
	if err != nil {
		return 0, err
	}

	right, err := e.eval(n.right, ctx)
	if err != nil {
		return 0, err
	}

	var result float64

	switch n.op {
	case "+":
		result = left + right
	case "-":
		result = left - right
	case "*":
		result = left * right
	case "/":
		if right == 0 {
			return 0, errors.NewEvalError(errors.ErrCodeDivisionByZero, e.src, "", "division by zero")
		}

		result = left / right
	case "%":
		if right == 0 {
			return 0, errors.NewEvalError(errors.ErrCodeDivisionByZero, e.src, "", "modulo by zero")
		}

		result = math.Mod(left, right)
	case "**":
		result = math.Pow(left, right)
	default:
		return 0, errors.NewEvalErrorf(errors.ErrCodeEvalFailed, e.src, "", "unknown operator %q", n.op)
	}

	return e.finite(result)
}

func (e *Expr) evalCall(n *callNode, ctx *Context) (float64, error) {
	// iff evaluates lazily: only the selected branch runs, so an error in the
	// untaken branch cannot fail the expression.
	if n.fn == "iff" {
		cond, err := e.eval(n.args[0], ctx)
		if err != nil {
			return 0, err
		}

		if cond != 0 {
			return e.eval(n.args[1], ctx)
		}

		return e.eval(n.args[2], ctx)
	}

	args := make([]float64, len(n.args))

	for i, arg := range n.args {
		v, err := e.eval(arg, ctx)
		if err != nil {
			return 0, err
		}

		args[i] = v
	}

	var result float64

	switch n.fn {
	case "abs":
		result = math.Abs(args[0])

	case "sqrt":
		if args[0] < 0 {
			return 0, errors.NewEvalErrorf(errors.ErrCodeEvalFailed, e.src, "", "sqrt of negative value %g", args[0])
		}

		result = math.Sqrt(args[0])

	case "log":
		if args[0] <= 0 {
			return 0, errors.NewEvalErrorf(errors.ErrCodeEvalFailed, e.src, "", "log of non-positive value %g", args[0])
		}

		result = math.Log(args[0])

	case "round":
		result = utils.RoundTo(args[0], int(args[1]))

	case "clamp":
		lo, hi := args[1], args[2]
		if lo > hi {
			return 0, errors.NewEvalErrorf(errors.ErrCodeEvalFailed, e.src, "", "clamp lower bound %g above upper bound %g", lo, hi)
		}

		result = math.Min(math.Max(args[0], lo), hi)

	case "min":
		result = args[0]
		for _, v := range args[1:] {
			result = math.Min(result, v)
		}

	case "max":
		result = args[0]
		for _, v := range args[1:] {
			result = math.Max(result, v)
		}

	default:
		return 0, errors.NewEvalErrorf(errors.ErrCodeUnknownFunction, e.src, "", "unknown function %q", n.fn)
	}

	return e.finite(result)
}

func (e *Expr) resolve(ref Ref, ctx *Context) (float64, error) {
	switch ref.Kind {
	case RefPrice:
		return ctx.Price, nil

	case RefSpread:
		return ctx.Spread, nil

	case RefIndicator:
		v, ok := ctx.Snapshot.Lookup(ref.ID, ref.Field)
		if !ok {
			return 0, errors.NewEvalErrorf(errors.ErrCodeIndicatorNotFound, e.src, ref.Raw, "indicator value %s not available", ref.Raw)
		}

		return e.finiteRef(v, ref)

	case RefPrevious:
		v, ok := ctx.Snapshot.LookupPrevious(ref.ID, ref.Field)
		if !ok {
			return 0, errors.NewEvalErrorf(errors.ErrCodeIndicatorNotFound, e.src, ref.Raw, "previous indicator value %s not available", ref.Raw)
		}

		return e.finiteRef(v, ref)

	case RefVariable:
		v, ok := ctx.Vars[ref.ID]
		if !ok {
			return 0, errors.NewEvalErrorf(errors.ErrCodeVariableNotFound, e.src, ref.Raw, "unknown variable %q", ref.ID)
		}

		return v, nil

	case RefBar:
		return e.resolveBar(ref, ctx)

	case RefTrade:
		return e.resolveTrade(ref, ctx)

	case RefRisk:
		return e.resolveRisk(ref, ctx)

	default:
		return 0, errors.NewEvalErrorf(errors.ErrCodeUnknownReference, e.src, ref.Raw, "unknown reference %q", ref.Raw)
	}
}

func (e *Expr) resolveBar(ref Ref, ctx *Context) (float64, error) {
	bar := ctx.Snapshot.Bar

	switch ref.Field {
	case "open":
		return bar.Open, nil
	case "high":
		return bar.High, nil
	case "low":
		return bar.Low, nil
	case "close":
		return bar.Close, nil
	case "volume":
		return bar.Volume, nil
	default:
		return 0, errors.NewEvalErrorf(errors.ErrCodeUnknownReference, e.src, ref.Raw, "unknown bar field %q", ref.Field)
	}
}

func (e *Expr) resolveTrade(ref Ref, ctx *Context) (float64, error) {
	trade := ctx.Trade
	if trade == nil {
		return 0, errors.NewEvalErrorf(errors.ErrCodeNoOpenTrade, e.src, ref.Raw, "no open trade for %s", ref.Raw)
	}

	switch ref.Field {
	case "entry_price":
		return trade.EntryPrice, nil
	case "lot":
		return trade.Lot, nil
	case "sl":
		if trade.StopLoss.IsNone() {
			return 0, errors.NewEvalError(errors.ErrCodeEvalFailed, e.src, ref.Raw, "no stop-loss set on open trade")
		}

		return trade.StopLoss.Unwrap(), nil
	case "tp":
		if trade.TakeProfit.IsNone() {
			return 0, errors.NewEvalError(errors.ErrCodeEvalFailed, e.src, ref.Raw, "no take-profit set on open trade")
		}

		return trade.TakeProfit.Unwrap(), nil
	case "direction":
		return trade.Direction.Sign(), nil
	case "bars_open":
		return float64(trade.BarsOpen(ctx.BarIndex)), nil
	case "pnl":
		return trade.PnLAt(ctx.Price, ctx.PointValue), nil
	default:
		return 0, errors.NewEvalErrorf(errors.ErrCodeUnknownReference, e.src, ref.Raw, "unknown trade field %q", ref.Field)
	}
}

func (e *Expr) resolveRisk(ref Ref, ctx *Context) (float64, error) {
	switch ref.Field {
	case "max_lot":
		return ctx.Risk.MaxLot, nil
	case "max_daily_trades":
		return float64(ctx.Risk.MaxDailyTrades), nil
	case "max_drawdown_pct":
		return ctx.Risk.MaxDrawdownPct, nil
	case "max_open_positions":
		return float64(ctx.Risk.MaxOpenPositions), nil
	default:
		return 0, errors.NewEvalErrorf(errors.ErrCodeUnknownReference, e.src, ref.Raw, "unknown risk field %q", ref.Field)
	}
}

func (e *Expr) finite(v float64) (float64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.NewEvalError(errors.ErrCodeEvalFailed, e.src, "", "non-finite result")
	}

	return v, nil
}

func (e *Expr) finiteRef(v float64, ref Ref) (float64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.NewEvalErrorf(errors.ErrCodeEvalFailed, e.src, ref.Raw, "%s is not finite", ref.Raw)
	}

	return v, nil
}
