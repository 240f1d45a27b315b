package backtest

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"go.uber.org/zap"

	"github.com/rxtech-lab/argo-playbook/internal/expr"
	"github.com/rxtech-lab/argo-playbook/internal/feed"
	"github.com/rxtech-lab/argo-playbook/internal/logger"
	"github.com/rxtech-lab/argo-playbook/internal/metrics"
	"github.com/rxtech-lab/argo-playbook/internal/playbook"
	"github.com/rxtech-lab/argo-playbook/internal/types"
	"github.com/rxtech-lab/argo-playbook/pkg/errors"
)

// ProgressCallback reports bars processed out of the feed's total.
type ProgressCallback func(current, total int)

// Simulator replays one compiled playbook over historical bars. It is
// stateless between runs; every Run call builds a fresh broker, runtime state
// and account, so one Simulator may serve many sequential runs.
type Simulator struct {
	playbook *playbook.CompiledPlaybook
	logger   *logger.Logger
}

// NewSimulator compiles the playbook and fails fast on any validation
// problem, before any data is touched.
func NewSimulator(pb *types.Playbook, log *logger.Logger) (*Simulator, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}

	cp, err := playbook.Compile(pb)
	if err != nil {
		return nil, err
	}

	return &Simulator{
		playbook: cp,
		logger:   log,
	}, nil
}

// Playbook returns the compiled playbook the simulator replays.
func (s *Simulator) Playbook() *playbook.CompiledPlaybook {
	return s.playbook
}

// Run replays the playbook over the feed and returns the result document.
// The returned run is never nil: on failure it carries status failed and the
// error text alongside whatever was produced before the failure.
//
// Cancellation is checked between bars, never mid-bar, so a cancelled run
// still ends on a consistent bar boundary.
func (s *Simulator) Run(ctx context.Context, params types.RunParams, f feed.Feed, onProgress optional.Option[ProgressCallback]) (*types.BacktestRun, error) {
	run := &types.BacktestRun{
		ID:         uuid.New().String(),
		PlaybookID: s.playbook.Source.ID,
		Params:     params,
		Status:     types.RunStatusRunning,
		StartedAt:  time.Now().UTC(),
	}

	fail := func(err error) (*types.BacktestRun, error) {
		run.Status = types.RunStatusFailed
		run.Error = err.Error()
		run.FinishedAt = time.Now().UTC()

		s.logger.Error("run failed",
			zap.String("run", run.ID),
			zap.String("playbook", run.PlaybookID),
			zap.Error(err))

		return run, err
	}

	if err := validator.New().Struct(&params); err != nil {
		return fail(errors.Wrap(errors.ErrCodeBacktestConfigError, "invalid run parameters", err))
	}

	total, err := f.Count()
	if err != nil {
		return fail(err)
	}

	if total < params.BarCount {
		return fail(errors.Newf(errors.ErrCodeDataNotFound,
			"feed holds %d bars, run requires %d", total, params.BarCount))
	}

	s.logger.Info("run started",
		zap.String("run", run.ID),
		zap.String("playbook", run.PlaybookID),
		zap.String("symbol", params.Symbol),
		zap.Int("bars", total))

	broker := NewSimBroker(params.Spread, params.PointValue, s.logger)
	machine := playbook.NewMachine(s.playbook, broker, s.logger)
	st := playbook.NewRuntimeState(s.playbook, params.Symbol)
	acct := newAccount(params.StartingBalance)

	var (
		barIndex int
		lastBar  types.Bar
	)

	for snapshot, err := range f.ReadAll() {
		if err != nil {
			return fail(err)
		}

		select {
		case <-ctx.Done():
			return fail(ctx.Err())
		default:
		}

		bar := snapshot.Bar
		broker.SetBar(bar, barIndex)

		// Exit detection runs before the machine sees the bar; a position
		// opened on this very bar cannot exit on it.
		if st.Position != nil && st.Position.OpenBar < barIndex {
			if reason, hit := exitCrossed(st.Position, bar); hit {
				trade, err := broker.ExecuteClose(st.Position, types.CloseRequest{
					Ticket: st.Position.Ticket,
					Reason: reason,
					Bar:    barIndex,
					Time:   bar.Time,
				})
				if err != nil {
					return fail(err)
				}

				machine.OnPositionClosed(st, reason)
				s.bookTrade(run, acct, trade)
			}
		}

		evalCtx := expr.NewContext(&snapshot, st.Vars, s.playbook.Source.Risk).
			WithSpread(params.Spread).
			WithBarIndex(barIndex).
			WithPointValue(params.PointValue).
			WithTrade(st.Position)

		res := machine.OnBarClose(st, evalCtx, params.Timeframe, acct.riskView(bar.Time, st))

		for _, trade := range res.Trades {
			s.bookTrade(run, acct, trade)
		}

		run.Events = append(run.Events, res.Events...)
		run.Diagnostics = append(run.Diagnostics, res.Diagnostics...)

		if res.Opened {
			acct.noteOpen(bar.Time)
		}

		lastBar = bar
		barIndex++

		if onProgress.IsSome() {
			onProgress.Unwrap()(barIndex, total)
		}
	}

	// End of data force-closes a surviving position at the last close.
	if st.Position != nil {
		trade, err := broker.ExecuteClose(st.Position, types.CloseRequest{
			Ticket: st.Position.Ticket,
			Reason: types.ExitReasonManual,
			Bar:    barIndex - 1,
			Time:   lastBar.Time,
		})
		if err != nil {
			return fail(err)
		}

		machine.OnPositionClosed(st, types.ExitReasonManual)
		s.bookTrade(run, acct, trade)
	}

	run.Metrics = metrics.Compute(run.Trades, run.Equity, params.StartingBalance, params.Timeframe, barIndex)
	run.Status = types.RunStatusComplete
	run.FinishedAt = time.Now().UTC()

	s.logger.Info("run complete",
		zap.String("run", run.ID),
		zap.Int("bars", barIndex),
		zap.Int("trades", len(run.Trades)),
		zap.Float64("net_profit", run.Metrics.NetProfit))

	return run, nil
}

// bookTrade appends the trade and one equity sample to the run.
func (s *Simulator) bookTrade(run *types.BacktestRun, acct *account, trade types.Trade) {
	point := acct.book(trade)
	run.Trades = append(run.Trades, trade)
	run.Equity = append(run.Equity, point)
}

// exitCrossed checks whether the bar's range reached the position's stop-loss
// or take-profit. When both levels sit inside one bar's range, OHLC data
// alone cannot tell which traded first; stop-loss precedence is the fixed,
// conservative policy, applied identically on every bar.
func exitCrossed(pos *types.Position, bar types.Bar) (types.ExitReason, bool) {
	slHit := false
	tpHit := false

	if pos.StopLoss.IsSome() {
		sl := pos.StopLoss.Unwrap()
		if pos.Direction == types.DirectionBuy {
			slHit = bar.Low <= sl
		} else {
			slHit = bar.High >= sl
		}
	}

	if pos.TakeProfit.IsSome() {
		tp := pos.TakeProfit.Unwrap()
		if pos.Direction == types.DirectionBuy {
			tpHit = bar.High >= tp
		} else {
			tpHit = bar.Low <= tp
		}
	}

	switch {
	case slHit:
		return types.ExitReasonStopLoss, true
	case tpHit:
		return types.ExitReasonTakeProfit, true
	default:
		return "", false
	}
}

// account tracks run-level equity, peak drawdown and the per-day trade count
// feeding the machine's risk view.
type account struct {
	equity      float64
	peak        float64
	drawdownPct float64

	day         string
	tradesToday int
}

func newAccount(startingBalance float64) *account {
	return &account{
		equity: startingBalance,
		peak:   startingBalance,
	}
}

// book applies one closed trade and returns its equity sample.
func (a *account) book(trade types.Trade) types.EquityPoint {
	a.equity += trade.PnL

	if a.equity > a.peak {
		a.peak = a.equity
	}

	a.drawdownPct = 0
	if a.peak > 0 {
		a.drawdownPct = (a.peak - a.equity) / a.peak * 100
	}

	return types.EquityPoint{
		Bar:         trade.CloseBar,
		Time:        trade.CloseTime,
		Equity:      a.equity,
		DrawdownPct: a.drawdownPct,
	}
}

// noteOpen counts an opened trade against the bar's calendar day.
func (a *account) noteOpen(barTime time.Time) {
	day := barTime.UTC().Format("2006-01-02")
	if day != a.day {
		a.day = day
		a.tradesToday = 0
	}

	a.tradesToday++
}

// riskView snapshots the account for the machine's risk checks. The daily
// count resets implicitly when the bar's day moves past the last open.
func (a *account) riskView(barTime time.Time, st *playbook.RuntimeState) playbook.RiskView {
	open := 0
	if st.Position != nil {
		open = 1
	}

	tradesToday := a.tradesToday
	if barTime.UTC().Format("2006-01-02") != a.day {
		tradesToday = 0
	}

	return playbook.RiskView{
		OpenPositions: open,
		TradesToday:   tradesToday,
		DrawdownPct:   a.drawdownPct,
	}
}
