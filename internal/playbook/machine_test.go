package playbook

import (
	"fmt"
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/suite"

	"github.com/rxtech-lab/argo-playbook/internal/expr"
	"github.com/rxtech-lab/argo-playbook/internal/logger"
	"github.com/rxtech-lab/argo-playbook/internal/types"
	"github.com/rxtech-lab/argo-playbook/pkg/errors"
)

// fakeExecutor fills at the current bar close plus/minus half the spread and
// books closes the way the simulator does, so machine tests see realistic
// position lifecycles without the full backtest loop.
type fakeExecutor struct {
	bar        types.Bar
	barIndex   int
	spread     float64
	pointValue float64

	opens  []types.OpenRequest
	trades []types.Trade

	failOpen error
}

func (f *fakeExecutor) ExecuteOpen(req types.OpenRequest) (types.Position, error) {
	if f.failOpen != nil {
		return types.Position{}, f.failOpen
	}

	f.opens = append(f.opens, req)

	fill := f.bar.Close + req.Direction.Sign()*f.spread/2

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
		EntryPhase:      req.Phase,
		EntryVars:       req.Vars,
		EntryIndicators: req.Indicators,
	}, nil
}

func (f *fakeExecutor) ExecuteClose(pos *types.Position, req types.CloseRequest) (types.Trade, error) {
	price := f.bar.Close

	switch req.Reason {
	case types.ExitReasonStopLoss:
		price = pos.StopLoss.Unwrap()
	case types.ExitReasonTakeProfit:
		price = pos.TakeProfit.Unwrap()
	}

	trade := types.Trade{
		Ticket:     pos.Ticket,
		Symbol:     pos.Symbol,
		Direction:  pos.Direction,
		OpenBar:    pos.OpenBar,
		CloseBar:   req.Bar,
		OpenTime:   pos.OpenTime,
		CloseTime:  req.Time,
		EntryPrice: pos.EntryPrice,
		ClosePrice: price,
		Lot:        pos.InitialLot,
		StopLoss:   pos.StopLoss,
		TakeProfit: pos.TakeProfit,
		PnL:        pos.PnLAt(price, f.pointValue) + pos.RealizedPnL,
		ExitReason: req.Reason,
		EntryPhase: pos.EntryPhase,
	}

	f.trades = append(f.trades, trade)

	return trade, nil
}

func (f *fakeExecutor) ExecutePartialClose(pos *types.Position, req types.PartialCloseRequest) (types.ManagementEvent, error) {
	closedLot := pos.Lot * req.Percent / 100
	points := pos.Direction.Sign() * (f.bar.Close - pos.EntryPrice)

	pos.RealizedPnL += points * f.pointValue * closedLot
	pos.Lot -= closedLot

	return types.ManagementEvent{
		Bar:    req.Bar,
		Time:   req.Time,
		Rule:   req.Rule,
		Action: types.ManagementPartialClose,
		Detail: fmt.Sprintf("closed %.2f%%, %.2f lot remaining", req.Percent, pos.Lot),
	}, nil
}

func (f *fakeExecutor) ExecuteModify(pos *types.Position, req types.ModifyRequest) (types.ManagementEvent, error) {
	if req.StopLoss.IsSome() {
		pos.StopLoss = req.StopLoss
	}

	if req.TakeProfit.IsSome() {
		pos.TakeProfit = req.TakeProfit
	}

	return types.ManagementEvent{
		Bar:    req.Bar,
		Time:   req.Time,
		Rule:   req.Rule,
		Action: types.ManagementModifySL,
		Detail: "modified",
	}, nil
}

type MachineTestSuite struct {
	suite.Suite

	executor *fakeExecutor
}

func TestMachineSuite(t *testing.T) {
	suite.Run(t, new(MachineTestSuite))
}

func (suite *MachineTestSuite) SetupTest() {
	suite.executor = &fakeExecutor{spread: 0, pointValue: 1}
}

// basePlaybook builds a three phase playbook in code: idle arms on rsi < 30,
// entry opens a buy, in_position manages it.
func (suite *MachineTestSuite) basePlaybook() *types.Playbook {
	return &types.Playbook{
		SchemaVersion: "v1.0.0",
		ID:            "machine-test",
		InitialPhase:  "idle",
		Risk:          types.RiskConfig{MaxLot: 5},
		Variables: []types.VariableSpec{
			{Name: "armed", Type: types.VariableTypeBool, Default: 0},
			{Name: "entry_rsi", Type: types.VariableTypeNumber, Default: 30},
		},
		Indicators: []types.IndicatorSpec{
			{ID: "rsi14", Type: types.IndicatorTypeRSI, Params: map[string]float64{"period": 14}},
		},
		Phases: []types.Phase{
			{
				Name:       "idle",
				EvaluateOn: []types.Timeframe{types.TimeframeH1},
				Transitions: []types.Transition{
					{
						Priority: 1,
						To:       "entry",
						When:     types.ConditionNode{Left: "ind.rsi14.value", Op: types.CompareLT, Right: "var.entry_rsi"},
						Actions: []types.Action{
							{Type: types.ActionSetVar, Name: "armed", Value: "1"},
						},
					},
				},
			},
			{
				Name:       "entry",
				EvaluateOn: []types.Timeframe{types.TimeframeH1},
				Transitions: []types.Transition{
					{
						Priority: 1,
						To:       "in_position",
						When:     types.ConditionNode{Left: "var.armed", Op: types.CompareEQ, Right: "1"},
						Actions: []types.Action{
							{
								Type:      types.ActionOpenTrade,
								Direction: types.DirectionBuy,
								Lot:       "1",
								SL:        "_price - 10",
								TP:        "_price + 20",
							},
						},
					},
				},
				Timeout: &types.TimeoutSpec{Bars: 3, Timeframe: types.TimeframeH1, To: "idle"},
			},
			{
				Name:          "in_position",
				EvaluateOn:    []types.Timeframe{types.TimeframeH1},
				OnTradeClosed: "idle",
			},
		},
	}
}

func (suite *MachineTestSuite) compile(pb *types.Playbook) *Machine {
	compiled, err := Compile(pb)
	suite.Require().NoError(err)

	return NewMachine(compiled, suite.executor, logger.NewNopLogger())
}

// stepBar advances the fake executor to a new bar and evaluates it.
func (suite *MachineTestSuite) stepBar(m *Machine, st *RuntimeState, barIndex int, close, rsi float64) BarResult {
	bar := types.Bar{
		Time:   time.Date(2024, 3, 1, barIndex, 0, 0, 0, time.UTC),
		Open:   close,
		High:   close + 1,
		Low:    close - 1,
		Close:  close,
		Volume: 100,
	}

	suite.executor.bar = bar
	suite.executor.barIndex = barIndex

	snapshot := &types.Snapshot{
		Bar:        bar,
		Indicators: map[string]types.IndicatorValues{"rsi14": {"value": rsi}},
		Previous:   map[string]types.IndicatorValues{"rsi14": {"value": rsi + 1}},
	}

	ctx := expr.NewContext(snapshot, st.Vars, m.Playbook().Source.Risk).
		WithSpread(suite.executor.spread).
		WithBarIndex(barIndex).
		WithPointValue(suite.executor.pointValue).
		WithTrade(st.Position)

	return m.OnBarClose(st, ctx, types.TimeframeH1, RiskView{})
}

func (suite *MachineTestSuite) TestInitialState() {
	m := suite.compile(suite.basePlaybook())
	st := NewRuntimeState(m.Playbook(), "EURUSD")

	suite.Equal("idle", st.CurrentPhase)
	suite.Equal("machine-test", st.PlaybookID)
	suite.InDelta(0.0, st.Vars["armed"], 1e-12)
	suite.InDelta(30.0, st.Vars["entry_rsi"], 1e-12)
	suite.Nil(st.Position)
}

func (suite *MachineTestSuite) TestTransitionAndOpen() {
	m := suite.compile(suite.basePlaybook())
	st := NewRuntimeState(m.Playbook(), "EURUSD")

	// rsi above threshold: nothing happens
	res := suite.stepBar(m, st, 0, 100, 45)
	suite.False(res.Transitioned)
	suite.Equal("idle", st.CurrentPhase)

	// rsi dips: idle -> entry, sets armed
	res = suite.stepBar(m, st, 1, 100, 25)
	suite.True(res.Transitioned)
	suite.Equal("entry", res.To)
	suite.Equal("entry", st.CurrentPhase)
	suite.InDelta(1.0, st.Vars["armed"], 1e-12)

	// armed: entry -> in_position with a buy fill
	res = suite.stepBar(m, st, 2, 100, 25)
	suite.True(res.Transitioned)
	suite.True(res.Opened)
	suite.Equal("in_position", st.CurrentPhase)
	suite.Require().NotNil(st.Position)
	suite.Equal(types.DirectionBuy, st.Position.Direction)
	suite.InDelta(100.0, st.Position.EntryPrice, 1e-9)
	suite.InDelta(90.0, st.Position.StopLoss.Unwrap(), 1e-9)
	suite.InDelta(120.0, st.Position.TakeProfit.Unwrap(), 1e-9)
	// the action ran while entry was still current
	suite.Equal("entry", st.Position.EntryPhase)
	suite.Empty(res.Diagnostics)
}

func (suite *MachineTestSuite) TestFirstMatchWinsByPriority() {
	pb := suite.basePlaybook()
	// Declare the higher priority transition first; both conditions hold.
	pb.Phases[0].Transitions = []types.Transition{
		{
			Priority: 5,
			To:       "entry",
			When:     types.ConditionNode{Left: "1", Op: types.CompareEQ, Right: "1"},
			Actions:  []types.Action{{Type: types.ActionSetVar, Name: "armed", Value: "5"}},
		},
		{
			Priority: 1,
			To:       "in_position",
			When:     types.ConditionNode{Left: "1", Op: types.CompareEQ, Right: "1"},
			Actions:  []types.Action{{Type: types.ActionSetVar, Name: "armed", Value: "1"}},
		},
	}

	m := suite.compile(pb)
	st := NewRuntimeState(m.Playbook(), "EURUSD")

	res := suite.stepBar(m, st, 0, 100, 50)

	suite.True(res.Transitioned)
	suite.Equal("in_position", res.To)
	suite.InDelta(1.0, st.Vars["armed"], 1e-12)
}

func (suite *MachineTestSuite) TestPriorityTieKeepsDeclarationOrder() {
	pb := suite.basePlaybook()
	pb.Phases[0].Transitions = []types.Transition{
		{
			Priority: 1,
			To:       "entry",
			When:     types.ConditionNode{Left: "1", Op: types.CompareEQ, Right: "1"},
		},
		{
			Priority: 1,
			To:       "in_position",
			When:     types.ConditionNode{Left: "1", Op: types.CompareEQ, Right: "1"},
		},
	}

	m := suite.compile(pb)
	st := NewRuntimeState(m.Playbook(), "EURUSD")

	res := suite.stepBar(m, st, 0, 100, 50)
	suite.Equal("entry", res.To)
}

func (suite *MachineTestSuite) TestConditionErrorAbortsBar() {
	pb := suite.basePlaybook()
	pb.Phases[0].Transitions[0].When = types.ConditionNode{Left: "1 / (var.armed)", Op: types.CompareGT, Right: "0"}
	pb.Phases[0].Timeout = &types.TimeoutSpec{Bars: 1, Timeframe: types.TimeframeH1, To: "entry"}

	m := suite.compile(pb)
	st := NewRuntimeState(m.Playbook(), "EURUSD")

	// armed defaults to 0, so the condition divides by zero
	res := suite.stepBar(m, st, 0, 100, 25)

	suite.False(res.Transitioned)
	suite.Equal("idle", st.CurrentPhase)
	suite.Require().Len(res.Diagnostics, 1)
	suite.Equal(types.ScopeCondition, res.Diagnostics[0].Scope)
	suite.Equal(errors.ErrCodeDivisionByZero, res.Diagnostics[0].Code)
	// the abort also skipped the timeout counter
	suite.Equal(0, st.BarsInPhase)
}

func (suite *MachineTestSuite) TestActionErrorSkipsOnlyThatAction() {
	pb := suite.basePlaybook()
	pb.Phases[0].Transitions[0].Actions = []types.Action{
		{Type: types.ActionSetVar, Name: "armed", Value: "1 / 0"},
		{Type: types.ActionSetVar, Name: "entry_rsi", Value: "42"},
	}

	m := suite.compile(pb)
	st := NewRuntimeState(m.Playbook(), "EURUSD")

	res := suite.stepBar(m, st, 0, 100, 25)

	// the transition still completes and the second action still runs
	suite.True(res.Transitioned)
	suite.Equal("entry", st.CurrentPhase)
	suite.InDelta(0.0, st.Vars["armed"], 1e-12)
	suite.InDelta(42.0, st.Vars["entry_rsi"], 1e-12)
	suite.Require().Len(res.Diagnostics, 1)
	suite.Equal(types.ScopeAction, res.Diagnostics[0].Scope)
}

func (suite *MachineTestSuite) TestSetVarVisibleToLaterActions() {
	pb := suite.basePlaybook()
	pb.Phases[0].Transitions[0].Actions = []types.Action{
		{Type: types.ActionSetVar, Name: "entry_rsi", Value: "10"},
		{Type: types.ActionSetVar, Name: "armed", Value: "var.entry_rsi * 2"},
	}

	m := suite.compile(pb)
	st := NewRuntimeState(m.Playbook(), "EURUSD")

	suite.stepBar(m, st, 0, 100, 25)

	suite.InDelta(20.0, st.Vars["armed"], 1e-12)
}

func (suite *MachineTestSuite) TestTimeoutFiresAfterConfiguredBars() {
	m := suite.compile(suite.basePlaybook())
	st := NewRuntimeState(m.Playbook(), "EURUSD")
	st.enterPhase("entry")
	st.Vars["armed"] = 0 // keep the entry condition false

	res := suite.stepBar(m, st, 0, 100, 50)
	suite.False(res.Transitioned)
	suite.Equal(1, st.BarsInPhase)

	res = suite.stepBar(m, st, 1, 100, 50)
	suite.False(res.Transitioned)
	suite.Equal(2, st.BarsInPhase)

	res = suite.stepBar(m, st, 2, 100, 50)
	suite.True(res.Transitioned)
	suite.True(res.TimedOut)
	suite.Equal("idle", res.To)
	suite.Equal("idle", st.CurrentPhase)
	suite.Equal(0, st.BarsInPhase)
}

func (suite *MachineTestSuite) TestTimeoutCounterResetsOnTransition() {
	m := suite.compile(suite.basePlaybook())
	st := NewRuntimeState(m.Playbook(), "EURUSD")
	st.enterPhase("entry")
	st.Vars["armed"] = 0

	suite.stepBar(m, st, 0, 100, 50)
	suite.stepBar(m, st, 1, 100, 50)
	suite.Equal(2, st.BarsInPhase)

	// the transition fires before the third timeout bar
	st.Vars["armed"] = 1
	res := suite.stepBar(m, st, 2, 100, 50)

	suite.True(res.Transitioned)
	suite.False(res.TimedOut)
	suite.Equal(0, st.BarsInPhase)
}

func (suite *MachineTestSuite) TestTimeoutClosesOpenPosition() {
	pb := suite.basePlaybook()
	pb.Phases[2].Timeout = &types.TimeoutSpec{Bars: 2, Timeframe: types.TimeframeH1, To: "idle"}

	m := suite.compile(pb)
	st := NewRuntimeState(m.Playbook(), "EURUSD")

	// walk into a position
	suite.stepBar(m, st, 0, 100, 25)
	suite.stepBar(m, st, 1, 100, 25)
	suite.Require().NotNil(st.Position)

	suite.stepBar(m, st, 2, 104, 50)
	res := suite.stepBar(m, st, 3, 104, 50)

	suite.True(res.TimedOut)
	suite.Equal("idle", st.CurrentPhase)
	suite.Nil(st.Position)
	suite.Require().Len(res.Trades, 1)
	suite.Equal(types.ExitReasonTimeout, res.Trades[0].ExitReason)
	// closed at the bar's mid, not at sl/tp
	suite.InDelta(104.0, res.Trades[0].ClosePrice, 1e-9)
	suite.InDelta(4.0, res.Trades[0].PnL, 1e-9)
}

func (suite *MachineTestSuite) TestEvaluateOnFiltersTimeframes() {
	m := suite.compile(suite.basePlaybook())
	st := NewRuntimeState(m.Playbook(), "EURUSD")

	bar := types.Bar{Time: time.Now(), Open: 100, High: 101, Low: 99, Close: 100, Volume: 1}
	snapshot := &types.Snapshot{Bar: bar, Indicators: map[string]types.IndicatorValues{"rsi14": {"value": 10}}}
	ctx := expr.NewContext(snapshot, st.Vars, m.Playbook().Source.Risk)

	// phase evaluates on H1 only; an M5 close is ignored even though the
	// condition would hold
	res := m.OnBarClose(st, ctx, types.TimeframeM5, RiskView{})

	suite.False(res.Transitioned)
	suite.Equal("idle", st.CurrentPhase)
	suite.Empty(res.Diagnostics)
}

func (suite *MachineTestSuite) TestRiskMaxLotRejection() {
	pb := suite.basePlaybook()
	pb.Phases[1].Transitions[0].Actions[0].Lot = "10" // above MaxLot 5

	m := suite.compile(pb)
	st := NewRuntimeState(m.Playbook(), "EURUSD")
	st.enterPhase("entry")
	st.Vars["armed"] = 1

	res := suite.stepBar(m, st, 0, 100, 50)

	// the transition still happens; only the open is rejected
	suite.True(res.Transitioned)
	suite.Nil(st.Position)
	suite.Require().Len(res.Diagnostics, 1)
	suite.Equal(types.ScopeRisk, res.Diagnostics[0].Scope)
	suite.Equal(errors.ErrCodeRiskLimitExceeded, res.Diagnostics[0].Code)
	suite.Contains(res.Diagnostics[0].Message, "max_lot")
}

func (suite *MachineTestSuite) TestRiskDailyTradesRejection() {
	pb := suite.basePlaybook()
	pb.Risk.MaxDailyTrades = 2

	m := suite.compile(pb)
	st := NewRuntimeState(m.Playbook(), "EURUSD")
	st.enterPhase("entry")
	st.Vars["armed"] = 1

	bar := types.Bar{Time: time.Now(), Open: 100, High: 101, Low: 99, Close: 100, Volume: 1}
	snapshot := &types.Snapshot{Bar: bar, Indicators: map[string]types.IndicatorValues{"rsi14": {"value": 50}}}
	ctx := expr.NewContext(snapshot, st.Vars, pb.Risk)

	res := m.OnBarClose(st, ctx, types.TimeframeH1, RiskView{TradesToday: 2})

	suite.Nil(st.Position)
	suite.Require().Len(res.Diagnostics, 1)
	suite.Contains(res.Diagnostics[0].Message, "max_daily_trades")
}

func (suite *MachineTestSuite) TestOpenWhilePositionOpenRejected() {
	pb := suite.basePlaybook()
	// in_position keeps trying to open another trade
	pb.Phases[2].Transitions = []types.Transition{
		{
			Priority: 1,
			To:       "in_position",
			When:     types.ConditionNode{Left: "1", Op: types.CompareEQ, Right: "1"},
			Actions: []types.Action{
				{Type: types.ActionOpenTrade, Direction: types.DirectionBuy, Lot: "1"},
			},
		},
	}

	m := suite.compile(pb)
	st := NewRuntimeState(m.Playbook(), "EURUSD")

	suite.stepBar(m, st, 0, 100, 25)
	suite.stepBar(m, st, 1, 100, 25)
	suite.Require().NotNil(st.Position)

	first := st.Position.Ticket
	res := suite.stepBar(m, st, 2, 100, 50)

	suite.Equal(first, st.Position.Ticket)
	suite.Require().Len(res.Diagnostics, 1)
	suite.Equal(errors.ErrCodeOrderRejected, res.Diagnostics[0].Code)
}

func (suite *MachineTestSuite) TestCloseTradeAction() {
	pb := suite.basePlaybook()
	pb.Phases[2].Transitions = []types.Transition{
		{
			Priority: 1,
			To:       "entry",
			When:     types.ConditionNode{Left: "trade.pnl", Op: types.CompareGT, Right: "3"},
			Actions:  []types.Action{{Type: types.ActionCloseTrade}},
		},
	}

	m := suite.compile(pb)
	st := NewRuntimeState(m.Playbook(), "EURUSD")

	suite.stepBar(m, st, 0, 100, 25)
	suite.stepBar(m, st, 1, 100, 25)
	suite.Require().NotNil(st.Position)

	// pnl = 4 > 3: close_trade fires; the transition's own target wins over
	// the phase's on_trade_closed hook
	res := suite.stepBar(m, st, 2, 104, 50)

	suite.True(res.Transitioned)
	suite.Equal("entry", st.CurrentPhase)
	suite.Nil(st.Position)
	suite.Require().Len(res.Trades, 1)
	suite.Equal(types.ExitReasonPhaseChange, res.Trades[0].ExitReason)
	suite.InDelta(4.0, res.Trades[0].PnL, 1e-9)
}

func (suite *MachineTestSuite) TestOnPositionClosedAppliesHook() {
	m := suite.compile(suite.basePlaybook())
	st := NewRuntimeState(m.Playbook(), "EURUSD")

	suite.stepBar(m, st, 0, 100, 25)
	suite.stepBar(m, st, 1, 100, 25)
	suite.Require().NotNil(st.Position)
	st.FiredRules["some_rule"] = struct{}{}

	phase, changed := m.OnPositionClosed(st, types.ExitReasonStopLoss)

	suite.True(changed)
	suite.Equal("idle", phase)
	suite.Equal("idle", st.CurrentPhase)
	suite.Nil(st.Position)
	suite.Empty(st.FiredRules)
}

func (suite *MachineTestSuite) TestOnPositionClosedWithoutHook() {
	pb := suite.basePlaybook()
	pb.Phases[2].OnTradeClosed = ""

	m := suite.compile(pb)
	st := NewRuntimeState(m.Playbook(), "EURUSD")
	st.enterPhase("in_position")

	phase, changed := m.OnPositionClosed(st, types.ExitReasonTakeProfit)

	suite.False(changed)
	suite.Equal("in_position", phase)
}

func (suite *MachineTestSuite) TestOnceRuleFiresOnce() {
	pb := suite.basePlaybook()
	pb.Phases[2].Manage = []types.ManagementRule{
		{
			Name: "breakeven",
			Once: true,
			When: types.ConditionNode{Left: "trade.pnl", Op: types.CompareGE, Right: "2"},
			Action: types.ManagementAction{
				Type:  types.ManagementModifySL,
				Value: "trade.entry_price",
			},
		},
	}

	m := suite.compile(pb)
	st := NewRuntimeState(m.Playbook(), "EURUSD")

	suite.stepBar(m, st, 0, 100, 25)
	suite.stepBar(m, st, 1, 100, 25)
	suite.Require().NotNil(st.Position)

	// condition true for three consecutive bars; the rule fires on the first
	var events int

	for bar := 2; bar <= 4; bar++ {
		res := suite.stepBar(m, st, bar, 105, 50)
		events += len(res.Events)
	}

	suite.Equal(1, events)
	suite.Contains(st.FiredRules, "breakeven")
	suite.InDelta(100.0, st.Position.StopLoss.Unwrap(), 1e-9)
}

func (suite *MachineTestSuite) TestManagementErrorAbortsRemainingRules() {
	pb := suite.basePlaybook()
	pb.Phases[2].Manage = []types.ManagementRule{
		{
			Name:   "broken",
			When:   types.ConditionNode{Left: "1 / 0", Op: types.CompareGT, Right: "0"},
			Action: types.ManagementAction{Type: types.ManagementModifySL, Value: "trade.entry_price"},
		},
		{
			Name:   "never_reached",
			When:   types.ConditionNode{Left: "1", Op: types.CompareEQ, Right: "1"},
			Action: types.ManagementAction{Type: types.ManagementModifySL, Value: "trade.entry_price"},
		},
	}

	m := suite.compile(pb)
	st := NewRuntimeState(m.Playbook(), "EURUSD")

	suite.stepBar(m, st, 0, 100, 25)
	suite.stepBar(m, st, 1, 100, 25)

	res := suite.stepBar(m, st, 2, 105, 50)

	suite.Empty(res.Events)
	suite.Require().Len(res.Diagnostics, 1)
	suite.Equal(types.ScopeManagement, res.Diagnostics[0].Scope)
	suite.Equal(errors.ErrCodeDivisionByZero, res.Diagnostics[0].Code)
}

func (suite *MachineTestSuite) TestTrailRatchetsWithStep() {
	pb := suite.basePlaybook()
	pb.Phases[2].Manage = []types.ManagementRule{
		{
			Name: "trail",
			When: types.ConditionNode{Left: "1", Op: types.CompareEQ, Right: "1"},
			Action: types.ManagementAction{
				Type:     types.ManagementTrailSL,
				Distance: "5",
				Step:     "2",
			},
		},
	}

	m := suite.compile(pb)
	st := NewRuntimeState(m.Playbook(), "EURUSD")

	suite.stepBar(m, st, 0, 100, 25)
	suite.stepBar(m, st, 1, 100, 25)
	suite.Require().NotNil(st.Position)
	suite.InDelta(90.0, st.Position.StopLoss.Unwrap(), 1e-9)

	// first trail: price 102, sl -> 97
	res := suite.stepBar(m, st, 2, 102, 50)
	suite.Len(res.Events, 1)
	suite.InDelta(97.0, st.Position.StopLoss.Unwrap(), 1e-9)
	suite.InDelta(102.0, st.Position.LastTrailPrice.Unwrap(), 1e-9)

	// price 103: moved only 1 < step 2, trail not re-armed
	res = suite.stepBar(m, st, 3, 103, 50)
	suite.Empty(res.Events)
	suite.InDelta(97.0, st.Position.StopLoss.Unwrap(), 1e-9)

	// price 104: moved 2 >= step, sl -> 99
	res = suite.stepBar(m, st, 4, 104, 50)
	suite.Len(res.Events, 1)
	suite.InDelta(99.0, st.Position.StopLoss.Unwrap(), 1e-9)

	// price falls back to 101: the trail is not re-armed and the candidate
	// would lower the stop anyway
	res = suite.stepBar(m, st, 5, 101, 50)
	suite.Empty(res.Events)
	suite.InDelta(99.0, st.Position.StopLoss.Unwrap(), 1e-9)
}

func (suite *MachineTestSuite) TestManagementWaitsForBarAfterEntry() {
	pb := suite.basePlaybook()
	pb.Phases[2].Manage = []types.ManagementRule{
		{
			Name: "trail",
			When: types.ConditionNode{Left: "1", Op: types.CompareEQ, Right: "1"},
			Action: types.ManagementAction{
				Type:     types.ManagementTrailSL,
				Distance: "5",
			},
		},
	}

	m := suite.compile(pb)
	st := NewRuntimeState(m.Playbook(), "EURUSD")

	suite.stepBar(m, st, 0, 100, 25)

	// The entry bar keeps the stop the open request set; an always-true
	// trail must not move it to price-distance on the same bar.
	res := suite.stepBar(m, st, 1, 100, 25)
	suite.Require().NotNil(st.Position)
	suite.Empty(res.Events)
	suite.InDelta(90.0, st.Position.StopLoss.Unwrap(), 1e-9)
	suite.True(st.Position.LastTrailPrice.IsNone())

	// The next bar manages normally.
	res = suite.stepBar(m, st, 2, 100, 50)
	suite.Len(res.Events, 1)
	suite.InDelta(95.0, st.Position.StopLoss.Unwrap(), 1e-9)
}

func (suite *MachineTestSuite) TestPartialCloseToZeroFinalizesTrade() {
	pb := suite.basePlaybook()
	pb.Phases[2].Manage = []types.ManagementRule{
		{
			Name: "take_all",
			Once: true,
			When: types.ConditionNode{Left: "trade.pnl", Op: types.CompareGE, Right: "5"},
			Action: types.ManagementAction{
				Type:    types.ManagementPartialClose,
				Percent: "100",
			},
		},
	}

	m := suite.compile(pb)
	st := NewRuntimeState(m.Playbook(), "EURUSD")

	suite.stepBar(m, st, 0, 100, 25)
	suite.stepBar(m, st, 1, 100, 25)
	suite.Require().NotNil(st.Position)

	res := suite.stepBar(m, st, 2, 106, 50)

	suite.Nil(st.Position)
	suite.Require().Len(res.Trades, 1)
	suite.Equal(types.ExitReasonManual, res.Trades[0].ExitReason)
	suite.InDelta(6.0, res.Trades[0].PnL, 1e-9)
	suite.Len(res.Events, 1)
	// zero lot applies the on_trade_closed hook
	suite.Equal("idle", st.CurrentPhase)
}

func (suite *MachineTestSuite) TestPartialCloseHalf() {
	pb := suite.basePlaybook()
	pb.Phases[2].Manage = []types.ManagementRule{
		{
			Name: "bank_half",
			Once: true,
			When: types.ConditionNode{Left: "trade.pnl", Op: types.CompareGE, Right: "4"},
			Action: types.ManagementAction{
				Type:    types.ManagementPartialClose,
				Percent: "50",
			},
		},
	}

	m := suite.compile(pb)
	st := NewRuntimeState(m.Playbook(), "EURUSD")

	suite.stepBar(m, st, 0, 100, 25)
	suite.stepBar(m, st, 1, 100, 25)

	res := suite.stepBar(m, st, 2, 104, 50)

	suite.Require().NotNil(st.Position)
	suite.InDelta(0.5, st.Position.Lot, 1e-9)
	suite.InDelta(2.0, st.Position.RealizedPnL, 1e-9)
	suite.Len(res.Events, 1)
	suite.Equal("in_position", st.CurrentPhase)
}

func (suite *MachineTestSuite) TestExecutorOpenFailureBecomesDiagnostic() {
	suite.executor.failOpen = errors.New(errors.ErrCodeOrderRejected, "stop-loss on the wrong side of the fill")

	m := suite.compile(suite.basePlaybook())
	st := NewRuntimeState(m.Playbook(), "EURUSD")
	st.enterPhase("entry")
	st.Vars["armed"] = 1

	res := suite.stepBar(m, st, 0, 100, 50)

	suite.True(res.Transitioned)
	suite.Nil(st.Position)
	suite.Require().Len(res.Diagnostics, 1)
	suite.Equal(errors.ErrCodeOrderRejected, res.Diagnostics[0].Code)
}

func (suite *MachineTestSuite) TestDeterministicReplay() {
	run := func() []string {
		suite.executor = &fakeExecutor{spread: 0, pointValue: 1}
		m := suite.compile(suite.basePlaybook())
		st := NewRuntimeState(m.Playbook(), "EURUSD")

		closes := []float64{100, 100, 102, 104, 101, 99, 100, 100}
		rsis := []float64{45, 25, 25, 50, 50, 50, 25, 25}

		var phases []string

		for i := range closes {
			suite.stepBar(m, st, i, closes[i], rsis[i])
			phases = append(phases, st.CurrentPhase)
		}

		return phases
	}

	first := run()
	second := run()

	suite.Equal(first, second)
}

func (suite *MachineTestSuite) TestModifyRequestValidation() {
	req := types.ModifyRequest{
		Ticket: "not-a-uuid",
		Rule:   "r",
		Time:   time.Now(),
	}

	err := req.Validate()
	suite.Require().Error(err)

	req = types.ModifyRequest{
		Ticket:   "7b2dfdb1-59e8-4b9f-8d3d-0f1bb1f0d2a4",
		StopLoss: optional.Some(95.0),
		Rule:     "r",
		Time:     time.Now(),
	}

	suite.NoError(req.Validate())
}
