package types

import (
	"testing"

	"github.com/stretchr/testify/suite"
)

const samplePlaybookYAML = `
schema_version: "1.0.0"
id: rsi-dip-buyer
name: RSI Dip Buyer
initial_phase: idle
risk:
  max_lot: 1.0
  max_daily_trades: 5
  max_drawdown_pct: 25
  max_open_positions: 1
variables:
  - name: entry_rsi
    type: number
    default: 30
  - name: armed
    type: bool
    default: 0
indicators:
  - id: rsi14
    type: rsi
    timeframe: H1
    params:
      period: 14
phases:
  - name: idle
    evaluate_on: [H1]
    transitions:
      - priority: 1
        to: entry
        when:
          all:
            - left: ind.rsi14.value
              op: "<"
              right: var.entry_rsi
        actions:
          - type: set_var
            name: armed
            value: "1"
  - name: entry
    evaluate_on: [H1]
    transitions:
      - priority: 1
        to: in_position
        when:
          left: var.armed
          op: "=="
          right: "1"
        actions:
          - type: open_trade
            direction: buy
            lot: "0.5"
            sl: _price - 10
            tp: _price + 20
    timeout:
      bars: 10
      timeframe: H1
      to: idle
  - name: in_position
    evaluate_on: [H1]
    manage:
      - name: move-to-breakeven
        once: true
        when:
          left: trade.pnl
          op: ">"
          right: "0"
        action:
          type: modify_sl
          value: trade.entry_price
    on_trade_closed: idle
`

type PlaybookTestSuite struct {
	suite.Suite
}

func TestPlaybookSuite(t *testing.T) {
	suite.Run(t, new(PlaybookTestSuite))
}

func (suite *PlaybookTestSuite) TestParsePlaybook() {
	pb, err := ParsePlaybook([]byte(samplePlaybookYAML))
	suite.Require().NoError(err)
	suite.Equal("rsi-dip-buyer", pb.ID)
	suite.Equal("RSI Dip Buyer", pb.Name)
	suite.Equal("1.0.0", pb.SchemaVersion)
	suite.Equal("idle", pb.InitialPhase)
	suite.Len(pb.Phases, 3)
	suite.Len(pb.Variables, 2)
	suite.Len(pb.Indicators, 1)
}

func (suite *PlaybookTestSuite) TestParsePlaybookRisk() {
	pb, err := ParsePlaybook([]byte(samplePlaybookYAML))
	suite.Require().NoError(err)
	suite.Equal(1.0, pb.Risk.MaxLot)
	suite.Equal(5, pb.Risk.MaxDailyTrades)
	suite.Equal(25.0, pb.Risk.MaxDrawdownPct)
	suite.Equal(1, pb.Risk.MaxOpenPositions)
}

func (suite *PlaybookTestSuite) TestParsePlaybookConditionTree() {
	pb, err := ParsePlaybook([]byte(samplePlaybookYAML))
	suite.Require().NoError(err)

	idle, ok := pb.Phase("idle")
	suite.Require().True(ok)
	suite.Require().Len(idle.Transitions, 1)

	when := idle.Transitions[0].When
	suite.True(when.IsGroup())
	suite.Require().Len(when.All, 1)

	leaf := when.All[0]
	suite.True(leaf.IsLeaf())
	suite.Equal("ind.rsi14.value", leaf.Left)
	suite.Equal(CompareLT, leaf.Op)
	suite.Equal("var.entry_rsi", leaf.Right)
}

func (suite *PlaybookTestSuite) TestParsePlaybookTimeout() {
	pb, err := ParsePlaybook([]byte(samplePlaybookYAML))
	suite.Require().NoError(err)

	entry, ok := pb.Phase("entry")
	suite.Require().True(ok)
	suite.Require().NotNil(entry.Timeout)
	suite.Equal(10, entry.Timeout.Bars)
	suite.Equal(TimeframeH1, entry.Timeout.Timeframe)
	suite.Equal("idle", entry.Timeout.To)
}

func (suite *PlaybookTestSuite) TestParsePlaybookManagement() {
	pb, err := ParsePlaybook([]byte(samplePlaybookYAML))
	suite.Require().NoError(err)

	inPos, ok := pb.Phase("in_position")
	suite.Require().True(ok)
	suite.Require().Len(inPos.Manage, 1)

	rule := inPos.Manage[0]
	suite.Equal("move-to-breakeven", rule.Name)
	suite.True(rule.Once)
	suite.Equal(ManagementModifySL, rule.Action.Type)
	suite.Equal("trade.entry_price", rule.Action.Value)
	suite.Equal("idle", inPos.OnTradeClosed)
}

func (suite *PlaybookTestSuite) TestParsePlaybookInvalidYAML() {
	_, err := ParsePlaybook([]byte("phases: [what"))
	suite.Error(err)
}

func (suite *PlaybookTestSuite) TestParsePlaybookMissingRequired() {
	_, err := ParsePlaybook([]byte(`
id: no-phases
schema_version: "1.0.0"
initial_phase: idle
`))
	suite.Error(err)
}

func (suite *PlaybookTestSuite) TestValidateMissingSchemaVersion() {
	pb := &Playbook{
		ID:           "x",
		InitialPhase: "idle",
		Phases:       []Phase{{Name: "idle", EvaluateOn: []Timeframe{TimeframeH1}}},
	}
	suite.Error(pb.Validate())
}

func (suite *PlaybookTestSuite) TestLookupHelpers() {
	pb, err := ParsePlaybook([]byte(samplePlaybookYAML))
	suite.Require().NoError(err)

	_, ok := pb.Phase("nope")
	suite.False(ok)

	v, ok := pb.Variable("entry_rsi")
	suite.True(ok)
	suite.Equal(30.0, v.Default)

	_, ok = pb.Variable("nope")
	suite.False(ok)

	ind, ok := pb.Indicator("rsi14")
	suite.True(ok)
	suite.Equal(IndicatorTypeRSI, ind.Type)
	suite.Equal(14.0, ind.Params["period"])

	_, ok = pb.Indicator("nope")
	suite.False(ok)
}

func (suite *PlaybookTestSuite) TestClone() {
	pb, err := ParsePlaybook([]byte(samplePlaybookYAML))
	suite.Require().NoError(err)

	clone := pb.Clone()
	suite.Equal(pb, clone)

	// Mutating the clone must not touch the original
	clone.Variables[0].Default = 99
	clone.Indicators[0].Params["period"] = 7
	clone.Phases[0].Transitions[0].When.All[0].Right = "var.other"
	clone.Phases[1].Timeout.Bars = 1
	clone.Phases[2].Manage[0].Once = false

	suite.Equal(30.0, pb.Variables[0].Default)
	suite.Equal(14.0, pb.Indicators[0].Params["period"])
	suite.Equal("var.entry_rsi", pb.Phases[0].Transitions[0].When.All[0].Right)
	suite.Equal(10, pb.Phases[1].Timeout.Bars)
	suite.True(pb.Phases[2].Manage[0].Once)
}

func (suite *PlaybookTestSuite) TestCloneKeepsNilSlicesNil() {
	pb := &Playbook{
		SchemaVersion: "1.0.0",
		ID:            "bare",
		InitialPhase:  "idle",
		Phases: []Phase{
			{Name: "idle", EvaluateOn: []Timeframe{TimeframeH1}},
		},
	}

	clone := pb.Clone()
	suite.Equal(pb, clone)

	suite.Nil(clone.Variables)
	suite.Nil(clone.Indicators)
	suite.Nil(clone.Phases[0].Transitions)
	suite.Nil(clone.Phases[0].Manage)
}

func (suite *PlaybookTestSuite) TestConditionNodeShapeHelpers() {
	group := ConditionNode{All: []ConditionNode{{Left: "1", Op: CompareGT, Right: "0"}}}
	suite.True(group.IsGroup())
	suite.False(group.IsLeaf())

	leaf := ConditionNode{Left: "1", Op: CompareGT, Right: "0"}
	suite.False(leaf.IsGroup())
	suite.True(leaf.IsLeaf())

	empty := ConditionNode{}
	suite.False(empty.IsGroup())
	suite.False(empty.IsLeaf())
}
