package backtest

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/suite"

	"github.com/rxtech-lab/argo-playbook/internal/logger"
	"github.com/rxtech-lab/argo-playbook/internal/types"
	"github.com/rxtech-lab/argo-playbook/pkg/errors"
)

type BrokerTestSuite struct {
	suite.Suite

	broker *SimBroker
	now    time.Time
}

func TestBrokerSuite(t *testing.T) {
	suite.Run(t, new(BrokerTestSuite))
}

// Spread 2.0 puts buy fills one increment above the close and sell fills one
// below. Point value 10 keeps P&L assertions round.
func (s *BrokerTestSuite) SetupTest() {
	s.broker = NewSimBroker(2.0, 10.0, logger.NewNopLogger())
	s.now = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	s.broker.SetBar(s.bar(100), 5)
}

func (s *BrokerTestSuite) bar(close float64) types.Bar {
	return types.Bar{
		Time:   s.now,
		Symbol: "EURUSD",
		Open:   close,
		High:   close + 3,
		Low:    close - 3,
		Close:  close,
		Volume: 500,
	}
}

func (s *BrokerTestSuite) openRequest(dir types.Direction) types.OpenRequest {
	return types.OpenRequest{
		Ticket:    uuid.New().String(),
		Symbol:    "EURUSD",
		Direction: dir,
		Lot:       1.0,
		Phase:     "entry",
		Bar:       5,
		Time:      s.now,
	}
}

func (s *BrokerTestSuite) mustOpen(dir types.Direction, sl, tp optional.Option[float64]) types.Position {
	req := s.openRequest(dir)
	req.StopLoss = sl
	req.TakeProfit = tp

	pos, err := s.broker.ExecuteOpen(req)
	s.Require().NoError(err)

	return pos
}

func (s *BrokerTestSuite) closeRequest(pos *types.Position, reason types.ExitReason, bar int) types.CloseRequest {
	return types.CloseRequest{
		Ticket: pos.Ticket,
		Reason: reason,
		Bar:    bar,
		Time:   s.now.Add(time.Hour),
	}
}

func (s *BrokerTestSuite) TestBuyFillPaysHalfSpread() {
	pos := s.mustOpen(types.DirectionBuy, nil, nil)

	s.Equal(101.0, pos.EntryPrice)
	s.Equal(1.0, pos.Lot)
	s.Equal(1.0, pos.InitialLot)
	s.Equal("entry", pos.EntryPhase)
	s.Equal(5, pos.OpenBar)
}

func (s *BrokerTestSuite) TestSellFillPaysHalfSpread() {
	pos := s.mustOpen(types.DirectionSell, nil, nil)

	s.Equal(99.0, pos.EntryPrice)
}

func (s *BrokerTestSuite) TestOpenCarriesInitialStop() {
	pos := s.mustOpen(types.DirectionBuy, optional.Some(95.0), optional.Some(113.0))

	s.Equal(95.0, pos.StopLoss.Unwrap())
	s.Equal(95.0, pos.InitialStopLoss.Unwrap())
	s.Equal(113.0, pos.TakeProfit.Unwrap())
}

func (s *BrokerTestSuite) TestOpenRejectsStopCrossingFill() {
	// Buy fill lands at 101; a stop at or above it would trigger immediately.
	req := s.openRequest(types.DirectionBuy)
	req.StopLoss = optional.Some(101.0)

	_, err := s.broker.ExecuteOpen(req)
	s.True(errors.HasCode(err, errors.ErrCodeOrderRejected))

	req.StopLoss = optional.Some(102.0)

	_, err = s.broker.ExecuteOpen(req)
	s.True(errors.HasCode(err, errors.ErrCodeOrderRejected))
}

func (s *BrokerTestSuite) TestOpenRejectsTakeProfitBehindFill() {
	req := s.openRequest(types.DirectionBuy)
	req.TakeProfit = optional.Some(100.0)

	_, err := s.broker.ExecuteOpen(req)
	s.True(errors.HasCode(err, errors.ErrCodeOrderRejected))
}

func (s *BrokerTestSuite) TestOpenRejectsInvalidRequest() {
	req := s.openRequest(types.DirectionBuy)
	req.Lot = 0

	_, err := s.broker.ExecuteOpen(req)
	s.True(errors.HasCode(err, errors.ErrCodeInvalidAction))
}

func (s *BrokerTestSuite) TestStopLossCloseFillsAtStoredLevel() {
	pos := s.mustOpen(types.DirectionBuy, optional.Some(95.0), optional.Some(113.0))

	trade, err := s.broker.ExecuteClose(&pos, s.closeRequest(&pos, types.ExitReasonStopLoss, 8))
	s.Require().NoError(err)

	s.Equal(95.0, trade.ClosePrice)
	s.Equal(types.OutcomeLoss, trade.Outcome)
	s.Equal(types.ExitReasonStopLoss, trade.ExitReason)
	s.Equal(8, trade.CloseBar)
	s.InDelta(-60.0, trade.PnL, 1e-9)
	s.InDelta(-6.0, trade.PnLPoints, 1e-9)
	// Risk was 6 increments, the stop gave all of it back.
	s.InDelta(-1.0, trade.RRAchieved, 1e-9)
}

func (s *BrokerTestSuite) TestTakeProfitCloseFillsAtStoredLevel() {
	pos := s.mustOpen(types.DirectionBuy, optional.Some(95.0), optional.Some(113.0))

	trade, err := s.broker.ExecuteClose(&pos, s.closeRequest(&pos, types.ExitReasonTakeProfit, 9))
	s.Require().NoError(err)

	s.Equal(113.0, trade.ClosePrice)
	s.Equal(types.OutcomeWin, trade.Outcome)
	s.InDelta(120.0, trade.PnL, 1e-9)
	s.InDelta(2.0, trade.RRAchieved, 1e-9)
}

func (s *BrokerTestSuite) TestSellStopLossClose() {
	pos := s.mustOpen(types.DirectionSell, optional.Some(105.0), optional.Some(87.0))

	trade, err := s.broker.ExecuteClose(&pos, s.closeRequest(&pos, types.ExitReasonStopLoss, 7))
	s.Require().NoError(err)

	s.Equal(105.0, trade.ClosePrice)
	s.InDelta(-60.0, trade.PnL, 1e-9)
	s.InDelta(-1.0, trade.RRAchieved, 1e-9)
}

func (s *BrokerTestSuite) TestManualCloseUsesBarClose() {
	pos := s.mustOpen(types.DirectionBuy, nil, nil)

	s.broker.SetBar(s.bar(110), 9)

	trade, err := s.broker.ExecuteClose(&pos, s.closeRequest(&pos, types.ExitReasonManual, 9))
	s.Require().NoError(err)

	s.Equal(110.0, trade.ClosePrice)
	s.InDelta(90.0, trade.PnL, 1e-9)
	// No stop was set at entry, so no risk unit to measure against.
	s.Zero(trade.RRAchieved)
}

func (s *BrokerTestSuite) TestStopCloseWithoutStopFails() {
	pos := s.mustOpen(types.DirectionBuy, nil, nil)

	_, err := s.broker.ExecuteClose(&pos, s.closeRequest(&pos, types.ExitReasonStopLoss, 6))
	s.True(errors.HasCode(err, errors.ErrCodeOrderRejected))
}

func (s *BrokerTestSuite) TestBreakevenOutcome() {
	pos := s.mustOpen(types.DirectionBuy, nil, nil)

	s.broker.SetBar(s.bar(101), 7)

	trade, err := s.broker.ExecuteClose(&pos, s.closeRequest(&pos, types.ExitReasonManual, 7))
	s.Require().NoError(err)

	s.Equal(types.OutcomeBreakeven, trade.Outcome)
	s.Zero(trade.PnL)
}

func (s *BrokerTestSuite) TestPartialCloseBanksProfit() {
	pos := s.mustOpen(types.DirectionBuy, nil, nil)

	s.broker.SetBar(s.bar(111), 8)

	ev, err := s.broker.ExecutePartialClose(&pos, types.PartialCloseRequest{
		Ticket:  pos.Ticket,
		Percent: 50,
		Rule:    "bank_half",
		Bar:     8,
		Time:    s.now.Add(3 * time.Hour),
	})
	s.Require().NoError(err)

	s.InDelta(0.5, pos.Lot, 1e-12)
	s.InDelta(50.0, pos.RealizedPnL, 1e-12)
	s.Equal(types.ManagementPartialClose, ev.Action)
	s.Equal("bank_half", ev.Rule)
	s.Contains(ev.Detail, "50.00%")

	// The final close realizes the remaining half plus the banked amount,
	// and reports the full initial lot on the record.
	trade, err := s.broker.ExecuteClose(&pos, s.closeRequest(&pos, types.ExitReasonManual, 8))
	s.Require().NoError(err)

	s.InDelta(100.0, trade.PnL, 1e-9)
	s.Equal(1.0, trade.Lot)
}

func (s *BrokerTestSuite) TestPartialCloseLotArithmeticStaysExact() {
	req := s.openRequest(types.DirectionBuy)
	req.Lot = 0.3

	pos, err := s.broker.ExecuteOpen(req)
	s.Require().NoError(err)

	_, err = s.broker.ExecutePartialClose(&pos, types.PartialCloseRequest{
		Ticket:  pos.Ticket,
		Percent: 10,
		Rule:    "scale_out",
		Bar:     5,
		Time:    s.now,
	})
	s.Require().NoError(err)

	s.InDelta(0.27, pos.Lot, 1e-15)
}

func (s *BrokerTestSuite) TestModifyMovesStop() {
	pos := s.mustOpen(types.DirectionBuy, optional.Some(95.0), nil)

	ev, err := s.broker.ExecuteModify(&pos, types.ModifyRequest{
		Ticket:   pos.Ticket,
		StopLoss: optional.Some(99.0),
		Rule:     "tighten",
		Bar:      6,
		Time:     s.now.Add(time.Hour),
	})
	s.Require().NoError(err)

	s.Equal(99.0, pos.StopLoss.Unwrap())
	s.Equal(95.0, pos.InitialStopLoss.Unwrap())
	s.Equal(types.ManagementModifySL, ev.Action)
	s.Contains(ev.Detail, "stop-loss moved to")
}

func (s *BrokerTestSuite) TestModifyTakeProfitOnly() {
	pos := s.mustOpen(types.DirectionBuy, nil, nil)

	ev, err := s.broker.ExecuteModify(&pos, types.ModifyRequest{
		Ticket:     pos.Ticket,
		TakeProfit: optional.Some(120.0),
		Rule:       "stretch_target",
		Bar:        6,
		Time:       s.now.Add(time.Hour),
	})
	s.Require().NoError(err)

	s.Equal(120.0, pos.TakeProfit.Unwrap())
	s.Equal(types.ManagementModifyTP, ev.Action)
	s.Contains(ev.Detail, "take-profit moved to")
}

func (s *BrokerTestSuite) TestModifyRejectsStopAboveMid() {
	pos := s.mustOpen(types.DirectionBuy, optional.Some(95.0), nil)

	_, err := s.broker.ExecuteModify(&pos, types.ModifyRequest{
		Ticket:   pos.Ticket,
		StopLoss: optional.Some(100.5),
		Rule:     "tighten",
		Bar:      6,
		Time:     s.now.Add(time.Hour),
	})
	s.True(errors.HasCode(err, errors.ErrCodeOrderRejected))
	s.Equal(95.0, pos.StopLoss.Unwrap())
}

func (s *BrokerTestSuite) TestModifyRejectsEmptyRequest() {
	pos := s.mustOpen(types.DirectionBuy, nil, nil)

	_, err := s.broker.ExecuteModify(&pos, types.ModifyRequest{
		Ticket: pos.Ticket,
		Rule:   "noop",
		Bar:    6,
		Time:   s.now.Add(time.Hour),
	})
	s.True(errors.HasCode(err, errors.ErrCodeInvalidAction))
}
