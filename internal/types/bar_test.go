package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type BarTestSuite struct {
	suite.Suite
}

func TestBarSuite(t *testing.T) {
	suite.Run(t, new(BarTestSuite))
}

func (suite *BarTestSuite) TestBarStruct() {
	now := time.Now()
	bar := Bar{
		Time:   now,
		Symbol: "EURUSD",
		Open:   150.0,
		High:   155.0,
		Low:    148.0,
		Close:  152.5,
		Volume: 1000000.0,
	}

	suite.Equal(now, bar.Time)
	suite.Equal("EURUSD", bar.Symbol)
	suite.Equal(150.0, bar.Open)
	suite.Equal(155.0, bar.High)
	suite.Equal(148.0, bar.Low)
	suite.Equal(152.5, bar.Close)
	suite.Equal(1000000.0, bar.Volume)
}

func (suite *BarTestSuite) TestBarValidate() {
	bar := Bar{
		Time:   time.Date(2023, 6, 15, 9, 30, 0, 0, time.UTC),
		Open:   450.0,
		High:   455.0,
		Low:    449.0,
		Close:  452.0,
		Volume: 100.0,
	}
	suite.NoError(bar.Validate())
}

func (suite *BarTestSuite) TestBarValidateHighBelowLow() {
	bar := Bar{Time: time.Now(), Open: 10, High: 9, Low: 11, Close: 10}
	err := bar.Validate()
	suite.Error(err)
	suite.Contains(err.Error(), "high")
}

func (suite *BarTestSuite) TestBarValidateOpenOutsideRange() {
	bar := Bar{Time: time.Now(), Open: 20, High: 15, Low: 10, Close: 12}
	suite.Error(bar.Validate())
}

func (suite *BarTestSuite) TestBarValidateCloseOutsideRange() {
	bar := Bar{Time: time.Now(), Open: 12, High: 15, Low: 10, Close: 9}
	suite.Error(bar.Validate())
}

func (suite *BarTestSuite) TestBarValidateNegativeVolume() {
	bar := Bar{Time: time.Now(), Open: 12, High: 15, Low: 10, Close: 12, Volume: -1}
	err := bar.Validate()
	suite.Error(err)
	suite.Contains(err.Error(), "volume")
}

func (suite *BarTestSuite) TestMid() {
	bar := Bar{Open: 10, High: 15, Low: 9, Close: 12}
	suite.Equal(12.0, bar.Mid())
}

func (suite *BarTestSuite) TestSnapshotLookup() {
	snap := Snapshot{
		Bar: Bar{Close: 100},
		Indicators: map[string]IndicatorValues{
			"rsi14": {"value": 28.5},
			"macd":  {"macd": 1.2, "signal": 0.8},
		},
		Previous: map[string]IndicatorValues{
			"rsi14": {"value": 33.1},
		},
	}

	v, ok := snap.Lookup("rsi14", "value")
	suite.True(ok)
	suite.Equal(28.5, v)

	v, ok = snap.Lookup("macd", "signal")
	suite.True(ok)
	suite.Equal(0.8, v)

	_, ok = snap.Lookup("rsi14", "missing")
	suite.False(ok)

	_, ok = snap.Lookup("missing", "value")
	suite.False(ok)
}

func (suite *BarTestSuite) TestSnapshotLookupPrevious() {
	snap := Snapshot{
		Previous: map[string]IndicatorValues{
			"rsi14": {"value": 33.1},
		},
	}

	v, ok := snap.LookupPrevious("rsi14", "value")
	suite.True(ok)
	suite.Equal(33.1, v)

	_, ok = snap.LookupPrevious("ema", "value")
	suite.False(ok)
}
