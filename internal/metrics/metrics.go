// Package metrics derives the statistical summary of a finished run from its
// trades and equity curve. Compute is a pure function: no I/O, no state, and
// every ratio substitutes a documented sentinel instead of NaN or Inf on
// degenerate input.
package metrics

import (
	"math"
	"sort"

	"github.com/rxtech-lab/argo-playbook/internal/types"
)

// ProfitFactorCap substitutes for an infinite profit factor when there are
// profits but no losses.
const ProfitFactorCap = 9999

// RatioCap bounds annualized ratios whose denominator vanishes (zero
// variance, zero drawdown) while the numerator stays positive.
const RatioCap = 9999

// Compute summarizes a run. startingBalance is the account balance before the
// first trade; barCount is the number of bars the run processed and drives
// annualization together with the timeframe. AvgLoss, LargestLoss and
// LossStreakPnL are negative values.
func Compute(trades []types.Trade, equity []types.EquityPoint, startingBalance float64, tf types.Timeframe, barCount int) types.Metrics {
	m := types.Metrics{}

	m.TotalTrades = len(trades)

	for _, t := range trades {
		switch t.Outcome {
		case types.OutcomeWin:
			m.Wins++
			m.GrossProfit += t.PnL

			if t.PnL > m.LargestWin {
				m.LargestWin = t.PnL
			}
		case types.OutcomeLoss:
			m.Losses++
			m.GrossLoss += -t.PnL

			if t.PnL < m.LargestLoss {
				m.LargestLoss = t.PnL
			}
		case types.OutcomeBreakeven:
			m.Breakevens++
		}

		m.NetProfit += t.PnL
	}

	if m.TotalTrades > 0 {
		m.WinRate = float64(m.Wins) / float64(m.TotalTrades)
		m.Expectancy = m.NetProfit / float64(m.TotalTrades)
	}

	m.ProfitFactor = profitFactor(m.GrossProfit, m.GrossLoss)

	if m.Wins > 0 {
		m.AvgWin = m.GrossProfit / float64(m.Wins)
	}

	if m.Losses > 0 {
		m.AvgLoss = -m.GrossLoss / float64(m.Losses)
	}

	returns := tradeReturns(trades, startingBalance)
	annualize := annualizationFactor(len(trades), tf, barCount)

	m.Sharpe = sharpe(returns, annualize)
	m.Sortino = sortino(returns, annualize)
	m.Skewness, m.Kurtosis = shape(returns)

	m.MaxDrawdownPct = maxDrawdownPct(equity)
	m.UlcerIndex = ulcerIndex(equity)
	m.CAGR = cagr(startingBalance, m.NetProfit, tf, barCount)
	m.Calmar = cappedRatio(m.CAGR, m.MaxDrawdownPct)
	m.RecoveryFactor = cappedRatio(m.NetProfit, maxDrawdownAbs(equity))

	m.LongestWinStreak, m.WinStreakPnL = longestStreak(trades, types.OutcomeWin)
	m.LongestLossStreak, m.LossStreakPnL = longestStreak(trades, types.OutcomeLoss)

	m.Monthly = monthlyReturns(trades)

	return m
}

// profitFactor is gross profit over gross loss: 0 when both are zero,
// ProfitFactorCap when only the loss is zero.
func profitFactor(grossProfit, grossLoss float64) float64 {
	if grossLoss == 0 {
		if grossProfit == 0 {
			return 0
		}

		return ProfitFactorCap
	}

	return grossProfit / grossLoss
}

// tradeReturns expresses each trade's P&L as a fraction of the starting
// balance.
func tradeReturns(trades []types.Trade, startingBalance float64) []float64 {
	if startingBalance <= 0 || len(trades) == 0 {
		return nil
	}

	returns := make([]float64, 0, len(trades))
	for _, t := range trades {
		returns = append(returns, t.PnL/startingBalance)
	}

	return returns
}

// annualizationFactor is sqrt(trades per year). The run spans
// barCount / PeriodsPerYear years.
func annualizationFactor(tradeCount int, tf types.Timeframe, barCount int) float64 {
	periods := tf.PeriodsPerYear()
	if periods <= 0 || barCount <= 0 || tradeCount == 0 {
		return 1
	}

	years := float64(barCount) / periods
	if years <= 0 {
		return 1
	}

	return math.Sqrt(float64(tradeCount) / years)
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	var sum float64
	for _, v := range values {
		sum += v
	}

	return sum / float64(len(values))
}

// stddev is the population standard deviation.
func stddev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	mu := mean(values)

	var sum float64

	for _, v := range values {
		d := v - mu
		sum += d * d
	}

	return math.Sqrt(sum / float64(len(values)))
}

// sharpe annualizes mean over standard deviation of per-trade returns. Zero
// variance yields 0, or RatioCap when the mean is positive.
func sharpe(returns []float64, annualize float64) float64 {
	if len(returns) == 0 {
		return 0
	}

	mu := mean(returns)
	sigma := stddev(returns)

	if sigma == 0 {
		if mu > 0 {
			return RatioCap
		}

		return 0
	}

	return mu / sigma * annualize
}

// sortino replaces the denominator with the downside deviation (RMS of
// negative returns against a zero target).
func sortino(returns []float64, annualize float64) float64 {
	if len(returns) == 0 {
		return 0
	}

	mu := mean(returns)

	var sum float64

	for _, r := range returns {
		if r < 0 {
			sum += r * r
		}
	}

	downside := math.Sqrt(sum / float64(len(returns)))
	if downside == 0 {
		if mu > 0 {
			return RatioCap
		}

		return 0
	}

	return mu / downside * annualize
}

// shape returns the skewness and excess kurtosis of the return distribution.
// Both are 0 for fewer than two distinct observations.
func shape(returns []float64) (float64, float64) {
	if len(returns) == 0 {
		return 0, 0
	}

	mu := mean(returns)
	sigma := stddev(returns)

	if sigma == 0 {
		return 0, 0
	}

	var m3, m4 float64

	for _, r := range returns {
		d := (r - mu) / sigma
		m3 += d * d * d
		m4 += d * d * d * d
	}

	n := float64(len(returns))

	return m3 / n, m4/n - 3
}

func maxDrawdownPct(equity []types.EquityPoint) float64 {
	var maxDD float64

	for _, p := range equity {
		if p.DrawdownPct > maxDD {
			maxDD = p.DrawdownPct
		}
	}

	return maxDD
}

// maxDrawdownAbs is the deepest peak-to-point equity decline in account
// currency.
func maxDrawdownAbs(equity []types.EquityPoint) float64 {
	var peak, maxDD float64

	for i, p := range equity {
		if i == 0 || p.Equity > peak {
			peak = p.Equity
		}

		if dd := peak - p.Equity; dd > maxDD {
			maxDD = dd
		}
	}

	return maxDD
}

// ulcerIndex is the root-mean-square of the drawdown percentage series.
func ulcerIndex(equity []types.EquityPoint) float64 {
	if len(equity) == 0 {
		return 0
	}

	var sum float64

	for _, p := range equity {
		sum += p.DrawdownPct * p.DrawdownPct
	}

	return math.Sqrt(sum / float64(len(equity)))
}

// cagr is the compound annual growth rate in percent. A balance wiped to zero
// or below reports -100.
func cagr(startingBalance, netProfit float64, tf types.Timeframe, barCount int) float64 {
	if startingBalance <= 0 {
		return 0
	}

	periods := tf.PeriodsPerYear()
	if periods <= 0 || barCount <= 0 {
		return 0
	}

	years := float64(barCount) / periods

	final := startingBalance + netProfit
	if final <= 0 {
		return -100
	}

	return (math.Pow(final/startingBalance, 1/years) - 1) * 100
}

// cappedRatio divides numerator by a non-negative denominator: 0 when the
// denominator is zero, or RatioCap when the numerator is positive.
func cappedRatio(numerator, denominator float64) float64 {
	if denominator == 0 {
		if numerator > 0 {
			return RatioCap
		}

		return 0
	}

	return numerator / denominator
}

// longestStreak finds the longest run of consecutive trades with the given
// outcome and that run's total P&L. Breakevens break streaks. Length ties
// keep the earliest streak.
func longestStreak(trades []types.Trade, outcome types.Outcome) (int, float64) {
	var bestLen, curLen int

	var bestPnL, curPnL float64

	for _, t := range trades {
		if t.Outcome == outcome {
			curLen++
			curPnL += t.PnL

			if curLen > bestLen {
				bestLen = curLen
				bestPnL = curPnL
			}

			continue
		}

		curLen = 0
		curPnL = 0
	}

	return bestLen, bestPnL
}

// monthlyReturns buckets trade P&L by close month, ascending.
func monthlyReturns(trades []types.Trade) []types.MonthlyReturn {
	if len(trades) == 0 {
		return nil
	}

	buckets := make(map[string]*types.MonthlyReturn)

	for _, t := range trades {
		month := t.CloseTime.UTC().Format("2006-01")

		b, ok := buckets[month]
		if !ok {
			b = &types.MonthlyReturn{Month: month}
			buckets[month] = b
		}

		b.PnL += t.PnL
		b.Trades++
	}

	months := make([]string, 0, len(buckets))
	for month := range buckets {
		months = append(months, month)
	}

	sort.Strings(months)

	out := make([]types.MonthlyReturn, 0, len(months))
	for _, month := range months {
		out = append(out, *buckets[month])
	}

	return out
}
