package types

// MonthlyReturn is one bucket of the month-by-month P&L breakdown, keyed by
// trade close time.
type MonthlyReturn struct {
	// Month in YYYY-MM form.
	Month  string  `json:"month" yaml:"month"`
	PnL    float64 `json:"pnl" yaml:"pnl"`
	Trades int     `json:"trades" yaml:"trades"`
}

// Metrics is the statistical summary derived from a run's trades and equity
// curve. All ratios carry documented sentinel values instead of NaN/Inf for
// degenerate inputs.
type Metrics struct {
	TotalTrades int `json:"total_trades" yaml:"total_trades"`
	Wins        int `json:"wins" yaml:"wins"`
	Losses      int `json:"losses" yaml:"losses"`
	Breakevens  int `json:"breakevens" yaml:"breakevens"`
	// WinRate is wins over total trades, 0..1.
	WinRate float64 `json:"win_rate" yaml:"win_rate"`

	GrossProfit float64 `json:"gross_profit" yaml:"gross_profit"`
	GrossLoss   float64 `json:"gross_loss" yaml:"gross_loss"`
	NetProfit   float64 `json:"net_profit" yaml:"net_profit"`
	// ProfitFactor is gross profit over gross loss; 0 when both are zero,
	// capped at a sentinel when gross loss is zero with profit.
	ProfitFactor float64 `json:"profit_factor" yaml:"profit_factor"`
	// Expectancy is the mean P&L per trade.
	Expectancy  float64 `json:"expectancy" yaml:"expectancy"`
	AvgWin      float64 `json:"avg_win" yaml:"avg_win"`
	AvgLoss     float64 `json:"avg_loss" yaml:"avg_loss"`
	LargestWin  float64 `json:"largest_win" yaml:"largest_win"`
	LargestLoss float64 `json:"largest_loss" yaml:"largest_loss"`

	Sharpe  float64 `json:"sharpe" yaml:"sharpe"`
	Sortino float64 `json:"sortino" yaml:"sortino"`
	Calmar  float64 `json:"calmar" yaml:"calmar"`
	// UlcerIndex is the root-mean-square of the drawdown series.
	UlcerIndex     float64 `json:"ulcer_index" yaml:"ulcer_index"`
	RecoveryFactor float64 `json:"recovery_factor" yaml:"recovery_factor"`
	CAGR           float64 `json:"cagr" yaml:"cagr"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct" yaml:"max_drawdown_pct"`
	Skewness       float64 `json:"skewness" yaml:"skewness"`
	Kurtosis       float64 `json:"kurtosis" yaml:"kurtosis"`

	LongestWinStreak  int     `json:"longest_win_streak" yaml:"longest_win_streak"`
	LongestLossStreak int     `json:"longest_loss_streak" yaml:"longest_loss_streak"`
	WinStreakPnL      float64 `json:"win_streak_pnl" yaml:"win_streak_pnl"`
	LossStreakPnL     float64 `json:"loss_streak_pnl" yaml:"loss_streak_pnl"`

	Monthly []MonthlyReturn `json:"monthly" yaml:"monthly"`
}
