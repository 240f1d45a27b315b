// Package sweep evaluates a playbook across a cartesian grid of parameter
// overrides. Every combination runs an independent backtest on its own
// playbook clone; completed combinations are ranked by a caller-selected
// metric while failures are collected separately.
package sweep

import (
	"context"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/moznion/go-optional"
	"go.uber.org/zap"

	"github.com/rxtech-lab/argo-playbook/internal/backtest"
	"github.com/rxtech-lab/argo-playbook/internal/feed"
	"github.com/rxtech-lab/argo-playbook/internal/logger"
	"github.com/rxtech-lab/argo-playbook/internal/types"
	"github.com/rxtech-lab/argo-playbook/pkg/errors"
)

// Override is one swept parameter: a dotted path into the playbook document
// and the values the sweep tries for it. Supported paths:
//
//	variables.<name>.default
//	risk.max_lot | risk.max_daily_trades | risk.max_drawdown_pct | risk.max_open_positions
//	indicators.<id>.params.<key>
type Override struct {
	Path   string    `yaml:"path" json:"path" validate:"required"`
	Values []float64 `yaml:"values" json:"values" validate:"min=1"`
}

// Config drives one sweep batch.
type Config struct {
	Overrides []Override `yaml:"overrides" json:"overrides" validate:"min=1,dive"`
	// RankBy selects the metric completed combinations are ranked by,
	// descending. See MetricKeys for the accepted values.
	RankBy string `yaml:"rank_by" json:"rank_by" validate:"required"`
	// Workers caps the worker pool; 0 means one worker per logical CPU.
	Workers int `yaml:"workers" json:"workers" validate:"gte=0"`
}

// Combination is one point of the cartesian grid, keyed path → value.
type Combination struct {
	Index  int                `yaml:"index" json:"index"`
	Params map[string]float64 `yaml:"params" json:"params"`
}

// ComboResult is one completed combination with its full run result.
type ComboResult struct {
	Combination Combination        `yaml:"combination" json:"combination"`
	Run         *types.BacktestRun `yaml:"run" json:"run"`
	// Score is the RankBy metric's value, kept alongside so rankings stay
	// inspectable without re-deriving the metric.
	Score float64 `yaml:"score" json:"score"`
}

// ComboFailure is one combination whose run failed. The sweep carries on;
// failures never abort the batch.
type ComboFailure struct {
	Combination Combination `yaml:"combination" json:"combination"`
	Error       string      `yaml:"error" json:"error"`
}

// Result is the outcome of one sweep batch.
type Result struct {
	// Total is the full grid size, the product of all override value counts.
	Total int `yaml:"total" json:"total"`
	// Ranked holds completed combinations, best score first.
	Ranked   []ComboResult  `yaml:"ranked" json:"ranked"`
	Failures []ComboFailure `yaml:"failures" json:"failures"`
	RankBy   string         `yaml:"rank_by" json:"rank_by"`
	// Interrupted is set when cancellation stopped the batch early; Ranked
	// and Failures then cover only the combinations already finished.
	Interrupted bool `yaml:"interrupted" json:"interrupted"`
}

// metricKeys maps RankBy values onto the metrics document.
var metricKeys = map[string]func(*types.Metrics) float64{
	"net_profit":       func(m *types.Metrics) float64 { return m.NetProfit },
	"profit_factor":    func(m *types.Metrics) float64 { return m.ProfitFactor },
	"win_rate":         func(m *types.Metrics) float64 { return m.WinRate },
	"expectancy":       func(m *types.Metrics) float64 { return m.Expectancy },
	"sharpe":           func(m *types.Metrics) float64 { return m.Sharpe },
	"sortino":          func(m *types.Metrics) float64 { return m.Sortino },
	"calmar":           func(m *types.Metrics) float64 { return m.Calmar },
	"recovery_factor":  func(m *types.Metrics) float64 { return m.RecoveryFactor },
	"cagr":             func(m *types.Metrics) float64 { return m.CAGR },
	"max_drawdown_pct": func(m *types.Metrics) float64 { return -m.MaxDrawdownPct },
}

// MetricKeys lists the accepted RankBy values. max_drawdown_pct ranks
// ascending (smaller drawdown is better); everything else descending.
func MetricKeys() []string {
	keys := make([]string, 0, len(metricKeys))
	for k := range metricKeys {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// Runner sweeps one base playbook over a shared immutable snapshot slice.
type Runner struct {
	config   Config
	base     *types.Playbook
	params   types.RunParams
	snapshot []types.Snapshot
	score    func(*types.Metrics) float64
	logger   *logger.Logger
}

// NewRunner validates the sweep configuration and resolves every override
// path against the base playbook before any run starts, so a typo fails the
// whole batch up front instead of failing every combination.
func NewRunner(config Config, base *types.Playbook, params types.RunParams, snapshots []types.Snapshot, log *logger.Logger) (*Runner, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}

	if err := validator.New().Struct(&config); err != nil {
		return nil, errors.Wrap(errors.ErrCodeSweepConfigError, "invalid sweep config", err)
	}

	score, ok := metricKeys[config.RankBy]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeSweepConfigError,
			"unknown rank_by metric %q, accepted: %s", config.RankBy, strings.Join(MetricKeys(), ", "))
	}

	// Duplicate paths would collide in Combination.Params and silently
	// shrink the grid below the product of the value counts.
	seen := make(map[string]bool, len(config.Overrides))
	for _, ov := range config.Overrides {
		if seen[ov.Path] {
			return nil, errors.Newf(errors.ErrCodeSweepConfigError, "override path %q is declared twice", ov.Path)
		}
		seen[ov.Path] = true

		probe := base.Clone()
		if err := applyOverride(probe, ov.Path, ov.Values[0]); err != nil {
			return nil, err
		}
	}

	return &Runner{
		config:   config,
		base:     base,
		params:   params,
		snapshot: snapshots,
		score:    score,
		logger:   log,
	}, nil
}

// Combinations materializes the full cartesian grid in odometer order: the
// last override varies fastest. The order is deterministic, so combination
// indices are stable across runs.
func (r *Runner) Combinations() []Combination {
	total := 1
	for _, ov := range r.config.Overrides {
		total *= len(ov.Values)
	}

	combos := make([]Combination, 0, total)
	counters := make([]int, len(r.config.Overrides))

	for i := 0; i < total; i++ {
		params := make(map[string]float64, len(r.config.Overrides))
		for j, ov := range r.config.Overrides {
			params[ov.Path] = ov.Values[counters[j]]
		}

		combos = append(combos, Combination{Index: i, Params: params})

		for j := len(counters) - 1; j >= 0; j-- {
			counters[j]++
			if counters[j] < len(r.config.Overrides[j].Values) {
				break
			}

			counters[j] = 0
		}
	}

	return combos
}

// Run executes every combination across the worker pool and returns the
// ranked results. Cancellation is honored between combinations: runs already
// finished are ranked and returned with Interrupted set instead of being
// discarded.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	combos := r.Combinations()

	workers := r.config.Workers
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	if workers > len(combos) {
		workers = len(combos)
	}

	type outcome struct {
		combo Combination
		run   *types.BacktestRun
		err   error
	}

	jobs := make(chan Combination)
	outcomes := make(chan outcome, len(combos))

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case combo, ok := <-jobs:
					if !ok {
						return
					}

					run, err := r.runOne(ctx, combo)
					outcomes <- outcome{combo: combo, run: run, err: err}
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, combo := range combos {
			select {
			case <-ctx.Done():
				return
			case jobs <- combo:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	result := &Result{
		Total:  len(combos),
		RankBy: r.config.RankBy,
	}

	completed := 0
	for o := range outcomes {
		completed++
		if o.err != nil {
			result.Failures = append(result.Failures, ComboFailure{
				Combination: o.combo,
				Error:       o.err.Error(),
			})

			r.logger.Warn("sweep combination failed",
				zap.Int("combination", o.combo.Index),
				zap.Error(o.err))

			continue
		}

		result.Ranked = append(result.Ranked, ComboResult{
			Combination: o.combo,
			Run:         o.run,
			Score:       r.score(&o.run.Metrics),
		})
	}

	result.Interrupted = completed < len(combos)

	// Ties break on combination index so rankings are reproducible.
	sort.SliceStable(result.Ranked, func(i, j int) bool {
		if result.Ranked[i].Score != result.Ranked[j].Score {
			return result.Ranked[i].Score > result.Ranked[j].Score
		}

		return result.Ranked[i].Combination.Index < result.Ranked[j].Combination.Index
	})

	r.logger.Info("sweep finished",
		zap.Int("total", result.Total),
		zap.Int("completed", len(result.Ranked)),
		zap.Int("failed", len(result.Failures)),
		zap.Bool("interrupted", result.Interrupted))

	return result, nil
}

// runOne clones the base playbook, applies the combination's overrides and
// replays it over a fresh feed view of the shared snapshots. Nothing mutable
// is shared with other combinations.
func (r *Runner) runOne(ctx context.Context, combo Combination) (*types.BacktestRun, error) {
	pb := r.base.Clone()

	// Apply in override declaration order, not map order, for determinism.
	for _, ov := range r.config.Overrides {
		if err := applyOverride(pb, ov.Path, combo.Params[ov.Path]); err != nil {
			return nil, err
		}
	}

	sim, err := backtest.NewSimulator(pb, r.logger)
	if err != nil {
		return nil, err
	}

	return sim.Run(ctx, r.params, feed.NewSliceFeed(r.snapshot), optional.None[backtest.ProgressCallback]())
}

// applyOverride writes value at the dotted path inside the playbook clone.
func applyOverride(pb *types.Playbook, path string, value float64) error {
	parts := strings.Split(path, ".")

	switch {
	case len(parts) == 3 && parts[0] == "variables" && parts[2] == "default":
		spec, ok := pb.Variable(parts[1])
		if !ok {
			return errors.Newf(errors.ErrCodeInvalidOverridePath,
				"override %q addresses undeclared variable %q", path, parts[1])
		}

		spec.Default = value

		return nil

	case len(parts) == 2 && parts[0] == "risk":
		switch parts[1] {
		case "max_lot":
			pb.Risk.MaxLot = value
		case "max_daily_trades":
			pb.Risk.MaxDailyTrades = int(value)
		case "max_drawdown_pct":
			if value < 0 || value > 100 {
				return errors.Newf(errors.ErrCodeInvalidOverridePath,
					"override %q value %v is outside 0..100", path, value)
			}

			pb.Risk.MaxDrawdownPct = value
		case "max_open_positions":
			pb.Risk.MaxOpenPositions = int(value)
		default:
			return errors.Newf(errors.ErrCodeInvalidOverridePath,
				"override %q addresses unknown risk field %q", path, parts[1])
		}

		return nil

	case len(parts) == 4 && parts[0] == "indicators" && parts[2] == "params":
		spec, ok := pb.Indicator(parts[1])
		if !ok {
			return errors.Newf(errors.ErrCodeInvalidOverridePath,
				"override %q addresses undeclared indicator %q", path, parts[1])
		}

		if spec.Params == nil {
			spec.Params = map[string]float64{}
		}

		spec.Params[parts[3]] = value

		return nil

	default:
		return errors.Newf(errors.ErrCodeInvalidOverridePath,
			"override path %q is not addressable; use variables.<name>.default, risk.<field> or indicators.<id>.params.<key>", path)
	}
}
