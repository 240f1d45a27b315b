// Package montecarlo estimates the distribution of a strategy's outcomes by
// resampling a completed run's trade sequence with replacement.
package montecarlo

import (
	"context"
	"math"
	"math/rand"
	"runtime"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/rxtech-lab/argo-playbook/internal/logger"
	"github.com/rxtech-lab/argo-playbook/internal/types"
	"github.com/rxtech-lab/argo-playbook/pkg/errors"
	"go.uber.org/zap"
)

// RuinThresholds are the drawdown levels, in percent, reported in the
// probability-of-ruin table.
var RuinThresholds = []float64{10, 20, 30, 50}

type Config struct {
	// Iterations is how many resampled orderings to simulate.
	Iterations int `yaml:"iterations" json:"iterations" validate:"gt=0"`
	// Seed derives each iteration's random source, so a batch reproduces
	// exactly regardless of worker scheduling.
	Seed            int64   `yaml:"seed" json:"seed"`
	StartingBalance float64 `yaml:"starting_balance" json:"starting_balance" validate:"gt=0"`
}

// PercentileBand holds the 5th/50th/95th percentiles of one statistic.
type PercentileBand struct {
	P5  float64 `yaml:"p5" json:"p5"`
	P50 float64 `yaml:"p50" json:"p50"`
	P95 float64 `yaml:"p95" json:"p95"`
}

// RuinProbability is the fraction of iterations whose max drawdown exceeded
// the threshold.
type RuinProbability struct {
	ThresholdPct float64 `yaml:"threshold_pct" json:"threshold_pct"`
	Probability  float64 `yaml:"probability" json:"probability"`
}

type Result struct {
	Requested int   `yaml:"requested" json:"requested"`
	Completed int   `yaml:"completed" json:"completed"`
	Seed      int64 `yaml:"seed" json:"seed"`
	// PnL bands describe the final cumulative P&L of each resampled ordering.
	PnL         PercentileBand    `yaml:"pnl" json:"pnl"`
	DrawdownPct PercentileBand    `yaml:"drawdown_pct" json:"drawdown_pct"`
	Ruin        []RuinProbability `yaml:"ruin" json:"ruin"`
	// Interrupted is set when cancellation stopped the batch early; the
	// bands then cover only the completed iterations.
	Interrupted bool `yaml:"interrupted" json:"interrupted"`
}

type outcome struct {
	finalPnL       float64
	maxDrawdownPct float64
}

type Resampler struct {
	config Config
	logger *logger.Logger
}

func NewResampler(config Config, log *logger.Logger) (*Resampler, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if err := validator.New().Struct(&config); err != nil {
		return nil, errors.Wrap(errors.ErrCodeMonteCarloConfigError, "invalid monte carlo config", err)
	}
	return &Resampler{config: config, logger: log}, nil
}

// Run simulates the configured number of resampled trade orderings across
// all available cores. Cancellation is honored between iterations; the
// iterations already finished are kept and the result is marked
// Interrupted instead of being discarded.
func (r *Resampler) Run(ctx context.Context, trades []types.Trade) (*Result, error) {
	if len(trades) == 0 {
		return nil, errors.New(errors.ErrCodeNoTrades, "no trades to resample")
	}

	pnls := make([]float64, len(trades))
	for i, t := range trades {
		pnls[i] = t.PnL
	}

	workers := runtime.GOMAXPROCS(0)
	jobs := make(chan int)
	outcomes := make(chan outcome, r.config.Iterations)

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case i, ok := <-jobs:
					if !ok {
						return
					}
					outcomes <- r.iterate(pnls, i)
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i := 0; i < r.config.Iterations; i++ {
			select {
			case <-ctx.Done():
				return
			case jobs <- i:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	finals := make([]float64, 0, r.config.Iterations)
	drawdowns := make([]float64, 0, r.config.Iterations)
	for o := range outcomes {
		finals = append(finals, o.finalPnL)
		drawdowns = append(drawdowns, o.maxDrawdownPct)
	}

	result := &Result{
		Requested:   r.config.Iterations,
		Completed:   len(finals),
		Seed:        r.config.Seed,
		Interrupted: len(finals) < r.config.Iterations,
		PnL:         band(finals),
		DrawdownPct: band(drawdowns),
		Ruin:        ruinTable(drawdowns),
	}

	r.logger.Debug("monte carlo batch finished",
		zap.Int("requested", result.Requested),
		zap.Int("completed", result.Completed),
		zap.Bool("interrupted", result.Interrupted),
	)
	return result, nil
}

// iterationSeed mixes the batch seed and iteration index through a
// splitmix64 round. A plain seed+iteration sum would make adjacent batch
// seeds share almost all of their per-iteration streams.
func iterationSeed(seed int64, iteration int) int64 {
	z := uint64(seed) + uint64(iteration)*0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb

	return int64(z ^ (z >> 31))
}

// iterate replays one resampled ordering. Each iteration owns its random
// source so results do not depend on which worker picks the job up.
func (r *Resampler) iterate(pnls []float64, iteration int) outcome {
	rng := rand.New(rand.NewSource(iterationSeed(r.config.Seed, iteration)))

	equity := r.config.StartingBalance
	peak := equity
	var maxDD float64

	for range pnls {
		equity += pnls[rng.Intn(len(pnls))]
		if equity > peak {
			peak = equity
		}
		dd := (peak - equity) / peak * 100
		if dd > maxDD {
			maxDD = dd
		}
	}

	return outcome{
		finalPnL:       equity - r.config.StartingBalance,
		maxDrawdownPct: maxDD,
	}
}

func band(values []float64) PercentileBand {
	if len(values) == 0 {
		return PercentileBand{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	return PercentileBand{
		P5:  percentile(sorted, 5),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
	}
}

// percentile interpolates linearly between the closest ranks of an already
// sorted slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(rank-float64(lo))
}

func ruinTable(drawdowns []float64) []RuinProbability {
	table := make([]RuinProbability, 0, len(RuinThresholds))
	for _, threshold := range RuinThresholds {
		var exceeded int
		for _, dd := range drawdowns {
			if dd > threshold {
				exceeded++
			}
		}

		probability := 0.0
		if len(drawdowns) > 0 {
			probability = float64(exceeded) / float64(len(drawdowns))
		}
		table = append(table, RuinProbability{ThresholdPct: threshold, Probability: probability})
	}
	return table
}
