package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v2"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/rxtech-lab/argo-playbook/internal/backtest"
	"github.com/rxtech-lab/argo-playbook/internal/feed"
	"github.com/rxtech-lab/argo-playbook/internal/logger"
	"github.com/rxtech-lab/argo-playbook/internal/montecarlo"
	"github.com/rxtech-lab/argo-playbook/internal/sweep"
	"github.com/rxtech-lab/argo-playbook/internal/types"
)

// SweepFileConfig is the yaml document driving one sweep batch: the grid and
// ranking, plus an optional Monte Carlo pass over the best combination.
type SweepFileConfig struct {
	Sweep      sweep.Config `yaml:"sweep"`
	MonteCarlo struct {
		// Iterations 0 skips the Monte Carlo pass.
		Iterations int   `yaml:"iterations"`
		Seed       int64 `yaml:"seed"`
	} `yaml:"montecarlo"`
}

// SweepSummary is what gets written to sweep.yaml: the ranking with each
// combination's parameter values and metrics, plus the Monte Carlo bands for
// the best combination when requested.
type SweepSummary struct {
	PlaybookID  string               `yaml:"playbook_id"`
	RankBy      string               `yaml:"rank_by"`
	Total       int                  `yaml:"total"`
	Interrupted bool                 `yaml:"interrupted"`
	Ranked      []RankedEntry        `yaml:"ranked"`
	Failures    []sweep.ComboFailure `yaml:"failures,omitempty"`
	MonteCarlo  *montecarlo.Result   `yaml:"montecarlo,omitempty"`
}

// RankedEntry is one completed combination without the full trade list.
type RankedEntry struct {
	Index   int                `yaml:"index"`
	Params  map[string]float64 `yaml:"params"`
	Score   float64            `yaml:"score"`
	Trades  int                `yaml:"trades"`
	Metrics types.Metrics      `yaml:"metrics"`
}

func sweepAction(ctx context.Context, cmd *cli.Command) error {
	engineConfigPath := cmd.String("config")
	sweepConfigPath := cmd.String("sweep-config")
	playbookPath := cmd.String("playbook")
	dataPath := cmd.String("data")
	outputPath := cmd.String("output")
	interactive := cmd.Bool("interactive")

	logg, err := logger.NewLogger()
	if err != nil {
		return err
	}

	var engineConfig backtest.EngineConfig
	engineConfigBytes, err := os.ReadFile(engineConfigPath)
	if err != nil {
		return fmt.Errorf("failed to read engine config: %w", err)
	}
	if err := yaml.Unmarshal(engineConfigBytes, &engineConfig); err != nil {
		return fmt.Errorf("failed to parse engine config: %w", err)
	}

	var sweepConfig SweepFileConfig
	sweepConfigBytes, err := os.ReadFile(sweepConfigPath)
	if err != nil {
		return fmt.Errorf("failed to read sweep config: %w", err)
	}
	if err := yamlv3.Unmarshal(sweepConfigBytes, &sweepConfig); err != nil {
		return fmt.Errorf("failed to parse sweep config: %w", err)
	}

	pb, err := types.ParsePlaybookFile(playbookPath)
	if err != nil {
		return fmt.Errorf("failed to load playbook: %w", err)
	}

	snapshots, err := loadSnapshots(dataPath, engineConfig, logg)
	if err != nil {
		return fmt.Errorf("failed to load bar data: %w", err)
	}

	runner, err := sweep.NewRunner(sweepConfig.Sweep, pb, engineConfig.RunParams(len(snapshots)), snapshots, logg)
	if err != nil {
		return err
	}

	log.Printf("Sweeping %s over %d combinations (%d bars)...",
		pb.ID, len(runner.Combinations()), len(snapshots))

	result, err := runner.Run(ctx)
	if err != nil {
		return err
	}

	summary := buildSummary(pb.ID, result)

	// Monte Carlo runs on the best completed combination's trade sequence.
	if sweepConfig.MonteCarlo.Iterations > 0 && len(result.Ranked) > 0 {
		resampler, err := montecarlo.NewResampler(montecarlo.Config{
			Iterations:      sweepConfig.MonteCarlo.Iterations,
			Seed:            sweepConfig.MonteCarlo.Seed,
			StartingBalance: engineConfig.StartingBalance,
		}, logg)
		if err != nil {
			return err
		}

		best := result.Ranked[0]
		if len(best.Run.Trades) > 0 {
			mc, err := resampler.Run(ctx, best.Run.Trades)
			if err != nil {
				return err
			}

			summary.MonteCarlo = mc
		}
	}

	if err := writeSummary(outputPath, summary); err != nil {
		return err
	}

	log.Printf("Sweep complete: %d ranked, %d failed, results at %s",
		len(result.Ranked), len(result.Failures), outputPath)

	if interactive {
		program := tea.NewProgram(NewModel(summary), tea.WithAltScreen())
		if _, err := program.Run(); err != nil {
			return fmt.Errorf("results browser failed: %w", err)
		}
	}

	return nil
}

// loadSnapshots materializes the bar database into memory, applying the
// engine config's optional time window, so sweep workers can share one
// immutable slice.
func loadSnapshots(dataPath string, config backtest.EngineConfig, logg *logger.Logger) ([]types.Snapshot, error) {
	absPath, err := filepath.Abs(dataPath)
	if err != nil {
		return nil, err
	}

	dataFeed, err := feed.NewDuckDBFeed(":memory:", logg)
	if err != nil {
		return nil, err
	}
	defer dataFeed.Close()

	if err := dataFeed.Initialize(absPath); err != nil {
		return nil, err
	}

	var snapshots []types.Snapshot
	for snapshot, err := range dataFeed.ReadAll() {
		if err != nil {
			return nil, err
		}
		if config.StartTime.IsSome() && snapshot.Bar.Time.Before(config.StartTime.Unwrap()) {
			continue
		}
		if config.EndTime.IsSome() && snapshot.Bar.Time.After(config.EndTime.Unwrap()) {
			break
		}
		snapshots = append(snapshots, snapshot)
	}

	return snapshots, nil
}

func buildSummary(playbookID string, result *sweep.Result) *SweepSummary {
	summary := &SweepSummary{
		PlaybookID:  playbookID,
		RankBy:      result.RankBy,
		Total:       result.Total,
		Interrupted: result.Interrupted,
		Failures:    result.Failures,
	}

	for _, entry := range result.Ranked {
		summary.Ranked = append(summary.Ranked, RankedEntry{
			Index:   entry.Combination.Index,
			Params:  entry.Combination.Params,
			Score:   entry.Score,
			Trades:  len(entry.Run.Trades),
			Metrics: entry.Run.Metrics,
		})
	}

	return summary
}

func writeSummary(path string, summary *SweepSummary) error {
	data, err := yamlv3.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal sweep summary: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write sweep summary: %w", err)
	}

	return nil
}

func main() {
	cmd := &cli.Command{
		Name:  "sweep",
		Usage: "Evaluate a playbook across a grid of parameter overrides",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "config",
				Aliases:  []string{"c"},
				Usage:    "Path to the engine config yaml",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "sweep-config",
				Aliases:  []string{"s"},
				Usage:    "Path to the sweep config yaml (overrides, rank_by, montecarlo)",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "playbook",
				Aliases:  []string{"p"},
				Usage:    "Path to the base playbook yaml document",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "data",
				Aliases:  []string{"d"},
				Usage:    "Path to the bar data file (parquet or csv)",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "output",
				Aliases:  []string{"o"},
				Usage:    "Path of the sweep summary yaml",
				Value:    "sweep.yaml",
				Required: false,
			},
			&cli.BoolFlag{
				Name:    "interactive",
				Aliases: []string{"i"},
				Usage:   "Browse the ranked results in a terminal UI after the sweep",
			},
		},
		Action: sweepAction,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nReceived interrupt signal, stopping...")
		cancel()
	}()

	if err := cmd.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
