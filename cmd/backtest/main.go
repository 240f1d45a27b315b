package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/rxtech-lab/argo-playbook/internal/backtest"
	"github.com/urfave/cli/v3"
)

// runAction loads the engine config, playbook and bar data, runs the
// backtest and writes the results folder.
func runAction(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")
	playbookPath := cmd.String("playbook")
	dataPath := cmd.String("data")
	outputPath := cmd.String("output")

	config, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	engine := backtest.NewEngine()
	if err := engine.Initialize(string(config)); err != nil {
		return fmt.Errorf("failed to initialize backtest engine: %w", err)
	}

	if err := engine.LoadPlaybook(playbookPath); err != nil {
		return fmt.Errorf("failed to load playbook: %w", err)
	}

	if err := engine.SetDataPath(dataPath); err != nil {
		return fmt.Errorf("failed to set data path: %w", err)
	}

	if err := engine.SetResultsFolder(outputPath); err != nil {
		return fmt.Errorf("failed to set results folder: %w", err)
	}

	summary, err := engine.Run(ctx)
	if err != nil {
		return fmt.Errorf("backtest failed: %w", err)
	}

	log.Printf("Backtest %s complete: %d trades, net profit %.2f, stats at %s",
		summary.ID, summary.Metrics.TotalTrades, summary.Metrics.NetProfit, summary.DatabasePath)
	return nil
}

// schemaAction prints the engine config JSON schema so editors can validate
// config files.
func schemaAction(ctx context.Context, cmd *cli.Command) error {
	config := backtest.EmptyConfig()

	schemaJSON, err := config.GenerateSchemaJSON()
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	fmt.Println(schemaJSON)
	return nil
}

func main() {
	cmd := &cli.Command{
		Name:  "backtest",
		Usage: "Run a playbook backtest over historical bar data",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Run one playbook over one bar data file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "config",
						Aliases:  []string{"c"},
						Usage:    "Path to the engine config yaml",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "playbook",
						Aliases:  []string{"p"},
						Usage:    "Path to the playbook yaml document",
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
						Usage:    "Folder the results are written into",
						Value:    "results",
						Required: false,
					},
				},
				Action: runAction,
			},
			{
				Name:   "schema",
				Usage:  "Print the engine config JSON schema",
				Action: schemaAction,
			},
		},
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
