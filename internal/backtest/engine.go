package backtest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-playbook/internal/feed"
	"github.com/rxtech-lab/argo-playbook/internal/logger"
	"github.com/rxtech-lab/argo-playbook/internal/types"
	"github.com/rxtech-lab/argo-playbook/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

// Engine runs one playbook over one bar database and writes a results
// folder: stats.yaml, run.db and the parquet exports.
type Engine struct {
	config        EngineConfig
	playbook      *types.Playbook
	playbookPath  string
	dataPath      string
	resultsFolder string
	log           *logger.Logger
}

func NewEngine() *Engine {
	return &Engine{}
}

// Initialize parses the engine configuration and sets up logging.
func (e *Engine) Initialize(config string) error {
	// parse the config
	err := yaml.Unmarshal([]byte(config), &e.config)
	if err != nil {
		return errors.Wrap(errors.ErrCodeBacktestConfigError, "failed to parse engine config", err)
	}

	// initialize the logger
	var loggerError error
	e.log, loggerError = logger.NewLogger()
	if loggerError != nil {
		return loggerError
	}

	e.log.Debug("Backtest engine initialized",
		zap.String("config", config),
	)
	return nil
}

// LoadPlaybook reads, parses and stores the playbook document at path.
func (e *Engine) LoadPlaybook(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		e.log.Error("Failed to resolve playbook path",
			zap.String("path", path),
			zap.Error(err),
		)
		return err
	}

	pb, err := types.ParsePlaybookFile(absPath)
	if err != nil {
		e.log.Error("Failed to load playbook",
			zap.String("path", absPath),
			zap.Error(err),
		)
		return err
	}

	e.playbook = pb
	e.playbookPath = absPath
	e.log.Debug("Playbook loaded",
		zap.String("id", pb.ID),
		zap.String("path", absPath),
	)
	return nil
}

// SetDataPath points the engine at a parquet or csv bar file.
func (e *Engine) SetDataPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		e.log.Error("Failed to resolve data path",
			zap.String("path", path),
			zap.Error(err),
		)
		return err
	}

	e.dataPath = absPath
	e.log.Debug("Data path set",
		zap.String("path", absPath),
	)
	return nil
}

func (e *Engine) SetResultsFolder(folder string) error {
	e.resultsFolder = folder
	e.log.Debug("Results folder set",
		zap.String("folder", folder),
	)
	return nil
}

func (e *Engine) preRunCheck() error {
	if e.playbook == nil {
		e.log.Error("No playbook loaded")
		return errors.New(errors.ErrCodePlaybookNotLoaded, "no playbook loaded")
	}

	if e.dataPath == "" {
		e.log.Error("No data path set")
		return errors.New(errors.ErrCodeBacktestNoFeed, "no data path set")
	}

	if e.resultsFolder == "" {
		e.log.Error("No results folder set")
		return errors.New(errors.ErrCodeBacktestNoResultsDir, "no results folder set")
	}
	return nil
}

// Run executes the playbook over the configured data and writes the
// results folder. It returns the summary written to stats.yaml.
func (e *Engine) Run(ctx context.Context) (*types.RunSummary, error) {
	if err := e.preRunCheck(); err != nil {
		return nil, err
	}

	resultFolderPath := filepath.Join(e.resultsFolder,
		fmt.Sprintf("%s_%s", e.playbook.ID, filepath.Base(e.dataPath)))
	e.log.Debug("Running playbook",
		zap.String("playbook", e.playbook.ID),
		zap.String("data", e.dataPath),
		zap.String("result", resultFolderPath),
	)

	// load the bars into an in-memory database
	dataFeed, err := feed.NewDuckDBFeed(":memory:", e.log)
	if err != nil {
		e.log.Error("Failed to create data feed",
			zap.String("data", e.dataPath),
			zap.Error(err),
		)
		return nil, err
	}
	defer dataFeed.Close()

	if err := dataFeed.Initialize(e.dataPath); err != nil {
		e.log.Error("Failed to initialize data feed",
			zap.String("data", e.dataPath),
			zap.Error(err),
		)
		return nil, err
	}

	runFeed, count, err := e.windowFeed(dataFeed)
	if err != nil {
		e.log.Error("Failed to read data feed",
			zap.String("data", e.dataPath),
			zap.Error(err),
		)
		return nil, err
	}

	sim, err := NewSimulator(e.playbook, e.log)
	if err != nil {
		return nil, err
	}

	bar := progressbar.Default(int64(count))
	bar.Describe(fmt.Sprintf("Backtesting %s on %s", e.playbook.ID, filepath.Base(e.dataPath)))
	onProgress := optional.Some[ProgressCallback](func(current, total int) {
		bar.Add(1)
	})

	run, err := sim.Run(ctx, e.config.RunParams(count), runFeed, onProgress)
	if err != nil {
		e.log.Error("Backtest run failed",
			zap.String("playbook", e.playbook.ID),
			zap.Error(err),
		)
		return nil, err
	}

	return e.writeResults(resultFolderPath, run)
}

// windowFeed applies the configured start/end bounds. Without bounds the
// duckdb feed is used directly; with bounds the matching snapshots are
// materialized into a slice feed.
func (e *Engine) windowFeed(f feed.Feed) (feed.Feed, int, error) {
	count, err := f.Count()
	if err != nil {
		return nil, 0, err
	}
	if e.config.StartTime.IsNone() && e.config.EndTime.IsNone() {
		return f, count, nil
	}

	var kept []types.Snapshot
	for snapshot, err := range f.ReadAll() {
		if err != nil {
			return nil, 0, err
		}
		if e.config.StartTime.IsSome() && snapshot.Bar.Time.Before(e.config.StartTime.Unwrap()) {
			continue
		}
		if e.config.EndTime.IsSome() && snapshot.Bar.Time.After(e.config.EndTime.Unwrap()) {
			break
		}
		kept = append(kept, snapshot)
	}
	return feed.NewSliceFeed(kept), len(kept), nil
}

func (e *Engine) writeResults(resultFolderPath string, run *types.BacktestRun) (*types.RunSummary, error) {
	if err := os.MkdirAll(resultFolderPath, 0755); err != nil {
		return nil, errors.Wrap(errors.ErrCodeRunStoreFailed, "failed to create results folder", err)
	}

	dbPath := filepath.Join(resultFolderPath, "run.db")
	store, err := NewRunStore(dbPath, e.log)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	if err := store.Initialize(); err != nil {
		return nil, err
	}
	if err := store.Save(run); err != nil {
		return nil, err
	}
	if err := store.Write(resultFolderPath); err != nil {
		return nil, err
	}

	summary := types.RunSummary{
		ID:             run.ID,
		Timestamp:      run.FinishedAt,
		PlaybookID:     run.PlaybookID,
		PlaybookPath:   e.playbookPath,
		DataPath:       e.dataPath,
		Params:         run.Params,
		Status:         run.Status,
		Error:          run.Error,
		Metrics:        run.Metrics,
		TradesFilePath: filepath.Join(resultFolderPath, "trades.parquet"),
		EquityFilePath: filepath.Join(resultFolderPath, "equity.parquet"),
		DatabasePath:   dbPath,
	}
	statsPath := filepath.Join(resultFolderPath, "stats.yaml")
	if err := types.WriteRunSummaries(statsPath, []types.RunSummary{summary}); err != nil {
		return nil, err
	}

	e.log.Info("Backtest results written",
		zap.String("folder", resultFolderPath),
		zap.String("stats", statsPath),
	)
	return &summary, nil
}
