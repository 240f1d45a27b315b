package backtest

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-playbook/internal/logger"
	"github.com/rxtech-lab/argo-playbook/internal/types"
	"github.com/rxtech-lab/argo-playbook/pkg/errors"
	"go.uber.org/zap"
)

// RunStore persists completed BacktestRun documents in DuckDB. A run is
// written once and never updated; Delete is the only mutation after Save.
type RunStore struct {
	db     *sql.DB
	logger *logger.Logger
	sq     sq.StatementBuilderType
}

// NewRunStore opens (or creates) a run database at dbPath. Use ":memory:"
// for an ephemeral store.
func NewRunStore(dbPath string, log *logger.Logger) (*RunStore, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeRunStoreFailed, "failed to open run database", err)
	}
	return &RunStore{
		db:     db,
		logger: log,
		sq:     sq.StatementBuilder.PlaceholderFormat(sq.Question),
	}, nil
}

// Initialize creates the run tables if they do not exist.
func (s *RunStore) Initialize() error {
	// Use raw SQL for table creation - Squirrel doesn't support DDL
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id VARCHAR PRIMARY KEY,
			playbook_id VARCHAR,
			symbol VARCHAR,
			timeframe VARCHAR,
			bar_count INTEGER,
			spread DOUBLE,
			point_value DOUBLE,
			starting_balance DOUBLE,
			status VARCHAR,
			error VARCHAR,
			started_at TIMESTAMP,
			finished_at TIMESTAMP,
			metrics VARCHAR
		);
		CREATE TABLE IF NOT EXISTS trades (
			run_id VARCHAR,
			ticket VARCHAR,
			symbol VARCHAR,
			direction VARCHAR,
			open_bar INTEGER,
			close_bar INTEGER,
			open_time TIMESTAMP,
			close_time TIMESTAMP,
			entry_price DOUBLE,
			close_price DOUBLE,
			lot DOUBLE,
			stop_loss DOUBLE,
			take_profit DOUBLE,
			pnl DOUBLE,
			pnl_points DOUBLE,
			rr_achieved DOUBLE,
			outcome VARCHAR,
			exit_reason VARCHAR,
			entry_phase VARCHAR,
			entry_vars VARCHAR,
			entry_indicators VARCHAR
		);
		CREATE TABLE IF NOT EXISTS equity (
			run_id VARCHAR,
			bar INTEGER,
			ts TIMESTAMP,
			equity DOUBLE,
			drawdown_pct DOUBLE
		);
		CREATE TABLE IF NOT EXISTS events (
			run_id VARCHAR,
			bar INTEGER,
			ts TIMESTAMP,
			rule VARCHAR,
			action VARCHAR,
			detail VARCHAR
		);
		CREATE TABLE IF NOT EXISTS diagnostics (
			run_id VARCHAR,
			bar INTEGER,
			ts TIMESTAMP,
			phase VARCHAR,
			scope VARCHAR,
			code INTEGER,
			message VARCHAR
		);
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeRunStoreFailed, "failed to create run tables", err)
	}
	return nil
}

// Save writes a run and all its child rows in one transaction. A run with
// an empty ID is assigned one. Saving an ID twice fails: stored runs are
// immutable.
func (s *RunStore) Save(run *types.BacktestRun) error {
	if run == nil {
		return errors.New(errors.ErrCodeRunStoreFailed, "cannot save nil run")
	}
	if run.ID == "" {
		run.ID = uuid.New().String()
	}

	metricsJSON, err := json.Marshal(run.Metrics)
	if err != nil {
		return errors.Wrap(errors.ErrCodeRunStoreFailed, "failed to encode metrics", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(errors.ErrCodeRunStoreFailed, "failed to begin transaction", err)
	}

	_, err = s.sq.Insert("runs").
		Columns("id", "playbook_id", "symbol", "timeframe", "bar_count", "spread",
			"point_value", "starting_balance", "status", "error", "started_at",
			"finished_at", "metrics").
		Values(run.ID, run.PlaybookID, run.Params.Symbol, string(run.Params.Timeframe),
			run.Params.BarCount, run.Params.Spread, run.Params.PointValue,
			run.Params.StartingBalance, string(run.Status), run.Error,
			run.StartedAt, run.FinishedAt, string(metricsJSON)).
		RunWith(tx).
		Exec()
	if err != nil {
		tx.Rollback()
		return errors.Wrapf(errors.ErrCodeRunStoreFailed, err, "failed to insert run %s", run.ID)
	}

	for _, t := range run.Trades {
		entryVars, err := json.Marshal(t.EntryVars)
		if err != nil {
			tx.Rollback()
			return errors.Wrap(errors.ErrCodeRunStoreFailed, "failed to encode entry vars", err)
		}
		entryInds, err := json.Marshal(t.EntryIndicators)
		if err != nil {
			tx.Rollback()
			return errors.Wrap(errors.ErrCodeRunStoreFailed, "failed to encode entry indicators", err)
		}
		_, err = s.sq.Insert("trades").
			Columns("run_id", "ticket", "symbol", "direction", "open_bar", "close_bar",
				"open_time", "close_time", "entry_price", "close_price", "lot",
				"stop_loss", "take_profit", "pnl", "pnl_points", "rr_achieved",
				"outcome", "exit_reason", "entry_phase", "entry_vars", "entry_indicators").
			Values(run.ID, t.Ticket, t.Symbol, string(t.Direction), t.OpenBar, t.CloseBar,
				t.OpenTime, t.CloseTime, t.EntryPrice, t.ClosePrice, t.Lot,
				nullableFloat(t.StopLoss), nullableFloat(t.TakeProfit), t.PnL,
				t.PnLPoints, t.RRAchieved, string(t.Outcome), string(t.ExitReason),
				t.EntryPhase, string(entryVars), string(entryInds)).
			RunWith(tx).
			Exec()
		if err != nil {
			tx.Rollback()
			return errors.Wrapf(errors.ErrCodeRunStoreFailed, err, "failed to insert trade %s", t.Ticket)
		}
	}

	for _, p := range run.Equity {
		_, err = s.sq.Insert("equity").
			Columns("run_id", "bar", "ts", "equity", "drawdown_pct").
			Values(run.ID, p.Bar, p.Time, p.Equity, p.DrawdownPct).
			RunWith(tx).
			Exec()
		if err != nil {
			tx.Rollback()
			return errors.Wrap(errors.ErrCodeRunStoreFailed, "failed to insert equity point", err)
		}
	}

	for _, e := range run.Events {
		_, err = s.sq.Insert("events").
			Columns("run_id", "bar", "ts", "rule", "action", "detail").
			Values(run.ID, e.Bar, e.Time, e.Rule, string(e.Action), e.Detail).
			RunWith(tx).
			Exec()
		if err != nil {
			tx.Rollback()
			return errors.Wrap(errors.ErrCodeRunStoreFailed, "failed to insert management event", err)
		}
	}

	for _, d := range run.Diagnostics {
		_, err = s.sq.Insert("diagnostics").
			Columns("run_id", "bar", "ts", "phase", "scope", "code", "message").
			Values(run.ID, d.Bar, d.Time, d.Phase, string(d.Scope), int(d.Code), d.Message).
			RunWith(tx).
			Exec()
		if err != nil {
			tx.Rollback()
			return errors.Wrap(errors.ErrCodeRunStoreFailed, "failed to insert diagnostic", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrCodeRunStoreFailed, "failed to commit run", err)
	}

	s.logger.Debug("run saved",
		zap.String("run_id", run.ID),
		zap.Int("trades", len(run.Trades)),
		zap.Int("equity_points", len(run.Equity)),
	)
	return nil
}

// Get loads a run and all its child rows by ID.
func (s *RunStore) Get(id string) (*types.BacktestRun, error) {
	row := s.sq.Select("id", "playbook_id", "symbol", "timeframe", "bar_count",
		"spread", "point_value", "starting_balance", "status", "error",
		"started_at", "finished_at", "metrics").
		From("runs").
		Where(sq.Eq{"id": id}).
		RunWith(s.db).
		QueryRow()

	run, err := scanRun(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.Newf(errors.ErrCodeRunNotFound, "run %s not found", id)
		}
		return nil, errors.Wrap(errors.ErrCodeRunStoreFailed, "failed to read run", err)
	}

	if run.Trades, err = s.loadTrades(id); err != nil {
		return nil, err
	}
	if run.Equity, err = s.loadEquity(id); err != nil {
		return nil, err
	}
	if run.Events, err = s.loadEvents(id); err != nil {
		return nil, err
	}
	if run.Diagnostics, err = s.loadDiagnostics(id); err != nil {
		return nil, err
	}
	return run, nil
}

// List returns run headers ordered newest first. Child rows are not loaded;
// use Get for the full document.
func (s *RunStore) List() ([]types.BacktestRun, error) {
	rows, err := s.sq.Select("id", "playbook_id", "symbol", "timeframe", "bar_count",
		"spread", "point_value", "starting_balance", "status", "error",
		"started_at", "finished_at", "metrics").
		From("runs").
		OrderBy("started_at DESC").
		RunWith(s.db).
		Query()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeRunStoreFailed, "failed to list runs", err)
	}
	defer rows.Close()

	var runs []types.BacktestRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeRunStoreFailed, "failed to scan run", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeRunStoreFailed, "error iterating runs", err)
	}
	return runs, nil
}

// Delete removes a run and all its child rows.
func (s *RunStore) Delete(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(errors.ErrCodeRunStoreFailed, "failed to begin transaction", err)
	}

	res, err := s.sq.Delete("runs").Where(sq.Eq{"id": id}).RunWith(tx).Exec()
	if err != nil {
		tx.Rollback()
		return errors.Wrapf(errors.ErrCodeRunStoreFailed, err, "failed to delete run %s", id)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return errors.Wrap(errors.ErrCodeRunStoreFailed, "failed to read delete result", err)
	}
	if affected == 0 {
		tx.Rollback()
		return errors.Newf(errors.ErrCodeRunNotFound, "run %s not found", id)
	}

	for _, table := range []string{"trades", "equity", "events", "diagnostics"} {
		if _, err := s.sq.Delete(table).Where(sq.Eq{"run_id": id}).RunWith(tx).Exec(); err != nil {
			tx.Rollback()
			return errors.Wrapf(errors.ErrCodeRunStoreFailed, err, "failed to delete %s of run %s", table, id)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrCodeRunStoreFailed, "failed to commit delete", err)
	}
	s.logger.Debug("run deleted", zap.String("run_id", id))
	return nil
}

// Write exports the trades and equity tables to Parquet files in the given
// directory.
func (s *RunStore) Write(path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return errors.Wrap(errors.ErrCodeRunStoreFailed, "failed to create results directory", err)
	}

	// COPY has no Squirrel equivalent; raw SQL with the path inlined
	tradesPath := filepath.Join(path, "trades.parquet")
	if _, err := s.db.Exec(fmt.Sprintf(`COPY trades TO '%s' (FORMAT PARQUET)`, tradesPath)); err != nil {
		return errors.Wrap(errors.ErrCodeRunStoreFailed, "failed to export trades to Parquet", err)
	}

	equityPath := filepath.Join(path, "equity.parquet")
	if _, err := s.db.Exec(fmt.Sprintf(`COPY equity TO '%s' (FORMAT PARQUET)`, equityPath)); err != nil {
		return errors.Wrap(errors.ErrCodeRunStoreFailed, "failed to export equity to Parquet", err)
	}

	s.logger.Info("exported run results to Parquet files",
		zap.String("trades", tradesPath),
		zap.String("equity", equityPath),
	)
	return nil
}

// Cleanup drops all run tables and recreates them empty.
func (s *RunStore) Cleanup() error {
	// Raw SQL: Squirrel has no DROP syntax
	_, err := s.db.Exec(`
		DROP TABLE IF EXISTS diagnostics;
		DROP TABLE IF EXISTS events;
		DROP TABLE IF EXISTS equity;
		DROP TABLE IF EXISTS trades;
		DROP TABLE IF EXISTS runs;
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeRunStoreFailed, "failed to drop run tables", err)
	}
	return s.Initialize()
}

// Close closes the underlying database.
func (s *RunStore) Close() error {
	return s.db.Close()
}

func (s *RunStore) loadTrades(runID string) ([]types.Trade, error) {
	rows, err := s.sq.Select("ticket", "symbol", "direction", "open_bar", "close_bar",
		"open_time", "close_time", "entry_price", "close_price", "lot",
		"stop_loss", "take_profit", "pnl", "pnl_points", "rr_achieved",
		"outcome", "exit_reason", "entry_phase", "entry_vars", "entry_indicators").
		From("trades").
		Where(sq.Eq{"run_id": runID}).
		OrderBy("close_bar", "open_bar").
		RunWith(s.db).
		Query()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeRunStoreFailed, "failed to query trades", err)
	}
	defer rows.Close()

	var trades []types.Trade
	for rows.Next() {
		var (
			t                    types.Trade
			direction            string
			stopLoss, takeProfit sql.NullFloat64
			outcome, exitReason  string
			entryVars, entryInds string
		)
		err := rows.Scan(&t.Ticket, &t.Symbol, &direction, &t.OpenBar, &t.CloseBar,
			&t.OpenTime, &t.CloseTime, &t.EntryPrice, &t.ClosePrice, &t.Lot,
			&stopLoss, &takeProfit, &t.PnL, &t.PnLPoints, &t.RRAchieved,
			&outcome, &exitReason, &t.EntryPhase, &entryVars, &entryInds)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeRunStoreFailed, "failed to scan trade", err)
		}
		t.Direction = types.Direction(direction)
		t.Outcome = types.Outcome(outcome)
		t.ExitReason = types.ExitReason(exitReason)
		t.StopLoss = optionalFloat(stopLoss)
		t.TakeProfit = optionalFloat(takeProfit)
		if err := json.Unmarshal([]byte(entryVars), &t.EntryVars); err != nil {
			return nil, errors.Wrap(errors.ErrCodeRunStoreFailed, "failed to decode entry vars", err)
		}
		if err := json.Unmarshal([]byte(entryInds), &t.EntryIndicators); err != nil {
			return nil, errors.Wrap(errors.ErrCodeRunStoreFailed, "failed to decode entry indicators", err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeRunStoreFailed, "error iterating trades", err)
	}
	return trades, nil
}

func (s *RunStore) loadEquity(runID string) ([]types.EquityPoint, error) {
	rows, err := s.sq.Select("bar", "ts", "equity", "drawdown_pct").
		From("equity").
		Where(sq.Eq{"run_id": runID}).
		OrderBy("bar").
		RunWith(s.db).
		Query()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeRunStoreFailed, "failed to query equity", err)
	}
	defer rows.Close()

	var points []types.EquityPoint
	for rows.Next() {
		var p types.EquityPoint
		if err := rows.Scan(&p.Bar, &p.Time, &p.Equity, &p.DrawdownPct); err != nil {
			return nil, errors.Wrap(errors.ErrCodeRunStoreFailed, "failed to scan equity point", err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeRunStoreFailed, "error iterating equity", err)
	}
	return points, nil
}

func (s *RunStore) loadEvents(runID string) ([]types.ManagementEvent, error) {
	rows, err := s.sq.Select("bar", "ts", "rule", "action", "detail").
		From("events").
		Where(sq.Eq{"run_id": runID}).
		OrderBy("bar").
		RunWith(s.db).
		Query()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeRunStoreFailed, "failed to query events", err)
	}
	defer rows.Close()

	var events []types.ManagementEvent
	for rows.Next() {
		var (
			e      types.ManagementEvent
			action string
		)
		if err := rows.Scan(&e.Bar, &e.Time, &e.Rule, &action, &e.Detail); err != nil {
			return nil, errors.Wrap(errors.ErrCodeRunStoreFailed, "failed to scan event", err)
		}
		e.Action = types.ManagementActionType(action)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeRunStoreFailed, "error iterating events", err)
	}
	return events, nil
}

func (s *RunStore) loadDiagnostics(runID string) ([]types.Diagnostic, error) {
	rows, err := s.sq.Select("bar", "ts", "phase", "scope", "code", "message").
		From("diagnostics").
		Where(sq.Eq{"run_id": runID}).
		OrderBy("bar").
		RunWith(s.db).
		Query()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeRunStoreFailed, "failed to query diagnostics", err)
	}
	defer rows.Close()

	var diags []types.Diagnostic
	for rows.Next() {
		var (
			d     types.Diagnostic
			scope string
			code  int
		)
		if err := rows.Scan(&d.Bar, &d.Time, &d.Phase, &scope, &code, &d.Message); err != nil {
			return nil, errors.Wrap(errors.ErrCodeRunStoreFailed, "failed to scan diagnostic", err)
		}
		d.Scope = types.DiagnosticScope(scope)
		d.Code = errors.ErrorCode(code)
		diags = append(diags, d)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeRunStoreFailed, "error iterating diagnostics", err)
	}
	return diags, nil
}

// scanRun works for both *sql.Row and *sql.Rows.
func scanRun(row interface{ Scan(...any) error }) (*types.BacktestRun, error) {
	var (
		run         types.BacktestRun
		timeframe   string
		status      string
		metricsJSON string
	)
	err := row.Scan(&run.ID, &run.PlaybookID, &run.Params.Symbol, &timeframe,
		&run.Params.BarCount, &run.Params.Spread, &run.Params.PointValue,
		&run.Params.StartingBalance, &status, &run.Error,
		&run.StartedAt, &run.FinishedAt, &metricsJSON)
	if err != nil {
		return nil, err
	}
	run.Params.Timeframe = types.Timeframe(timeframe)
	run.Status = types.RunStatus(status)
	if err := json.Unmarshal([]byte(metricsJSON), &run.Metrics); err != nil {
		return nil, fmt.Errorf("failed to decode metrics: %w", err)
	}
	return &run, nil
}

func nullableFloat(v optional.Option[float64]) any {
	if v.IsNone() {
		return nil
	}
	return v.Unwrap()
}

func optionalFloat(v sql.NullFloat64) optional.Option[float64] {
	if !v.Valid {
		return optional.None[float64]()
	}
	return optional.Some(v.Float64)
}
