package types

import (
	"fmt"
	"os"
	"time"

	"github.com/rxtech-lab/argo-playbook/pkg/errors"
	"gopkg.in/yaml.v3"
)

type RunStatus string

const (
	RunStatusPending  RunStatus = "pending"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// EquityPoint is one sample of the equity curve, appended on every trade
// close. DrawdownPct is peak-to-current decline as a percentage of the peak.
type EquityPoint struct {
	Bar         int       `json:"bar" yaml:"bar"`
	Time        time.Time `json:"time" yaml:"time"`
	Equity      float64   `json:"equity" yaml:"equity"`
	DrawdownPct float64   `json:"drawdown_pct" yaml:"drawdown_pct"`
}

// DiagnosticScope says where in phase evaluation a recoverable failure
// occurred.
type DiagnosticScope string

const (
	ScopeCondition  DiagnosticScope = "condition"
	ScopeAction     DiagnosticScope = "action"
	ScopeManagement DiagnosticScope = "management"
	ScopeTimeout    DiagnosticScope = "timeout"
	ScopeRisk       DiagnosticScope = "risk"
)

// Diagnostic is one recovered, non-fatal failure (EvalError or risk-limit
// rejection) recorded so users can audit why an expected trade never opened.
type Diagnostic struct {
	Bar     int              `json:"bar" yaml:"bar"`
	Time    time.Time        `json:"time" yaml:"time"`
	Phase   string           `json:"phase" yaml:"phase"`
	Scope   DiagnosticScope  `json:"scope" yaml:"scope"`
	Code    errors.ErrorCode `json:"code" yaml:"code"`
	Message string           `json:"message" yaml:"message"`
}

// RunParams are the execution parameters of one backtest run.
type RunParams struct {
	Symbol    string    `json:"symbol" yaml:"symbol" validate:"required"`
	Timeframe Timeframe `json:"timeframe" yaml:"timeframe" validate:"required"`
	// BarCount is the number of bars the run requires; fewer available bars
	// fail the run before simulation starts.
	BarCount int `json:"bar_count" yaml:"bar_count" validate:"gt=0"`
	// Spread in price increments; fills pay half on each side.
	Spread float64 `json:"spread" yaml:"spread" validate:"gte=0"`
	// PointValue is account currency per price increment per 1.0 lot.
	PointValue      float64 `json:"point_value" yaml:"point_value" validate:"gt=0"`
	StartingBalance float64 `json:"starting_balance" yaml:"starting_balance" validate:"gt=0"`
}

// BacktestRun is the result document of one simulation. Populated by the
// simulator; never mutated after completion except by deletion from the
// run store.
type BacktestRun struct {
	ID         string    `json:"id" yaml:"id"`
	PlaybookID string    `json:"playbook_id" yaml:"playbook_id"`
	Params     RunParams `json:"params" yaml:"params"`
	Status     RunStatus `json:"status" yaml:"status"`
	// Error is set when Status is failed.
	Error      string    `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at" yaml:"finished_at"`

	Trades      []Trade           `json:"trades" yaml:"trades"`
	Equity      []EquityPoint     `json:"equity" yaml:"equity"`
	Events      []ManagementEvent `json:"events" yaml:"events"`
	Diagnostics []Diagnostic      `json:"diagnostics" yaml:"diagnostics"`
	Metrics     Metrics           `json:"metrics" yaml:"metrics"`
}

// RunSummary is the yaml-serialized stats document written next to the run
// database so results remain inspectable without opening the store.
type RunSummary struct {
	ID           string    `yaml:"id" json:"id"`
	Timestamp    time.Time `yaml:"timestamp" json:"timestamp"`
	PlaybookID   string    `yaml:"playbook_id" json:"playbook_id"`
	PlaybookPath string    `yaml:"playbook_path" json:"playbook_path"`
	DataPath     string    `yaml:"data_path" json:"data_path"`
	Params       RunParams `yaml:"params" json:"params"`
	Status       RunStatus `yaml:"status" json:"status"`
	Error        string    `yaml:"error,omitempty" json:"error,omitempty"`
	Metrics      Metrics   `yaml:"metrics" json:"metrics"`
	// TradesFilePath is the path to the trades parquet export.
	TradesFilePath string `yaml:"trades_file_path" json:"trades_file_path"`
	// EquityFilePath is the path to the equity curve parquet export.
	EquityFilePath string `yaml:"equity_file_path" json:"equity_file_path"`
	// DatabasePath is the path to the duckdb run store.
	DatabasePath string `yaml:"database_path" json:"database_path"`
}

func WriteRunSummaries(path string, summaries []RunSummary) error {
	// Marshal the struct to YAML
	data, err := yaml.Marshal(summaries)
	if err != nil {
		return fmt.Errorf("failed to marshal run summaries to YAML: %w", err)
	}

	// Write the YAML data to the file
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write run summaries to file: %w", err)
	}

	return nil
}
