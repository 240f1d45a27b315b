package feed

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/rxtech-lab/argo-playbook/internal/logger"
	"github.com/rxtech-lab/argo-playbook/internal/types"
	"github.com/rxtech-lab/argo-playbook/pkg/errors"
	"go.uber.org/zap"
)

const barsView = "bars"

// baseColumns are the OHLCV columns every data file must carry. Any other
// numeric column is treated as an indicator output named "<id>_<field>"; a
// column without an underscore maps to field "value".
var baseColumns = map[string]bool{
	"time":   true,
	"symbol": true,
	"open":   true,
	"high":   true,
	"low":    true,
	"close":  true,
	"volume": true,
}

// indicatorColumn records which snapshot slot one extra view column fills.
type indicatorColumn struct {
	name  string
	id    string
	field string
}

// DuckDBFeed reads bars and pre-computed indicator columns from a parquet or
// csv file through an embedded DuckDB instance.
type DuckDBFeed struct {
	db      *sql.DB
	logger  *logger.Logger
	sq      squirrel.StatementBuilderType
	columns []indicatorColumn
}

// NewDuckDBFeed opens a DuckDB database at the given path. An empty path opens
// an in-memory database. This is distinct from Initialize() which points the
// feed at a data file.
func NewDuckDBFeed(dbPath string, log *logger.Logger) (*DuckDBFeed, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}

	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeFeedUnavailable, "failed to open duckdb database", err)
	}

	// Set DuckDB-specific optimizations
	_, err = db.Exec(`
		SET memory_limit='8GB';
		SET threads=4;
		SET temp_directory='./temp';
	`)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeFeedUnavailable, "failed to set duckdb optimizations", err)
	}

	return &DuckDBFeed{
		db:     db,
		logger: log,
		sq:     squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}, nil
}

// Initialize creates a view over the data file and discovers its indicator
// columns. Files ending in .csv are read with read_csv_auto, everything else
// with read_parquet.
func (f *DuckDBFeed) Initialize(path string) error {
	f.logger.Debug("Initializing duckdb feed", zap.String("path", path))

	_, err := f.db.Exec(fmt.Sprintf(`DROP VIEW IF EXISTS %s;`, barsView))
	if err != nil {
		return errors.Wrap(errors.ErrCodeFeedUnavailable, "failed to drop existing view", err)
	}

	reader := "read_parquet"
	if strings.HasSuffix(strings.ToLower(path), ".csv") {
		reader = "read_csv_auto"
	}

	// Raw SQL because squirrel does not support CREATE VIEW. SELECT * keeps
	// the indicator columns alongside OHLCV.
	query := fmt.Sprintf(`
		CREATE VIEW %s AS
		SELECT * FROM %s('%s');
	`, barsView, reader, path)

	_, err = f.db.Exec(query)
	if err != nil {
		return errors.Wrapf(errors.ErrCodeFeedUnavailable, err, "failed to create view over %s", path)
	}

	return f.discoverColumns()
}

// discoverColumns inspects the view schema and records every non-OHLCV column
// as an indicator output.
func (f *DuckDBFeed) discoverColumns() error {
	rows, err := f.db.Query(fmt.Sprintf(`SELECT * FROM %s LIMIT 0`, barsView))
	if err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to inspect view schema", err)
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to list view columns", err)
	}

	f.columns = f.columns[:0]

	for _, name := range names {
		if baseColumns[strings.ToLower(name)] {
			continue
		}

		id, field := splitIndicatorColumn(name)
		f.columns = append(f.columns, indicatorColumn{name: name, id: id, field: field})
	}

	f.logger.Debug("Discovered indicator columns", zap.Int("count", len(f.columns)))

	return nil
}

// splitIndicatorColumn maps a column name to its indicator id and output
// field. The split happens at the first underscore so "macd_signal" becomes
// (macd, signal) and "rsi14" becomes (rsi14, value).
func splitIndicatorColumn(name string) (string, string) {
	if i := strings.Index(name, "_"); i > 0 && i < len(name)-1 {
		return name[:i], name[i+1:]
	}

	return name, "value"
}

// Count implements Feed.
func (f *DuckDBFeed) Count() (int, error) {
	query, args, err := f.sq.
		Select("COUNT(*)").
		From(barsView).
		ToSql()
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build count query", err)
	}

	var count int
	if err := f.db.QueryRow(query, args...).Scan(&count); err != nil {
		return 0, errors.Wrap(errors.ErrCodeQueryFailed, "failed to count bars", err)
	}

	return count, nil
}

// ReadAll implements Feed with batch processing. Snapshots are yielded in
// ascending time order with each one's Previous map pointing at the prior
// bar's indicator values. NULL indicator cells (warmup bars) are simply
// absent from the snapshot.
func (f *DuckDBFeed) ReadAll() func(yield func(types.Snapshot, error) bool) {
	const batchSize = 1000

	return func(yield func(types.Snapshot, error) bool) {
		f.logger.Debug("Reading all snapshots from duckdb")

		selectCols := []string{"time", "open", "high", "low", "close", "volume"}
		for _, col := range f.columns {
			selectCols = append(selectCols, fmt.Sprintf("%q", col.name))
		}

		query, _, err := f.sq.
			Select(selectCols...).
			From(barsView).
			OrderBy("time ASC").
			ToSql()
		if err != nil {
			yield(types.Snapshot{}, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build read query", err))

			return
		}

		stmt, err := f.db.Prepare(query)
		if err != nil {
			yield(types.Snapshot{}, errors.Wrap(errors.ErrCodeQueryFailed, "failed to prepare read query", err))

			return
		}
		defer stmt.Close()

		rows, err := stmt.Query()
		if err != nil {
			yield(types.Snapshot{}, errors.Wrap(errors.ErrCodeQueryFailed, "failed to query bars", err))

			return
		}
		defer rows.Close()

		var (
			index    int
			lastTime time.Time
			prev     = map[string]types.IndicatorValues{}
			batch    = make([]types.Snapshot, 0, batchSize)
		)

		for rows.Next() {
			var (
				timestamp                      time.Time
				open, high, low, close, volume float64
			)

			cells := make([]sql.NullFloat64, len(f.columns))
			dest := []any{&timestamp, &open, &high, &low, &close, &volume}

			for i := range cells {
				dest = append(dest, &cells[i])
			}

			if err := rows.Scan(dest...); err != nil {
				yield(types.Snapshot{}, errors.Wrapf(errors.ErrCodeQueryFailed, err, "failed to scan bar %d", index))

				return
			}

			bar := types.Bar{
				Time:   timestamp,
				Open:   open,
				High:   high,
				Low:    low,
				Close:  close,
				Volume: volume,
			}

			if err := bar.Validate(); err != nil {
				yield(types.Snapshot{}, errors.Wrapf(errors.ErrCodeInvalidBar, err, "bar %d is invalid", index))

				return
			}

			if index > 0 && !timestamp.After(lastTime) {
				yield(types.Snapshot{}, errors.Newf(errors.ErrCodeBarOutOfOrder,
					"bar %d time %s is not after previous bar time %s", index, timestamp, lastTime))

				return
			}

			indicators := map[string]types.IndicatorValues{}

			for i, cell := range cells {
				if !cell.Valid {
					continue
				}

				col := f.columns[i]
				if indicators[col.id] == nil {
					indicators[col.id] = types.IndicatorValues{}
				}

				indicators[col.id][col.field] = cell.Float64
			}

			snapshot := types.Snapshot{
				Bar:        bar,
				Indicators: indicators,
				Previous:   prev,
			}

			prev = indicators
			lastTime = timestamp
			index++

			batch = append(batch, snapshot)

			if len(batch) >= batchSize {
				for _, s := range batch {
					if !yield(s, nil) {
						return
					}
				}

				batch = batch[:0] // Reset slice while keeping capacity
			}
		}

		if err := rows.Err(); err != nil {
			yield(types.Snapshot{}, errors.Wrap(errors.ErrCodeQueryFailed, "failed while reading bars", err))

			return
		}

		// Process remaining rows
		for _, s := range batch {
			if !yield(s, nil) {
				return
			}
		}
	}
}

// Close implements Feed.
func (f *DuckDBFeed) Close() error {
	if f.db != nil {
		return f.db.Close()
	}

	return nil
}

var _ Feed = (*DuckDBFeed)(nil)
var _ Feed = (*SliceFeed)(nil)
