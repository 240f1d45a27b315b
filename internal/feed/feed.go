// Package feed supplies ordered historical bar snapshots to the simulator.
// A snapshot couples one bar with its pre-computed indicator values and the
// previous bar's values; the engine never computes indicators itself.
package feed

import (
	"github.com/rxtech-lab/argo-playbook/internal/types"
	"github.com/rxtech-lab/argo-playbook/pkg/errors"
)

// Feed is an ordered, replayable source of bar snapshots.
type Feed interface {
	// Count returns the number of snapshots the feed will yield.
	Count() (int, error)
	// ReadAll yields snapshots in ascending time order. Iteration stops when
	// the yield callback returns false or an error is yielded.
	ReadAll() func(yield func(types.Snapshot, error) bool)
	// Close releases any resources held by the feed.
	Close() error
}

// SliceFeed serves pre-built snapshots from memory. The backing slice is
// immutable by convention; sweep workers and Monte Carlo iterations share one
// instance without copying or locking.
type SliceFeed struct {
	snapshots []types.Snapshot
}

// NewSliceFeed wraps an already ordered snapshot slice.
func NewSliceFeed(snapshots []types.Snapshot) *SliceFeed {
	return &SliceFeed{snapshots: snapshots}
}

// Count implements Feed.
func (f *SliceFeed) Count() (int, error) {
	return len(f.snapshots), nil
}

// ReadAll implements Feed.
func (f *SliceFeed) ReadAll() func(yield func(types.Snapshot, error) bool) {
	return func(yield func(types.Snapshot, error) bool) {
		for _, snapshot := range f.snapshots {
			if !yield(snapshot, nil) {
				return
			}
		}
	}
}

// Close implements Feed.
func (f *SliceFeed) Close() error {
	return nil
}

// BuildSnapshots assembles snapshots from parallel bar and indicator slices,
// wiring each snapshot's Previous map to the prior bar's indicator values.
// indicators may be nil, or shorter entries may be nil, for bars without
// computed values (warmup); references to them then fail at evaluation time
// with an indicator-not-found diagnostic rather than here.
func BuildSnapshots(bars []types.Bar, indicators []map[string]types.IndicatorValues) ([]types.Snapshot, error) {
	if indicators != nil && len(indicators) != len(bars) {
		return nil, errors.Newf(errors.ErrCodeInvalidBar,
			"indicator slice length %d does not match bar count %d", len(indicators), len(bars))
	}

	snapshots := make([]types.Snapshot, 0, len(bars))

	for i, bar := range bars {
		if err := bar.Validate(); err != nil {
			return nil, errors.Wrapf(errors.ErrCodeInvalidBar, err, "bar %d is invalid", i)
		}

		if i > 0 && !bar.Time.After(bars[i-1].Time) {
			return nil, errors.Newf(errors.ErrCodeBarOutOfOrder,
				"bar %d time %s is not after bar %d time %s", i, bar.Time, i-1, bars[i-1].Time)
		}

		snapshot := types.Snapshot{Bar: bar}

		if indicators != nil && indicators[i] != nil {
			snapshot.Indicators = indicators[i]
		} else {
			snapshot.Indicators = map[string]types.IndicatorValues{}
		}

		if i > 0 {
			snapshot.Previous = snapshots[i-1].Indicators
		} else {
			snapshot.Previous = map[string]types.IndicatorValues{}
		}

		snapshots = append(snapshots, snapshot)
	}

	return snapshots, nil
}
