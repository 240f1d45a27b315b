package types

import (
	"fmt"
	"strings"
	"time"
)

// Timeframe identifies the bar aggregation interval a playbook phase or
// indicator operates on.
type Timeframe string

const (
	TimeframeM1  Timeframe = "M1"
	TimeframeM5  Timeframe = "M5"
	TimeframeM15 Timeframe = "M15"
	TimeframeM30 Timeframe = "M30"
	TimeframeH1  Timeframe = "H1"
	TimeframeH4  Timeframe = "H4"
	TimeframeD1  Timeframe = "D1"
	TimeframeW1  Timeframe = "W1"
)

var AllTimeframes = []any{
	TimeframeM1,
	TimeframeM5,
	TimeframeM15,
	TimeframeM30,
	TimeframeH1,
	TimeframeH4,
	TimeframeD1,
	TimeframeW1,
}

// hoursPerYear uses the mean Gregorian year so annualized metrics stay
// consistent across leap years.
const hoursPerYear = 365.25 * 24

var timeframeDurations = map[Timeframe]time.Duration{
	TimeframeM1:  time.Minute,
	TimeframeM5:  5 * time.Minute,
	TimeframeM15: 15 * time.Minute,
	TimeframeM30: 30 * time.Minute,
	TimeframeH1:  time.Hour,
	TimeframeH4:  4 * time.Hour,
	TimeframeD1:  24 * time.Hour,
	TimeframeW1:  7 * 24 * time.Hour,
}

// ParseTimeframe parses a timeframe string (case-insensitive).
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(strings.ToUpper(strings.TrimSpace(s)))
	if !tf.IsValid() {
		return "", fmt.Errorf("unknown timeframe %q", s)
	}

	return tf, nil
}

// IsValid reports whether tf is one of the supported timeframes.
func (tf Timeframe) IsValid() bool {
	_, ok := timeframeDurations[tf]

	return ok
}

// Duration returns the wall-clock span of one bar of this timeframe.
func (tf Timeframe) Duration() time.Duration {
	return timeframeDurations[tf]
}

// PeriodsPerYear returns how many bars of this timeframe fit in a year.
// Metrics use it to annualize per-trade return statistics.
func (tf Timeframe) PeriodsPerYear() float64 {
	d := tf.Duration()
	if d <= 0 {
		return 0
	}

	return hoursPerYear * float64(time.Hour) / float64(d)
}

func (tf Timeframe) String() string {
	return string(tf)
}
