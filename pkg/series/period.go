package series

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnknownPeriod is returned by ParsePeriod for names it does not know
var ErrUnknownPeriod = errors.New("unknown period")

// Period is a chart display window
type Period string

const (
	Day   Period = "day"
	Week  Period = "week"
	Month Period = "month"
	Year  Period = "year"
)

// Periods lists every display window, shortest first
var Periods = []Period{Day, Week, Month, Year}

type periodConfig struct {
	lookback time.Duration
	bin      int64 // seconds, 0 = raw resolution
}

var periodConfigs = map[Period]periodConfig{
	Day:   {lookback: 24 * time.Hour},
	Week:  {lookback: 7 * 24 * time.Hour, bin: 1800},
	Month: {lookback: 31 * 24 * time.Hour, bin: 7200},
	Year:  {lookback: 365 * 24 * time.Hour, bin: 86400},
}

// ParsePeriod validates a period name
func ParsePeriod(s string) (Period, error) {
	p := Period(s)
	if _, ok := periodConfigs[p]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownPeriod, s)
	}
	return p, nil
}

// Lookback is how far before the end time the window starts
func (p Period) Lookback() time.Duration {
	return periodConfigs[p].lookback
}

// BinSeconds is the bucket width used when charting the period
func (p Period) BinSeconds() int64 {
	return periodConfigs[p].bin
}
