// Package market holds price bars and the timeframe handling shared by the
// simulator and the live engine.
package market

import (
	"errors"
	"fmt"
	"sort"
	"time"
	_ "time/tzdata"
)

// ErrDataUnavailable is returned when a bar series is empty, too short, or
// otherwise cannot produce defined indicator values.
var ErrDataUnavailable = errors.New("market data unavailable")

// Bar is one OHLCV period. Time is the period start in UTC.
type Bar struct {
	Time   time.Time `json:"t"`
	Open   float64   `json:"o"`
	High   float64   `json:"h"`
	Low    float64   `json:"l"`
	Close  float64   `json:"c"`
	Volume float64   `json:"v"`
}

// Closes returns the close prices of bars.
func Closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// HLC returns the high, low and close columns of bars.
func HLC(bars []Bar) (highs, lows, closes []float64) {
	highs = make([]float64, len(bars))
	lows = make([]float64, len(bars))
	closes = make([]float64, len(bars))
	for i, b := range bars {
		highs[i], lows[i], closes[i] = b.High, b.Low, b.Close
	}
	return highs, lows, closes
}

// SortBars orders bars ascending by time and drops exact duplicates.
func SortBars(bars []Bar) []Bar {
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
	out := bars[:0]
	for i, b := range bars {
		if i > 0 && b.Time.Equal(out[len(out)-1].Time) {
			out[len(out)-1] = b
			continue
		}
		out = append(out, b)
	}
	return out
}

// Session anchors timeframe buckets to a wall-clock origin, e.g. 09:30 in
// America/New_York, so 2h buckets start at 09:30, 11:30, 13:30...
type Session struct {
	Location *time.Location
	Hour     int
	Minute   int
}

// NewSession parses an "HH:MM" origin in the named time zone.
func NewSession(origin, timezone string) (Session, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return Session{}, fmt.Errorf("load timezone %q: %w", timezone, err)
	}
	t, err := time.Parse("15:04", origin)
	if err != nil {
		return Session{}, fmt.Errorf("parse session origin %q: %w", origin, err)
	}
	return Session{Location: loc, Hour: t.Hour(), Minute: t.Minute()}, nil
}

// UTCSession buckets from midnight UTC.
func UTCSession() Session {
	return Session{Location: time.UTC}
}

// BucketStart returns the start of the timeframe bucket containing t.
// tf must divide 24h. The grid is laid out in wall-clock time from the
// origin, so buckets keep their local start times across DST changes.
func (s Session) BucketStart(t time.Time, tf time.Duration) time.Time {
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	sec := local.Hour()*3600 + local.Minute()*60 + local.Second() - (s.Hour*3600 + s.Minute*60)
	day := local.Day()
	if sec < 0 {
		sec += 24 * 3600
		day--
	}
	wall := time.Duration(sec) * time.Second
	wall -= wall % tf
	return time.Date(local.Year(), local.Month(), day, s.Hour, s.Minute+int(wall/time.Minute), 0, 0, loc).UTC()
}

// Aggregate resamples ascending bars into tf buckets aligned to the session:
// first open, max high, min low, last close, summed volume. Empty buckets are
// omitted.
func Aggregate(bars []Bar, tf time.Duration, s Session) []Bar {
	if len(bars) == 0 || tf <= 0 {
		return nil
	}
	out := make([]Bar, 0, len(bars))
	var cur Bar
	var curStart time.Time
	for i, b := range bars {
		start := s.BucketStart(b.Time, tf)
		if i == 0 || !start.Equal(curStart) {
			if i > 0 {
				out = append(out, cur)
			}
			curStart = start
			cur = Bar{Time: start, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume}
			continue
		}
		if b.High > cur.High {
			cur.High = b.High
		}
		if b.Low < cur.Low {
			cur.Low = b.Low
		}
		cur.Close = b.Close
		cur.Volume += b.Volume
	}
	return append(out, cur)
}

// PeriodEnd returns when the bucket starting at start has all of its data.
// A bucket closes at start+tf, unless its last base bar straddles that
// boundary, in which case it closes when that bar does.
func PeriodEnd(start time.Time, tf, base time.Duration) time.Time {
	end := start.Add(tf)
	if base > 0 {
		last := end.Add(-1).Truncate(base)
		if barEnd := last.Add(base); barEnd.After(end) {
			end = barEnd
		}
	}
	return end
}

// Confirmed drops trailing bars whose period has not closed at now. base is
// the size of the bars tf was aggregated from (0 when bars are not aggregated).
func Confirmed(bars []Bar, tf, base time.Duration, now time.Time) []Bar {
	n := len(bars)
	for n > 0 && PeriodEnd(bars[n-1].Time, tf, base).After(now) {
		n--
	}
	return bars[:n]
}
