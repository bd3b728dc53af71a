package market

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999-07",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ReadBarsCSVFile opens path and reads it with ReadBarsCSV.
func ReadBarsCSVFile(path string) ([]Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open csv file: %w", err)
	}
	defer f.Close()
	return ReadBarsCSV(f)
}

// ReadBarsCSV reads bars from CSV with a header row. Columns are located by
// name (time|timestamp|date, open, high, low, close, volume); volume is
// optional. Rows are returned sorted ascending.
func ReadBarsCSV(r io.Reader) ([]Bar, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}
	idx := map[string]int{}
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	col := func(names ...string) int {
		for _, n := range names {
			if i, ok := idx[n]; ok {
				return i
			}
		}
		return -1
	}
	tCol := col("time", "timestamp", "date", "datetime")
	oCol, hCol, lCol, cCol := col("open", "o"), col("high", "h"), col("low", "l"), col("close", "c")
	vCol := col("volume", "v")
	if tCol < 0 || oCol < 0 || hCol < 0 || lCol < 0 || cCol < 0 {
		return nil, fmt.Errorf("csv header %v lacks time/open/high/low/close columns", header)
	}

	var bars []Bar
	line := 1
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		ts, err := parseTime(rec[tCol])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		b := Bar{Time: ts}
		fields := []struct {
			col int
			dst *float64
		}{{oCol, &b.Open}, {hCol, &b.High}, {lCol, &b.Low}, {cCol, &b.Close}, {vCol, &b.Volume}}
		for _, f := range fields {
			if f.col < 0 {
				continue
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[f.col]), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: column %q: %w", line, header[f.col], err)
			}
			*f.dst = v
		}
		bars = append(bars, b)
	}
	return SortBars(bars), nil
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}
