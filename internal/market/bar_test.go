package market

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustNY(t *testing.T) Session {
	t.Helper()
	s, err := NewSession("09:30", "America/New_York")
	require.NoError(t, err)
	return s
}

func TestSession_BucketStart(t *testing.T) {
	s := mustNY(t)
	ny := s.Location

	tests := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{"at origin", time.Date(2024, 3, 1, 9, 30, 0, 0, ny), time.Date(2024, 3, 1, 9, 30, 0, 0, ny)},
		{"inside first bucket", time.Date(2024, 3, 1, 10, 30, 0, 0, ny), time.Date(2024, 3, 1, 9, 30, 0, 0, ny)},
		{"second bucket", time.Date(2024, 3, 1, 11, 30, 0, 0, ny), time.Date(2024, 3, 1, 11, 30, 0, 0, ny)},
		{"before origin belongs to the previous day's grid", time.Date(2024, 3, 1, 9, 0, 0, 0, ny), time.Date(2024, 3, 1, 7, 30, 0, 0, ny)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.BucketStart(tt.in, 2*time.Hour)
			assert.True(t, tt.want.Equal(got), "want %s got %s", tt.want, got)
		})
	}
}

func TestSession_BucketStart_DSTTransitions(t *testing.T) {
	s := mustNY(t)
	ny := s.Location

	tests := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{"spring forward, before origin", time.Date(2024, 3, 10, 9, 0, 0, 0, ny), time.Date(2024, 3, 10, 7, 30, 0, 0, ny)},
		{"spring forward, after origin", time.Date(2024, 3, 10, 12, 15, 0, 0, ny), time.Date(2024, 3, 10, 11, 30, 0, 0, ny)},
		{"fall back, before origin", time.Date(2024, 11, 3, 9, 0, 0, 0, ny), time.Date(2024, 11, 3, 7, 30, 0, 0, ny)},
		{"first of month rolls to previous day", time.Date(2024, 6, 1, 8, 0, 0, 0, ny), time.Date(2024, 6, 1, 7, 30, 0, 0, ny)},
		{"just after midnight", time.Date(2024, 6, 1, 0, 10, 0, 0, ny), time.Date(2024, 5, 31, 23, 30, 0, 0, ny)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.BucketStart(tt.in, 2*time.Hour)
			assert.True(t, tt.want.Equal(got), "want %s got %s", tt.want, got)
		})
	}
}

func TestAggregate(t *testing.T) {
	s := mustNY(t)
	ny := s.Location
	hourly := []Bar{
		{Time: time.Date(2024, 3, 1, 9, 30, 0, 0, ny).UTC(), Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 100},
		{Time: time.Date(2024, 3, 1, 10, 30, 0, 0, ny).UTC(), Open: 10.5, High: 12, Low: 10, Close: 11.5, Volume: 50},
		{Time: time.Date(2024, 3, 1, 11, 30, 0, 0, ny).UTC(), Open: 11.5, High: 11.8, Low: 8, Close: 9, Volume: 10},
	}

	got := Aggregate(hourly, 2*time.Hour, s)
	want := []Bar{
		{Time: time.Date(2024, 3, 1, 9, 30, 0, 0, ny).UTC(), Open: 10, High: 12, Low: 9, Close: 11.5, Volume: 150},
		{Time: time.Date(2024, 3, 1, 11, 30, 0, 0, ny).UTC(), Open: 11.5, High: 11.8, Low: 8, Close: 9, Volume: 10},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Aggregate mismatch (-want +got):\n%s", diff)
	}
	assert.Nil(t, Aggregate(nil, 2*time.Hour, s))
}

func TestConfirmed_DropsFormingBar(t *testing.T) {
	base := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)
	bars := []Bar{{Time: base}, {Time: base.Add(2 * time.Hour)}, {Time: base.Add(4 * time.Hour)}}

	// 5h after base: the third bucket [4h, 6h) is still forming.
	got := Confirmed(bars, 2*time.Hour, 0, base.Add(5*time.Hour))
	assert.Len(t, got, 2)

	// exactly at the close of the third bucket it is confirmed.
	got = Confirmed(bars, 2*time.Hour, 0, base.Add(6*time.Hour))
	assert.Len(t, got, 3)

	assert.Empty(t, Confirmed(bars, 2*time.Hour, 0, base.Add(time.Hour)))
}

func TestConfirmed_WaitsForStraddlingBaseBar(t *testing.T) {
	s := mustNY(t)
	ny := s.Location
	hourly := []Bar{
		{Time: time.Date(2024, 6, 3, 10, 0, 0, 0, ny).UTC(), Open: 99, High: 100, Low: 98, Close: 100},
		{Time: time.Date(2024, 6, 3, 11, 0, 0, 0, ny).UTC(), Open: 100, High: 102, Low: 99, Close: 101},
	}
	buckets := Aggregate(hourly, 2*time.Hour, s)
	require.Len(t, buckets, 1)
	require.True(t, time.Date(2024, 6, 3, 9, 30, 0, 0, ny).Equal(buckets[0].Time))

	// The 11:00 bar runs to 12:00, past the 11:30 bucket boundary.
	assert.Empty(t, Confirmed(buckets, 2*time.Hour, time.Hour, time.Date(2024, 6, 3, 11, 30, 0, 0, ny)))
	assert.Empty(t, Confirmed(buckets, 2*time.Hour, time.Hour, time.Date(2024, 6, 3, 11, 59, 0, 0, ny)))

	got := Confirmed(buckets, 2*time.Hour, time.Hour, time.Date(2024, 6, 3, 12, 0, 0, 0, ny))
	require.Len(t, got, 1)
	assert.Equal(t, 101.0, got[0].Close)
}

func TestPeriodEnd(t *testing.T) {
	start := time.Date(2024, 6, 3, 13, 30, 0, 0, time.UTC)
	assert.Equal(t, start.Add(2*time.Hour), PeriodEnd(start, 2*time.Hour, 0))
	assert.Equal(t, start.Add(150*time.Minute), PeriodEnd(start, 2*time.Hour, time.Hour))
	aligned := time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC)
	assert.Equal(t, aligned.Add(2*time.Hour), PeriodEnd(aligned, 2*time.Hour, time.Hour))
}

func TestSortBars_DedupesAndOrders(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := []Bar{{Time: t0.Add(time.Hour), Close: 2}, {Time: t0, Close: 1}, {Time: t0.Add(time.Hour), Close: 3}}
	got := SortBars(bars)
	require.Len(t, got, 2)
	assert.Equal(t, 1.0, got[0].Close)
	assert.Equal(t, 3.0, got[1].Close, "later duplicate wins")
}

func TestReadBarsCSV(t *testing.T) {
	in := `timestamp,open,high,low,close,volume
2024-01-02T15:00:00Z,11,12,10,11.5,7
2024-01-02 14:00:00,10,11,9,10.5,5
`
	bars, err := ReadBarsCSV(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, time.Date(2024, 1, 2, 14, 0, 0, 0, time.UTC), bars[0].Time)
	assert.Equal(t, 11.5, bars[1].Close)
	assert.Equal(t, 7.0, bars[1].Volume)
}

func TestReadBarsCSV_Errors(t *testing.T) {
	_, err := ReadBarsCSV(strings.NewReader("time,open,close\n"))
	assert.Error(t, err, "missing high/low columns")

	_, err = ReadBarsCSV(strings.NewReader("time,open,high,low,close\nyesterday,1,1,1,1\n"))
	assert.Error(t, err)

	bars, err := ReadBarsCSV(strings.NewReader(""))
	assert.NoError(t, err)
	assert.Empty(t, bars)
}
