package period

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cardwatch-lab/cardwatch/internal/core/aggregate"
)

func TestResolveTerms(t *testing.T) {
	tests := []struct {
		name          string
		ts            time.Time
		wantDay       int
		wantTerm      int
		wantTermStart int
		wantTermEnd   int
		wantLastTerm  bool
		wantLastMonth bool
	}{
		{
			name:          "first day of month",
			ts:            time.Date(2026, 8, 1, 9, 0, 0, 0, JST),
			wantDay:       1,
			wantTerm:      1,
			wantTermStart: 1,
			wantTermEnd:   7,
		},
		{
			name:          "day 7 closes term 1",
			ts:            time.Date(2026, 8, 7, 23, 59, 59, 0, JST),
			wantDay:       7,
			wantTerm:      1,
			wantTermStart: 1,
			wantTermEnd:   7,
			wantLastTerm:  true,
		},
		{
			name:          "day 8 opens term 2",
			ts:            time.Date(2026, 8, 8, 0, 0, 0, 0, JST),
			wantDay:       8,
			wantTerm:      2,
			wantTermStart: 8,
			wantTermEnd:   14,
		},
		{
			name:          "day 14 closes term 2",
			ts:            time.Date(2026, 8, 14, 12, 0, 0, 0, JST),
			wantDay:       14,
			wantTerm:      2,
			wantTermStart: 8,
			wantTermEnd:   14,
			wantLastTerm:  true,
		},
		{
			name:          "day 29 opens short term 5",
			ts:            time.Date(2026, 8, 29, 12, 0, 0, 0, JST),
			wantDay:       29,
			wantTerm:      5,
			wantTermStart: 29,
			wantTermEnd:   31,
		},
		{
			name:          "day 31 closes term 5 and the month",
			ts:            time.Date(2026, 8, 31, 12, 0, 0, 0, JST),
			wantDay:       31,
			wantTerm:      5,
			wantTermStart: 29,
			wantTermEnd:   31,
			wantLastTerm:  true,
			wantLastMonth: true,
		},
		{
			name:          "february non-leap last day",
			ts:            time.Date(2026, 2, 28, 12, 0, 0, 0, JST),
			wantDay:       28,
			wantTerm:      4,
			wantTermStart: 22,
			wantTermEnd:   28,
			wantLastTerm:  true,
			wantLastMonth: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			info := Resolve(tc.ts)
			require.Equal(t, tc.wantDay, info.Day)
			require.Equal(t, tc.wantTerm, info.Term)
			require.Equal(t, tc.wantTermStart, info.TermStart.Day())
			require.Equal(t, tc.wantTermEnd, info.TermEnd.Day())
			require.Equal(t, tc.wantLastTerm, info.IsLastDayOfTerm)
			require.Equal(t, tc.wantLastMonth, info.IsLastDayOfMonth)
		})
	}
}

func TestResolveUsesJSTNotSourceZone(t *testing.T) {
	// 2026-08-31 15:30 UTC is already 2026-09-01 00:30 in JST.
	ts := time.Date(2026, 8, 31, 15, 30, 0, 0, time.UTC)

	info := Resolve(ts)
	require.Equal(t, 2026, info.Year)
	require.Equal(t, 9, info.Month)
	require.Equal(t, 1, info.Day)
	require.Equal(t, 1, info.Term)
}

func TestResolveKeys(t *testing.T) {
	info := Resolve(time.Date(2026, 8, 30, 10, 0, 0, 0, JST))

	require.Equal(t, aggregate.Key{Granularity: aggregate.GranularityDaily, Year: 2026, Month: 8, Seq: 30}, info.DailyKey)
	require.Equal(t, aggregate.Key{Granularity: aggregate.GranularityWeekly, Year: 2026, Month: 8, Seq: 5}, info.WeeklyKey)
	require.Equal(t, aggregate.Key{Granularity: aggregate.GranularityMonthly, Year: 2026, Month: 8, Seq: 0}, info.MonthlyKey)

	require.Equal(t, "aggregates/2026/08/daily/30", info.DailyKey.DocPath())
	require.Equal(t, "aggregates/2026/08/weekly/term5", info.WeeklyKey.DocPath())
	require.Equal(t, "aggregates/2026/08/monthly", info.MonthlyKey.DocPath())
}

func TestBounds(t *testing.T) {
	ts := time.Date(2026, 8, 30, 10, 0, 0, 0, JST)

	start, end := Bounds(ts, aggregate.GranularityDaily)
	require.Equal(t, time.Date(2026, 8, 30, 0, 0, 0, 0, JST), start)
	require.Equal(t, start, end)

	start, end = Bounds(ts, aggregate.GranularityWeekly)
	require.Equal(t, 29, start.Day())
	require.Equal(t, 31, end.Day())

	start, end = Bounds(ts, aggregate.GranularityMonthly)
	require.Equal(t, 1, start.Day())
	require.Equal(t, 31, end.Day())
}
