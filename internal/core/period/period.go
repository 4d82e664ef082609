package period

import (
	"time"

	"github.com/cardwatch-lab/cardwatch/internal/core/aggregate"
)

// JST is the fixed reporting timezone. All period boundaries are computed in
// JST regardless of the host locale or the timestamp's own zone.
var JST = time.FixedZone("JST", 9*60*60)

// Info is the resolved period context of a single timestamp.
// Term partitions a month into consecutive 7-day windows starting at day 1
// (term 1 = days 1-7, term 2 = days 8-14, ...). The final term of a month may
// be shorter than 7 days. This resets every month — it is not an ISO week.
type Info struct {
	Year  int
	Month int
	Day   int
	Term  int

	// Date is midnight JST of the resolved calendar day.
	Date time.Time

	// Inclusive window boundaries, midnight JST.
	TermStart  time.Time
	TermEnd    time.Time
	MonthStart time.Time
	MonthEnd   time.Time

	IsLastDayOfTerm  bool
	IsLastDayOfMonth bool

	DailyKey   aggregate.Key
	WeeklyKey  aggregate.Key
	MonthlyKey aggregate.Key
}

// Resolve derives the period context of ts. Pure; no failure modes beyond an
// unparseable timestamp, which callers reject before reaching this function.
func Resolve(ts time.Time) Info {
	local := ts.In(JST)
	year, month, day := local.Date()

	monthStart := time.Date(year, month, 1, 0, 0, 0, 0, JST)
	monthEnd := monthStart.AddDate(0, 1, -1)
	lastDay := monthEnd.Day()

	term := (day-1)/7 + 1
	termStartDay := (term-1)*7 + 1
	termEndDay := term * 7
	if termEndDay > lastDay {
		termEndDay = lastDay
	}

	return Info{
		Year:  year,
		Month: int(month),
		Day:   day,
		Term:  term,

		Date:       time.Date(year, month, day, 0, 0, 0, 0, JST),
		TermStart:  time.Date(year, month, termStartDay, 0, 0, 0, 0, JST),
		TermEnd:    time.Date(year, month, termEndDay, 0, 0, 0, 0, JST),
		MonthStart: monthStart,
		MonthEnd:   monthEnd,

		IsLastDayOfTerm:  day == termEndDay,
		IsLastDayOfMonth: day == lastDay,

		DailyKey:   aggregate.Key{Granularity: aggregate.GranularityDaily, Year: year, Month: int(month), Seq: day},
		WeeklyKey:  aggregate.Key{Granularity: aggregate.GranularityWeekly, Year: year, Month: int(month), Seq: term},
		MonthlyKey: aggregate.Key{Granularity: aggregate.GranularityMonthly, Year: year, Month: int(month), Seq: 0},
	}
}

// KeyFor returns the period key of ts for one granularity.
func KeyFor(ts time.Time, granularity string) aggregate.Key {
	info := Resolve(ts)
	switch granularity {
	case aggregate.GranularityDaily:
		return info.DailyKey
	case aggregate.GranularityWeekly:
		return info.WeeklyKey
	default:
		return info.MonthlyKey
	}
}

// Bounds returns the inclusive period window for one granularity of ts.
func Bounds(ts time.Time, granularity string) (start, end time.Time) {
	info := Resolve(ts)
	switch granularity {
	case aggregate.GranularityDaily:
		return info.Date, info.Date
	case aggregate.GranularityWeekly:
		return info.TermStart, info.TermEnd
	default:
		return info.MonthStart, info.MonthEnd
	}
}
