// Package calendar maps a cycle start date and a week index to week windows,
// and "now" to a week index.
package calendar

import "time"

// Weeks is the fixed length of a cycle.
const Weeks = 12

// Week is the length of one week window away from DST transitions.
const Week = 7 * 24 * time.Hour

// Window is the half-open interval [Start, End) covered by one week.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// WeekWindow returns the window of weekNumber (1-based) for a cycle that
// starts at cycleStart. End is the Start of the next week.
func WeekWindow(cycleStart time.Time, weekNumber int) Window {
	start := cycleStart.AddDate(0, 0, 7*(weekNumber-1))
	return Window{Start: start, End: start.AddDate(0, 0, 7)}
}

// CurrentWeekIndex returns the 1-based week whose WeekWindow contains now,
// clamped to [1, Weeks]. Dates before the cycle map to week 1 and dates after
// it map to week 12.
func CurrentWeekIndex(cycleStart, now time.Time) int {
	for n := 1; n < Weeks; n++ {
		if now.Before(WeekWindow(cycleStart, n).End) {
			return n
		}
	}
	return Weeks
}

// DateUTC returns midnight UTC of the calendar date d shows in its own
// location. Cycle starts are stored and compared in this form.
func DateUTC(d time.Time) time.Time {
	y, m, day := d.Date()
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}

// NormalizeCycleStart rounds d back to midnight of the Monday of its ISO week,
// in d's location.
func NormalizeCycleStart(d time.Time) time.Time {
	// time.Weekday is Sunday-based; shift so Monday is 0.
	offset := (int(d.Weekday()) + 6) % 7
	y, m, day := d.Date()
	return time.Date(y, m, day-offset, 0, 0, 0, 0, d.Location())
}

// IsCurrentWeek reports whether now lies inside the week window.
func IsCurrentWeek(w Window, now time.Time) bool {
	return w.Contains(now)
}

// TimeRemaining returns how long until the window ends. It is zero when now is
// outside the window.
func TimeRemaining(w Window, now time.Time) time.Duration {
	if !w.Contains(now) {
		return 0
	}
	return w.End.Sub(now)
}

var quotes = [Weeks]string{
	"The only way to do great work is to love what you do.",
	"Believe you can and you're halfway there.",
	"Your time is limited, don't waste it living someone else's life.",
	"Don't watch the clock; do what it does. Keep going.",
	"The future depends on what you do today.",
	"It does not matter how slowly you go as long as you do not stop.",
	"Everything you've ever wanted is on the other side of fear.",
	"Success is not final, failure is not fatal: it is the courage to continue that counts.",
	"Hardships often prepare ordinary people for an extraordinary destiny.",
	"Dream big and dare to fail.",
	"What you get by achieving your goals is not as important as what you become by achieving your goals.",
	"The best way to predict the future is to create it.",
}

// FallbackQuote is returned for week indexes outside the quote table.
const FallbackQuote = "Keep going!"

// Quote returns the motivational quote for a week.
func Quote(weekNumber int) string {
	if weekNumber < 1 || weekNumber > len(quotes) {
		return FallbackQuote
	}
	return quotes[weekNumber-1]
}
