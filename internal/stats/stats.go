// Package stats derives completion percentages and status tiers from actions.
package stats

import (
	"math"
	"time"

	"github.com/zulandar/great12/internal/calendar"
	"github.com/zulandar/great12/internal/view"
)

// Status classifies a week's completion ratio.
type Status string

const (
	StatusEmpty   Status = "empty"
	StatusSuccess Status = "success"
	StatusWarning Status = "warning"
	StatusDanger  Status = "danger"
)

// Tier thresholds are fixed policy, not user configuration.
const (
	SuccessThreshold = 0.85
	WarningThreshold = 0.5
)

func counts(actions []view.Action) (completed, total int) {
	for _, a := range actions {
		if a.IsCompleted {
			completed++
		}
	}
	return completed, len(actions)
}

// WeekProgress returns the completed percentage (0..100), unrounded.
func WeekProgress(actions []view.Action) float64 {
	completed, total := counts(actions)
	if total == 0 {
		return 0
	}
	return float64(completed) / float64(total) * 100
}

// WeekStatus returns the tier for a list of actions.
func WeekStatus(actions []view.Action) Status {
	completed, total := counts(actions)
	if total == 0 {
		return StatusEmpty
	}
	ratio := float64(completed) / float64(total)
	switch {
	case ratio >= SuccessThreshold:
		return StatusSuccess
	case ratio >= WarningThreshold:
		return StatusWarning
	default:
		return StatusDanger
	}
}

// OverallProgress applies WeekProgress to the actions of every week combined.
func OverallProgress(weeks map[int]view.WeekData) float64 {
	var all []view.Action
	for _, w := range weeks {
		all = append(all, w.Actions...)
	}
	return WeekProgress(all)
}

// WeekRow is one cell of the 12-week overview grid.
type WeekRow struct {
	Week      int     `json:"week"`
	Total     int     `json:"total"`
	Completed int     `json:"completed"`
	Progress  float64 `json:"progress"`
	Status    Status  `json:"status"`
}

// Dashboard aggregates the overview for one state.
type Dashboard struct {
	OverallProgress float64   `json:"overallProgress"`
	OverallPercent  int       `json:"overallPercent"`
	WeeksWithAction int       `json:"weeksWithActions"`
	CurrentWeek     int       `json:"currentWeek"`
	Remaining       string    `json:"remaining,omitempty"`
	Weeks           []WeekRow `json:"weeks"`
}

// Summarize builds the dashboard overview. CurrentWeek is zero when no cycle
// has started.
func Summarize(state view.TrackerState, now time.Time) Dashboard {
	d := Dashboard{
		OverallProgress: OverallProgress(state.Weeks),
		Weeks:           make([]WeekRow, 0, calendar.Weeks),
	}
	d.OverallPercent = int(math.Round(d.OverallProgress))
	for n := 1; n <= calendar.Weeks; n++ {
		w := state.Weeks[n]
		completed, total := counts(w.Actions)
		if total > 0 {
			d.WeeksWithAction++
		}
		d.Weeks = append(d.Weeks, WeekRow{
			Week:      n,
			Total:     total,
			Completed: completed,
			Progress:  WeekProgress(w.Actions),
			Status:    WeekStatus(w.Actions),
		})
	}
	if state.StartDate != nil {
		d.CurrentWeek = calendar.CurrentWeekIndex(*state.StartDate, now)
		win := calendar.WeekWindow(*state.StartDate, d.CurrentWeek)
		if left := calendar.TimeRemaining(win, now); left > 0 {
			d.Remaining = left.Truncate(time.Minute).String()
		}
	}
	return d
}
