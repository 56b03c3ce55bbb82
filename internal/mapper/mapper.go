// Package mapper translates between record-store rows and the week-indexed
// view model.
package mapper

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/great12/internal/calendar"
	"github.com/zulandar/great12/internal/models"
	"github.com/zulandar/great12/internal/view"
)

// MaxReviews is the number of review entries kept per week.
const MaxReviews = 3

// MappingError reports a malformed row. The fetch that produced the row is
// aborted rather than guessing a default.
type MappingError struct {
	Table string
	Field string
	Value string
	Err   error
}

func (e *MappingError) Error() string {
	msg := fmt.Sprintf("mapper: %s.%s", e.Table, e.Field)
	if e.Value != "" {
		msg += fmt.Sprintf(" %q", e.Value)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MappingError) Unwrap() error { return e.Err }

// dateLayouts are the accepted encodings of cycles.start_date.
var dateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

// ParseStartDate decodes a cycles.start_date value into the date's midnight
// UTC. An offset in the stored value selects which calendar date is meant.
func ParseStartDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, &MappingError{Table: "cycles", Field: "start_date", Err: fmt.Errorf("missing")}
	}
	var lastErr error
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, raw)
		if err == nil {
			return calendar.DateUTC(t), nil
		}
		lastErr = err
	}
	return time.Time{}, &MappingError{Table: "cycles", Field: "start_date", Value: raw, Err: lastErr}
}

// FormatStartDate encodes the calendar date of a cycle start for storage as
// midnight UTC.
func FormatStartDate(t time.Time) string {
	return calendar.DateUTC(t).Format(time.RFC3339)
}

// RowsToState rebuilds the tracker state for one cycle. All 12 weeks are
// materialized whether or not they have actions or reviews. profile may be nil.
func RowsToState(cycle models.Cycle, goals []models.Goal, actions []models.Action, reviews []models.WeeklyReview, profile *models.Profile) (view.TrackerState, error) {
	start, err := ParseStartDate(cycle.StartDate)
	if err != nil {
		return view.TrackerState{}, err
	}

	byWeek := make(map[int][]view.Action, calendar.Weeks)
	for _, a := range actions {
		if a.WeekNumber < 1 || a.WeekNumber > calendar.Weeks {
			return view.TrackerState{}, &MappingError{
				Table: "actions",
				Field: "week_number",
				Value: fmt.Sprint(a.WeekNumber),
				Err:   fmt.Errorf("action %s outside 1..%d", a.ID, calendar.Weeks),
			}
		}
		byWeek[a.WeekNumber] = append(byWeek[a.WeekNumber], ActionFromRow(a))
	}

	reviewByWeek := make(map[int][]string, len(reviews))
	for _, r := range reviews {
		if r.WeekNumber < 1 || r.WeekNumber > calendar.Weeks {
			return view.TrackerState{}, &MappingError{
				Table: "weekly_reviews",
				Field: "week_number",
				Value: fmt.Sprint(r.WeekNumber),
				Err:   fmt.Errorf("review for cycle %s outside 1..%d", r.CycleID, calendar.Weeks),
			}
		}
		entries, err := DecodeReview(r.Content)
		if err != nil {
			return view.TrackerState{}, err
		}
		reviewByWeek[r.WeekNumber] = entries
	}

	state := view.TrackerState{
		StartDate:       &start,
		Goals:           make([]view.Goal, 0, len(goals)),
		Weeks:           BuildWeeks(start),
		IsSetupComplete: true,
	}
	for _, g := range goals {
		state.Goals = append(state.Goals, GoalFromRow(g))
	}
	for n, w := range state.Weeks {
		if acts, ok := byWeek[n]; ok {
			w.Actions = acts
		}
		if rev, ok := reviewByWeek[n]; ok {
			w.Review = rev
		}
		state.Weeks[n] = w
	}
	if profile != nil {
		state.Profile = &view.Profile{Nickname: profile.Nickname}
	}
	return state, nil
}

// BuildWeeks returns 12 empty weeks anchored at start.
func BuildWeeks(start time.Time) map[int]view.WeekData {
	weeks := make(map[int]view.WeekData, calendar.Weeks)
	for n := 1; n <= calendar.Weeks; n++ {
		win := calendar.WeekWindow(start, n)
		weeks[n] = view.WeekData{
			WeekNumber: n,
			StartDate:  win.Start,
			EndDate:    win.End,
			Quote:      calendar.Quote(n),
			Actions:    []view.Action{},
			Review:     []string{},
		}
	}
	return weeks
}

// ActionFromRow converts an actions row.
func ActionFromRow(a models.Action) view.Action {
	return view.Action{
		ID:          a.ID,
		GoalID:      a.GoalID,
		Title:       a.Title,
		IsCompleted: a.IsCompleted,
		CreatedAt:   a.CreatedAt,
	}
}

// GoalFromRow converts a goals row.
func GoalFromRow(g models.Goal) view.Goal {
	return view.Goal{
		ID:          g.ID,
		Title:       g.Title,
		Description: g.Description,
		CreatedAt:   g.CreatedAt,
	}
}

// ActionToRow denormalizes an action for write.
func ActionToRow(a view.Action, cycleID, userID string, weekNumber int) models.Action {
	return models.Action{
		ID:          a.ID,
		CycleID:     cycleID,
		UserID:      userID,
		GoalID:      a.GoalID,
		WeekNumber:  weekNumber,
		Title:       a.Title,
		IsCompleted: a.IsCompleted,
		CreatedAt:   a.CreatedAt,
	}
}

// GoalToRow denormalizes a goal for write.
func GoalToRow(g view.Goal, cycleID, userID string) models.Goal {
	return models.Goal{
		ID:          g.ID,
		CycleID:     cycleID,
		UserID:      userID,
		Title:       g.Title,
		Description: g.Description,
		CreatedAt:   g.CreatedAt,
	}
}

// CycleToRow builds the row inserted when a cycle starts.
func CycleToRow(userID string, start time.Time) models.Cycle {
	return models.Cycle{
		UserID:    userID,
		StartDate: FormatStartDate(start),
		IsActive:  true,
	}
}

// ReviewToRow encodes a week's review entries, keeping at most MaxReviews.
func ReviewToRow(cycleID, userID string, weekNumber int, entries []string) (models.WeeklyReview, error) {
	if len(entries) > MaxReviews {
		entries = entries[:MaxReviews]
	}
	if entries == nil {
		entries = []string{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return models.WeeklyReview{}, fmt.Errorf("mapper: encode review: %w", err)
	}
	return models.WeeklyReview{
		CycleID:    cycleID,
		UserID:     userID,
		WeekNumber: weekNumber,
		Content:    string(data),
	}, nil
}

// DecodeReview parses weekly_reviews.content. An empty column is an empty list.
func DecodeReview(content string) ([]string, error) {
	if strings.TrimSpace(content) == "" {
		return []string{}, nil
	}
	var entries []string
	if err := json.Unmarshal([]byte(content), &entries); err != nil {
		return nil, &MappingError{Table: "weekly_reviews", Field: "content", Err: err}
	}
	if entries == nil {
		entries = []string{}
	}
	return entries, nil
}

// ProfileToRow builds the profile upsert payload keyed by user id.
func ProfileToRow(userID, nickname string) models.Profile {
	return models.Profile{ID: userID, Nickname: nickname}
}

// HistoryFromRows converts archived cycles with preloaded goals.
func HistoryFromRows(cycles []models.Cycle) ([]view.HistoryCycle, error) {
	out := make([]view.HistoryCycle, 0, len(cycles))
	for _, c := range cycles {
		start, err := ParseStartDate(c.StartDate)
		if err != nil {
			return nil, err
		}
		h := view.HistoryCycle{ID: c.ID, StartDate: start, Goals: make([]view.Goal, 0, len(c.Goals))}
		for _, g := range c.Goals {
			h.Goals = append(h.Goals, GoalFromRow(g))
		}
		out = append(out, h)
	}
	return out, nil
}
