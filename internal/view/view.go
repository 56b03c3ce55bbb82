// Package view holds the week-indexed view model the tracker store publishes.
package view

import "time"

// Action is a single planned task within one week.
type Action struct {
	ID          string    `json:"id"`
	GoalID      string    `json:"goalId"`
	Title       string    `json:"title"`
	IsCompleted bool      `json:"isCompleted"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Goal is one of the three objectives of a cycle.
type Goal struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
}

// WeekData is one of the 12 weeks of a cycle. StartDate and EndDate are
// derived from the cycle start; EndDate is the start of the next week.
type WeekData struct {
	WeekNumber int       `json:"weekNumber"`
	StartDate  time.Time `json:"startDate"`
	EndDate    time.Time `json:"endDate"`
	Quote      string    `json:"quote"`
	Actions    []Action  `json:"actions"`
	Review     []string  `json:"review"`
	Feedback   string    `json:"feedback,omitempty"`
}

// Profile carries user-facing profile fields.
type Profile struct {
	Nickname string `json:"nickname"`
}

// TrackerState is the aggregate view of the active cycle.
type TrackerState struct {
	StartDate       *time.Time       `json:"startDate"`
	Goals           []Goal           `json:"goals"`
	Weeks           map[int]WeekData `json:"weeks"`
	IsSetupComplete bool             `json:"isSetupComplete"`
	Profile         *Profile         `json:"profile,omitempty"`
}

// HistoryCycle is a read-only summary of an archived cycle.
type HistoryCycle struct {
	ID        string    `json:"id"`
	StartDate time.Time `json:"startDate"`
	Goals     []Goal    `json:"goals"`
}

// Initial returns the unset state shown before onboarding.
func Initial() TrackerState {
	return TrackerState{
		Goals: []Goal{},
		Weeks: map[int]WeekData{},
	}
}

// Clone returns a deep copy so published snapshots never alias store state.
func (s TrackerState) Clone() TrackerState {
	out := TrackerState{IsSetupComplete: s.IsSetupComplete}
	if s.StartDate != nil {
		d := *s.StartDate
		out.StartDate = &d
	}
	if s.Profile != nil {
		p := *s.Profile
		out.Profile = &p
	}
	out.Goals = append([]Goal{}, s.Goals...)
	out.Weeks = make(map[int]WeekData, len(s.Weeks))
	for n, w := range s.Weeks {
		w.Actions = append([]Action{}, w.Actions...)
		w.Review = append([]string{}, w.Review...)
		out.Weeks[n] = w
	}
	return out
}

// AllActions returns every action of every week, in week order.
func (s TrackerState) AllActions() []Action {
	var all []Action
	for n := 1; n <= len(s.Weeks); n++ {
		all = append(all, s.Weeks[n].Actions...)
	}
	return all
}

// Goal returns the goal with the given id.
func (s TrackerState) Goal(id string) (Goal, bool) {
	for _, g := range s.Goals {
		if g.ID == id {
			return g, true
		}
	}
	return Goal{}, false
}

// FindAction returns the index of an action within a week, or -1.
func (w WeekData) FindAction(id string) int {
	for i, a := range w.Actions {
		if a.ID == id {
			return i
		}
	}
	return -1
}
