package tracker

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/zulandar/great12/internal/calendar"
	"github.com/zulandar/great12/internal/mapper"
	"github.com/zulandar/great12/internal/models"
	"github.com/zulandar/great12/internal/view"
)

// GoalInput is one goal entered during onboarding.
type GoalInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// writeScope is captured under the lock when an operation is issued.
type writeScope struct {
	userID  string
	cycleID string
	epoch   uint64
}

// activeLocked checks that a session and an active cycle exist.
func (s *Store) activeLocked() (writeScope, error) {
	if s.closed {
		return writeScope{}, ErrClosed
	}
	if s.session == nil {
		return writeScope{}, ErrNoSession
	}
	if s.cycleID == "" {
		return writeScope{}, ErrNoActiveCycle
	}
	return writeScope{userID: s.session.UserID, cycleID: s.cycleID, epoch: s.epoch}, nil
}

// weekLocked returns week n of the active cycle.
func (s *Store) weekLocked(n int) (writeScope, view.WeekData, error) {
	if n < 1 || n > calendar.Weeks {
		return writeScope{}, view.WeekData{}, ErrWeekOutOfRange
	}
	scope, err := s.activeLocked()
	if err != nil {
		return writeScope{}, view.WeekData{}, err
	}
	return scope, s.state.Weeks[n], nil
}

// rollbackLocked runs undo when the rollback policy is in effect and scope
// still names the current cycle. It reports whether undo ran.
func (s *Store) rollbackLocked(scope writeScope, undo func()) bool {
	if s.policy.Mode != PolicyRollback || s.epoch != scope.epoch {
		return false
	}
	undo()
	return true
}

// failed is the onFail handler shape shared by optimistic operations.
func (s *Store) failed(scope writeScope, undo func()) func(error) {
	return func(error) {
		s.mu.Lock()
		ran := s.rollbackLocked(scope, undo)
		s.mu.Unlock()
		if ran {
			s.publish()
		}
	}
}

// StartNewCycle creates a cycle with three goals starting on the Monday of
// start's week. The calendar date start shows in its own location is used,
// anchored at midnight UTC. Unlike other operations it waits for the remote insert and
// commits nothing locally if that fails.
func (s *Store) StartNewCycle(ctx context.Context, goals []GoalInput, start time.Time) error {
	if len(goals) != 3 {
		return ErrGoalCount
	}
	for _, g := range goals {
		if strings.TrimSpace(g.Title) == "" {
			return ErrEmptyTitle
		}
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.session == nil {
		s.mu.Unlock()
		return ErrNoSession
	}
	userID, epoch := s.session.UserID, s.epoch
	s.mu.Unlock()

	start = calendar.NormalizeCycleStart(calendar.DateUTC(start))
	cycle := mapper.CycleToRow(userID, start)
	rows := make([]models.Goal, len(goals))
	for i, g := range goals {
		rows[i] = models.Goal{UserID: userID, Title: strings.TrimSpace(g.Title), Description: strings.TrimSpace(g.Description)}
	}

	began := time.Now()
	err := s.records.CreateCycle(ctx, &cycle, rows)
	if s.metrics != nil {
		s.metrics.ObserveWrite("start cycle", err, time.Since(began))
	}
	if err != nil {
		werr := &WriteError{Op: "start cycle", Table: "cycles", Err: err}
		s.log.Printf("%v", werr)
		return werr
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		s.log.Printf("tracker: cycle %s created after session changed; not applied", cycle.ID)
		return ErrNoSession
	}
	state := view.TrackerState{
		StartDate:       &start,
		Goals:           make([]view.Goal, 0, len(rows)),
		Weeks:           mapper.BuildWeeks(start),
		IsSetupComplete: true,
		Profile:         s.state.Profile,
	}
	for _, g := range rows {
		state.Goals = append(state.Goals, mapper.GoalFromRow(g))
	}
	s.state = state
	s.cycleID = cycle.ID
	s.offline = false
	s.epoch++
	s.mu.Unlock()
	s.publish()
	return nil
}

// FinishCurrentCycle archives the active cycle and returns the store to
// onboarding. The local reset happens immediately.
func (s *Store) FinishCurrentCycle() error {
	s.mu.Lock()
	scope, err := s.activeLocked()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	prev := s.state.Clone()
	s.state = view.Initial()
	s.state.Profile = prev.Profile
	s.cycleID = ""
	s.epoch++
	after := s.epoch
	s.mu.Unlock()
	s.publish()

	return s.enqueue(command{
		op:    "finish cycle",
		table: "cycles",
		run: func() error {
			return s.records.SetCycleActive(context.Background(), scope.cycleID, false)
		},
		onFail: func(error) {
			s.mu.Lock()
			restore := s.policy.Mode == PolicyRollback && s.epoch == after
			if restore {
				s.state = prev
				s.cycleID = scope.cycleID
				s.epoch++
			}
			s.mu.Unlock()
			if restore {
				s.publish()
			}
		},
	})
}

// AddAction creates an action in week. It appears locally once the record
// store has assigned its id.
func (s *Store) AddAction(week int, goalID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return ErrEmptyTitle
	}
	s.mu.Lock()
	scope, _, err := s.weekLocked(week)
	if err == nil {
		if _, ok := s.state.Goal(goalID); !ok {
			err = ErrGoalNotFound
		}
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}

	row := &models.Action{
		CycleID:    scope.cycleID,
		UserID:     scope.userID,
		GoalID:     goalID,
		WeekNumber: week,
		Title:      title,
	}
	return s.enqueue(command{
		op:    "add action",
		table: "actions",
		run: func() error {
			return s.records.InsertAction(context.Background(), row)
		},
		onOK: func() {
			s.mu.Lock()
			if s.epoch != scope.epoch {
				s.mu.Unlock()
				s.log.Printf("tracker: dropping action %s; cycle changed", row.ID)
				return
			}
			w := s.state.Weeks[week]
			w.Actions = append(w.Actions, mapper.ActionFromRow(*row))
			s.state.Weeks[week] = w
			s.mu.Unlock()
			s.publish()
		},
	})
}

// UpdateAction renames an action.
func (s *Store) UpdateAction(week int, id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return ErrEmptyTitle
	}
	s.mu.Lock()
	scope, w, err := s.weekLocked(week)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	i := w.FindAction(id)
	if i < 0 {
		s.mu.Unlock()
		return ErrActionNotFound
	}
	old := w.Actions[i].Title
	w.Actions = slices.Clone(w.Actions)
	w.Actions[i].Title = title
	s.state.Weeks[week] = w
	onOK, onFail := trackField(s, scope, "action/"+id+"/title", old, title, func(confirmed string) {
		s.setActionLocked(week, id, func(a *view.Action) { a.Title = confirmed })
	})
	s.mu.Unlock()
	s.publish()

	return s.enqueue(command{
		op:    "update action",
		table: "actions",
		run: func() error {
			return s.records.UpdateAction(context.Background(), id, map[string]interface{}{"title": title})
		},
		onOK:   onOK,
		onFail: onFail,
	})
}

// ToggleAction flips an action's completion. The remote write carries the
// value computed at call time, so rapid toggles are written in order.
func (s *Store) ToggleAction(week int, id string) error {
	s.mu.Lock()
	scope, w, err := s.weekLocked(week)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	i := w.FindAction(id)
	if i < 0 {
		s.mu.Unlock()
		return ErrActionNotFound
	}
	prev := w.Actions[i].IsCompleted
	next := !prev
	w.Actions = slices.Clone(w.Actions)
	w.Actions[i].IsCompleted = next
	s.state.Weeks[week] = w
	onOK, onFail := trackField(s, scope, "action/"+id+"/is_completed", prev, next, func(confirmed bool) {
		s.setActionLocked(week, id, func(a *view.Action) { a.IsCompleted = confirmed })
	})
	s.mu.Unlock()
	s.publish()

	return s.enqueue(command{
		op:    "toggle action",
		table: "actions",
		run: func() error {
			return s.records.UpdateAction(context.Background(), id, map[string]interface{}{"is_completed": next})
		},
		onOK:   onOK,
		onFail: onFail,
	})
}

// DeleteAction removes an action.
func (s *Store) DeleteAction(week int, id string) error {
	s.mu.Lock()
	scope, w, err := s.weekLocked(week)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	i := w.FindAction(id)
	if i < 0 {
		s.mu.Unlock()
		return ErrActionNotFound
	}
	removed := w.Actions[i]
	w.Actions = slices.Delete(slices.Clone(w.Actions), i, i+1)
	s.state.Weeks[week] = w
	s.mu.Unlock()
	s.publish()

	return s.enqueue(command{
		op:    "delete action",
		table: "actions",
		run: func() error {
			return s.records.DeleteAction(context.Background(), id)
		},
		onFail: s.failed(scope, func() {
			s.reinsertLocked(week, i, removed)
		}),
	})
}

// UpdateGoal rewrites a goal's title and description.
func (s *Store) UpdateGoal(id, title, description string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return ErrEmptyTitle
	}
	s.mu.Lock()
	scope, err := s.activeLocked()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	i := slices.IndexFunc(s.state.Goals, func(g view.Goal) bool { return g.ID == id })
	if i < 0 {
		s.mu.Unlock()
		return ErrGoalNotFound
	}
	old := s.state.Goals[i]
	s.state.Goals = slices.Clone(s.state.Goals)
	s.state.Goals[i].Title = title
	s.state.Goals[i].Description = description
	onOK, onFail := trackField(s, scope, "goal/"+id, old, s.state.Goals[i], func(confirmed view.Goal) {
		if j := slices.IndexFunc(s.state.Goals, func(g view.Goal) bool { return g.ID == id }); j >= 0 {
			s.state.Goals = slices.Clone(s.state.Goals)
			s.state.Goals[j] = confirmed
		}
	})
	s.mu.Unlock()
	s.publish()

	return s.enqueue(command{
		op:    "update goal",
		table: "goals",
		run: func() error {
			return s.records.UpdateGoal(context.Background(), id, map[string]interface{}{
				"title":       title,
				"description": description,
			})
		},
		onOK:   onOK,
		onFail: onFail,
	})
}

// DeleteGoal removes a goal and every action that references it, across all
// twelve weeks.
func (s *Store) DeleteGoal(id string) error {
	s.mu.Lock()
	scope, err := s.activeLocked()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	gi := slices.IndexFunc(s.state.Goals, func(g view.Goal) bool { return g.ID == id })
	if gi < 0 {
		s.mu.Unlock()
		return ErrGoalNotFound
	}
	goal := s.state.Goals[gi]
	s.state.Goals = slices.Delete(slices.Clone(s.state.Goals), gi, gi+1)

	type removedAction struct {
		index  int
		action view.Action
	}
	removed := make(map[int][]removedAction)
	for n, w := range s.state.Weeks {
		kept := make([]view.Action, 0, len(w.Actions))
		for i, a := range w.Actions {
			if a.GoalID == id {
				removed[n] = append(removed[n], removedAction{index: i, action: a})
				continue
			}
			kept = append(kept, a)
		}
		if len(kept) != len(w.Actions) {
			w.Actions = kept
			s.state.Weeks[n] = w
		}
	}
	s.mu.Unlock()
	s.publish()

	return s.enqueue(command{
		op:    "delete goal",
		table: "goals",
		run: func() error {
			return s.records.DeleteGoal(context.Background(), id)
		},
		onFail: s.failed(scope, func() {
			if _, ok := s.state.Goal(id); ok {
				return
			}
			at := min(gi, len(s.state.Goals))
			s.state.Goals = slices.Insert(slices.Clone(s.state.Goals), at, goal)
			for n, acts := range removed {
				for _, r := range acts {
					s.reinsertLocked(n, r.index, r.action)
				}
			}
		}),
	})
}

// SaveReview replaces week's review entries, keeping at most three.
func (s *Store) SaveReview(week int, reviews []string) error {
	if len(reviews) > mapper.MaxReviews {
		reviews = reviews[:mapper.MaxReviews]
	}
	reviews = slices.Clone(reviews)
	if reviews == nil {
		reviews = []string{}
	}
	s.mu.Lock()
	scope, w, err := s.weekLocked(week)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	row, err := mapper.ReviewToRow(scope.cycleID, scope.userID, week, reviews)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	old := w.Review
	w.Review = reviews
	s.state.Weeks[week] = w
	onOK, onFail := trackField(s, scope, fmt.Sprintf("review/%d", week), old, reviews, func(confirmed []string) {
		cur := s.state.Weeks[week]
		cur.Review = confirmed
		s.state.Weeks[week] = cur
	})
	s.mu.Unlock()
	s.publish()

	return s.enqueue(command{
		op:    "save review",
		table: "weekly_reviews",
		run: func() error {
			return s.records.UpsertReview(context.Background(), row)
		},
		onOK:   onOK,
		onFail: onFail,
	})
}

// UpdateProfile sets the user's nickname.
func (s *Store) UpdateProfile(nickname string) error {
	nickname = strings.TrimSpace(nickname)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.session == nil {
		s.mu.Unlock()
		return ErrNoSession
	}
	scope := writeScope{userID: s.session.UserID, cycleID: s.cycleID, epoch: s.epoch}
	old := s.state.Profile
	s.state.Profile = &view.Profile{Nickname: nickname}
	onOK, onFail := trackField(s, scope, "profile", old, s.state.Profile, func(confirmed *view.Profile) {
		s.state.Profile = confirmed
	})
	s.mu.Unlock()
	s.publish()

	return s.enqueue(command{
		op:    "update profile",
		table: "profiles",
		run: func() error {
			return s.records.UpsertProfile(context.Background(), mapper.ProfileToRow(scope.userID, nickname))
		},
		onOK:   onOK,
		onFail: onFail,
	})
}

// setActionLocked applies fn to action id in week, if it still exists.
func (s *Store) setActionLocked(week int, id string, fn func(*view.Action)) {
	w := s.state.Weeks[week]
	i := w.FindAction(id)
	if i < 0 {
		return
	}
	w.Actions = slices.Clone(w.Actions)
	fn(&w.Actions[i])
	s.state.Weeks[week] = w
}

// reinsertLocked puts a removed action back near its old position.
func (s *Store) reinsertLocked(week, index int, a view.Action) {
	w, ok := s.state.Weeks[week]
	if !ok || w.FindAction(a.ID) >= 0 {
		return
	}
	at := min(index, len(w.Actions))
	w.Actions = slices.Insert(slices.Clone(w.Actions), at, a)
	s.state.Weeks[week] = w
}
