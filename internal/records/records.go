// Package records implements the tracker's record store on gorm.
package records

import (
	"context"
	"errors"
	"fmt"

	"github.com/zulandar/great12/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when a write targets a row that does not exist.
var ErrNotFound = errors.New("records: not found")

// GormStore reads and writes cycles, goals, actions, weekly reviews and
// profiles through a gorm connection.
type GormStore struct {
	db *gorm.DB
}

// New wraps an open, migrated gorm connection.
func New(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, fmt.Errorf("records: db is required")
	}
	return &GormStore{db: db}, nil
}

// goalOrder sorts goals by entry order; goals of one cycle share created_at.
const goalOrder = "position ASC, created_at ASC, id ASC"

// CreateCycle inserts a cycle and its goals in one transaction. IDs assigned
// by the database hooks are written back into cycle and goals, and each goal's
// Position is set to its index in goals.
func (s *GormStore) CreateCycle(ctx context.Context, cycle *models.Cycle, goals []models.Goal) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(cycle).Error; err != nil {
			return fmt.Errorf("records: insert cycle: %w", err)
		}
		for i := range goals {
			goals[i].CycleID = cycle.ID
			goals[i].Position = i
			if goals[i].UserID == "" {
				goals[i].UserID = cycle.UserID
			}
		}
		if len(goals) > 0 {
			if err := tx.Create(&goals).Error; err != nil {
				return fmt.Errorf("records: insert goals: %w", err)
			}
		}
		return nil
	})
}

// ActiveCycle returns the newest active cycle for userID, or nil if the user
// has none.
func (s *GormStore) ActiveCycle(ctx context.Context, userID string) (*models.Cycle, error) {
	var cycles []models.Cycle
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("created_at DESC").
		Limit(1).
		Find(&cycles).Error
	if err != nil {
		return nil, fmt.Errorf("records: active cycle for %s: %w", userID, err)
	}
	if len(cycles) == 0 {
		return nil, nil
	}
	return &cycles[0], nil
}

// Goals lists a cycle's goals in the order they were entered.
func (s *GormStore) Goals(ctx context.Context, cycleID string) ([]models.Goal, error) {
	var goals []models.Goal
	if err := s.db.WithContext(ctx).Where("cycle_id = ?", cycleID).Order(goalOrder).Find(&goals).Error; err != nil {
		return nil, fmt.Errorf("records: list goals: %w", err)
	}
	return goals, nil
}

// Actions lists a cycle's actions across all weeks in creation order.
func (s *GormStore) Actions(ctx context.Context, cycleID string) ([]models.Action, error) {
	var actions []models.Action
	if err := s.db.WithContext(ctx).Where("cycle_id = ?", cycleID).Order("week_number ASC, created_at ASC, id ASC").Find(&actions).Error; err != nil {
		return nil, fmt.Errorf("records: list actions: %w", err)
	}
	return actions, nil
}

// Reviews lists a cycle's weekly reviews.
func (s *GormStore) Reviews(ctx context.Context, cycleID string) ([]models.WeeklyReview, error) {
	var reviews []models.WeeklyReview
	if err := s.db.WithContext(ctx).Where("cycle_id = ?", cycleID).Order("week_number ASC").Find(&reviews).Error; err != nil {
		return nil, fmt.Errorf("records: list reviews: %w", err)
	}
	return reviews, nil
}

// Profile returns the profile for userID, or nil if none was saved.
func (s *GormStore) Profile(ctx context.Context, userID string) (*models.Profile, error) {
	var p models.Profile
	err := s.db.WithContext(ctx).Where("id = ?", userID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("records: get profile %s: %w", userID, err)
	}
	return &p, nil
}

// InsertAction creates an action row; its ID is filled in on return.
func (s *GormStore) InsertAction(ctx context.Context, action *models.Action) error {
	if err := s.db.WithContext(ctx).Create(action).Error; err != nil {
		return fmt.Errorf("records: insert action: %w", err)
	}
	return nil
}

// UpdateAction applies column updates to one action.
func (s *GormStore) UpdateAction(ctx context.Context, id string, updates map[string]interface{}) error {
	return s.update(ctx, &models.Action{}, "action", id, updates)
}

// DeleteAction removes one action.
func (s *GormStore) DeleteAction(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Action{})
	if res.Error != nil {
		return fmt.Errorf("records: delete action %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("records: delete action %s: %w", id, ErrNotFound)
	}
	return nil
}

// UpdateGoal applies column updates to one goal.
func (s *GormStore) UpdateGoal(ctx context.Context, id string, updates map[string]interface{}) error {
	return s.update(ctx, &models.Goal{}, "goal", id, updates)
}

// DeleteGoal removes a goal and every action that references it.
func (s *GormStore) DeleteGoal(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("goal_id = ?", id).Delete(&models.Action{}).Error; err != nil {
			return fmt.Errorf("records: delete actions of goal %s: %w", id, err)
		}
		res := tx.Where("id = ?", id).Delete(&models.Goal{})
		if res.Error != nil {
			return fmt.Errorf("records: delete goal %s: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("records: delete goal %s: %w", id, ErrNotFound)
		}
		return nil
	})
}

// UpsertReview writes a week's review, replacing any existing row for the
// same (cycle_id, week_number).
func (s *GormStore) UpsertReview(ctx context.Context, review models.WeeklyReview) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "cycle_id"}, {Name: "week_number"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "content", "updated_at"}),
	}).Create(&review).Error
	if err != nil {
		return fmt.Errorf("records: upsert review week %d: %w", review.WeekNumber, err)
	}
	return nil
}

// UpsertProfile writes a profile keyed by user id.
func (s *GormStore) UpsertProfile(ctx context.Context, profile models.Profile) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"nickname"}),
	}).Create(&profile).Error
	if err != nil {
		return fmt.Errorf("records: upsert profile %s: %w", profile.ID, err)
	}
	return nil
}

// SetCycleActive flips a cycle's is_active flag.
func (s *GormStore) SetCycleActive(ctx context.Context, cycleID string, active bool) error {
	return s.update(ctx, &models.Cycle{}, "cycle", cycleID, map[string]interface{}{"is_active": active})
}

// ArchivedCycles lists a user's inactive cycles, newest first, with goals.
func (s *GormStore) ArchivedCycles(ctx context.Context, userID string) ([]models.Cycle, error) {
	var cycles []models.Cycle
	err := s.db.WithContext(ctx).
		Preload("Goals", func(db *gorm.DB) *gorm.DB { return db.Order(goalOrder) }).
		Where("user_id = ? AND is_active = ?", userID, false).
		Order("created_at DESC").
		Find(&cycles).Error
	if err != nil {
		return nil, fmt.Errorf("records: archived cycles for %s: %w", userID, err)
	}
	return cycles, nil
}

func (s *GormStore) update(ctx context.Context, model interface{}, kind, id string, updates map[string]interface{}) error {
	res := s.db.WithContext(ctx).Model(model).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("records: update %s %s: %w", kind, id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("records: update %s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}
