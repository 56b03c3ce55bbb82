package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Action is a planned task assigned to one week of a cycle.
type Action struct {
	ID          string `gorm:"primaryKey;size:36"`
	CycleID     string `gorm:"size:36;not null;index:idx_actions_cycle_week"`
	UserID      string `gorm:"size:64;not null"`
	GoalID      string `gorm:"size:36;not null;index"`
	WeekNumber  int    `gorm:"not null;index:idx_actions_cycle_week"`
	Title       string `gorm:"not null"`
	IsCompleted bool   `gorm:"default:false"`
	CreatedAt   time.Time
}

func (a *Action) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
