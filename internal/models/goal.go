package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Goal is one of the three objectives of a cycle.
type Goal struct {
	ID          string `gorm:"primaryKey;size:36"`
	CycleID     string `gorm:"size:36;not null;index"`
	UserID      string `gorm:"size:64;not null"`
	Title       string `gorm:"not null"`
	Description string `gorm:"type:text"`
	Position    int    `gorm:"not null;default:0"` // 0-based order within the cycle
	CreatedAt   time.Time
}

func (g *Goal) BeforeCreate(tx *gorm.DB) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	return nil
}
