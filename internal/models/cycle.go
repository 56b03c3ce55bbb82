package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Cycle is one 12-week period. StartDate is the Monday the cycle starts on,
// stored as RFC 3339 text; it is validated when mapped into the view.
type Cycle struct {
	ID        string `gorm:"primaryKey;size:36"`
	UserID    string `gorm:"size:64;not null;index:idx_cycles_user_active"`
	StartDate string `gorm:"size:40;not null"`
	IsActive  bool   `gorm:"default:true;index:idx_cycles_user_active"`
	CreatedAt time.Time

	Goals []Goal `gorm:"foreignKey:CycleID"`
}

// BeforeCreate assigns a server-side id.
func (c *Cycle) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}
