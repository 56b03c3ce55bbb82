package models

import "time"

// WeeklyReview holds up to three review entries for one week, keyed by
// (cycle_id, week_number). Content is a JSON array of strings.
type WeeklyReview struct {
	CycleID    string `gorm:"primaryKey;size:36"`
	WeekNumber int    `gorm:"primaryKey"`
	UserID     string `gorm:"size:64;not null"`
	Content    string `gorm:"type:json"`
	UpdatedAt  time.Time
}
