package models

import "time"

// Profile is keyed by the auth user id.
type Profile struct {
	ID        string `gorm:"primaryKey;size:64"`
	Nickname  string `gorm:"size:64"`
	CreatedAt time.Time
}
