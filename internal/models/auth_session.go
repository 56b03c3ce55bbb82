package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuthSession persists a signed-in OAuth session so a restarted process can
// pick it up again.
type AuthSession struct {
	ID           string `gorm:"primaryKey;size:36"`
	UserID       string `gorm:"size:64;not null;index"`
	Email        string `gorm:"size:256"`
	AccessToken  string `gorm:"type:text"`
	RefreshToken string `gorm:"type:text"`
	TokenType    string `gorm:"size:16"`
	ExpiresAt    *time.Time
	CreatedAt    time.Time
}

func (s *AuthSession) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}
