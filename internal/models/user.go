package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is an account that can author and like posts.
type User struct {
	ID          string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Username    string    `gorm:"unique;not null" json:"username"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url"`
	Active      bool      `gorm:"not null" json:"active"`
	Moderator   bool      `gorm:"not null;default:false" json:"moderator"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (u *User) BeforeCreate(_ *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// Summary projects the public fields of u.
func (u *User) Summary(viewerID string) UserSummary {
	return UserSummary{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
		IsViewer:    viewerID != "" && viewerID == u.ID,
	}
}

// UserSummary is the public projection of a User shown in liker lists.
type UserSummary struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
	IsViewer    bool   `json:"is_viewer,omitempty"`
}
