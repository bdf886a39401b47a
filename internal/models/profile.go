package models

import (
	"time"

	"github.com/google/uuid"
)

// Profile — строка user_profiles.
type Profile struct {
	UserID         uuid.UUID  `json:"user_id"`
	Email          string     `json:"email"`
	FullName       string     `json:"full_name"`
	Organization   string     `json:"organization"`
	Role           string     `json:"role"`
	ProfilePicture string     `json:"profile_picture"`
	LastLogin      *time.Time `json:"last_login"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// ProfileUpdate — частичное обновление профиля: nil означает «не менять».
// user_id, email и created_at не обновляются никогда, поэтому полей для них нет.
type ProfileUpdate struct {
	FullName       *string `json:"full_name"`
	Organization   *string `json:"organization"`
	Role           *string `json:"role"`
	ProfilePicture *string `json:"profile_picture"`
}

// Empty сообщает, что обновление ничего не меняет.
func (u ProfileUpdate) Empty() bool {
	return u.FullName == nil && u.Organization == nil && u.Role == nil && u.ProfilePicture == nil
}
