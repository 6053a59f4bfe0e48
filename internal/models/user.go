package models

import (
	"time"

	"gorm.io/gorm"
)

type Role string

const (
	RolePractitioner Role = "PRACTITIONER"
	RoleClient       Role = "CLIENT"
)

// User is a cached projection of the identity service's user record.
// This service never creates or authenticates users; it only needs enough
// of them to render conversation participants.
type User struct {
	ID        string         `gorm:"primaryKey;type:text" json:"id"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Name     string `json:"name"`
	Email    string `gorm:"uniqueIndex" json:"email"`
	Image    string `json:"image"`
	Role     Role   `gorm:"type:text;default:'CLIENT'" json:"role"`
	Timezone string `json:"timezone"`
}

// DisplayName prefers the profile name and falls back to the email address.
func (u *User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}
