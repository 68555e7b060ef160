package models

import (
	"time"

	"gorm.io/gorm"
)

// User is the minimal projection of a marketplace account the contract
// lifecycle needs: identity, wallet address for signing/deployment, role
// for the admin surface. Profile management lives in the profile service.
type User struct {
	ID            uint   `gorm:"primarykey" json:"id"`
	FullName      string `gorm:"not null" json:"full_name"`
	Email         string `gorm:"uniqueIndex;not null" json:"email"`
	WalletAddress string `gorm:"type:varchar(42);index" json:"wallet_address,omitempty"`
	Role          string `gorm:"default:'user'" json:"role"` // 'user' or 'admin'

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (User) TableName() string {
	return "users"
}

// BeforeCreate hook to set default role
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.Role == "" {
		u.Role = "user"
	}
	return nil
}

// IsAdmin checks if user has admin role
func (u *User) IsAdmin() bool {
	return u.Role == "admin"
}
