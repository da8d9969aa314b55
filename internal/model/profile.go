package model

import "time"

// DefaultInterests seeds a profile created before the user has written one.
const DefaultInterests = "General technology, science and industry news."

type UserInterestProfile struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    string    `gorm:"size:100;uniqueIndex;not null" json:"user_id"`
	Interests string    `gorm:"type:text" json:"interests"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
