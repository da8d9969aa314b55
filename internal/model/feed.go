package model

import "time"

type Feed struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	URL           string     `gorm:"size:500;uniqueIndex;not null" json:"url"`
	Title         string     `gorm:"size:255" json:"title"`
	Description   string     `gorm:"size:1000" json:"description"`
	IconURL       string     `gorm:"size:500" json:"icon_url"`
	Category      string     `gorm:"size:100" json:"category"`
	AutoRefresh   bool       `gorm:"default:true" json:"auto_refresh"`
	LastFetchedAt *time.Time `json:"last_fetched_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`

	Articles []Article `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}
