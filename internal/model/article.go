package model

import "time"

type Article struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	FeedID      uint      `gorm:"not null;index" json:"feed_id"`
	Feed        Feed      `gorm:"foreignKey:FeedID" json:"feed,omitempty"`
	Title       string    `gorm:"size:500" json:"title"`
	Link        string    `gorm:"size:500" json:"link"`
	Description string    `gorm:"type:text" json:"description"`
	Content     *string   `gorm:"type:text" json:"content,omitempty"`
	Author      string    `gorm:"size:255" json:"author"`
	Category    string    `gorm:"size:255" json:"category"`
	GUID        *string   `gorm:"size:500;uniqueIndex" json:"guid,omitempty"`
	PubDate     time.Time `json:"pub_date"`
	Read        bool      `gorm:"default:false" json:"read"`
	Favorite    bool      `gorm:"default:false" json:"favorite"`
	ImageURL    string    `gorm:"size:500" json:"image_url"`
	CreatedAt   time.Time `json:"created_at"`
}

// IdentityKey is the value used to detect duplicates across refreshes:
// the guid when the feed supplies one, the item link otherwise.
func (a *Article) IdentityKey() string {
	if a.GUID != nil && *a.GUID != "" {
		return *a.GUID
	}
	return a.Link
}

// BodyText returns the backfilled body, or "" when none is stored.
func (a *Article) BodyText() string {
	if a.Content == nil {
		return ""
	}
	return *a.Content
}
