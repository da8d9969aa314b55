package model

import "time"

// ArticlePreference is an explicit like/dislike verdict. A changed vote on
// the same article updates the row, it never duplicates it.
type ArticlePreference struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      string    `gorm:"size:100;not null;uniqueIndex:idx_pref_user_article" json:"user_id"`
	ArticleID   uint      `gorm:"not null;uniqueIndex:idx_pref_user_article" json:"article_id"`
	Article     Article   `gorm:"foreignKey:ArticleID" json:"article,omitempty"`
	Liked       bool      `json:"liked"`
	Explanation string    `gorm:"type:text" json:"explanation"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
