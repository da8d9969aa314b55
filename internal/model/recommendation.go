package model

import "time"

type Recommendation struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    string    `gorm:"size:100;not null;uniqueIndex:idx_rec_user_article" json:"user_id"`
	ArticleID uint      `gorm:"not null;uniqueIndex:idx_rec_user_article" json:"article_id"`
	Article   Article   `gorm:"foreignKey:ArticleID" json:"article,omitempty"`
	Score     int       `json:"score"`
	Reason    string    `gorm:"type:text" json:"reason"`
	Viewed    bool      `gorm:"default:false" json:"viewed"`
	CreatedAt time.Time `json:"created_at"`
}
