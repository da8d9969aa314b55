package model

import "time"

// SummaryFailedSentinel marks a summary whose generation call failed.
// Rows carrying it count as processed but are eligible for forced
// regeneration.
const SummaryFailedSentinel = "[AI_SUMMARY_FAILED]"

type ArticleSummary struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	ArticleID   uint      `gorm:"uniqueIndex;not null" json:"article_id"`
	Article     Article   `gorm:"foreignKey:ArticleID" json:"article,omitempty"`
	Summary     string    `gorm:"type:text" json:"summary"`
	Keywords    []string  `gorm:"serializer:json" json:"keywords"`
	ProcessedAt time.Time `json:"processed_at"`
}

func (s *ArticleSummary) Failed() bool {
	return s.Summary == SummaryFailedSentinel
}
