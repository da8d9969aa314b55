package service

import (
	"time"

	"gorm.io/gorm"

	"newsbrief/internal/model"
)

type StatusService struct {
	db *gorm.DB
}

type SystemStatus struct {
	TotalArticles       int64 `json:"total_articles"`
	UnprocessedArticles int64 `json:"unprocessed_articles"`
	ProcessedArticles   int64 `json:"processed_articles"`
	FailedSummaries     int64 `json:"failed_summaries"`

	TotalFeeds       int64 `json:"total_feeds"`
	AutoRefreshFeeds int64 `json:"auto_refresh_feeds"`

	Recommendations int64 `json:"recommendations"`
	ActiveProfiles  int64 `json:"active_profiles"`

	NextFetchTime   time.Time `json:"next_fetch_time"`
	NextProcessTime time.Time `json:"next_process_time"`
}

func NewStatusService(db *gorm.DB) *StatusService {
	return &StatusService{db: db}
}

// GetSystemStatus collects pipeline counters.
func (s *StatusService) GetSystemStatus() (*SystemStatus, error) {
	status := &SystemStatus{}

	sub := s.db.Model(&model.ArticleSummary{}).Select("article_id")

	s.db.Model(&model.Article{}).Count(&status.TotalArticles)
	s.db.Model(&model.Article{}).Where("id NOT IN (?)", sub).Count(&status.UnprocessedArticles)
	s.db.Model(&model.ArticleSummary{}).Where("summary NOT LIKE ?", model.SummaryFailedSentinel).Count(&status.ProcessedArticles)
	s.db.Model(&model.ArticleSummary{}).Where("summary LIKE ?", model.SummaryFailedSentinel).Count(&status.FailedSummaries)

	s.db.Model(&model.Feed{}).Count(&status.TotalFeeds)
	s.db.Model(&model.Feed{}).Where("auto_refresh = ?", true).Count(&status.AutoRefreshFeeds)

	s.db.Model(&model.Recommendation{}).Count(&status.Recommendations)
	s.db.Model(&model.UserInterestProfile{}).Count(&status.ActiveProfiles)

	return status, nil
}
